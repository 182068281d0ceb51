package instrument

import (
	"context"
	"time"

	"icc.tech/daq-core/internal/log"
	"icc.tech/daq-core/internal/measurement"
	"icc.tech/daq-core/internal/metrics"
)

// Task runs one Instrument as a cooperative single-goroutine actor:
// suspension points are explicit selects on the command channel, the
// instrument's own measurement stream, and an idle-tick ticker used only
// for liveness logging. Commands are processed strictly between frames.
type Task struct {
	ID         string
	Instrument Instrument

	cmdCh chan measurement.InstrumentCommand
	done  chan struct{}
}

// NewTask wraps inst as a supervised task. cmdCapacity sizes the command
// channel (application.command_channel_capacity).
func NewTask(id string, inst Instrument, cmdCapacity int) *Task {
	if cmdCapacity <= 0 {
		cmdCapacity = 32
	}
	return &Task{
		ID:         id,
		Instrument: inst,
		cmdCh:      make(chan measurement.InstrumentCommand, cmdCapacity),
		done:       make(chan struct{}),
	}
}

// CommandSender returns the channel the Manager sends commands on.
func (t *Task) CommandSender() chan<- measurement.InstrumentCommand { return t.cmdCh }

// Done returns a channel closed when the task's goroutine has exited,
// whether cleanly or on error.
func (t *Task) Done() <-chan struct{} { return t.done }

// Run is the task's main loop. It initializes the instrument, then
// services commands and republishes measurements onto out until ctx is
// cancelled or a Shutdown command is handled. Call this in its own
// goroutine; Done() closes on return.
func (t *Task) Run(ctx context.Context, out chan<- *measurement.Measurement) {
	defer close(t.done)

	logger := log.GetLogger().WithField("instrument", t.ID)

	if err := t.Instrument.Initialize(ctx); err != nil {
		logger.WithError(err).Error("instrument initialize failed")
		t.setStateMetric()
		return
	}
	t.setStateMetric()
	logger.Info("instrument ready")

	in := t.Instrument.MeasurementStream()
	idle := time.NewTicker(time.Second)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			t.shutdown(context.Background(), logger)
			return

		case cmd, ok := <-t.cmdCh:
			if !ok {
				t.shutdown(context.Background(), logger)
				return
			}
			t.dispatch(ctx, cmd, logger)
			if cmd.Kind == measurement.CmdShutdown {
				return
			}

		case m, ok := <-in:
			if !ok {
				logger.Warn("instrument measurement stream closed")
				return
			}
			select {
			case out <- m:
			case <-ctx.Done():
				t.shutdown(context.Background(), logger)
				return
			}

		case <-idle.C:
			logger.Debugf("instrument idle tick, state=%s", t.Instrument.State())
		}
	}
}

func (t *Task) dispatch(ctx context.Context, cmd measurement.InstrumentCommand, logger log.Logger) {
	err := t.Instrument.HandleCommand(ctx, cmd)
	t.setStateMetric()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		logger.WithError(err).Warnf("command %s failed", cmd.Kind)
	}
	metrics.InstrumentCommandsTotal.WithLabelValues(t.ID, cmd.Kind.String(), outcome).Inc()

	// Instruments that produce a value (GetParameter) send their own
	// reply from within HandleCommand; for everything else, send the
	// error-only outcome here if the instrument hasn't already replied.
	if cmd.Reply != nil {
		select {
		case cmd.Reply <- measurement.CommandResult{Err: err}:
		default:
		}
	}
}

func (t *Task) shutdown(ctx context.Context, logger log.Logger) {
	if err := t.Instrument.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("instrument shutdown failed")
	}
	t.setStateMetric()
	logger.Info("instrument shut down")
}

func (t *Task) setStateMetric() {
	s := t.Instrument.State()
	for _, candidate := range []measurement.InstrumentStateKind{
		measurement.Disconnected, measurement.Connecting, measurement.Ready,
		measurement.Acquiring, measurement.ShuttingDown, measurement.StateError,
	} {
		v := 0.0
		if candidate == s.Kind {
			v = 1.0
		}
		metrics.InstrumentState.WithLabelValues(t.ID, candidate.String()).Set(v)
	}
}

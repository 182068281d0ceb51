// Package daemon implements the daq-core daemon lifecycle.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"icc.tech/daq-core/internal/command"
	"icc.tech/daq-core/internal/config"
	"icc.tech/daq-core/internal/distributor"
	"icc.tech/daq-core/internal/instrument"
	logpkg "icc.tech/daq-core/internal/log"
	"icc.tech/daq-core/internal/manager"
	"icc.tech/daq-core/internal/metrics"
	"icc.tech/daq-core/internal/storage"
	"icc.tech/daq-core/internal/tee"
)

// Daemon manages the daq-core daemon process lifecycle.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string
	grpcAddr   string

	registry      *instrument.Registry
	dist          *distributor.Distributor
	mgr           *manager.Manager
	dispatcher    *command.Dispatcher
	udsServer     *command.UDSServer
	metricsServer *metrics.Server
	grpcServer    *grpc.Server
	healthServer  *health.Server

	ringMu  sync.Mutex
	rings   map[string]*storage.RingBuffer

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	mgrStopped   chan struct{}
}

// New loads configPath and assembles every daemon component, but starts
// nothing yet — call Start to bring the process up.
func New(configPath, socketPath, pidFile, grpcAddr string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: load config: %w", err)
	}

	registry := instrument.NewRegistry()
	if err := registerBuiltinDrivers(registry); err != nil {
		return nil, fmt.Errorf("daemon: register drivers: %w", err)
	}

	dist := distributor.New(distributor.Config{
		SubscriberCapacity:     cfg.Application.DataDistributor.SubscriberCapacity,
		WarnDropRatePercent:    cfg.Application.DataDistributor.WarnDropRatePercent,
		ErrorSaturationPercent: cfg.Application.DataDistributor.ErrorSaturationPercent,
		MetricsWindowSecs:      cfg.Application.DataDistributor.MetricsWindowSecs,
	})

	versionsDir := ""
	if cfg.Storage.DefaultPath != "" {
		versionsDir = filepath.Join(cfg.Storage.DefaultPath, "versions")
	}
	mgr := manager.New(manager.Config{
		StopTimeout:         cfg.Application.Timeouts.InstrumentStop,
		CommandChanCapacity: cfg.Application.CommandChannelCapacity,
		StorageFormat:       cfg.Storage.DefaultFormat,
		VersionsDir:         versionsDir,
	}, registry, dist)

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		grpcAddr:     grpcAddr,
		registry:     registry,
		dist:         dist,
		mgr:          mgr,
		rings:        make(map[string]*storage.RingBuffer),
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.dispatcher = buildDispatcher(d)

	return d, nil
}

// Start initializes logging, spawns the configured instruments, and
// brings up every network-facing component (metrics, UDS, gRPC health).
func (d *Daemon) Start() error {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("daemon: init logging: %w", err)
	}
	logger := logpkg.GetLogger().WithField("component", "daemon")
	logger.WithFields(map[string]interface{}{
		"config": d.configPath,
		"socket": d.socketPath,
	}).Info("starting daq-core daemon")

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("daemon: write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("daemon: start metrics server: %w", err)
	}

	d.mgrStopped = make(chan struct{})
	go func() {
		defer close(d.mgrStopped)
		d.mgr.Run(d.ctx)
	}()

	if err := d.spawnConfiguredInstruments(); err != nil {
		logger.WithError(err).Warn("one or more configured instruments failed to spawn")
	}

	if d.grpcAddr != "" {
		if err := d.startGRPCHealth(); err != nil {
			return fmt.Errorf("daemon: start grpc health server: %w", err)
		}
	}

	d.udsServer = command.NewUDSServer(d.socketPath, d.dispatcher)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil {
			logger.WithError(err).Error("uds server stopped with error")
		}
	}()

	logger.Info("daemon started successfully")
	return nil
}

// Run blocks handling OS signals until shutdown is triggered by SIGTERM,
// SIGINT, or a daemon_shutdown command, reloading config on SIGHUP.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	logger := logpkg.GetLogger().WithField("component", "daemon")
	logger.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				logger.Info("received reload signal")
				if err := d.Reload(); err != nil {
					logger.WithError(err).Error("failed to reload config")
				}
			}
		case <-d.shutdownChan:
			logger.Info("shutdown triggered by command")
			d.Stop()
			return nil
		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Stop performs graceful shutdown, accumulating every component's error
// via multierr rather than stopping at the first failure.
func (d *Daemon) Stop() error {
	logger := logpkg.GetLogger().WithField("component", "daemon")
	logger.Info("initiating graceful shutdown")

	var errs error

	if d.grpcServer != nil {
		d.grpcServer.GracefulStop()
	}

	if d.udsServer != nil {
		errs = multierr.Append(errs, d.udsServer.Stop())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.config.Application.Timeouts.InstrumentStop+2*time.Second)
	errs = multierr.Append(errs, d.mgr.Shutdown(shutdownCtx))
	cancel()
	d.cancel()
	select {
	case <-d.mgrStopped:
	case <-time.After(5 * time.Second):
		logger.Warn("manager actor loop did not exit within grace period")
	}

	d.ringMu.Lock()
	for id, ring := range d.rings {
		if err := ring.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("ring buffer %s: %w", id, err))
		}
	}
	d.ringMu.Unlock()

	if d.metricsServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = multierr.Append(errs, d.metricsServer.Stop(stopCtx))
		cancel()
	}

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		logger.WithError(errs).Warn("daemon stopped with accumulated errors")
	} else {
		logger.Info("daemon stopped gracefully")
	}
	return errs
}

// TriggerShutdown requests graceful shutdown from a command handler
// running outside the daemon's own goroutine.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Reload re-reads the configuration file and hot-reloads what it can
// (log level/format); everything else requires a restart, which is
// logged rather than applied.
func (d *Daemon) Reload() error {
	logger := logpkg.GetLogger().WithField("component", "daemon")
	newCfg, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("daemon: reload config: %w", err)
	}

	oldLevel, oldPattern := d.config.Log.Level, d.config.Log.Pattern
	oldMetricsAddr := d.config.Metrics.Addr
	d.config = newCfg
	if err := d.initLogging(); err != nil {
		logger.WithError(err).Error("failed to reinitialize logging")
	} else if newCfg.Log.Level != oldLevel || newCfg.Log.Pattern != oldPattern {
		logger.Info("log configuration hot-reloaded")
	}

	var requiresRestart []string
	if newCfg.Metrics.Addr != oldMetricsAddr {
		requiresRestart = append(requiresRestart, "metrics.addr")
	}
	if len(requiresRestart) > 0 {
		logger.WithField("fields", requiresRestart).Warn("configuration changes require a restart to take effect")
	}
	return nil
}

func (d *Daemon) initLogging() error {
	return logpkg.Init(&d.config.Log)
}

func (d *Daemon) startMetrics() error {
	if d.config.Metrics.Addr == "" {
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Addr, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

// startGRPCHealth serves the standard gRPC health-checking protocol so a
// Reconnect Manager on the client side has something to poll; daq-core
// does not expose any other RPC surface over this listener.
func (d *Daemon) startGRPCHealth() error {
	lis, err := net.Listen("tcp", d.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.grpcAddr, err)
	}
	d.grpcServer = grpc.NewServer()
	d.healthServer = health.NewServer()
	d.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(d.grpcServer, d.healthServer)

	logger := logpkg.GetLogger().WithField("component", "daemon")
	go func() {
		if err := d.grpcServer.Serve(lis); err != nil {
			logger.WithError(err).Warn("grpc health server stopped")
		}
	}()
	logger.WithField("addr", d.grpcAddr).Info("grpc health server listening")
	return nil
}

// spawnConfiguredInstruments instantiates every instrument named in the
// configuration document, each wired through its own ring buffer and Tee
// into the shared Distributor.
func (d *Daemon) spawnConfiguredInstruments() error {
	var errs error
	for id, inst := range d.config.Instruments {
		ring, err := storage.NewRingBuffer(id, 0)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("instrument %s: ring buffer: %w", id, err))
			continue
		}
		pipeline := tee.New(id, tee.DefaultConfig(), ring, d.dist)

		if err := d.mgr.SpawnInstrument(d.ctx, id, inst.Type, inst.Settings, pipeline); err != nil {
			ring.Close()
			errs = multierr.Append(errs, fmt.Errorf("instrument %s: %w", id, err))
			continue
		}
		d.ringMu.Lock()
		d.rings[id] = ring
		d.ringMu.Unlock()
	}
	return errs
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}

func registerBuiltinDrivers(reg *instrument.Registry) error {
	if err := reg.Register("sim_camera", instrument.NewSimCamera); err != nil {
		return err
	}
	if err := reg.Register("sim_stage", instrument.NewSimStage); err != nil {
		return err
	}
	return nil
}

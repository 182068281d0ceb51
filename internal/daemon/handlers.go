package daemon

import (
	"context"
	"encoding/json"

	"icc.tech/daq-core/internal/command"
	"icc.tech/daq-core/internal/measurement"
	"icc.tech/daq-core/internal/storage"
	"icc.tech/daq-core/internal/tee"
)

// buildDispatcher binds one JSON-RPC method per Manager public API call.
// Every handler decodes its own params shape and forwards straight to
// the Manager — the dispatcher itself carries no daemon-domain logic.
func buildDispatcher(d *Daemon) *command.Dispatcher {
	disp := command.NewDispatcher()

	disp.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]any{"status": "ok", "node_id": d.config.Node.ID}, nil
	})

	disp.Register("spawn_instrument", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			ID         string         `json:"id"`
			DriverType string         `json:"driver_type"`
			Config     map[string]any `json:"config"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.spawnNamedInstrument(ctx, p.ID, p.DriverType, p.Config)
	})

	disp.Register("stop_instrument", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			ID string `json:"id"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.stopNamedInstrument(ctx, p.ID)
	})

	disp.Register("set_parameter", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Value any    `json:"value"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.mgr.UpdateInstrumentParameter(ctx, p.ID, p.Name, paramValueOf(p.Value))
	})

	disp.Register("send_command", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			ID   string `json:"id"`
			Kind int    `json:"kind"`
			Name string `json:"name"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		cmd := measurement.NewCommand(measurement.CommandKind(p.Kind))
		cmd.Name = p.Name
		return nil, d.mgr.SendInstrumentCommand(ctx, p.ID, cmd)
	})

	disp.Register("start_recording", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Format string `json:"format"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.mgr.StartRecording(ctx, p.Format)
	})

	disp.Register("stop_recording", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, d.mgr.StopRecording(ctx)
	})

	disp.Register("save_session", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Path     string         `json:"path"`
			GuiState map[string]any `json:"gui_state"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.mgr.SaveSession(ctx, p.Path, p.GuiState)
	})

	disp.Register("load_session", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Path string `json:"path"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.mgr.LoadSession(ctx, p.Path)
	})

	disp.Register("list_instruments", func(ctx context.Context, params json.RawMessage) (any, error) {
		return d.mgr.GetInstrumentList(ctx)
	})

	disp.Register("list_channels", func(ctx context.Context, params json.RawMessage) (any, error) {
		return d.mgr.GetAvailableChannels(ctx)
	})

	disp.Register("remove_instrument", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			ID    string `json:"id"`
			Force bool   `json:"force"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		if err := d.mgr.RemoveInstrumentDynamic(ctx, p.ID, p.Force); err != nil {
			return nil, err
		}
		d.ringMu.Lock()
		ring, ok := d.rings[p.ID]
		delete(d.rings, p.ID)
		d.ringMu.Unlock()
		if ok {
			return nil, ring.Close()
		}
		return nil, nil
	})

	disp.Register("get_storage_format", func(ctx context.Context, params json.RawMessage) (any, error) {
		return d.mgr.GetStorageFormat(ctx)
	})

	disp.Register("set_storage_format", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Format string `json:"format"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.mgr.SetStorageFormat(ctx, p.Format)
	})

	disp.Register("spawn_module", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			ID     string         `json:"id"`
			Kind   string         `json:"kind"`
			Config map[string]any `json:"config"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.mgr.SpawnModule(ctx, p.ID, p.Kind, p.Config)
	})

	disp.Register("start_module", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			ID string `json:"id"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.mgr.StartModule(ctx, p.ID)
	})

	disp.Register("stop_module", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			ID string `json:"id"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.mgr.StopModule(ctx, p.ID)
	})

	disp.Register("assign_instrument_to_module", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Module     string `json:"module"`
			Role       string `json:"role"`
			Instrument string `json:"instrument"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.mgr.AssignInstrumentToModule(ctx, p.Module, p.Role, p.Instrument)
	})

	disp.Register("get_metrics", func(ctx context.Context, params json.RawMessage) (any, error) {
		return d.mgr.GetMetrics(ctx)
	})

	disp.Register("create_config_snapshot", func(ctx context.Context, params json.RawMessage) (any, error) {
		return d.mgr.CreateConfigSnapshot(ctx)
	})

	disp.Register("list_config_versions", func(ctx context.Context, params json.RawMessage) (any, error) {
		return d.mgr.ListConfigVersions(ctx)
	})

	disp.Register("rollback_config_version", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Version string `json:"version"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.mgr.RollbackToVersion(ctx, p.Version)
	})

	disp.Register("compare_config_versions", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			A string `json:"a"`
			B string `json:"b"`
		}
		if err := command.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return d.mgr.CompareConfigVersions(ctx, p.A, p.B)
	})

	disp.Register("daemon_shutdown", func(ctx context.Context, params json.RawMessage) (any, error) {
		d.TriggerShutdown()
		return nil, nil
	})

	disp.Register("daemon_reload", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, d.Reload()
	})

	return disp
}

// spawnNamedInstrument builds the ring buffer + Tee pipeline a
// dynamically-spawned instrument needs and hands it to the Manager,
// tracking the ring buffer for cleanup at Stop.
func (d *Daemon) spawnNamedInstrument(ctx context.Context, id, driverType string, cfg map[string]any) error {
	ring, err := storage.NewRingBuffer(id, 0)
	if err != nil {
		return err
	}
	pipeline := tee.New(id, tee.DefaultConfig(), ring, d.dist)
	if err := d.mgr.AddInstrumentDynamic(ctx, id, driverType, cfg, pipeline); err != nil {
		ring.Close()
		return err
	}
	d.ringMu.Lock()
	d.rings[id] = ring
	d.ringMu.Unlock()
	return nil
}

// stopNamedInstrument stops the instrument and closes its ring buffer,
// whether it was spawned from the config document at startup or added
// dynamically afterward.
func (d *Daemon) stopNamedInstrument(ctx context.Context, id string) error {
	if err := d.mgr.StopInstrument(ctx, id); err != nil {
		return err
	}
	d.ringMu.Lock()
	ring, ok := d.rings[id]
	delete(d.rings, id)
	d.ringMu.Unlock()
	if ok {
		return ring.Close()
	}
	return nil
}

// paramValueOf converts a JSON-decoded value into the tagged ParamValue
// the Manager's command channel expects. JSON numbers decode as
// float64; integer-typed parameters are distinguished by the driver at
// validation time, not by this boundary.
func paramValueOf(v any) measurement.ParamValue {
	switch val := v.(type) {
	case float64:
		return measurement.Float(val)
	case string:
		return measurement.Str(val)
	case bool:
		return measurement.Bool(val)
	case nil:
		return measurement.Null()
	default:
		return measurement.Null()
	}
}

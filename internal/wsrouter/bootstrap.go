package wsrouter

import (
	"context"
	"time"

	"github.com/hyperstudy/bridge/internal/bridgestate"
	"github.com/hyperstudy/bridge/internal/codec"
	"github.com/hyperstudy/bridge/internal/config"
	"github.com/hyperstudy/bridge/internal/ids"
)

// ConnectConfigured instantiates and connects every pre-provisioned
// device from the config file's [devices.*] table, registering each into
// state. It returns one error per device that failed to configure or
// connect; a failure for one device doesn't stop the others.
func ConnectConfigured(ctx context.Context, state *bridgestate.State, devices map[string]config.DeviceConfig) []error {
	var errs []error
	for id, dc := range devices {
		if err := connectOne(ctx, state, id, dc); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func connectOne(ctx context.Context, state *bridgestate.State, id string, dc config.DeviceConfig) error {
	kind, ok := codec.ResolveDeviceKind(dc.Kind)
	if !ok {
		return ids.New(ids.KindConfigurationErr, "device %s: unknown kind %q", id, dc.Kind)
	}

	cfg, err := decodeDeviceConfig(nil)
	if err != nil {
		return err
	}
	cfg.Address = dc.Address
	if dc.AutoReconnect != nil {
		cfg.AutoReconnect = *dc.AutoReconnect
	}
	if dc.ReconnectMs != nil {
		cfg.ReconnectIntervalMs = *dc.ReconnectMs
	}
	if dc.TimeoutMs != nil {
		cfg.TimeoutMs = *dc.TimeoutMs
	}

	drv := newDriver(kind, id, state.Accountant())
	if err := drv.Configure(cfg); err != nil {
		return ids.Wrap(ids.KindConfigurationErr, err, "device %s: configure", id)
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()
	if err := drv.Connect(connectCtx); err != nil {
		return ids.Wrap(ids.KindConnectionFailed, err, "device %s: connect", id)
	}

	if err := state.AddDevice(id, drv); err != nil {
		return err
	}
	return nil
}

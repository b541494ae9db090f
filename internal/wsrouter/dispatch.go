package wsrouter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcuadros/go-defaults"

	"github.com/hyperstudy/bridge/internal/codec"
	"github.com/hyperstudy/bridge/internal/device"
	"github.com/hyperstudy/bridge/internal/events"
)

func (rt *Router) dispatch(c *connection, msg *codec.Message) {
	switch msg.Type {
	case codec.MessageCommand:
		rt.dispatchCommand(c, msg.Command)
	case codec.MessageQuery:
		rt.dispatchQuery(c, msg.Query)
	case codec.MessageSubscribe:
		c.subscribe(msg.Subscription)
		c.reply(codec.NewEvent(msg.Subscription.Device, "subscribed", map[string]any{"events": msg.Subscription.Events}))
	case codec.MessageUnsubscribe:
		c.unsubscribe(msg.Subscription)
		c.reply(codec.NewEvent(msg.Subscription.Device, "unsubscribed", map[string]any{"events": msg.Subscription.Events}))
	}
}

func (rt *Router) dispatchCommand(c *connection, cmd *codec.Command) {
	switch cmd.Action {
	case codec.ActionConnect:
		rt.handleConnect(c, cmd)
	case codec.ActionDisconnect:
		rt.handleDisconnect(c, cmd)
	case codec.ActionSend:
		rt.handleSend(c, cmd)
	case codec.ActionStatus:
		rt.handleStatus(c, cmd)
	case codec.ActionConfigure:
		rt.handleConfigure(c, cmd)
	case codec.ActionEvent:
		rt.handleEvent(c, cmd)
	default:
		c.reply(codec.NewError("unsupported command action"))
	}
}

func decodeDeviceConfig(payload json.RawMessage) (device.Config, error) {
	var cfg device.Config
	defaults.SetDefaults(&cfg)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (rt *Router) handleConnect(c *connection, cmd *codec.Command) {
	kind, ok := codec.ResolveDeviceKind(cmd.Device)
	if !ok {
		c.reply(codec.InvalidDeviceType(cmd.Device))
		return
	}

	cfg, err := decodeDeviceConfig(cmd.Payload)
	if err != nil {
		c.reply(codec.NewError("invalid connect payload: " + err.Error()))
		return
	}

	drv := newDriver(kind, cmd.Device, rt.state.Accountant())
	if err := drv.Configure(cfg); err != nil {
		c.reply(codec.NewDeviceError(cmd.Device, err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()
	if err := drv.Connect(ctx); err != nil {
		c.reply(codec.NewDeviceError(cmd.Device, err.Error()))
		return
	}

	if err := rt.state.AddDevice(cmd.Device, drv); err != nil {
		c.reply(codec.NewDeviceError(cmd.Device, err.Error()))
		return
	}

	rt.broadcastStatus(cmd.Device, drv.GetStatus(), "")
	c.reply(codec.NewStatus(cmd.Device, drv.GetStatus()))
	if cmd.ID != "" {
		c.reply(codec.NewAck(cmd.ID, true, ""))
	}
}

func (rt *Router) handleDisconnect(c *connection, cmd *codec.Command) {
	err := rt.state.WithDevice(cmd.Device, func(drv device.Device) error {
		return drv.Disconnect(context.Background())
	})
	if err != nil {
		c.reply(codec.NewDeviceError(cmd.Device, err.Error()))
		return
	}
	rt.state.RemoveDevice(cmd.Device)
	rt.broadcastStatus(cmd.Device, device.StatusDisconnected, "")
	c.reply(codec.NewStatus(cmd.Device, device.StatusDisconnected))
	if cmd.ID != "" {
		c.reply(codec.NewAck(cmd.ID, true, ""))
	}
}

func (rt *Router) handleSend(c *connection, cmd *codec.Command) {
	payload, err := codec.SendPayload(cmd.Payload)
	if err != nil {
		c.reply(codec.NewDeviceError(cmd.Device, err.Error()))
		return
	}

	sendErr := rt.state.WithDevice(cmd.Device, func(drv device.Device) error {
		return drv.Send(context.Background(), payload)
	})
	if sendErr != nil {
		rt.state.RecordDeviceError(cmd.Device, sendErr.Error())
		c.reply(codec.NewDeviceError(cmd.Device, sendErr.Error()))
		if cmd.ID != "" {
			c.reply(codec.NewAck(cmd.ID, false, sendErr.Error()))
		}
		return
	}
	if cmd.ID != "" {
		c.reply(codec.NewAck(cmd.ID, true, ""))
	}
}

func (rt *Router) handleStatus(c *connection, cmd *codec.Command) {
	status, ok := rt.state.GetDeviceStatus(cmd.Device)
	if !ok {
		c.reply(codec.NewDeviceError(cmd.Device, "unknown device"))
		return
	}
	c.reply(codec.NewStatus(cmd.Device, status))
	if cmd.ID != "" {
		c.reply(codec.NewAck(cmd.ID, true, ""))
	}
}

func (rt *Router) handleConfigure(c *connection, cmd *codec.Command) {
	cfg, err := decodeDeviceConfig(cmd.Payload)
	if err != nil {
		c.reply(codec.NewError("invalid configure payload: " + err.Error()))
		return
	}

	cfgErr := rt.state.WithDevice(cmd.Device, func(drv device.Device) error {
		return drv.Configure(cfg)
	})
	if cfgErr != nil {
		c.reply(codec.NewDeviceError(cmd.Device, cfgErr.Error()))
		return
	}
	if cmd.ID != "" {
		c.reply(codec.NewAck(cmd.ID, true, ""))
	}
}

func (rt *Router) handleEvent(c *connection, cmd *codec.Command) {
	err := rt.state.WithDevice(cmd.Device, func(drv device.Device) error {
		return drv.SendEvent(context.Background(), cmd.Payload)
	})
	if err != nil {
		c.reply(codec.NewDeviceError(cmd.Device, err.Error()))
		return
	}
	if cmd.ID != "" {
		c.reply(codec.NewAck(cmd.ID, true, ""))
	}
}

func (rt *Router) dispatchQuery(c *connection, q *codec.Query) {
	switch q.Target {
	case codec.TargetDevices:
		c.reply(codec.NewQueryResult(q.ID, rt.state.ListDevices()))
	case codec.TargetDevice:
		drv, ok := rt.state.GetDevice(q.TargetID)
		if !ok {
			c.reply(codec.NewDeviceError(q.TargetID, "unknown device"))
			return
		}
		c.reply(codec.NewQueryResult(q.ID, drv.GetInfo()))
	case codec.TargetMetrics:
		c.reply(codec.NewQueryResult(q.ID, map[string]any{
			"global":              rt.state.Accountant().GlobalSnapshot(),
			"devices":             rt.state.Accountant().AllDeviceSnapshots(),
			"performance_summary": rt.state.Accountant().PerformanceSummary(),
		}))
	case codec.TargetConnections:
		c.reply(codec.NewQueryResult(q.ID, rt.state.ListConnections()))
	case codec.TargetStatus:
		c.reply(codec.NewQueryResult(q.ID, map[string]any{
			"server":      "running",
			"port":        rt.port,
			"devices":     rt.state.ListDevices(),
			"connections": rt.state.ConnectionCount(),
		}))
	case codec.TargetStats:
		if rt.store == nil {
			c.reply(codec.NewError("stats are not available: no storage backend configured"))
			return
		}
		stats, err := rt.store.GetStats()
		if err != nil {
			c.reply(codec.NewError("fetching stats: " + err.Error()))
			return
		}
		c.reply(codec.NewQueryResult(q.ID, stats))
	default:
		c.reply(codec.NewError("unsupported query target"))
	}
}

func (rt *Router) broadcastStatus(deviceID string, status device.Status, detail string) {
	rt.hub.Broadcast(events.Event{
		Kind: events.KindDeviceStatus,
		Data: events.DeviceStatusEvent{DeviceID: deviceID, Status: string(status), Detail: detail},
	})
}

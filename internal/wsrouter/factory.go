package wsrouter

import (
	"github.com/hyperstudy/bridge/internal/device"
	"github.com/hyperstudy/bridge/internal/device/eyetracker"
	"github.com/hyperstudy/bridge/internal/device/fnirs"
	"github.com/hyperstudy/bridge/internal/device/mock"
	"github.com/hyperstudy/bridge/internal/device/physio"
	"github.com/hyperstudy/bridge/internal/device/ttl"
)

// newDriver instantiates the driver for kind. The router, not the device
// package, owns this mapping: device can't import its own driver
// subpackages without an import cycle.
func newDriver(kind device.Kind, id string, perf device.PerformanceRecorder) device.Device {
	switch kind {
	case device.KindTTL:
		return ttl.New(id, id, perf)
	case device.KindFNIRS:
		return fnirs.New(id, id, perf)
	case device.KindEyeTracker:
		return eyetracker.New(id, id, perf)
	case device.KindPhysio:
		return physio.New(id, id, perf)
	case device.KindMock:
		return mock.New(id, id, perf)
	default:
		return nil
	}
}

package monitor

import (
	"time"

	"github.com/pv/poleko-monitor-go/internal/device"
	"github.com/pv/poleko-monitor-go/internal/poller"
)

// EventType names a monitor notification.
type EventType string

const (
	DeviceAdded   EventType = "device_added"
	DeviceRemoved EventType = "device_removed"
	Reading       EventType = "reading"
	DeviceFault   EventType = "device_fault"
)

// Event is published for registry changes and for every reading.
// Data holds the measurement for Reading and DeviceFault events.
type Event struct {
	Type      EventType
	Device    device.Info
	State     poller.State
	Data      any
	Timestamp time.Time
}

// EventCallback receives events. It is called from polling goroutines and
// must not block.
type EventCallback func(ev Event)

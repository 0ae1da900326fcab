package api

import (
	"sync"
	"time"

	"github.com/pv/poleko-monitor-go/internal/logger"
	"github.com/pv/poleko-monitor-go/internal/monitor"
)

// clientBuffer is the per-client queue length; events beyond it are dropped
// for that client.
const clientBuffer = 64

// SSEEvent is one server-sent event.
type SSEEvent struct {
	Type      string    `json:"type"`
	Device    string    `json:"device,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Label     string    `json:"label,omitempty"`
	State     string    `json:"state,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SSEClient is a connected event stream, optionally filtered to one device.
type SSEClient struct {
	device string
	events chan SSEEvent
}

// SSEHub fans events out to connected clients.
type SSEHub struct {
	mu      sync.RWMutex
	clients map[*SSEClient]struct{}
}

func NewSSEHub() *SSEHub {
	return &SSEHub{clients: make(map[*SSEClient]struct{})}
}

// AddClient registers a client. An empty device receives every event.
func (h *SSEHub) AddClient(device string) *SSEClient {
	c := &SSEClient{
		device: device,
		events: make(chan SSEEvent, clientBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	logger.Debug("SSE client connected", "device", device, "clients", h.ClientCount())
	return c
}

func (h *SSEHub) RemoveClient(c *SSEClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	logger.Debug("SSE client disconnected", "device", c.device)
}

func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers ev to every matching client without blocking.
func (h *SSEHub) Broadcast(ev SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.device != "" && ev.Device != "" && c.device != ev.Device {
			continue
		}
		select {
		case c.events <- ev:
		default:
			logger.Debug("SSE client too slow, event dropped", "device", c.device, "type", ev.Type)
		}
	}
}

// Publish converts a monitor event and broadcasts it. It is suitable as a
// monitor.EventCallback.
func (h *SSEHub) Publish(ev monitor.Event) {
	out := SSEEvent{
		Type:      string(ev.Type),
		Device:    ev.Device.Endpoint.String(),
		Kind:      ev.Device.Kind,
		Label:     ev.Device.Label,
		Data:      ev.Data,
		Timestamp: ev.Timestamp,
	}
	if ev.Type == monitor.Reading || ev.Type == monitor.DeviceFault {
		out.State = ev.State.String()
	}
	h.Broadcast(out)
}

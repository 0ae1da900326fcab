package monitor

import (
	"time"

	"github.com/pv/poleko-monitor-go/internal/poller"
)

// Status is a point-in-time view of one station.
type Status struct {
	Endpoint    string       `json:"endpoint"`
	IP          string       `json:"ip"`
	Port        uint16       `json:"port"`
	Label       string       `json:"label,omitempty"`
	Kind        string       `json:"kind"`
	Running     bool         `json:"running"`
	State       poller.State `json:"state"`
	Retries     int          `json:"retries"`
	Refresh     string       `json:"refresh"`
	Buffered    int          `json:"buffered"`
	BufferLimit int          `json:"bufferLimit"`
	Persisted   int64        `json:"persisted"`
	Skipped     int64        `json:"skipped"`
	LastUpdate  time.Time    `json:"lastUpdate"`
	LastReading any          `json:"lastReading,omitempty"`
	LastError   string       `json:"lastError,omitempty"`
}

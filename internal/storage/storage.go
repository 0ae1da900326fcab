// Package storage persists devices and their measurements in a local
// SQLite database. Measurement tables are derived from each kind's schema.
package storage

import (
	"errors"
	"log/slog"
	"time"

	"github.com/pv/poleko-monitor-go/internal/device"
)

// DefaultQueryTimeout bounds every store operation when Options leaves it unset.
const DefaultQueryTimeout = 10 * time.Second

// ErrDeviceNotFound is returned when a removal matched no device row.
var ErrDeviceNotFound = errors.New("device not found in store")

// Options configures a Store.
type Options struct {
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// LoadResult is the outcome of LoadDevices. Rows that could not be turned
// into a device are reported in Skipped and left out of Devices.
type LoadResult struct {
	Devices []device.Device
	Skipped []error
}

// InsertResult counts the rows of one flush.
type InsertResult struct {
	Inserted int
	Skipped  int
}

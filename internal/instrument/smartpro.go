package instrument

import (
	"context"
	"net/http"
	"time"

	"github.com/pv/poleko-monitor-go/internal/device"
	"github.com/pv/poleko-monitor-go/internal/logger"
	"github.com/pv/poleko-monitor-go/internal/measurement"
	"github.com/pv/poleko-monitor-go/internal/monitor"
	"github.com/pv/poleko-monitor-go/internal/schema"
)

// SmartProKind is the catalog name of the POL-EKO Smart Pro chamber.
const SmartProKind = "SmartPro"

// SmartProReading is one Smart Pro sample.
type SmartProReading struct {
	measurement.Header
	IsRunning   bool `json:"isRunning"`
	Temperature int  `json:"temperature"`
}

// SmartProSchema maps SmartProReading onto the smartpros table.
var SmartProSchema = schema.New(SmartProKind,
	func(m *SmartProReading) *measurement.Header { return &m.Header },
	schema.BoolField("IsRunning",
		func(m *SmartProReading) bool { return m.IsRunning },
		func(m *SmartProReading, v bool) { m.IsRunning = v }),
	schema.IntField("Temperature",
		func(m *SmartProReading) int64 { return int64(m.Temperature) },
		func(m *SmartProReading, v int64) { m.Temperature = int(v) }),
)

type smartProPayload struct {
	IsRunning   bool `json:"isRunning"`
	Temperature int  `json:"temperature"`
	Error       bool `json:"error"`
}

// SmartPro is a POL-EKO Smart Pro laboratory chamber.
type SmartPro struct {
	base
}

// NewSmartPro is the catalog factory for SmartProKind.
func NewSmartPro(ep device.Endpoint, label string) (device.Device, error) {
	return &SmartPro{base: newBase(SmartProKind, ep, label)}, nil
}

// Fetch requests one sample.
func (d *SmartPro) Fetch(ctx context.Context, client *http.Client) SmartProReading {
	var p smartProPayload
	if err := getJSON(ctx, client, d.info.Endpoint.URL(), &p); err != nil {
		logger.Debug("SmartPro request failed", "device", d.info.Name(), "error", err)
		return SmartProReading{Header: measurement.NetworkFailure(time.Now())}
	}

	h := measurement.NewHeader()
	h.DeviceError = p.Error
	return SmartProReading{
		Header:      h,
		IsRunning:   p.IsRunning,
		Temperature: p.Temperature,
	}
}

// Bind builds the station polling this device.
func (d *SmartPro) Bind(env monitor.Env) (monitor.Unit, error) {
	st, err := monitor.NewStation[SmartProReading](d, d, SmartProSchema, env)
	if err != nil {
		return nil, err
	}
	return st, nil
}

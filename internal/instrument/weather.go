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

// WeatherKind is the catalog name of the weather station.
const WeatherKind = "WeatherDevice"

// WeatherReading is one weather station sample.
type WeatherReading struct {
	measurement.Header
	Temperature float32 `json:"temperature"`
	Humidity    int     `json:"humidity"`
}

// WeatherSchema maps WeatherReading onto the weatherdevices table.
var WeatherSchema = schema.New(WeatherKind,
	func(m *WeatherReading) *measurement.Header { return &m.Header },
	schema.FloatField("Temperature",
		func(m *WeatherReading) float64 { return float64(m.Temperature) },
		func(m *WeatherReading, v float64) { m.Temperature = float32(v) }),
	schema.IntField("Humidity",
		func(m *WeatherReading) int64 { return int64(m.Humidity) },
		func(m *WeatherReading, v int64) { m.Humidity = int(v) }),
)

type weatherPayload struct {
	Temperature float32 `json:"temperature"`
	Humidity    int     `json:"humidity"`
	Error       bool    `json:"error"`
}

// WeatherDevice is a networked temperature and humidity sensor.
type WeatherDevice struct {
	base
}

// NewWeatherDevice is the catalog factory for WeatherKind.
func NewWeatherDevice(ep device.Endpoint, label string) (device.Device, error) {
	return &WeatherDevice{base: newBase(WeatherKind, ep, label)}, nil
}

// Fetch requests one sample. Request failures come back flagged as
// network errors; a sample the device marks invalid keeps its values and
// carries the device error flag.
func (d *WeatherDevice) Fetch(ctx context.Context, client *http.Client) WeatherReading {
	var p weatherPayload
	if err := getJSON(ctx, client, d.info.Endpoint.URL(), &p); err != nil {
		logger.Debug("Weather request failed", "device", d.info.Name(), "error", err)
		return WeatherReading{Header: measurement.NetworkFailure(time.Now())}
	}

	h := measurement.NewHeader()
	h.DeviceError = p.Error
	return WeatherReading{
		Header:      h,
		Temperature: p.Temperature,
		Humidity:    p.Humidity,
	}
}

// Bind builds the station polling this device.
func (d *WeatherDevice) Bind(env monitor.Env) (monitor.Unit, error) {
	st, err := monitor.NewStation[WeatherReading](d, d, WeatherSchema, env)
	if err != nil {
		return nil, err
	}
	return st, nil
}

package instrument

import (
	"errors"

	"github.com/pv/poleko-monitor-go/internal/device"
)

// Register installs every supported kind into cat.
func Register(cat *device.Catalog) error {
	return errors.Join(
		cat.Register(device.Kind{
			Name:        WeatherKind,
			Description: "Weather station: temperature and humidity",
			Table:       WeatherSchema,
			New:         NewWeatherDevice,
		}),
		cat.Register(device.Kind{
			Name:        SmartProKind,
			Description: "POL-EKO Smart Pro chamber: run state and temperature",
			Table:       SmartProSchema,
			New:         NewSmartPro,
		}),
	)
}

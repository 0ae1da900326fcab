package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceConfig is one device entry of the seed file.
type DeviceConfig struct {
	IP      string        `yaml:"ip"`
	Port    int           `yaml:"port"`
	Kind    string        `yaml:"kind"`
	Label   string        `yaml:"label"`
	Refresh time.Duration `yaml:"refresh"`
}

// DevicesConfigFile представляет структуру YAML файла с устройствами
type DevicesConfigFile struct {
	Devices []DeviceConfig `yaml:"devices"`
}

// LoadDevicesFromYAML загружает список устройств из YAML файла
func LoadDevicesFromYAML(path string) ([]DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile DevicesConfigFile
	if err := yaml.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Валидация: у каждого устройства должны быть адрес, порт и тип
	for i, d := range configFile.Devices {
		switch {
		case d.IP == "":
			return nil, fmt.Errorf("device at index %d has no ip", i)
		case d.Port <= 0 || d.Port > 65535:
			return nil, fmt.Errorf("device at index %d has invalid port %d", i, d.Port)
		case d.Kind == "":
			return nil, fmt.Errorf("device at index %d has no kind", i)
		case d.Refresh < 0:
			return nil, fmt.Errorf("device at index %d has negative refresh", i)
		}
	}

	return configFile.Devices, nil
}

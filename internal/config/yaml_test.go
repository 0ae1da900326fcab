package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDevicesFromYAML(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantCount   int
		wantErr     bool
		checkDevice func(t *testing.T, devices []DeviceConfig)
	}{
		{
			name: "valid config with all fields",
			content: `devices:
  - ip: 192.168.1.20
    port: 80
    kind: WeatherDevice
    label: "Roof station"
    refresh: 5s
  - ip: 192.168.1.21
    port: 8080
    kind: SmartPro
`,
			wantCount: 2,
			checkDevice: func(t *testing.T, devices []DeviceConfig) {
				if devices[0].Label != "Roof station" {
					t.Errorf("expected Label 'Roof station', got %q", devices[0].Label)
				}
				if devices[0].Refresh != 5*time.Second {
					t.Errorf("expected Refresh 5s, got %v", devices[0].Refresh)
				}
				if devices[1].Kind != "SmartPro" || devices[1].Port != 8080 {
					t.Errorf("unexpected second device %+v", devices[1])
				}
				if devices[1].Refresh != 0 {
					t.Errorf("expected default refresh, got %v", devices[1].Refresh)
				}
			},
		},
		{
			name:      "empty devices list",
			content:   "devices: []\n",
			wantCount: 0,
		},
		{
			name: "missing ip",
			content: `devices:
  - port: 80
    kind: SmartPro
`,
			wantErr: true,
		},
		{
			name: "port out of range",
			content: `devices:
  - ip: 10.0.0.1
    port: 70000
    kind: SmartPro
`,
			wantErr: true,
		},
		{
			name: "missing kind",
			content: `devices:
  - ip: 10.0.0.1
    port: 80
`,
			wantErr: true,
		},
		{
			name: "bad refresh",
			content: `devices:
  - ip: 10.0.0.1
    port: 80
    kind: SmartPro
    refresh: often
`,
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			content: `devices: [invalid`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpFile := filepath.Join(t.TempDir(), "devices.yaml")
			if err := os.WriteFile(tmpFile, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write temp file: %v", err)
			}

			devices, err := LoadDevicesFromYAML(tmpFile)

			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(devices) != tt.wantCount {
				t.Errorf("expected %d devices, got %d", tt.wantCount, len(devices))
			}

			if tt.checkDevice != nil {
				tt.checkDevice(t, devices)
			}
		})
	}
}

func TestLoadDevicesFromYAML_FileNotFound(t *testing.T) {
	_, err := LoadDevicesFromYAML("/nonexistent/path/devices.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

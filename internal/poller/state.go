package poller

// State is the position of a loop in its acquisition cycle.
type State int

const (
	Idle State = iota
	Fetching
	Ready
	DeviceError
	NetworkError
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Ready:
		return "ready"
	case DeviceError:
		return "device_error"
	case NetworkError:
		return "network_error"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Faulted reports whether s is one of the error states.
func (s State) Faulted() bool {
	return s == DeviceError || s == NetworkError
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

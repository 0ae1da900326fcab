// Package device holds device identity and the kind catalog used to
// rebuild devices from persisted rows.
package device

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"
)

// Endpoint identifies a device. Two devices with the same endpoint are the
// same device regardless of label or kind.
type Endpoint struct {
	IP   netip.Addr
	Port uint16
}

// ParseEndpoint validates an ip address and a port.
func ParseEndpoint(ip string, port int) (Endpoint, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid ip address %q: %w", ip, err)
	}
	if port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid port %d", port)
	}
	return Endpoint{IP: addr.Unmap(), Port: uint16(port)}, nil
}

// String returns host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(int(e.Port)))
}

// URL returns the instrument's base URL.
func (e Endpoint) URL() string {
	return "http://" + e.String() + "/"
}

// Info is the persisted description of a device. A zero Refresh selects
// the kind's default polling interval.
type Info struct {
	Endpoint Endpoint
	Label    string
	Kind     string
	Refresh  time.Duration
}

// Name returns the label, or the kind when the device has none, with the endpoint.
func (i Info) Name() string {
	name := i.Label
	if name == "" {
		name = i.Kind
	}
	return name + "@" + i.Endpoint.String()
}

// Device is a registered instrument.
type Device interface {
	Info() Info
	RefreshInterval() time.Duration
}

// Tunable is implemented by devices whose refresh interval can be
// overridden after construction.
type Tunable interface {
	SetRefreshInterval(d time.Duration)
}

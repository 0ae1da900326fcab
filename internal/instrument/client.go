// Package instrument implements the POL-EKO device kinds.
package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pv/poleko-monitor-go/internal/device"
	"github.com/pv/poleko-monitor-go/internal/poller"
)

// maxBody caps instrument responses; they are a few dozen bytes.
const maxBody = 64 << 10

// NewHTTPClient returns the client shared by all instruments.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = poller.DefaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}

// getJSON fetches url and decodes the body into v.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response from %s failed: %w", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, string(body))
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response from %s failed: %w", url, err)
	}
	return nil
}

// base holds what every instrument kind shares.
type base struct {
	info    device.Info
	refresh time.Duration
}

func newBase(kind string, ep device.Endpoint, label string) base {
	return base{
		info:    device.Info{Endpoint: ep, Label: label, Kind: kind},
		refresh: poller.DefaultRefresh,
	}
}

func (b *base) Info() device.Info { return b.info }

func (b *base) RefreshInterval() time.Duration { return b.refresh }

// SetRefreshInterval overrides the default polling cadence. It takes
// effect the next time the device is bound.
func (b *base) SetRefreshInterval(d time.Duration) {
	if d > 0 {
		b.refresh = d
		b.info.Refresh = d
	}
}

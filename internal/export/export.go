// Package export writes measurement history as CSV or JSON documents.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pv/poleko-monitor-go/internal/schema"
)

// Format is an export document type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" and "json"; empty selects JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Write encodes items in format f.
func Write[T any](w io.Writer, f Format, sc *schema.Schema[T], device string, items []T) error {
	if f == FormatCSV {
		return CSV(w, sc, device, items)
	}
	return JSON(w, sc, device, items)
}

// CSV writes items with one column per schema field.
func CSV[T any](w io.Writer, sc *schema.Schema[T], device string, items []T) error {
	writer := csv.NewWriter(w)

	// Write header
	header := append([]string{"timestamp", "device", "device_error", "network_error"}, sc.Columns()...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	// Write records
	for i := range items {
		h := sc.Header(&items[i])
		row := []string{
			h.Timestamp.UTC().Format(time.RFC3339Nano),
			device,
			strconv.FormatBool(h.DeviceError),
			strconv.FormatBool(h.NetworkError),
		}
		for _, v := range sc.Values(&items[i]) {
			row = append(row, formatValue(v))
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// JSON writes items wrapped in an export envelope.
func JSON[T any](w io.Writer, sc *schema.Schema[T], device string, items []T) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if items == nil {
		items = []T{}
	}
	export := struct {
		ExportedAt time.Time `json:"exportedAt"`
		Device     string    `json:"device"`
		Kind       string    `json:"kind"`
		Count      int       `json:"count"`
		Records    []T       `json:"records"`
	}{
		ExportedAt: time.Now().UTC(),
		Device:     device,
		Kind:       sc.Kind(),
		Count:      len(items),
		Records:    items,
	}

	if err := encoder.Encode(export); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return strconv.Quote(string(x))
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

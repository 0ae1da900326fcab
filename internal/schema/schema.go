// Package schema maps measurement kinds onto relational tables.
//
// Every kind declares its payload as an ordered list of Field descriptors.
// The descriptor list is the single source for the table definition, the
// insert statement and the decoding of queried rows, so the write and read
// sides always agree on column order and encoding.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pv/poleko-monitor-go/internal/measurement"
)

// Implicit columns present in every measurement table.
const (
	ColumnTimestamp    = "timestamp"
	ColumnDeviceError  = "device_error"
	ColumnNetworkError = "network_error"
	ColumnIPAddress    = "ip_address"
	ColumnPort         = "port"
)

// DevicesTable is the device catalog table referenced by every measurement table.
const DevicesTable = "devices"

// ColumnRefresh holds a device's refresh override in milliseconds, NULL for
// the kind's default.
const ColumnRefresh = "refresh_ms"

// DevicesTableSQL creates the device catalog.
const DevicesTableSQL = `
	CREATE TABLE IF NOT EXISTS devices (
		ip_address TEXT NOT NULL,
		port INTEGER NOT NULL,
		familiar_name TEXT,
		kind TEXT NOT NULL,
		refresh_ms INTEGER,
		PRIMARY KEY (ip_address, port)
	)`

var reserved = map[string]bool{
	ColumnTimestamp:    true,
	ColumnDeviceError:  true,
	ColumnNetworkError: true,
	ColumnIPAddress:    true,
	ColumnPort:         true,
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Error is returned when a kind cannot be mapped to a table.
type Error struct {
	Kind   string
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("schema %s: field %s: %s", e.Kind, e.Field, e.Reason)
}

// Table is the kind-independent view of a Schema, used where several kinds
// are handled together (catalog, schema creation, counting).
type Table interface {
	Kind() string
	TableName() string
	CreateTableSQL() (string, error)
	Err() error
}

// Schema describes how measurements of type T are stored.
type Schema[T any] struct {
	kind    string
	table   string
	header  func(*T) *measurement.Header
	fields  []Field[T]
	columns []string
	err     error
}

// New builds the schema for a kind. Descriptor problems are not reported
// here; they surface from Err and from every SQL builder so that a bad kind
// only fails its own table.
func New[T any](kind string, header func(*T) *measurement.Header, fields ...Field[T]) *Schema[T] {
	s := &Schema[T]{
		kind:   kind,
		table:  strings.ToLower(kind) + "s",
		header: header,
		fields: fields,
	}

	s.columns = make([]string, len(fields))
	for i, f := range fields {
		s.columns[i] = strings.ToLower(f.Name)
	}
	s.err = s.validate()

	return s
}

func (s *Schema[T]) validate() error {
	if !identPattern.MatchString(s.kind) {
		return &Error{Kind: s.kind, Reason: "kind is not a valid identifier"}
	}
	if s.header == nil {
		return &Error{Kind: s.kind, Reason: "header accessor is nil"}
	}

	seen := make(map[string]bool, len(s.fields))
	for i, f := range s.fields {
		col := s.columns[i]
		if !identPattern.MatchString(f.Name) {
			return &Error{Kind: s.kind, Field: f.Name, Reason: "name is not a valid identifier"}
		}
		if reserved[col] {
			return &Error{Kind: s.kind, Field: f.Name, Reason: "name collides with an implicit column"}
		}
		if seen[col] {
			return &Error{Kind: s.kind, Field: f.Name, Reason: "duplicate column"}
		}
		seen[col] = true

		if _, err := ColumnType(f.Type); err != nil {
			return &Error{Kind: s.kind, Field: f.Name, Reason: err.Error()}
		}
		if f.Encode == nil || f.Decode == nil {
			return &Error{Kind: s.kind, Field: f.Name, Reason: "missing accessor"}
		}
	}
	return nil
}

// Kind returns the kind name the schema was built for.
func (s *Schema[T]) Kind() string { return s.kind }

// TableName returns the pluralized, lower-cased kind name.
func (s *Schema[T]) TableName() string { return s.table }

// Err reports whether the descriptor list is usable.
func (s *Schema[T]) Err() error { return s.err }

// Columns returns the payload column names in declaration order.
func (s *Schema[T]) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// CreateTableSQL returns the idempotent table definition.
func (s *Schema[T]) CreateTableSQL() (string, error) {
	if s.err != nil {
		return "", s.err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", s.table)
	for i, f := range s.fields {
		typ, _ := ColumnType(f.Type)
		fmt.Fprintf(&sb, "\t%s %s,\n", s.columns[i], typ)
	}
	fmt.Fprintf(&sb, "\t%s TEXT NOT NULL,\n", ColumnTimestamp)
	fmt.Fprintf(&sb, "\t%s INTEGER NOT NULL,\n", ColumnDeviceError)
	fmt.Fprintf(&sb, "\t%s INTEGER NOT NULL,\n", ColumnNetworkError)
	fmt.Fprintf(&sb, "\t%s TEXT NOT NULL,\n", ColumnIPAddress)
	fmt.Fprintf(&sb, "\t%s INTEGER NOT NULL,\n", ColumnPort)
	fmt.Fprintf(&sb, "\tPRIMARY KEY (%s, %s, %s),\n", ColumnTimestamp, ColumnIPAddress, ColumnPort)
	fmt.Fprintf(&sb, "\tFOREIGN KEY (%s, %s) REFERENCES %s(%s, %s) ON DELETE CASCADE ON UPDATE CASCADE\n",
		ColumnIPAddress, ColumnPort, DevicesTable, ColumnIPAddress, ColumnPort)
	sb.WriteString(")")

	return sb.String(), nil
}

// InsertSQL returns the parameterized insert statement. Arguments are the
// values produced by Row.
func (s *Schema[T]) InsertSQL() (string, error) {
	if s.err != nil {
		return "", s.err
	}

	cols := append(s.Columns(), ColumnTimestamp, ColumnDeviceError, ColumnNetworkError, ColumnIPAddress, ColumnPort)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.table, strings.Join(cols, ", "), marks), nil
}

// SelectRangeSQL returns the range query. Arguments: ip, port, from, to.
// Result columns are in the order Decode expects.
func (s *Schema[T]) SelectRangeSQL() (string, error) {
	if s.err != nil {
		return "", s.err
	}

	cols := append(s.Columns(), ColumnTimestamp, ColumnDeviceError, ColumnNetworkError)
	return fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ? AND %s = ? AND %s BETWEEN ? AND ? ORDER BY %s ASC",
		strings.Join(cols, ", "), s.table, ColumnIPAddress, ColumnPort, ColumnTimestamp, ColumnTimestamp,
	), nil
}

// Row encodes m for InsertSQL.
func (s *Schema[T]) Row(m *T, ip string, port uint16) []any {
	args := make([]any, 0, len(s.fields)+5)
	for _, f := range s.fields {
		args = append(args, f.Encode(m))
	}

	h := s.header(m)
	return append(args,
		FormatTime(h.Timestamp),
		encodeBool(h.DeviceError),
		encodeBool(h.NetworkError),
		ip,
		int64(port),
	)
}

// Values returns the encoded payload of m in column order.
func (s *Schema[T]) Values(m *T) []any {
	out := make([]any, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Encode(m)
	}
	return out
}

// Header returns the header of m.
func (s *Schema[T]) Header(m *T) measurement.Header {
	return *s.header(m)
}

// ScanTargets returns a fresh destination slice for one SelectRangeSQL row.
func (s *Schema[T]) ScanTargets() []any {
	values := make([]any, len(s.fields)+3)
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	return dest
}

// Decode turns scanned destinations back into a measurement, mirroring Row.
func (s *Schema[T]) Decode(dest []any) (T, error) {
	var m T
	if len(dest) != len(s.fields)+3 {
		return m, fmt.Errorf("decode %s: expected %d columns, got %d", s.kind, len(s.fields)+3, len(dest))
	}

	values := make([]any, len(dest))
	for i, d := range dest {
		if p, ok := d.(*any); ok {
			values[i] = *p
		} else {
			values[i] = d
		}
	}

	for i, f := range s.fields {
		if err := f.Decode(&m, values[i]); err != nil {
			return m, fmt.Errorf("decode %s.%s: %w", s.kind, s.columns[i], err)
		}
	}

	n := len(s.fields)
	ts, err := decodeTime(values[n])
	if err != nil {
		return m, fmt.Errorf("decode %s.%s: %w", s.kind, ColumnTimestamp, err)
	}
	devErr, err := decodeBool(values[n+1])
	if err != nil {
		return m, fmt.Errorf("decode %s.%s: %w", s.kind, ColumnDeviceError, err)
	}
	netErr, err := decodeBool(values[n+2])
	if err != nil {
		return m, fmt.Errorf("decode %s.%s: %w", s.kind, ColumnNetworkError, err)
	}

	*s.header(&m) = measurement.Header{
		Timestamp:    ts,
		DeviceError:  devErr,
		NetworkError: netErr,
	}
	return m, nil
}

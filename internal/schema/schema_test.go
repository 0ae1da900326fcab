package schema

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pv/poleko-monitor-go/internal/measurement"
)

type sensorReading struct {
	measurement.Header
	Label   string
	Count   int64
	Active  bool
	Level   float64
	Raw     []byte
	Started time.Time
}

func sensorHeader(m *sensorReading) *measurement.Header { return &m.Header }

func sensorSchema() *Schema[sensorReading] {
	return New("SensorDevice", sensorHeader,
		TextField("Label", func(m *sensorReading) string { return m.Label }, func(m *sensorReading, v string) { m.Label = v }),
		IntField("Count", func(m *sensorReading) int64 { return m.Count }, func(m *sensorReading, v int64) { m.Count = v }),
		BoolField("Active", func(m *sensorReading) bool { return m.Active }, func(m *sensorReading, v bool) { m.Active = v }),
		FloatField("Level", func(m *sensorReading) float64 { return m.Level }, func(m *sensorReading, v float64) { m.Level = v }),
		BlobField("Raw", func(m *sensorReading) []byte { return m.Raw }, func(m *sensorReading, v []byte) { m.Raw = v }),
		TimeField("Started", func(m *sensorReading) time.Time { return m.Started }, func(m *sensorReading, v time.Time) { m.Started = v }),
	)
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		typ     SemanticType
		want    string
		wantErr bool
	}{
		{Text, "TEXT", false},
		{Time, "TEXT", false},
		{Integer, "INTEGER", false},
		{Boolean, "INTEGER", false},
		{Float, "REAL", false},
		{Binary, "BLOB", false},
		{SemanticType(0), "", true},
		{SemanticType(42), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			got, err := ColumnType(tt.typ)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s", tt.typ)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSchemaNamesAndColumns(t *testing.T) {
	s := sensorSchema()

	if err := s.Err(); err != nil {
		t.Fatalf("unexpected schema error: %v", err)
	}
	if s.TableName() != "sensordevices" {
		t.Errorf("expected table sensordevices, got %s", s.TableName())
	}

	want := []string{"label", "count", "active", "level", "raw", "started"}
	got := s.Columns()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected columns %v, got %v", want, got)
	}
}

func TestCreateTableSQL(t *testing.T) {
	ddl, err := sensorSchema().CreateTableSQL()
	if err != nil {
		t.Fatalf("CreateTableSQL failed: %v", err)
	}

	for _, fragment := range []string{
		"CREATE TABLE IF NOT EXISTS sensordevices",
		"label TEXT",
		"count INTEGER",
		"active INTEGER",
		"level REAL",
		"raw BLOB",
		"started TEXT",
		"timestamp TEXT NOT NULL",
		"device_error INTEGER NOT NULL",
		"network_error INTEGER NOT NULL",
		"PRIMARY KEY (timestamp, ip_address, port)",
		"REFERENCES devices(ip_address, port) ON DELETE CASCADE ON UPDATE CASCADE",
	} {
		if !strings.Contains(ddl, fragment) {
			t.Errorf("DDL missing %q:\n%s", fragment, ddl)
		}
	}
}

func TestSchemaErrors(t *testing.T) {
	noop := func(*sensorReading) any { return nil }
	noopSet := func(*sensorReading, any) error { return nil }

	tests := []struct {
		name   string
		kind   string
		fields []Field[sensorReading]
	}{
		{
			name:   "unsupported semantic type",
			kind:   "Bad",
			fields: []Field[sensorReading]{{Name: "Weird", Type: SemanticType(99), Encode: noop, Decode: noopSet}},
		},
		{
			name:   "implicit column collision",
			kind:   "Bad",
			fields: []Field[sensorReading]{{Name: "Timestamp", Type: Text, Encode: noop, Decode: noopSet}},
		},
		{
			name: "duplicate column",
			kind: "Bad",
			fields: []Field[sensorReading]{
				{Name: "Value", Type: Text, Encode: noop, Decode: noopSet},
				{Name: "value", Type: Integer, Encode: noop, Decode: noopSet},
			},
		},
		{
			name:   "invalid field name",
			kind:   "Bad",
			fields: []Field[sensorReading]{{Name: "drop table", Type: Text, Encode: noop, Decode: noopSet}},
		},
		{
			name: "invalid kind name",
			kind: "Bad'; --",
		},
		{
			name:   "missing accessor",
			kind:   "Bad",
			fields: []Field[sensorReading]{{Name: "Value", Type: Text}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.kind, sensorHeader, tt.fields...)

			var schemaErr *Error
			if !errors.As(s.Err(), &schemaErr) {
				t.Fatalf("expected *schema.Error, got %v", s.Err())
			}
			if _, err := s.CreateTableSQL(); err == nil {
				t.Error("CreateTableSQL should fail")
			}
			if _, err := s.InsertSQL(); err == nil {
				t.Error("InsertSQL should fail")
			}
		})
	}
}

func TestRowAndDecodeMirror(t *testing.T) {
	s := sensorSchema()
	ts := time.Date(2024, 3, 1, 12, 30, 45, 123_000_000, time.UTC)

	in := sensorReading{
		Header:  measurement.Header{Timestamp: ts, DeviceError: true},
		Label:   "O'Brien",
		Count:   7,
		Active:  true,
		Level:   21.5,
		Raw:     []byte{1, 2, 3},
		Started: ts.Add(-time.Hour),
	}

	row := s.Row(&in, "10.0.0.5", 8080)
	if len(row) != 11 {
		t.Fatalf("expected 11 values, got %d", len(row))
	}
	if row[2] != int64(1) {
		t.Errorf("expected bool encoded as 1, got %v", row[2])
	}
	if row[6] != "2024-03-01T12:30:45.123" {
		t.Errorf("unexpected timestamp encoding %v", row[6])
	}

	// Scan targets receive the selected columns: payload, timestamp, flags.
	dest := s.ScanTargets()
	for i := 0; i < 9; i++ {
		*(dest[i].(*any)) = row[i]
	}
	// Text columns come back from the driver as strings, booleans as int64.
	*(dest[6].(*any)) = []byte(row[6].(string))

	out, err := s.Decode(dest)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !out.Timestamp.Equal(in.Timestamp) || out.DeviceError != in.DeviceError || out.NetworkError != in.NetworkError {
		t.Errorf("header mismatch: %+v vs %+v", out.Header, in.Header)
	}
	if out.Label != in.Label || out.Count != in.Count || out.Active != in.Active || out.Level != in.Level {
		t.Errorf("payload mismatch: %+v vs %+v", out, in)
	}
	if string(out.Raw) != string(in.Raw) {
		t.Errorf("raw mismatch: %v vs %v", out.Raw, in.Raw)
	}
	if !out.Started.Equal(in.Started) {
		t.Errorf("started mismatch: %v vs %v", out.Started, in.Started)
	}
}

func TestTimeEncodingSorts(t *testing.T) {
	earlier := FormatTime(time.Date(2024, 1, 9, 23, 59, 59, 999_000_000, time.UTC))
	later := FormatTime(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	if !(earlier < later) {
		t.Errorf("expected %s < %s", earlier, later)
	}

	parsed, err := ParseTime(later)
	if err != nil {
		t.Fatalf("ParseTime failed: %v", err)
	}
	if parsed.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", parsed.Location())
	}
}

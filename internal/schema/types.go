package schema

import (
	"fmt"
	"time"
)

// SemanticType is the storage-independent type of a payload field.
type SemanticType int

const (
	Text SemanticType = iota + 1
	Time
	Integer
	Boolean
	Float
	Binary
)

func (t SemanticType) String() string {
	switch t {
	case Text:
		return "text"
	case Time:
		return "time"
	case Integer:
		return "integer"
	case Boolean:
		return "boolean"
	case Float:
		return "float"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("SemanticType(%d)", int(t))
	}
}

var columnTypes = map[SemanticType]string{
	Text:    "TEXT",
	Time:    "TEXT",
	Integer: "INTEGER",
	Boolean: "INTEGER",
	Float:   "REAL",
	Binary:  "BLOB",
}

// ColumnType returns the relational column type for t.
func ColumnType(t SemanticType) (string, error) {
	typ, ok := columnTypes[t]
	if !ok {
		return "", fmt.Errorf("unsupported semantic type %s", t)
	}
	return typ, nil
}

// TimeLayout is the sortable text encoding of timestamps.
const TimeLayout = "2006-01-02T15:04:05.000"

// FormatTime encodes t as UTC text with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes text written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}

// Field describes one payload column of T.
type Field[T any] struct {
	Name   string
	Type   SemanticType
	Encode func(*T) any
	Decode func(*T, any) error
}

// TextField declares a string field.
func TextField[T any](name string, get func(*T) string, set func(*T, string)) Field[T] {
	return Field[T]{
		Name:   name,
		Type:   Text,
		Encode: func(m *T) any { return get(m) },
		Decode: func(m *T, v any) error {
			s, err := asString(v)
			if err != nil {
				return err
			}
			set(m, s)
			return nil
		},
	}
}

// TimeField declares a timestamp payload field, stored like the row timestamp.
func TimeField[T any](name string, get func(*T) time.Time, set func(*T, time.Time)) Field[T] {
	return Field[T]{
		Name:   name,
		Type:   Time,
		Encode: func(m *T) any { return FormatTime(get(m)) },
		Decode: func(m *T, v any) error {
			if v == nil {
				set(m, time.Time{})
				return nil
			}
			t, err := decodeTime(v)
			if err != nil {
				return err
			}
			set(m, t)
			return nil
		},
	}
}

// IntField declares an integral field.
func IntField[T any](name string, get func(*T) int64, set func(*T, int64)) Field[T] {
	return Field[T]{
		Name:   name,
		Type:   Integer,
		Encode: func(m *T) any { return get(m) },
		Decode: func(m *T, v any) error {
			n, err := asInt64(v)
			if err != nil {
				return err
			}
			set(m, n)
			return nil
		},
	}
}

// BoolField declares a boolean field, stored as 0/1.
func BoolField[T any](name string, get func(*T) bool, set func(*T, bool)) Field[T] {
	return Field[T]{
		Name:   name,
		Type:   Boolean,
		Encode: func(m *T) any { return encodeBool(get(m)) },
		Decode: func(m *T, v any) error {
			b, err := decodeBool(v)
			if err != nil {
				return err
			}
			set(m, b)
			return nil
		},
	}
}

// FloatField declares a floating point field.
func FloatField[T any](name string, get func(*T) float64, set func(*T, float64)) Field[T] {
	return Field[T]{
		Name:   name,
		Type:   Float,
		Encode: func(m *T) any { return get(m) },
		Decode: func(m *T, v any) error {
			f, err := asFloat64(v)
			if err != nil {
				return err
			}
			set(m, f)
			return nil
		},
	}
}

// BlobField declares a binary field.
func BlobField[T any](name string, get func(*T) []byte, set func(*T, []byte)) Field[T] {
	return Field[T]{
		Name:   name,
		Type:   Binary,
		Encode: func(m *T) any { return get(m) },
		Decode: func(m *T, v any) error {
			switch b := v.(type) {
			case nil:
				set(m, nil)
			case []byte:
				set(m, append([]byte(nil), b...))
			case string:
				set(m, []byte(b))
			default:
				return fmt.Errorf("cannot decode %T as binary", v)
			}
			return nil
		},
	}
}

func encodeBool(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func decodeBool(v any) (bool, error) {
	n, err := asInt64(v)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	default:
		s, err := asString(v)
		if err != nil {
			return time.Time{}, err
		}
		return ParseTime(s)
	}
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		return encodeBool(n), nil
	default:
		return 0, fmt.Errorf("cannot decode %T as integer", v)
	}
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("cannot decode %T as float", v)
	}
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", fmt.Errorf("cannot decode %T as text", v)
	}
}

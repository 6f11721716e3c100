package source

import (
	"fmt"
	"strconv"
	"time"
)

// Normalize walks an arbitrary JSON-like value and rewrites it into a form
// that serializes cleanly and reads well in a cache viewer: byte slices
// become UTF-8 strings, timestamps become ISO-8601 strings, decimal strings
// from the driver become floats, and containers are recursed. Anything
// unrecognized is stringified rather than failing; a malformed value must
// never crash the pipeline.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	case []byte:
		return normalizeBytes(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	default:
		return fmt.Sprintf("%v", val)
	}
}

// normalizeBytes handles the MySQL driver's habit of returning DECIMAL and
// text columns as []byte. Exact numerics become float64 so the serialized
// payload carries numbers, not quoted strings; everything else is decoded as
// text.
func normalizeBytes(b []byte) interface{} {
	s := string(b)
	if f, err := strconv.ParseFloat(s, 64); err == nil && looksNumeric(s) {
		return f
	}
	return s
}

// looksNumeric guards against ParseFloat accepting strings like "1e5" or
// "Inf" that were almost certainly meant as text.
func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '-' && i == 0:
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return true
}

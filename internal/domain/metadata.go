package domain

import (
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

// Metadata is a string-keyed mapping restricted to primitive values:
// string, bool, and integer or floating point numbers.
type Metadata map[string]any

// Validate checks that every value belongs to the allowed primitive set.
func (m Metadata) Validate() error {
	for k, v := range m {
		switch v.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return goerr.Wrap(ErrInvalidRequest, "unsupported metadata value type",
				goerr.V("key", k), goerr.V("type", fmt.Sprintf("%T", v)))
		}
	}
	return nil
}

// Clone returns a shallow copy; values are primitives so it is a full copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns the value under key rendered as text, or "" when absent.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MetadataFromFields builds metadata from normalized record fields.
func MetadataFromFields(fields map[string]string) Metadata {
	out := make(Metadata, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

package model

import "github.com/m-mizutani/goerr/v2"

// Metadata holds the named fields attached to an indexed record. Values
// come from JSON, so numbers arrive as float64 and everything else as
// string.
type Metadata map[string]any

// String returns the named field as a string, or "N/A" when the field is
// missing. A non-string value is rendered as-is only if it already is a
// string; anything else counts as missing.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok {
		return "N/A"
	}
	s, ok := v.(string)
	if !ok {
		return "N/A"
	}
	return s
}

// Number returns the named field as a float64. A missing field yields 0,
// matching the index convention that absent pay fields mean zero. A field
// that is present but not numeric is an error so the caller can skip the
// whole record.
func (m Metadata) Number(key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, goerr.New("metadata field is not numeric", goerr.V("key", key), goerr.V("value", v))
	}
}

// Match is one retrieved neighbor from the vector index, ordered by the
// index's own similarity ranking.
type Match struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// IndexStats is the summary returned by the index data plane. Dimension is
// checked once at startup against the embedding model.
type IndexStats struct {
	Dimension        int   `json:"dimension"`
	TotalVectorCount int64 `json:"totalVectorCount"`
}

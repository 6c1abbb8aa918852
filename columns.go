package skydb

import "github.com/maruel/skydb/internal/key"

// Columns is the caller-facing row batch: parallel column slices of equal
// length, keyed by (possibly aliased) column name. This is the Go
// rendering of the reference implementation's "dict-like or pairwise
// sequence" input: a single canonical map-of-slices, with aliases
// resolved at ingress by Append.
type Columns map[string][]any

// Len returns the row count of the batch: the length of an arbitrary
// column, or 0 if empty. Callers should use checkLen to validate that
// every column actually agrees on this before trusting it.
func (c Columns) Len() int {
	for _, v := range c {
		return len(v)
	}
	return 0
}

// checkLen reports the first column (if any) whose length disagrees with
// n, so Append can reject a ragged batch instead of panicking on an
// out-of-bounds index later.
func (c Columns) checkLen(n int) (badColumn string, ok bool) {
	for name, v := range c {
		if len(v) != n {
			return name, false
		}
	}
	return "", true
}

func (c Columns) clone() Columns {
	out := make(Columns, len(c))
	for k, v := range c {
		cp := make([]any, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// toKey normalizes a primary-key cell value: callers may supply either a
// key.Key, a uint64, or leave it absent (nil => zero key).
func toKey(v any) key.Key {
	switch x := v.(type) {
	case key.Key:
		return x
	case uint64:
		return key.Key(x)
	case int64:
		return key.Key(uint64(x))
	case nil:
		return 0
	default:
		return 0
	}
}

// toFloat normalizes a spatial/temporal cell value.
func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}


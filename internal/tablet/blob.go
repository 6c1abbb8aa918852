// Blob dedup: identity-based, batch-scoped — never content hashing.
//
// Go values don't carry Python-style identity for arbitrary types, but
// pointers, slices, and maps do carry an underlying data address that two
// variables can share. Dedup here recognizes sharing exactly there: two
// blob values dedup to one stored entry only if they are pointer-equal
// (same *T), or the same map, or slices backed by the same underlying
// array. Plain value types (ints, strings, structs passed by value) have
// no such identity to share, so each occurrence is its own unique value —
// which is the correct behavior per spec: content equality is not
// identity.

package tablet

import "reflect"

// identity returns a comparable key for v's pointer identity, and whether
// v has one at all. Nil pointers/maps/slices are treated as the sentinel,
// not as a shareable identity.
func identity(v any) (key any, has bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return nil, false
		}
		return rv.Pointer(), true
	case reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
		return rv.Pointer(), true
	default:
		return nil, false
	}
}

// DedupBatch deduplicates a batch of incoming blob values by identity and
// appends the unique non-sentinel values to arr, in encounter order.
// Returns one ref per input value: 0 for a sentinel (nil) value, otherwise
// the absolute index the value (or its first identity-equal occurrence)
// was appended at.
func DedupBatch(arr *BlobArray, values []any) []int {
	refs := make([]int, len(values))
	seen := make(map[any]int, len(values))
	var unique []any
	for i, v := range values {
		if v == nil {
			refs[i] = 0
			continue
		}
		if k, has := identity(v); has {
			if idx, ok := seen[k]; ok {
				refs[i] = idx
				continue
			}
			idx := arr.Len() + len(unique)
			seen[k] = idx
			unique = append(unique, v)
			refs[i] = idx
			continue
		}
		// No identity to share: always a fresh, unique entry.
		idx := arr.Len() + len(unique)
		unique = append(unique, v)
		refs[i] = idx
	}
	arr.Append(unique)
	return refs
}

// LoadRefs resolves a batch of absolute (already-unsigned) references
// against arr, deduplicating repeated refs to a single array access and
// broadcasting the result back to refs' shape and order — the read-side
// counterpart of DedupBatch's write-side dedup.
func LoadRefs(arr *BlobArray, refs []int) ([]any, error) {
	out := make([]any, len(refs))
	cache := make(map[int]any, len(refs))
	for i, r := range refs {
		if v, ok := cache[r]; ok {
			out[i] = v
			continue
		}
		v, err := arr.Get(r)
		if err != nil {
			return nil, err
		}
		cache[r] = v
		out[i] = v
	}
	return out, nil
}

// RefSide records which row group a signed reference resolves against:
// SideMain for positive (and zero) refs, SideCached for negative refs,
// whose absolute index is -ref. SplitRefs produces it and Recombine
// consumes it.
type RefSide int

const (
	SideMain RefSide = iota
	SideCached
)

// SplitRefs partitions signed refs by sign, returning absolute indices per
// side plus, for each input, which side it landed on and its index within
// that side's slice (for recombination after loading).
func SplitRefs(signedRefs []int64) (mainAbs, cachedAbs []int, side []RefSide, posInSide []int) {
	side = make([]RefSide, len(signedRefs))
	posInSide = make([]int, len(signedRefs))
	for i, r := range signedRefs {
		if r < 0 {
			side[i] = SideCached
			posInSide[i] = len(cachedAbs)
			cachedAbs = append(cachedAbs, int(-r))
		} else {
			side[i] = SideMain
			posInSide[i] = len(mainAbs)
			mainAbs = append(mainAbs, int(r))
		}
	}
	return mainAbs, cachedAbs, side, posInSide
}

// Recombine merges main/cached load results back into original order
// using the bookkeeping SplitRefs produced.
func Recombine(mainVals, cachedVals []any, side []RefSide, posInSide []int) []any {
	out := make([]any, len(side))
	for i, s := range side {
		if s == SideMain {
			out[i] = mainVals[posInSide[i]]
		} else {
			out[i] = cachedVals[posInSide[i]]
		}
	}
	return out
}

// Package sliceutil provides generic slice manipulation utilities.
package sliceutil

// Deduplicate removes duplicate items from a slice while preserving order.
// The keyFunc extracts a unique key from each item for comparison.
// Only the first occurrence of each key is kept.
//
// Example:
//
//	recs := []catalog.CourseRecord{{ID: "a"}, {ID: "b"}, {ID: "a"}}
//	unique := sliceutil.Deduplicate(recs, func(r catalog.CourseRecord) string { return r.ID })
//	// Result: [{ID: "a"}, {ID: "b"}]
func Deduplicate[T any, K comparable](items []T, keyFunc func(T) K) []T {
	if len(items) == 0 {
		return items
	}

	seen := make(map[K]bool, len(items))
	result := make([]T, 0, len(items))

	for _, item := range items {
		key := keyFunc(item)
		if !seen[key] {
			seen[key] = true
			result = append(result, item)
		}
	}

	return result
}

// Union concatenates lists and keeps the first occurrence of each value.
// Returns nil when the result is empty.
func Union[T comparable](lists ...[]T) []T {
	var all []T
	for _, l := range lists {
		all = append(all, l...)
	}
	out := Deduplicate(all, func(v T) T { return v })
	if len(out) == 0 {
		return nil
	}
	return out
}

// Head returns at most n leading items without copying.
func Head[T any](items []T, n int) []T {
	if n < 0 {
		n = 0
	}
	return items[:min(n, len(items))]
}

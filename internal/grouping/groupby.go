// Package grouping partitions reactions by protocol version and experiment
// header, and folds each header group into fingerprint buckets and the
// sampling space.
package grouping

import (
	"cmp"
	"slices"
)

// Bucket is one maximal run of equal keys.
type Bucket[K cmp.Ordered, T any] struct {
	Key     K
	Members []T
}

// GroupBy stable-sorts items by key and partitions them into runs of equal
// key. Buckets are in ascending key order and members keep their relative
// input order. The input slice is not modified.
func GroupBy[T any, K cmp.Ordered](items []T, key func(T) K) []Bucket[K, T] {
	type keyed struct {
		key  K
		item T
	}
	sorted := make([]keyed, len(items))
	for i, item := range items {
		sorted[i] = keyed{key: key(item), item: item}
	}
	slices.SortStableFunc(sorted, func(a, b keyed) int { return cmp.Compare(a.key, b.key) })

	var out []Bucket[K, T]
	for _, k := range sorted {
		if n := len(out); n > 0 && out[n-1].Key == k.key {
			out[n-1].Members = append(out[n-1].Members, k.item)
			continue
		}
		out = append(out, Bucket[K, T]{Key: k.key, Members: []T{k.item}})
	}
	return out
}

// Index returns the buckets as a key to members map.
func Index[K cmp.Ordered, T any](buckets []Bucket[K, T]) map[K][]T {
	out := make(map[K][]T, len(buckets))
	for _, b := range buckets {
		out[b.Key] = b.Members
	}
	return out
}

package cache

import (
	"cmp"
	"maps"
	"slices"
)

type set[K comparable] map[K]struct{}

func (s set[K]) has(k K) bool {
	_, ok := s[k]
	return ok
}

func addTo[G, K comparable](m map[G]set[K], group G, k K) {
	s, ok := m[group]
	if !ok {
		s = make(set[K])
		m[group] = s
	}
	s[k] = struct{}{}
}

func sortedKeys[K cmp.Ordered](s set[K]) []K {
	return slices.Sorted(maps.Keys(s))
}

// intersect returns the sorted members of a, restricted to b when filter is set.
func intersect[K cmp.Ordered](a, b set[K], filter bool) []K {
	if !filter {
		return sortedKeys(a)
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	out := make([]K, 0, len(small))
	for k := range small {
		if large.has(k) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func countIntersect[K comparable](a, b set[K], filter bool) int {
	if !filter {
		return len(a)
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	n := 0
	for k := range small {
		if large.has(k) {
			n++
		}
	}
	return n
}

// Package changes diffs an incoming record set against the active records of
// a realm.
//
// Detection is the same for every kind: index the active records by natural
// key, stream the incoming records (first occurrence of a key wins) and
// classify each as added, modified or unchanged; active keys that never
// appeared are removed. Only business fields take part in equality.
package changes

// Pair is a modified record with its currently active version.
type Pair[T any] struct {
	Old T
	New T
}

// Set is the change set of one entity kind.
type Set[T any] struct {
	Added    []T
	Modified []Pair[T]
	Removed  []T
	// Unchanged counts incoming records equal to their active version.
	Unchanged int
	// CurrentDuplicates counts active records sharing a key with an earlier one.
	CurrentDuplicates int
	// IncomingDuplicates counts incoming records skipped as repeated keys.
	IncomingDuplicates int
}

// Changed returns the number of keys the set touches.
func (s Set[T]) Changed() int {
	return len(s.Added) + len(s.Modified) + len(s.Removed)
}

// Empty reports whether nothing changed.
func (s Set[T]) Empty() bool {
	return s.Changed() == 0
}

// DeactivateKeys lists the keys whose active version must be closed: every
// modified and removed key, in that order.
func (s Set[T]) DeactivateKeys(key func(T) string) []string {
	out := make([]string, 0, len(s.Modified)+len(s.Removed))
	for _, p := range s.Modified {
		out = append(out, key(p.Old))
	}
	for _, r := range s.Removed {
		out = append(out, key(r))
	}
	return out
}

// Inserts lists the records that become active: every added and modified
// record, in that order.
func (s Set[T]) Inserts() []T {
	out := make([]T, 0, len(s.Added)+len(s.Modified))
	out = append(out, s.Added...)
	for _, p := range s.Modified {
		out = append(out, p.New)
	}
	return out
}

// Detect computes the change set between incoming and current. equal
// receives the active version first.
func Detect[T any](incoming, current []T, key func(T) string, equal func(old, next T) bool) Set[T] {
	var set Set[T]

	index := make(map[string]T, len(current))
	order := make([]string, 0, len(current))
	for _, c := range current {
		k := key(c)
		if _, dup := index[k]; dup {
			set.CurrentDuplicates++
			continue
		}
		index[k] = c
		order = append(order, k)
	}

	seen := make(map[string]struct{}, len(incoming))
	for _, in := range incoming {
		k := key(in)
		if _, dup := seen[k]; dup {
			set.IncomingDuplicates++
			continue
		}
		seen[k] = struct{}{}

		old, ok := index[k]
		switch {
		case !ok:
			set.Added = append(set.Added, in)
		case !equal(old, in):
			set.Modified = append(set.Modified, Pair[T]{Old: old, New: in})
		default:
			set.Unchanged++
		}
	}

	for _, k := range order {
		if _, ok := seen[k]; !ok {
			set.Removed = append(set.Removed, index[k])
		}
	}
	return set
}

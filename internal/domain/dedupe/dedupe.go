// Package dedupe tracks natural keys so that the first occurrence of a key
// wins and later ones are reported as duplicates.
package dedupe

import (
	"sync"
)

// Deduper records seen natural keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	SeenAndRecord(key string) bool

	// Unrecord removes a key so that a later occurrence is accepted again.
	Unrecord(key string)

	// Duplicates returns how many SeenAndRecord calls hit an existing key.
	Duplicates() int

	// Sample returns up to the configured number of duplicate keys, in the
	// order they were first detected.
	Sample() []string

	Size() int
}

// keySet implements Deduper with a map. The sample is bounded, the key set is not.
type keySet struct {
	mu         sync.Mutex
	seen       map[string]struct{}
	duplicates int
	sample     []string
	sampleSize int
	expected   int
}

// New creates a deduper with configuration options.
func New(opts ...Option) Deduper {
	d := &keySet{
		sampleSize: 10,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]struct{}, d.capacity())
	return d
}

func (d *keySet) capacity() int {
	if d.expected > 0 {
		return d.expected
	}
	return 0
}

func (d *keySet) SeenAndRecord(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		d.duplicates++
		if len(d.sample) < d.sampleSize && !contains(d.sample, key) {
			d.sample = append(d.sample, key)
		}
		return true
	}
	d.seen[key] = struct{}{}
	return false
}

func (d *keySet) Unrecord(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

func (d *keySet) Duplicates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duplicates
}

func (d *keySet) Sample() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sample))
	copy(out, d.sample)
	return out
}

func (d *keySet) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// Result describes one first-occurrence-wins pass over a list.
type Result[T any] struct {
	Kept       []T
	Dropped    []T
	Duplicates []string // bounded sample of duplicated keys
}

// Unique keeps the first item for every key and drops later ones, preserving
// input order.
func Unique[T any](items []T, key func(T) string, opts ...Option) Result[T] {
	d := New(opts...)
	res := Result[T]{Kept: make([]T, 0, len(items))}
	for _, item := range items {
		if d.SeenAndRecord(key(item)) {
			res.Dropped = append(res.Dropped, item)
			continue
		}
		res.Kept = append(res.Kept, item)
	}
	res.Duplicates = d.Sample()
	return res
}

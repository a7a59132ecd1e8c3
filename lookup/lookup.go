// Package lookup provides methods for building in-memory indexes of
// tile fingerprints and perceptual image hashes from tiling manifests,
// in order to spot duplicate tiles within or across datasets.
package lookup

import (
	"context"
	"io"
	"sync"
)

// AppendLookupFunc is a function that derives lookup keys from a single
// manifest document and appends them to 'lookup_table'.
type AppendLookupFunc func(ctx context.Context, lookup_table *sync.Map, r io.ReadCloser) error

// LookerUpper is an interface for locating manifest documents and
// appending their lookup keys to a shared table.
type LookerUpper interface {
	Open(ctx context.Context, uri string) error
	Append(ctx context.Context, lookup_table *sync.Map, append_funcs ...AppendLookupFunc) error
}

// Matches accumulates the tile file names recorded for a single lookup
// key.
type Matches struct {
	mu    *sync.Mutex
	names []string
}

func NewMatches() *Matches {

	m := &Matches{
		mu:    new(sync.Mutex),
		names: make([]string, 0),
	}

	return m
}

func (m *Matches) Append(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
}

func (m *Matches) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.names))
	copy(names, m.names)
	return names
}

// AppendMatch records 'name' under 'key' in 'lookup_table', creating
// the match set on first use.
func AppendMatch(lookup_table *sync.Map, key string, name string) {
	v, _ := lookup_table.LoadOrStore(key, NewMatches())
	v.(*Matches).Append(name)
}

// NewLookupMap builds a lookup table from one or more 'lookers',
// processed concurrently, applying 'append_funcs' to every manifest
// document each looker yields.
func NewLookupMap(ctx context.Context, lookers []LookerUpper, append_funcs ...AppendLookupFunc) (*sync.Map, error) {

	lookup_table := new(sync.Map)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done_ch := make(chan bool)
	err_ch := make(chan error)

	for _, l := range lookers {

		go func(l LookerUpper) {

			defer func() {
				done_ch <- true
			}()

			err := l.Append(ctx, lookup_table, append_funcs...)

			if err != nil {
				err_ch <- err
			}

		}(l)
	}

	remaining := len(lookers)

	for remaining > 0 {
		select {
		case <-done_ch:
			remaining -= 1
		case err := <-err_ch:
			return nil, err
		}
	}

	return lookup_table, nil
}

// Duplicates returns, keyed by lookup key, every match set holding more
// than one tile. Names within a match set are reported in the order
// they were appended.
func Duplicates(lookup_table *sync.Map) map[string][]string {

	dupes := make(map[string][]string)

	lookup_table.Range(func(k interface{}, v interface{}) bool {

		names := v.(*Matches).Names()

		if len(names) > 1 {
			dupes[k.(string)] = names
		}

		return true
	})

	return dupes
}

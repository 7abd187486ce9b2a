// Package state publishes normalized printer state to external stores.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by ReadLast for paths that were never published.
var ErrNotFound = errors.New("state not found")

// Sink receives published values and serves the last value of a path.
type Sink interface {
	Publish(ctx context.Context, path string, value any) error
	ReadLast(ctx context.Context, path string) (any, error)
}

// Memory is an in-process Sink. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{values: make(map[string]any)}
}

// Publish implements Sink
func (m *Memory) Publish(_ context.Context, path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[path] = value
	return nil
}

// ReadLast implements Sink
func (m *Memory) ReadLast(_ context.Context, path string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return v, nil
}

// Values returns a copy of every stored path.
func (m *Memory) Values() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Paths returns the stored paths in sorted order.
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.values))
	for k := range m.values {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// Fanout publishes to several sinks. A failing sink is logged and does
// not stop the others. ReadLast asks each sink in order and returns the
// first hit.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a Fanout over sinks. Nil entries are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Publish implements Sink. It returns the first error seen after trying
// every sink.
func (f *Fanout) Publish(ctx context.Context, path string, value any) error {
	var first error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, path, value); err != nil {
			log.Warn().Err(err).Str("path", path).Str("sink", fmt.Sprintf("%T", s)).Msg("Failed to publish state")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// ReadLast implements Sink
func (f *Fanout) ReadLast(ctx context.Context, path string) (any, error) {
	for _, s := range f.sinks {
		v, err := s.ReadLast(ctx, path)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			log.Debug().Err(err).Str("path", path).Msg("State read failed, trying next sink")
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
}

// Int64 converts a value read back from a sink. Sinks that round-trip
// through JSON hand back float64 or json.Number.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// String converts a value read back from a sink.
func String(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

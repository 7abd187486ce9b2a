package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/sdcp-bridge/sdcp-bridge/internal/state"
)

// NATSSink publishes state on "<prefix>.<path>" and keeps the last value
// of every path in a JetStream KV bucket for ReadLast. KV writes are
// coalesced and flushed by a background goroutine so Publish never waits
// on the server.
type NATSSink struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	prefix string

	mu      sync.Mutex
	dirty   map[string][]byte
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// NewNATSSink creates the sink. When bucket is empty no KV bucket is used
// and ReadLast always reports state.ErrNotFound.
func NewNATSSink(ctx context.Context, nc *nats.Conn, prefix, bucket string) (*NATSSink, error) {
	s := &NATSSink{
		nc:      nc,
		prefix:  prefix,
		dirty:   make(map[string][]byte),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if bucket != "" {
		kv, err := openBucket(ctx, nc, bucket)
		if err != nil {
			return nil, err
		}
		s.kv = kv
	}

	go s.flushLoop()
	return s, nil
}

func openBucket(ctx context.Context, nc *nats.Conn, bucket string) (jetstream.KeyValue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Last published printer state",
		History:     1,
	})
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			return js.KeyValue(ctx, bucket)
		}
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}

	log.Info().Str("bucket", bucket).Msg("Created state KV bucket")
	return kv, nil
}

// Subject returns the subject a path is published on.
func Subject(prefix, path string) string {
	if prefix == "" {
		return path
	}
	return prefix + "." + path
}

// Publish implements state.Sink
func (s *NATSSink) Publish(_ context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	if !state.IsControl(path) {
		if err := s.nc.Publish(Subject(s.prefix, path), data); err != nil {
			return fmt.Errorf("publish %s: %w", path, err)
		}
	}

	if s.kv != nil {
		s.mu.Lock()
		s.dirty[path] = data
		s.mu.Unlock()
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// ReadLast implements state.Sink
func (s *NATSSink) ReadLast(ctx context.Context, path string) (any, error) {
	s.mu.Lock()
	data, ok := s.dirty[path]
	s.mu.Unlock()

	if !ok {
		if s.kv == nil {
			return nil, fmt.Errorf("%s: %w", path, state.ErrNotFound)
		}
		entry, err := s.kv.Get(ctx, path)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return nil, fmt.Errorf("%s: %w", path, state.ErrNotFound)
			}
			return nil, fmt.Errorf("kv get %s: %w", path, err)
		}
		data = entry.Value()
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

func (s *NATSSink) flushLoop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *NATSSink) flush() {
	s.mu.Lock()
	batch := make(map[string][]byte, len(s.dirty))
	for k, v := range s.dirty {
		batch[k] = v
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for key, data := range batch {
		if _, err := s.kv.Put(ctx, key, data); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to store state in KV")
			continue
		}
		s.mu.Lock()
		// A newer value may have arrived while writing.
		if cur, ok := s.dirty[key]; ok && string(cur) == string(data) {
			delete(s.dirty, key)
		}
		s.mu.Unlock()
	}
}

// Close flushes pending KV writes and stops the writer.
func (s *NATSSink) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	<-s.stopped
}

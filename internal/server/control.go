package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/sdcp-bridge/sdcp-bridge/internal/command"
)

// Executor runs an external trigger.
type Executor interface {
	Execute(ctx context.Context, action, arg string) error
}

// ControlSubscriber listens on "<prefix>.control.<action>" and hands each
// message to the dispatcher.
type ControlSubscriber struct {
	nc     *nats.Conn
	exec   Executor
	prefix string
	subs   []*nats.Subscription
}

// NewControlSubscriber creates the subscriber
func NewControlSubscriber(nc *nats.Conn, exec Executor, prefix string) *ControlSubscriber {
	return &ControlSubscriber{
		nc:     nc,
		exec:   exec,
		prefix: prefix,
		subs:   make([]*nats.Subscription, 0),
	}
}

// Start subscribes and blocks until ctx is done
func (s *ControlSubscriber) Start(ctx context.Context) error {
	subject := Subject(s.prefix, "control.*")
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		s.handleControl(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)

	log.Info().
		Str("subject", subject).
		Msg("NATS control subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

type controlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *ControlSubscriber) handleControl(ctx context.Context, msg *nats.Msg) {
	action := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]

	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received control message")

	arg, fire := command.ParseTrigger(msg.Data)
	if !fire {
		return
	}

	reply := controlReply{OK: true}
	if err := s.exec.Execute(ctx, action, arg); err != nil {
		log.WithLevel(command.FailureLevel(err)).Err(err).Str("action", action).Msg("Control action failed")
		reply = controlReply{OK: false, Error: err.Error()}
	}

	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		log.Error().Err(err).Msg("Failed to reply to control message")
	}
}

package integration

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/sdcp-bridge/sdcp-bridge/internal/command"
	"github.com/sdcp-bridge/sdcp-bridge/internal/state"
)

// MQTTConfig MQTT broker settings
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TLS         bool
	QoS         byte
	TopicPrefix string
}

// Executor runs an external trigger.
type Executor interface {
	Execute(ctx context.Context, action, arg string) error
}

// MQTTBridge mirrors printer state to retained MQTT topics and accepts
// commands on "<prefix>/control/<action>".
type MQTTBridge struct {
	cfg    MQTTConfig
	client mqtt.Client
	exec   Executor

	mu   sync.RWMutex
	last map[string]any
}

// Topic maps a state path onto an MQTT topic.
func Topic(prefix, path string) string {
	t := strings.ReplaceAll(path, ".", "/")
	if prefix == "" {
		return t
	}
	return strings.TrimSuffix(prefix, "/") + "/" + t
}

// NewMQTTBridge creates the bridge. exec may be nil to disable commands.
func NewMQTTBridge(cfg MQTTConfig, exec Executor) *MQTTBridge {
	b := &MQTTBridge{
		cfg:  cfg,
		exec: exec,
		last: make(map[string]any),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetWill(Topic(cfg.TopicPrefix, state.PathConnection), "false", cfg.QoS, true)

	// Subscriptions are restored on every (re)connect.
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().
			Str("broker", cfg.BrokerURL).
			Msg("MQTT client connected")
		b.subscribe(client)
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().
			Err(err).
			Str("broker", cfg.BrokerURL).
			Msg("MQTT connection lost")
	})

	b.client = mqtt.NewClient(opts)
	return b
}

// SetExecutor sets the command target. Call it before Connect.
func (b *MQTTBridge) SetExecutor(exec Executor) {
	b.exec = exec
}

// Connect connects to the broker
func (b *MQTTBridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Close disconnects from the broker
func (b *MQTTBridge) Close() {
	if b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

func (b *MQTTBridge) subscribe(client mqtt.Client) {
	// Retained counter published by a previous run.
	countTopic := Topic(b.cfg.TopicPrefix, state.PathAlertCount)
	client.Subscribe(countTopic, b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		var v any
		if err := json.Unmarshal(msg.Payload(), &v); err == nil {
			b.mu.Lock()
			if _, seen := b.last[state.PathAlertCount]; !seen {
				b.last[state.PathAlertCount] = v
			}
			b.mu.Unlock()
		}
	})

	if b.exec == nil {
		return
	}
	controlTopic := Topic(b.cfg.TopicPrefix, "control/+")
	token := client.Subscribe(controlTopic, b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		b.handleControl(msg.Topic(), msg.Payload(), msg.Retained())
	})
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", controlTopic).Msg("Failed to subscribe to MQTT control topic")
		}
	}()
}

func (b *MQTTBridge) handleControl(topic string, payload []byte, retained bool) {
	// Retained control messages are stale presses from before we connected.
	if retained {
		return
	}

	action := topic[strings.LastIndex(topic, "/")+1:]
	arg, fire := command.ParseTrigger(payload)
	if !fire {
		return
	}

	log.Debug().
		Str("topic", topic).
		Str("action", action).
		Msg("Received MQTT control message")

	if err := b.exec.Execute(context.Background(), action, arg); err != nil {
		log.WithLevel(command.FailureLevel(err)).Err(err).Str("action", action).Msg("Control action failed")
	}
}

// Publish implements state.Sink. Values are published retained; the
// broker acknowledgement is checked in the background.
func (b *MQTTBridge) Publish(_ context.Context, path string, value any) error {
	b.mu.Lock()
	b.last[path] = value
	b.mu.Unlock()

	if state.IsControl(path) {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	topic := Topic(b.cfg.TopicPrefix, path)
	token := b.client.Publish(topic, b.cfg.QoS, true, data)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Error().
				Err(token.Error()).
				Str("topic", topic).
				Msg("Failed to publish to MQTT")
		}
	}()
	return nil
}

// ReadLast implements state.Sink
func (b *MQTTBridge) ReadLast(_ context.Context, path string) (any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.last[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, state.ErrNotFound)
	}
	return v, nil
}

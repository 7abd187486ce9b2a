package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/sdcp-bridge/sdcp-bridge/internal/alert"
	"github.com/sdcp-bridge/sdcp-bridge/internal/api"
	"github.com/sdcp-bridge/sdcp-bridge/internal/clock"
	"github.com/sdcp-bridge/sdcp-bridge/internal/command"
	"github.com/sdcp-bridge/sdcp-bridge/internal/config"
	"github.com/sdcp-bridge/sdcp-bridge/internal/discovery"
	"github.com/sdcp-bridge/sdcp-bridge/internal/integration"
	"github.com/sdcp-bridge/sdcp-bridge/internal/metrics"
	"github.com/sdcp-bridge/sdcp-bridge/internal/server"
	"github.com/sdcp-bridge/sdcp-bridge/internal/session"
	"github.com/sdcp-bridge/sdcp-bridge/internal/state"
	"github.com/sdcp-bridge/sdcp-bridge/internal/storage"
	"github.com/sdcp-bridge/sdcp-bridge/internal/transport"
	"github.com/sdcp-bridge/sdcp-bridge/pkg/crypto"
)

func main() {
	var (
		configFile   string
		host         string
		validate     bool
		showConfig   bool
		hashPassword string
		genSecret    bool
	)
	flag.StringVar(&configFile, "config", "config/sdcp-bridge.yml", "Configuration file path")
	flag.StringVar(&host, "host", "", "Printer host (overrides config)")
	flag.BoolVar(&validate, "validate", false, "Validate the configuration and exit")
	flag.BoolVar(&showConfig, "show-config", false, "Print the effective configuration and exit")
	flag.StringVar(&hashPassword, "hash-password", "", "Print a bcrypt hash for jwt.admin_password_hash and exit")
	flag.BoolVar(&genSecret, "gen-secret", false, "Print a random jwt.secret and exit")
	flag.Parse()

	if hashPassword != "" {
		hash, err := crypto.HashPassword(hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}
	if genSecret {
		secret, err := crypto.GenerateRandomString(32)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(secret)
		return
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if host != "" {
		cfg.Printer.Host = host
	}

	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if validate || showConfig {
		cfg.PrintConfigSummary()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	dialer := transport.NewWebSocketDialer()
	dialer.HandshakeTimeout = cfg.Printer.DialTimeout.Duration
	dialer.PongWait = cfg.Printer.HeartbeatInterval.Duration * 5 / 2

	memory := state.NewMemory()
	sinks := []state.Sink{memory}

	// NATS: state subjects, KV bucket and control subjects
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = connectNATS(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")

			natsSink, err := server.NewNATSSink(ctx, nc, cfg.NATS.SubjectPrefix, cfg.NATS.Bucket)
			if err != nil {
				log.Warn().Err(err).Msg("JetStream KV unavailable, publishing without last-value store")
				natsSink, err = server.NewNATSSink(ctx, nc, cfg.NATS.SubjectPrefix, "")
			}
			if err == nil {
				defer natsSink.Close()
				sinks = append(sinks, natsSink)
			}
		}
	} else {
		log.Info().Msg("NATS not configured")
	}

	// MQTT: retained state topics and control topics
	var bridge *integration.MQTTBridge
	if cfg.MQTT.Broker != "" {
		bridge = integration.NewMQTTBridge(integration.MQTTConfig{
			BrokerURL:   cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TLS:         cfg.MQTT.TLS,
			QoS:         byte(cfg.MQTT.QoS),
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, nil)
		sinks = append(sinks, bridge)
	}

	sink := state.NewFanout(sinks...)

	// Event history
	var (
		events   api.EventLister
		recorder session.Recorder
		store    *storage.PostgresStore
	)
	if cfg.Database.DSN != "" {
		store, err = storage.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to database, event history disabled")
		} else {
			defer store.Close()
			log.Info().Msg("Connected to database")
			rec := storage.NewRecorder(store, cfg.Database.QueueSize, log.Logger)
			defer rec.Close()
			recorder = rec
			events = store
		}
	}

	// Printer address
	printerHost := discovery.Resolve(ctx, dialer, cfg.Printer.Host, cfg.Discovery.Enabled, discovery.Options{
		Port:        cfg.Printer.Port,
		Timeout:     cfg.Discovery.Timeout.Duration,
		Concurrency: cfg.Discovery.Concurrency,
	})
	if printerHost != cfg.Printer.Host {
		log.Info().Str("configured", cfg.Printer.Host).Str("found", printerHost).Msg("Using discovered printer")
	}

	sess := session.New(session.Config{
		Host:              printerHost,
		Port:              cfg.Printer.Port,
		CameraPort:        cfg.Printer.CameraPort,
		PollInterval:      cfg.Printer.PollInterval.Duration,
		HeartbeatInterval: cfg.Printer.HeartbeatInterval.Duration,
		ReconnectInterval: cfg.Printer.ReconnectInterval.Duration,
		ValidationTimeout: cfg.Printer.ValidationTimeout.Duration,
		CommandTimeout:    cfg.Printer.CommandTimeout.Duration,
		DialTimeout:       cfg.Printer.DialTimeout.Duration,
		Alerts: alert.Config{
			ClearAfter:        cfg.Alerts.ClearAfter.Duration,
			CooldownThreshold: cfg.Alerts.CooldownThreshold,
			TemperatureDelta:  cfg.Alerts.TemperatureDelta,
		},
	}, session.Deps{
		Dialer:   dialer,
		Clock:    clock.Real(),
		Sink:     sink,
		Recorder: recorder,
		Metrics:  m,
	})

	dispatcher := command.New(sess, sink)
	if cfg.Printer.PrintFile != "" {
		if _, err := sink.ReadLast(ctx, state.PathPrintFile); errors.Is(err, state.ErrNotFound) {
			if err := dispatcher.SetPrintFile(ctx, cfg.Printer.PrintFile); err != nil {
				log.Warn().Err(err).Msg("Failed to store configured print file")
			}
		}
	}

	var wg sync.WaitGroup

	if bridge != nil {
		bridge.SetExecutor(dispatcher)
		if err := bridge.Connect(); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, retrying in background")
		}
		defer bridge.Close()
	}

	if nc != nil {
		sub := server.NewControlSubscriber(nc, dispatcher, cfg.NATS.SubjectPrefix)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sub.Start(ctx); err != nil {
				log.Error().Err(err).Msg("NATS control subscriber stopped")
			}
		}()
	}

	if store != nil && cfg.Database.Retention.Duration > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneEvents(ctx, store, cfg.Database.Retention.Duration)
		}()
	}

	var apiServer *api.RESTServer
	if cfg.API.Port > 0 {
		apiServer = api.NewRESTServer(cfg, sess, dispatcher, events, m.Handler())
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
			if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("REST API server failed")
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Session stopped")
		}
	}()

	log.Info().
		Str("printer", fmt.Sprintf("%s:%d", printerHost, cfg.Printer.Port)).
		Msg("SDCP bridge started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case <-ctx.Done():
	}

	cancel()
	sess.Close()

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
		}
		shutdownCancel()
	}

	wg.Wait()

	log.Info().Msg("SDCP bridge stopped")
}

func connectNATS(cfg *config.Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.NATS.ClientID),
		nats.ReconnectWait(cfg.NATS.ReconnectInterval.Duration),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("NATS error")
		}),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password))
	}
	return nats.Connect(cfg.NATS.URL, opts...)
}

// pruneEvents deletes history older than retention once an hour.
func pruneEvents(ctx context.Context, store storage.Store, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := store.DeleteEventsBefore(ctx, time.Now().Add(-retention))
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Failed to prune event history")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Msg("Pruned event history")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

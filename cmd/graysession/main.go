// Gray Logic Session - MQTT client session manager
//
// This is the main entry point for the session manager. It keeps one MQTT
// broker session alive, restores and replays the desired subscriptions on
// every connect and routes inbound messages to their handlers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-session/migrations"

	"github.com/nerrad567/gray-logic-session/internal/api"
	"github.com/nerrad567/gray-logic-session/internal/dispatch"
	"github.com/nerrad567/gray-logic-session/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-session/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-session/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-session/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-session/internal/session"
	"github.com/nerrad567/gray-logic-session/internal/subscription"
	"github.com/nerrad567/gray-logic-session/internal/telemetry"
	"github.com/nerrad567/gray-logic-session/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// disconnectRetryInterval is how often shutdown re-requests a disconnect
// while Connect has not yet entered its loop.
const disconnectRetryInterval = 100 * time.Millisecond

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Session",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	registry := subscription.NewRegistry()
	registry.SetLogger(log.Component("registry"))

	components := make(map[string]api.HealthChecker)

	// Persisted subscriptions (optional)
	if cfg.Database.Enabled {
		db, openErr := openStore(ctx, cfg, registry, log)
		if startupCancelled(ctx, openErr) {
			log.Info("shutdown requested during startup")
			return nil
		}
		if openErr != nil {
			return openErr
		}
		components["database"] = db
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	} else {
		log.Info("subscription persistence disabled")
	}

	var opts []session.Option

	// Telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		components["influxdb"] = influxClient
		opts = append(opts, session.WithObserver(telemetry.NewRecorder(influxClient)))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, components); err != nil {
		if startupCancelled(ctx, err) {
			log.Info("shutdown requested during startup")
			return nil
		}
		return fmt.Errorf("health check failed: %w", err)
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.API.WebSocket, log.Component("api"))
		opts = append(opts, session.WithObserver(hub))
	}

	sess, err := newSession(cfg, registry, log, opts...)
	if err != nil {
		return err
	}
	if err := registerSubscriptions(sess, cfg, log); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// Status API (optional)
	if cfg.API.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.Component("api"),
			Session: sess,
			Hub:     hub,
			Version: version,

			Components: components,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := srv.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	g.Go(func() error {
		return runSession(gctx, sess, connectOptions(cfg))
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Gray Logic Session stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// GRAYLOGIC_CONFIG overrides the default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startupCancelled reports whether err is the result of ctx being cancelled
// before startup finished. That is a clean shutdown, not a failure.
func startupCancelled(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled)
}

// healthCheck verifies every enabled infrastructure dependency, in name
// order, and returns the first failure.
func healthCheck(ctx context.Context, components map[string]api.HealthChecker) error {
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := components[name].HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// openStore opens the database, applies migrations and restores persisted
// subscriptions into the registry.
func openStore(ctx context.Context, cfg *config.Config, registry *subscription.Registry, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("checking migrations: %w", err)
	}
	if len(pending) > 0 {
		log.Info("applying migrations", "pending", len(pending), "first", pending[0].Version)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	schema, err := db.SchemaVersion(ctx)
	if err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, err
	}

	registry.SetStore(subscription.NewSQLiteStore(db.DB))
	restored, err := registry.Load(ctx)
	if err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("restoring subscriptions: %w", err)
	}
	log.Info("database connected",
		"path", cfg.Database.Path,
		"schema", schema,
		"restored_subscriptions", restored,
	)

	return db, nil
}

// sessionConfig maps the YAML configuration onto a session configuration.
func sessionConfig(cfg *config.Config) (session.Config, error) {
	version, err := transport.ParseProtocolVersion(cfg.MQTT.Broker.ProtocolVersion)
	if err != nil {
		return session.Config{}, fmt.Errorf("mqtt.broker.protocol_version: %w", err)
	}
	kind, err := transport.ParseKind(cfg.MQTT.Broker.Transport)
	if err != nil {
		return session.Config{}, fmt.Errorf("mqtt.broker.transport: %w", err)
	}

	return session.Config{
		ClientID:        cfg.MQTT.Broker.ClientID,
		BrokerHost:      cfg.MQTT.Broker.Host,
		BrokerPort:      cfg.MQTT.Broker.Port,
		ProtocolVersion: version,
		Transport:       kind,
		UseTLS:          cfg.MQTT.Broker.TLS,
		AutoReconnect:   cfg.MQTT.Session.AutoReconnect,
		KeepAlive:       cfg.MQTT.KeepAlive(),
		SessionExpiry:   cfg.MQTT.SessionExpiry(),
	}, nil
}

// connectOptions builds the per-run connect options.
func connectOptions(cfg *config.Config) session.ConnectOptions {
	opts := session.ConnectOptions{
		UseTLS:        cfg.MQTT.Broker.TLS,
		AutoReconnect: cfg.MQTT.Session.AutoReconnect,
	}
	if cfg.MQTT.Auth.Username != "" {
		opts.Credentials = &session.Credentials{
			Username: cfg.MQTT.Auth.Username,
			Password: cfg.MQTT.Auth.Password,
		}
	}
	return opts
}

// newSession builds the transport, router and session.
func newSession(cfg *config.Config, registry *subscription.Registry, log *logging.Logger, opts ...session.Option) (*session.Session, error) {
	sessCfg, err := sessionConfig(cfg)
	if err != nil {
		return nil, err
	}

	t, err := transport.NewForVersion(sessCfg.ProtocolVersion)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	if l, ok := t.(interface{ SetLogger(transport.Logger) }); ok {
		l.SetLogger(log.Component("transport"))
	}

	router := dispatch.NewRouter(registry,
		dispatch.WithLogger(log.Component("dispatch")),
		dispatch.WithWildcardMatching(cfg.MQTT.WildcardDispatch),
	)

	opts = append([]session.Option{
		session.WithLogger(log.Component("session")),
		session.WithRegistry(registry),
		session.WithRouter(router),
	}, opts...)

	sess, err := session.New(sessCfg, t, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	sess.SetOnConnect(func(code session.ResultCode) {
		if code.OK() {
			log.Info("MQTT session established", "client_id", sessCfg.ClientID)
		}
	})
	sess.SetOnDisconnect(func(code session.ResultCode) {
		log.Warn("MQTT session lost", "reason", code.String(), "auto_reconnect", sess.AutoReconnect())
	})
	sess.SetOnError(func(err error) {
		log.Error("MQTT session error", "error", err)
	})

	return sess, nil
}

// registerSubscriptions attaches a logging handler to every restored
// subscription and registers the subscriptions declared in config.
func registerSubscriptions(sess *session.Session, cfg *config.Config, log *logging.Logger) error {
	for _, sub := range sess.Registry().Snapshot() {
		if sub.Handler != nil {
			continue
		}
		if err := sess.Subscribe(sub.Topic, sub.QoS, logPayload(log, sub.Topic)); err != nil {
			return fmt.Errorf("restoring subscription %q: %w", sub.Topic, err)
		}
	}

	for _, sub := range cfg.MQTT.Subscriptions {
		if err := sess.Subscribe(sub.Topic, byte(sub.QoS), logPayload(log, sub.Topic)); err != nil {
			return fmt.Errorf("registering subscription %q: %w", sub.Topic, err)
		}
	}

	log.Info("subscriptions registered", "count", sess.Registry().Len())
	return nil
}

// logPayload returns a topic handler that logs every payload.
func logPayload(log *logging.Logger, filter string) subscription.TopicHandler {
	return func(payload string) error {
		log.Info("message received", "subscription", filter, "payload", payload)
		return nil
	}
}

// runSession blocks in Connect until the session ends. Cancelling ctx
// disconnects; the disconnect is repeated until Connect has observed it,
// covering a cancel that lands before Connect enters its loop.
func runSession(ctx context.Context, sess *session.Session, opts session.ConnectOptions) error {
	done := make(chan error, 1)
	go func() {
		done <- sess.Connect(opts)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	ticker := time.NewTicker(disconnectRetryInterval)
	defer ticker.Stop()

	for {
		if err := sess.Disconnect(); err != nil {
			return fmt.Errorf("disconnecting: %w", err)
		}
		select {
		case err := <-done:
			return err
		case <-ticker.C:
		}
	}
}

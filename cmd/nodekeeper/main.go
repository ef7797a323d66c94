// NodeKeeper supervises a local Shinkai node process.
//
// It spawns the node with its configured options, waits for the node's
// health endpoint, captures its output and exposes control over HTTP,
// WebSocket and (optionally) MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/nodekeeper/internal/api"
	"github.com/nerrad567/nodekeeper/internal/audit"
	"github.com/nerrad567/nodekeeper/internal/auth"
	"github.com/nerrad567/nodekeeper/internal/infrastructure/config"
	"github.com/nerrad567/nodekeeper/internal/infrastructure/database"
	"github.com/nerrad567/nodekeeper/internal/infrastructure/influxdb"
	"github.com/nerrad567/nodekeeper/internal/infrastructure/logging"
	"github.com/nerrad567/nodekeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodekeeper/internal/metrics"
	"github.com/nerrad567/nodekeeper/internal/node"
	"github.com/nerrad567/nodekeeper/internal/process"
	"github.com/nerrad567/nodekeeper/internal/remote"
	"github.com/nerrad567/nodekeeper/internal/settings"
	"github.com/nerrad567/nodekeeper/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// auditQueueSize bounds lifecycle events waiting to be written.
	auditQueueSize = 256

	// settingsLoadTimeout bounds reading persisted options at startup.
	settingsLoadTimeout = 5 * time.Second
)

func main() {
	mintSubject := flag.String("mint-token", "", "print a signed API token for `subject` and exit")
	mintRole := flag.String("role", string(auth.RoleOperator), "role for -mint-token (viewer or operator)")
	flag.Parse()

	if *mintSubject != "" {
		if err := mintToken(os.Stdout, *mintSubject, auth.Role(*mintRole)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting NodeKeeper",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	manager, err := newManager(cfg.Node)
	if err != nil {
		return err
	}
	manager.SetLogger(log.Component("process"))

	sup := newSupervisor(cfg.Node, manager)
	sup.SetLogger(log.Component("node"))

	store := settings.NewSQLiteStore(db.DB)
	if loadErr := restoreOptions(ctx, sup, store, cfg.Node.Options); loadErr != nil {
		log.Warn("saved node options not applied", "error", loadErr)
	}

	// Event consumers. Each HandleEvent only enqueues.
	repo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(repo, auditQueueSize)
	recorder.SetLogger(log.Component("audit"))
	sup.OnEvent(recorder.HandleEvent)

	collector := metrics.New()
	sup.OnEvent(collector.HandleEvent)

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	sup.OnEvent(hub.HandleEvent)

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sup.OnEvent(influxClient.HandleEvent)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	var bridge *remote.Bridge
	if cfg.MQTT.Enabled {
		link, linkErr := startRemote(cfg.MQTT, sup, log)
		if linkErr != nil {
			return linkErr
		}
		bridge = link.bridge
		defer func() {
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Warn("error stopping MQTT bridge", "error", stopErr)
			}
			log.Info("disconnecting from MQTT")
			if closeErr := link.client.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		sup.OnEvent(bridge.HandleEvent)
	} else {
		log.Info("MQTT disabled")
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Node:     sup,
		Settings: store,
		Audit:    repo,
		Metrics:  collector.Handler(),
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	workCtx, stopWork := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(workCtx)
	g.Go(func() error {
		relayProcessEvents(gctx, manager.Events(), sup)
		return nil
	})
	g.Go(func() error { return recorder.Run(gctx) })
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}

	if startErr := server.Start(workCtx); startErr != nil {
		stopWork()
		return fmt.Errorf("starting API server: %w", startErr)
	}

	if cfg.Node.Autostart {
		go autostart(ctx, sup, log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if killErr := sup.Kill(); killErr != nil {
		log.Error("error stopping node", "error", killErr)
	}
	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}

	// The node's exit event still has to reach the consumers before they stop.
	stopWork()
	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		log.Error("background worker failed", "error", waitErr)
	}

	log.Info("NodeKeeper stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NODEKEEPER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NODEKEEPER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func newManager(cfg config.NodeConfig) (*process.Manager, error) {
	var ready *regexp.Regexp
	if cfg.ReadyPattern != "" {
		re, err := regexp.Compile(cfg.ReadyPattern)
		if err != nil {
			return nil, fmt.Errorf("compiling node.ready_pattern: %w", err)
		}
		ready = re
	}

	return process.NewManager(process.Config{
		Name:            cfg.Name,
		Binary:          cfg.Binary,
		Args:            cfg.Args,
		WorkDir:         cfg.WorkDir,
		ReadyPattern:    ready,
		LogBufferSize:   cfg.LogBufferSize,
		GracefulTimeout: cfg.GracefulTimeout,
	}), nil
}

func newSupervisor(cfg config.NodeConfig, runner node.Runner) *node.Supervisor {
	return node.New(node.Config{
		Name:                 cfg.Name,
		DefaultStoragePath:   cfg.StoragePath,
		HealthPath:           cfg.Health.Path,
		HealthTimeout:        cfg.Health.Timeout,
		HealthRequestTimeout: cfg.Health.RequestTimeout,
		PollInterval:         cfg.Health.PollInterval,
	}, runner)
}

// restoreOptions applies the config overlay, then whatever was saved
// through the API on top of it.
func restoreOptions(ctx context.Context, sup *node.Supervisor, store settings.Store, overlay node.Options) error {
	sup.SetOptions(overlay)

	ctx, cancel := context.WithTimeout(ctx, settingsLoadTimeout)
	defer cancel()

	saved, err := store.Load(ctx, sup.Name())
	if errors.Is(err, settings.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading saved options: %w", err)
	}
	sup.SetOptions(saved)
	return nil
}

// relayProcessEvents feeds runner events into the supervisor until ctx is
// cancelled, then hands over whatever is already buffered.
func relayProcessEvents(ctx context.Context, events <-chan process.Event, sup *node.Supervisor) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case pe := <-events:
					sup.HandleProcessEvent(pe)
				default:
					return
				}
			}
		case pe := <-events:
			sup.HandleProcessEvent(pe)
		}
	}
}

type remoteLink struct {
	client *mqtt.Client
	bridge *remote.Bridge
}

func startRemote(cfg config.MQTTConfig, sup *node.Supervisor, log *logging.Logger) (*remoteLink, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)

	bridge, err := remote.NewBridge(remote.Options{
		Bus:        client,
		Controller: sup,
		QoS:        byte(cfg.QoS), // #nosec G115 -- validated 0..2 by config
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	bridge.SetLogger(log.Component("remote"))

	if err := bridge.Start(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	return &remoteLink{client: client, bridge: bridge}, nil
}

func autostart(ctx context.Context, sup *node.Supervisor, log *logging.Logger) {
	log.Info("autostarting node", "name", sup.Name())
	if err := sup.Spawn(ctx); err != nil {
		log.Error("autostart failed", "name", sup.Name(), "error", err)
	}
}

// mintToken prints a JWT signed with the configured secret.
func mintToken(w io.Writer, subject string, role auth.Role) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is empty: authentication is disabled")
	}

	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	token, err := auth.GenerateToken(subject, role, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

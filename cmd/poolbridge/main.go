// Pool Bridge - pool controller to MQTT bridge
//
// Polls a pool controller's HTTP/JSON API, publishes every circuit and
// thermostat on the Gray Logic MQTT bus, executes commands received there,
// records state history in SQLite and optionally writes telemetry to
// InfluxDB. A small HTTP API exposes the same state plus Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-pool/internal/api"
	"github.com/nerrad567/gray-logic-pool/internal/bridges/pool"
	"github.com/nerrad567/gray-logic-pool/internal/history"
	"github.com/nerrad567/gray-logic-pool/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pool/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-pool/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-pool/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-pool/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
	"github.com/nerrad567/gray-logic-pool/migrations"
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

// mqttConnectAttempts bounds the startup connection retries.
const mqttConnectAttempts = 5

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting pool bridge",
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

	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close() //nolint:errcheck // best effort on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// State history (optional)
	var (
		db          *database.DB
		historyRepo *history.SQLiteRepository
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		historyRepo = history.NewSQLiteRepository(db.DB)
	} else {
		log.Info("state history disabled")
	}

	mqttClient, err := mqtt.ConnectWithRetry(ctx, cfg.MQTT, mqttConnectAttempts, log)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	session, err := poolcontroller.NewSession(poolcontroller.OptionsFromConfig(cfg.Controller))
	if err != nil {
		return fmt.Errorf("creating controller session: %w", err)
	}
	session.SetLogger(log.With("component", "controller"))
	log.Info("controller session created", "address", session.Address())

	metrics := pool.NewMetrics()

	opts := pool.BridgeOptions{
		Config:     cfg.Bridge,
		Version:    version,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Controller: session,
		Logger:     log.With("component", "bridge"),
		Metrics:    metrics,
	}
	// Interface fields stay nil when a collaborator is disabled.
	if historyRepo != nil {
		opts.History = historyRepo
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := pool.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating pool bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting pool bridge: %w", err)
	}
	defer func() {
		log.Info("stopping pool bridge")
		bridge.Stop()
	}()
	log.Info("pool bridge started", "circuits", bridge.CircuitCount())

	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			Logger:     log.With("component", "api"),
			Controller: session,
			Bridge:     bridge,
			Metrics:    metrics.Handler(),
			Version:    version,
		}
		if historyRepo != nil {
			deps.History = historyRepo
		}

		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if influxClient != nil {
		influxClient.Flush()
	}

	log.Info("pool bridge stopped")
	return nil
}

// getConfigPath returns the config path from POOLBRIDGE_CONFIG or the default.
func getConfigPath() string {
	if path := os.Getenv("POOLBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every enabled component. Nil components are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the pool
// bridge's MQTTClient interface. The bridge's handlers return nothing;
// the infrastructure client expects func(topic, payload) error.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements pool.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements pool.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements pool.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

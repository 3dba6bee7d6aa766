// Gray Logic Freebox Bridge
//
// This is the main entry point of the Freebox bridge. It authenticates
// against the Freebox OS API of the home gateway, discovers the alarm and
// shutter nodes of the home automation module and exposes them to Gray
// Logic Core over MQTT.
//
// On first start the box asks for the authorization to be accepted on its
// front panel. The resulting app token is persisted and reused afterwards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-freebox/internal/authstore"
	"github.com/nerrad567/gray-logic-freebox/internal/bridges/freebox"
	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
	"github.com/nerrad567/gray-logic-freebox/internal/home"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-freebox/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Freebox Bridge",
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

	// Persisted app token
	store, closeStore, err := openAuthStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Gateway connection
	transport, err := freeboxos.NewHTTPTransport(freeboxos.HTTPTransportConfig{
		Timeout:     time.Duration(cfg.Freebox.RequestTimeout) * time.Second,
		CAFile:      cfg.Freebox.CAFile,
		MinInterval: time.Duration(cfg.Freebox.MinRequestInterval) * time.Millisecond,
		Logger:      log.Component("transport"),
	})
	if err != nil {
		return fmt.Errorf("creating freebox transport: %w", err)
	}

	apiInfo, err := freeboxos.DiscoverAPI(ctx, transport, cfg.Freebox.Address, log)
	if err != nil {
		return fmt.Errorf("discovering freebox api: %w", err)
	}
	baseURL := apiInfo.BaseURL
	if cfg.Freebox.HTTPS {
		if apiInfo.HTTPSBaseURL == "" {
			return fmt.Errorf("freebox %s does not expose https", apiInfo.BoxModelName)
		}
		baseURL = apiInfo.HTTPSBaseURL
	}

	session := freeboxos.NewSessionManager(freeboxos.SessionConfig{
		BaseURL: baseURL,
		App: freeboxos.AppInfo{
			ID:         cfg.Freebox.App.ID,
			Name:       cfg.Freebox.App.Name,
			Version:    cfg.Freebox.App.Version,
			DeviceName: cfg.Freebox.App.DeviceName,
		},
		Transport: transport,
		Logger:    log.Component("session"),
	})
	executor := freeboxos.NewExecutor(freeboxos.ExecutorConfig{
		Transport: transport,
		Session:   session,
		Logger:    log.Component("executor"),
	})
	defer func() {
		log.Info("closing freebox executor")
		executor.Close()
	}()

	if err := authenticate(ctx, executor, store, log); err != nil {
		return err
	}

	// Home automation devices
	homeClient := home.NewClient(executor, baseURL, log.Component("home"))
	nodes, err := homeClient.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("listing home nodes: %w", err)
	}

	var alarm freebox.Alarm
	alarmCtl := home.NewAlarmController(homeClient, log.Component("alarm"))
	if _, ok := alarmCtl.Discover(nodes); ok {
		alarm = alarmCtl
	} else {
		log.Info("no alarm node found")
	}

	var shutters freebox.Shutters
	shuttersCtl := home.NewShuttersController(homeClient, log.Component("shutters"))
	if blinds := shuttersCtl.Discover(nodes); len(blinds) > 0 {
		shutters = shuttersCtl
	} else {
		log.Info("no shutter node found")
	}

	if alarm == nil && shutters == nil {
		return fmt.Errorf("no alarm or shutter node among %d home nodes", len(nodes))
	}

	// MQTT broker, with the bridge health topic as last will
	health := freebox.NewHealthReporter(freebox.HealthReporterConfig{BridgeID: cfg.Bridge.ID})
	lwt, err := health.GetLWTPayload()
	if err != nil {
		return fmt.Errorf("building last will: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithLogger(log.Component("mqtt")),
		mqtt.WithWill(mqtt.Will{Topic: health.GetLWTTopic(), Payload: lwt, QoS: 1, Retained: true}),
	)
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

	// Connect to InfluxDB (optional)
	var telemetry freebox.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
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
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := freebox.NewBridge(freebox.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		Address:        baseURL,
		PollInterval:   time.Duration(cfg.Bridge.PollInterval) * time.Second,
		HealthInterval: time.Duration(cfg.Bridge.HealthInterval) * time.Second,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Gateway:        executor,
		Alarm:          alarm,
		Shutters:       shutters,
		Telemetry:      telemetry,
		Logger:         log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating freebox bridge: %w", err)
	}

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing state")
		bridge.ClearStateCache()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting freebox bridge: %w", err)
	}
	defer func() {
		log.Info("stopping freebox bridge")
		bridge.Stop()
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"box", apiInfo.BoxModelName,
		"base_url", baseURL,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Bridge
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Executor
	// 5. Auth store
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FBXBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FBXBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openAuthStore opens the configured app token store. The returned func
// releases it.
func openAuthStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (authstore.Store, func(), error) {
	if cfg.Auth.Store == config.AuthStoreFile {
		log.Info("using file auth store", "path", cfg.Auth.File)
		return authstore.NewFileStore(cfg.Auth.File), func() {}, nil
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("using sqlite auth store", "path", cfg.Database.Path)

	closeDB := func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}
	return authstore.NewSQLiteStore(db), closeDB, nil
}

// authenticate opens a session with the stored app token, requesting a new
// authorization when there is none, and persists the resulting token.
func authenticate(ctx context.Context, executor *freeboxos.Executor, store authstore.Store, log *logging.Logger) error {
	info, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading freebox authorization: %w", err)
	}
	if info.IsZero() {
		log.Info("no stored freebox authorization, accept the request on the box front panel")
	}

	creds, err := executor.Authenticate(ctx, info)
	if err != nil {
		return fmt.Errorf("authenticating with freebox: %w", err)
	}

	if next := creds.AuthInfo(); next != info {
		if err := store.Save(ctx, next); err != nil {
			return fmt.Errorf("saving freebox authorization: %w", err)
		}
		log.Info("freebox authorization saved", "track_id", next.TrackID)
	}
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. Infrastructure handlers return an error, bridge
// handlers do not.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements freebox.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements freebox.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements freebox.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements freebox.MQTTClient.
// The client lifecycle is owned by run's defer chain.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}

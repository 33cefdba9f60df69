// Gray Logic AV Bridge
//
// This is the main entry point for the AV device bridge. It links room
// AV equipment (Pioneer VSX receivers, Sony Bravia displays) to the
// Gray Logic message bus: commands arrive over MQTT, device state
// changes are published back as retained messages, and SSDP discovery
// announces equipment found on the network.
//
// The bridge is deliberately dumb: Core owns scenes, schedules, and
// room logic. This process only speaks the device protocols.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-av/migrations"

	"github.com/nerrad567/gray-logic-av/internal/api"
	"github.com/nerrad567/gray-logic-av/internal/avdevice/pioneer"
	"github.com/nerrad567/gray-logic-av/internal/avdevice/sony"
	"github.com/nerrad567/gray-logic-av/internal/bridge"
	"github.com/nerrad567/gray-logic-av/internal/device"
	"github.com/nerrad567/gray-logic-av/internal/discovery"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/mqtt"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic AV bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	deviceRegistry := device.NewRegistry(deviceRepo)
	deviceRegistry.SetLogger(log)

	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	// Connect to MQTT with a Last Will so Core sees an unclean death as
	// an offline health message rather than silence.
	lwtPayload, err := json.Marshal(bridge.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("encoding LWT message: %w", err)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithWill(bridge.HealthTopic(), lwtPayload, 1, true),
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

	// Set up MQTT logging callbacks
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the bridge with its configured devices
	avBridge, err := buildBridge(cfg, mqttClient, deviceRegistry, influxClient, log)
	if err != nil {
		return fmt.Errorf("building bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		avBridge.Stop()
	}()

	if startErr := avBridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	log.Info("bridge started", "devices", len(cfg.Devices))

	// Start SSDP discovery (optional)
	if cfg.Discovery.Enabled {
		discoverer, discErr := startDiscovery(ctx, cfg, avBridge, log)
		if discErr != nil {
			// Discovery is best-effort: configured devices still work
			// on networks where multicast is filtered.
			log.Warn("discovery failed to start", "error", discErr)
		} else {
			defer func() {
				log.Info("stopping discovery")
				discoverer.Stop()
			}()
		}
	} else {
		log.Info("discovery disabled")
	}

	// Start the status API
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Registry: deviceRegistry,
		Bridge:   avBridge,
		MQTT:     mqttClient,
		DB:       db,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Discovery (if enabled)
	// 3. Bridge (publishes "stopping" health while MQTT is still up)
	// 4. InfluxDB (if enabled)
	// 5. MQTT
	// 6. Database

	log.Info("Gray Logic AV bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AVBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AVBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	// Device sessions are not health-gated here: they reconnect on
	// their own schedule and report through bridge health messages.

	return nil
}

// buildBridge creates the bridge and registers every configured device.
//
// Parameters:
//   - cfg: Application configuration
//   - mqttClient: Connected MQTT client
//   - registry: Device registry for discovered-device persistence
//   - influxClient: Telemetry sink (may be nil if disabled)
//   - log: Logger instance
//
// Returns:
//   - *bridge.Bridge: Bridge ready to Start
//   - error: If a device client cannot be built or registered
func buildBridge(cfg *config.Config, mqttClient *mqtt.Client, registry *device.Registry, influxClient *influxdb.Client, log *logging.Logger) (*bridge.Bridge, error) {
	opts := bridge.Options{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		HealthInterval: cfg.HealthInterval(),
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Store:          &registryStoreAdapter{registry: registry},
		Logger:         log,
	}
	// A nil *influxdb.Client must stay a nil interface
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	avBridge, err := bridge.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	for _, dc := range cfg.Devices {
		ctrl, ctrlErr := buildController(dc, log)
		if ctrlErr != nil {
			return nil, fmt.Errorf("device %s: %w", dc.ID, ctrlErr)
		}
		if addErr := avBridge.AddDevice(dc.ID, ctrl); addErr != nil {
			return nil, fmt.Errorf("registering device %s: %w", dc.ID, addErr)
		}
	}

	return avBridge, nil
}

// buildController creates the protocol client for one configured device.
func buildController(dc config.DeviceConfig, log *logging.Logger) (bridge.Controller, error) {
	port := dc.Port

	switch dc.Type {
	case config.DeviceTypePioneerVSX1021:
		if port == 0 {
			port = device.DefaultPort(device.TypePioneerVSX1021)
		}
		client, err := pioneer.New(pioneer.Config{
			Name:   dc.DisplayName(),
			Host:   dc.Host,
			Port:   port,
			Logger: log,
		})
		if err != nil {
			return nil, fmt.Errorf("creating receiver client: %w", err)
		}
		return bridge.NewPioneerController(client, fmt.Sprintf("%s:%d", dc.Host, port)), nil

	case config.DeviceTypeSonyBravia:
		if port == 0 {
			port = device.DefaultPort(device.TypeSonyBravia)
		}
		client, err := sony.New(sony.Config{
			Name:             dc.DisplayName(),
			Host:             dc.Host,
			Port:             port,
			LivenessInterval: dc.Liveness(),
			Logger:           log,
		})
		if err != nil {
			return nil, fmt.Errorf("creating display client: %w", err)
		}
		return bridge.NewSonyController(client, fmt.Sprintf("%s:%d", dc.Host, port)), nil

	default:
		// Config validation rejects unknown types; this guards against
		// drift between the validator and this switch.
		return nil, fmt.Errorf("unknown device type %q", dc.Type)
	}
}

// startDiscovery starts the SSDP service, wires discovered devices into
// the bridge, and schedules periodic re-searches.
//
// Parameters:
//   - ctx: Context that stops the re-search loop
//   - cfg: Application configuration
//   - avBridge: Bridge that announces and records discoveries
//   - log: Logger instance
//
// Returns:
//   - *discovery.Service: Running discovery service
//   - error: If the SSDP socket cannot be opened
func startDiscovery(ctx context.Context, cfg *config.Config, avBridge *bridge.Bridge, log *logging.Logger) (*discovery.Service, error) {
	svc := discovery.New(discovery.Config{Logger: log})
	svc.AddListener(&discoveryRelay{bridge: avBridge, log: log})

	if err := svc.Start(); err != nil {
		return nil, fmt.Errorf("starting SSDP listener: %w", err)
	}

	targets := cfg.Discovery.SearchTargets
	if len(targets) == 0 {
		targets = []string{discovery.SearchTargetAll}
	}

	search := func() {
		for _, target := range targets {
			if err := svc.Search(target, cfg.Discovery.MX); err != nil {
				log.Warn("discovery search failed", "target", target, "error", err)
			}
		}
	}

	// Initial sweep, then re-search on the configured cadence. The
	// service itself only listens; searches are driven from here.
	search()

	if interval := cfg.DiscoveryInterval(); interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					search()
				}
			}
		}()
	}

	log.Info("discovery started",
		"targets", targets,
		"interval_seconds", cfg.Discovery.Interval,
	)
	return svc, nil
}

// discoveryRelay forwards resolved SSDP devices to the bridge, which
// announces them on MQTT and records them in the store.
type discoveryRelay struct {
	bridge *bridge.Bridge
	log    *logging.Logger
}

// OnDeviceDiscovered implements discovery.Listener.
func (r *discoveryRelay) OnDeviceDiscovered(desc discovery.Descriptor) {
	err := r.bridge.PublishDiscovery([]bridge.DiscoveredDevice{{
		Protocol:     bridge.Protocol,
		Type:         desc.Type,
		Name:         desc.Name,
		Host:         desc.Host,
		Port:         desc.Port,
		Manufacturer: desc.Manufacturer,
		Model:        desc.Model,
		Location:     desc.Location,
	}})
	if err != nil {
		r.log.Warn("discovery announce failed", "host", desc.Host, "error", err)
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The primary difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements bridge.MQTTClient.
// Note: The MQTT client is owned by run()'s defer chain, so this is a
// no-op. The bridge never disconnects the shared connection.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {
	// No-op: MQTT client lifecycle is managed by run()'s defer chain
}

// registryStoreAdapter adapts the device registry to the bridge's
// DeviceStore interface, converting between record shapes.
type registryStoreAdapter struct {
	registry *device.Registry
}

// UpsertDiscovered implements bridge.DeviceStore.
func (a *registryStoreAdapter) UpsertDiscovered(ctx context.Context, rec bridge.DeviceRecord) error {
	dev := &device.Device{
		Name:         rec.Name,
		Type:         device.Type(rec.Type),
		Host:         rec.Host,
		Port:         rec.Port,
		Manufacturer: rec.Manufacturer,
		Model:        rec.Model,
	}
	return a.registry.UpsertDiscovered(ctx, dev)
}

// TouchLastSeen implements bridge.DeviceStore.
func (a *registryStoreAdapter) TouchLastSeen(ctx context.Context, deviceID string) error {
	return a.registry.TouchLastSeen(ctx, deviceID)
}

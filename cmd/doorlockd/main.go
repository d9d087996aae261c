// Door Lock Core - Smart Door Authentication Controller
//
// This is the main entry point for the door lock daemon. It runs on the
// Raspberry Pi mounted at the door and orchestrates:
//   - Multi-factor authentication (PIN code, face, fingerprint)
//   - Remote credential verification against the cloud backend
//   - Servo deadbolt actuation
//   - Local access logging with background backend sync
//   - The wall panel REST/WebSocket API
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/hgarg/doorlock-core/migrations"

	"github.com/hgarg/doorlock-core/internal/accesslog"
	"github.com/hgarg/doorlock-core/internal/api"
	"github.com/hgarg/doorlock-core/internal/backend"
	"github.com/hgarg/doorlock-core/internal/enroll"
	"github.com/hgarg/doorlock-core/internal/face"
	"github.com/hgarg/doorlock-core/internal/hardware/camera"
	"github.com/hgarg/doorlock-core/internal/hardware/fingerprint"
	"github.com/hgarg/doorlock-core/internal/hardware/keypad"
	"github.com/hgarg/doorlock-core/internal/hardware/lock"
	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
	"github.com/hgarg/doorlock-core/internal/infrastructure/database"
	"github.com/hgarg/doorlock-core/internal/infrastructure/influxdb"
	"github.com/hgarg/doorlock-core/internal/infrastructure/logging"
	"github.com/hgarg/doorlock-core/internal/infrastructure/mqtt"
	"github.com/hgarg/doorlock-core/internal/lease"
	"github.com/hgarg/doorlock-core/internal/process"
	"github.com/hgarg/doorlock-core/internal/session"
	"github.com/hgarg/doorlock-core/internal/users"
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

// commandTimeout bounds the work triggered by one inbound MQTT command.
const commandTimeout = 30 * time.Second

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
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Startup wiring is inherently sequential
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Door Lock Core",
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

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Device.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Device.ID)
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
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Backend client (optional only in demo mode; Validate enforces this)
	var backendClient *backend.Client
	if cfg.Backend.BaseURL != "" {
		backendClient = backend.New(cfg.Backend, log)
		log.Info("backend configured", "url", cfg.Backend.BaseURL)
	}

	// Face model store with live reload
	faceStore, err := face.NewStore(cfg.Face.ModelPath, log)
	if err != nil {
		return fmt.Errorf("loading face model: %w", err)
	}
	if watchErr := faceStore.Watch(ctx); watchErr != nil {
		log.Warn("face model watcher failed, live reload disabled", "error", watchErr)
	}
	if faceStore.Count() == 0 && backendClient != nil {
		log.Info("no face model on disk, downloading from backend")
		if dlErr := faceStore.Download(ctx, backendClient); dlErr != nil {
			log.Warn("initial face model download failed, matching disabled until sync", "error", dlErr)
		}
	}

	encoder := face.NewEncoder(cfg.Face.Helper)

	// Face encoder helper process supervision (optional)
	if cfg.Face.Helper.Managed {
		helper := process.NewManager(process.EncoderConfig(cfg.Face.Helper, encoder.HealthCheck))
		helper.SetLogger(log)
		if startErr := helper.Start(ctx); startErr != nil {
			return fmt.Errorf("starting face encoder helper: %w", startErr)
		}
		defer func() {
			log.Info("stopping face encoder helper")
			if stopErr := helper.Stop(); stopErr != nil {
				log.Error("error stopping face encoder helper", "error", stopErr)
			}
		}()
	}

	leases := lease.NewManager()

	// Hardware adapters, or demo stand-ins on bench setups
	var (
		faceScanner   session.FaceScanner
		fingerScanner session.FingerprintScanner
		verifier      session.Verifier
		lockDev       lock.Actuator
		keys          session.KeyPoller
		enrolManager  *enroll.Manager
	)

	if cfg.Auth.DemoMode {
		log.Warn("DEMO MODE ENABLED: hardware adapters replaced with fixed identities, do not deploy on a real door")
		faceScanner = &session.DemoFace{}
		fingerScanner = &session.DemoFingerprint{}
		verifier = session.DemoVerifier{}
		lockDev = newDemoLock(log)
	} else {
		servo, lockErr := lock.NewServo(cfg.Hardware.Lock, log)
		if lockErr != nil {
			return fmt.Errorf("initialising lock servo: %w", lockErr)
		}
		defer func() {
			if closeErr := servo.Close(); closeErr != nil {
				log.Error("error closing lock servo", "error", closeErr)
			}
		}()
		lockDev = servo

		sensor, sensorErr := fingerprint.Open(cfg.Hardware.Fingerprint, log)
		if sensorErr != nil {
			return fmt.Errorf("opening fingerprint sensor: %w", sensorErr)
		}
		defer func() {
			if closeErr := sensor.Close(); closeErr != nil {
				log.Error("error closing fingerprint sensor", "error", closeErr)
			}
		}()
		fingerScanner = fingerprint.NewScan(sensor)

		cam := camera.NewStill(cfg.Hardware.Camera)
		faceScanner = face.NewScan(cam, encoder, faceStore, cfg.Face.Threshold)
		verifier = backendClient

		if backendClient != nil {
			enrolManager = enroll.NewManager(sensor, cam, backendClient, leases, log)
		}

		if cfg.Hardware.Keypad.Enabled {
			matrix, keyErr := keypad.NewMatrix(cfg.Hardware.Keypad)
			if keyErr != nil {
				return fmt.Errorf("initialising keypad: %w", keyErr)
			}
			defer func() {
				if closeErr := matrix.Close(); closeErr != nil {
					log.Error("error closing keypad", "error", closeErr)
				}
			}()
			keys = keypad.NewDebounced(matrix, cfg.Hardware.Keypad)
		}
	}

	// Access logging with backend sync and MQTT fanout
	logRepo := accesslog.NewSQLiteRepository(db.DB)
	var sink accesslog.BackendSink
	var pub accesslog.Publisher
	var eventTopic string
	if backendClient != nil {
		sink = backendClient
	}
	if mqttClient != nil {
		pub = mqttClient
		eventTopic = mqttClient.Topics().AccessEvent()
	}
	emitter := accesslog.NewEmitter(logRepo, sink, pub,
		eventTopic, time.Duration(cfg.Backend.SyncInterval)*time.Second, log)
	go emitter.Run(ctx)

	// Local user mirror, refreshed from the backend
	userCache := users.NewCache(db.DB)
	if backendClient != nil {
		syncer := users.NewSyncer(userCache, backendClient, time.Duration(cfg.Backend.SyncInterval)*time.Second, log)
		go syncer.Run(ctx)
		if mqttClient != nil {
			subscribeUserSync(mqttClient, syncer, log)
		}
	}

	// Authentication sequencer and tick loop
	sequencer := session.NewSequencer(session.Deps{
		Leases:      leases,
		Face:        faceScanner,
		Fingerprint: fingerScanner,
		Verifier:    verifier,
		Lock:        lockDev,
		Recorder:    emitter,
		Policy:      session.PolicyFromConfig(cfg.Auth),
		Logger:      log,
	})

	var apiServer *api.Server

	var statePub session.StatePublisher
	var stateTopic string
	if mqttClient != nil {
		statePub = mqttClient
		stateTopic = mqttClient.Topics().SessionState()
	}
	runner := session.NewRunner(session.RunnerDeps{
		Sequencer: sequencer,
		Leases:    leases,
		Keypad:    keys,
		Publisher: statePub,
		Topic:     stateTopic,
		Metrics:   influxClient,
		TickRate:  cfg.Auth.TickRate,
		Logger:    log,
		OnState: func(snap session.Snapshot) {
			if apiServer != nil {
				apiServer.OnSessionState(snap)
			}
		},
	})
	go runner.Run(ctx)
	log.Info("authentication runner started", "tick_rate_hz", cfg.Auth.TickRate)

	// Panel API
	apiServer, err = api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log,
		Runner:     runner,
		Enrol:      enrolManager,
		AccessLogs: logRepo,
		Users:      userCache,
		FaceStore:  faceStore,
		Lock:       lockDev,
		MQTT:       mqttClient,
		Influx:     influxClient,
		Backend:    backendClient,
		Version:    version,
		DemoMode:   cfg.Auth.DemoMode,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Publish lock state transitions (retained) and stream them to panels
	wireLockState(lockDev, mqttClient, apiServer, log)
	if enrolManager != nil {
		enrolManager.SetOnState(apiServer.OnEnrolmentState)
	}

	// Inbound MQTT commands (sync-model, sync-users handled above)
	if mqttClient != nil && backendClient != nil {
		if subErr := subscribeModelSync(mqttClient, faceStore, backendClient, log); subErr != nil {
			log.Warn("model sync command subscription failed", "error", subErr)
		}
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, hardware, helper process, InfluxDB, MQTT, database.

	log.Info("Door Lock Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DOORLOCK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DOORLOCK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// wireLockState fans lock state transitions out to the retained MQTT
// topic and the WebSocket stream.
func wireLockState(dev lock.Actuator, mqttClient *mqtt.Client, apiServer *api.Server, log *logging.Logger) {
	type stateNotifier interface {
		SetOnState(fn func(lock.State))
	}
	notifier, ok := dev.(stateNotifier)
	if !ok {
		return
	}

	notifier.SetOnState(func(state lock.State) {
		apiServer.OnLockState(state)
		if mqttClient == nil {
			return
		}
		payload := fmt.Sprintf(`{"state":%q}`, state)
		if err := mqttClient.PublishRetained(mqttClient.Topics().LockState(), []byte(payload)); err != nil {
			log.Debug("lock state publish failed", "error", err)
		}
	})
}

// subscribeModelSync handles the sync-model command by re-downloading
// the face encodings from the backend.
func subscribeModelSync(mqttClient *mqtt.Client, store *face.Store, client *backend.Client, log *logging.Logger) error {
	topic := mqttClient.Topics().Command(mqtt.CommandSyncModel)
	return mqttClient.Subscribe(topic, 1, func(_ string, _ []byte) error {
		log.Info("sync-model command received")
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := store.Download(ctx, client); err != nil {
			log.Warn("commanded model sync failed", "error", err)
			return err
		}
		log.Info("face model synced", "faces", store.Count())
		return nil
	})
}

// subscribeUserSync handles the sync-users command by refreshing the
// local user mirror.
func subscribeUserSync(mqttClient *mqtt.Client, syncer *users.Syncer, log *logging.Logger) {
	topic := mqttClient.Topics().Command(mqtt.CommandSyncUsers)
	err := mqttClient.Subscribe(topic, 1, func(_ string, _ []byte) error {
		log.Info("sync-users command received")
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return syncer.Refresh(ctx)
	})
	if err != nil {
		log.Warn("user sync command subscription failed", "error", err)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// demoLock stands in for the servo on bench setups. It tracks state and
// logs cycles without touching PWM hardware.
type demoLock struct {
	log     *logging.Logger
	onState func(lock.State)
	state   lock.State
}

func newDemoLock(log *logging.Logger) *demoLock {
	return &demoLock{log: log, state: lock.StateLocked}
}

func (d *demoLock) Cycle(_ context.Context) error {
	d.log.Info("demo lock cycle")
	d.setState(lock.StateUnlocked)
	d.setState(lock.StateLocked)
	return nil
}

func (d *demoLock) State() lock.State { return d.state }

func (d *demoLock) SetOnState(fn func(lock.State)) { d.onState = fn }

func (d *demoLock) Close() error { return nil }

func (d *demoLock) setState(s lock.State) {
	d.state = s
	if d.onState != nil {
		d.onState(s)
	}
}


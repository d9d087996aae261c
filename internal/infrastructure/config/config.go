package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Door Lock Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Backend  BackendConfig  `yaml:"backend"`
	Hardware HardwareConfig `yaml:"hardware"`
	Auth     AuthConfig     `yaml:"auth"`
	Face     FaceConfig     `yaml:"face"`
}

// DeviceConfig identifies this lock unit.
type DeviceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains settings for the local panel HTTP API.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the panel state stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for authentication metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BackendConfig contains settings for the remote verification service.
type BackendConfig struct {
	// BaseURL is the root of the cloud backend API, e.g.
	// "https://oracle-apis.example.com/doorlock".
	BaseURL string `yaml:"base_url"`

	// RequestTimeout bounds every backend call, in seconds. This is the one
	// network call that is allowed to briefly block the tick loop, so it
	// must never be unbounded.
	RequestTimeout int `yaml:"request_timeout"`

	// SyncInterval is how often unsynced access-log rows are pushed to the
	// backend, in seconds. 0 disables background sync.
	SyncInterval int `yaml:"sync_interval"`
}

// HardwareConfig groups the physical peripheral settings.
type HardwareConfig struct {
	Camera      CameraConfig      `yaml:"camera"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Keypad      KeypadConfig      `yaml:"keypad"`
	Lock        LockConfig        `yaml:"lock"`
}

// CameraConfig contains still-capture settings.
// Frames are captured by invoking an external capture binary (rpicam-still
// or compatible) writing JPEG to stdout.
type CameraConfig struct {
	CaptureBinary string `yaml:"capture_binary"`
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	// CaptureTimeout bounds a single frame capture, in milliseconds.
	CaptureTimeout int `yaml:"capture_timeout"`
}

// FingerprintConfig contains serial sensor settings.
type FingerprintConfig struct {
	// Ports are candidate serial devices probed in order at startup.
	Ports    []string `yaml:"ports"`
	BaudRate int      `yaml:"baud_rate"`
	// ReadTimeout bounds a single sensor exchange, in milliseconds.
	ReadTimeout int `yaml:"read_timeout"`
}

// KeypadConfig contains matrix keypad GPIO settings (BCM numbering).
type KeypadConfig struct {
	Enabled    bool  `yaml:"enabled"`
	RowPins    []int `yaml:"row_pins"`
	ColumnPins []int `yaml:"column_pins"`
	// DebounceMillis is the minimum interval before the same key is
	// accepted again.
	DebounceMillis int `yaml:"debounce_millis"`
}

// LockConfig contains servo actuator settings.
type LockConfig struct {
	PWMChip    int `yaml:"pwm_chip"`
	PWMChannel int `yaml:"pwm_channel"`
	// Pulse widths in nanoseconds for the locked and unlocked positions.
	LockedPulseNs   int `yaml:"locked_pulse_ns"`
	UnlockedPulseNs int `yaml:"unlocked_pulse_ns"`
	// HoldSeconds is how long the door stays unlocked during a cycle.
	HoldSeconds int `yaml:"hold_seconds"`
	// SettleSeconds is the pause after relocking to let the servo engage.
	SettleSeconds int `yaml:"settle_seconds"`
}

// AuthConfig contains the authentication sequence policy.
type AuthConfig struct {
	// TickRate is the sequencer advance frequency in Hz.
	TickRate int `yaml:"tick_rate"`

	// CodeLength is the required PIN code length.
	CodeLength int `yaml:"code_length"`

	// FaceWindow is the face recognition window in seconds. No retry; the
	// match is re-evaluated every tick within the window.
	FaceWindow int `yaml:"face_window"`

	// FingerprintAttemptTimeout is the per-attempt fingerprint window in seconds.
	FingerprintAttemptTimeout int `yaml:"fingerprint_attempt_timeout"`

	// FingerprintMaxAttempts bounds fingerprint retries per session.
	FingerprintMaxAttempts int `yaml:"fingerprint_max_attempts"`

	// CodeEntryTimeout bounds keypad code entry in seconds. 0 disables.
	CodeEntryTimeout int `yaml:"code_entry_timeout"`

	// DemoMode substitutes fixed demo identities for absent hardware.
	// Never enabled implicitly: real deployments must leave this false.
	// A prominent warning is logged at startup when set.
	DemoMode bool `yaml:"demo_mode"`
}

// FaceConfig contains face recognition capability settings.
type FaceConfig struct {
	// ModelPath is the known-encodings file (JSON, downloaded from the backend).
	ModelPath string `yaml:"model_path"`

	// Threshold is the normalized-distance acceptance bound. Lower distance
	// is a better match; candidates at or above the threshold are Unknown.
	Threshold float64 `yaml:"threshold"`

	// Helper configures the external encoder process.
	Helper FaceHelperConfig `yaml:"helper"`
}

// FaceHelperConfig configures the face encoder helper daemon.
// Encoding runs out of process (the capability ships as a separate service);
// the core only sends frames and consumes 128-dimension vectors.
type FaceHelperConfig struct {
	// URL is the encoder endpoint, e.g. "http://127.0.0.1:9090".
	URL string `yaml:"url"`

	// EncodeTimeout bounds one encode request, in milliseconds.
	EncodeTimeout int `yaml:"encode_timeout"`

	// Managed indicates whether Door Lock Core should manage the helper's
	// lifecycle. If false, the helper is expected to be running externally.
	Managed bool `yaml:"managed"`

	// Binary is the helper executable (used only when Managed).
	Binary string `yaml:"binary"`

	// Args are command-line arguments for the helper.
	Args []string `yaml:"args"`

	// RestartDelaySeconds is the wait before restarting a crashed helper.
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DOORLOCK_SECTION_KEY
// For example: DOORLOCK_DATABASE_PATH, DOORLOCK_BACKEND_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Hardware pin assignments follow the reference wiring for the 4x4 keypad
// and the servo on PWM0.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:       "doorlock-001",
			Name:     "Front Door",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/doorlock.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "doorlock-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Backend: BackendConfig{
			RequestTimeout: 10,
			SyncInterval:   300,
		},
		Hardware: HardwareConfig{
			Camera: CameraConfig{
				CaptureBinary:  "/usr/bin/rpicam-still",
				Width:          640,
				Height:         480,
				CaptureTimeout: 800,
			},
			Fingerprint: FingerprintConfig{
				Ports:       []string{"/dev/ttyAMA0", "/dev/ttyAMA10", "/dev/serial0", "/dev/serial1"},
				BaudRate:    57600,
				ReadTimeout: 200,
			},
			Keypad: KeypadConfig{
				Enabled:        true,
				RowPins:        []int{5, 6, 13, 19},
				ColumnPins:     []int{12, 16, 20, 21},
				DebounceMillis: 300,
			},
			Lock: LockConfig{
				PWMChip:         0,
				PWMChannel:      0,
				LockedPulseNs:   2400000,
				UnlockedPulseNs: 500000,
				HoldSeconds:     5,
				SettleSeconds:   1,
			},
		},
		Auth: AuthConfig{
			TickRate:                  30,
			CodeLength:                4,
			FaceWindow:                15,
			FingerprintAttemptTimeout: 10,
			FingerprintMaxAttempts:    3,
			CodeEntryTimeout:          60,
		},
		Face: FaceConfig{
			ModelPath: "./data/encodings.json",
			Threshold: 0.6,
			Helper: FaceHelperConfig{
				URL:                 "http://127.0.0.1:9090",
				EncodeTimeout:       2000,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DOORLOCK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOORLOCK_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("DOORLOCK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DOORLOCK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DOORLOCK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DOORLOCK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Backend
	if v := os.Getenv("DOORLOCK_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}

	// InfluxDB
	if v := os.Getenv("DOORLOCK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Demo mode can only be switched ON via config file, but an env
	// override may force it OFF for fleet rollouts.
	if v := os.Getenv("DOORLOCK_DEMO_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && !b {
			cfg.Auth.DemoMode = false
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Backend URL is required unless running in demo mode: verification is
	// remote and there is no local credential fallback.
	if c.Backend.BaseURL == "" && !c.Auth.DemoMode {
		errs = append(errs, "backend.base_url is required (set DOORLOCK_BACKEND_URL environment variable)")
	}
	if c.Backend.RequestTimeout < 1 {
		errs = append(errs, "backend.request_timeout must be at least 1 second")
	}

	if c.Auth.TickRate < 1 || c.Auth.TickRate > 120 {
		errs = append(errs, "auth.tick_rate must be between 1 and 120")
	}
	if c.Auth.CodeLength != 4 {
		errs = append(errs, "auth.code_length must be 4 (backend PIN codes are 4 digits)")
	}
	if c.Auth.FingerprintMaxAttempts < 1 {
		errs = append(errs, "auth.fingerprint_max_attempts must be at least 1")
	}
	if c.Auth.FaceWindow < 1 {
		errs = append(errs, "auth.face_window must be at least 1 second")
	}

	if c.Hardware.Keypad.Enabled {
		if len(c.Hardware.Keypad.RowPins) != 4 || len(c.Hardware.Keypad.ColumnPins) != 4 {
			errs = append(errs, "hardware.keypad requires exactly 4 row_pins and 4 column_pins")
		}
	}

	if c.Face.Threshold <= 0 || c.Face.Threshold >= 1 {
		errs = append(errs, "face.threshold must be between 0 and 1 (exclusive)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TickInterval returns the sequencer tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Auth.TickRate)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// FaceWindowDuration returns the face recognition window as a Duration.
func (c *AuthConfig) FaceWindowDuration() time.Duration {
	return time.Duration(c.FaceWindow) * time.Second
}

// FingerprintAttemptDuration returns the per-attempt fingerprint timeout.
func (c *AuthConfig) FingerprintAttemptDuration() time.Duration {
	return time.Duration(c.FingerprintAttemptTimeout) * time.Second
}

// CodeEntryDuration returns the keypad entry timeout (zero means unlimited).
func (c *AuthConfig) CodeEntryDuration() time.Duration {
	return time.Duration(c.CodeEntryTimeout) * time.Second
}

// RequestTimeoutDuration returns the backend request timeout.
func (c *BackendConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

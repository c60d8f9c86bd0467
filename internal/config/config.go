// Package config loads the gateway bridge's environment configuration and
// an optional YAML tuning overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, assembled from environment
// variables (required connection settings) and an optional tuning overlay
// (timing knobs).
type Config struct {
	GatewayID string `validate:"required,len=7"`

	SerialPort     string `validate:"required"`
	SerialBaudRate int    `validate:"required,min=1"`

	MQTTBroker      string `validate:"required"`
	MQTTPort        int    `validate:"required,min=1,max=65535"`
	MQTTKeepalive   int    `validate:"required,min=1"`
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTLSEnabled  bool
	MQTTTLSInsecure bool

	// AdminJWTSecret, when non-empty, requires a valid bearer JWT on the
	// admin HTTP surface's /status route.
	AdminJWTSecret string

	Tuning Tuning
}

// Tuning holds the timing knobs the spec leaves as ranges. All fields have
// spec-compliant defaults and may be overridden by a YAML overlay file.
type Tuning struct {
	// PauseGrace is how long a command handler waits after raising the
	// pause flag before attempting to acquire the arbiter mutex.
	PauseGrace time.Duration `yaml:"pause_grace"`

	// CommandAcquireTimeout bounds how long a command waits to acquire
	// the arbiter mutex before failing with "serial busy".
	CommandAcquireTimeout time.Duration `yaml:"command_acquire_timeout"`

	// PollAcquireTimeout bounds how long the poller waits to acquire the
	// arbiter mutex before skipping this iteration.
	PollAcquireTimeout time.Duration `yaml:"poll_acquire_timeout"`

	// PollPauseSleep is how long the poller sleeps when it observes pause.
	PollPauseSleep time.Duration `yaml:"poll_pause_sleep"`

	// EmptyRosterSleep is how long the poller sleeps when the roster is
	// empty.
	EmptyRosterSleep time.Duration `yaml:"empty_roster_sleep"`

	// NodeExchangeTimeout bounds a single node's sensor-poll exchange.
	NodeExchangeTimeout time.Duration `yaml:"node_exchange_timeout"`

	// NodeRetryBackoff is the pause before retrying a failed node once.
	NodeRetryBackoff time.Duration `yaml:"node_retry_backoff"`

	// CommandExchangeTimeout bounds an enroll/unenroll/relay exchange.
	CommandExchangeTimeout time.Duration `yaml:"command_exchange_timeout"`

	// SerialOpenRetries/SerialOpenSpacing govern port-open retry.
	SerialOpenRetries  int           `yaml:"serial_open_retries"`
	SerialOpenSpacing  time.Duration `yaml:"serial_open_spacing"`
	SerialReadTimeout  time.Duration `yaml:"serial_read_timeout"`

	// MQTTReconnectDelay is the delay before the single scheduled
	// reconnect attempt after an unexpected disconnect.
	MQTTReconnectDelay time.Duration `yaml:"mqtt_reconnect_delay"`

	// SensorPublishRetries/Backoff govern opportunistic reconnect-and-retry
	// for telemetry publication.
	SensorPublishRetries int           `yaml:"sensor_publish_retries"`
	SensorPublishBackoff time.Duration `yaml:"sensor_publish_backoff"`
}

// DefaultTuning returns the spec's suggested default timings.
func DefaultTuning() Tuning {
	return Tuning{
		PauseGrace:             500 * time.Millisecond,
		CommandAcquireTimeout:  9 * time.Second,
		PollAcquireTimeout:     500 * time.Millisecond,
		PollPauseSleep:         500 * time.Millisecond,
		EmptyRosterSleep:       2 * time.Second,
		NodeExchangeTimeout:    5 * time.Second,
		NodeRetryBackoff:       2 * time.Second,
		CommandExchangeTimeout: 15 * time.Second,
		SerialOpenRetries:      3,
		SerialOpenSpacing:      1 * time.Second,
		SerialReadTimeout:      100 * time.Millisecond,
		MQTTReconnectDelay:     5 * time.Second,
		SensorPublishRetries:   3,
		SensorPublishBackoff:   2 * time.Second,
	}
}

// Load reads configuration from the environment and, if tuningPath is
// non-empty, overlays timing knobs from a YAML file.
func Load(tuningPath string) (*Config, error) {
	cfg := &Config{
		GatewayID:       envOr("GATEWAY_ID", "G100101"),
		SerialPort:      envOr("SERIAL_PORT", "/dev/ttyUSB0"),
		SerialBaudRate:  envOrInt("SERIAL_BAUDRATE", 115200),
		MQTTBroker:      envOr("MQTT_BROKER", "localhost"),
		MQTTPort:        envOrInt("MQTT_PORT", 1883),
		MQTTKeepalive:   envOrInt("MQTT_KEEPALIVE", 60),
		MQTTClientID:    os.Getenv("MQTT_CLIENT_ID"),
		MQTTUsername:    os.Getenv("MQTT_USERNAME"),
		MQTTPassword:    os.Getenv("MQTT_PASSWORD"),
		MQTTTLSEnabled:  envOrBool("MQTT_TLS_ENABLED", false),
		MQTTTLSInsecure: envOrBool("MQTT_TLS_INSECURE", false),
		AdminJWTSecret:  os.Getenv("ADMIN_JWT_SECRET"),
		Tuning:          DefaultTuning(),
	}

	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "gateway_" + cfg.GatewayID
	}

	if tuningPath != "" {
		if err := overlayTuning(tuningPath, &cfg.Tuning); err != nil {
			return nil, fmt.Errorf("load tuning overlay: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// overlayTuning parses a YAML file of tuning overrides onto the defaults.
// Fields absent from the file keep their default value.
func overlayTuning(path string, t *Tuning) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, t)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Package mqttlink owns the MQTT broker connection: last-will, topic
// subscription, reconnection, and QoS-1 publication of telemetry, status
// and command responses.
package mqttlink

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vegafield/lora-gateway-bridge/internal/logger"
	"github.com/vegafield/lora-gateway-bridge/internal/metrics"
)

// Config configures the MQTT link.
type Config struct {
	Broker    string
	Port      int
	ClientID  string
	Username  string
	Password  string
	Keepalive int
	GatewayID string

	TLSEnabled  bool
	TLSInsecure bool
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string

	ReconnectDelay       time.Duration
	PublishRetries       int
	PublishRetryBackoff  time.Duration
}

// CommandHandler is invoked for every decoded message on the command
// topic. It is expected to publish its own correlated response.
type CommandHandler func(payload map[string]interface{})

// Link wraps a paho MQTT client with the gateway's topic conventions.
type Link struct {
	cfg     Config
	client  mqtt.Client
	onCmd   CommandHandler
	log     *logger.Logger
	connected atomic.Bool

	subscribedMu sync.Mutex
	subscribed   []string
}

func topicCommand(gatewayID string) string  { return fmt.Sprintf("gateway/%s/command", gatewayID) }
func topicStatus(gatewayID string) string   { return fmt.Sprintf("gateway/%s/status", gatewayID) }
func topicResponse(gatewayID string) string { return fmt.Sprintf("gateway/%s/response", gatewayID) }
func topicSensor(gatewayID, nodeID string) string {
	return fmt.Sprintf("sensor_data/%s/%s", gatewayID, nodeID)
}

// New constructs a Link. Call Connect to open the broker connection.
func New(cfg Config, onCmd CommandHandler, log *logger.Logger) *Link {
	if log == nil {
		log = logger.Global()
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PublishRetries == 0 {
		cfg.PublishRetries = 3
	}
	if cfg.PublishRetryBackoff == 0 {
		cfg.PublishRetryBackoff = 2 * time.Second
	}
	return &Link{cfg: cfg, onCmd: onCmd, log: log}
}

// Connect opens the broker connection, arming the last-will message and
// the on-connect subscribe/publish-status sequence.
func (l *Link) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", l.cfg.Broker, l.cfg.Port))
	opts.SetClientID(l.cfg.ClientID)
	opts.SetKeepAlive(time.Duration(l.cfg.Keepalive) * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false) // we own reconnect scheduling explicitly

	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
		opts.SetPassword(l.cfg.Password)
	}

	if l.cfg.TLSEnabled {
		tlsConfig, err := l.createTLSConfig()
		if err != nil {
			return fmt.Errorf("mqttlink: build TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	willPayload, _ := json.Marshal(statusPayload{
		Status:    "disconnected",
		GatewayID: l.cfg.GatewayID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	opts.SetWill(topicStatus(l.cfg.GatewayID), string(willPayload), 1, true)

	opts.SetOnConnectHandler(l.onConnect)
	opts.SetConnectionLostHandler(l.onConnectionLost)

	l.client = mqtt.NewClient(opts)
	token := l.client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		if token.Error() != nil {
			return fmt.Errorf("mqttlink: connect: %w", token.Error())
		}
		return fmt.Errorf("mqttlink: connect timed out")
	}
	return nil
}

func (l *Link) createTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: l.cfg.TLSInsecure}

	if l.cfg.TLSCertFile != "" && l.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(l.cfg.TLSCertFile, l.cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if l.cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(l.cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func (l *Link) onConnect(client mqtt.Client) {
	l.connected.Store(true)
	metrics.MQTTConnected.Set(1)

	cmdTopic := topicCommand(l.cfg.GatewayID)
	statusTopic := topicStatus(l.cfg.GatewayID)

	for _, topic := range []string{cmdTopic, statusTopic} {
		token := client.Subscribe(topic, 1, l.handleMessage)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			l.log.Error("mqttlink: subscribe failed", "topic", topic, "error", token.Error())
			continue
		}
		l.subscribedMu.Lock()
		l.subscribed = append(l.subscribed, topic)
		l.subscribedMu.Unlock()
	}

	if err := l.PublishStatus("connected"); err != nil {
		l.log.Warn("mqttlink: publish connected status failed", "error", err)
	}
}

func (l *Link) onConnectionLost(client mqtt.Client, err error) {
	l.connected.Store(false)
	metrics.MQTTConnected.Set(0)
	l.log.Warn("mqttlink: connection lost, scheduling reconnect", "error", err, "delay", l.cfg.ReconnectDelay)
	time.AfterFunc(l.cfg.ReconnectDelay, l.reconnect)
}

func (l *Link) reconnect() {
	if l.IsConnected() {
		return
	}
	token := l.client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		l.log.Warn("mqttlink: scheduled reconnect failed, re-arming", "delay", l.cfg.ReconnectDelay)
		time.AfterFunc(l.cfg.ReconnectDelay, l.reconnect)
	}
}

func (l *Link) handleMessage(client mqtt.Client, msg mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("mqttlink: recovered panic in command handler", "panic", r)
		}
	}()
	if msg.Topic() != topicCommand(l.cfg.GatewayID) {
		return
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		l.log.Warn("mqttlink: dropping malformed command payload", "error", err)
		return
	}
	if l.onCmd != nil {
		l.onCmd(payload)
	}
}

// IsConnected reports the current connection state.
func (l *Link) IsConnected() bool { return l.connected.Load() }

// GetSubscribedTopics reports the topics this client has successfully
// subscribed to, for observability/debugging parity with the reference
// implementation; it is not consulted by any command path.
func (l *Link) GetSubscribedTopics() []string {
	l.subscribedMu.Lock()
	defer l.subscribedMu.Unlock()
	out := make([]string, len(l.subscribed))
	copy(out, l.subscribed)
	return out
}

type statusPayload struct {
	Status    string `json:"status"`
	GatewayID string `json:"gateway_id"`
	Timestamp string `json:"timestamp"`
}

// PublishStatus publishes a retained status update.
func (l *Link) PublishStatus(status string) error {
	payload, err := json.Marshal(statusPayload{
		Status:    status,
		GatewayID: l.cfg.GatewayID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return l.publishWithAck(topicStatus(l.cfg.GatewayID), 1, true, payload)
}

type responsePayload struct {
	Action        string      `json:"action"`
	CorrelationID string      `json:"correlation_id"`
	Response      interface{} `json:"response"`
}

// PublishResponse publishes a correlated command response, not retained.
func (l *Link) PublishResponse(action, correlationID string, response interface{}) error {
	payload, err := json.Marshal(responsePayload{Action: action, CorrelationID: correlationID, Response: response})
	if err != nil {
		return err
	}
	return l.publishWithAck(topicResponse(l.cfg.GatewayID), 1, false, payload)
}

type sensorPayload struct {
	GatewayID  string   `json:"gateway_id"`
	NodeID     string   `json:"node_id"`
	SensorData []string `json:"sensor_data"`
	Timestamp  string   `json:"timestamp"`
}

// PublishSensorData publishes telemetry for one node, retained QoS 1. It
// attempts an opportunistic reconnect-and-retry up to cfg.PublishRetries
// times with cfg.PublishRetryBackoff between attempts before giving up on
// this sample.
func (l *Link) PublishSensorData(gatewayID, nodeID string, values []string) error {
	payload, err := json.Marshal(sensorPayload{
		GatewayID:  gatewayID,
		NodeID:     nodeID,
		SensorData: values,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	topic := topicSensor(gatewayID, nodeID)

	var lastErr error
	for attempt := 0; attempt < l.cfg.PublishRetries; attempt++ {
		if attempt > 0 {
			metrics.SensorPublishRetries.Inc()
			time.Sleep(l.cfg.PublishRetryBackoff)
		}
		if !l.IsConnected() {
			l.reconnect()
		}
		if err := l.publishWithAck(topic, 1, true, payload); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("mqttlink: publish sensor data after %d attempts: %w", l.cfg.PublishRetries, lastErr)
}

// publishWithAck publishes and waits for the token, logging an
// acknowledgement the way the reference client's on_publish callback did.
func (l *Link) publishWithAck(topic string, qos byte, retained bool, payload []byte) error {
	if l.client == nil {
		return fmt.Errorf("mqttlink: not connected")
	}
	token := l.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqttlink: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttlink: publish to %s: %w", topic, err)
	}
	l.log.Debug("mqttlink: publish acknowledged", "topic", topic)
	return nil
}

// Close disconnects cleanly, publishing a disconnected status first.
func (l *Link) Close() {
	if l.client == nil {
		return
	}
	if l.IsConnected() {
		if err := l.PublishStatus("disconnected"); err != nil {
			l.log.Warn("mqttlink: publish disconnected status on close failed", "error", err)
		}
	}
	l.client.Disconnect(250)
	l.connected.Store(false)
	metrics.MQTTConnected.Set(0)
}

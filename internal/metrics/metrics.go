// Package metrics exposes Prometheus instrumentation for the gateway
// bridge's serial arbitration, poll loop and MQTT link.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExchangeCount counts completed serial exchanges by origin and outcome.
	ExchangeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lora_gateway_serial_exchanges_total",
		Help: "Serial AT+PSEND exchanges, partitioned by caller and outcome",
	}, []string{"origin", "outcome"})

	// ArbiterBusyCount counts mutex acquisitions that timed out.
	ArbiterBusyCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lora_gateway_arbiter_busy_total",
		Help: "Arbiter mutex acquisitions that timed out, by caller",
	}, []string{"origin"})

	// CommandCount counts dispatched MQTT commands by action and result.
	CommandCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lora_gateway_commands_total",
		Help: "Dispatched commands, partitioned by action and success",
	}, []string{"action", "success"})

	// PollCycles counts completed poller passes over the roster.
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lora_gateway_poll_cycles_total",
		Help: "Completed poll cycles over the node roster",
	})

	// NodesEnrolled tracks the current roster size.
	NodesEnrolled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lora_gateway_nodes_enrolled",
		Help: "Current number of enrolled nodes",
	})

	// MQTTConnected reports MQTT link connectivity as 0/1.
	MQTTConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lora_gateway_mqtt_connected",
		Help: "1 if the MQTT link is currently connected, 0 otherwise",
	})

	// SensorPublishRetries counts telemetry publish retry attempts.
	SensorPublishRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lora_gateway_sensor_publish_retries_total",
		Help: "Retry attempts made while publishing sensor telemetry",
	})
)

// Origin labels for ExchangeCount / ArbiterBusyCount.
const (
	OriginPoller  = "poller"
	OriginCommand = "command"
)

// Outcome labels for ExchangeCount.
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeReject  = "rejected"
	OutcomeError   = "error"
)

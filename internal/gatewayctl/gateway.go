// Package gatewayctl implements the gateway enrollment operations that
// guard every node operation: register, unregister and status.
package gatewayctl

import (
	"github.com/vegafield/lora-gateway-bridge/internal/logger"
	"github.com/vegafield/lora-gateway-bridge/internal/store"
)

// MQTTLink is the subset of the MQTT link the gateway controller needs.
type MQTTLink interface {
	IsConnected() bool
	Connect() error
	PublishStatus(status string) error
}

// Response is the shape returned by Register and Unregister.
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	GatewayID string `json:"gateway_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// StatusResponse is the side-effect-free shape returned by Status.
type StatusResponse struct {
	Success       bool   `json:"success"`
	IsEnrolled    bool   `json:"is_enrolled"`
	GatewayID     string `json:"gateway_id"`
	Status        string `json:"status"`
	MQTTConnected bool   `json:"mqtt_connected"`
}

// Controller owns the gateway enrollment record and its current status
// string ("connected"/"disconnected").
type Controller struct {
	configuredGatewayID string
	store               *store.GatewayStore
	mqtt                MQTTLink
	log                 *logger.Logger

	status string
}

// New constructs a Controller for configuredGatewayID, the id this
// process was started with.
func New(configuredGatewayID string, st *store.GatewayStore, mqtt MQTTLink, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Global()
	}
	c := &Controller{configuredGatewayID: configuredGatewayID, store: st, mqtt: mqtt, log: log, status: "disconnected"}
	if mqtt != nil && mqtt.IsConnected() {
		c.status = "connected"
	}
	return c
}

// Register validates gatewayID against the process-configured id, ensures
// the MQTT link is connected, persists enrollment, and publishes a
// retained "connected" status.
func (c *Controller) Register(gatewayID string) Response {
	if gatewayID == "" {
		return Response{Success: false, Message: "Missing gateway ID"}
	}
	if gatewayID != c.configuredGatewayID {
		return Response{Success: false, Message: "Gateway ID mismatch"}
	}

	if c.mqtt != nil && !c.mqtt.IsConnected() {
		if err := c.mqtt.Connect(); err != nil {
			c.log.Error("gatewayctl: reconnect before register failed", "error", err)
			return Response{Success: false, Message: "Unable to reach broker"}
		}
	}

	if err := c.store.Enroll(gatewayID); err != nil {
		return Response{Success: false, Message: "Failed to persist enrollment"}
	}

	c.status = "connected"
	if c.mqtt != nil {
		if err := c.mqtt.PublishStatus("connected"); err != nil {
			c.log.Warn("gatewayctl: publish connected status failed", "error", err)
		}
	}

	return Response{Success: true, Message: "Gateway registered", GatewayID: gatewayID, Status: c.status}
}

// Unregister clears the local enrollment record and, if still connected,
// publishes a retained "disconnected" status.
func (c *Controller) Unregister() Response {
	if err := c.store.Unenroll(); err != nil {
		return Response{Success: false, Message: "Failed to clear enrollment"}
	}
	c.status = "disconnected"
	if c.mqtt != nil && c.mqtt.IsConnected() {
		if err := c.mqtt.PublishStatus("disconnected"); err != nil {
			c.log.Warn("gatewayctl: publish disconnected status failed", "error", err)
		}
	}
	return Response{Success: true, Message: "Gateway unregistered", Status: c.status}
}

// Status reports the current enrollment state without side effects.
func (c *Controller) Status() StatusResponse {
	rec := c.store.Get()
	connected := c.mqtt != nil && c.mqtt.IsConnected()
	return StatusResponse{
		Success:       true,
		IsEnrolled:    rec.IsEnrolled,
		GatewayID:     rec.GatewayID,
		Status:        c.status,
		MQTTConnected: connected,
	}
}

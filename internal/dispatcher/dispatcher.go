// Package dispatcher routes decoded MQTT commands to the matching
// Gateway/Node Controller operation and publishes a correlated response.
//
// The dispatcher does not itself touch the arbiter's pause flag — each
// controller operation brackets its own serial access end to end via
// Arbiter.Do. This keeps pause ownership single-layered: see
// internal/arbiter for the rationale.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/vegafield/lora-gateway-bridge/internal/gatewayctl"
	"github.com/vegafield/lora-gateway-bridge/internal/logger"
	"github.com/vegafield/lora-gateway-bridge/internal/metrics"
	"github.com/vegafield/lora-gateway-bridge/internal/nodectl"
)

// Action names recognized on the command topic.
const (
	ActionRegisterGateway   = "REGISTER_GATEWAY"
	ActionUnregisterGateway = "UNREGISTER_GATEWAY"
	ActionEnrollNode        = "ENROLL_NODE"
	ActionUnenrollNode      = "UNENROLL_NODE"
	ActionRelayControl      = "RELAY_CONTROL"
)

// Responder publishes a correlated command response.
type Responder interface {
	PublishResponse(action, correlationID string, response interface{}) error
}

// Dispatcher maps an action string to the controller call it triggers.
type Dispatcher struct {
	gateway *gatewayctl.Controller
	node    *nodectl.Controller
	resp    Responder
	log     *logger.Logger
}

// New constructs a Dispatcher.
func New(gateway *gatewayctl.Controller, node *nodectl.Controller, resp Responder, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Global()
	}
	return &Dispatcher{gateway: gateway, node: node, resp: resp, log: log}
}

// Dispatch decodes payload into a command, runs the matching handler, and
// publishes the correlated response. It is meant to be called directly
// from the MQTT subscriber's callback thread; it never panics or blocks
// indefinitely, since every controller operation it invokes already
// bounds itself by a deadline.
func (d *Dispatcher) Dispatch(ctx context.Context, payload map[string]interface{}) {
	action, _ := payload["action"].(string)
	correlationID, _ := payload["correlation_id"].(string)
	data, _ := payload["data"].(map[string]interface{})

	response := d.handle(ctx, action, data)

	success := isSuccess(response)
	metrics.CommandCount.WithLabelValues(action, fmt.Sprintf("%t", success)).Inc()

	if d.resp == nil {
		return
	}
	if err := d.resp.PublishResponse(action, correlationID, response); err != nil {
		d.log.Warn("dispatcher: publish response failed", "action", action, "correlation_id", correlationID, "error", err)
	}
}

func (d *Dispatcher) handle(ctx context.Context, action string, data map[string]interface{}) interface{} {
	switch action {
	case ActionRegisterGateway:
		gatewayID, _ := data["gatewayId"].(string)
		return d.gateway.Register(gatewayID)
	case ActionUnregisterGateway:
		return d.gateway.Unregister()
	case ActionEnrollNode:
		nodeID, _ := data["nodeId"].(string)
		state, _ := data["state"].(string)
		return d.node.Enroll(ctx, nodeID, state)
	case ActionUnenrollNode:
		nodeID, _ := data["nodeId"].(string)
		state, _ := data["state"].(string)
		return d.node.Unenroll(ctx, nodeID, state)
	case ActionRelayControl:
		nodeID, _ := data["nodeId"].(string)
		relayNumber := intField(data, "relayNumber")
		relayState, _ := data["relayState"].(string)
		state, _ := data["state"].(string)
		return d.node.ControlRelay(ctx, nodeID, relayNumber, relayState, state)
	default:
		return gatewayctl.Response{Success: false, Message: "Unknown action: " + action}
	}
}

func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func isSuccess(response interface{}) bool {
	switch r := response.(type) {
	case gatewayctl.Response:
		return r.Success
	case nodectl.Response:
		return r.Success
	default:
		return false
	}
}

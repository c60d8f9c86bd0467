// Package nodectl implements the node enrollment and relay-control
// operations. Every operation that touches the radio runs inside a single
// Arbiter.Do call, which owns the pause/mutex bracketing end to end.
package nodectl

import (
	"context"

	"github.com/vegafield/lora-gateway-bridge/internal/arbiter"
	"github.com/vegafield/lora-gateway-bridge/internal/codec"
	"github.com/vegafield/lora-gateway-bridge/internal/config"
	"github.com/vegafield/lora-gateway-bridge/internal/logger"
	"github.com/vegafield/lora-gateway-bridge/internal/metrics"
	"github.com/vegafield/lora-gateway-bridge/internal/serialtransport"
	"github.com/vegafield/lora-gateway-bridge/internal/store"
)

// Status codes carried in the radio reply's status byte.
const (
	statusEnrollAccept   = "90"
	statusEnrollReject   = "80"
	statusUnenrollAccept = "97"
	statusUnenrollReject = "87"
	statusRelayAccept    = "92"
	statusRelayReject    = "82"
)

// Response is the shape returned by every node operation.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Controller implements enroll/unenroll/relay control.
type Controller struct {
	arb       *arbiter.Arbiter
	transport *serialtransport.Transport
	nodes     *store.NodeStore
	gatewayID string
	tuning    config.Tuning
	log       *logger.Logger
}

// New constructs a Controller.
func New(arb *arbiter.Arbiter, transport *serialtransport.Transport, nodes *store.NodeStore, gatewayID string, tuning config.Tuning, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Global()
	}
	return &Controller{arb: arb, transport: transport, nodes: nodes, gatewayID: gatewayID, tuning: tuning, log: log}
}

// Enroll adds nodeID to the roster if the radio accepts the handshake.
// It rejects early, without touching the arbiter, if the node already
// exists — a command that cannot possibly succeed should not pause the
// poller.
func (c *Controller) Enroll(ctx context.Context, nodeID, state string) Response {
	if c.nodes.Exists(nodeID, c.gatewayID) {
		return Response{Success: false, Message: "Node already enrolled"}
	}

	message := nodeID + c.gatewayID + state
	var resp Response
	err := c.arb.Do(ctx, c.tuning.PauseGrace, c.tuning.CommandAcquireTimeout, func() error {
		decoded, status, xerr := c.exchange(message)
		if xerr != nil {
			resp = transportErrorResponse(xerr)
			return nil
		}
		_ = decoded
		switch status {
		case statusEnrollAccept:
			if err := c.nodes.Add(store.NodeRecord{NodeID: nodeID, GatewayID: c.gatewayID, Relay1State: "0", Relay2State: "0"}); err != nil {
				resp = Response{Success: false, Message: "Failed to persist enrollment"}
				return nil
			}
			resp = Response{Success: true, Message: "Node enrolled"}
		case statusEnrollReject:
			resp = Response{Success: false, Message: "Node enrollment rejected by device"}
		default:
			resp = Response{Success: false, Message: "Unexpected device response"}
		}
		return nil
	})
	if err != nil {
		return busyResponse(err)
	}
	return resp
}

// Unenroll removes nodeID from the roster if the radio accepts.
func (c *Controller) Unenroll(ctx context.Context, nodeID, state string) Response {
	message := nodeID + c.gatewayID + state
	var resp Response
	err := c.arb.Do(ctx, c.tuning.PauseGrace, c.tuning.CommandAcquireTimeout, func() error {
		_, status, xerr := c.exchange(message)
		if xerr != nil {
			resp = transportErrorResponse(xerr)
			return nil
		}
		switch status {
		case statusUnenrollAccept:
			if err := c.nodes.Remove(nodeID, c.gatewayID); err != nil {
				resp = Response{Success: false, Message: "Failed to persist removal"}
				return nil
			}
			resp = Response{Success: true, Message: "Node unenrolled"}
		case statusUnenrollReject:
			resp = Response{Success: false, Message: "Node unenrollment rejected by device"}
		default:
			resp = Response{Success: false, Message: "Unexpected device response"}
		}
		return nil
	})
	if err != nil {
		return busyResponse(err)
	}
	return resp
}

// ControlRelay actuates relayNumber (1 or 2) to relayState on nodeID.
func (c *Controller) ControlRelay(ctx context.Context, nodeID string, relayNumber int, relayState, state string) Response {
	if relayNumber != 1 && relayNumber != 2 {
		return Response{Success: false, Message: "Invalid relay number"}
	}
	relayCode := "00"
	if relayNumber == 2 {
		relayCode = "01"
	}
	message := nodeID + c.gatewayID + state + relayCode + relayState

	var resp Response
	err := c.arb.Do(ctx, c.tuning.PauseGrace, c.tuning.CommandAcquireTimeout, func() error {
		_, status, xerr := c.exchange(message)
		if xerr != nil {
			resp = transportErrorResponse(xerr)
			return nil
		}
		switch status {
		case statusRelayAccept:
			if err := c.nodes.SetRelayState(nodeID, c.gatewayID, relayNumber, relayState); err != nil {
				resp = Response{Success: false, Message: "Failed to persist relay state"}
				return nil
			}
			resp = Response{Success: true, Message: "Relay updated"}
		case statusRelayReject:
			resp = Response{Success: false, Message: "Relay control rejected by device"}
		default:
			resp = Response{Success: false, Message: "Unexpected device response"}
		}
		return nil
	})
	if err != nil {
		return busyResponse(err)
	}
	return resp
}

// exchange runs one open->send->await->close cycle and extracts the
// status byte (decoded[14:16]) from the reply.
func (c *Controller) exchange(message string) (decoded string, status string, err error) {
	hexPayload := codec.Encode(message)
	decoded, err = c.transport.OpenSendAwaitClose(hexPayload, c.tuning.CommandExchangeTimeout)
	if err != nil {
		outcome := metrics.OutcomeError
		if err == serialtransport.ErrTimeout {
			outcome = metrics.OutcomeTimeout
		}
		metrics.ExchangeCount.WithLabelValues(metrics.OriginCommand, outcome).Inc()
		return "", "", err
	}
	if len(decoded) < 16 {
		metrics.ExchangeCount.WithLabelValues(metrics.OriginCommand, metrics.OutcomeError).Inc()
		return decoded, "", serialtransport.ErrTransportError
	}
	metrics.ExchangeCount.WithLabelValues(metrics.OriginCommand, metrics.OutcomeOK).Inc()
	return decoded, decoded[14:16], nil
}

func transportErrorResponse(err error) Response {
	if err == serialtransport.ErrTimeout {
		return Response{Success: false, Message: "Timed out waiting for device response"}
	}
	return Response{Success: false, Message: "Serial transport error"}
}

func busyResponse(err error) Response {
	if err == arbiter.ErrBusy {
		metrics.ArbiterBusyCount.WithLabelValues(metrics.OriginCommand).Inc()
		return Response{Success: false, Message: "Serial port busy"}
	}
	return Response{Success: false, Message: "Operation cancelled"}
}

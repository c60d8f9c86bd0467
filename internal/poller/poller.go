// Package poller runs the continuous, low-priority sensor-read loop over
// the enrolled node roster, yielding promptly whenever the arbiter's
// pause flag is raised by a command handler.
package poller

import (
	"context"
	"strings"
	"time"

	"github.com/vegafield/lora-gateway-bridge/internal/arbiter"
	"github.com/vegafield/lora-gateway-bridge/internal/codec"
	"github.com/vegafield/lora-gateway-bridge/internal/config"
	"github.com/vegafield/lora-gateway-bridge/internal/logger"
	"github.com/vegafield/lora-gateway-bridge/internal/metrics"
	"github.com/vegafield/lora-gateway-bridge/internal/serialtransport"
	"github.com/vegafield/lora-gateway-bridge/internal/store"
)

// sensorRequestCode is the status byte requesting a sensor reading.
const sensorRequestCode = "10"

// Publisher forwards decoded telemetry for one node to the MQTT link.
// values is the comma-separated sensor body with the leading state code
// already stripped.
type Publisher interface {
	PublishSensorData(gatewayID, nodeID string, values []string) error
}

// Poller owns the periodic fair-rotation loop.
type Poller struct {
	arb       *arbiter.Arbiter
	transport *serialtransport.Transport
	nodes     *store.NodeStore
	publisher Publisher
	gatewayID string
	tuning    config.Tuning
	log       *logger.Logger
}

// New constructs a Poller.
func New(arb *arbiter.Arbiter, transport *serialtransport.Transport, nodes *store.NodeStore, publisher Publisher, gatewayID string, tuning config.Tuning, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.Global()
	}
	return &Poller{
		arb:       arb,
		transport: transport,
		nodes:     nodes,
		publisher: publisher,
		gatewayID: gatewayID,
		tuning:    tuning,
		log:       log,
	}
}

// Run executes the poll loop until ctx is cancelled. It is meant to run
// in its own goroutine for the lifetime of the process; panics inside a
// single iteration are recovered and logged so the loop never dies.
func (p *Poller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.runIterationSafely(ctx)
	}
}

func (p *Poller) runIterationSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("poller: recovered panic in iteration", "panic", r)
		}
	}()
	p.runIteration(ctx)
}

func (p *Poller) runIteration(ctx context.Context) {
	if p.arb.IsPaused() {
		sleepCtx(ctx, p.tuning.PollPauseSleep)
		return
	}

	nodes := p.nodes.List()
	if len(nodes) == 0 {
		sleepCtx(ctx, p.tuning.EmptyRosterSleep)
		return
	}

	release, ok := p.arb.AcquireWithTimeout(p.tuning.PollAcquireTimeout)
	if !ok {
		metrics.ArbiterBusyCount.WithLabelValues(metrics.OriginPoller).Inc()
		return
	}
	defer release()

	if p.arb.IsPaused() {
		return
	}

	if err := p.transport.Open(); err != nil {
		p.log.Warn("poller: failed to open serial port for batch", "error", err)
		return
	}
	defer p.transport.Close()

	metrics.NodesEnrolled.Set(float64(len(nodes)))

	for _, node := range nodes {
		if p.arb.IsPaused() {
			break
		}
		p.pollNode(node)
	}

	metrics.PollCycles.Inc()
}

func (p *Poller) pollNode(node store.NodeRecord) {
	if p.arb.IsPaused() {
		return
	}
	ok := p.exchangeOnce(node)
	if ok {
		return
	}

	if !interruptibleSleep(p.tuning.NodeRetryBackoff, p.arb.IsPaused) {
		return
	}
	p.exchangeOnce(node)
}

// exchangeOnce runs one radio exchange for node, checking p.arb.IsPaused
// at every checkpoint inside it — before the write and throughout the
// read wait — so a command raising pause mid-exchange is observed within
// one read-timeout tick rather than after the full exchange deadline.
func (p *Poller) exchangeOnce(node store.NodeRecord) bool {
	message := node.NodeID + node.GatewayID + sensorRequestCode
	hexPayload := codec.Encode(message)
	deadline := time.Now().Add(p.tuning.NodeExchangeTimeout)

	decoded, err := p.transport.Exchange(hexPayload, deadline, p.arb.IsPaused)
	if err != nil {
		if err == serialtransport.ErrAborted {
			p.log.Debug("poller: exchange aborted by pause", "node_id", node.NodeID)
			return false
		}
		outcome := metrics.OutcomeError
		if err == serialtransport.ErrTimeout {
			outcome = metrics.OutcomeTimeout
		}
		metrics.ExchangeCount.WithLabelValues(metrics.OriginPoller, outcome).Inc()
		p.log.Debug("poller: exchange failed", "node_id", node.NodeID, "error", err)
		return false
	}
	metrics.ExchangeCount.WithLabelValues(metrics.OriginPoller, metrics.OutcomeOK).Inc()

	if len(decoded) < 15 {
		p.log.Warn("poller: sensor reply too short", "node_id", node.NodeID, "len", len(decoded))
		return false
	}

	// decoded layout: node_id[0..7] || gateway_id[7..14] || status+body[14..]
	body := decoded[14:]
	if len(body) < 2 {
		return true
	}
	values := strings.Split(body[2:], ",")

	if err := p.publisher.PublishSensorData(p.gatewayID, node.NodeID, values); err != nil {
		p.log.Warn("poller: publish sensor data failed", "node_id", node.NodeID, "error", err)
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// interruptibleSleep waits up to d, polling abort every tick so the
// retry backoff is itself a checkpoint rather than an uninterruptible
// block. It returns false (wake early, caller should bail) as soon as
// abort reports true, true if the full duration elapsed without abort.
func interruptibleSleep(d time.Duration, abort func() bool) bool {
	const tick = 100 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		if abort() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > tick {
			time.Sleep(tick)
		} else {
			time.Sleep(remaining)
		}
	}
}

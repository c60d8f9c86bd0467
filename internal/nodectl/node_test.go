package nodectl

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/vegafield/lora-gateway-bridge/internal/arbiter"
	"github.com/vegafield/lora-gateway-bridge/internal/codec"
	"github.com/vegafield/lora-gateway-bridge/internal/config"
	"github.com/vegafield/lora-gateway-bridge/internal/serialtransport"
	"github.com/vegafield/lora-gateway-bridge/internal/store"
)

// scriptedPort replies with a single canned EVT:RXP2P line regardless of
// what was written, modelling the modem's accept/reject response.
type scriptedPort struct {
	replyLine string
	sent      []string
	served    bool
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if p.served {
		return 0, nil
	}
	p.served = true
	n := copy(b, p.replyLine+"\n")
	return n, nil
}
func (p *scriptedPort) Write(b []byte) (int, error) {
	p.sent = append(p.sent, string(b))
	return len(b), nil
}
func (p *scriptedPort) Close() error                         { return nil }
func (p *scriptedPort) ResetInputBuffer() error               { return nil }
func (p *scriptedPort) ResetOutputBuffer() error              { return nil }
func (p *scriptedPort) SetReadTimeout(time.Duration) error    { return nil }

// replyFor builds an EVT:RXP2P line whose decoded payload is
// nodeID+gatewayID+status, matching the wire layout controllers expect.
func replyFor(nodeID, gatewayID, status string) string {
	hex := codec.Encode(nodeID + gatewayID + status)
	return "+EVT:RXP2P:0:0:" + hex
}

func newTestController(t *testing.T, replyLine string) (*Controller, *store.NodeStore) {
	t.Helper()
	a := arbiter.New()
	tr := serialtransport.New(serialtransport.Config{PortName: "fake0", BaudRate: 115200, OpenRetries: 1, OpenSpacing: time.Millisecond})
	tr.SetPortOpener(func(name string, mode *serial.Mode) (serialtransport.Port, error) {
		return &scriptedPort{replyLine: replyLine}, nil
	})
	tuning := config.DefaultTuning()
	tuning.PauseGrace = time.Millisecond
	tuning.CommandAcquireTimeout = time.Second
	tuning.CommandExchangeTimeout = time.Second

	nodes := store.NewNodeStore(filepath.Join(t.TempDir(), "node-list.json"))
	return New(a, tr, nodes, "G100101", tuning, nil), nodes
}

func TestEnrollAccepted(t *testing.T) {
	c, nodes := newTestController(t, replyFor("N201001", "G100101", "90"))
	resp := c.Enroll(context.Background(), "N201001", "10")
	if !resp.Success {
		t.Fatalf("Enroll() = %+v, want success", resp)
	}
	if !nodes.Exists("N201001", "G100101") {
		t.Fatal("node should be in roster after accepted enroll")
	}
}

func TestEnrollRejected(t *testing.T) {
	c, nodes := newTestController(t, replyFor("N201001", "G100101", "80"))
	resp := c.Enroll(context.Background(), "N201001", "10")
	if resp.Success || resp.Message != "Node enrollment rejected by device" {
		t.Fatalf("Enroll() = %+v", resp)
	}
	if nodes.Exists("N201001", "G100101") {
		t.Fatal("node should not be in roster after rejected enroll")
	}
}

func TestEnrollAlreadyExistsSkipsArbiter(t *testing.T) {
	c, nodes := newTestController(t, replyFor("N201001", "G100101", "90"))
	_ = nodes.Add(store.NodeRecord{NodeID: "N201001", GatewayID: "G100101"})

	resp := c.Enroll(context.Background(), "N201001", "10")
	if resp.Success || resp.Message != "Node already enrolled" {
		t.Fatalf("Enroll(duplicate) = %+v", resp)
	}
}

func TestControlRelayAccepted(t *testing.T) {
	c, nodes := newTestController(t, replyFor("N201001", "G100101", "92"))
	_ = nodes.Add(store.NodeRecord{NodeID: "N201001", GatewayID: "G100101", Relay1State: "0", Relay2State: "0"})

	resp := c.ControlRelay(context.Background(), "N201001", 2, "1", "20")
	if !resp.Success {
		t.Fatalf("ControlRelay() = %+v", resp)
	}
	list := nodes.List()
	if list[0].Relay2State != "1" {
		t.Fatalf("Relay2State = %q, want 1", list[0].Relay2State)
	}
}

func TestControlRelayInvalidNumber(t *testing.T) {
	c, _ := newTestController(t, replyFor("N201001", "G100101", "92"))
	resp := c.ControlRelay(context.Background(), "N201001", 3, "1", "20")
	if resp.Success || resp.Message != "Invalid relay number" {
		t.Fatalf("ControlRelay(invalid) = %+v", resp)
	}
}

func TestUnenrollAccepted(t *testing.T) {
	c, nodes := newTestController(t, replyFor("N201001", "G100101", "97"))
	_ = nodes.Add(store.NodeRecord{NodeID: "N201001", GatewayID: "G100101"})

	resp := c.Unenroll(context.Background(), "N201001", "10")
	if !resp.Success {
		t.Fatalf("Unenroll() = %+v", resp)
	}
	if nodes.Exists("N201001", "G100101") {
		t.Fatal("node should be removed from roster after accepted unenroll")
	}
}

func TestPauseClearedAfterCommand(t *testing.T) {
	c, _ := newTestController(t, replyFor("N201001", "G100101", "90"))
	c.Enroll(context.Background(), "N201001", "10")
	if c.arb.IsPaused() {
		t.Fatal("pause should be cleared after the command completes")
	}
	if _, ok := c.arb.TryAcquire(); !ok {
		t.Fatal("mutex should be released after the command completes")
	}
}

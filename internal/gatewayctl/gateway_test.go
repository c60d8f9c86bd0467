package gatewayctl

import (
	"path/filepath"
	"testing"

	"github.com/vegafield/lora-gateway-bridge/internal/store"
)

type fakeMQTT struct {
	connected bool
	statuses  []string
}

func (f *fakeMQTT) IsConnected() bool { return f.connected }
func (f *fakeMQTT) Connect() error    { f.connected = true; return nil }
func (f *fakeMQTT) PublishStatus(status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func newController(t *testing.T) (*Controller, *fakeMQTT) {
	t.Helper()
	st := store.NewGatewayStore(filepath.Join(t.TempDir(), "gateway-status.json"))
	mq := &fakeMQTT{connected: true}
	return New("G100101", st, mq, nil), mq
}

func TestRegisterMissingGatewayID(t *testing.T) {
	c, _ := newController(t)
	resp := c.Register("")
	if resp.Success || resp.Message != "Missing gateway ID" {
		t.Fatalf("Register(\"\") = %+v", resp)
	}
}

func TestRegisterMismatch(t *testing.T) {
	c, _ := newController(t)
	resp := c.Register("WRONGID")
	if resp.Success || resp.Message != "Gateway ID mismatch" {
		t.Fatalf("Register(mismatch) = %+v", resp)
	}
}

func TestRegisterSuccess(t *testing.T) {
	c, mq := newController(t)
	resp := c.Register("G100101")
	if !resp.Success || resp.GatewayID != "G100101" {
		t.Fatalf("Register(valid) = %+v", resp)
	}
	if len(mq.statuses) != 1 || mq.statuses[0] != "connected" {
		t.Fatalf("published statuses = %v, want [connected]", mq.statuses)
	}

	status := c.Status()
	if !status.IsEnrolled || status.GatewayID != "G100101" {
		t.Fatalf("Status() after register = %+v", status)
	}
}

func TestUnregister(t *testing.T) {
	c, mq := newController(t)
	c.Register("G100101")
	resp := c.Unregister()
	if !resp.Success {
		t.Fatalf("Unregister() = %+v", resp)
	}
	if mq.statuses[len(mq.statuses)-1] != "disconnected" {
		t.Fatalf("last published status = %q, want disconnected", mq.statuses[len(mq.statuses)-1])
	}
	status := c.Status()
	if status.IsEnrolled {
		t.Fatalf("Status() after unregister = %+v, want unenrolled", status)
	}
}

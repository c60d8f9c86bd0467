package mqttlink

import "testing"

type fakeMessage struct {
	topic   string
	payload []byte
}

func (f fakeMessage) Duplicate() bool   { return false }
func (f fakeMessage) Qos() byte         { return 1 }
func (f fakeMessage) Retained() bool    { return false }
func (f fakeMessage) Topic() string     { return f.topic }
func (f fakeMessage) MessageID() uint16 { return 0 }
func (f fakeMessage) Payload() []byte   { return f.payload }
func (f fakeMessage) Ack()              {}

func TestTopicHelpers(t *testing.T) {
	if got := topicCommand("G100101"); got != "gateway/G100101/command" {
		t.Fatalf("topicCommand = %q", got)
	}
	if got := topicStatus("G100101"); got != "gateway/G100101/status" {
		t.Fatalf("topicStatus = %q", got)
	}
	if got := topicResponse("G100101"); got != "gateway/G100101/response" {
		t.Fatalf("topicResponse = %q", got)
	}
	if got := topicSensor("G100101", "N201001"); got != "sensor_data/G100101/N201001" {
		t.Fatalf("topicSensor = %q", got)
	}
}

func TestHandleMessageIgnoresOtherTopics(t *testing.T) {
	called := false
	l := New(Config{GatewayID: "G100101"}, func(map[string]interface{}) { called = true }, nil)

	l.handleMessage(nil, fakeMessage{topic: "gateway/G100101/status", payload: []byte(`{}`)})
	if called {
		t.Fatal("handler should not be invoked for a non-command topic")
	}
}

func TestHandleMessageDropsMalformedPayload(t *testing.T) {
	called := false
	l := New(Config{GatewayID: "G100101"}, func(map[string]interface{}) { called = true }, nil)

	l.handleMessage(nil, fakeMessage{topic: "gateway/G100101/command", payload: []byte("not json")})
	if called {
		t.Fatal("handler should not be invoked for a malformed payload")
	}
}

func TestHandleMessageRoutesValidCommand(t *testing.T) {
	var got map[string]interface{}
	l := New(Config{GatewayID: "G100101"}, func(p map[string]interface{}) { got = p }, nil)

	l.handleMessage(nil, fakeMessage{
		topic:   "gateway/G100101/command",
		payload: []byte(`{"action":"ENROLL_NODE","correlation_id":"c1"}`),
	})
	if got == nil || got["action"] != "ENROLL_NODE" {
		t.Fatalf("got = %v, want routed payload", got)
	}
}

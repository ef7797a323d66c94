package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nodekeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodekeeper/internal/node"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakeBus struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]mqtt.MessageHandler
	subQoS   map[string]byte
	subErr   error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]mqtt.MessageHandler), subQoS: make(map[string]byte)}
}

func (f *fakeBus) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (f *fakeBus) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	if f.subErr != nil {
		return f.subErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	f.subQoS[topic] = qos
	return nil
}

func (f *fakeBus) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeBus) deliver(t *testing.T, topic string, payload string) {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", topic)
	}
	if err := h(topic, []byte(payload)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

func (f *fakeBus) on(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// waitFor polls until at least n messages were published on topic.
func (f *fakeBus) waitFor(t *testing.T, topic string, n int) []published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.on(topic); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages on %s, got %d", n, topic, len(f.on(topic)))
	return nil
}

type fakeController struct {
	mu       sync.Mutex
	spawns   int
	kills    int
	spawnErr error
	running  bool
}

func (c *fakeController) Name() string { return "shinkai-node" }

func (c *fakeController) Spawn(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawns++
	if c.spawnErr != nil {
		return c.spawnErr
	}
	c.running = true
	return nil
}

func (c *fakeController) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kills++
	c.running = false
	return nil
}

func (c *fakeController) Status() node.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := node.StateStopped
	if c.running {
		st = node.StateRunning
	}
	return node.Status{Name: c.Name(), State: st, Running: c.running}
}

var topics mqtt.Topics

func startBridge(t *testing.T, bus *fakeBus, ctl *fakeController) *Bridge {
	t.Helper()
	b, err := NewBridge(Options{Bus: bus, Controller: ctl})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
	return b
}

func decodeAck(t *testing.T, m published) AckMessage {
	t.Helper()
	var ack AckMessage
	if err := json.Unmarshal(m.payload, &ack); err != nil {
		t.Fatalf("ack is not JSON: %v (%s)", err, m.payload)
	}
	return ack
}

func TestNewBridge_Validation(t *testing.T) {
	if _, err := NewBridge(Options{Controller: &fakeController{}}); err == nil {
		t.Error("expected error without bus")
	}
	if _, err := NewBridge(Options{Bus: newFakeBus()}); err == nil {
		t.Error("expected error without controller")
	}
}

func TestNewBridge_QoS(t *testing.T) {
	tests := []struct {
		name    string
		qos     byte
		wantErr bool
	}{
		{"at most once", 0, false},
		{"at least once", 1, false},
		{"exactly once", 2, false},
		{"out of range", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			b, err := NewBridge(Options{Bus: bus, Controller: &fakeController{}, QoS: tt.qos})
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewBridge() error = nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBridge() error = %v", err)
			}
			if err := b.Start(); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			if got := bus.subQoS[topics.NodeCommand("shinkai-node")]; got != tt.qos {
				t.Errorf("subscribe qos = %d, want %d", got, tt.qos)
			}
			status := bus.waitFor(t, topics.NodeStatus("shinkai-node"), 1)
			if status[0].qos != tt.qos {
				t.Errorf("status qos = %d, want %d", status[0].qos, tt.qos)
			}
		})
	}
}

func TestStart_PublishesRetainedStatus(t *testing.T) {
	bus := newFakeBus()
	startBridge(t, bus, &fakeController{})

	status := bus.waitFor(t, topics.NodeStatus("shinkai-node"), 1)
	if !status[0].retained {
		t.Error("status must be retained")
	}

	var got map[string]any
	if err := json.Unmarshal(status[0].payload, &got); err != nil {
		t.Fatalf("status is not JSON: %v", err)
	}
	if got["state"] != "stopped" || got["running"] != false {
		t.Errorf("status = %v", got)
	}
}

func TestStart_SubscribeError(t *testing.T) {
	bus := newFakeBus()
	bus.subErr = mqtt.ErrNotConnected

	b, _ := NewBridge(Options{Bus: bus, Controller: &fakeController{}})
	if err := b.Start(); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Start() error = %v, want ErrNotConnected", err)
	}
}

func TestHandleEvent_PublishesEventThenStatus(t *testing.T) {
	bus := newFakeBus()
	b := startBridge(t, bus, &fakeController{})

	b.HandleEvent(node.Event{Type: node.EventReady, Node: "shinkai-node", Elapsed: 120 * time.Millisecond})

	events := bus.waitFor(t, topics.NodeEvents("shinkai-node"), 1)
	if events[0].retained {
		t.Error("events must not be retained")
	}

	var got map[string]any
	if err := json.Unmarshal(events[0].payload, &got); err != nil {
		t.Fatalf("event is not JSON: %v", err)
	}
	if got["type"] != "ready" || got["elapsed_ms"] != float64(120) {
		t.Errorf("event = %v", got)
	}

	// One status from Start, one after the event
	bus.waitFor(t, topics.NodeStatus("shinkai-node"), 2)
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		spawnErr   error
		wantStatus string
		wantSpawns int
		wantKills  int
	}{
		{"spawn", `{"id":"c1","action":"spawn"}`, nil, AckOK, 1, 0},
		{"kill", `{"id":"c1","action":"kill"}`, nil, AckOK, 0, 1},
		{"spawn failure", `{"id":"c1","action":"spawn"}`, node.ErrNotConfigured, AckError, 1, 0},
		{"unknown action", `{"id":"c1","action":"reboot"}`, nil, AckError, 0, 0},
		{"invalid json", `{not json`, nil, AckError, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			ctl := &fakeController{spawnErr: tt.spawnErr}
			startBridge(t, bus, ctl)

			bus.deliver(t, topics.NodeCommand("shinkai-node"), tt.payload)

			acks := bus.waitFor(t, topics.NodeAck("shinkai-node"), 1)
			ack := decodeAck(t, acks[0])
			if ack.Status != tt.wantStatus {
				t.Errorf("ack status = %q, want %q (error %q)", ack.Status, tt.wantStatus, ack.Error)
			}
			if tt.wantStatus == AckError && ack.Error == "" {
				t.Error("error ack without message")
			}

			ctl.mu.Lock()
			defer ctl.mu.Unlock()
			if ctl.spawns != tt.wantSpawns || ctl.kills != tt.wantKills {
				t.Errorf("spawns=%d kills=%d, want %d/%d", ctl.spawns, ctl.kills, tt.wantSpawns, tt.wantKills)
			}
		})
	}
}

func TestCommand_AckEchoesID(t *testing.T) {
	bus := newFakeBus()
	startBridge(t, bus, &fakeController{})

	bus.deliver(t, topics.NodeCommand("shinkai-node"), `{"id":"abc-123","action":"kill"}`)

	ack := decodeAck(t, bus.waitFor(t, topics.NodeAck("shinkai-node"), 1)[0])
	if ack.ID != "abc-123" || ack.Action != ActionKill {
		t.Errorf("ack = %+v", ack)
	}
}

func TestHandleMessage_QueueFull(t *testing.T) {
	b, _ := NewBridge(Options{Bus: newFakeBus(), Controller: &fakeController{}, BufferSize: 1})

	if err := b.handleMessage("t", []byte(`{"action":"kill"}`)); err != nil {
		t.Fatalf("first message error = %v", err)
	}
	if err := b.handleMessage("t", []byte(`{"action":"kill"}`)); err == nil {
		t.Error("expected error once the queue is full")
	}
}

func TestHandleEvent_DropsWhenFull(t *testing.T) {
	b, _ := NewBridge(Options{Bus: newFakeBus(), Controller: &fakeController{}, BufferSize: 1})

	b.HandleEvent(node.Event{Type: node.EventSpawning})
	b.HandleEvent(node.Event{Type: node.EventReady}) // must not block

	if len(b.events) != 1 {
		t.Errorf("queued = %d, want 1", len(b.events))
	}
}

func TestStop_Unsubscribes(t *testing.T) {
	bus := newFakeBus()
	b, _ := NewBridge(Options{Bus: bus, Controller: &fakeController{}})
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, ok := bus.handlers[topics.NodeCommand("shinkai-node")]; ok {
		t.Error("still subscribed after Stop")
	}
}

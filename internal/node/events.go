package node

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/nodekeeper/internal/process"
)

// EventType names a node lifecycle event.
type EventType string

const (
	EventSpawning       EventType = "spawning"
	EventReady          EventType = "ready"
	EventReadyTimeout   EventType = "ready_timeout"
	EventSpawnFailed    EventType = "spawn_failed"
	EventKilled         EventType = "killed"
	EventStorageRemoved EventType = "storage_removed"
	EventOptionsChanged EventType = "options_changed"

	// Forwarded from the runner via HandleProcessEvent.
	EventProcessReady  = EventType(process.EventReady)
	EventProcessExited = EventType(process.EventExited)
)

// Event is a lifecycle notification delivered to every EventHandler.
type Event struct {
	Type    EventType      `json:"type"`
	Node    string         `json:"node"`
	Time    time.Time      `json:"time"`
	Elapsed time.Duration  `json:"-"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// MarshalJSON adds elapsed_ms when Elapsed is set.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	out := struct {
		alias
		ElapsedMS int64 `json:"elapsed_ms,omitempty"`
	}{alias: alias(e), ElapsedMS: e.Elapsed.Milliseconds()}
	return json.Marshal(out)
}

// EventHandler receives node events. Handlers run synchronously on the
// goroutine that produced the event and must not block.
type EventHandler func(Event)

// OnEvent registers h for all subsequent events.
func (s *Supervisor) OnEvent(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *Supervisor) emit(ev Event) {
	ev.Node = s.cfg.Name
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	s.mu.RLock()
	handlers := make([]EventHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

package audit

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/nodekeeper/internal/node"
)

// Sources recorded on entries.
const (
	SourceSupervisor = "supervisor"
	SourceRunner     = "runner"
)

// writeTimeout bounds a single insert.
const writeTimeout = 5 * time.Second

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Recorder turns node events into audit entries. HandleEvent never blocks;
// Run performs the inserts.
type Recorder struct {
	repo   Repository
	queue  chan Entry
	logger Logger
}

// NewRecorder creates a recorder buffering up to size pending entries.
func NewRecorder(repo Repository, size int) *Recorder {
	if size <= 0 {
		size = 256
	}
	return &Recorder{repo: repo, queue: make(chan Entry, size), logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// HandleEvent queues ev for recording. It is a node.EventHandler.
func (r *Recorder) HandleEvent(ev node.Event) {
	select {
	case r.queue <- EntryFromEvent(ev):
	default:
		r.logger.Warn("audit queue full, dropping event", "action", ev.Type)
	}
}

// Run writes queued entries until ctx is cancelled, then drains what is
// left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Recorder) write(e Entry) {
	// Detached from the run context so the final drain still lands
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Warn("writing audit entry", "action", e.Action, "error", err)
		return
	}
	r.logger.Debug("audit entry written", "id", e.ID, "action", e.Action)
}

// EntryFromEvent maps a node event onto an audit entry.
func EntryFromEvent(ev node.Event) Entry {
	source := SourceSupervisor
	if strings.HasPrefix(string(ev.Type), "process_") {
		source = SourceRunner
	}

	var details map[string]any
	if len(ev.Details) > 0 || ev.Elapsed > 0 {
		details = make(map[string]any, len(ev.Details)+1)
		for k, v := range ev.Details {
			details[k] = v
		}
		if ev.Elapsed > 0 {
			details["elapsed_ms"] = ev.Elapsed.Milliseconds()
		}
	}

	return Entry{
		Node:      ev.Node,
		Action:    string(ev.Type),
		Source:    source,
		Error:     ev.Error,
		Details:   details,
		CreatedAt: ev.Time,
	}
}

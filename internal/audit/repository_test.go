package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nodekeeper/internal/infrastructure/database"
	"github.com/nerrad567/nodekeeper/internal/node"
	"github.com/nerrad567/nodekeeper/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Node: "shinkai-node", Action: "spawning", Source: SourceSupervisor, CreatedAt: base},
		{Node: "shinkai-node", Action: "ready", Source: SourceSupervisor, CreatedAt: base.Add(time.Second),
			Details: map[string]any{"elapsed_ms": 412}},
		{Node: "shinkai-node", Action: "killed", Source: SourceSupervisor, CreatedAt: base.Add(2 * time.Second)},
		{Node: "other", Action: "ready_timeout", Source: SourceSupervisor, CreatedAt: base.Add(3 * time.Second),
			Error: "node did not become ready after 5001 ms"},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if entries[i].ID == "" {
			t.Error("Create() did not assign an ID")
		}
	}

	tests := []struct {
		name       string
		filter     Filter
		wantTotal  int
		wantAction []string
	}{
		{"all newest first", Filter{}, 4, []string{"ready_timeout", "killed", "ready", "spawning"}},
		{"by node", Filter{Node: "shinkai-node"}, 3, []string{"killed", "ready", "spawning"}},
		{"by action", Filter{Action: "ready"}, 1, []string{"ready"}},
		{"paged", Filter{Limit: 2, Offset: 1}, 4, []string{"killed", "ready"}},
		{"no match", Filter{Action: "nope"}, 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if len(res.Entries) != len(tt.wantAction) {
				t.Fatalf("got %d entries, want %d", len(res.Entries), len(tt.wantAction))
			}
			for i, want := range tt.wantAction {
				if res.Entries[i].Action != want {
					t.Errorf("entries[%d].Action = %q, want %q", i, res.Entries[i].Action, want)
				}
			}
		})
	}

	res, err := repo.List(ctx, Filter{Action: "ready"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := res.Entries[0].Details["elapsed_ms"]; got != float64(412) {
		t.Errorf("details elapsed_ms = %v, want 412", got)
	}
	if !res.Entries[0].CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("CreatedAt = %v", res.Entries[0].CreatedAt)
	}

	res, err = repo.List(ctx, Filter{Action: "ready_timeout"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Entries[0].Error == "" {
		t.Error("Error column not round-tripped")
	}
}

func TestSQLiteRepository_LimitClamp(t *testing.T) {
	repo := newTestRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 10000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != MaxLimit || res.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d, want %d/0", res.Limit, res.Offset, MaxLimit)
	}
	if res.Entries == nil {
		t.Error("Entries is nil, want empty slice")
	}
}

func TestEntryFromEvent(t *testing.T) {
	now := time.Now()

	e := EntryFromEvent(node.Event{
		Type:    node.EventReady,
		Node:    "shinkai-node",
		Time:    now,
		Elapsed: 412 * time.Millisecond,
		Details: map[string]any{"base_url": "http://127.0.0.1:9550"},
	})
	if e.Action != "ready" || e.Source != SourceSupervisor || e.Node != "shinkai-node" {
		t.Errorf("entry = %+v", e)
	}
	if e.Details["elapsed_ms"] != int64(412) || e.Details["base_url"] != "http://127.0.0.1:9550" {
		t.Errorf("details = %v", e.Details)
	}
	if !e.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, now)
	}

	exit := EntryFromEvent(node.Event{Type: node.EventProcessExited, Error: "exit status 1"})
	if exit.Source != SourceRunner || exit.Error != "exit status 1" {
		t.Errorf("exit entry = %+v", exit)
	}
	if exit.Details != nil {
		t.Errorf("details = %v, want nil", exit.Details)
	}
}

// memRepo is an in-memory Repository.
type memRepo struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("not implemented")
}

func (m *memRepo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, 8)

	for _, typ := range []node.EventType{node.EventSpawning, node.EventReady, node.EventKilled} {
		rec.HandleEvent(node.Event{Type: typ, Node: "shinkai-node"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rec.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if repo.len() != 3 {
		t.Errorf("recorded %d entries, want 3", repo.len())
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, 1)

	// Nothing drains the queue, so the second event is dropped
	rec.HandleEvent(node.Event{Type: node.EventSpawning})
	rec.HandleEvent(node.Event{Type: node.EventReady})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = rec.Run(ctx)

	if repo.len() != 1 {
		t.Errorf("recorded %d entries, want 1", repo.len())
	}
}

func TestRecorder_WriteErrorsAreLogged(t *testing.T) {
	repo := &memRepo{err: errors.New("disk full")}
	rec := NewRecorder(repo, 4)
	rec.HandleEvent(node.Event{Type: node.EventKilled})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rec.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, write failures must not stop the recorder", err)
	}
}

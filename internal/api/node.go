package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/nodekeeper/internal/audit"
	"github.com/nerrad567/nodekeeper/internal/node"
	"github.com/nerrad567/nodekeeper/internal/process"
)

const (
	defaultLogLines = 100
	maxLogLines     = 10000

	// settingsTimeout bounds persisting options after a change.
	settingsTimeout = 5 * time.Second
)

func (s *Server) handleNodeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

// handleSpawn blocks until the node is ready or the readiness wait fails.
// The spawn is detached from the request context: a client disconnect
// does not abort it.
func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	err := s.node.Spawn(context.WithoutCancel(r.Context()))
	if err != nil {
		writeSpawnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.node.Status())
}

// writeSpawnError maps Spawn failures onto status codes.
func writeSpawnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, process.ErrAlreadyRunning):
		writeConflict(w, err.Error())
	case errors.Is(err, node.ErrNotConfigured):
		writeError(w, http.StatusBadRequest, ErrCodeNotConfigured, err.Error())
	case errors.Is(err, node.ErrReadinessTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

func (s *Server) handleKill(w http.ResponseWriter, _ *http.Request) {
	if err := s.node.Kill(); err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) handleGetOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Options())
}

// handlePatchOptions merges the body into the current options. Fields
// absent from the body are left alone; an explicit "" clears a field.
// Changes apply on the next spawn.
func (s *Server) handlePatchOptions(w http.ResponseWriter, r *http.Request) {
	var overlay node.Options
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&overlay); err != nil {
		writeBadRequest(w, "invalid options body: "+err.Error())
		return
	}

	current := s.node.SetOptions(overlay)
	s.persistOptions(r.Context(), current)
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) handleResetOptions(w http.ResponseWriter, r *http.Request) {
	current := s.node.SetDefaultOptions()

	if s.settings != nil {
		ctx, cancel := context.WithTimeout(r.Context(), settingsTimeout)
		defer cancel()
		if err := s.settings.Clear(ctx, s.node.Name()); err != nil {
			s.logger.Warn("clearing saved node options", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, current)
}

// persistOptions saves opts. A failure is logged: the in-memory change has
// already been applied.
func (s *Server) persistOptions(ctx context.Context, opts node.Options) {
	if s.settings == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, settingsTimeout)
	defer cancel()
	if err := s.settings.Save(ctx, s.node.Name(), opts); err != nil {
		s.logger.Warn("saving node options", "error", err)
	}
}

func (s *Server) handleNodeLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "n must be a non-negative integer")
			return
		}
		n = min(parsed, maxLogLines)
	}

	logs := s.node.LastNLogs(n)
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) handleRemoveStorage(w http.ResponseWriter, r *http.Request) {
	preserveKeys := false
	if v := r.URL.Query().Get("preserve_keys"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "preserve_keys must be a boolean")
			return
		}
		preserveKeys = parsed
	}

	err := s.node.RemoveStorage(preserveKeys)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "removed",
			"preserve_keys": preserveKeys,
		})
	case errors.Is(err, node.ErrStorageBusy):
		writeConflict(w, err.Error())
	case errors.Is(err, node.ErrNotConfigured):
		writeError(w, http.StatusBadRequest, ErrCodeNotConfigured, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

// handleNodeEvents pages through the lifecycle audit trail.
func (s *Server) handleNodeEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Node:   s.node.Name(),
		Action: q.Get("action"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = parsed
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

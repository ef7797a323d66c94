// Package settings persists node options across NodeKeeper restarts.
//
// The supervisor keeps options in memory only; the daemon loads the saved
// overlay at startup, and the HTTP API saves after PATCH /node/options and
// clears on POST /node/options/reset. MQTT commands never change options.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/nodekeeper/internal/node"
)

// ErrNotFound is returned by Load when nothing has been saved for a node.
var ErrNotFound = errors.New("no saved options")

// Store saves and loads node options.
type Store interface {
	Save(ctx context.Context, nodeName string, opts node.Options) error
	Load(ctx context.Context, nodeName string) (node.Options, error)
	Clear(ctx context.Context, nodeName string) error
}

// SQLiteStore keeps options as JSON in the node_options table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save replaces the stored options for nodeName.
func (s *SQLiteStore) Save(ctx context.Context, nodeName string, opts node.Options) error {
	body, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_options (node_name, options, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(node_name) DO UPDATE SET options = excluded.options, updated_at = excluded.updated_at`,
		nodeName, string(body), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving options for %s: %w", nodeName, err)
	}
	return nil
}

// Load returns the stored options for nodeName, or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, nodeName string) (node.Options, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT options FROM node_options WHERE node_name = ?", nodeName,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return node.Options{}, ErrNotFound
	}
	if err != nil {
		return node.Options{}, fmt.Errorf("loading options for %s: %w", nodeName, err)
	}

	var opts node.Options
	if err := json.Unmarshal([]byte(body), &opts); err != nil {
		return node.Options{}, fmt.Errorf("decoding options for %s: %w", nodeName, err)
	}
	return opts, nil
}

// Clear forgets the stored options for nodeName. Clearing an absent row is
// not an error.
func (s *SQLiteStore) Clear(ctx context.Context, nodeName string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM node_options WHERE node_name = ?", nodeName); err != nil {
		return fmt.Errorf("clearing options for %s: %w", nodeName, err)
	}
	return nil
}

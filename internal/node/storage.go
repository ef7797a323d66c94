package node

import (
	"os"
	"path/filepath"
	"strings"
)

// SecretSuffix marks top-level storage files kept by RemoveStorage(true).
const SecretSuffix = ".secret"

// RemoveStorage clears the node's storage directory. Subdirectories are
// always removed recursively. Top-level files are removed unless
// preserveKeys is set and the name ends in SecretSuffix; files inside
// subdirectories are never inspected.
//
// It fails with ErrStorageBusy while the node is running, without touching
// the filesystem. The first I/O failure aborts with a *StorageError and
// already-removed entries are not restored.
func (s *Supervisor) RemoveStorage(preserveKeys bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.runner.IsRunning() {
		return ErrStorageBusy
	}

	root, err := s.Options().StoragePath()
	if err != nil {
		return err
	}

	removed, kept, err := clearDir(root, preserveKeys)
	if err != nil {
		s.logger.Error("removing node storage", "path", root, "error", err)
		s.recordError(err)
		return err
	}

	s.logger.Info("node storage removed",
		"path", root,
		"preserve_keys", preserveKeys,
		"removed", removed,
		"kept", kept,
	)
	s.emit(Event{
		Type: EventStorageRemoved,
		Details: map[string]any{
			"path":          root,
			"preserve_keys": preserveKeys,
			"removed":       removed,
			"kept":          kept,
		},
	})
	return nil
}

// clearDir removes the direct children of root and reports how many
// entries were removed and kept.
func clearDir(root string, preserveKeys bool) (removed, kept int, err error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, 0, &StorageError{Op: "read", Path: root, Err: err}
	}

	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())

		// Symlinks report !IsDir and are unlinked, never followed
		if entry.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				return removed, kept, &StorageError{Op: "remove dir", Path: path, Err: err}
			}
			removed++
			continue
		}

		if preserveKeys && strings.HasSuffix(entry.Name(), SecretSuffix) {
			kept++
			continue
		}

		if err := os.Remove(path); err != nil {
			return removed, kept, &StorageError{Op: "remove file", Path: path, Err: err}
		}
		removed++
	}

	return removed, kept, nil
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/nodekeeper/internal/auth"
	"github.com/nerrad567/nodekeeper/internal/infrastructure/config"
	"github.com/nerrad567/nodekeeper/internal/infrastructure/database"
	"github.com/nerrad567/nodekeeper/internal/node"
	"github.com/nerrad567/nodekeeper/internal/process"
	"github.com/nerrad567/nodekeeper/internal/settings"
	"github.com/nerrad567/nodekeeper/migrations"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("NODEKEEPER_CONFIG", path)
	return path
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("NODEKEEPER_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("NODEKEEPER_CONFIG", "/etc/nodekeeper.yaml")
	if got := getConfigPath(); got != "/etc/nodekeeper.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("NODEKEEPER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingBinary(t *testing.T) {
	writeConfig(t, `
node:
  storage_path: /tmp/node
database:
  path: ":memory:"
`)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "node.binary is required") {
		t.Fatalf("run() error = %v, want node.binary validation error", err)
	}
}

func TestRun_BadReadyPattern(t *testing.T) {
	writeConfig(t, `
node:
  binary: /bin/true
  ready_pattern: "("
database:
  path: ":memory:"
`)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ready_pattern") {
		t.Fatalf("run() error = %v, want ready_pattern error", err)
	}
}

func TestNewManager(t *testing.T) {
	m, err := newManager(config.NodeConfig{Name: "shinkai-node", Binary: "/bin/true", ReadyPattern: "listening on "})
	if err != nil {
		t.Fatalf("newManager() error = %v", err)
	}
	if m.IsRunning() {
		t.Error("new manager reports running")
	}
}

func TestNewManager_WorkDir(t *testing.T) {
	dir := t.TempDir()
	m, err := newManager(config.NodeConfig{Name: "shinkai-node", Binary: "/bin/sh", Args: []string{"-c", "pwd -P"}, WorkDir: dir})
	if err != nil {
		t.Fatalf("newManager() error = %v", err)
	}
	if err := m.Spawn(nil, nil); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Type != process.EventExited {
				continue
			}
			want, _ := filepath.EvalSymlinks(dir)
			if logs := m.LastNLogs(1); len(logs) != 1 || logs[0].Line != want {
				t.Errorf("node ran in %+v, want %q", logs, want)
			}
			return
		case <-deadline:
			t.Fatal("node never exited")
		}
	}
}

func TestRestoreOptions(t *testing.T) {
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	store := settings.NewSQLiteStore(db.DB)
	overlay := node.Options{NodeAPIPort: node.String("9551")}

	t.Run("nothing saved", func(t *testing.T) {
		sup := newSupervisor(config.NodeConfig{Name: "shinkai-node", StoragePath: "/data/node"}, process.NewManager(process.Config{Name: "shinkai-node", Binary: "/bin/true"}))
		if err := restoreOptions(context.Background(), sup, store, overlay); err != nil {
			t.Fatalf("restoreOptions() error = %v", err)
		}
		if got := *sup.Options().NodeAPIPort; got != "9551" {
			t.Errorf("NodeAPIPort = %q, want config overlay", got)
		}
	})

	t.Run("saved wins over config", func(t *testing.T) {
		saved := node.Options{NodeAPIPort: node.String("9560"), RPCURL: node.String("http://rpc.local")}
		if err := store.Save(context.Background(), "shinkai-node", saved); err != nil {
			t.Fatal(err)
		}

		sup := newSupervisor(config.NodeConfig{Name: "shinkai-node", StoragePath: "/data/node"}, process.NewManager(process.Config{Name: "shinkai-node", Binary: "/bin/true"}))
		if err := restoreOptions(context.Background(), sup, store, overlay); err != nil {
			t.Fatalf("restoreOptions() error = %v", err)
		}
		opts := sup.Options()
		if *opts.NodeAPIPort != "9560" || *opts.RPCURL != "http://rpc.local" {
			t.Errorf("options = %+v", opts)
		}
		if *opts.NodeStoragePath != "/data/node" {
			t.Errorf("NodeStoragePath = %q, default lost", *opts.NodeStoragePath)
		}
	})
}

func TestMintToken(t *testing.T) {
	writeConfig(t, `
node:
  binary: /bin/true
database:
  path: ":memory:"
security:
  jwt:
    secret: "`+testSecret+`"
`)

	var buf bytes.Buffer
	if err := mintToken(&buf, "desktop", auth.RoleViewer); err != nil {
		t.Fatalf("mintToken() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(buf.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "desktop" || claims.Role != auth.RoleViewer {
		t.Errorf("claims = %+v", claims)
	}
}

func TestMintToken_AuthDisabled(t *testing.T) {
	writeConfig(t, `
node:
  binary: /bin/true
database:
  path: ":memory:"
`)

	if err := mintToken(&bytes.Buffer{}, "desktop", auth.RoleOperator); err == nil {
		t.Error("mintToken() succeeded without a secret")
	}
}

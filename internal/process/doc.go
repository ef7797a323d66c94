// Package process runs one long-lived child process and keeps an eye on it.
//
// It is the low-level half of node supervision: it knows how to launch a
// binary with a given environment, stop it, capture what it prints and
// report lifecycle changes. It knows nothing about what the binary is or
// how to tell whether it is healthy.
//
// Features:
//   - Spawn with an environment map layered over the parent environment
//   - Graceful stop (SIGTERM to the process group, SIGKILL after a timeout)
//   - Bounded ring buffer of recent stdout/stderr lines
//   - "ready" detection by matching output lines against a regular expression
//   - Lifecycle events (started, ready, exited) on a buffered channel
//
// There is deliberately no restart policy. Whoever owns the Manager decides
// whether to spawn again after an exit.
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:         "shinkai-node",
//	    Binary:       "/usr/local/bin/shinkai-node",
//	    ReadyPattern: regexp.MustCompile("listening on "),
//	})
//
//	if err := mgr.Spawn(map[string]string{"NODE_API_PORT": "9550"}, nil); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Kill()
//
//	for ev := range mgr.Events() {
//	    log.Println(ev.Type)
//	}
package process

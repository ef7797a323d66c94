// Package node supervises a single Shinkai node process.
//
// A Supervisor owns the node's runtime Options and drives a Runner
// (normally *process.Manager) through spawn, readiness and kill. Spawn only
// returns success once GET {base}/v1/shinkai_health answers 200; if that
// does not happen within the readiness timeout the process is killed before
// the error is returned.
//
// RemoveStorage resets the node's storage directory, optionally keeping
// top-level *.secret files.
//
// Usage:
//
//	mgr := process.NewManager(process.Config{Name: node.ProcessName, Binary: bin})
//	sup := node.New(node.Config{DefaultStoragePath: "./data/node-storage"}, mgr)
//	sup.SetOptions(node.Options{NodeAPIPort: node.String("9650")})
//
//	if err := sup.Spawn(ctx); err != nil {
//	    var timeout *node.ReadinessTimeoutError
//	    if errors.As(err, &timeout) {
//	        log.Printf("node never became ready (%s)", timeout.Elapsed)
//	    }
//	}
package node

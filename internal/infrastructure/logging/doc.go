// Package logging provides structured logging for NodeKeeper.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text for development, with service and version attached to
// every record.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("node").Info("node ready", "elapsed_ms", 412)
//
// Never log secrets. Node options can carry API keys
// (INITIAL_AGENT_API_KEYS), so log option field counts, not values.
package logging

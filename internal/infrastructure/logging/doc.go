// Package logging provides the structured logger shared by every hwreg
// component.
//
// It is a thin layer over log/slog: JSON output for deployments, text output
// for a terminal, level filtering, and two default attributes (service and
// version) stamped on every entry.
//
// Configured from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	scanLog := logger.With("component", "discovery")
//	scanLog.Info("scan complete", "committed", stats.Committed)
package logging

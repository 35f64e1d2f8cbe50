// Package logging provides structured logging using uber/zap.
//
// Two output modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// When a file path is configured, entries are also written as JSON to a
// size-rotated file managed by lumberjack.
//
// Example Usage:
//
//	logger, err := logging.New(logging.Config{Level: "info", File: "/var/log/viewer.log"})
//	defer logger.Close()
//	logger.Info("Proxy listening", zap.String("addr", ":3000"))
package logging

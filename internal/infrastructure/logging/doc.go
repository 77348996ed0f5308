// Package logging provides structured logging for the pool bridge.
//
// It wraps Go's log/slog package so every component logs with the same
// default fields (service, version) and level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/poolbridge.log"
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, version)
//	if err != nil { ... }
//	defer logger.Close()
//	logger.Info("starting bridge", "controller", cfg.Controller.Host)
//
// # Security
//
// Never log controller or broker passwords. The Authorization header built by
// the controller session must not appear in log output.
package logging

// Package api implements the HTTP status and control API for the pool bridge.
//
// Routes live under /api/v1: bridge health, the cached circuit snapshots,
// state/setpoint/heater mode changes and per-circuit state history. The
// Prometheus exposition is served at /metrics.
//
// Commands issued here go straight to the controller session, then the
// resulting state is published over MQTT through the bridge so bus
// subscribers see API changes the same way they see polled ones.
package api

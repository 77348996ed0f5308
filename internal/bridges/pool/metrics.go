package pool

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
)

// Metrics holds the bridge's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	circuitStatus     *prometheus.GaugeVec
	waterTemperature  *prometheus.GaugeVec
	targetTemperature *prometheus.GaugeVec
	heaterMode        *prometheus.GaugeVec
	controllerUp      prometheus.Gauge
	lastRefresh       prometheus.Gauge
	commands          *prometheus.CounterVec
}

// NewMetrics creates and registers the bridge collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		circuitStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pool_circuit_status",
				Help: "Circuit on/off status (1=on, 0=off)",
			},
			[]string{"circuit", "name", "kind"},
		),
		waterTemperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pool_water_temperature",
				Help: "Current water temperature reported by the controller",
			},
			[]string{"body", "name"},
		),
		targetTemperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pool_target_temperature",
				Help: "Heater setpoint",
			},
			[]string{"body", "name"},
		),
		heaterMode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pool_heater_mode",
				Help: "Heater mode code (0=OFF, 1=Heater, 2=Solar Pref, 3=Solar Only, -1=unknown)",
			},
			[]string{"body", "name"},
		),
		controllerUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pool_controller_up",
				Help: "1 if the last controller poll succeeded, 0 otherwise",
			},
		),
		lastRefresh: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pool_controller_last_refresh_timestamp_seconds",
				Help: "Unix timestamp of the last successful controller poll",
			},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pool_bridge_commands_total",
				Help: "Commands handled by the bridge",
			},
			[]string{"command", "result"},
		),
	}

	m.registry.MustRegister(
		m.circuitStatus,
		m.waterTemperature,
		m.targetTemperature,
		m.heaterMode,
		m.controllerUp,
		m.lastRefresh,
		m.commands,
	)
	return m
}

// Registry returns the registry holding the bridge collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSnapshot updates the gauges for one entity.
func (m *Metrics) ObserveSnapshot(snap poolcontroller.Snapshot) {
	if m == nil {
		return
	}

	on := 0.0
	if snap.On {
		on = 1
	}
	m.circuitStatus.WithLabelValues(strconv.Itoa(snap.Number), snap.Name, string(snap.Kind)).Set(on)

	if snap.Kind != poolcontroller.KindThermostat {
		return
	}
	body := string(snap.Function)
	if snap.CurrentTemperature != nil {
		m.waterTemperature.WithLabelValues(body, snap.Name).Set(*snap.CurrentTemperature)
	}
	if snap.TargetTemperature != nil {
		m.targetTemperature.WithLabelValues(body, snap.Name).Set(*snap.TargetTemperature)
	}
	if snap.HeaterMode != "" {
		m.heaterMode.WithLabelValues(body, snap.Name).Set(float64(heaterModeCode(snap.HeaterMode)))
	}
}

// SetControllerUp records the outcome of a poll.
func (m *Metrics) SetControllerUp(up bool, at time.Time) {
	if m == nil {
		return
	}
	if up {
		m.controllerUp.Set(1)
		m.lastRefresh.Set(float64(at.Unix()))
		return
	}
	m.controllerUp.Set(0)
}

// CountCommand increments the command counter.
func (m *Metrics) CountCommand(command, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, result).Inc()
}

// Reset clears per-circuit series, used after rediscovery.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.circuitStatus.Reset()
	m.waterTemperature.Reset()
	m.targetTemperature.Reset()
	m.heaterMode.Reset()
}

// heaterModeCode returns the controller code for a mode name, or -1.
func heaterModeCode(name string) int {
	mode, err := poolcontroller.ParseHeaterMode(name)
	if err != nil {
		return -1
	}
	return int(mode)
}

package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementCircuit    = "pool_circuit"
	MeasurementThermostat = "pool_thermostat"
)

// WriteCircuitState records the on/off state of a circuit.
//
// Tags: circuit (number), name, kind. Field: on (bool).
func (c *Client) WriteCircuitState(number int, name, kind string, on bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newCircuitPoint(number, name, kind, on, at))
}

// WriteThermostatState records temperatures and heater mode of a body of water.
//
// Tags: circuit, name. Fields: current_temp, target_temp, heater_mode.
func (c *Client) WriteThermostatState(number int, name string, current, target float64, heaterMode int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newThermostatPoint(number, name, current, target, heaterMode, at))
}

// WritePoint writes an arbitrary point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func newCircuitPoint(number int, name, kind string, on bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCircuit,
		map[string]string{
			"circuit": strconv.Itoa(number),
			"name":    name,
			"kind":    kind,
		},
		map[string]interface{}{
			"on": on,
		},
		at,
	)
}

func newThermostatPoint(number int, name string, current, target float64, heaterMode int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementThermostat,
		map[string]string{
			"circuit": strconv.Itoa(number),
			"name":    name,
		},
		map[string]interface{}{
			"current_temp": current,
			"target_temp":  target,
			"heater_mode":  heaterMode,
		},
		at,
	)
}

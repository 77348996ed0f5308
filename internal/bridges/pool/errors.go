package pool

import "errors"

// Domain errors for the pool bridge package.
var (
	// ErrNoCircuits is returned when discovery finds no usable circuits.
	ErrNoCircuits = errors.New("pool: controller reported no circuits")

	// ErrInvalidTopic is returned for command or request topics that do not
	// carry a circuit number or request ID.
	ErrInvalidTopic = errors.New("pool: invalid topic")

	// ErrNotThermostat is returned for temperature commands sent to a
	// switch or light.
	ErrNotThermostat = errors.New("pool: circuit is not a thermostat")
)

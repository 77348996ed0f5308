package poolcontroller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
)

// HeaterMode is the controller's numeric heat mode code.
type HeaterMode int

// Heater modes accepted by SetHeaterMode.
const (
	HeaterOff       HeaterMode = 0
	HeaterOn        HeaterMode = 1
	HeaterSolarPref HeaterMode = 2
	HeaterSolarOnly HeaterMode = 3
)

var heaterModeNames = map[HeaterMode]string{
	HeaterOff:       "OFF",
	HeaterOn:        "Heater",
	HeaterSolarPref: "Solar Pref",
	HeaterSolarOnly: "Solar Only",
}

var heaterModesByName = map[string]HeaterMode{
	"OFF":        HeaterOff,
	"Heater":     HeaterOn,
	"Solar Pref": HeaterSolarPref,
	"Solar Only": HeaterSolarOnly,
}

func (m HeaterMode) String() string {
	if name, ok := heaterModeNames[m]; ok {
		return name
	}
	return "HeaterMode(" + strconv.Itoa(int(m)) + ")"
}

// ParseHeaterMode maps a mode name to its code. Matching is exact.
func ParseHeaterMode(name string) (HeaterMode, error) {
	mode, ok := heaterModesByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownHeaterMode, name)
	}
	return mode, nil
}

// HeaterModeNames returns the accepted mode names in code order.
func HeaterModeNames() []string {
	return []string{"OFF", "Heater", "Solar Pref", "Solar Only"}
}

// Thermostat is a spa or pool body. It reads its temperatures from the
// shared temp snapshot using keys prefixed by its function name.
type Thermostat struct {
	*Circuit

	temps      temperatures
	hasTemps   bool
	current    float64
	target     float64
	hasTarget  bool
	heaterMode string
}

func newThermostat(number int, fn Function, b backend) *Thermostat {
	return &Thermostat{Circuit: newCircuit(number, fn, b)}
}

// CurrentTemperature is the last water temperature read.
func (t *Thermostat) CurrentTemperature() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// TargetTemperature is the cached heater setpoint.
func (t *Thermostat) TargetTemperature() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.target
}

// HeaterMode is the cached heat mode name.
func (t *Thermostat) HeaterMode() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.heaterMode
}

// Update refreshes like Circuit.Update, then reads <fn>Temp, <fn>SetPoint
// and <fn>HeatModeStr from the attached temperatures.
func (t *Thermostat) Update(ctx context.Context) error {
	err := t.backend.UpdateData(ctx)
	return errors.Join(err, t.sync())
}

// SetTargetTemperature requests <fn>heat/setpoint/<value> and caches the
// setpoint the controller replies with. The reply is also written into the
// entity's temperature data, so an Update that does not fetch keeps it.
func (t *Thermostat) SetTargetTemperature(ctx context.Context, value float64) error {
	path := string(t.function) + "heat/setpoint/" + strconv.FormatFloat(value, 'f', -1, 64)

	body, err := t.backend.Request(ctx, path)
	if err != nil {
		return fmt.Errorf("setting %s setpoint: %w", t.function, err)
	}
	raw, err := decodeValue(body)
	if err != nil {
		return fmt.Errorf("setting %s setpoint: %w", t.function, err)
	}
	target, err := decodeFloat(raw)
	if err != nil {
		return fmt.Errorf("setting %s setpoint: %w: %w", t.function, ErrMalformedResponse, err)
	}

	t.mu.Lock()
	t.target = target
	t.hasTarget = true
	t.setReadingLocked(string(t.function)+"SetPoint", json.RawMessage(strconv.FormatFloat(target, 'f', -1, 64)))
	t.mu.Unlock()

	t.backend.SetSkipUpdateWait(true)
	return nil
}

// SetHeaterMode requests <fn>heat/mode/<code> for one of "OFF", "Heater",
// "Solar Pref" or "Solar Only" and caches the requested name, in the
// entity's temperature data as well. The reply body is not read; an
// undecodable body is not an error.
//
// An unknown name returns ErrUnknownHeaterMode without any request and
// leaves the cache unchanged.
func (t *Thermostat) SetHeaterMode(ctx context.Context, name string) error {
	mode, err := ParseHeaterMode(name)
	if err != nil {
		return err
	}

	path := string(t.function) + "heat/mode/" + strconv.Itoa(int(mode))
	if _, err := t.backend.Request(ctx, path); err != nil && !errors.Is(err, ErrDecode) {
		return fmt.Errorf("setting %s heat mode: %w", t.function, err)
	}

	t.mu.Lock()
	t.heaterMode = name
	t.setReadingLocked(string(t.function)+"HeatModeStr", json.RawMessage(strconv.Quote(name)))
	t.mu.Unlock()

	t.backend.SetSkipUpdateWait(true)
	return nil
}

// Snapshot returns the cached fields including temperatures.
func (t *Thermostat) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := t.snapshotLocked()
	if t.hasTemps {
		current := t.current
		snap.CurrentTemperature = &current
	}
	if t.hasTarget {
		target := t.target
		snap.TargetTemperature = &target
	}
	snap.HeaterMode = t.heaterMode
	return snap
}

func (t *Thermostat) setData(d descriptor, temps temperatures) {
	t.mu.Lock()
	t.data = d
	t.temps = temps
	t.mu.Unlock()
}

// setReadingLocked overwrites one reading. The blob is shared with the other
// thermostats from the same fetch, so the write goes to a private copy.
func (t *Thermostat) setReadingLocked(key string, raw json.RawMessage) {
	if t.temps == nil {
		return
	}
	temps := maps.Clone(t.temps)
	temps[key] = raw
	t.temps = temps
}

// sync copies the circuit fields and then the temperature readings. A
// missing reading leaves the previous temperature values in place.
func (t *Thermostat) sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncLocked()
	if t.temps == nil {
		return nil
	}

	prefix := string(t.function)
	current, err := t.temps.float(prefix + "Temp")
	if err != nil {
		return err
	}
	target, err := t.temps.float(prefix + "SetPoint")
	if err != nil {
		return err
	}
	mode, err := t.temps.text(prefix + "HeatModeStr")
	if err != nil {
		return err
	}

	t.current, t.target, t.heaterMode = current, target, mode
	t.hasTemps, t.hasTarget = true, true
	return nil
}

package poolcontroller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Function is the controller's circuitFunction tag, lower-cased.
type Function string

// Recognised circuit functions. Anything else is ignored by RefreshCircuits.
const (
	FunctionGeneric      Function = "generic"
	FunctionIntellibrite Function = "intellibrite"
	FunctionSpa          Function = "spa"
	FunctionPool         Function = "pool"
)

// ParseFunction matches s case-insensitively against the known functions.
func ParseFunction(s string) (Function, bool) {
	fn := Function(strings.ToLower(strings.TrimSpace(s)))
	switch fn {
	case FunctionGeneric, FunctionIntellibrite, FunctionSpa, FunctionPool:
		return fn, true
	}
	return "", false
}

// Kind returns the entity kind for the function.
func (f Function) Kind() Kind {
	switch f {
	case FunctionIntellibrite:
		return KindLight
	case FunctionSpa, FunctionPool:
		return KindThermostat
	default:
		return KindSwitch
	}
}

// Kind is the entity variant.
type Kind string

// Entity kinds.
const (
	KindSwitch     Kind = "switch"
	KindLight      Kind = "light"
	KindThermostat Kind = "thermostat"
)

// ParseKind parses "switch", "light" or "thermostat".
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindSwitch, KindLight, KindThermostat:
		return k, true
	}
	return "", false
}

// Entity is the behaviour shared by circuits and thermostats.
type Entity interface {
	Number() int
	Function() Function
	Kind() Kind
	Name() string
	FriendlyName() string
	State() bool

	// Update triggers the shared throttled refresh, then reloads the
	// cached fields from the entity's data.
	Update(ctx context.Context) error

	// SetState switches the circuit on or off.
	SetState(ctx context.Context, on bool) error

	Snapshot() Snapshot

	setData(d descriptor, temps temperatures)
	sync() error
}

// backend is the part of Session an entity calls back into.
type backend interface {
	Request(ctx context.Context, path string) (json.RawMessage, error)
	UpdateData(ctx context.Context) error
	SetSkipUpdateWait(skip bool)
}

// Circuit is a switch or light.
type Circuit struct {
	number   int
	function Function
	backend  backend

	mu           sync.RWMutex
	data         descriptor
	name         string
	friendlyName string
	state        bool
}

func newCircuit(number int, fn Function, b backend) *Circuit {
	return &Circuit{number: number, function: fn, backend: b}
}

// Number is the controller's circuit number.
func (c *Circuit) Number() int { return c.number }

// Function is the circuit function the entity was created for.
func (c *Circuit) Function() Function { return c.function }

// Kind is derived from Function.
func (c *Circuit) Kind() Kind { return c.function.Kind() }

// Name is the controller's short circuit name, e.g. "JETS".
func (c *Circuit) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// FriendlyName is the display name configured on the controller.
func (c *Circuit) FriendlyName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.friendlyName
}

// State is the cached on/off state.
func (c *Circuit) State() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Update calls the session's UpdateData and then copies name, friendly name
// and status out of the circuit's data. The copy happens even when
// UpdateData fails, so the cache always matches the last good data.
func (c *Circuit) Update(ctx context.Context) error {
	err := c.backend.UpdateData(ctx)
	return errors.Join(err, c.sync())
}

// SetState requests circuit/<number>/set/<0|1> and caches the "value" the
// controller replies with. On success the next UpdateData skips the wait.
func (c *Circuit) SetState(ctx context.Context, on bool) error {
	path := fmt.Sprintf("circuit/%d/set/%s", c.number, stateDigit(on))

	body, err := c.backend.Request(ctx, path)
	if err != nil {
		return fmt.Errorf("setting circuit %d: %w", c.number, err)
	}
	raw, err := decodeValue(body)
	if err != nil {
		return fmt.Errorf("setting circuit %d: %w", c.number, err)
	}
	var value flexBool
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("setting circuit %d: %w: %w", c.number, ErrMalformedResponse, err)
	}

	c.mu.Lock()
	c.state = bool(value)
	c.data.Status = value
	c.mu.Unlock()

	c.backend.SetSkipUpdateWait(true)
	return nil
}

func stateDigit(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// Snapshot returns the cached fields.
func (c *Circuit) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Circuit) snapshotLocked() Snapshot {
	return Snapshot{
		Number:       c.number,
		Function:     c.function,
		Kind:         c.function.Kind(),
		Name:         c.name,
		FriendlyName: c.friendlyName,
		On:           c.state,
	}
}

func (c *Circuit) setData(d descriptor, _ temperatures) {
	c.mu.Lock()
	c.data = d
	c.mu.Unlock()
}

func (c *Circuit) sync() error {
	c.mu.Lock()
	c.syncLocked()
	c.mu.Unlock()
	return nil
}

func (c *Circuit) syncLocked() {
	c.name = c.data.Name
	c.friendlyName = c.data.FriendlyName
	c.state = bool(c.data.Status)
}

// Snapshot is a point-in-time copy of an entity's cached fields.
// Temperature fields are nil for switches and lights, and for thermostats
// whose readings have not been seen yet.
type Snapshot struct {
	Number             int      `json:"number"`
	Function           Function `json:"function"`
	Kind               Kind     `json:"kind"`
	Name               string   `json:"name"`
	FriendlyName       string   `json:"friendly_name"`
	On                 bool     `json:"on"`
	CurrentTemperature *float64 `json:"current_temperature,omitempty"`
	TargetTemperature  *float64 `json:"target_temperature,omitempty"`
	HeaterMode         string   `json:"heater_mode,omitempty"`
}

// Equal reports whether two snapshots carry the same values.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Number == o.Number &&
		s.Function == o.Function &&
		s.Kind == o.Kind &&
		s.Name == o.Name &&
		s.FriendlyName == o.FriendlyName &&
		s.On == o.On &&
		floatPtrEqual(s.CurrentTemperature, o.CurrentTemperature) &&
		floatPtrEqual(s.TargetTemperature, o.TargetTemperature) &&
		s.HeaterMode == o.HeaterMode
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

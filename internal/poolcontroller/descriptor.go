package poolcontroller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// descriptor is one entry of the controller's "circuit" map.
type descriptor struct {
	Number          flexInt  `json:"number"`
	CircuitFunction string   `json:"circuitFunction"`
	Name            string   `json:"name"`
	FriendlyName    string   `json:"friendlyName"`
	Status          flexBool `json:"status"`
}

// temperatures is the controller's "temperature" object, keyed by
// "<function>Temp", "<function>SetPoint", "<function>HeatModeStr" and so on.
type temperatures map[string]json.RawMessage

// float reads a numeric reading. Some firmware reports numbers as strings.
func (t temperatures) float(key string) (float64, error) {
	raw, ok := t[key]
	if !ok {
		return 0, fmt.Errorf("%w: temperature key %q missing", ErrMalformedResponse, key)
	}
	v, err := decodeFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: temperature key %q: %w", ErrMalformedResponse, key, err)
	}
	return v, nil
}

func (t temperatures) text(key string) (string, error) {
	raw, ok := t[key]
	if !ok {
		return "", fmt.Errorf("%w: temperature key %q missing", ErrMalformedResponse, key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return strings.Trim(string(raw), `"`), nil
	}
	return s, nil
}

// flexInt accepts 6 or "6".
type flexInt struct {
	Value int
	Set   bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	v, err := decodeFloat(data)
	if err != nil {
		return fmt.Errorf("number: %w", err)
	}
	f.Value, f.Set = int(v), true
	return nil
}

// flexBool accepts true/false, 0/1 and their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := strconv.ParseBool(strings.TrimSpace(s))
		if perr != nil {
			return fmt.Errorf("boolean: %w", perr)
		}
		*f = flexBool(parsed)
		return nil
	}
	v, err := decodeFloat(data)
	if err != nil {
		return fmt.Errorf("boolean: %w", err)
	}
	*f = v != 0
	return nil
}

func decodeFloat(data []byte) (float64, error) {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		var s string
		if serr := json.Unmarshal(data, &s); serr != nil {
			return 0, err
		}
		n = json.Number(strings.TrimSpace(s))
	}
	return n.Float64()
}

// circuitEnvelope is the body of GET circuit.
type circuitEnvelope struct {
	Circuit map[string]descriptor `json:"circuit"`
}

// temperatureEnvelope is the body of GET temp.
type temperatureEnvelope struct {
	Temperature temperatures `json:"temperature"`
}

// valueEnvelope is the body of the set commands.
type valueEnvelope struct {
	Value json.RawMessage `json:"value"`
}

// number returns the descriptor's circuit number, falling back to the map
// key when the descriptor has none.
func (d descriptor) number(key string) (int, error) {
	if d.Number.Set {
		return d.Number.Value, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return 0, fmt.Errorf("%w: circuit key %q is not a number", ErrMalformedResponse, key)
	}
	return n, nil
}

func decodeCircuits(body json.RawMessage) (map[string]descriptor, error) {
	var env circuitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: circuit: %w", ErrMalformedResponse, err)
	}
	if env.Circuit == nil {
		return nil, fmt.Errorf("%w: circuit: missing \"circuit\" key", ErrMalformedResponse)
	}
	return env.Circuit, nil
}

func decodeTemperatures(body json.RawMessage) (temperatures, error) {
	var env temperatureEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: temp: %w", ErrMalformedResponse, err)
	}
	if env.Temperature == nil {
		return nil, fmt.Errorf("%w: temp: missing \"temperature\" key", ErrMalformedResponse)
	}
	return env.Temperature, nil
}

func decodeValue(body json.RawMessage) (json.RawMessage, error) {
	var env valueEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if len(env.Value) == 0 || bytes.Equal(env.Value, []byte("null")) {
		return nil, fmt.Errorf("%w: missing \"value\" key", ErrMalformedResponse)
	}
	return env.Value, nil
}

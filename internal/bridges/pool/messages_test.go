package pool

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
)

func TestCommandMessage_Unmarshal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantTime bool
		wantErr  bool
	}{
		{
			name:     "with timestamp",
			input:    `{"id":"a","timestamp":"2026-01-15T10:30:00Z","command":"on"}`,
			wantTime: true,
		},
		{
			name:  "without timestamp",
			input: `{"id":"a","command":"off"}`,
		},
		{
			name:    "bad timestamp",
			input:   `{"id":"a","timestamp":"yesterday","command":"on"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd CommandMessage
			err := json.Unmarshal([]byte(tt.input), &cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cmd.ID != "a" {
				t.Errorf("ID = %q, want a", cmd.ID)
			}
			if got := !cmd.Timestamp.IsZero(); got != tt.wantTime {
				t.Errorf("timestamp set = %v, want %v", got, tt.wantTime)
			}
		})
	}
}

func TestCommandMessage_Parameters(t *testing.T) {
	var cmd CommandMessage
	input := `{"id":"x","command":"set_target_temperature","parameters":{"temperature":84.5}}`
	if err := json.Unmarshal([]byte(input), &cmd); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	temp, err := floatParam(cmd.Parameters, "temperature")
	if err != nil || temp != 84.5 {
		t.Errorf("floatParam() = %v, %v", temp, err)
	}
	if _, err := stringParam(cmd.Parameters, "temperature"); err == nil {
		t.Error("stringParam() on a number should fail")
	}
	if _, err := floatParam(cmd.Parameters, "mode"); err == nil {
		t.Error("floatParam() on a missing key should fail")
	}
}

func TestNewAckError_TimeoutStatus(t *testing.T) {
	cmd := CommandMessage{ID: "c1"}

	ack := NewAckError(cmd, 3, ErrCodeTimeout, "slow")
	if ack.Status != AckTimeout {
		t.Errorf("Status = %s, want timeout", ack.Status)
	}

	ack = NewAckError(cmd, 3, ErrCodeDeviceUnreachable, "gone")
	if ack.Status != AckFailed {
		t.Errorf("Status = %s, want failed", ack.Status)
	}
	if ack.Protocol != Protocol || ack.Circuit != 3 || ack.Error.Message != "gone" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestStateMessage_JSON(t *testing.T) {
	temp := 78.0
	msg := NewStateMessage(poolcontroller.Snapshot{
		Number:             6,
		Function:           poolcontroller.FunctionPool,
		Kind:               poolcontroller.KindThermostat,
		Name:               "POOL",
		On:                 true,
		CurrentTemperature: &temp,
		HeaterMode:         "Heater",
	}, "poll")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if raw["circuit"] != float64(6) || raw["protocol"] != "pool" || raw["source"] != "poll" {
		t.Errorf("envelope = %v", raw)
	}
	state, _ := raw["state"].(map[string]any)
	if state["current_temperature"] != 78.0 || state["heater_mode"] != "Heater" {
		t.Errorf("state = %v", state)
	}
	if _, ok := state["target_temperature"]; ok {
		t.Error("nil target temperature should be omitted")
	}
}

func TestNewLWTMessage(t *testing.T) {
	msg := NewLWTMessage("pool-1")
	if msg.Status != HealthOffline || msg.Bridge != "pool-1" {
		t.Errorf("LWT = %+v", msg)
	}
	if time.Since(msg.Timestamp) > time.Minute {
		t.Errorf("Timestamp = %v", msg.Timestamp)
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{CommandTopic(6), "graylogic/command/pool/6"},
		{AckTopic("6"), "graylogic/ack/pool/6"},
		{StateTopic(6), "graylogic/state/pool/6"},
		{HealthTopic(), "graylogic/health/pool"},
		{RequestTopic("r1"), "graylogic/request/pool/r1"},
		{ResponseTopic("r1"), "graylogic/response/pool/r1"},
		{DiscoveryTopic(), "graylogic/discovery/pool"},
		{CommandSubscribeTopic(), "graylogic/command/pool/#"},
		{RequestSubscribeTopic(), "graylogic/request/pool/#"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseCircuit(t *testing.T) {
	if n, err := parseCircuit("12"); err != nil || n != 12 {
		t.Errorf("parseCircuit(12) = %d, %v", n, err)
	}
	for _, bad := range []string{"", "pump", "-1", "1.5"} {
		if _, err := parseCircuit(bad); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("parseCircuit(%q) error = %v, want ErrInvalidTopic", bad, err)
		}
	}
}

package pool

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
)

// Protocol is the protocol identifier carried in bridge messages.
const Protocol = "pool"

// CommandMessage is sent from Core to the bridge to change a circuit.
// Topic: graylogic/command/pool/{circuit}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Command is one of "on", "off", "toggle", "set_target_temperature"
	// or "set_heater_mode".
	Command string `json:"command"`

	// Parameters contains command-specific values:
	//   {"temperature": 84} for set_target_temperature
	//   {"mode": "Solar Pref"} for set_heater_mode
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
	AckTimeout  AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/pool/{circuit}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Circuit   int       `json:"circuit"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
)

// StateMessage is published when a circuit's cached state changes.
// Topic: graylogic/state/pool/{circuit}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Circuit   int                     `json:"circuit"`
	Timestamp time.Time               `json:"timestamp"`
	State     poolcontroller.Snapshot `json:"state"`
	Protocol  string                  `json:"protocol"`

	// Source is "poll" or "command".
	Source string `json:"source"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/pool
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge          string            `json:"bridge"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          HealthStatus      `json:"status"`
	Version         string            `json:"version"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	Controller      *ControllerStatus `json:"controller,omitempty"`
	Statistics      *BridgeStatistics `json:"statistics,omitempty"`
	CircuitsManaged int               `json:"circuits_managed"`
	Reason          string            `json:"reason,omitempty"`
}

// ControllerStatus describes the last contact with the pool controller.
type ControllerStatus struct {
	// Status is "reachable", "unreachable" or "unknown".
	Status    string     `json:"status"`
	Address   string     `json:"address"`
	LastFetch *time.Time `json:"last_fetch,omitempty"`
	// LastPoll is the last bridge poll, successful or not.
	LastPoll  *time.Time `json:"last_poll,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	ControllerRequests uint64 `json:"controller_requests"`
	ControllerErrors   uint64 `json:"controller_errors"`
	Fetches            uint64 `json:"fetches"`
	CommandsReceived   uint64 `json:"commands_received"`
	CommandsFailed     uint64 `json:"commands_failed"`
	StatesPublished    uint64 `json:"states_published"`
}

// RequestMessage is sent from Core for request/response operations.
// Topic: graylogic/request/pool/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state", "read_all" or "discover".
	Action string `json:"action"`

	// Circuit is required for read_state.
	Circuit *int `json:"circuit,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/pool/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

// DiscoveryMessage announces the circuits found on the controller.
// Topic: graylogic/discovery/pool
type DiscoveryMessage struct {
	Timestamp time.Time           `json:"timestamp"`
	Bridge    string              `json:"bridge"`
	Circuits  []DiscoveredCircuit `json:"circuits"`
}

// DiscoveredCircuit is one entry of a DiscoveryMessage.
type DiscoveredCircuit struct {
	Circuit       int      `json:"circuit"`
	Function      string   `json:"function"`
	Type          string   `json:"type"`
	Capabilities  []string `json:"capabilities"`
	SuggestedName string   `json:"suggested_name,omitempty"`
}

// UnmarshalJSON accepts an RFC 3339 timestamp or none at all.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates a successful acknowledgment.
func NewAckMessage(cmd CommandMessage, circuit int) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Circuit:   circuit,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(cmd CommandMessage, circuit int, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Circuit:   circuit,
		Status:    status,
		Protocol:  Protocol,
		Error:     &AckError{Code: code, Message: message},
	}
}

// NewStateMessage wraps a snapshot for publication.
func NewStateMessage(snap poolcontroller.Snapshot, source string) StateMessage {
	return StateMessage{
		Circuit:   snap.Number,
		Timestamp: time.Now().UTC(),
		State:     snap,
		Protocol:  Protocol,
		Source:    source,
	}
}

// NewDiscoveredCircuit describes an entity for discovery.
func NewDiscoveredCircuit(e poolcontroller.Entity) DiscoveredCircuit {
	caps := []string{"on_off"}
	if e.Kind() == poolcontroller.KindThermostat {
		caps = append(caps, "temperature_read", "temperature_set", "heater_mode")
	}
	return DiscoveredCircuit{
		Circuit:       e.Number(),
		Function:      string(e.Function()),
		Type:          string(e.Kind()),
		Capabilities:  caps,
		SuggestedName: e.FriendlyName(),
	}
}

// NewLWTMessage creates the health message the broker publishes if the
// bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandTopic returns graylogic/command/pool/{circuit}.
func CommandTopic(circuit int) string {
	return fmt.Sprintf("%s/command/pool/%d", TopicPrefix, circuit)
}

// AckTopic returns graylogic/ack/pool/{circuit}.
func AckTopic(circuit string) string {
	return fmt.Sprintf("%s/ack/pool/%s", TopicPrefix, circuit)
}

// StateTopic returns graylogic/state/pool/{circuit}.
func StateTopic(circuit int) string {
	return fmt.Sprintf("%s/state/pool/%d", TopicPrefix, circuit)
}

// HealthTopic returns graylogic/health/pool.
func HealthTopic() string {
	return TopicPrefix + "/health/pool"
}

// RequestTopic returns graylogic/request/pool/{request_id}.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/pool/%s", TopicPrefix, requestID)
}

// ResponseTopic returns graylogic/response/pool/{request_id}.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/pool/%s", TopicPrefix, requestID)
}

// DiscoveryTopic returns graylogic/discovery/pool.
func DiscoveryTopic() string {
	return TopicPrefix + "/discovery/pool"
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return TopicPrefix + "/command/pool/#"
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
func RequestSubscribeTopic() string {
	return TopicPrefix + "/request/pool/#"
}

// parseCircuit parses the circuit segment of a command topic.
func parseCircuit(segment string) (int, error) {
	n, err := strconv.Atoi(segment)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: circuit %q", ErrInvalidTopic, segment)
	}
	return n, nil
}

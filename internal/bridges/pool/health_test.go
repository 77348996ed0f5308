package pool

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type stubSource struct {
	status   string
	circuits int
}

func (s stubSource) ControllerStatus() ControllerStatus {
	return ControllerStatus{Status: s.status, Address: "http://pool.local/"}
}

func (s stubSource) Statistics() BridgeStatistics {
	return BridgeStatistics{Fetches: 3}
}

func (s stubSource) CircuitCount() int { return s.circuits }

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		source     StatusSource
		wantStatus HealthStatus
		wantReason string
	}{
		{"healthy", true, stubSource{status: controllerReachable, circuits: 4}, HealthHealthy, ""},
		{"mqtt down", false, stubSource{status: controllerReachable, circuits: 4}, HealthDegraded, "MQTT disconnected"},
		{"controller down", true, stubSource{status: controllerUnreachable, circuits: 4}, HealthDegraded, "controller unreachable"},
		{"no circuits", true, stubSource{status: controllerUnknown}, HealthDegraded, "no circuits discovered"},
		{"no source", true, nil, HealthHealthy, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mqtt := NewMockMQTTClient()
			mqtt.SetConnected(tt.connected)
			h := NewHealthReporter(HealthReporterConfig{
				BridgeID:  "pool-1",
				Publisher: mqtt,
				Source:    tt.source,
			})

			status, reason := h.Status()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("Status() = %s (%q), want %s (%q)", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_Message(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "pool-1",
		Version:   "1.2.3",
		Publisher: NewMockMQTTClient(),
		Source:    stubSource{status: controllerReachable, circuits: 4},
	})

	msg := h.Message(HealthHealthy, "")
	if msg.Bridge != "pool-1" || msg.Version != "1.2.3" || msg.CircuitsManaged != 4 {
		t.Errorf("Message() = %+v", msg)
	}
	if msg.Controller == nil || msg.Controller.Address != "http://pool.local/" {
		t.Errorf("Controller = %+v", msg.Controller)
	}
	if msg.Statistics == nil || msg.Statistics.Fetches != 3 {
		t.Errorf("Statistics = %+v", msg.Statistics)
	}
}

func TestHealthReporter_PeriodicAndStop(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "pool-1",
		Interval:  10 * time.Millisecond,
		Publisher: mqtt,
		Source:    stubSource{status: controllerReachable, circuits: 1},
	})

	h.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	h.Stop()
	h.Stop()

	published := mqtt.GetPublished(HealthTopic())
	if len(published) < 2 {
		t.Fatalf("health messages = %d, want periodic + stopping", len(published))
	}
	for _, p := range published {
		if !p.Retained {
			t.Error("health messages should be retained")
		}
	}

	var last HealthMessage
	if err := json.Unmarshal(published[len(published)-1].Payload, &last); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last status = %s, want stopping", last.Status)
	}
}

func TestHealthReporter_LWTPayload(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "pool-1"})

	payload, err := h.LWTPayload()
	if err != nil {
		t.Fatalf("LWTPayload() error = %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.Status != HealthOffline || msg.Bridge != "pool-1" {
		t.Errorf("LWT = %+v", msg)
	}
}

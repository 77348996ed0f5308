package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-pool/internal/history"
	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SetStateRequest is the body of PUT /circuits/{number}/state.
type SetStateRequest struct {
	On *bool `json:"on"`
}

// SetSetpointRequest is the body of PUT /circuits/{number}/setpoint.
type SetSetpointRequest struct {
	Temperature *float64 `json:"temperature"`
}

// SetHeatModeRequest is the body of PUT /circuits/{number}/heat-mode.
type SetHeatModeRequest struct {
	Mode string `json:"mode"`
}

// handleListCircuits returns every cached snapshot, optionally filtered by kind.
func (s *Server) handleListCircuits(w http.ResponseWriter, r *http.Request) {
	var (
		kind     poolcontroller.Kind
		filtered bool
	)
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, ok := poolcontroller.ParseKind(raw)
		if !ok {
			writeBadRequest(w, fmt.Sprintf("invalid kind %q", raw))
			return
		}
		kind, filtered = k, true
	}

	circuits := make([]poolcontroller.Snapshot, 0)
	for _, e := range s.controller.Entities() {
		if filtered && e.Kind() != kind {
			continue
		}
		circuits = append(circuits, e.Snapshot())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"circuits": circuits,
		"count":    len(circuits),
	})
}

// handleRefresh polls the controller now and returns the fresh snapshots.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "bridge is not running")
		return
	}

	changed, err := s.bridge.Poll(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}

	circuits := make([]poolcontroller.Snapshot, 0)
	for _, e := range s.controller.Entities() {
		circuits = append(circuits, e.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changed":  changed,
		"circuits": circuits,
		"count":    len(circuits),
	})
}

// handleGetCircuit returns one cached snapshot.
func (s *Server) handleGetCircuit(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

// handleSetState switches a circuit on or off.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req SetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeBadRequest(w, "on field is required")
		return
	}

	if err := e.SetState(r.Context(), *req.On); err != nil {
		s.logger.Warn("set state failed", "circuit", e.Number(), "error", err)
		writeControllerError(w, err)
		return
	}
	s.respondWithState(w, r, e)
}

// handleSetSetpoint changes a thermostat's target temperature.
func (s *Server) handleSetSetpoint(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThermostat(w, r)
	if !ok {
		return
	}

	var req SetSetpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Temperature == nil {
		writeBadRequest(w, "temperature field is required")
		return
	}

	if err := t.SetTargetTemperature(r.Context(), *req.Temperature); err != nil {
		s.logger.Warn("set setpoint failed", "circuit", t.Number(), "error", err)
		writeControllerError(w, err)
		return
	}
	s.respondWithState(w, r, t)
}

// handleSetHeatMode changes a thermostat's heater mode. Unknown mode names
// are rejected with 400 before the controller is contacted.
func (s *Server) handleSetHeatMode(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThermostat(w, r)
	if !ok {
		return
	}

	var req SetHeatModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := t.SetHeaterMode(r.Context(), req.Mode); err != nil {
		s.logger.Warn("set heater mode failed", "circuit", t.Number(), "mode", req.Mode, "error", err)
		writeControllerError(w, err)
		return
	}
	s.respondWithState(w, r, t)
}

// handleGetHistory returns recorded state changes for a circuit, newest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "state history is disabled")
		return
	}

	number, err := parseNumber(chi.URLParam(r, "number"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.GetHistory(r.Context(), number, limit)
	if err != nil {
		if errors.Is(err, history.ErrInvalidCircuit) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("failed to read state history", "circuit", number, "error", err)
		writeInternalError(w, "failed to read state history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"circuit": number,
		"history": entries,
		"count":   len(entries),
	})
}

// respondWithState publishes the entity's new state through the bridge and
// writes it as the response.
func (s *Server) respondWithState(w http.ResponseWriter, r *http.Request, e poolcontroller.Entity) {
	if s.bridge != nil {
		s.bridge.PublishState(r.Context(), e.Number(), history.SourceAPI)
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

// lookup resolves the {number} URL parameter, writing 400/404 on failure.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (poolcontroller.Entity, bool) {
	number, err := parseNumber(chi.URLParam(r, "number"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return nil, false
	}
	e, ok := s.controller.Entity(number)
	if !ok {
		writeNotFound(w, fmt.Sprintf("circuit %d not found", number))
		return nil, false
	}
	return e, true
}

func (s *Server) lookupThermostat(w http.ResponseWriter, r *http.Request) (*poolcontroller.Thermostat, bool) {
	e, ok := s.lookup(w, r)
	if !ok {
		return nil, false
	}
	t, ok := e.(*poolcontroller.Thermostat)
	if !ok {
		writeBadRequest(w, fmt.Sprintf("circuit %d is not a thermostat", e.Number()))
		return nil, false
	}
	return t, true
}

func parseNumber(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid circuit number %q", raw)
	}
	return n, nil
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

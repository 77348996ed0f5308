package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/gray-logic-pool/internal/history"
	"github.com/nerrad567/gray-logic-pool/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
)

const (
	// minTopicParts is graylogic/{type}/pool/{id}.
	minTopicParts = 4

	commandTimeout   = 10 * time.Second
	discoveryTimeout = 30 * time.Second

	// startupDiscoveryAttempts bounds the discovery retries in Start.
	startupDiscoveryAttempts = 3

	pruneInterval = 24 * time.Hour

	controllerReachable   = "reachable"
	controllerUnreachable = "unreachable"
	controllerUnknown     = "unknown"
)

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the subset of MQTT operations the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Controller is the pool controller session. Satisfied by
// *poolcontroller.Session.
type Controller interface {
	RefreshCircuits(ctx context.Context) error
	UpdateData(ctx context.Context) error
	SetSkipUpdateWait(skip bool)
	Entities() []poolcontroller.Entity
	Entity(number int) (poolcontroller.Entity, bool)
	Address() string
	Stats() poolcontroller.Stats
}

// History records state changes. Satisfied by *history.SQLiteRepository.
type History interface {
	RecordStateChange(ctx context.Context, circuit int, snapshot poolcontroller.Snapshot, source string) error
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Telemetry writes state to the time-series store. Satisfied by
// *influxdb.Client.
type Telemetry interface {
	WriteCircuitState(number int, name, kind string, on bool, at time.Time)
	WriteThermostatState(number int, name string, current, target float64, heaterMode int, at time.Time)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	Config  config.BridgeConfig
	Version string

	MQTTClient MQTTClient
	Controller Controller

	// Optional collaborators. Nil disables each.
	Logger    Logger
	History   History
	Telemetry Telemetry
	Metrics   *Metrics
}

// Bridge translates between the pool controller and the MQTT bus.
//
// It polls the controller on bridge.poll_interval, publishes retained state
// for every circuit whose cached state changed, and executes commands and
// requests received over MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg        config.BridgeConfig
	mqtt       MQTTClient
	controller Controller
	history    History
	telemetry  Telemetry
	metrics    *Metrics
	health     *HealthReporter

	// Last published snapshot per circuit, for change detection.
	stateCache   map[int]poolcontroller.Snapshot
	stateCacheMu sync.Mutex

	pollMu       sync.RWMutex
	lastPollErr  error
	lastPollTime time.Time
	polled       bool

	// Rediscovery while no circuits are known.
	newBackOff   func() backoff.BackOff
	rediscoverMu sync.Mutex
	rediscoverBO backoff.BackOff
	rediscoverAt time.Time

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	statesPublished  atomic.Uint64

	now func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config.ID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		mqtt:       opts.MQTTClient,
		controller: opts.Controller,
		history:    opts.History,
		telemetry:  opts.Telemetry,
		metrics:    opts.Metrics,
		stateCache: make(map[int]poolcontroller.Snapshot),
		newBackOff: newDiscoveryBackOff,
		now:        time.Now,
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}
	b.rediscoverBO = b.newBackOff()

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.ID,
		Version:   opts.Version,
		Interval:  seconds(opts.Config.HealthInterval),
		Publisher: opts.MQTTClient,
		Source:    b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

func newDiscoveryBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Start discovers circuits, subscribes to command and request topics, and
// starts health reporting and the poll loop.
//
// A controller that cannot be reached is not fatal: the poll loop keeps
// retrying discovery with exponential backoff.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if err := b.discoverWithRetry(ctx); err != nil {
		b.logError("initial discovery failed, will retry", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(b.ctx)

	b.wg.Add(1)
	go b.pollLoop()

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health status", err)
	}

	b.logInfo("bridge started",
		"bridge_id", b.cfg.ID,
		"controller", b.controller.Address(),
		"circuits", b.CircuitCount())

	return nil
}

// Stop shuts the bridge down, cancelling in-flight commands. Idempotent.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// discoverWithRetry runs discover with a bounded number of attempts.
func (b *Bridge) discoverWithRetry(ctx context.Context) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(b.newBackOff(), startupDiscoveryAttempts-1), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := b.discover(ctx)
		if err != nil {
			b.logWarn("discovery attempt failed", "attempt", attempt, "error", err)
		}
		return err
	}, bo)
}

// discover rebuilds the circuit list, publishes the discovery message and
// the state of every circuit.
func (b *Bridge) discover(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	if err := b.controller.RefreshCircuits(ctx); err != nil {
		b.recordPoll(err)
		return err
	}
	b.recordPoll(nil)

	entities := b.controller.Entities()
	if len(entities) == 0 {
		return ErrNoCircuits
	}

	b.resetStateCache(entities)
	b.metrics.Reset()
	b.publishDiscovery(entities)

	for _, e := range entities {
		b.publishIfChanged(ctx, e.Snapshot(), history.SourcePoll)
	}

	b.logInfo("circuits discovered", "count", len(entities))
	return nil
}

// resetStateCache drops cached snapshots for circuits that no longer exist.
func (b *Bridge) resetStateCache(entities []poolcontroller.Entity) {
	valid := make(map[int]struct{}, len(entities))
	for _, e := range entities {
		valid[e.Number()] = struct{}{}
	}

	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()
	for n := range b.stateCache {
		if _, ok := valid[n]; !ok {
			delete(b.stateCache, n)
		}
	}
}

func (b *Bridge) publishDiscovery(entities []poolcontroller.Entity) {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.cfg.ID,
		Circuits:  make([]DiscoveredCircuit, 0, len(entities)),
	}
	for _, e := range entities {
		msg.Circuits = append(msg.Circuits, NewDiscoveredCircuit(e))
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, true); err != nil {
		b.logError("failed to publish discovery", err)
	}
}

// publishIfChanged publishes snap when it differs from the last published
// snapshot for the circuit, and fans it out to history, telemetry and
// metrics. It reports whether anything was published.
func (b *Bridge) publishIfChanged(ctx context.Context, snap poolcontroller.Snapshot, source string) bool {
	b.stateCacheMu.Lock()
	prev, ok := b.stateCache[snap.Number]
	if ok && prev.Equal(snap) {
		b.stateCacheMu.Unlock()
		return false
	}
	b.stateCache[snap.Number] = snap
	b.stateCacheMu.Unlock()

	payload, err := json.Marshal(NewStateMessage(snap, source))
	if err != nil {
		b.logError("failed to marshal state", err)
		return false
	}
	if err := b.mqtt.Publish(StateTopic(snap.Number), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
	b.statesPublished.Add(1)

	if b.history != nil {
		if err := b.history.RecordStateChange(ctx, snap.Number, snap, source); err != nil {
			b.logError("failed to record state history", err)
		}
	}
	b.writeTelemetry(snap)
	b.metrics.ObserveSnapshot(snap)

	b.logDebug("state published", "circuit", snap.Number, "on", snap.On, "source", source)
	return true
}

func (b *Bridge) writeTelemetry(snap poolcontroller.Snapshot) {
	if b.telemetry == nil {
		return
	}
	at := b.now()
	b.telemetry.WriteCircuitState(snap.Number, snap.Name, string(snap.Kind), snap.On, at)

	if snap.Kind == poolcontroller.KindThermostat && snap.CurrentTemperature != nil && snap.TargetTemperature != nil {
		b.telemetry.WriteThermostatState(snap.Number, snap.Name,
			*snap.CurrentTemperature, *snap.TargetTemperature,
			heaterModeCode(snap.HeaterMode), at)
	}
}

// handleMQTTMessage routes incoming MQTT messages.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts || parts[3] == "" {
		b.logError("invalid topic format", fmt.Errorf("%w: %s", ErrInvalidTopic, topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(parts[3], payload)
	case "request":
		b.handleRequest(parts[3], payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command for the circuit named in the topic.
func (b *Bridge) handleCommand(segment string, payload []byte) {
	b.commandsReceived.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.commandsFailed.Add(1)
		b.logError("failed to parse command", err)
		return
	}

	number, err := parseCircuit(segment)
	if err != nil {
		b.publishAckError(cmd, segment, -1, ErrCodeInvalidParameters, err.Error())
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"circuit", number,
		"command", cmd.Command)

	entity, ok := b.controller.Entity(number)
	if !ok {
		b.publishAckError(cmd, segment, number, ErrCodeNotConfigured,
			fmt.Sprintf("circuit %d not configured", number))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	code, err := b.executeCommand(ctx, cmd, entity)
	if err != nil {
		b.publishAckError(cmd, segment, number, code, err.Error())
		return
	}

	b.metrics.CountCommand(cmd.Command, "accepted")
	b.publishAck(cmd, number)
	b.publishIfChanged(ctx, entity.Snapshot(), history.SourceCommand)
}

// executeCommand runs cmd against entity. On failure it returns the ack
// error code to report.
func (b *Bridge) executeCommand(ctx context.Context, cmd CommandMessage, entity poolcontroller.Entity) (string, error) {
	var err error

	switch cmd.Command {
	case "on":
		err = entity.SetState(ctx, true)
	case "off":
		err = entity.SetState(ctx, false)
	case "toggle":
		err = entity.SetState(ctx, !entity.State())
	case "set_target_temperature":
		t, ok := entity.(*poolcontroller.Thermostat)
		if !ok {
			return ErrCodeInvalidCommand, ErrNotThermostat
		}
		temp, perr := floatParam(cmd.Parameters, "temperature")
		if perr != nil {
			return ErrCodeInvalidParameters, perr
		}
		err = t.SetTargetTemperature(ctx, temp)
	case "set_heater_mode":
		t, ok := entity.(*poolcontroller.Thermostat)
		if !ok {
			return ErrCodeInvalidCommand, ErrNotThermostat
		}
		mode, perr := stringParam(cmd.Parameters, "mode")
		if perr != nil {
			return ErrCodeInvalidParameters, perr
		}
		err = t.SetHeaterMode(ctx, mode)
	default:
		return ErrCodeInvalidCommand, fmt.Errorf("unknown command: %s", cmd.Command)
	}

	if err != nil {
		return controllerErrorCode(err), err
	}
	return "", nil
}

// controllerErrorCode maps a controller error to an ack code.
func controllerErrorCode(err error) string {
	switch {
	case errors.Is(err, poolcontroller.ErrUnknownHeaterMode):
		return ErrCodeInvalidParameters
	case errors.Is(err, poolcontroller.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeDeviceUnreachable
	}
}

func floatParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing '%s' parameter", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("'%s' must be a number", key)
	}
	return f, nil
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing '%s' parameter", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("'%s' must be a string", key)
	}
	return s, nil
}

func (b *Bridge) publishAck(cmd CommandMessage, number int) {
	payload, err := json.Marshal(NewAckMessage(cmd, number))
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(fmt.Sprint(number)), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) publishAckError(cmd CommandMessage, segment string, number int, code, message string) {
	b.commandsFailed.Add(1)
	b.metrics.CountCommand(cmd.Command, "failed")

	payload, err := json.Marshal(NewAckError(cmd, number, code, message))
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(segment), payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed", fmt.Errorf("code=%s message=%s", code, message))
}

// handleRequest processes a request; the topic segment is the request ID.
func (b *Bridge) handleRequest(requestID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case "read_state":
		resp = b.handleReadState(req)
	case "read_all":
		resp = b.handleReadAll(req)
	case "discover":
		resp = b.handleDiscover(req)
	default:
		resp = failedResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func failedResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &AckError{Code: code, Message: message},
	}
}

func successResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// handleReadState returns one circuit's cached snapshot.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.Circuit == nil {
		return failedResponse(req, ErrCodeInvalidParameters, "circuit is required")
	}
	entity, ok := b.controller.Entity(*req.Circuit)
	if !ok {
		return failedResponse(req, ErrCodeNotConfigured, fmt.Sprintf("circuit %d not configured", *req.Circuit))
	}
	return successResponse(req, map[string]any{"state": entity.Snapshot()})
}

// handleReadAll forces a fetch and publishes any changes.
func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	b.controller.SetSkipUpdateWait(true)
	published, err := b.poll(ctx)
	if err != nil {
		return failedResponse(req, controllerErrorCode(err), err.Error())
	}
	return successResponse(req, map[string]any{
		"circuits":  b.CircuitCount(),
		"published": published,
	})
}

// handleDiscover rebuilds the circuit list.
func (b *Bridge) handleDiscover(req RequestMessage) ResponseMessage {
	if err := b.discover(b.ctx); err != nil {
		return failedResponse(req, controllerErrorCode(err), err.Error())
	}
	return successResponse(req, map[string]any{"circuits": b.CircuitCount()})
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

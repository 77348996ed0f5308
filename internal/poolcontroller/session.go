package poolcontroller

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-pool/internal/infrastructure/config"
)

const (
	// DefaultScanInterval is the minimum time between shared fetches.
	DefaultScanInterval = 10 * time.Second

	// DefaultTimeout bounds each controller request.
	DefaultTimeout = 10 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 4 << 20

	pathTemperature = "temp"
	pathCircuit     = "circuit"
)

// Logger is the logging interface used by the session.
// It is satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Session.
type Options struct {
	Host string

	// Port is optional; zero leaves it out of the address.
	Port int

	// Secure selects https.
	Secure bool

	// Username and Password enable Basic auth when either is non-empty.
	Username string
	Password string

	// ScanInterval defaults to DefaultScanInterval.
	ScanInterval time.Duration

	// Timeout is the per-request timeout; defaults to DefaultTimeout.
	Timeout time.Duration

	// HTTPClient is optional. Its own Timeout is left untouched; the
	// per-request timeout is applied through the request context.
	HTTPClient *http.Client

	Logger Logger

	// Now is the clock used for scheduling; defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig maps the controller section of config.yaml to Options.
func OptionsFromConfig(cfg config.ControllerConfig) Options {
	return Options{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Secure:       cfg.Secure,
		Username:     cfg.Username,
		Password:     cfg.Password,
		ScanInterval: time.Duration(cfg.ScanInterval) * time.Second,
		Timeout:      time.Duration(cfg.Timeout) * time.Second,
	}
}

// Stats are cumulative session counters.
type Stats struct {
	Requests      uint64
	RequestErrors uint64

	// Fetches counts shared snapshot fetches by UpdateData and RefreshCircuits.
	Fetches uint64

	// Throttled counts UpdateData calls skipped because the snapshot was fresh.
	Throttled uint64

	// Contended counts UpdateData calls skipped because another was in flight.
	Contended uint64

	LastFetch time.Time
}

// Session is a connection to one pool controller.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - UpdateData is guarded by a non-blocking flag; concurrent callers
//     return immediately instead of queueing.
type Session struct {
	address      string
	header       http.Header
	client       *http.Client
	timeout      time.Duration
	scanInterval time.Duration
	now          func() time.Time

	// updating is the UpdateData guard.
	updating atomic.Bool

	// refreshMu serialises RefreshCircuits.
	refreshMu sync.Mutex

	schedMu sync.Mutex
	sched   Schedule

	mu          sync.RWMutex
	switches    []*Circuit
	lights      []*Circuit
	thermostats []*Thermostat
	all         []Entity
	byNumber    map[int]Entity

	requests      atomic.Uint64
	requestErrors atomic.Uint64
	fetches       atomic.Uint64
	throttled     atomic.Uint64
	contended     atomic.Uint64
	lastFetch     atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSession creates a session. No request is made until RefreshCircuits
// or Request is called.
func NewSession(opts Options) (*Session, error) {
	if opts.Host == "" {
		return nil, ErrMissingHost
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("poolcontroller: port %d out of range", opts.Port)
	}

	s := &Session{
		address:      buildAddress(opts.Host, opts.Port, opts.Secure),
		header:       buildHeader(opts.Username, opts.Password),
		client:       opts.HTTPClient,
		timeout:      opts.Timeout,
		scanInterval: opts.ScanInterval,
		now:          opts.Now,
		byNumber:     make(map[int]Entity),
		logger:       opts.Logger,
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.scanInterval <= 0 {
		s.scanInterval = DefaultScanInterval
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

// buildAddress returns "scheme://host/" or "scheme://host:port/".
// The host is not validated.
func buildAddress(host string, port int, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	if port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return scheme + "://" + host + "/"
}

// buildHeader returns the Basic auth header, or an empty header when both
// username and password are empty.
func buildHeader(username, password string) http.Header {
	h := make(http.Header)
	if username == "" && password == "" {
		return h
	}
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	h.Set("Authorization", "Basic "+token)
	return h
}

// Address returns the controller base URL, always ending in "/".
func (s *Session) Address() string {
	return s.address
}

// Header returns a copy of the headers sent with every request.
func (s *Session) Header() http.Header {
	return s.header.Clone()
}

// ScanInterval returns the configured scan interval.
func (s *Session) ScanInterval() time.Duration {
	return s.scanInterval
}

// Request performs GET Address()+path and returns the JSON body.
//
// Parameters:
//   - ctx: Parent context; the per-request timeout is applied on top
//   - path: Path relative to the base address, without a leading slash
//
// Returns:
//   - json.RawMessage: The body, guaranteed to be valid JSON
//   - error: A *RequestError on failure
func (s *Session) Request(ctx context.Context, path string) (json.RawMessage, error) {
	s.requests.Add(1)

	body, err := s.doRequest(ctx, path)
	if err != nil {
		s.requestErrors.Add(1)
		s.logDebug("controller request failed", "path", path, "kind", KindOf(err), "error", err)
		return nil, err
	}
	return body, nil
}

func (s *Session) doRequest(ctx context.Context, path string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.address+path, nil)
	if err != nil {
		return nil, &RequestError{Kind: KindTransport, Path: path, Err: err}
	}
	for k, v := range s.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &RequestError{Kind: classifyTransport(err), Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &RequestError{Kind: classifyTransport(err), Path: path, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &RequestError{Kind: KindNotFound, Path: path, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &RequestError{Kind: KindStatus, Path: path, StatusCode: resp.StatusCode}
	}

	if !json.Valid(body) {
		return nil, &RequestError{Kind: KindDecode, Path: path, Err: fmt.Errorf("%d bytes of non-JSON body", len(body))}
	}

	return json.RawMessage(body), nil
}

func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

// fetchSnapshot requests temp then circuit.
func (s *Session) fetchSnapshot(ctx context.Context) (temperatures, map[string]descriptor, error) {
	tempBody, err := s.Request(ctx, pathTemperature)
	if err != nil {
		return nil, nil, err
	}
	temps, err := decodeTemperatures(tempBody)
	if err != nil {
		return nil, nil, err
	}

	circuitBody, err := s.Request(ctx, pathCircuit)
	if err != nil {
		return nil, nil, err
	}
	descs, err := decodeCircuits(circuitBody)
	if err != nil {
		return nil, nil, err
	}

	s.fetches.Add(1)
	s.lastFetch.Store(s.now().UnixNano())
	return temps, descs, nil
}

// RefreshCircuits rebuilds the entity collections from the controller.
//
// Descriptors are partitioned by circuitFunction (case-insensitive):
// generic → switches, intellibrite → lights, spa/pool → thermostats.
// Other functions are dropped. Previous entities are discarded, not merged.
// On success the next throttled fetch is scheduled one scan interval out.
//
// On failure the existing collections are left untouched.
func (s *Session) RefreshCircuits(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	temps, descs, err := s.fetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("refreshing circuits: %w", err)
	}

	var (
		switches    []*Circuit
		lights      []*Circuit
		thermostats []*Thermostat
		all         []Entity
		byNumber    = make(map[int]Entity, len(descs))
	)

	for _, key := range sortedKeys(descs) {
		d := descs[key]
		number, err := d.number(key)
		if err != nil {
			s.logWarn("skipping circuit", "key", key, "error", err)
			continue
		}
		fn, ok := ParseFunction(d.CircuitFunction)
		if !ok {
			continue
		}
		if _, dup := byNumber[number]; dup {
			s.logWarn("duplicate circuit number", "number", number, "key", key)
			continue
		}

		var e Entity
		switch fn.Kind() {
		case KindSwitch:
			c := newCircuit(number, fn, s)
			switches = append(switches, c)
			e = c
		case KindLight:
			c := newCircuit(number, fn, s)
			lights = append(lights, c)
			e = c
		case KindThermostat:
			t := newThermostat(number, fn, s)
			thermostats = append(thermostats, t)
			e = t
		}
		e.setData(d, attachTemps(fn, temps))
		if err := e.sync(); err != nil {
			s.logWarn("incomplete circuit data", "number", number, "error", err)
		}
		byNumber[number] = e
		all = append(all, e)
	}

	sort.Slice(switches, func(i, j int) bool { return switches[i].number < switches[j].number })
	sort.Slice(lights, func(i, j int) bool { return lights[i].number < lights[j].number })
	sort.Slice(thermostats, func(i, j int) bool { return thermostats[i].number < thermostats[j].number })
	sort.Slice(all, func(i, j int) bool { return all[i].Number() < all[j].Number() })

	s.mu.Lock()
	s.switches, s.lights, s.thermostats, s.all, s.byNumber = switches, lights, thermostats, all, byNumber
	s.mu.Unlock()

	s.advanceSchedule(s.now())

	s.logInfo("circuits refreshed",
		"switches", len(switches),
		"lights", len(lights),
		"thermostats", len(thermostats))

	return nil
}

// UpdateData refreshes every entity's data from one shared fetch.
//
// It returns nil without fetching when another UpdateData holds the guard,
// or when the scan interval has not elapsed and no skip-wait is pending.
// A failed fetch leaves entity data and the schedule unchanged; a consumed
// skip-wait is restored so the next call retries.
func (s *Session) UpdateData(ctx context.Context) error {
	if !s.updating.CompareAndSwap(false, true) {
		s.contended.Add(1)
		return nil
	}
	defer s.updating.Store(false)

	due, forced := s.takeSchedule(s.now())
	if !due {
		s.throttled.Add(1)
		return nil
	}

	temps, descs, err := s.fetchSnapshot(ctx)
	if err != nil {
		if forced {
			s.SetSkipUpdateWait(true)
		}
		return fmt.Errorf("updating data: %w", err)
	}

	byNumber := make(map[int]descriptor, len(descs))
	for key, d := range descs {
		number, err := d.number(key)
		if err != nil {
			continue
		}
		byNumber[number] = d
	}

	for _, e := range s.Entities() {
		d, ok := byNumber[e.Number()]
		if !ok {
			s.logDebug("circuit missing from controller snapshot", "number", e.Number())
			continue
		}
		e.setData(d, attachTemps(e.Function(), temps))
	}

	s.advanceSchedule(s.now())
	return nil
}

// attachTemps returns the temperature blob for thermostat functions only.
func attachTemps(fn Function, temps temperatures) temperatures {
	if fn.Kind() != KindThermostat {
		return nil
	}
	return temps
}

func sortedKeys(descs map[string]descriptor) []string {
	keys := make([]string, 0, len(descs))
	for k := range descs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Switches returns the generic circuits, ordered by number.
func (s *Session) Switches() []*Circuit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Circuit(nil), s.switches...)
}

// Lights returns the intellibrite circuits, ordered by number.
func (s *Session) Lights() []*Circuit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Circuit(nil), s.lights...)
}

// Thermostats returns the spa and pool bodies, ordered by number.
func (s *Session) Thermostats() []*Thermostat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Thermostat(nil), s.thermostats...)
}

// Entities returns every known entity, ordered by number.
func (s *Session) Entities() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entity(nil), s.all...)
}

// Entity looks up an entity by circuit number.
func (s *Session) Entity(number int) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byNumber[number]
	return e, ok
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Requests:      s.requests.Load(),
		RequestErrors: s.requestErrors.Load(),
		Fetches:       s.fetches.Load(),
		Throttled:     s.throttled.Load(),
		Contended:     s.contended.Load(),
	}
	if ns := s.lastFetch.Load(); ns != 0 {
		st.LastFetch = time.Unix(0, ns)
	}
	return st
}

// SetLogger replaces the session logger. Nil disables logging.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Session) logDebug(msg string, kv ...any) {
	if l := s.getLogger(); l != nil {
		l.Debug(msg, kv...)
	}
}

func (s *Session) logInfo(msg string, kv ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, kv...)
	}
}

func (s *Session) logWarn(msg string, kv ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, kv...)
	}
}

package sip2gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sip2gate/sip2gate/events"
	"github.com/sip2gate/sip2gate/masking"
	"github.com/sip2gate/sip2gate/metrics"
	"github.com/sip2gate/sip2gate/sip2"
)

// DefaultTimeout applies when a branch does not set its own connect and
// request timeout.
const DefaultTimeout = 10 * time.Second

// timeNow is swapped in breaker tests.
var timeNow = time.Now

// Credentials are the service login for a branch's ACS.
type Credentials struct {
	User     string
	Password string
}

// VendorProfile captures per-vendor protocol quirks.
type VendorProfile struct {
	Name              string
	ChecksumRequired  bool
	PostLoginSCStatus bool
}

// BranchConfig describes one LMS endpoint.
type BranchConfig struct {
	Host          string
	Port          int
	Timeout       time.Duration
	InstitutionID string
	TLS           bool
	TLSSkipVerify bool
	Credentials   *Credentials
	Profile       VendorProfile
}

func (c BranchConfig) clientConfig() sip2.ClientConfig {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return sip2.ClientConfig{
		Host:             c.Host,
		Port:             c.Port,
		ConnectTimeout:   timeout,
		RequestTimeout:   timeout,
		InstitutionID:    c.InstitutionID,
		TLS:              c.TLS,
		TLSSkipVerify:    c.TLSSkipVerify,
		ChecksumRequired: c.Profile.ChecksumRequired,
	}
}

// branch bundles one endpoint's client, breaker and serialization chain.
// tail is the settle channel of the most recently enqueued operation; an
// arriving operation swaps its own channel in and waits for the old one,
// which yields strict FIFO without a goroutine per branch.
type branch struct {
	id  string
	cfg BranchConfig

	mu      sync.Mutex
	client  *sip2.Client
	brk     *breaker
	tail    chan struct{}
	retired bool
}

// ManagerOption configures a Manager.
type ManagerOption func(m *Manager) error

// WithManagerLogger replaces the default logger.
func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) error {
		m.log = logger
		return nil
	}
}

// WithManagerBus installs the event bus receiving transactions and
// dashboard lines.
func WithManagerBus(bus *events.Bus) ManagerOption {
	return func(m *Manager) error {
		m.bus = bus
		return nil
	}
}

// WithManagerMasker installs the masker applied to transaction payloads.
func WithManagerMasker(mask *masking.Masker) ManagerOption {
	return func(m *Manager) error {
		m.masker = mask
		return nil
	}
}

// WithManagerBreakerPolicy overrides the failure threshold and backoff
// schedule, mostly for tests.
func WithManagerBreakerPolicy(threshold int, backoff []time.Duration) ManagerOption {
	return func(m *Manager) error {
		m.breakerThreshold = threshold
		m.breakerBackoff = backoff
		return nil
	}
}

// Manager owns one SIP2 client per branch and serializes operations per
// branch: a SIP2 socket carries one request/response at a time, and
// concurrent callers would otherwise collide on sequence numbers.
type Manager struct {
	log    zerolog.Logger
	bus    *events.Bus
	masker *masking.Masker

	breakerThreshold int
	breakerBackoff   []time.Duration

	mu       sync.RWMutex
	branches map[string]*branch
	location string
}

// NewManager builds a manager for the given branches. The location code is
// manager wide and travels in the login handshake's CP field.
func NewManager(configs map[string]BranchConfig, locationCode string, options ...ManagerOption) (*Manager, error) {
	m := &Manager{
		breakerThreshold: DefaultBreakerThreshold,
		breakerBackoff:   DefaultBackoffSchedule,
		location:         locationCode,
	}
	m.log = log.Logger.With().Str("caller", "connectionManager").Logger()
	for _, o := range options {
		if err := o(m); err != nil {
			return nil, err
		}
	}
	if m.bus == nil {
		bus, err := events.NewBus()
		if err != nil {
			return nil, err
		}
		m.bus = bus
	}
	if m.masker == nil {
		m.masker = masking.New("")
	}
	m.branches = m.buildBranches(configs)
	return m, nil
}

func (m *Manager) buildBranches(configs map[string]BranchConfig) map[string]*branch {
	branches := make(map[string]*branch, len(configs))
	for id, cfg := range configs {
		branches[id] = &branch{
			id:  id,
			cfg: cfg,
			brk: newBreaker(m.breakerThreshold, m.breakerBackoff),
		}
		metrics.BreakerState.WithLabelValues(id).Set(0)
	}
	return branches
}

// Branches lists the configured branch ids.
func (m *Manager) Branches() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.branches))
	for id := range m.branches {
		ids = append(ids, id)
	}
	return ids
}

// BranchStatus is a point-in-time view of one branch for the API.
type BranchStatus struct {
	Branch       string    `json:"branch"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	Connected    bool      `json:"connected"`
	BreakerState string    `json:"breakerState"`
	Failures     int       `json:"failures"`
	NextRetry    time.Time `json:"nextRetry,omitempty"`
}

// Status reports every branch's connection and breaker state.
func (m *Manager) Status() []BranchStatus {
	m.mu.RLock()
	branches := make([]*branch, 0, len(m.branches))
	for _, br := range m.branches {
		branches = append(branches, br)
	}
	m.mu.RUnlock()

	out := make([]BranchStatus, 0, len(branches))
	for _, br := range branches {
		br.mu.Lock()
		st := BranchStatus{
			Branch:       br.id,
			Host:         br.cfg.Host,
			Port:         br.cfg.Port,
			Connected:    br.client != nil && br.client.Connected(),
			BreakerState: br.brk.state.String(),
			Failures:     br.brk.failures,
		}
		if br.brk.state == breakerOpen {
			st.NextRetry = br.brk.nextRetry
		}
		br.mu.Unlock()
		out = append(out, st)
	}
	return out
}

func (m *Manager) locationCode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.location
}

func (m *Manager) lookup(branchID string) *branch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.branches[branchID]
}

// execute serializes op behind every operation already enqueued for the
// branch, then records the outcome on the breaker and emits the
// transaction event.
func (m *Manager) execute(ctx context.Context, branchID, action string, request map[string]any, op func(context.Context, *sip2.Client) (any, error)) (any, error) {
	start := timeNow()
	var (
		res   any
		err   error
		again bool
	)
	for {
		res, again, err = m.runQueued(ctx, branchID, op)
		if !again {
			break
		}
	}

	outcome := "ok"
	switch {
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrProbeInFlight):
		outcome = "circuit_open"
	case err != nil:
		outcome = "error"
	}
	metrics.RequestsTotal.WithLabelValues(branchID, action, outcome).Inc()
	metrics.RequestDuration.WithLabelValues(branchID, action).Observe(timeNow().Sub(start).Seconds())

	if err != nil {
		return nil, err
	}
	m.emitTransaction(action, branchID, request, res)
	return res, nil
}

// runQueued takes the branch's queue turn and runs op once. The third
// return asks the caller to re-dispatch because the branch was swapped by
// a reinitialize while the operation waited its turn.
func (m *Manager) runQueued(ctx context.Context, branchID string, op func(context.Context, *sip2.Client) (any, error)) (any, bool, error) {
	br := m.lookup(branchID)
	if br == nil {
		return nil, false, fmt.Errorf("branch %q: %w", branchID, ErrUnknownBranch)
	}

	done := make(chan struct{})
	br.mu.Lock()
	prev := br.tail
	br.tail = done
	br.mu.Unlock()
	defer close(done)

	if prev != nil {
		<-prev
	}

	if m.lookup(branchID) != br {
		return nil, true, nil
	}

	client, err := m.getClient(ctx, br)
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) && !errors.Is(err, ErrProbeInFlight) {
			m.recordFailure(br, err)
		}
		return nil, false, err
	}

	res, err := op(ctx, client)
	if err != nil {
		m.recordFailure(br, err)
		return nil, false, err
	}
	m.recordSuccess(br)
	return res, false, nil
}

// getClient gates on the breaker, then returns the cached client or builds
// and logs one in. Runs with the branch's queue turn held.
func (m *Manager) getClient(ctx context.Context, br *branch) (*sip2.Client, error) {
	br.mu.Lock()
	br.brk.refresh(timeNow())
	m.exportBreaker(br.id, br.brk.state)
	switch {
	case br.brk.state == breakerOpen:
		next := br.brk.nextRetry
		br.mu.Unlock()
		return nil, &CircuitOpenError{Branch: br.id, NextRetry: next}
	case br.brk.state == breakerHalfOpen:
		if br.brk.probeInFlight {
			br.mu.Unlock()
			return nil, fmt.Errorf("branch %q: %w", br.id, ErrProbeInFlight)
		}
		br.brk.probeInFlight = true
	}
	cached := br.client
	br.mu.Unlock()

	if cached != nil {
		return cached, nil
	}

	clog := log.Logger.With().
		Str("caller", "SIP2Client").
		Str("branch", br.id).
		Str("host", br.cfg.Host).
		Logger()
	client, err := sip2.NewClient(br.cfg.clientConfig(),
		sip2.WithClientLogger(clog),
		sip2.WithClientDashboard(m.dashboardFor(br.id)),
	)
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx); err != nil {
		metrics.ClientConnects.WithLabelValues(br.id, "error").Inc()
		return nil, err
	}
	metrics.ClientConnects.WithLabelValues(br.id, "ok").Inc()

	if br.cfg.Credentials != nil {
		if err := m.performLogin(ctx, br, client); err != nil {
			client.Close()
			return nil, err
		}
	}

	br.mu.Lock()
	if br.retired {
		br.mu.Unlock()
		client.Close()
		return nil, fmt.Errorf("branch %q: %w", br.id, ErrUnknownBranch)
	}
	br.client = client
	br.mu.Unlock()
	m.log.Info().Str("branch", br.id).Str("host", br.cfg.Host).Msg("branch client ready")
	return client, nil
}

// dashboardFor tags client emissions with their branch before they reach
// the bus.
func (m *Manager) dashboardFor(branchID string) sip2.DashboardFunc {
	return func(level, message string, details map[string]any) {
		if details == nil {
			details = map[string]any{}
		}
		details["branch"] = branchID
		m.bus.LogToDashboard(level, message, details)
	}
}

func (m *Manager) recordSuccess(br *branch) {
	br.mu.Lock()
	prev := br.brk.state
	br.brk.recordSuccess()
	br.mu.Unlock()

	m.exportBreaker(br.id, breakerClosed)
	if prev != breakerClosed {
		metrics.BreakerTransitions.WithLabelValues(br.id, "closed").Inc()
		m.log.Info().Str("branch", br.id).Str("from", prev.String()).Msg("circuit closed")
	}
}

func (m *Manager) recordFailure(br *branch, cause error) {
	now := timeNow()
	br.mu.Lock()
	opened := br.brk.recordFailure(now)
	failures := br.brk.failures
	nextRetry := br.brk.nextRetry
	state := br.brk.state
	var victim *sip2.Client
	if opened {
		victim = br.client
		br.client = nil
	}
	br.mu.Unlock()

	m.exportBreaker(br.id, state)
	if !opened {
		m.log.Warn().Str("branch", br.id).Int("failures", failures).Err(cause).Msg("operation failed")
		return
	}
	metrics.BreakerTransitions.WithLabelValues(br.id, "open").Inc()
	m.log.Error().Str("branch", br.id).Int("failures", failures).
		Time("nextRetry", nextRetry).Err(cause).Msg("circuit opened")
	m.bus.LogToDashboard("error", "Circuit opened for branch", map[string]any{
		"branch":    br.id,
		"nextRetry": nextRetry.UTC().Format(time.RFC3339),
	})
	if victim != nil {
		victim.Close()
	}
}

func (m *Manager) exportBreaker(branchID string, state breakerState) {
	var v float64
	switch state {
	case breakerHalfOpen:
		v = 1
	case breakerOpen:
		v = 2
	}
	metrics.BreakerState.WithLabelValues(branchID).Set(v)
}

// emitTransaction masks the payload and hands it to the bus. Masking
// failures suppress the event: an unmasked identifier must never leave the
// process.
func (m *Manager) emitTransaction(action, branchID string, request map[string]any, response any) {
	payload := map[string]any{
		"action":    action,
		"branchId":  branchID,
		"request":   request,
		"response":  toJSONValue(response),
		"timestamp": timeNow().UTC().Format(time.RFC3339),
	}
	masked, err := m.masker.MaskPayload(payload)
	if err != nil {
		m.log.Error().Err(err).Str("action", action).Msg("transaction masking failed, event suppressed")
		return
	}
	mp, ok := masked.(map[string]any)
	if !ok {
		return
	}
	tx := events.Transaction{
		Action:   action,
		BranchID: branchID,
		Request:  mp["request"],
		Response: mp["response"],
	}
	if ts, ok := mp["timestamp"].(string); ok {
		tx.Timestamp = ts
	}
	m.bus.EmitTransaction(tx)
}

// toJSONValue flattens a typed record into JSON-shaped maps the masker can
// walk.
func toJSONValue(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// Reinitialize drains every branch's chain, tears the clients down and
// rebuilds from the new configuration. An empty newLocation keeps the
// current location code.
func (m *Manager) Reinitialize(configs map[string]BranchConfig, newLocation string) {
	m.log.Info().Int("branches", len(configs)).Msg("reinitializing branch configuration")

	m.mu.RLock()
	old := make([]*branch, 0, len(m.branches))
	for _, br := range m.branches {
		old = append(old, br)
	}
	m.mu.RUnlock()

	// Settle every in-flight chain before touching any client.
	for _, br := range old {
		br.mu.Lock()
		tail := br.tail
		br.mu.Unlock()
		if tail != nil {
			<-tail
		}
	}

	for _, br := range old {
		br.mu.Lock()
		br.retired = true
		client := br.client
		br.client = nil
		br.mu.Unlock()
		if client != nil {
			client.Close()
		}
		metrics.BreakerState.DeleteLabelValues(br.id)
	}

	m.mu.Lock()
	m.branches = m.buildBranches(configs)
	if newLocation != "" {
		m.location = newLocation
	}
	m.mu.Unlock()
}

// Shutdown closes every client and clears the branch map.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	branches := m.branches
	m.branches = map[string]*branch{}
	m.mu.Unlock()

	for _, br := range branches {
		br.mu.Lock()
		br.retired = true
		client := br.client
		br.client = nil
		br.mu.Unlock()
		if client != nil {
			client.Close()
		}
	}
	m.log.Info().Msg("connection manager shut down")
}

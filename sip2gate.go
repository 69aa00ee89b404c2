// Package sip2gate bridges JSON-speaking callers onto SIP2 library
// automation servers. A Gateway owns one serialized SIP2 client per
// configured branch, shields each endpoint behind a circuit breaker and
// publishes masked transaction events for audit and live dashboards.
package sip2gate

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sip2gate/sip2gate/events"
	"github.com/sip2gate/sip2gate/masking"
)

// Gateway wires the masker, event bus, transaction log and connection
// manager together.
type Gateway struct {
	log      zerolog.Logger
	masker   *masking.Masker
	bus      *events.Bus
	manager  *Manager
	translog *events.TransactionLog

	masterKey        string
	location         string
	branches         map[string]BranchConfig
	queueSize        int
	txLogCfg         *events.TransactionLogConfig
	breakerThreshold int
	breakerBackoff   []time.Duration
}

type GatewayOption func(g *Gateway) error

// WithGatewayLogger replaces the default logger.
func WithGatewayLogger(logger zerolog.Logger) GatewayOption {
	return func(g *Gateway) error {
		g.log = logger
		return nil
	}
}

// WithGatewayMasterKey sets the HMAC key behind identifier masking.
// Without it transaction events are suppressed and dashboard redaction
// falls back to plain asterisks.
func WithGatewayMasterKey(key string) GatewayOption {
	return func(g *Gateway) error {
		g.masterKey = key
		return nil
	}
}

// WithGatewayBranches sets the branch endpoints served at startup.
func WithGatewayBranches(branches map[string]BranchConfig) GatewayOption {
	return func(g *Gateway) error {
		g.branches = branches
		return nil
	}
}

// WithGatewayLocationCode sets the terminal location sent in login
// handshakes.
func WithGatewayLocationCode(code string) GatewayOption {
	return func(g *Gateway) error {
		g.location = code
		return nil
	}
}

// WithGatewayEventQueueSize overrides the bus queue depth.
func WithGatewayEventQueueSize(n int) GatewayOption {
	return func(g *Gateway) error {
		g.queueSize = n
		return nil
	}
}

// WithGatewayTransactionLog enables the rotating JSON transaction log.
func WithGatewayTransactionLog(cfg events.TransactionLogConfig) GatewayOption {
	return func(g *Gateway) error {
		g.txLogCfg = &cfg
		return nil
	}
}

// WithGatewayBreakerPolicy overrides the per-branch breaker threshold and
// backoff schedule.
func WithGatewayBreakerPolicy(threshold int, backoff []time.Duration) GatewayOption {
	return func(g *Gateway) error {
		g.breakerThreshold = threshold
		g.breakerBackoff = backoff
		return nil
	}
}

// NewGateway assembles a gateway. Check options for customizing branches,
// masking and event delivery.
func NewGateway(options ...GatewayOption) (*Gateway, error) {
	g := &Gateway{
		branches:         map[string]BranchConfig{},
		breakerThreshold: DefaultBreakerThreshold,
		breakerBackoff:   DefaultBackoffSchedule,
	}
	g.log = log.Logger.With().Str("caller", "Gateway").Logger()

	for _, o := range options {
		if err := o(g); err != nil {
			return nil, err
		}
	}

	g.masker = masking.New(g.masterKey)
	if !g.masker.HasKey() {
		g.log.Warn().Msg("no master key configured, transaction events will be suppressed")
	}

	busOpts := []events.BusOption{
		events.WithLogger(g.log),
		events.WithMasker(g.masker),
	}
	if g.queueSize > 0 {
		busOpts = append(busOpts, events.WithQueueSize(g.queueSize))
	}
	bus, err := events.NewBus(busOpts...)
	if err != nil {
		return nil, err
	}
	g.bus = bus

	manager, err := NewManager(g.branches, g.location,
		WithManagerBus(g.bus),
		WithManagerMasker(g.masker),
		WithManagerBreakerPolicy(g.breakerThreshold, g.breakerBackoff),
	)
	if err != nil {
		bus.Close()
		return nil, err
	}
	g.manager = manager

	if g.txLogCfg != nil {
		g.translog = events.NewTransactionLog(*g.txLogCfg, g.bus)
	}

	g.log.Info().Int("branches", len(g.branches)).Msg("gateway assembled")
	return g, nil
}

// Manager exposes the connection manager carrying the typed operations.
func (g *Gateway) Manager() *Manager {
	return g.manager
}

// Bus exposes the event bus for subscribers such as the dashboard stream.
func (g *Gateway) Bus() *events.Bus {
	return g.bus
}

// Reinitialize swaps the branch configuration in place. Queued operations
// finish against the old clients first.
func (g *Gateway) Reinitialize(branches map[string]BranchConfig, locationCode string) {
	g.manager.Reinitialize(branches, locationCode)
}

// Close drains the manager, flushes queued events and stops the
// transaction log.
func (g *Gateway) Close() error {
	g.manager.Shutdown()
	g.bus.Close()
	if g.translog != nil {
		return g.translog.Close()
	}
	return nil
}

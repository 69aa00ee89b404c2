// Package events fans completed transactions and dashboard notices out to
// in-process subscribers. Delivery is asynchronous and best effort: a slow
// or failing subscriber can delay other subscribers on its channel but
// never a SIP2 operation, and a full queue sheds its oldest entries first.
package events

import (
	"regexp"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sip2gate/sip2gate/masking"
	"github.com/sip2gate/sip2gate/metrics"
)

const defaultQueueSize = 1024

// Transaction is one completed SIP2 operation, already masked by the
// connection manager before it reaches the bus.
type Transaction struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	BranchID  string `json:"branchId"`
	Request   any    `json:"request,omitempty"`
	Response  any    `json:"response,omitempty"`
	Timestamp string `json:"timestamp"`
}

// DashboardLine is one entry on the live dashboard stream.
type DashboardLine struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// TransactionHandler consumes transactions in emission order.
type TransactionHandler func(tx Transaction)

// DashboardHandler consumes dashboard lines in emission order.
type DashboardHandler func(line DashboardLine)

// BusOption configures a Bus.
type BusOption func(b *Bus) error

// WithLogger replaces the default logger.
func WithLogger(logger zerolog.Logger) BusOption {
	return func(b *Bus) error {
		b.log = logger
		return nil
	}
}

// WithMasker installs the masker used for dashboard redaction.
func WithMasker(m *masking.Masker) BusOption {
	return func(b *Bus) error {
		b.masker = m
		return nil
	}
}

// WithQueueSize bounds each channel's queue.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) error {
		if n > 0 {
			b.queueSize = n
		}
		return nil
	}
}

type txSub struct {
	id int
	fn TransactionHandler
}

type dashSub struct {
	id int
	fn DashboardHandler
}

// Bus is the in-process event fan-out with a transaction channel and a
// dashboard channel, each drained by its own dispatcher goroutine.
type Bus struct {
	log       zerolog.Logger
	masker    *masking.Masker
	queueSize int

	txQueue   chan Transaction
	dashQueue chan DashboardLine

	mu       sync.RWMutex
	txSubs   []txSub
	dashSubs []dashSub
	nextID   int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBus builds and starts a bus. A built-in transaction subscriber
// reforwards every transaction to the dashboard channel so one stream
// carries everything.
func NewBus(options ...BusOption) (*Bus, error) {
	b := &Bus{
		masker:    masking.New(""),
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
	}
	b.log = log.Logger.With().Str("caller", "eventBus").Logger()
	for _, o := range options {
		if err := o(b); err != nil {
			return nil, err
		}
	}
	b.txQueue = make(chan Transaction, b.queueSize)
	b.dashQueue = make(chan DashboardLine, b.queueSize)

	b.SubscribeTransactions(b.forwardToDashboard)

	b.wg.Add(2)
	go b.runTransactions()
	go b.runDashboard()
	return b, nil
}

// SubscribeTransactions registers a transaction subscriber and returns its
// cancel function. Subscribers are invoked in subscription order.
func (b *Bus) SubscribeTransactions(fn TransactionHandler) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.txSubs = append(b.txSubs, txSub{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.txSubs {
			if s.id == id {
				b.txSubs = append(b.txSubs[:i], b.txSubs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeDashboard registers a dashboard subscriber and returns its
// cancel function.
func (b *Bus) SubscribeDashboard(fn DashboardHandler) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.dashSubs = append(b.dashSubs, dashSub{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.dashSubs {
			if s.id == id {
				b.dashSubs = append(b.dashSubs[:i], b.dashSubs[i+1:]...)
				return
			}
		}
	}
}

// EmitTransaction queues a transaction for delivery. When the queue is
// full the oldest queued transaction is dropped to make room.
func (b *Bus) EmitTransaction(tx Transaction) {
	select {
	case <-b.done:
		return
	default:
	}
	if tx.ID == "" {
		tx.ID = xid.New().String()
	}
	for {
		select {
		case b.txQueue <- tx:
			return
		default:
		}
		select {
		case <-b.txQueue:
			metrics.EventsDropped.WithLabelValues("transaction").Inc()
			b.log.Warn().Msg("transaction queue full, dropping oldest event")
		default:
		}
	}
}

// LogToDashboard queues one dashboard line. Details are cloned and
// redacted before queueing so the caller's maps are never mutated and no
// subscriber ever sees an unredacted identifier.
func (b *Bus) LogToDashboard(level, message string, details map[string]any) {
	select {
	case <-b.done:
		return
	default:
	}
	line := DashboardLine{
		ID:        xid.New().String(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Details:   b.redactMap(details, 0),
	}
	for {
		select {
		case b.dashQueue <- line:
			return
		default:
		}
		select {
		case <-b.dashQueue:
			metrics.EventsDropped.WithLabelValues("dashboard").Inc()
			b.log.Warn().Msg("dashboard queue full, dropping oldest line")
		default:
		}
	}
}

// Close stops both dispatchers. Entries still queued are discarded.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
	return nil
}

func (b *Bus) runTransactions() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case tx := <-b.txQueue:
			b.mu.RLock()
			subs := make([]txSub, len(b.txSubs))
			copy(subs, b.txSubs)
			b.mu.RUnlock()
			for _, s := range subs {
				b.safeTx(s.fn, tx)
			}
		}
	}
}

func (b *Bus) runDashboard() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case line := <-b.dashQueue:
			b.mu.RLock()
			subs := make([]dashSub, len(b.dashSubs))
			copy(subs, b.dashSubs)
			b.mu.RUnlock()
			for _, s := range subs {
				b.safeDash(s.fn, line)
			}
		}
	}
}

func (b *Bus) safeTx(fn TransactionHandler, tx Transaction) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("action", tx.Action).Msg("transaction subscriber panicked")
		}
	}()
	fn(tx)
}

func (b *Bus) safeDash(fn DashboardHandler, line DashboardLine) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Msg("dashboard subscriber panicked")
		}
	}()
	fn(line)
}

// forwardToDashboard is the built-in bridge giving dashboard consumers a
// unified stream that includes every transaction.
func (b *Bus) forwardToDashboard(tx Transaction) {
	b.LogToDashboard("info", "SIP2 Transaction", map[string]any{
		"id":        tx.ID,
		"action":    tx.Action,
		"branchId":  tx.BranchID,
		"request":   tx.Request,
		"response":  tx.Response,
		"timestamp": tx.Timestamp,
	})
}

// Tag runs carrying secrets or identifiers inside raw SIP2 text. A value
// run extends to the next pipe, which is how the wire format delimits it.
var (
	secretTagRe     = regexp.MustCompile(`(CN|CO|AD)[^|\r]*`)
	identifierTagRe = regexp.MustCompile(`(AA|AE|AB)[^|\r]*`)
)

// redactFrame rewrites tag value runs in raw SIP2 text: secrets become
// asterisks, identifiers become their deterministic mask when a master key
// is configured.
func (b *Bus) redactFrame(s string) string {
	s = secretTagRe.ReplaceAllString(s, "$1"+masking.Redacted)
	return identifierTagRe.ReplaceAllStringFunc(s, func(m string) string {
		tag, value := m[:2], m[2:]
		masked, err := b.masker.Mask(value)
		if err != nil {
			return tag + masking.Redacted
		}
		return tag + masked
	})
}

func (b *Bus) redactMap(details map[string]any, depth int) map[string]any {
	if details == nil || depth > 16 {
		return details
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = b.redactValue(k, v, depth)
	}
	return out
}

func (b *Bus) redactValue(key string, v any, depth int) any {
	switch t := v.(type) {
	case string:
		if key == "raw" || key == "message" {
			return b.redactFrame(t)
		}
		return t
	case map[string]any:
		return b.redactMap(t, depth+1)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = b.redactValue(key, e, depth+1)
		}
		return out
	default:
		return v
	}
}

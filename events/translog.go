package events

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TransactionLogConfig sizes the rotating transaction log.
type TransactionLogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TransactionLog subscribes to the transaction channel and appends each
// transaction as one JSON line to a rotating file. Payloads arrive already
// masked, so the file is safe to ship to a log collector.
type TransactionLog struct {
	log    zerolog.Logger
	cancel func()

	mu sync.Mutex
	w  *lumberjack.Logger
}

// NewTransactionLog attaches a transaction log to the bus.
func NewTransactionLog(cfg TransactionLogConfig, bus *Bus) *TransactionLog {
	t := &TransactionLog{
		w: &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}
	t.log = log.Logger.With().Str("caller", "transactionLog").Str("file", cfg.File).Logger()
	t.cancel = bus.SubscribeTransactions(t.write)
	return t
}

func (t *TransactionLog) write(tx Transaction) {
	data, err := json.Marshal(tx)
	if err != nil {
		t.log.Error().Err(err).Str("action", tx.Action).Msg("transaction not serializable, skipping")
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		t.log.Error().Err(err).Msg("transaction log write failed")
	}
}

// Close detaches from the bus and closes the underlying file.
func (t *TransactionLog) Close() error {
	t.cancel()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Close()
}

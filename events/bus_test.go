package events

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sip2gate/sip2gate/masking"
	"github.com/sip2gate/sip2gate/metrics"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

func newTestBus(t *testing.T, options ...BusOption) *Bus {
	t.Helper()
	b, err := NewBus(options...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBusDeliversTransactionsInOrder(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var got []Transaction
	b.SubscribeTransactions(func(tx Transaction) {
		mu.Lock()
		got = append(got, tx)
		mu.Unlock()
	})

	for _, action := range []string{"checkout", "checkin", "renew"} {
		b.EmitTransaction(Transaction{Action: action, BranchID: "main"})
	}

	waitUntil(t, "three transactions", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "checkout", got[0].Action)
	assert.Equal(t, "checkin", got[1].Action)
	assert.Equal(t, "renew", got[2].Action)
	for _, tx := range got {
		assert.NotEmpty(t, tx.ID)
	}
}

func TestBusInvokesSubscribersInSubscriptionOrder(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var trace []string
	b.SubscribeTransactions(func(tx Transaction) {
		mu.Lock()
		trace = append(trace, "a:"+tx.Action)
		mu.Unlock()
	})
	b.SubscribeTransactions(func(tx Transaction) {
		mu.Lock()
		trace = append(trace, "b:"+tx.Action)
		mu.Unlock()
	})

	b.EmitTransaction(Transaction{Action: "one"})
	b.EmitTransaction(Transaction{Action: "two"})

	waitUntil(t, "four deliveries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(trace) == 4
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a:one", "b:one", "a:two", "b:two"}, trace)
}

func TestBusCancelStopsDelivery(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	canceledGot := 0
	cancel := b.SubscribeTransactions(func(Transaction) {
		mu.Lock()
		canceledGot++
		mu.Unlock()
	})

	var keptGot int
	b.SubscribeTransactions(func(Transaction) {
		mu.Lock()
		keptGot++
		mu.Unlock()
	})

	cancel()
	b.EmitTransaction(Transaction{Action: "checkout"})

	waitUntil(t, "kept subscriber delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return keptGot == 1
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, canceledGot)
}

func TestBusShedsOldestWhenQueueFull(t *testing.T) {
	b := newTestBus(t, WithQueueSize(4))

	started := make(chan struct{})
	gate := make(chan struct{})
	var mu sync.Mutex
	var got []string
	b.SubscribeTransactions(func(tx Transaction) {
		mu.Lock()
		got = append(got, tx.Action)
		mu.Unlock()
		if tx.Action == "tx0" {
			close(started)
			<-gate
		}
	})

	before := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("transaction"))

	// tx0 parks the dispatcher inside the subscriber, tx1..tx4 fill the
	// queue and tx5, tx6 push the two oldest queued entries out.
	b.EmitTransaction(Transaction{Action: "tx0"})
	<-started
	for _, a := range []string{"tx1", "tx2", "tx3", "tx4", "tx5", "tx6"} {
		b.EmitTransaction(Transaction{Action: a})
	}
	close(gate)

	waitUntil(t, "surviving transactions", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"tx0", "tx3", "tx4", "tx5", "tx6"}, got)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("transaction")))
}

func TestBusIsolatesPanickingSubscriber(t *testing.T) {
	b := newTestBus(t)

	b.SubscribeTransactions(func(Transaction) {
		panic("subscriber bug")
	})

	var mu sync.Mutex
	var survived int
	b.SubscribeTransactions(func(Transaction) {
		mu.Lock()
		survived++
		mu.Unlock()
	})

	b.EmitTransaction(Transaction{Action: "checkout"})
	b.EmitTransaction(Transaction{Action: "checkin"})

	waitUntil(t, "second subscriber deliveries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return survived == 2
	})
}

func TestBusRedactsRawFramesOnDashboard(t *testing.T) {
	b := newTestBus(t, WithMasker(masking.New(testMasterKey)))

	var mu sync.Mutex
	var lines []DashboardLine
	b.SubscribeDashboard(func(line DashboardLine) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})

	b.LogToDashboard("info", "SIP2 request", map[string]any{
		"host": "ils.example.org",
		"raw":  "9300CNcirc|COsecret|AAP12345|",
	})

	waitUntil(t, "dashboard line", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	raw := lines[0].Details["raw"].(string)
	assert.NotContains(t, raw, "circ")
	assert.NotContains(t, raw, "secret")
	assert.NotContains(t, raw, "P12345")
	assert.Contains(t, raw, "CN"+masking.Redacted)
	assert.Contains(t, raw, "CO"+masking.Redacted)
	assert.Contains(t, raw, "AAMASKED_")
	assert.Equal(t, "ils.example.org", lines[0].Details["host"])
}

func TestBusRedactsIdentifiersWithoutMasterKey(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var lines []DashboardLine
	b.SubscribeDashboard(func(line DashboardLine) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})

	b.LogToDashboard("info", "SIP2 request", map[string]any{
		"raw": "11YN20240101    120000AOMAIN|AAP12345|ABI777|",
	})

	waitUntil(t, "dashboard line", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	raw := lines[0].Details["raw"].(string)
	assert.NotContains(t, raw, "P12345")
	assert.NotContains(t, raw, "I777")
	assert.Contains(t, raw, "AA"+masking.Redacted)
	assert.Contains(t, raw, "AB"+masking.Redacted)
}

func TestBusDoesNotMutateCallerDetails(t *testing.T) {
	b := newTestBus(t, WithMasker(masking.New(testMasterKey)))

	details := map[string]any{"raw": "AAP12345|"}
	b.LogToDashboard("info", "SIP2 request", details)

	assert.Equal(t, "AAP12345|", details["raw"])
}

func TestBusBridgesTransactionsToDashboard(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var lines []DashboardLine
	b.SubscribeDashboard(func(line DashboardLine) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})

	b.EmitTransaction(Transaction{
		Action:   "checkout",
		BranchID: "main",
		Request:  map[string]any{"patronBarcode": "MASKED_0011223344556677"},
	})

	waitUntil(t, "bridged line", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	line := lines[0]
	assert.Equal(t, "SIP2 Transaction", line.Message)
	assert.Equal(t, "info", line.Level)
	assert.Equal(t, "checkout", line.Details["action"])
	assert.Equal(t, "main", line.Details["branchId"])
	req := line.Details["request"].(map[string]any)
	assert.True(t, strings.HasPrefix(req["patronBarcode"].(string), "MASKED_"))
}

func TestBusEmitAfterCloseIsNoop(t *testing.T) {
	b, err := NewBus()
	require.NoError(t, err)

	var mu sync.Mutex
	var got int
	b.SubscribeTransactions(func(Transaction) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	require.NoError(t, b.Close())
	b.EmitTransaction(Transaction{Action: "checkout"})
	b.LogToDashboard("info", "late", nil)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, got)
}

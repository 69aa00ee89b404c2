package sip2gate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sip2gate/sip2gate/events"
	"github.com/sip2gate/sip2gate/fakes"
	"github.com/sip2gate/sip2gate/masking"
)

func testBranch(a *fakes.ACS) BranchConfig {
	return BranchConfig{
		Host:          a.Host(),
		Port:          a.Port(),
		Timeout:       2 * time.Second,
		InstitutionID: "MAIN",
	}
}

func newTestManager(t *testing.T, branches map[string]BranchConfig, options ...ManagerOption) *Manager {
	t.Helper()
	m, err := NewManager(branches, "gateway-1", options...)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func TestManagerUnknownBranch(t *testing.T) {
	m := newTestManager(t, map[string]BranchConfig{})
	_, err := m.Checkin(context.Background(), "nowhere", "item-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownBranch))
}

func TestManagerCheckoutRoundTrip(t *testing.T) {
	acs := fakes.NewACS(t)
	m := newTestManager(t, map[string]BranchConfig{"main": testBranch(acs)})

	rec, err := m.Checkout(context.Background(), "main", "P12345", "I777", "1234")
	require.NoError(t, err)
	assert.True(t, rec.Ok)
	assert.Equal(t, "P12345", rec.PatronBarcode)
	assert.Equal(t, "I777", rec.ItemBarcode)
	assert.Equal(t, "The Left Hand of Darkness", rec.TitleID)

	reqs := acs.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "11", reqs[0].Code)
	assert.Contains(t, reqs[0].Frame, "AAP12345|")
	assert.Contains(t, reqs[0].Frame, "ABI777|")
	assert.Contains(t, reqs[0].Frame, "AD1234|")
}

func TestManagerReusesOneConnection(t *testing.T) {
	acs := fakes.NewACS(t)
	m := newTestManager(t, map[string]BranchConfig{"main": testBranch(acs)})
	ctx := context.Background()

	_, err := m.Checkin(ctx, "main", "item-1")
	require.NoError(t, err)
	_, err = m.ItemInformation(ctx, "main", "item-1")
	require.NoError(t, err)
	_, err = m.SCStatus(ctx, "main")
	require.NoError(t, err)

	assert.Equal(t, 1, acs.Accepted())
}

func TestManagerSerializesPerBranch(t *testing.T) {
	acs := fakes.NewACS(t, fakes.WithResponseDelay(50*time.Millisecond))
	m := newTestManager(t, map[string]BranchConfig{"main": testBranch(acs)})

	const calls = 5
	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Checkin(context.Background(), "main", "item-1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "call %d", i)
	}
	// One at a time against the socket, so total time stacks up.
	assert.GreaterOrEqual(t, time.Since(start), time.Duration(calls)*50*time.Millisecond)
	assert.Equal(t, 1, acs.Accepted())
}

func TestManagerBlockPatronFireAndForget(t *testing.T) {
	acs := fakes.NewACS(t)
	m := newTestManager(t, map[string]BranchConfig{"main": testBranch(acs)})
	ctx := context.Background()

	require.NoError(t, m.BlockPatron(ctx, "main", "P12345", "card eaten by machine", true))
	acs.WaitRequests(1, time.Second)

	// The connection stays usable for request/response traffic after a
	// one-way message.
	rec, err := m.Checkin(ctx, "main", "item-1")
	require.NoError(t, err)
	assert.True(t, rec.Ok)

	reqs := acs.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "01", reqs[0].Code)
	assert.Contains(t, reqs[0].Frame, "ALcard eaten by machine|")
}

func TestManagerBreakerOpensAndGates(t *testing.T) {
	acs := fakes.NewACS(t)
	cfg := testBranch(acs)
	cfg.Timeout = 300 * time.Millisecond
	acs.Close() // connections now refused

	m := newTestManager(t, map[string]BranchConfig{"main": cfg},
		WithManagerBreakerPolicy(3, []time.Duration{time.Hour}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Checkin(ctx, "main", "item-1")
		require.Error(t, err, "attempt %d", i)
		assert.False(t, errors.Is(err, ErrCircuitOpen), "attempt %d", i)
	}

	_, err := m.Checkin(ctx, "main", "item-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	var coe *CircuitOpenError
	require.True(t, errors.As(err, &coe))
	assert.Equal(t, "main", coe.Branch)
	assert.True(t, coe.NextRetry.After(time.Now()))

	st := m.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "open", st[0].BreakerState)
}

func TestManagerHalfOpenProbeRecovers(t *testing.T) {
	acs := fakes.NewACS(t, fakes.WithResponder(fakes.SwallowResponder()))
	cfg := testBranch(acs)
	cfg.Timeout = 150 * time.Millisecond

	m := newTestManager(t, map[string]BranchConfig{"main": cfg},
		WithManagerBreakerPolicy(1, []time.Duration{30 * time.Millisecond}))
	ctx := context.Background()

	_, err := m.Checkin(ctx, "main", "item-1")
	require.Error(t, err)

	_, err = m.Checkin(ctx, "main", "item-1")
	require.True(t, errors.Is(err, ErrCircuitOpen))

	acs.SetResponder(fakes.StandardResponder())
	time.Sleep(60 * time.Millisecond)

	rec, err := m.Checkin(ctx, "main", "item-1")
	require.NoError(t, err)
	assert.True(t, rec.Ok)

	// The failed client was destroyed when the circuit opened, so the
	// probe dialed a fresh connection.
	assert.Equal(t, 2, acs.Accepted())

	st := m.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "closed", st[0].BreakerState)
}

func TestManagerGatedCallsDoNotAdvanceBackoff(t *testing.T) {
	acs := fakes.NewACS(t, fakes.WithResponder(fakes.SwallowResponder()))
	cfg := testBranch(acs)
	cfg.Timeout = 150 * time.Millisecond

	m := newTestManager(t, map[string]BranchConfig{"main": cfg},
		WithManagerBreakerPolicy(1, []time.Duration{50 * time.Millisecond, time.Hour}))
	ctx := context.Background()

	_, err := m.Checkin(ctx, "main", "item-1")
	require.Error(t, err)

	// Hammer the open circuit. None of these may count as failures, or
	// the backoff would jump to the hour slot.
	for i := 0; i < 5; i++ {
		_, err := m.Checkin(ctx, "main", "item-1")
		require.True(t, errors.Is(err, ErrCircuitOpen))
	}

	acs.SetResponder(fakes.StandardResponder())
	time.Sleep(80 * time.Millisecond)

	_, err = m.Checkin(ctx, "main", "item-1")
	require.NoError(t, err)
}

func TestManagerLoginRetriesThenSucceeds(t *testing.T) {
	acs := fakes.NewACS(t,
		fakes.WithResponder(fakes.Eventually(fakes.RejectLoginResponder(), 2, fakes.StandardResponder())))
	cfg := testBranch(acs)
	cfg.Credentials = &Credentials{User: "svc", Password: "hunter2"}

	m := newTestManager(t, map[string]BranchConfig{"main": cfg})

	rec, err := m.Checkin(context.Background(), "main", "item-1")
	require.NoError(t, err)
	assert.True(t, rec.Ok)

	reqs := acs.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, "93", reqs[0].Code)
	assert.Equal(t, "93", reqs[1].Code)
	assert.Equal(t, "93", reqs[2].Code)
	assert.Equal(t, "09", reqs[3].Code)
	assert.Contains(t, reqs[0].Frame, "CNsvc|")
	assert.Contains(t, reqs[0].Frame, "COhunter2|")
	assert.Contains(t, reqs[0].Frame, "CPgateway-1|")
}

func TestManagerLoginRejectedExhaustsRetries(t *testing.T) {
	acs := fakes.NewACS(t, fakes.WithResponder(fakes.RejectLoginResponder()))
	cfg := testBranch(acs)
	cfg.Credentials = &Credentials{User: "svc", Password: "wrong"}

	m := newTestManager(t, map[string]BranchConfig{"main": cfg})

	_, err := m.Checkin(context.Background(), "main", "item-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoginRejected))

	reqs := acs.Requests()
	require.Len(t, reqs, 3)
	for _, r := range reqs {
		assert.Equal(t, "93", r.Code)
	}
}

func TestManagerPostLoginSCStatus(t *testing.T) {
	acs := fakes.NewACS(t)
	cfg := testBranch(acs)
	cfg.Credentials = &Credentials{User: "svc", Password: "hunter2"}
	cfg.Profile = VendorProfile{Name: "polaris", PostLoginSCStatus: true}

	m := newTestManager(t, map[string]BranchConfig{"main": cfg})

	_, err := m.Checkin(context.Background(), "main", "item-1")
	require.NoError(t, err)

	reqs := acs.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "93", reqs[0].Code)
	assert.Equal(t, "99", reqs[1].Code)
	assert.Equal(t, "09", reqs[2].Code)
}

func TestManagerReinitializeSwapsBranches(t *testing.T) {
	acs1 := fakes.NewACS(t)
	acs2 := fakes.NewACS(t)
	m := newTestManager(t, map[string]BranchConfig{"main": testBranch(acs1)})
	ctx := context.Background()

	_, err := m.Checkin(ctx, "main", "item-1")
	require.NoError(t, err)
	assert.Equal(t, 1, acs1.Accepted())

	m.Reinitialize(map[string]BranchConfig{"main": testBranch(acs2)}, "")

	_, err = m.Checkin(ctx, "main", "item-2")
	require.NoError(t, err)
	assert.Equal(t, 1, acs1.Accepted())
	assert.Equal(t, 1, acs2.Accepted())
	require.Len(t, acs2.Requests(), 1)

	m.Reinitialize(map[string]BranchConfig{}, "")
	_, err = m.Checkin(ctx, "main", "item-3")
	assert.True(t, errors.Is(err, ErrUnknownBranch))
}

func TestManagerReinitializeDrainsInFlight(t *testing.T) {
	acs := fakes.NewACS(t, fakes.WithResponseDelay(100*time.Millisecond))
	m := newTestManager(t, map[string]BranchConfig{"main": testBranch(acs)})

	started := make(chan struct{})
	opDone := make(chan error, 1)
	go func() {
		close(started)
		_, err := m.Checkin(context.Background(), "main", "item-1")
		opDone <- err
	}()
	<-started
	acs.WaitRequests(1, time.Second)

	// Reinitialize waits for the in-flight checkin before closing its
	// client. Were it not draining, the teardown would sever the pending
	// request and the checkin would fail with a connection error.
	m.Reinitialize(map[string]BranchConfig{"main": testBranch(acs)}, "")

	select {
	case err := <-opDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("in-flight operation never settled")
	}
}

func TestManagerEmitsMaskedTransaction(t *testing.T) {
	acs := fakes.NewACS(t)
	mask := masking.New("0123456789abcdef0123456789abcdef")
	bus, err := events.NewBus(events.WithMasker(mask))
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	got := make(chan events.Transaction, 4)
	cancel := bus.SubscribeTransactions(func(tx events.Transaction) {
		got <- tx
	})
	defer cancel()

	m := newTestManager(t, map[string]BranchConfig{"main": testBranch(acs)},
		WithManagerBus(bus), WithManagerMasker(mask))

	_, err = m.Checkout(context.Background(), "main", "P12345", "I777", "1234")
	require.NoError(t, err)

	var tx events.Transaction
	select {
	case tx = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no transaction event delivered")
	}

	assert.Equal(t, "checkout", tx.Action)
	assert.Equal(t, "main", tx.BranchID)
	assert.NotEmpty(t, tx.Timestamp)

	req, ok := tx.Request.(map[string]any)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(req["patronBarcode"].(string), "MASKED_"))
	assert.Equal(t, "********", req["patronPin"])

	resp, ok := tx.Response.(map[string]any)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(resp["patronBarcode"].(string), "MASKED_"))
	assert.True(t, strings.HasPrefix(resp["itemBarcode"].(string), "MASKED_"))
	assert.Equal(t, "The Left Hand of Darkness", resp["titleId"])
}

func TestManagerSuppressesTransactionWithoutMasterKey(t *testing.T) {
	acs := fakes.NewACS(t)
	mask := masking.New("")
	bus, err := events.NewBus(events.WithMasker(mask))
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	got := make(chan events.Transaction, 4)
	cancel := bus.SubscribeTransactions(func(tx events.Transaction) {
		got <- tx
	})
	defer cancel()

	m := newTestManager(t, map[string]BranchConfig{"main": testBranch(acs)},
		WithManagerBus(bus), WithManagerMasker(mask))

	_, err = m.Checkout(context.Background(), "main", "P12345", "I777", "")
	require.NoError(t, err)

	select {
	case tx := <-got:
		t.Fatalf("unmaskable transaction escaped: %+v", tx)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestManagerStatus(t *testing.T) {
	acs := fakes.NewACS(t)
	m := newTestManager(t, map[string]BranchConfig{"main": testBranch(acs)})

	_, err := m.Checkin(context.Background(), "main", "item-1")
	require.NoError(t, err)

	st := m.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "main", st[0].Branch)
	assert.Equal(t, acs.Host(), st[0].Host)
	assert.True(t, st[0].Connected)
	assert.Equal(t, "closed", st[0].BreakerState)
	assert.Zero(t, st[0].Failures)
}

package sip2gate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sip2gate/sip2gate/events"
	"github.com/sip2gate/sip2gate/fakes"
	"github.com/sip2gate/sip2gate/sip2"
)

func newTestGateway(t *testing.T, branches map[string]BranchConfig, options ...GatewayOption) *Gateway {
	t.Helper()
	opts := append([]GatewayOption{
		WithGatewayBranches(branches),
		WithGatewayLocationCode("gateway-1"),
		WithGatewayMasterKey("0123456789abcdef0123456789abcdef"),
	}, options...)
	g, err := NewGateway(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGatewayPatronStatusEndToEnd(t *testing.T) {
	acs := fakes.NewACS(t, fakes.WithResponder(func(req fakes.Request) []fakes.Reply {
		if req.Code != "23" {
			return nil
		}
		body := "24" + strings.Repeat(" ", 14) + "001" + fakes.Stamp +
			"AOMAIN|AAVALID001|AEAlice Valid|BLY|BZ0001|CA0000|CB0003|"
		return []fakes.Reply{{Body: body}}
	}))
	g := newTestGateway(t, map[string]BranchConfig{"main": testBranch(acs)})

	rec, err := g.Manager().PatronStatus(context.Background(), "main", "VALID001", "")
	require.NoError(t, err)
	assert.Equal(t, "VALID001", rec.PatronBarcode)
	assert.Equal(t, "Alice Valid", rec.PatronName)
	assert.True(t, rec.ValidPatron)
	assert.Equal(t, 1, rec.HoldItemsCount)
	assert.Equal(t, 0, rec.OverdueItemsCount)
	assert.Equal(t, 3, rec.ChargedItemsCount)
	assert.False(t, rec.Flags.ChargePrivilegesDenied)
	assert.False(t, rec.Flags.CardReportedLost)
	assert.Empty(t, rec.Extensions)
}

func TestGatewayCheckoutRejectedForBlockedPatron(t *testing.T) {
	acs := fakes.NewACS(t, fakes.WithResponder(func(req fakes.Request) []fakes.Reply {
		if req.Code != "11" {
			return nil
		}
		body := "120NNY" + fakes.Stamp + "AOMAIN|AABLOCKED001|ABITEM789|AFPatron blocked|"
		return []fakes.Reply{{Body: body}}
	}))
	g := newTestGateway(t, map[string]BranchConfig{"main": testBranch(acs)})

	rec, err := g.Manager().Checkout(context.Background(), "main", "BLOCKED001", "ITEM789", "")
	require.NoError(t, err)
	assert.False(t, rec.Ok)
	require.Len(t, rec.ScreenMessages, 1)
	assert.Equal(t, "Patron blocked", rec.ScreenMessages[0])
}

func TestGatewayChecksumRejectionCountsOneFailure(t *testing.T) {
	acs := fakes.NewACS(t, fakes.WithResponder(func(req fakes.Request) []fakes.Reply {
		if req.Code != "09" {
			return nil
		}
		return []fakes.Reply{fakes.BadChecksum(fakes.CheckinBody("item-1"), req.Seq)}
	}))
	cfg := testBranch(acs)
	cfg.Profile = VendorProfile{Name: "strict", ChecksumRequired: true}
	g := newTestGateway(t, map[string]BranchConfig{"main": cfg})

	_, err := g.Manager().Checkin(context.Background(), "main", "item-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sip2.ErrChecksumMismatch))

	st := g.Manager().Status()
	require.Len(t, st, 1)
	assert.Equal(t, 1, st[0].Failures)
	assert.Equal(t, "closed", st[0].BreakerState)
}

func TestGatewayChecksumToleratedWithDashboardWarning(t *testing.T) {
	acs := fakes.NewACS(t, fakes.WithResponder(func(req fakes.Request) []fakes.Reply {
		if req.Code != "09" {
			return nil
		}
		return []fakes.Reply{fakes.BadChecksum(fakes.CheckinBody("item-1"), req.Seq)}
	}))
	g := newTestGateway(t, map[string]BranchConfig{"main": testBranch(acs)})

	warns := make(chan events.DashboardLine, 16)
	cancel := g.Bus().SubscribeDashboard(func(line events.DashboardLine) {
		if line.Level == "warn" {
			select {
			case warns <- line:
			default:
			}
		}
	})
	defer cancel()

	rec, err := g.Manager().Checkin(context.Background(), "main", "item-1")
	require.NoError(t, err)
	assert.True(t, rec.Ok)
	assert.Equal(t, "item-1", rec.ItemBarcode)

	select {
	case line := <-warns:
		assert.Contains(t, line.Message, "checksum")
	case <-time.After(2 * time.Second):
		t.Fatal("no dashboard warning for the tolerated checksum")
	}
}

func TestGatewayOpenCircuitFailsFastWithoutDialing(t *testing.T) {
	acs := fakes.NewACS(t, fakes.WithResponder(fakes.SwallowResponder()))
	cfg := testBranch(acs)
	cfg.Timeout = 150 * time.Millisecond
	g := newTestGateway(t, map[string]BranchConfig{"main": cfg})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.Manager().Checkin(ctx, "main", "item-1")
		require.Error(t, err, "attempt %d", i)
	}
	dialed := acs.Accepted()

	start := time.Now()
	_, err := g.Manager().Checkin(ctx, "main", "item-1")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Less(t, elapsed, 200*time.Millisecond)
	assert.Equal(t, dialed, acs.Accepted())
}

func TestGatewayTransactionLogWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "transactions.log")

	acs := fakes.NewACS(t)
	g := newTestGateway(t, map[string]BranchConfig{"main": testBranch(acs)},
		WithGatewayTransactionLog(events.TransactionLogConfig{File: logPath, MaxSizeMB: 5}))

	_, err := g.Manager().Checkin(context.Background(), "main", "item-1")
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var data []byte
	for time.Now().Before(deadline) {
		data, _ = os.ReadFile(logPath)
		if len(data) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotEmpty(t, data, "transaction log stayed empty")
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"action":"checkin"`)
	assert.Contains(t, line, `"branchId":"main"`)
	assert.Contains(t, line, "MASKED_")
	assert.NotContains(t, line, "item-1")
}

func TestGatewayReinitializePassthrough(t *testing.T) {
	acs1 := fakes.NewACS(t)
	acs2 := fakes.NewACS(t)
	g := newTestGateway(t, map[string]BranchConfig{"main": testBranch(acs1)})
	ctx := context.Background()

	_, err := g.Manager().Checkin(ctx, "main", "item-1")
	require.NoError(t, err)

	g.Reinitialize(map[string]BranchConfig{"east": testBranch(acs2)}, "gateway-2")

	_, err = g.Manager().Checkin(ctx, "main", "item-1")
	assert.True(t, errors.Is(err, ErrUnknownBranch))

	_, err = g.Manager().Checkin(ctx, "east", "item-1")
	require.NoError(t, err)
	assert.Equal(t, 1, acs2.Accepted())
}

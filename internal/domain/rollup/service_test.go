package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
)

func newTestAggregator(t *testing.T, entries []ledger.Entry) (*Aggregator, *fakeCatalog, *fakeCompletions, *clock.Mock) {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(testNow)

	catalog := &fakeCatalog{
		businesses: map[string]offer.Business{
			"biz-cafe":   {Ref: "biz-cafe", Active: true},
			"biz-bakery": {Ref: "biz-bakery", Active: true},
			"biz-closed": {Ref: "biz-closed", Active: false},
		},
		offers: []offer.Offer{
			{ID: "o1", BusinessRef: "biz-cafe", Status: offer.StatusActive},
			{ID: "o2", BusinessRef: "biz-cafe", Status: offer.StatusPaused},
			{ID: "o3", BusinessRef: "biz-bakery", Status: offer.StatusActive},
		},
	}
	completions := &fakeCompletions{at: map[string][]time.Time{}}
	return NewAggregator(&fakeEntries{entries: entries}, catalog, completions, clk), catalog, completions, clk
}

func TestOverviewPlatform(t *testing.T) {
	entries := []ledger.Entry{
		earn("e1", "alice", "biz-cafe", 10, testNow.Add(-2*time.Hour)),
		earn("e2", "bob", "biz-bakery", 5, testNow.Add(-10*24*time.Hour)),
		earn("e3", "carol", "biz-cafe", 7, testNow.Add(-40*24*time.Hour)),
		spend("s1", "alice", "biz-cafe", 6, testNow.Add(-time.Hour)),
	}
	agg, _, completions, _ := newTestAggregator(t, entries)
	completions.at["dave"] = []time.Time{testNow.Add(-3 * time.Hour)}
	completions.at["alice"] = []time.Time{testNow.Add(-5 * time.Hour)}
	completions.at["erin"] = []time.Time{testNow.Add(-50 * 24 * time.Hour)}

	day, err := agg.Overview(context.Background(), Scope{}, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, "platform", day.Scope)
	require.Equal(t, "1d", day.Window)
	require.Equal(t, testNow, day.To)
	require.Equal(t, testNow.Add(-24*time.Hour), day.From)
	require.Equal(t, int64(22), day.Minted.Total)
	require.Equal(t, int64(10), day.Minted.Windowed)
	require.Equal(t, int64(6), day.Retired.Total)
	require.Equal(t, int64(6), day.Retired.Windowed)
	require.Equal(t, testNow.Add(-time.Hour), *day.Retired.LastEventAt)
	// alice earned, dave completed a task; alice is counted once
	require.Equal(t, int64(2), day.ActiveParticipants)
	require.Equal(t, int64(2), day.Businesses)
	require.Equal(t, int64(2), day.Offers)

	month, err := agg.Overview(context.Background(), Scope{}, DefaultWindow)
	require.NoError(t, err)
	require.Equal(t, int64(15), month.Minted.Windowed)
	require.Equal(t, int64(3), month.ActiveParticipants)
	require.Equal(t, day.Minted.Total, month.Minted.Total)
}

func TestOverviewBusinessScope(t *testing.T) {
	entries := []ledger.Entry{
		earn("e1", "alice", "biz-cafe", 10, testNow.Add(-2*time.Hour)),
		earn("e2", "bob", "biz-bakery", 5, testNow.Add(-3*time.Hour)),
		earn("e3", "nobiz", "", 100, testNow.Add(-3*time.Hour)),
		spend("s1", "alice", "biz-cafe", 6, testNow.Add(-time.Hour)),
	}
	agg, _, completions, _ := newTestAggregator(t, entries)
	completions.at["dave"] = []time.Time{testNow.Add(-3 * time.Hour)}

	out, err := agg.Overview(context.Background(), Scope{BusinessRef: "biz-cafe"}, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, "business:biz-cafe", out.Scope)
	require.Equal(t, int64(10), out.Minted.Windowed)
	require.Equal(t, int64(6), out.Retired.Windowed)
	require.Equal(t, int64(1), out.ActiveParticipants)
	require.Equal(t, int64(1), out.Businesses)
	require.Equal(t, int64(1), out.Offers)

	_, err = agg.Overview(context.Background(), Scope{BusinessRef: "biz-unknown"}, 24*time.Hour)
	require.ErrorIs(t, err, ErrScopeNotFound)
}

func TestOverviewFollowsClock(t *testing.T) {
	entries := []ledger.Entry{earn("e1", "alice", "biz-cafe", 10, testNow.Add(-2*time.Hour))}
	agg, _, _, clk := newTestAggregator(t, entries)

	out, err := agg.Overview(context.Background(), Scope{}, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(10), out.Minted.Windowed)

	clk.Add(23 * time.Hour)
	out, err = agg.Overview(context.Background(), Scope{}, 24*time.Hour)
	require.NoError(t, err)
	require.Zero(t, out.Minted.Windowed)
	require.Equal(t, int64(10), out.Minted.Total)
	require.Zero(t, out.ActiveParticipants)
}

func TestReconcileCounters(t *testing.T) {
	entries := []ledger.Entry{
		earn("e1", "alice", "biz-cafe", 12, testNow.Add(-2*time.Hour)),
		earn("e2", "bob", "biz-cafe", 4, testNow.Add(-time.Hour)),
		spend("s1", "alice", "biz-cafe", 10, testNow.Add(-30*time.Minute)),
		earn("e3", "bob", "biz-bakery", 5, testNow.Add(-3*time.Hour)),
	}
	agg, catalog, _, _ := newTestAggregator(t, entries)

	n, err := agg.ReconcileCounters(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)

	cafe := catalog.counters["biz-cafe"]
	require.Equal(t, int64(16), cafe.MintedEco)
	require.Equal(t, int64(10), cafe.EcoRetiredTotal)
	require.Equal(t, int64(1), cafe.Redemptions)
	require.Equal(t, int64(2), cafe.ClaimsCount)

	require.Equal(t, int64(5), catalog.counters["biz-bakery"].MintedEco)
	require.Equal(t, offer.Counters{}, catalog.counters["biz-closed"])
}

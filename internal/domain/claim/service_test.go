package claim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
	"github.com/ecolocal/eco-api/internal/pkg/geofence"
)

type fakeCatalog struct {
	codes  map[string]offer.Resolved
	offers []offer.Offer

	mu     sync.Mutex
	bumped map[string]offer.CounterDelta
}

func (f *fakeCatalog) ResolveCode(_ context.Context, code string) (*offer.Resolved, error) {
	res, ok := f.codes[code]
	if !ok || !res.Code.Active || !res.Business.Active {
		return nil, offer.ErrCodeNotFound
	}
	return &res, nil
}

func (f *fakeCatalog) ListAvailable(_ context.Context, ref string, now time.Time) ([]offer.Offer, error) {
	out := make([]offer.Offer, 0)
	for _, o := range f.offers {
		if o.BusinessRef == ref && o.Available(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeCatalog) BumpCounters(_ context.Context, ref string, d offer.CounterDelta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bumped == nil {
		f.bumped = make(map[string]offer.CounterDelta)
	}
	cur := f.bumped[ref]
	cur.Minted += d.Minted
	cur.Claims += d.Claims
	f.bumped[ref] = cur
	return nil
}

type fakeLedger struct {
	mu      sync.Mutex
	entries map[string]ledger.Entry
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]ledger.Entry)}
}

func (f *fakeLedger) Append(_ context.Context, e *ledger.Entry) (ledger.AppendResult, error) {
	e.Normalize()
	if err := e.Validate(); err != nil {
		return ledger.AppendResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.entries[e.ID]; ok {
		if existing.Fingerprint != e.Fingerprint {
			return ledger.AppendResult{}, ledger.ErrConflict
		}
		return ledger.AppendResult{ID: e.ID}, nil
	}
	f.entries[e.ID] = *e
	return ledger.AppendResult{ID: e.ID, Created: true}, nil
}

func (f *fakeLedger) Get(_ context.Context, id string) (*ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	return &e, nil
}

func (f *fakeLedger) QueryByActor(_ context.Context, actorRef string, _ ledger.Query) ([]ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.Entry, 0)
	for _, e := range f.entries {
		if e.ActorRef == actorRef {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLedger) Balance(ctx context.Context, actorRef string) (int64, error) {
	entries, _ := f.QueryByActor(ctx, actorRef, ledger.Query{})
	return ledger.Fold(entries), nil
}

func (f *fakeLedger) seed(t *testing.T, id, actor string, amount int64) {
	t.Helper()
	_, err := f.Append(context.Background(), &ledger.Entry{ID: id, ActorRef: actor, Amount: amount, Kind: ledger.KindMintAction})
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }

// metresNorth is the latitude offset of d metres from the equator.
func metresNorth(d float64) float64 {
	return d / (geofence.EarthRadiusMeters * 3.141592653589793 / 180)
}

func newFixture(t *testing.T) (*Service, *fakeCatalog, *fakeLedger, *clock.Mock) {
	t.Helper()
	cat := &fakeCatalog{
		codes: map[string]offer.Resolved{
			"CAFE-QR": {
				Code:     offer.ScanCode{Code: "CAFE-QR", BusinessRef: "cafe", Active: true, AnchorLat: ptr(0.0), AnchorLng: ptr(0.0), GeofenceRadiusM: ptr(150.0)},
				Business: offer.Business{Ref: "cafe", Active: true, PledgeTier: offer.TierStarter},
			},
			"OPEN-QR": {
				Code:     offer.ScanCode{Code: "OPEN-QR", BusinessRef: "open", Active: true},
				Business: offer.Business{Ref: "open", Active: true, PledgeTier: offer.TierLeader},
			},
			"OFF-QR": {
				Code:     offer.ScanCode{Code: "OFF-QR", BusinessRef: "cafe", Active: false},
				Business: offer.Business{Ref: "cafe", Active: true},
			},
		},
		offers: []offer.Offer{
			{ID: "coffee", BusinessRef: "cafe", Title: "Coffee", EcoPrice: 12, Status: offer.StatusActive},
			{ID: "lunch", BusinessRef: "cafe", Title: "Lunch", EcoPrice: 20, Status: offer.StatusActive},
			{ID: "gone", BusinessRef: "cafe", Title: "Gone", EcoPrice: 1, Status: offer.StatusActive, Stock: ptr(int64(0))},
		},
	}
	l := newFakeLedger()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))

	svc := NewService(cat, l, clk, Config{DefaultRadiusM: 150, SeasonMultiplier: 1})
	return svc, cat, l, clk
}

func TestProcessGeofenceScenario(t *testing.T) {
	svc, _, l, _ := newFixture(t)
	l.seed(t, "m1", "alice", 15)
	ctx := context.Background()

	far := &geofence.Point{Lat: metresNorth(200), Lng: 0}
	cc, err := svc.Process(ctx, "alice", "CAFE-QR", far)
	require.NoError(t, err)
	require.False(t, cc.OK)
	require.Equal(t, ReasonGeofence, cc.Reason)
	require.EqualValues(t, 15, cc.Balance)
	require.Empty(t, cc.Offers)

	near := &geofence.Point{Lat: metresNorth(100), Lng: 0}
	cc, err = svc.Process(ctx, "alice", "CAFE-QR", near)
	require.NoError(t, err)
	require.True(t, cc.OK)
	require.Len(t, cc.Offers, 2)

	affordable := map[string]bool{}
	for _, o := range cc.Offers {
		affordable[o.ID] = o.CanClaim
	}
	require.Equal(t, map[string]bool{"coffee": true, "lunch": false}, affordable)
}

func TestProcessWithoutPositionSkipsGeofence(t *testing.T) {
	svc, _, _, _ := newFixture(t)

	cc, err := svc.Process(context.Background(), "bob", "CAFE-QR", nil)
	require.NoError(t, err)
	require.True(t, cc.OK)
	require.Zero(t, cc.Balance)
	for _, o := range cc.Offers {
		require.False(t, o.CanClaim)
	}
}

func TestProcessUnknownOrInactiveCode(t *testing.T) {
	svc, _, _, _ := newFixture(t)

	for _, code := range []string{"NOPE", "OFF-QR"} {
		_, err := svc.Process(context.Background(), "alice", code, nil)
		require.True(t, errors.Is(err, ErrNotFound), code)
	}
}

func TestVisitFirstThenCooldownThenReturn(t *testing.T) {
	svc, cat, l, clk := newFixture(t)
	ctx := context.Background()

	first, err := svc.Visit(ctx, "alice", "CAFE-QR", nil)
	require.NoError(t, err)
	require.True(t, first.FirstVisit)
	require.EqualValues(t, 18, first.Amount)
	require.EqualValues(t, 18, first.Balance)

	clk.Add(time.Hour)
	_, err = svc.Visit(ctx, "alice", "CAFE-QR", nil)
	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	require.Equal(t, first.EntryID, cooldown.EntryID)
	require.True(t, errors.Is(err, ErrCooldown))

	clk.Add(24 * time.Hour)
	second, err := svc.Visit(ctx, "alice", "CAFE-QR", nil)
	require.NoError(t, err)
	require.False(t, second.FirstVisit)
	require.EqualValues(t, 4, second.Amount)
	require.EqualValues(t, 22, second.Balance)

	entry, err := l.Get(ctx, second.EntryID)
	require.NoError(t, err)
	require.Equal(t, "cafe", *entry.CounterpartyRef)
	require.Equal(t, ledger.SourceVisit, *entry.Source)

	require.EqualValues(t, 22, cat.bumped["cafe"].Minted)
	require.EqualValues(t, 2, cat.bumped["cafe"].Claims)
}

func TestVisitDailyCap(t *testing.T) {
	svc, cat, _, clk := newFixture(t)
	res := cat.codes["OPEN-QR"]
	res.Code.CooldownHours = ptr(int64(1))
	cat.codes["OPEN-QR"] = res
	ctx := context.Background()

	first, err := svc.Visit(ctx, "alice", "OPEN-QR", nil)
	require.NoError(t, err)
	require.EqualValues(t, 23, first.Amount)

	clk.Add(2 * time.Hour)
	_, err = svc.Visit(ctx, "alice", "OPEN-QR", nil)
	require.True(t, errors.Is(err, ErrDailyCap))
}

func TestVisitCooldownRunsFromLastScan(t *testing.T) {
	svc, cat, _, clk := newFixture(t)
	res := cat.codes["OPEN-QR"]
	res.Code.CooldownHours = ptr(int64(1))
	res.Code.DailyCap = ptr(int64(3))
	cat.codes["OPEN-QR"] = res
	ctx := context.Background()

	clk.Add(55 * time.Minute)
	first, err := svc.Visit(ctx, "alice", "OPEN-QR", nil)
	require.NoError(t, err)
	scannedAt := clk.Now().UTC()

	// crosses the hourly window edge but not the cooldown
	clk.Add(10 * time.Minute)
	_, err = svc.Visit(ctx, "alice", "OPEN-QR", nil)
	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	require.Equal(t, first.EntryID, cooldown.EntryID)
	require.Equal(t, scannedAt.Add(time.Hour), cooldown.Until)

	clk.Add(50 * time.Minute)
	second, err := svc.Visit(ctx, "alice", "OPEN-QR", nil)
	require.NoError(t, err)
	require.NotEqual(t, first.EntryID, second.EntryID)
}

func TestVisitOutsideGeofence(t *testing.T) {
	svc, _, _, _ := newFixture(t)

	_, err := svc.Visit(context.Background(), "alice", "CAFE-QR", &geofence.Point{Lat: metresNorth(200)})
	require.True(t, errors.Is(err, ErrGeofence))
}

func TestConcurrentVisitsMintOnce(t *testing.T) {
	svc, _, l, _ := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Visit(ctx, "alice", "CAFE-QR", nil)
			if err != nil && !errors.Is(err, ErrCooldown) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 18, balance)
}

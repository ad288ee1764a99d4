package rollup

import (
	"context"
	"errors"
	"time"

	"github.com/raulk/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
)

// EntrySource is the ledger read side rollups sum over. Platform sums are
// aggregated by the store; a business's entries are folded here.
type EntrySource interface {
	PlatformTotals(ctx context.Context, from, to time.Time) (*ledger.Totals, error)
	QueryByCounterparty(ctx context.Context, counterpartyRef string, q ledger.Query) ([]ledger.Entry, error)
}

// Catalog provides current business and offer state.
type Catalog interface {
	GetBusiness(ctx context.Context, ref string) (*offer.Business, error)
	ListBusinessRefs(ctx context.Context) ([]string, error)
	CountActiveBusinesses(ctx context.Context, businessRef string) (int64, error)
	CountActiveOffers(ctx context.Context, businessRef string) (int64, error)
	SetCounters(ctx context.Context, ref string, c offer.Counters) error
}

// Completions lists actors with an approved task completion in [from, to).
type Completions interface {
	ActiveCompleters(ctx context.Context, from, to time.Time) ([]string, error)
}

// Aggregator computes windowed stats from the ledger.
type Aggregator struct {
	entries     EntrySource
	catalog     Catalog
	completions Completions
	clock       clock.Clock
}

// NewAggregator wires the aggregator. completions may be nil.
func NewAggregator(entries EntrySource, catalog Catalog, completions Completions, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.New()
	}
	return &Aggregator{entries: entries, catalog: catalog, completions: completions, clock: clk}
}

// Overview sums minted and retired ECO for scope over [now-window, now)
// and over all time.
func (a *Aggregator) Overview(ctx context.Context, scope Scope, window time.Duration) (*Overview, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	if !scope.IsPlatform() {
		if _, err := a.catalog.GetBusiness(ctx, scope.BusinessRef); err != nil {
			if errors.Is(err, offer.ErrBusinessNotFound) {
				return nil, ErrScopeNotFound
			}
			return nil, err
		}
	}

	to := a.clock.Now().UTC()
	from := to.Add(-window)
	acc := newAccumulator(from, to)
	out := &Overview{
		Scope:  scope.String(),
		Window: formatWindow(window),
		From:   from,
		To:     to,
	}

	var completers []string
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.sumEntries(gctx, scope, acc)
	})
	g.Go(func() error {
		n, err := a.catalog.CountActiveBusinesses(gctx, scope.BusinessRef)
		out.Businesses = n
		return err
	})
	g.Go(func() error {
		n, err := a.catalog.CountActiveOffers(gctx, scope.BusinessRef)
		out.Offers = n
		return err
	})
	if scope.IsPlatform() && a.completions != nil {
		g.Go(func() error {
			refs, err := a.completions.ActiveCompleters(gctx, from, to)
			completers = refs
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	acc.markActive(completers)
	out.Minted = acc.minted
	out.Retired = acc.retired
	out.ActiveParticipants = int64(len(acc.active))
	return out, nil
}

func (a *Aggregator) sumEntries(ctx context.Context, scope Scope, acc *accumulator) error {
	if scope.IsPlatform() {
		t, err := a.entries.PlatformTotals(ctx, acc.from, acc.to)
		if err != nil {
			return err
		}
		acc.minted = Series{Total: t.Minted.Total, Windowed: t.Minted.Windowed, LastEventAt: t.Minted.LastAt}
		acc.retired = Series{Total: t.Retired.Total, Windowed: t.Retired.Windowed, LastEventAt: t.Retired.LastAt}
		acc.markActive(t.ActiveEarners)
		return nil
	}

	entries, err := a.entries.QueryByCounterparty(ctx, scope.BusinessRef, ledger.Settled(rollupKinds...))
	if err != nil {
		return err
	}
	for _, e := range entries {
		acc.add(e)
	}
	return nil
}

// ReconcileCounters rewrites every business's denormalized counters from
// the ledger and returns how many were updated.
func (a *Aggregator) ReconcileCounters(ctx context.Context) (int, error) {
	refs, err := a.catalog.ListBusinessRefs(ctx)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ref := range refs {
		g.Go(func() error {
			return a.reconcileBusiness(gctx, ref)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(refs), nil
}

func (a *Aggregator) reconcileBusiness(ctx context.Context, ref string) error {
	entries, err := a.entries.QueryByCounterparty(ctx, ref, ledger.Settled(rollupKinds...))
	if err != nil {
		return err
	}

	c := countersFrom(entries)
	if err := a.catalog.SetCounters(ctx, ref, c); err != nil {
		return err
	}

	log.Debug().
		Str("business_ref", ref).
		Int64("minted", c.MintedEco).
		Int64("retired", c.EcoRetiredTotal).
		Msg("business counters reconciled")
	return nil
}

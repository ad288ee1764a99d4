package rollup

import (
	"time"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
)

// rollupKinds are the kinds that can mint or retire ECO.
var rollupKinds = []ledger.Kind{ledger.KindMintAction, ledger.KindBurnReward, ledger.KindContribute}

// accumulator folds settled entries into minted/retired series over
// [from, to) on the entry's effective time.
type accumulator struct {
	from, to time.Time
	minted   Series
	retired  Series
	active   map[string]struct{}
}

func newAccumulator(from, to time.Time) *accumulator {
	return &accumulator{from: from, to: to, active: make(map[string]struct{})}
}

func (a *accumulator) inWindow(at time.Time) bool {
	return !at.Before(a.from) && at.Before(a.to)
}

func (a *accumulator) add(e ledger.Entry) {
	at := e.EffectiveTime()
	in := a.inWindow(at)

	switch {
	case e.IsEarn():
		a.minted.add(e.Amount, at, in)
		if in {
			a.active[e.ActorRef] = struct{}{}
		}
	case e.IsRetire():
		a.retired.add(e.Amount, at, in)
	}
}

// markActive counts actors active through another source in the window.
func (a *accumulator) markActive(actors []string) {
	for _, ref := range actors {
		a.active[ref] = struct{}{}
	}
}

// countersFrom recomputes a business's denormalized counters from the
// entries it is counterparty of.
func countersFrom(entries []ledger.Entry) offer.Counters {
	var c offer.Counters
	for _, e := range entries {
		switch {
		case e.IsEarn():
			c.MintedEco += e.Amount
			if e.Source != nil && *e.Source == ledger.SourceVisit {
				c.ClaimsCount++
			}
		case e.IsRetire():
			c.EcoRetiredTotal += e.Amount
			if e.Kind == ledger.KindBurnReward {
				c.Redemptions++
			}
		default:
			continue
		}

		at := e.EffectiveTime()
		if c.LastTxAt == nil || at.After(*c.LastTxAt) {
			c.LastTxAt = &at
		}
	}
	return c
}

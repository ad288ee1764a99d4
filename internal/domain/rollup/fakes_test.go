package rollup

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
)

type fakeEntries struct {
	entries       []ledger.Entry
	platformReads int
}

func (f *fakeEntries) matching(q ledger.Query, keep func(ledger.Entry) bool) []ledger.Entry {
	kinds := map[ledger.Kind]bool{}
	for _, k := range q.Kinds {
		kinds[k] = true
	}
	out := make([]ledger.Entry, 0)
	for _, e := range f.entries {
		if len(kinds) > 0 && !kinds[e.Kind] {
			continue
		}
		if len(q.Statuses) > 0 && e.Status != ledger.StatusSettled {
			continue
		}
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveTime().Before(out[j].EffectiveTime())
	})
	return out
}

func (f *fakeEntries) PlatformTotals(_ context.Context, from, to time.Time) (*ledger.Totals, error) {
	f.platformReads++
	acc := newAccumulator(from, to)
	for _, e := range f.matching(ledger.Settled(rollupKinds...), func(ledger.Entry) bool { return true }) {
		acc.add(e)
	}
	t := &ledger.Totals{
		Minted:  ledger.Sum{Total: acc.minted.Total, Windowed: acc.minted.Windowed, LastAt: acc.minted.LastEventAt},
		Retired: ledger.Sum{Total: acc.retired.Total, Windowed: acc.retired.Windowed, LastAt: acc.retired.LastEventAt},
	}
	for actor := range acc.active {
		t.ActiveEarners = append(t.ActiveEarners, actor)
	}
	return t, nil
}

func (f *fakeEntries) QueryByCounterparty(_ context.Context, ref string, q ledger.Query) ([]ledger.Entry, error) {
	return f.matching(q, func(e ledger.Entry) bool {
		return e.CounterpartyRef != nil && *e.CounterpartyRef == ref
	}), nil
}

type fakeCatalog struct {
	businesses map[string]offer.Business
	offers     []offer.Offer

	mu       sync.Mutex
	counters map[string]offer.Counters
}

func (f *fakeCatalog) GetBusiness(_ context.Context, ref string) (*offer.Business, error) {
	b, ok := f.businesses[ref]
	if !ok {
		return nil, offer.ErrBusinessNotFound
	}
	return &b, nil
}

func (f *fakeCatalog) ListBusinessRefs(context.Context) ([]string, error) {
	refs := make([]string, 0, len(f.businesses))
	for ref := range f.businesses {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

func (f *fakeCatalog) CountActiveBusinesses(_ context.Context, ref string) (int64, error) {
	var n int64
	for _, b := range f.businesses {
		if b.Active && (ref == "" || b.Ref == ref) {
			n++
		}
	}
	return n, nil
}

func (f *fakeCatalog) CountActiveOffers(_ context.Context, ref string) (int64, error) {
	var n int64
	for _, o := range f.offers {
		if o.Status == offer.StatusActive && (ref == "" || o.BusinessRef == ref) {
			n++
		}
	}
	return n, nil
}

func (f *fakeCatalog) SetCounters(_ context.Context, ref string, c offer.Counters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counters == nil {
		f.counters = make(map[string]offer.Counters)
	}
	f.counters[ref] = c
	return nil
}

type fakeCompletions struct {
	at map[string][]time.Time
}

func (f *fakeCompletions) ActiveCompleters(_ context.Context, from, to time.Time) ([]string, error) {
	out := make([]string, 0)
	for ref, times := range f.at {
		for _, t := range times {
			if !t.Before(from) && t.Before(to) {
				out = append(out, ref)
				break
			}
		}
	}
	return out, nil
}

type memSnapshots struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memSnapshots) Put(_ context.Context, key string, r io.Reader, _ string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[key] = buf.Bytes()
	return nil
}

type fakeExpirer struct {
	calls atomic.Int32
}

func (f *fakeExpirer) ExpireVouchers(context.Context) (int64, error) {
	f.calls.Add(1)
	return 2, nil
}

func at(t time.Time) *time.Time { return &t }

func earn(id, actor, biz string, amount int64, when time.Time) ledger.Entry {
	e := ledger.Entry{
		ID: id, ActorRef: actor, Amount: amount,
		Kind: ledger.KindMintAction, OccurredAt: at(when),
		Source: ledger.Ref(ledger.SourceVisit),
	}
	if biz != "" {
		e.CounterpartyRef = ledger.Ref(biz)
	}
	e.Normalize()
	return e
}

func spend(id, actor, biz string, amount int64, when time.Time) ledger.Entry {
	e := ledger.Entry{
		ID: id, ActorRef: actor, Amount: amount,
		Kind: ledger.KindBurnReward, OccurredAt: at(when),
		CounterpartyRef: ledger.Ref(biz),
	}
	e.Normalize()
	return e
}

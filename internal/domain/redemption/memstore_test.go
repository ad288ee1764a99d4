package redemption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
)

type memState struct {
	entries  map[string]ledger.Entry
	offers   map[string]offer.LockedOffer
	receipts map[string]Receipt
	vouchers map[string]Voucher
	counters map[string]offer.CounterDelta
}

func (s memState) clone() memState {
	c := memState{
		entries:  make(map[string]ledger.Entry, len(s.entries)),
		offers:   make(map[string]offer.LockedOffer, len(s.offers)),
		receipts: make(map[string]Receipt, len(s.receipts)),
		vouchers: make(map[string]Voucher, len(s.vouchers)),
		counters: make(map[string]offer.CounterDelta, len(s.counters)),
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.offers {
		if v.Stock != nil {
			stock := *v.Stock
			v.Stock = &stock
		}
		c.offers[k] = v
	}
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	for k, v := range s.vouchers {
		c.vouchers[k] = v
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	return c
}

// memStore serializes units of work behind one mutex and applies each
// unit's writes only when it succeeds.
type memStore struct {
	mu    sync.Mutex
	state memState

	contentionLeft int
	failNext       []error
	failAt         string
	beforeCommit   func()
	attempts       int
}

func newMemStore() *memStore {
	return &memStore{state: memState{}.clone()}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.contentionLeft > 0 {
		m.contentionLeft--
		return fmt.Errorf("%w: serialization failure", ErrContention)
	}
	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		return err
	}

	work := m.state.clone()
	if err := fn(ctx, &memTx{state: work, failAt: m.failAt}); err != nil {
		return err
	}
	if m.beforeCommit != nil {
		m.beforeCommit()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) seedOffer(o offer.LockedOffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.offers[o.ID] = o
}

func (m *memStore) seedEntry(e ledger.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Normalize()
	m.state.entries[e.ID] = e
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) balance(actorRef string) int64 {
	s := m.snapshot()
	entries := make([]ledger.Entry, 0)
	for _, e := range s.entries {
		if e.ActorRef == actorRef {
			entries = append(entries, e)
		}
	}
	return ledger.Fold(entries)
}

func (m *memStore) GetVoucher(_ context.Context, code string) (*Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state.vouchers[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *memStore) MarkVerified(_ context.Context, code string, at time.Time) (*Voucher, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state.vouchers[code]
	if !ok || v.Status != VoucherIssued || at.After(v.ExpiresAt) {
		return nil, false, nil
	}
	v.Status = VoucherVerified
	v.VerifiedAt = &at
	m.state.vouchers[code] = v
	return &v, true, nil
}

func (m *memStore) MarkConsumed(_ context.Context, code string, at time.Time) (*Voucher, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state.vouchers[code]
	if !ok || !v.Open() || at.After(v.ExpiresAt) {
		return nil, false, nil
	}
	v.Status = VoucherConsumed
	v.ConsumedAt = &at
	m.state.vouchers[code] = v
	return &v, true, nil
}

func (m *memStore) ExpireIssued(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for code, v := range m.state.vouchers {
		if v.Open() && now.After(v.ExpiresAt) {
			v.Status = VoucherExpired
			m.state.vouchers[code] = v
			n++
		}
	}
	return n, nil
}

var errInjected = errors.New("injected failure")

type memTx struct {
	state  memState
	failAt string
}

func (t *memTx) fail(step string) error {
	if t.failAt == step {
		return errInjected
	}
	return nil
}

func (t *memTx) LockActor(context.Context, string) error { return t.fail("LockActor") }

func (t *memTx) Receipt(_ context.Context, actorRef, key string) (*Receipt, error) {
	rec, ok := t.state.receipts[actorRef+"|"+key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (t *memTx) LockOffer(_ context.Context, id string) (*offer.LockedOffer, error) {
	o, ok := t.state.offers[id]
	if !ok {
		return nil, offer.ErrOfferNotFound
	}
	return &o, nil
}

func (t *memTx) ActorEntries(_ context.Context, actorRef string) ([]ledger.Entry, error) {
	out := make([]ledger.Entry, 0)
	for _, e := range t.state.entries {
		if e.ActorRef == actorRef {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) ConsumeUnit(_ context.Context, id string) error {
	o := t.state.offers[id]
	if o.Stock != nil {
		stock := *o.Stock - 1
		o.Stock = &stock
	}
	o.Claims++
	t.state.offers[id] = o
	return t.fail("ConsumeUnit")
}

func (t *memTx) AppendEntry(_ context.Context, e *ledger.Entry) (bool, error) {
	if _, ok := t.state.entries[e.ID]; ok {
		return false, nil
	}
	t.state.entries[e.ID] = *e
	return true, t.fail("AppendEntry")
}

func (t *memTx) IssueVoucher(_ context.Context, v *Voucher) error {
	v.CreatedAt = time.Now()
	t.state.vouchers[v.Code] = *v
	return t.fail("IssueVoucher")
}

func (t *memTx) SaveReceipt(_ context.Context, r *Receipt) error {
	t.state.receipts[r.ActorRef+"|"+r.IdempotencyKey] = *r
	return t.fail("SaveReceipt")
}

func (t *memTx) BumpCounters(_ context.Context, ref string, d offer.CounterDelta) error {
	c := t.state.counters[ref]
	c.Retired += d.Retired
	c.Redemptions += d.Redemptions
	t.state.counters[ref] = c
	return t.fail("BumpCounters")
}

type recordingInvalidator struct {
	mu     sync.Mutex
	actors []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, actorRef string) {
	r.mu.Lock()
	r.actors = append(r.actors, actorRef)
	r.mu.Unlock()
}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify(context.Context) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

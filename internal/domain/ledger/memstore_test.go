package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same idempotency rules as Repository.
type memStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	reads   int
	now     func() time.Time
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]Entry), now: time.Now}
}

func (m *memStore) Append(_ context.Context, e *Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[e.ID]; ok {
		if existing.Fingerprint != e.Fingerprint {
			return false, ErrConflict
		}
		return false, nil
	}
	e.CreatedAt = m.now()
	m.entries[e.ID] = *e
	return true, nil
}

func (m *memStore) Get(_ context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &e, nil
}

func (m *memStore) QueryByActor(_ context.Context, actorRef string, q Query) ([]Entry, error) {
	return m.filter(q, func(e Entry) bool { return e.ActorRef == actorRef }), nil
}

func (m *memStore) QueryByCounterparty(_ context.Context, ref string, q Query) ([]Entry, error) {
	return m.filter(q, func(e Entry) bool { return deref(e.CounterpartyRef) == ref }), nil
}

func (m *memStore) SetStatus(_ context.Context, id string, to Status) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if e.Status == to {
		return &e, nil
	}
	if e.Status != StatusPending || (to != StatusSettled && to != StatusFailed) {
		return nil, ErrInvalidTransition
	}
	e.Status = to
	m.entries[id] = e
	return &e, nil
}

func (m *memStore) filter(q Query, match func(Entry) bool) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	out := make([]Entry, 0)
	for _, e := range m.entries {
		if !match(e) || !matchesQuery(e, q) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].EffectiveTime(), out[j].EffectiveTime()
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.Before(tj)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (m *memStore) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func matchesQuery(e Entry, q Query) bool {
	if len(q.Kinds) > 0 && !containsKind(q.Kinds, e.Kind) {
		return false
	}
	if len(q.Statuses) > 0 {
		found := false
		for _, s := range q.Statuses {
			if s == e.Status {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	t := e.EffectiveTime()
	if q.From != nil && t.Before(*q.From) {
		return false
	}
	if q.To != nil && !t.Before(*q.To) {
		return false
	}
	return true
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func mint(id, actor string, amount int64) *Entry {
	return &Entry{ID: id, ActorRef: actor, Amount: amount, Kind: KindMintAction}
}

func burn(id, actor string, amount int64) *Entry {
	return &Entry{ID: id, ActorRef: actor, Amount: amount, Kind: KindBurnReward}
}

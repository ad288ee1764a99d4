package ledger

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ecolocal/eco-api/internal/pkg/metrics"
)

// balanceKinds are the only kinds that move a balance.
var balanceKinds = []Kind{KindMintAction, KindBurnReward, KindContribute}

// Fold derives a balance from entries. Entries that are not settled, or whose
// kind does not move balances, contribute nothing.
func Fold(entries []Entry) int64 {
	var balance int64
	for _, e := range entries {
		balance += e.Delta()
	}
	return balance
}

// BalanceQuery selects the entries Fold needs.
func BalanceQuery() Query {
	return Settled(balanceKinds...)
}

// EntryReader is the read side the balance engine replays from.
type EntryReader interface {
	QueryByActor(ctx context.Context, actorRef string, q Query) ([]Entry, error)
}

// Cache stores derived balances. It is never authoritative. A fill
// carries the generation read before the replay and is dropped if an
// invalidation happened since.
type Cache interface {
	Get(ctx context.Context, actorRef string) (int64, bool, error)
	Generation(ctx context.Context, actorRef string) (uint64, error)
	Fill(ctx context.Context, actorRef string, gen uint64, balance int64) (bool, error)
	Invalidate(ctx context.Context, actorRef string) error
}

// BalanceEngine answers balance reads from the cache or by replaying the fold.
type BalanceEngine struct {
	reader EntryReader
	cache  Cache
}

// NewBalanceEngine creates an engine. cache may be nil.
func NewBalanceEngine(reader EntryReader, cache Cache) *BalanceEngine {
	return &BalanceEngine{reader: reader, cache: cache}
}

// BalanceOf returns the actor's spendable balance. Unknown actors have 0.
func (b *BalanceEngine) BalanceOf(ctx context.Context, actorRef string) (int64, error) {
	if b.cache == nil {
		return b.Replay(ctx, actorRef)
	}

	balance, ok, err := b.cache.Get(ctx, actorRef)
	switch {
	case err != nil:
		metrics.BalanceCache.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("actor_ref", actorRef).Msg("balance cache read failed")
		return b.Replay(ctx, actorRef)
	case ok:
		metrics.BalanceCache.WithLabelValues("hit").Inc()
		return balance, nil
	}
	metrics.BalanceCache.WithLabelValues("miss").Inc()

	gen, err := b.cache.Generation(ctx, actorRef)
	if err != nil {
		log.Warn().Err(err).Str("actor_ref", actorRef).Msg("balance cache generation read failed")
		return b.Replay(ctx, actorRef)
	}
	balance, err = b.Replay(ctx, actorRef)
	if err != nil {
		return 0, err
	}
	b.fill(ctx, actorRef, gen, balance)
	return balance, nil
}

// Replay folds the actor's settled entries, bypassing the cache.
func (b *BalanceEngine) Replay(ctx context.Context, actorRef string) (int64, error) {
	entries, err := b.reader.QueryByActor(ctx, actorRef, BalanceQuery())
	if err != nil {
		return 0, err
	}
	return Fold(entries), nil
}

// Reconcile drops the cached value, replays the fold and caches the result.
func (b *BalanceEngine) Reconcile(ctx context.Context, actorRef string) (int64, error) {
	if b.cache == nil {
		return b.Replay(ctx, actorRef)
	}
	if err := b.cache.Invalidate(ctx, actorRef); err != nil {
		return 0, err
	}
	gen, err := b.cache.Generation(ctx, actorRef)
	if err != nil {
		return 0, err
	}
	balance, err := b.Replay(ctx, actorRef)
	if err != nil {
		return 0, err
	}
	if _, err := b.cache.Fill(ctx, actorRef, gen, balance); err != nil {
		return balance, err
	}
	return balance, nil
}

// Invalidate drops the cached balance. Call after every write touching actorRef.
func (b *BalanceEngine) Invalidate(ctx context.Context, actorRef string) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Invalidate(ctx, actorRef); err != nil {
		log.Warn().Err(err).Str("actor_ref", actorRef).Msg("balance cache invalidation failed")
	}
}

func (b *BalanceEngine) fill(ctx context.Context, actorRef string, gen uint64, balance int64) {
	stored, err := b.cache.Fill(ctx, actorRef, gen, balance)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("actor_ref", actorRef).Msg("balance cache write failed")
	case !stored:
		// a write landed during the replay
		metrics.BalanceCache.WithLabelValues("stale").Inc()
	}
}

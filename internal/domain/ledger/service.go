package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ecolocal/eco-api/internal/pkg/metrics"
)

// Service is the ledger entry point for handlers and other domains.
type Service struct {
	store    Store
	balances *BalanceEngine
}

func NewService(store Store, balances *BalanceEngine) *Service {
	return &Service{store: store, balances: balances}
}

// Balances exposes the engine for domains that read balances.
func (s *Service) Balances() *BalanceEngine {
	return s.balances
}

// Append normalizes, validates and idempotently stores e. Debits are
// refused in any status; they are written only by redemption, which locks
// the actor and checks the balance in the same transaction.
func (s *Service) Append(ctx context.Context, e *Entry) (AppendResult, error) {
	e.Normalize()
	if err := e.Validate(); err != nil {
		metrics.LedgerAppends.WithLabelValues(string(e.Kind), "invalid").Inc()
		return AppendResult{}, err
	}
	if e.Debits() {
		metrics.LedgerAppends.WithLabelValues(string(e.Kind), "refused").Inc()
		return AppendResult{}, ErrSpendNotAllowed
	}

	created, err := s.store.Append(ctx, e)
	if err != nil {
		result := "error"
		if errors.Is(err, ErrConflict) {
			result = "conflict"
		}
		metrics.LedgerAppends.WithLabelValues(string(e.Kind), result).Inc()
		return AppendResult{}, err
	}

	if !created {
		metrics.LedgerAppends.WithLabelValues(string(e.Kind), "duplicate").Inc()
		return AppendResult{ID: e.ID}, nil
	}

	metrics.LedgerAppends.WithLabelValues(string(e.Kind), "created").Inc()
	s.balances.Invalidate(ctx, e.ActorRef)

	log.Info().
		Str("entry_id", e.ID).
		Str("actor_ref", e.ActorRef).
		Str("kind", string(e.Kind)).
		Str("status", string(e.Status)).
		Int64("amount", e.Amount).
		Msg("ledger entry appended")

	return AppendResult{ID: e.ID, Created: true}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	return s.store.Get(ctx, id)
}

// SetStatus settles or fails a pending entry. A pending debit may only
// fail.
func (s *Service) SetStatus(ctx context.Context, id string, to Status) (*Entry, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Debits() && to == StatusSettled {
		return nil, ErrSpendNotAllowed
	}

	e, err := s.store.SetStatus(ctx, id, to)
	if err != nil {
		return nil, err
	}
	s.balances.Invalidate(ctx, e.ActorRef)
	log.Info().Str("entry_id", id).Str("status", string(to)).Msg("ledger entry status changed")
	return e, nil
}

// QueryByActor reads the actor's entries matching q.
func (s *Service) QueryByActor(ctx context.Context, actorRef string, q Query) ([]Entry, error) {
	return s.store.QueryByActor(ctx, actorRef, q)
}

// Balance returns the actor's derived balance.
func (s *Service) Balance(ctx context.Context, actorRef string) (int64, error) {
	return s.balances.BalanceOf(ctx, actorRef)
}

// Activity returns the actor's statement with running balance.
func (s *Service) Activity(ctx context.Context, actorRef string, limit int) (Activity, error) {
	entries, err := s.store.QueryByActor(ctx, actorRef, Query{Statuses: []Status{StatusSettled}})
	if err != nil {
		return Activity{}, err
	}
	return BuildActivity(actorRef, entries, limit), nil
}

// BusinessActivity returns the statement of entries naming businessRef as
// counterparty.
func (s *Service) BusinessActivity(ctx context.Context, businessRef string, limit int, before *time.Time) (BusinessActivity, error) {
	entries, err := s.store.QueryByCounterparty(ctx, businessRef, Query{Statuses: []Status{StatusSettled}})
	if err != nil {
		return BusinessActivity{}, err
	}
	return BuildBusinessActivity(businessRef, entries, limit, before), nil
}

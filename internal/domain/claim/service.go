package claim

import (
	"context"
	"errors"
	"time"

	"github.com/raulk/clock"
	"github.com/rs/zerolog/log"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
	"github.com/ecolocal/eco-api/internal/pkg/geofence"
	"github.com/ecolocal/eco-api/internal/pkg/metrics"
)

// Catalog resolves codes and lists offers.
type Catalog interface {
	ResolveCode(ctx context.Context, code string) (*offer.Resolved, error)
	ListAvailable(ctx context.Context, businessRef string, now time.Time) ([]offer.Offer, error)
	BumpCounters(ctx context.Context, ref string, d offer.CounterDelta) error
}

// Ledger is the subset of the ledger service claims use.
type Ledger interface {
	Append(ctx context.Context, e *ledger.Entry) (ledger.AppendResult, error)
	Get(ctx context.Context, id string) (*ledger.Entry, error)
	QueryByActor(ctx context.Context, actorRef string, q ledger.Query) ([]ledger.Entry, error)
	Balance(ctx context.Context, actorRef string) (int64, error)
}

type Config struct {
	DefaultRadiusM   float64
	SeasonMultiplier float64
}

// Service is the claim processor.
type Service struct {
	catalog Catalog
	ledger  Ledger
	clock   clock.Clock
	cfg     Config
}

func NewService(catalog Catalog, l Ledger, clk clock.Clock, cfg Config) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.SeasonMultiplier <= 0 {
		cfg.SeasonMultiplier = 1
	}
	return &Service{catalog: catalog, ledger: l, clock: clk, cfg: cfg}
}

// Process resolves a scanned code, applies the geofence and quotes the
// business's offers against the actor's balance. It writes nothing.
func (s *Service) Process(ctx context.Context, actorRef, code string, at *geofence.Point) (*Context, error) {
	res, err := s.resolve(ctx, code)
	if err != nil {
		metrics.Claims.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	balance, err := s.ledger.Balance(ctx, actorRef)
	if err != nil {
		metrics.Claims.WithLabelValues("error").Inc()
		return nil, err
	}

	out := &Context{
		BusinessRef: res.Business.Ref,
		Balance:     balance,
		Offers:      []QuotedOffer{},
	}

	if !geofence.WithinRadius(at, res.Code.Anchor(), res.Code.Radius(s.cfg.DefaultRadiusM)) {
		out.Reason = ReasonGeofence
		metrics.Claims.WithLabelValues("geofence").Inc()
		return out, nil
	}

	now := s.clock.Now()
	offers, err := s.catalog.ListAvailable(ctx, res.Business.Ref, now)
	if err != nil {
		metrics.Claims.WithLabelValues("error").Inc()
		return nil, err
	}

	for _, o := range offers {
		if !o.Available(now) {
			continue
		}
		out.Offers = append(out.Offers, QuotedOffer{
			ID:         o.ID,
			Title:      o.Title,
			EcoPrice:   o.EcoPrice,
			Stock:      o.Stock,
			ValidUntil: o.ValidUntil,
			CanClaim:   balance >= o.EcoPrice,
		})
	}
	out.OK = true

	metrics.Claims.WithLabelValues("ok").Inc()
	return out, nil
}

// Visit mints the visit reward for scanning code. One reward per cooldown
// window; a repeat inside the window returns a *CooldownError naming the
// entry already minted.
func (s *Service) Visit(ctx context.Context, actorRef, code string, at *geofence.Point) (*VisitResult, error) {
	result, err := s.visit(ctx, actorRef, code, at)
	metrics.Visits.WithLabelValues(outcome(err)).Inc()
	return result, err
}

func (s *Service) visit(ctx context.Context, actorRef, code string, at *geofence.Point) (*VisitResult, error) {
	res, err := s.resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	if !geofence.WithinRadius(at, res.Code.Anchor(), res.Code.Radius(s.cfg.DefaultRadiusM)) {
		return nil, ErrGeofence
	}

	now := s.clock.Now().UTC()
	rules := res.Code.VisitRules()
	bizRef := res.Business.Ref

	bucket := cooldownBucket(now, rules.Cooldown)
	entryID := visitEntryID(actorRef, bizRef, bucket)

	existing, err := s.ledger.Get(ctx, entryID)
	switch {
	case err == nil:
		return nil, &CooldownError{EntryID: existing.ID, Amount: existing.Amount, Until: existing.EffectiveTime().Add(rules.Cooldown)}
	case !errors.Is(err, ledger.ErrEntryNotFound):
		return nil, err
	}

	mints, err := s.ledger.QueryByActor(ctx, actorRef, ledger.Settled(ledger.KindMintAction))
	if err != nil {
		return nil, err
	}

	dayStart := utcDayStart(now)
	var today int64
	var last *ledger.Entry
	firstVisit := true
	for i, e := range mints {
		if e.ID == entryID {
			return nil, &CooldownError{EntryID: e.ID, Amount: e.Amount, Until: e.EffectiveTime().Add(rules.Cooldown)}
		}
		if e.CounterpartyRef == nil || *e.CounterpartyRef != bizRef {
			continue
		}
		firstVisit = false
		t := e.EffectiveTime()
		if !t.Before(dayStart) && t.Before(dayStart.Add(24*time.Hour)) {
			today++
		}
		if last == nil || t.After(last.EffectiveTime()) {
			last = &mints[i]
		}
	}

	// The window id only dedupes concurrent scans. The cooldown itself runs
	// from the last rewarded scan, so a window edge does not reopen it.
	if last != nil {
		if until := last.EffectiveTime().Add(rules.Cooldown); now.Before(until) {
			return nil, &CooldownError{EntryID: last.ID, Amount: last.Amount, Until: until}
		}
	}
	if today >= rules.DailyCap {
		return nil, ErrDailyCap
	}

	eps := Eps(res.Business.PledgeTier, firstVisit)
	base := rules.ReturnVisitReward
	if firstVisit {
		base = rules.FirstVisitReward
	}
	amount := Reward(base, eps, s.cfg.SeasonMultiplier)

	entry := &ledger.Entry{
		ID:              entryID,
		Amount:          amount,
		Kind:            ledger.KindMintAction,
		Status:          ledger.StatusSettled,
		Relation:        ledger.RelationEarned,
		ActorRef:        actorRef,
		CounterpartyRef: ledger.Ref(bizRef),
		LocationRef:     ledger.Ref(bizRef),
		Method:          ledger.Ref("qr"),
		Source:          ledger.Ref(ledger.SourceVisit),
		OccurredAt:      &now,
	}
	appended, err := s.ledger.Append(ctx, entry)
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			// a concurrent visit in the same window won the id
			return nil, &CooldownError{EntryID: entryID, Until: bucket.Add(rules.Cooldown)}
		}
		return nil, err
	}
	if !appended.Created {
		return nil, &CooldownError{EntryID: entryID, Amount: amount, Until: bucket.Add(rules.Cooldown)}
	}

	metrics.EcoMinted.Add(float64(amount))
	if err := s.catalog.BumpCounters(ctx, bizRef, offer.CounterDelta{Minted: amount, Claims: 1, At: now}); err != nil {
		log.Warn().Err(err).Str("business_ref", bizRef).Msg("business counters not updated")
	}

	balance, err := s.ledger.Balance(ctx, actorRef)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("actor_ref", actorRef).
		Str("business_ref", bizRef).
		Str("entry_id", entryID).
		Int64("amount", amount).
		Bool("first_visit", firstVisit).
		Msg("visit reward minted")

	return &VisitResult{
		EntryID:    entryID,
		Amount:     amount,
		FirstVisit: firstVisit,
		Eps:        eps,
		Balance:    balance,
	}, nil
}

func (s *Service) resolve(ctx context.Context, code string) (*offer.Resolved, error) {
	res, err := s.catalog.ResolveCode(ctx, code)
	if err != nil {
		if errors.Is(err, offer.ErrCodeNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrGeofence):
		return "geofence"
	case errors.Is(err, ErrDailyCap):
		return "daily_cap"
	case errors.Is(err, ErrCooldown):
		return "cooldown"
	default:
		return "error"
	}
}

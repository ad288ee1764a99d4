package redemption

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/raulk/clock"
	"github.com/rs/zerolog/log"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
	"github.com/ecolocal/eco-api/internal/pkg/metrics"
)

const (
	minKeyLength = 8
	maxKeyLength = 128
)

type Config struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	StoreTimeout time.Duration
	VoucherTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 25 * time.Millisecond
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 3 * time.Second
	}
	if c.VoucherTTL <= 0 {
		c.VoucherTTL = 15 * time.Minute
	}
	return c
}

// Service is the redemption transactor.
type Service struct {
	store    Store
	vouchers VoucherStore
	balances BalanceInvalidator
	notifier Notifier
	clock    clock.Clock
	cfg      Config
	retry    retrypolicy.RetryPolicy[*Result]
}

// NewService wires the transactor. notifier may be nil.
func NewService(store Store, vouchers VoucherStore, balances BalanceInvalidator, notifier Notifier, clk clock.Clock, cfg Config) *Service {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.New()
	}

	retry := retrypolicy.NewBuilder[*Result]().
		HandleIf(func(_ *Result, err error) bool {
			return retryable(err)
		}).
		WithMaxRetries(cfg.MaxAttempts-1).
		WithBackoff(cfg.BaseDelay, 8*cfg.BaseDelay).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		Build()

	return &Service{
		store:    store,
		vouchers: vouchers,
		balances: balances,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		retry:    retry,
	}
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.ActorRef) == "":
		return errors.Join(ErrInvalidRequest, errors.New("actor_ref is required"))
	case strings.TrimSpace(r.OfferID) == "":
		return errors.Join(ErrInvalidRequest, errors.New("offer_id is required"))
	case len(r.IdempotencyKey) < minKeyLength || len(r.IdempotencyKey) > maxKeyLength:
		return errors.Join(ErrInvalidRequest, errors.New("idempotency key must be 8-128 characters"))
	}
	return nil
}

// Redeem spends the offer's price from the actor's balance and issues a
// voucher, all or nothing. Retrying with the same idempotency key returns
// the first result. Contention and transient store failures are retried a
// bounded number of times.
//
// Each attempt runs detached from ctx cancellation, bounded by the store
// timeout, so a client that disconnects cannot abort a transaction midway.
// A cancelled ctx only stops further attempts.
func (s *Service) Redeem(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		metrics.Redemptions.WithLabelValues("invalid").Inc()
		return nil, err
	}

	attempts := 0
	result, err := failsafe.With[*Result](s.retry).Get(func() (*Result, error) {
		attempts++
		if attempts > 1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
		defer cancel()
		return s.attempt(attemptCtx, req)
	})
	metrics.RedemptionAttempts.Observe(float64(attempts))

	if err != nil {
		metrics.Redemptions.WithLabelValues(outcome(err)).Inc()
		log.Warn().
			Err(err).
			Str("actor_ref", req.ActorRef).
			Str("offer_id", req.OfferID).
			Int("attempts", attempts).
			Msg("redemption rejected")
		return nil, err
	}

	// The ledger changed even if the caller already went away. A replay may
	// follow an attempt that committed after its store timeout, so it
	// invalidates too.
	afterCtx := context.WithoutCancel(ctx)
	s.balances.Invalidate(afterCtx, req.ActorRef)

	if result.Replayed {
		metrics.Redemptions.WithLabelValues("replayed").Inc()
		return result, nil
	}

	if s.notifier != nil {
		s.notifier.Notify(afterCtx)
	}
	metrics.Redemptions.WithLabelValues("ok").Inc()
	metrics.EcoRetired.Add(float64(result.EcoPrice))

	log.Info().
		Str("actor_ref", req.ActorRef).
		Str("offer_id", req.OfferID).
		Str("tx_id", result.TxID).
		Int64("amount", result.EcoPrice).
		Int("attempts", attempts).
		Msg("offer redeemed")

	return result, nil
}

func retryable(err error) bool {
	return errors.Is(err, ErrContention) ||
		errors.Is(err, ledger.ErrTimeout) ||
		errors.Is(err, ledger.ErrStoreUnavailable)
}

func (s *Service) attempt(ctx context.Context, req Request) (*Result, error) {
	var result *Result

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockActor(ctx, req.ActorRef); err != nil {
			return err
		}

		entries, err := tx.ActorEntries(ctx, req.ActorRef)
		if err != nil {
			return err
		}
		balance := ledger.Fold(entries)

		prior, err := tx.Receipt(ctx, req.ActorRef, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if prior != nil {
			if prior.OfferID != req.OfferID {
				return ErrConflict
			}
			result = &Result{
				OK:          true,
				TxID:        prior.TxID,
				OfferID:     prior.OfferID,
				EcoPrice:    prior.EcoPrice,
				VoucherCode: prior.VoucherCode,
				ExpiresAt:   prior.ExpiresAt,
				Balance:     balance,
				Replayed:    true,
			}
			return nil
		}

		o, err := tx.LockOffer(ctx, req.OfferID)
		if err != nil {
			if errors.Is(err, offer.ErrOfferNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !o.BusinessActive {
			return ErrNotFound
		}

		now := s.clock.Now().UTC()
		if !o.Available(now) {
			return ErrOfferUnavailable
		}
		if balance < o.EcoPrice {
			return ErrInsufficientBalance
		}

		if err := tx.ConsumeUnit(ctx, o.ID); err != nil {
			return err
		}

		txID := uuid.NewString()
		entry := &ledger.Entry{
			ID:              txID,
			Amount:          o.EcoPrice,
			Kind:            ledger.KindBurnReward,
			Status:          ledger.StatusSettled,
			Relation:        ledger.RelationSpent,
			ActorRef:        req.ActorRef,
			CounterpartyRef: ledger.Ref(o.BusinessRef),
			LocationRef:     ledger.Ref(req.LocationRef),
			Method:          ledger.Ref("voucher"),
			Source:          ledger.Ref(ledger.SourceOffer),
			OfferID:         ledger.Ref(o.ID),
			OccurredAt:      &now,
		}
		entry.Normalize()
		if err := entry.Validate(); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		voucher := &Voucher{
			Code:        newVoucherCode(),
			OfferID:     o.ID,
			BusinessRef: o.BusinessRef,
			ActorRef:    req.ActorRef,
			TxID:        txID,
			Status:      VoucherIssued,
			ExpiresAt:   now.Add(s.cfg.VoucherTTL),
		}
		if err := tx.IssueVoucher(ctx, voucher); err != nil {
			return err
		}

		if err := tx.SaveReceipt(ctx, &Receipt{
			ActorRef:       req.ActorRef,
			IdempotencyKey: req.IdempotencyKey,
			OfferID:        o.ID,
			TxID:           txID,
			VoucherCode:    voucher.Code,
			EcoPrice:       o.EcoPrice,
			ExpiresAt:      voucher.ExpiresAt,
		}); err != nil {
			return err
		}

		if err := tx.BumpCounters(ctx, o.BusinessRef, offer.CounterDelta{
			Retired:     o.EcoPrice,
			Redemptions: 1,
			At:          now,
		}); err != nil {
			return err
		}

		result = &Result{
			OK:          true,
			TxID:        txID,
			OfferID:     o.ID,
			EcoPrice:    o.EcoPrice,
			VoucherCode: voucher.Code,
			ExpiresAt:   voucher.ExpiresAt,
			Balance:     balance - o.EcoPrice,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VerifyVoucher checks a voucher of businessRef at the counter. An issued,
// unexpired voucher is moved to verified; any other state is reported as
// is, with an overdue open voucher shown as expired.
func (s *Service) VerifyVoucher(ctx context.Context, businessRef, code string) (*Voucher, error) {
	code = NormalizeVoucherCode(code)
	v, err := s.ownedVoucher(ctx, businessRef, code)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	if v.Effective(now).Status != VoucherIssued {
		eff := v.Effective(now)
		return &eff, nil
	}

	verified, ok, err := s.vouchers.MarkVerified(ctx, code, now)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Info().Str("voucher", code).Str("business_ref", businessRef).Msg("voucher verified")
		return verified, nil
	}

	v, err = s.vouchers.GetVoucher(ctx, code)
	if err != nil {
		return nil, err
	}
	eff := v.Effective(now)
	return &eff, nil
}

// ConsumeVoucher marks the voucher used, verifying it on the way when the
// business skipped the verify step. Consuming a consumed voucher returns it
// unchanged.
func (s *Service) ConsumeVoucher(ctx context.Context, businessRef, code string) (*Voucher, error) {
	code = NormalizeVoucherCode(code)
	v, err := s.ownedVoucher(ctx, businessRef, code)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	if err := checkConsumable(v.Effective(now)); err != nil {
		return nil, err
	}
	if v.Status == VoucherConsumed {
		return v, nil
	}

	consumed, ok, err := s.vouchers.MarkConsumed(ctx, code, now)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Info().Str("voucher", code).Str("business_ref", businessRef).Msg("voucher consumed")
		return consumed, nil
	}

	// lost a race; report whatever state won
	v, err = s.vouchers.GetVoucher(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := checkConsumable(v.Effective(now)); err != nil {
		return nil, err
	}
	return v, nil
}

func checkConsumable(v Voucher) error {
	switch v.Status {
	case VoucherVoid:
		return ErrVoucherVoid
	case VoucherExpired:
		return ErrVoucherExpired
	}
	return nil
}

func (s *Service) ownedVoucher(ctx context.Context, businessRef, code string) (*Voucher, error) {
	v, err := s.vouchers.GetVoucher(ctx, code)
	if err != nil {
		return nil, err
	}
	if businessRef != "" && v.BusinessRef != businessRef {
		return nil, ErrNotFound
	}
	return v, nil
}

// ExpireVouchers moves open vouchers past their expiry to expired.
func (s *Service) ExpireVouchers(ctx context.Context) (int64, error) {
	return s.vouchers.ExpireIssued(ctx, s.clock.Now().UTC())
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrOfferUnavailable):
		return "unavailable"
	case errors.Is(err, ErrContention):
		return "contention"
	case errors.Is(err, ledger.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

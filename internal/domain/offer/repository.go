package offer

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
)

const defaultQueryTimeout = 3 * time.Second

const offerColumns = `id, business_ref, title, type, eco_price, stock, valid_until, status, claims, created_at, updated_at`

const businessColumns = `ref, name, active, pledge_tier, minted_eco, eco_retired_total, redemptions, claims_count, last_tx_at`

// Repository reads the catalog and maintains business counters.
type Repository struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewRepository(db *sqlx.DB, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Repository{db: db, timeout: timeout}
}

// ResolveCode returns the active scan code and its active business.
func (r *Repository) ResolveCode(ctx context.Context, code string) (*Resolved, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var sc ScanCode
	err := r.db.GetContext(ctx2, &sc, `
		SELECT code, business_ref, anchor_lat, anchor_lng, geofence_radius_m, active,
		       first_visit_reward, return_visit_reward, cooldown_hours, daily_cap
		FROM scan_codes
		WHERE code = $1
	`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, ledger.StoreError("resolve code", err)
	}
	if !sc.Active {
		return nil, ErrCodeNotFound
	}

	biz, err := r.getBusiness(ctx2, sc.BusinessRef)
	if err != nil {
		if errors.Is(err, ErrBusinessNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	if !biz.Active {
		return nil, ErrCodeNotFound
	}

	return &Resolved{Code: sc, Business: *biz}, nil
}

func (r *Repository) GetBusiness(ctx context.Context, ref string) (*Business, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.getBusiness(ctx2, ref)
}

func (r *Repository) getBusiness(ctx context.Context, ref string) (*Business, error) {
	var b Business
	err := r.db.GetContext(ctx, &b, `SELECT `+businessColumns+` FROM businesses WHERE ref = $1`, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBusinessNotFound
		}
		return nil, ledger.StoreError("get business", err)
	}
	return &b, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Offer, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var o Offer
	err := r.db.GetContext(ctx2, &o, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, ledger.StoreError("get offer", err)
	}
	return &o, nil
}

// ListAvailable returns the business's offers that are active, in stock
// and not expired on the UTC day of now, cheapest first.
func (r *Repository) ListAvailable(ctx context.Context, businessRef string, now time.Time) ([]Offer, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	offers := make([]Offer, 0)
	err := r.db.SelectContext(ctx2, &offers, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE business_ref = $1
		  AND status = 'active'
		  AND (stock IS NULL OR stock > 0)
		  AND (valid_until IS NULL OR valid_until >= $2::date)
		ORDER BY eco_price ASC, id ASC
	`, businessRef, now.UTC().Format(time.DateOnly))
	if err != nil {
		return nil, ledger.StoreError("list offers", err)
	}
	return offers, nil
}

// LockTx reads the offer FOR UPDATE inside the caller's transaction.
func (r *Repository) LockTx(ctx context.Context, tx *sqlx.Tx, id string) (*LockedOffer, error) {
	var o LockedOffer
	err := tx.GetContext(ctx, &o, `
		SELECT o.id, o.business_ref, o.title, o.type, o.eco_price, o.stock, o.valid_until,
		       o.status, o.claims, o.created_at, o.updated_at, b.active AS business_active
		FROM offers o
		JOIN businesses b ON b.ref = o.business_ref
		WHERE o.id = $1
		FOR UPDATE OF o
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	return &o, nil
}

// ConsumeUnitTx decrements bounded stock and counts the claim.
func (r *Repository) ConsumeUnitTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE offers
		SET stock = CASE WHEN stock IS NULL THEN NULL ELSE stock - 1 END,
		    claims = claims + 1,
		    updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

// BumpCounters adds d to the business counters outside any transaction.
func (r *Repository) BumpCounters(ctx context.Context, ref string, d CounterDelta) error {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := bumpCounters(ctx2, r.db, ref, d); err != nil {
		return ledger.StoreError("bump counters", err)
	}
	return nil
}

func (r *Repository) BumpCountersTx(ctx context.Context, tx *sqlx.Tx, ref string, d CounterDelta) error {
	return bumpCounters(ctx, tx, ref, d)
}

func bumpCounters(ctx context.Context, db sqlx.ExecerContext, ref string, d CounterDelta) error {
	_, err := db.ExecContext(ctx, `
		UPDATE businesses
		SET minted_eco = minted_eco + $2,
		    eco_retired_total = eco_retired_total + $3,
		    redemptions = redemptions + $4,
		    claims_count = claims_count + $5,
		    last_tx_at = GREATEST(COALESCE(last_tx_at, $6), $6)
		WHERE ref = $1
	`, ref, d.Minted, d.Retired, d.Redemptions, d.Claims, d.At)
	return err
}

// SetCounters overwrites the counters with values recomputed from the ledger.
func (r *Repository) SetCounters(ctx context.Context, ref string, c Counters) error {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE businesses
		SET minted_eco = $2, eco_retired_total = $3, redemptions = $4, claims_count = $5, last_tx_at = $6
		WHERE ref = $1
	`, ref, c.MintedEco, c.EcoRetiredTotal, c.Redemptions, c.ClaimsCount, c.LastTxAt)
	if err != nil {
		return ledger.StoreError("set counters", err)
	}
	return nil
}

// ListBusinessRefs returns every business reference.
func (r *Repository) ListBusinessRefs(ctx context.Context) ([]string, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	refs := make([]string, 0)
	if err := r.db.SelectContext(ctx2, &refs, `SELECT ref FROM businesses ORDER BY ref`); err != nil {
		return nil, ledger.StoreError("list businesses", err)
	}
	return refs, nil
}

// CountActiveBusinesses counts active businesses; businessRef narrows the
// count to one business.
func (r *Repository) CountActiveBusinesses(ctx context.Context, businessRef string) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	err := r.db.GetContext(ctx2, &n, `
		SELECT COUNT(*) FROM businesses
		WHERE active AND ($1 = '' OR ref = $1)
	`, businessRef)
	if err != nil {
		return 0, ledger.StoreError("count businesses", err)
	}
	return n, nil
}

// CountActiveOffers counts offers with status active.
func (r *Repository) CountActiveOffers(ctx context.Context, businessRef string) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	err := r.db.GetContext(ctx2, &n, `
		SELECT COUNT(*) FROM offers
		WHERE status = 'active' AND ($1 = '' OR business_ref = $1)
	`, businessRef)
	if err != nil {
		return 0, ledger.StoreError("count offers", err)
	}
	return n, nil
}

package redemption

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
	"github.com/ecolocal/eco-api/internal/pkg/database"
)

const voucherColumns = `code, offer_id, business_ref, actor_ref, tx_id, status, expires_at, verified_at, consumed_at, created_at`

// Repository is the Postgres redemption store.
type Repository struct {
	db      *sqlx.DB
	entries *ledger.Repository
	offers  *offer.Repository
	timeout time.Duration
}

func NewRepository(db *sqlx.DB, entries *ledger.Repository, offers *offer.Repository, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Repository{db: db, entries: entries, offers: offers, timeout: timeout}
}

func (r *Repository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

// InTx runs fn in a read-committed transaction. Serialization failures,
// deadlocks and unique violations surface as ErrContention; other driver
// errors are classified by ledger.StoreError. Domain errors from fn pass
// through unchanged.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{tx: tx, repo: r}); err != nil {
		return classify("redeem", err)
	}

	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func classify(op string, err error) error {
	switch {
	case database.IsContention(err), database.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s: %w", ErrContention, op, err)
	case isDomainError(err):
		return err
	default:
		return ledger.StoreError(op, err)
	}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrConflict, ErrInsufficientBalance, ErrOfferUnavailable, ErrContention,
		ledger.ErrConflict, ledger.ErrInvalidEntry, ledger.ErrTimeout, ledger.ErrStoreUnavailable, ledger.ErrInternal,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type pgTx struct {
	tx   *sqlx.Tx
	repo *Repository
}

func (t *pgTx) LockActor(ctx context.Context, actorRef string) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_actors (actor_ref)
		VALUES ($1)
		ON CONFLICT (actor_ref) DO NOTHING
	`, actorRef); err != nil {
		return err
	}

	var locked string
	return t.tx.GetContext(ctx, &locked, `SELECT actor_ref FROM ledger_actors WHERE actor_ref = $1 FOR UPDATE`, actorRef)
}

func (t *pgTx) Receipt(ctx context.Context, actorRef, key string) (*Receipt, error) {
	var rec Receipt
	err := t.tx.GetContext(ctx, &rec, `
		SELECT actor_ref, idempotency_key, offer_id, tx_id, voucher_code, eco_price, expires_at, created_at
		FROM redemption_receipts
		WHERE actor_ref = $1 AND idempotency_key = $2
	`, actorRef, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *pgTx) LockOffer(ctx context.Context, offerID string) (*offer.LockedOffer, error) {
	return t.repo.offers.LockTx(ctx, t.tx, offerID)
}

func (t *pgTx) ActorEntries(ctx context.Context, actorRef string) ([]ledger.Entry, error) {
	return t.repo.entries.QueryByActorTx(ctx, t.tx, actorRef, ledger.BalanceQuery())
}

func (t *pgTx) ConsumeUnit(ctx context.Context, offerID string) error {
	return t.repo.offers.ConsumeUnitTx(ctx, t.tx, offerID)
}

func (t *pgTx) AppendEntry(ctx context.Context, e *ledger.Entry) (bool, error) {
	return t.repo.entries.AppendTx(ctx, t.tx, e)
}

func (t *pgTx) IssueVoucher(ctx context.Context, v *Voucher) error {
	return t.tx.GetContext(ctx, &v.CreatedAt, `
		INSERT INTO vouchers (code, offer_id, business_ref, actor_ref, tx_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, v.Code, v.OfferID, v.BusinessRef, v.ActorRef, v.TxID, string(v.Status), v.ExpiresAt)
}

func (t *pgTx) SaveReceipt(ctx context.Context, rec *Receipt) error {
	return t.tx.GetContext(ctx, &rec.CreatedAt, `
		INSERT INTO redemption_receipts (actor_ref, idempotency_key, offer_id, tx_id, voucher_code, eco_price, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, rec.ActorRef, rec.IdempotencyKey, rec.OfferID, rec.TxID, rec.VoucherCode, rec.EcoPrice, rec.ExpiresAt)
}

func (t *pgTx) BumpCounters(ctx context.Context, businessRef string, d offer.CounterDelta) error {
	return t.repo.offers.BumpCountersTx(ctx, t.tx, businessRef, d)
}

func (r *Repository) GetVoucher(ctx context.Context, code string) (*Voucher, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var v Voucher
	err := r.db.GetContext(ctx2, &v, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, ledger.StoreError("get voucher", err)
	}
	return &v, nil
}

func (r *Repository) MarkVerified(ctx context.Context, code string, at time.Time) (*Voucher, bool, error) {
	return r.transition(ctx, "verify voucher", `
		UPDATE vouchers
		SET status = 'verified', verified_at = $2
		WHERE code = $1 AND status = 'issued' AND expires_at >= $2
		RETURNING `+voucherColumns, code, at)
}

func (r *Repository) MarkConsumed(ctx context.Context, code string, at time.Time) (*Voucher, bool, error) {
	return r.transition(ctx, "consume voucher", `
		UPDATE vouchers
		SET status = 'consumed', consumed_at = $2
		WHERE code = $1 AND status IN ('issued', 'verified') AND expires_at >= $2
		RETURNING `+voucherColumns, code, at)
}

func (r *Repository) transition(ctx context.Context, op, query string, code string, at time.Time) (*Voucher, bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var v Voucher
	err := r.db.GetContext(ctx2, &v, query, code, at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ledger.StoreError(op, err)
	}
	return &v, true, nil
}

func (r *Repository) ExpireIssued(ctx context.Context, now time.Time) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE vouchers SET status = 'expired'
		WHERE status IN ('issued', 'verified') AND expires_at < $1
	`, now)
	if err != nil {
		return 0, ledger.StoreError("expire vouchers", err)
	}
	return res.RowsAffected()
}

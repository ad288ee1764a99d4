package redemption

import (
	"context"
	"time"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
)

// Store runs redemption units of work. fn's writes are committed together
// when it returns nil and discarded otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations a redemption performs atomically.
type Tx interface {
	// LockActor serializes redemptions of one actor until the unit ends.
	LockActor(ctx context.Context, actorRef string) error
	// Receipt returns nil when the key has not been used by the actor.
	Receipt(ctx context.Context, actorRef, key string) (*Receipt, error)
	// LockOffer returns offer.ErrOfferNotFound for unknown offers.
	LockOffer(ctx context.Context, offerID string) (*offer.LockedOffer, error)
	ActorEntries(ctx context.Context, actorRef string) ([]ledger.Entry, error)
	ConsumeUnit(ctx context.Context, offerID string) error
	AppendEntry(ctx context.Context, e *ledger.Entry) (bool, error)
	IssueVoucher(ctx context.Context, v *Voucher) error
	SaveReceipt(ctx context.Context, r *Receipt) error
	BumpCounters(ctx context.Context, businessRef string, d offer.CounterDelta) error
}

// VoucherStore reads and transitions vouchers outside redemptions.
type VoucherStore interface {
	GetVoucher(ctx context.Context, code string) (*Voucher, error)
	// MarkVerified moves an issued, unexpired voucher to verified. It
	// reports false when the voucher was not in that state.
	MarkVerified(ctx context.Context, code string, at time.Time) (*Voucher, bool, error)
	// MarkConsumed consumes an issued or verified, unexpired voucher. It
	// reports false when the voucher was not in that state.
	MarkConsumed(ctx context.Context, code string, at time.Time) (*Voucher, bool, error)
	// ExpireIssued expires open vouchers whose expires_at is before now.
	ExpireIssued(ctx context.Context, now time.Time) (int64, error)
}

// Notifier is told about committed redemptions.
type Notifier interface {
	Notify(ctx context.Context)
}

// BalanceInvalidator drops cached balances after a write.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, actorRef string)
}

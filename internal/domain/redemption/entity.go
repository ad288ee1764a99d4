package redemption

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request asks to spend ECO on one unit of an offer. IdempotencyKey scopes
// retries per actor: the same key always yields the same outcome.
type Request struct {
	ActorRef       string
	OfferID        string
	IdempotencyKey string
	LocationRef    string
}

// Result is a completed redemption, fresh or replayed.
type Result struct {
	OK          bool      `json:"ok"`
	TxID        string    `json:"tx_id"`
	OfferID     string    `json:"offer_id"`
	EcoPrice    int64     `json:"eco_price"`
	VoucherCode string    `json:"voucher_code"`
	ExpiresAt   time.Time `json:"expires_at"`
	Balance     int64     `json:"balance"`
	Replayed    bool      `json:"replayed"`
}

// Receipt is the persisted outcome of a redemption for (actor, key).
type Receipt struct {
	ActorRef       string    `db:"actor_ref"`
	IdempotencyKey string    `db:"idempotency_key"`
	OfferID        string    `db:"offer_id"`
	TxID           string    `db:"tx_id"`
	VoucherCode    string    `db:"voucher_code"`
	EcoPrice       int64     `db:"eco_price"`
	ExpiresAt      time.Time `db:"expires_at"`
	CreatedAt      time.Time `db:"created_at"`
}

type VoucherStatus string

const (
	VoucherIssued   VoucherStatus = "issued"
	VoucherVerified VoucherStatus = "verified"
	VoucherConsumed VoucherStatus = "consumed"
	VoucherExpired  VoucherStatus = "expired"
	VoucherVoid     VoucherStatus = "void"
)

// Voucher is the proof of redemption shown at the business.
type Voucher struct {
	Code        string        `db:"code" json:"code"`
	OfferID     string        `db:"offer_id" json:"offer_id"`
	BusinessRef string        `db:"business_ref" json:"business_ref"`
	ActorRef    string        `db:"actor_ref" json:"actor_ref"`
	TxID        string        `db:"tx_id" json:"tx_id"`
	Status      VoucherStatus `db:"status" json:"status"`
	ExpiresAt   time.Time     `db:"expires_at" json:"expires_at"`
	VerifiedAt  *time.Time    `db:"verified_at" json:"verified_at,omitempty"`
	ConsumedAt  *time.Time    `db:"consumed_at" json:"consumed_at,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// Open reports a voucher that can still be verified or consumed.
func (v Voucher) Open() bool {
	return v.Status == VoucherIssued || v.Status == VoucherVerified
}

// Effective returns the voucher with an open status reported as expired
// once now is past expires_at. The expiry instant itself is still valid.
func (v Voucher) Effective(now time.Time) Voucher {
	if v.Open() && now.After(v.ExpiresAt) {
		v.Status = VoucherExpired
	}
	return v
}

// NormalizeVoucherCode trims and upper-cases a code as typed at the till.
func NormalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// newVoucherCode returns 10 upper-case hex characters.
func newVoucherCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

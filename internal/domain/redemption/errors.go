package redemption

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid redemption request")

	// ErrNotFound covers unknown offers, offers of inactive businesses and unknown vouchers
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an idempotency key is reused for another offer
	ErrConflict = errors.New("idempotency key already used for a different offer")

	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOfferUnavailable is returned for paused, hidden, sold out or expired offers
	ErrOfferUnavailable = errors.New("offer unavailable")

	// ErrContention is returned when concurrent redemptions kept aborting the transaction
	ErrContention = errors.New("redemption contention")

	ErrVoucherExpired = errors.New("voucher expired")
	ErrVoucherVoid    = errors.New("voucher void")
)

package claim

import "time"

// QuotedOffer is an offer as seen from a claim: price plus affordability.
type QuotedOffer struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	EcoPrice   int64      `json:"eco_price"`
	Stock      *int64     `json:"stock,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	CanClaim   bool       `json:"can_claim"`
}

// Context is the result of scanning a code. It is not persisted.
type Context struct {
	OK          bool          `json:"ok"`
	Reason      string        `json:"reason,omitempty"`
	BusinessRef string        `json:"business_ref"`
	Balance     int64         `json:"balance"`
	Offers      []QuotedOffer `json:"offers"`
}

const ReasonGeofence = "geofence"

// VisitResult is a minted visit reward.
type VisitResult struct {
	EntryID    string  `json:"entry_id"`
	Amount     int64   `json:"amount"`
	FirstVisit bool    `json:"first_visit"`
	Eps        float64 `json:"eps"`
	Balance    int64   `json:"balance"`
}

package offer

import (
	"time"

	"github.com/ecolocal/eco-api/internal/pkg/geofence"
)

// Type is what the offer gives the participant.
type Type string

const (
	TypeDiscount Type = "discount"
	TypePerk     Type = "perk"
	TypeInfo     Type = "info"
)

type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusHidden Status = "hidden"
)

// PledgeTier is the sustainability commitment level of a business.
type PledgeTier string

const (
	TierStarter PledgeTier = "starter"
	TierBuilder PledgeTier = "builder"
	TierLeader  PledgeTier = "leader"
)

// Offer is a reward a business sells for ECO.
type Offer struct {
	ID          string     `db:"id" json:"id"`
	BusinessRef string     `db:"business_ref" json:"business_ref"`
	Title       string     `db:"title" json:"title"`
	Type        Type       `db:"type" json:"type"`
	EcoPrice    int64      `db:"eco_price" json:"eco_price"`
	Stock       *int64     `db:"stock" json:"stock,omitempty"`
	ValidUntil  *time.Time `db:"valid_until" json:"valid_until,omitempty"`
	Status      Status     `db:"status" json:"status"`
	Claims      int64      `db:"claims" json:"claims"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Available reports whether the offer can be listed or redeemed on the
// UTC calendar day containing now. valid_until is inclusive.
func (o Offer) Available(now time.Time) bool {
	if o.Status != StatusActive {
		return false
	}
	if o.Stock != nil && *o.Stock <= 0 {
		return false
	}
	if o.ValidUntil != nil && o.ValidUntil.UTC().Format(time.DateOnly) < now.UTC().Format(time.DateOnly) {
		return false
	}
	return true
}

// Business is the partner read model with denormalized counters. Counters
// are best-effort and re-derivable from the ledger.
type Business struct {
	Ref             string     `db:"ref" json:"ref"`
	Name            string     `db:"name" json:"name"`
	Active          bool       `db:"active" json:"active"`
	PledgeTier      PledgeTier `db:"pledge_tier" json:"pledge_tier"`
	MintedEco       int64      `db:"minted_eco" json:"minted_eco"`
	EcoRetiredTotal int64      `db:"eco_retired_total" json:"eco_retired_total"`
	Redemptions     int64      `db:"redemptions" json:"redemptions"`
	ClaimsCount     int64      `db:"claims_count" json:"claims_count"`
	LastTxAt        *time.Time `db:"last_tx_at" json:"last_tx_at,omitempty"`
}

// ScanCode is a QR code placed at a business location.
type ScanCode struct {
	Code              string   `db:"code" json:"code"`
	BusinessRef       string   `db:"business_ref" json:"business_ref"`
	AnchorLat         *float64 `db:"anchor_lat" json:"anchor_lat,omitempty"`
	AnchorLng         *float64 `db:"anchor_lng" json:"anchor_lng,omitempty"`
	GeofenceRadiusM   *float64 `db:"geofence_radius_m" json:"geofence_radius_m,omitempty"`
	Active            bool     `db:"active" json:"active"`
	FirstVisitReward  *int64   `db:"first_visit_reward" json:"first_visit_reward,omitempty"`
	ReturnVisitReward *int64   `db:"return_visit_reward" json:"return_visit_reward,omitempty"`
	CooldownHours     *int64   `db:"cooldown_hours" json:"cooldown_hours,omitempty"`
	DailyCap          *int64   `db:"daily_cap" json:"daily_cap,omitempty"`
}

// Anchor is the code's location, or nil when either coordinate is unset.
func (c ScanCode) Anchor() *geofence.Point {
	return geofence.NewPoint(c.AnchorLat, c.AnchorLng)
}

// Radius returns the code's geofence radius, falling back to def.
func (c ScanCode) Radius(def float64) float64 {
	if c.GeofenceRadiusM != nil {
		return *c.GeofenceRadiusM
	}
	return def
}

// VisitRules are the per-code visit reward settings after defaults.
type VisitRules struct {
	FirstVisitReward  int64
	ReturnVisitReward int64
	Cooldown          time.Duration
	DailyCap          int64
}

var DefaultVisitRules = VisitRules{
	FirstVisitReward:  12,
	ReturnVisitReward: 4,
	Cooldown:          20 * time.Hour,
	DailyCap:          1,
}

func (c ScanCode) VisitRules() VisitRules {
	rules := DefaultVisitRules
	if c.FirstVisitReward != nil && *c.FirstVisitReward > 0 {
		rules.FirstVisitReward = *c.FirstVisitReward
	}
	if c.ReturnVisitReward != nil && *c.ReturnVisitReward > 0 {
		rules.ReturnVisitReward = *c.ReturnVisitReward
	}
	if c.CooldownHours != nil && *c.CooldownHours > 0 {
		rules.Cooldown = time.Duration(*c.CooldownHours) * time.Hour
	}
	if c.DailyCap != nil && *c.DailyCap > 0 {
		rules.DailyCap = *c.DailyCap
	}
	return rules
}

// Resolved is a scan code together with its business.
type Resolved struct {
	Code     ScanCode
	Business Business
}

// LockedOffer is an offer row read under FOR UPDATE, with its business state.
type LockedOffer struct {
	Offer
	BusinessActive bool `db:"business_active"`
}

// CounterDelta is added to a business's denormalized counters.
type CounterDelta struct {
	Minted      int64
	Retired     int64
	Redemptions int64
	Claims      int64
	At          time.Time
}

// Counters are absolute values recomputed from the ledger.
type Counters struct {
	MintedEco       int64      `db:"minted_eco"`
	EcoRetiredTotal int64      `db:"eco_retired_total"`
	Redemptions     int64      `db:"redemptions"`
	ClaimsCount     int64      `db:"claims_count"`
	LastTxAt        *time.Time `db:"last_tx_at"`
}

package offer

import (
	"fmt"
	"math"
)

const (
	MinSuggestedPrice = 5
	MaxSuggestedPrice = 250

	defaultBasketCents = 2000
	defaultPerkCents   = 500
)

var pledgeFactor = map[PledgeTier]float64{
	TierStarter: 4.0,
	TierBuilder: 3.0,
	TierLeader:  2.5,
}

var typeFactor = map[Type]float64{
	TypeDiscount: 1.0,
	TypePerk:     0.7,
	TypeInfo:     0,
}

// PriceInput describes an offer for price suggestion. Zero values pick
// defaults: perk offers, starter pledge.
type PriceInput struct {
	Type           Type       `json:"type" validate:"omitempty,offer_type"`
	FiatCostCents  int64      `json:"fiat_cost_cents" validate:"gte=0"`
	AvgBasketCents int64      `json:"avg_basket_cents" validate:"gte=0"`
	Percent        *int64     `json:"percent" validate:"omitempty,gte=0,lte=100"`
	Pledge         PledgeTier `json:"pledge" validate:"omitempty,pledge_tier"`
}

type PriceSuggestion struct {
	EcoPrice int64  `json:"suggested_eco_price"`
	Rule     string `json:"rule"`
}

// SuggestPrice prices an offer as fiat value x pledge factor x type factor,
// rounded half to even and clamped to [MinSuggestedPrice, MaxSuggestedPrice].
// Info offers are free.
func SuggestPrice(in PriceInput) PriceSuggestion {
	if in.Type == TypeInfo {
		return PriceSuggestion{EcoPrice: 0, Rule: "info_type_zero_eco"}
	}

	offerType := in.Type
	if offerType == "" {
		offerType = TypePerk
	}
	pledge := in.Pledge
	if pledge == "" {
		pledge = TierStarter
	}

	fiat := in.FiatCostCents
	if fiat == 0 && offerType == TypeDiscount && in.Percent != nil {
		basket := in.AvgBasketCents
		if basket == 0 {
			basket = defaultBasketCents
		}
		fiat = int64(math.RoundToEven(float64(basket) * float64(*in.Percent) / 100))
	}
	if fiat == 0 && offerType == TypePerk {
		fiat = defaultPerkCents
	}

	eco := int64(math.RoundToEven(float64(fiat) / 100 * pledgeFactor[pledge] * typeFactor[offerType]))
	eco = max(MinSuggestedPrice, min(MaxSuggestedPrice, eco))

	return PriceSuggestion{
		EcoPrice: eco,
		Rule:     fmt.Sprintf("pledge_%s*type_%s_clamped_%d_%d", pledge, offerType, MinSuggestedPrice, MaxSuggestedPrice),
	}
}

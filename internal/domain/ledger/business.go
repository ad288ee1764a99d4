package ledger

import (
	"sort"
	"time"
)

// BusinessActivityItem is one settled entry naming the business as
// counterparty.
type BusinessActivityItem struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Direction string    `json:"direction"`
	Amount    int64     `json:"amount"`
	ActorRef  string    `json:"actor_ref"`
	OfferID   *string   `json:"offer_id,omitempty"`
	Source    *string   `json:"source,omitempty"`
	At        time.Time `json:"at"`
}

type BusinessSummary struct {
	Rewarded int64 `json:"rewarded"`
	Redeemed int64 `json:"redeemed"`
}

// BusinessActivity is the business-side view of the ledger: ECO its scan
// codes minted to participants and ECO participants retired there.
type BusinessActivity struct {
	BusinessRef  string                 `json:"business_ref"`
	Items        []BusinessActivityItem `json:"items"`
	Summary      BusinessSummary        `json:"summary"`
	NextBeforeMs *int64                 `json:"next_before_ms,omitempty"`
}

// BuildBusinessActivity lists settled entries newest first. The summary
// covers every entry; before, when set, pages the items.
func BuildBusinessActivity(businessRef string, entries []Entry, limit int, before *time.Time) BusinessActivity {
	settled := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Status == StatusSettled {
			settled = append(settled, e)
		}
	}
	sort.SliceStable(settled, func(i, j int) bool {
		return settled[i].EffectiveTime().After(settled[j].EffectiveTime())
	})

	out := BusinessActivity{BusinessRef: businessRef, Items: make([]BusinessActivityItem, 0)}
	for _, e := range settled {
		delta := e.Delta()
		direction := "neutral"
		switch {
		case delta > 0:
			direction = "rewarded"
			out.Summary.Rewarded += delta
		case delta < 0:
			direction = "redeemed"
			out.Summary.Redeemed -= delta
		}

		at := e.EffectiveTime()
		if before != nil && !at.Before(*before) {
			continue
		}
		if limit > 0 && len(out.Items) == limit {
			continue
		}
		out.Items = append(out.Items, BusinessActivityItem{
			ID:        e.ID,
			Kind:      e.Kind,
			Direction: direction,
			Amount:    e.Amount,
			ActorRef:  e.ActorRef,
			OfferID:   e.OfferID,
			Source:    e.Source,
			At:        at,
		})
	}

	if limit > 0 && len(out.Items) == limit {
		next := out.Items[len(out.Items)-1].At.UnixMilli()
		out.NextBeforeMs = &next
	}
	return out
}

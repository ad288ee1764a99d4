package ledger

import (
	"sort"
	"time"
)

// ActivityItem is one row of an actor's statement.
type ActivityItem struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	Direction       string    `json:"direction"`
	Amount          int64     `json:"amount"`
	Delta           int64     `json:"delta"`
	BalanceAfter    int64     `json:"balance_after"`
	CounterpartyRef *string   `json:"counterparty_ref,omitempty"`
	Source          *string   `json:"source,omitempty"`
	At              time.Time `json:"at"`
}

type ActivitySummary struct {
	Earned int64 `json:"earned"`
	Spent  int64 `json:"spent"`
	Net    int64 `json:"net"`
}

// Activity is an actor's settled history with running balance.
type Activity struct {
	ActorRef string          `json:"actor_ref"`
	Items    []ActivityItem  `json:"items"`
	Summary  ActivitySummary `json:"summary"`
}

// BuildActivity replays settled entries oldest first. The summary covers the
// whole history; limit > 0 keeps only the most recent items.
func BuildActivity(actorRef string, entries []Entry, limit int) Activity {
	settled := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Status == StatusSettled {
			settled = append(settled, e)
		}
	}
	sort.SliceStable(settled, func(i, j int) bool {
		return settled[i].EffectiveTime().Before(settled[j].EffectiveTime())
	})

	out := Activity{ActorRef: actorRef, Items: make([]ActivityItem, 0, len(settled))}
	var running int64
	for _, e := range settled {
		delta := e.Delta()
		running += delta

		direction := "neutral"
		switch {
		case delta > 0:
			direction = "earned"
			out.Summary.Earned += delta
		case delta < 0:
			direction = "spent"
			out.Summary.Spent -= delta
		}

		out.Items = append(out.Items, ActivityItem{
			ID:              e.ID,
			Kind:            e.Kind,
			Direction:       direction,
			Amount:          e.Amount,
			Delta:           delta,
			BalanceAfter:    running,
			CounterpartyRef: e.CounterpartyRef,
			Source:          e.Source,
			At:              e.EffectiveTime(),
		})
	}
	out.Summary.Net = out.Summary.Earned - out.Summary.Spent

	if limit > 0 && len(out.Items) > limit {
		out.Items = out.Items[len(out.Items)-limit:]
	}
	return out
}

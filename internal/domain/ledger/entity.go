package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Kind classifies the economic meaning of an entry.
type Kind string

const (
	KindMintAction      Kind = "MINT_ACTION"
	KindBurnReward      Kind = "BURN_REWARD"
	KindContribute      Kind = "CONTRIBUTE"
	KindContributeToBiz Kind = "CONTRIBUTE_TO_BIZ"
	KindBizCollect      Kind = "BIZ_COLLECT"
	KindScan            Kind = "SCAN"
)

func (k Kind) Valid() bool {
	switch k {
	case KindMintAction, KindBurnReward, KindContribute, KindContributeToBiz, KindBizCollect, KindScan:
		return true
	}
	return false
}

// Status of an entry. Only settled entries count.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSettled || s == StatusFailed
}

// Relation links the actor to the entry.
type Relation string

const (
	RelationEarned Relation = "EARNED"
	RelationSpent  Relation = "SPENT"
	RelationNone   Relation = "NONE"
)

// Provenance values stored in Entry.Source.
const (
	SourceVisit = "visit"
	SourceOffer = "offer"
	SourceAdmin = "admin"
	SourceTask  = "task"
)

// Entry is one ledger row. Amount is never negative; direction comes from
// Kind and Relation.
type Entry struct {
	ID              string     `db:"id" json:"id"`
	Amount          int64      `db:"amount" json:"amount"`
	Kind            Kind       `db:"kind" json:"kind"`
	Status          Status     `db:"status" json:"status"`
	Relation        Relation   `db:"relation" json:"relation"`
	ActorRef        string     `db:"actor_ref" json:"actor_ref"`
	CounterpartyRef *string    `db:"counterparty_ref" json:"counterparty_ref,omitempty"`
	LocationRef     *string    `db:"location_ref" json:"location_ref,omitempty"`
	Method          *string    `db:"method" json:"method,omitempty"`
	Source          *string    `db:"source" json:"source,omitempty"`
	OfferID         *string    `db:"offer_id" json:"offer_id,omitempty"`
	OccurredAt      *time.Time `db:"occurred_at" json:"occurred_at,omitempty"`
	OccurredAtMs    *int64     `db:"occurred_at_ms" json:"occurred_at_ms,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	SettledAt       *time.Time `db:"settled_at" json:"settled_at,omitempty"`
	Fingerprint     string     `db:"fingerprint" json:"-"`
}

// Ref returns nil for an empty string so optional columns stay NULL.
func Ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// DefaultRelation is the relation implied by kind.
func DefaultRelation(k Kind) Relation {
	switch k {
	case KindMintAction:
		return RelationEarned
	case KindBurnReward, KindContribute, KindContributeToBiz:
		return RelationSpent
	default:
		return RelationNone
	}
}

// Normalize fills defaults: status settled, relation implied by kind.
func (e *Entry) Normalize() {
	e.ID = strings.TrimSpace(e.ID)
	e.ActorRef = strings.TrimSpace(e.ActorRef)
	if e.Status == "" {
		e.Status = StatusSettled
	}
	if e.Relation == "" {
		e.Relation = DefaultRelation(e.Kind)
	}
	e.Fingerprint = e.ComputeFingerprint()
}

// Validate checks the invariants an entry must satisfy before it is stored.
func (e *Entry) Validate() error {
	switch {
	case e.ID == "" || len(e.ID) > 128:
		return invalid("id must be 1-128 characters")
	case e.ActorRef == "":
		return invalid("actor_ref is required")
	case e.Amount < 0:
		return invalid("amount must not be negative")
	case !e.Kind.Valid():
		return invalid("unknown kind " + string(e.Kind))
	case !e.Status.Valid():
		return invalid("unknown status " + string(e.Status))
	}

	switch e.Kind {
	case KindMintAction:
		if e.Relation != RelationEarned {
			return invalid("MINT_ACTION must be EARNED")
		}
	case KindBurnReward, KindContribute:
		if e.Relation != RelationSpent {
			return invalid(string(e.Kind) + " must be SPENT")
		}
	}
	if e.Relation != RelationEarned && e.Relation != RelationSpent && e.Relation != RelationNone {
		return invalid("unknown relation " + string(e.Relation))
	}
	return nil
}

// Debits reports an entry that lowers the balance once settled.
func (e Entry) Debits() bool {
	return (e.Kind == KindBurnReward || e.Kind == KindContribute) && e.Relation == RelationSpent
}

// Delta is the signed balance effect of the entry.
func (e Entry) Delta() int64 {
	if e.Status != StatusSettled {
		return 0
	}
	switch {
	case e.Kind == KindMintAction && e.Relation == RelationEarned:
		return e.Amount
	case e.Debits():
		return -e.Amount
	}
	return 0
}

// IsEarn reports a settled earn entry.
func (e Entry) IsEarn() bool {
	return e.Status == StatusSettled && e.Kind == KindMintAction && e.Relation == RelationEarned
}

// IsRetire reports a settled spend that retires ECO.
func (e Entry) IsRetire() bool {
	return e.Status == StatusSettled && e.Delta() < 0
}

// EffectiveTime resolves the event time: logical timestamp, then
// epoch-millis, then write time.
func (e Entry) EffectiveTime() time.Time {
	if e.OccurredAt != nil && !e.OccurredAt.IsZero() {
		return e.OccurredAt.UTC()
	}
	if e.OccurredAtMs != nil {
		return time.UnixMilli(*e.OccurredAtMs).UTC()
	}
	return e.CreatedAt.UTC()
}

// ComputeFingerprint hashes the payload fields that decide whether a
// re-submitted id is the same write.
func (e Entry) ComputeFingerprint() string {
	var occurred string
	switch {
	case e.OccurredAt != nil && !e.OccurredAt.IsZero():
		occurred = strconv.FormatInt(e.OccurredAt.UnixMilli(), 10)
	case e.OccurredAtMs != nil:
		occurred = strconv.FormatInt(*e.OccurredAtMs, 10)
	}

	parts := []string{
		e.ID,
		strconv.FormatInt(e.Amount, 10),
		string(e.Kind),
		string(e.Status),
		string(e.Relation),
		e.ActorRef,
		deref(e.CounterpartyRef),
		deref(e.LocationRef),
		deref(e.Method),
		deref(e.Source),
		deref(e.OfferID),
		occurred,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Query filters entry reads. Zero values mean "no filter".
type Query struct {
	Kinds    []Kind
	Statuses []Status
	From     *time.Time // inclusive, on EffectiveTime
	To       *time.Time // exclusive
	Limit    int
}

// Sum is one settled quantity over all time and over a window, with the
// latest contributing event.
type Sum struct {
	Total    int64
	Windowed int64
	LastAt   *time.Time
}

// Totals are the platform-wide earn and retire sums for a window.
// ActiveEarners lists actors with a settled earn inside the window.
type Totals struct {
	Minted        Sum
	Retired       Sum
	ActiveEarners []string
}

// Settled is the filter used by balance and rollup reads.
func Settled(kinds ...Kind) Query {
	return Query{Kinds: kinds, Statuses: []Status{StatusSettled}}
}

// AppendResult reports whether Append created the entry or found an
// identical one.
type AppendResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

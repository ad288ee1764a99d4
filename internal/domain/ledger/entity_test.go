package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	e := &Entry{ID: " e1 ", ActorRef: "a1", Amount: 5, Kind: KindBurnReward}
	e.Normalize()

	require.Equal(t, "e1", e.ID)
	require.Equal(t, StatusSettled, e.Status)
	require.Equal(t, RelationSpent, e.Relation)
	require.NotEmpty(t, e.Fingerprint)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		entry Entry
		ok    bool
	}{
		{"valid mint", Entry{ID: "1", ActorRef: "a", Amount: 1, Kind: KindMintAction}, true},
		{"zero amount allowed", Entry{ID: "1", ActorRef: "a", Kind: KindScan}, true},
		{"missing id", Entry{ActorRef: "a", Kind: KindMintAction}, false},
		{"missing actor", Entry{ID: "1", Kind: KindMintAction}, false},
		{"negative amount", Entry{ID: "1", ActorRef: "a", Amount: -1, Kind: KindMintAction}, false},
		{"unknown kind", Entry{ID: "1", ActorRef: "a", Kind: "GIFT"}, false},
		{"mint marked spent", Entry{ID: "1", ActorRef: "a", Kind: KindMintAction, Relation: RelationSpent}, false},
		{"burn marked earned", Entry{ID: "1", ActorRef: "a", Kind: KindBurnReward, Relation: RelationEarned}, false},
		{"unknown status", Entry{ID: "1", ActorRef: "a", Kind: KindScan, Status: "done"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := tc.entry
			e.Normalize()
			err := e.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, ErrInvalidEntry), "got %v", err)
		})
	}
}

func TestDelta(t *testing.T) {
	settled := func(k Kind, r Relation) Entry {
		return Entry{Amount: 7, Kind: k, Relation: r, Status: StatusSettled}
	}

	require.EqualValues(t, 7, settled(KindMintAction, RelationEarned).Delta())
	require.EqualValues(t, -7, settled(KindBurnReward, RelationSpent).Delta())
	require.EqualValues(t, -7, settled(KindContribute, RelationSpent).Delta())
	require.Zero(t, settled(KindContributeToBiz, RelationSpent).Delta())
	require.Zero(t, settled(KindBizCollect, RelationNone).Delta())
	require.Zero(t, settled(KindScan, RelationNone).Delta())

	pending := settled(KindMintAction, RelationEarned)
	pending.Status = StatusPending
	require.Zero(t, pending.Delta())
}

func TestEffectiveTimeResolution(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	occurred := created.Add(-48 * time.Hour)
	ms := created.Add(-24 * time.Hour).UnixMilli()

	e := Entry{CreatedAt: created}
	require.Equal(t, created, e.EffectiveTime())

	e.OccurredAtMs = &ms
	require.Equal(t, time.UnixMilli(ms).UTC(), e.EffectiveTime())

	e.OccurredAt = &occurred
	require.Equal(t, occurred, e.EffectiveTime())
}

func TestFingerprintCoversPayload(t *testing.T) {
	a := mint("e1", "actor", 10)
	b := mint("e1", "actor", 10)
	a.Normalize()
	b.Normalize()
	require.Equal(t, a.Fingerprint, b.Fingerprint)

	c := mint("e1", "actor", 11)
	c.Normalize()
	require.NotEqual(t, a.Fingerprint, c.Fingerprint)

	d := mint("e1", "actor", 10)
	d.CounterpartyRef = Ref("biz-1")
	d.Normalize()
	require.NotEqual(t, a.Fingerprint, d.Fingerprint)
}

func TestRefEmptyIsNil(t *testing.T) {
	require.Nil(t, Ref(""))
	require.Equal(t, "x", *Ref("x"))
}

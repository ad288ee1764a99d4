package claim

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ecolocal/eco-api/internal/domain/offer"
)

var tierBonus = map[offer.PledgeTier]float64{
	offer.TierStarter: 1.0,
	offer.TierBuilder: 1.15,
	offer.TierLeader:  1.3,
}

// Eps is the earn-per-scan multiplier, rounded to cents on the exact
// decimal value of the product.
func Eps(tier offer.PledgeTier, firstVisit bool) float64 {
	base := 1.0
	if firstVisit {
		base = 1.5
	}
	bonus, ok := tierBonus[tier]
	if !ok {
		bonus = tierBonus[offer.TierStarter]
	}
	eps, _ := strconv.ParseFloat(strconv.FormatFloat(base*bonus, 'f', 2, 64), 64)
	return eps
}

// Reward computes the visit reward: base x eps, then the season multiplier.
// Every step rounds half to even and floors at 1.
func Reward(base int64, eps, season float64) int64 {
	reward := max(1, int64(math.RoundToEven(float64(base)*eps)))
	if season > 0 && season != 1 {
		reward = max(1, int64(math.RoundToEven(float64(reward)*season)))
	}
	return reward
}

// cooldownBucket returns the start of the cooldown window containing now.
func cooldownBucket(now time.Time, cooldown time.Duration) time.Time {
	slot := max(int64(cooldown/time.Millisecond), int64(time.Hour/time.Millisecond))
	ms := now.UnixMilli()
	return time.UnixMilli(ms - ms%slot).UTC()
}

// visitEntryID is deterministic per actor, business and cooldown window, so
// a retried or concurrent visit maps to the same ledger id.
func visitEntryID(actorRef, businessRef string, bucket time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("cool|%s|%s|%d", actorRef, businessRef, bucket.UnixMilli())))
	return hex.EncodeToString(sum[:])[:24]
}

func utcDayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

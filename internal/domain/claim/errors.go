package claim

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned for unknown or inactive codes and inactive businesses
	ErrNotFound = errors.New("claim code not found")

	// ErrGeofence is returned when a visit is attempted outside the code's radius
	ErrGeofence = errors.New("outside geofence")

	// ErrDailyCap is returned when the actor already hit today's visit cap at the business
	ErrDailyCap = errors.New("daily visit cap reached")

	// ErrCooldown is returned when a visit was already rewarded in the current cooldown window
	ErrCooldown = errors.New("visit cooldown active")
)

// CooldownError carries the entry that was minted for the current window.
type CooldownError struct {
	EntryID string
	Amount  int64
	Until   time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: entry %s, until %s", ErrCooldown, e.EntryID, e.Until.Format(time.RFC3339))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

package rollup

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	ScopePlatform = "platform"
	scopeBusiness = "business:"

	DefaultWindow = 30 * 24 * time.Hour
	maxWindow     = 3650 * 24 * time.Hour
)

// Scope selects whose entries a rollup sums. An empty BusinessRef is the
// whole platform.
type Scope struct {
	BusinessRef string
}

func (s Scope) IsPlatform() bool {
	return s.BusinessRef == ""
}

func (s Scope) String() string {
	if s.IsPlatform() {
		return ScopePlatform
	}
	return scopeBusiness + s.BusinessRef
}

// ParseScope accepts "platform" and "business:<ref>".
func ParseScope(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == ScopePlatform:
		return Scope{}, nil
	case strings.HasPrefix(raw, scopeBusiness):
		ref := strings.TrimSpace(strings.TrimPrefix(raw, scopeBusiness))
		if ref == "" {
			return Scope{}, fmt.Errorf("%w: empty business ref", ErrInvalidScope)
		}
		return Scope{BusinessRef: ref}, nil
	}
	return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
}

// ParseWindow accepts Go durations ("24h") and whole days ("30d"). Empty
// means DefaultWindow.
func ParseWindow(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultWindow, nil
	}

	var d time.Duration
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, raw)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, raw)
		}
		d = parsed
	}

	if d <= 0 || d > maxWindow {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidWindow, raw)
	}
	return d, nil
}

// Series is one summed quantity: lifetime, within the window, and the
// latest contributing event.
type Series struct {
	Total       int64      `json:"total"`
	Windowed    int64      `json:"windowed"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

func (s *Series) add(amount int64, at time.Time, inWindow bool) {
	s.Total += amount
	if inWindow {
		s.Windowed += amount
	}
	if s.LastEventAt == nil || at.After(*s.LastEventAt) {
		t := at
		s.LastEventAt = &t
	}
}

// Overview is the stats view for one scope and window.
type Overview struct {
	Scope              string    `json:"scope"`
	Window             string    `json:"window"`
	From               time.Time `json:"from"`
	To                 time.Time `json:"to"`
	Minted             Series    `json:"minted"`
	Retired            Series    `json:"retired"`
	ActiveParticipants int64     `json:"active_participants"`
	Businesses         int64     `json:"businesses"`
	Offers             int64     `json:"offers"`
}

func formatWindow(d time.Duration) string {
	day := 24 * time.Hour
	if d%day == 0 {
		return strconv.FormatInt(int64(d/day), 10) + "d"
	}
	return d.String()
}

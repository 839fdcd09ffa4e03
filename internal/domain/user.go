package domain

import (
	"fmt"
	"strings"
	"time"
)

// User is the read model of a person who receives accountability calls.
type User struct {
	ID        string
	Name      string
	PushToken string
	Timezone  string
	// CallTime is the preferred local call time as HH:MM.
	CallTime  string
	Active    bool
	CreatedAt time.Time
}

func (u User) HasPushDestination() bool {
	return strings.TrimSpace(u.PushToken) != ""
}

// Location resolves the user's IANA timezone, falling back to UTC.
func (u User) Location() (*time.Location, error) {
	name := strings.TrimSpace(u.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, fmt.Errorf("%w: unknown timezone %q", ErrValidation, u.Timezone)
	}
	return loc, nil
}

// LocalDayStart returns midnight of the user's local day containing now.
func (u User) LocalDayStart(now time.Time) time.Time {
	loc, _ := u.Location()
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// ParseCallTime converts HH:MM into minutes after local midnight.
func ParseCallTime(value string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: call time must be HH:MM (got %q)", ErrValidation, value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// CallCandidate is a user with enough call history to decide eligibility.
type CallCandidate struct {
	User           User
	HasAnyCall     bool
	LastOriginalAt *time.Time
}

// DueUsers splits users due right now into the new-user lane and everybody else.
type DueUsers struct {
	FirstDay  []User
	Recurring []User
}

// PromiseStatus is the outcome of a commitment the user made on a call.
type PromiseStatus string

const (
	PromiseStatusPending PromiseStatus = "pending"
	PromiseStatusKept    PromiseStatus = "kept"
	PromiseStatusBroken  PromiseStatus = "broken"
)

func (s PromiseStatus) IsValid() bool {
	switch s {
	case PromiseStatusPending, PromiseStatusKept, PromiseStatusBroken:
		return true
	}
	return false
}

// PromiseOutcome is one dated commitment result.
type PromiseOutcome struct {
	Status PromiseStatus
	Date   time.Time
}

// BehavioralContext feeds tone scoring and escalation messaging.
type BehavioralContext struct {
	Name           string
	RecentOutcomes []PromiseOutcome
	StreakDays     int
}

// StreakDays counts consecutive days with a kept promise ending today or yesterday.
// A broken promise or a missing day ends the streak.
func StreakDays(outcomes []PromiseOutcome, today time.Time) int {
	streak, _ := OpenStreak(outcomes, today)
	return streak
}

// OpenStreak is StreakDays that also reports whether the streak runs past the
// oldest outcome given, in which case older history may lengthen it.
func OpenStreak(outcomes []PromiseOutcome, today time.Time) (int, bool) {
	if len(outcomes) == 0 {
		return 0, false
	}

	kept := make(map[time.Time]bool, len(outcomes))
	oldest := truncateDay(outcomes[0].Date)
	for _, o := range outcomes {
		day := truncateDay(o.Date)
		if day.Before(oldest) {
			oldest = day
		}
		switch o.Status {
		case PromiseStatusBroken:
			kept[day] = false
		case PromiseStatusKept:
			if _, seen := kept[day]; !seen {
				kept[day] = true
			}
		}
	}

	cursor := truncateDay(today)
	if ok, seen := kept[cursor]; !seen || !ok {
		cursor = cursor.AddDate(0, 0, -1)
	}

	streak := 0
	for kept[cursor] {
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return streak, streak > 0 && cursor.Before(oldest)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

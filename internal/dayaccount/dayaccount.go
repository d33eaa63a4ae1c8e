// Package dayaccount holds the pure date and skip arithmetic behind the
// subscription lifecycle: end-date computation, delivery checks, pause
// windows, and carry-forward conversion. No function here touches storage
// or the clock; callers pass dates in and persist the results.
package dayaccount

import (
	"strings"
	"time"

	"github.com/tiffinworks/dabba/internal/fault"
	"github.com/tiffinworks/dabba/internal/model"
)

// DateOf truncates to a calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SkipCalendar is the set of skipped dates for one account, keyed at UTC
// midnight.
type SkipCalendar map[time.Time]bool

// NewSkipCalendar builds a calendar from skip records, counting only active
// ones: cancelled and already-applied skips do not exclude dates.
func NewSkipCalendar(records []model.SkipRecord) SkipCalendar {
	cal := make(SkipCalendar, len(records))
	for _, r := range records {
		if r.Status != model.SkipActive {
			continue
		}
		cal[DateOf(r.SkipDate)] = true
	}
	return cal
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Walk limit mirroring the recurrence iterator bound; only reachable with
// absurd paidDays values.
const maxWalkDays = 10000

// ComputeEndDate walks forward from startDate counting deliverable days.
// A day counts unless it is an active skip or, when skipWeekends is set, a
// Saturday or Sunday. The returned date is the paidDays-th counted day,
// inclusive. paidDays <= 0 yields the zero time: no service window exists.
func ComputeEndDate(startDate time.Time, paidDays int, cal SkipCalendar, skipWeekends bool) time.Time {
	if paidDays <= 0 {
		return time.Time{}
	}

	day := DateOf(startDate)
	counted := 0
	for i := 0; i < maxWalkDays; i++ {
		skipped := cal[day] || (skipWeekends && isWeekend(day))
		if !skipped {
			counted++
			if counted == paidDays {
				return day
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

// Reason explains why a delivery does or does not happen on a given date.
type Reason string

const (
	ReasonDeliver    Reason = "deliver"
	ReasonNotActive  Reason = "not_active"
	ReasonExhausted  Reason = "paid_days_exhausted"
	ReasonNotStarted Reason = "before_start_date"
	ReasonPaused     Reason = "paused"
	ReasonSkipped    Reason = "skipped"
	ReasonWeekend    Reason = "weekend"
)

// ShouldDeliverToday checks the account against the date in strict
// precedence order and returns the first disqualifying reason, or true.
func ShouldDeliverToday(a *model.ServiceAccount, cal SkipCalendar, date time.Time) (bool, Reason) {
	day := DateOf(date)

	if a.Status != model.AccountActive {
		return false, ReasonNotActive
	}
	if a.DeliveredDays >= a.PaidDays {
		return false, ReasonExhausted
	}
	if !a.StartDate.IsZero() && day.Before(DateOf(a.StartDate)) {
		return false, ReasonNotStarted
	}
	// Half-open window: the pause end date is the first delivery day after
	// the pause, matching the day count RecordPause credits.
	if !a.PauseStart.IsZero() && !a.PauseEnd.IsZero() &&
		!day.Before(DateOf(a.PauseStart)) && day.Before(DateOf(a.PauseEnd)) {
		return false, ReasonPaused
	}
	if cal[day] {
		return false, ReasonSkipped
	}
	if a.SkipWeekends && isWeekend(day) {
		return false, ReasonWeekend
	}
	return true, ReasonDeliver
}

// CarryForwardResult reports one conversion of accumulated skip credit into
// extended service days.
type CarryForwardResult struct {
	DaysAdded       int
	LeftoverCredits int
	ProcessedIDs    []int64
}

var mealTokens = []string{"Breakfast", "Lunch", "Dinner"}

// MealsPerDay counts the meal tokens present in the account's meal-type
// string, never less than one.
func MealsPerDay(mealType string) int {
	n := 0
	lower := strings.ToLower(mealType)
	for _, token := range mealTokens {
		if strings.Contains(lower, strings.ToLower(token)) {
			n++
		}
	}
	if n < 1 {
		return 1
	}
	return n
}

// ApplyCarryForward converts a month's unconverted skips into whole extended
// service days. It mutates the account's end date and flips each processed
// record's CarryForwardApplied flag in place; records already flagged are
// never reprocessed. The caller persists both.
func ApplyCarryForward(a *model.ServiceAccount, monthSkips []model.SkipRecord) CarryForwardResult {
	var result CarryForwardResult
	for i := range monthSkips {
		if monthSkips[i].CarryForwardApplied {
			continue
		}
		monthSkips[i].CarryForwardApplied = true
		result.ProcessedIDs = append(result.ProcessedIDs, monthSkips[i].ID)
	}

	skipCount := len(result.ProcessedIDs)
	if skipCount == 0 {
		return result
	}

	mealsPerDay := MealsPerDay(a.MealType)
	result.DaysAdded = skipCount / mealsPerDay
	result.LeftoverCredits = skipCount % mealsPerDay

	if result.DaysAdded > 0 && !a.EndDate.IsZero() {
		a.EndDate = a.EndDate.AddDate(0, 0, result.DaysAdded)
	}
	return result
}

// MaxPauseDays caps a single pause window.
const MaxPauseDays = 30

// RecordPause validates and applies a pause window to the account: the
// window is stored, accumulated pause days grow by the window length, and an
// existing end date is shifted forward by exactly that length, once. The
// window is half-open, so pauseEnd itself is the first delivery day and the
// shift equals the number of blocked days. The returned day count is what
// the caller records in pause history. today is the caller's current date;
// a pause may not start before it.
func RecordPause(a *model.ServiceAccount, pauseStart, pauseEnd, today time.Time) (int, error) {
	start := DateOf(pauseStart)
	end := DateOf(pauseEnd)

	if start.Before(DateOf(today)) {
		return 0, fault.Validationf("pause cannot start in the past")
	}
	if !end.After(start) {
		return 0, fault.Validationf("pause end must be after pause start")
	}
	days := int(end.Sub(start).Hours() / 24)
	if days > MaxPauseDays {
		return 0, fault.Validationf("pause cannot exceed %d days", MaxPauseDays)
	}

	a.PauseStart = start
	a.PauseEnd = end
	a.AccumulatedPauseDays += days
	if !a.EndDate.IsZero() {
		a.EndDate = a.EndDate.AddDate(0, 0, days)
	}
	return days, nil
}

package dayaccount

import (
	"testing"
	"time"

	"github.com/tiffinworks/dabba/internal/fault"
	"github.com/tiffinworks/dabba/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func activeAccount() *model.ServiceAccount {
	return &model.ServiceAccount{
		ID:         1,
		MerchantID: 1,
		Status:     model.AccountActive,
		MealType:   "Lunch",
		PaidDays:   30,
		StartDate:  day(2024, 1, 1),
		EndDate:    day(2024, 1, 30),
	}
}

func TestComputeEndDateNoSkips(t *testing.T) {
	end := ComputeEndDate(day(2024, 1, 1), 30, nil, false)
	want := day(2024, 1, 30)
	if !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestComputeEndDateSkipWeekends(t *testing.T) {
	// 2024-01-01 is a Monday; 30 weekdays from there cross 10 weekend days.
	end := ComputeEndDate(day(2024, 1, 1), 30, nil, true)
	want := day(2024, 2, 9)
	if !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestComputeEndDateWithSkipCalendar(t *testing.T) {
	cal := SkipCalendar{day(2024, 1, 2): true, day(2024, 1, 10): true}
	end := ComputeEndDate(day(2024, 1, 1), 30, cal, false)
	want := day(2024, 2, 1)
	if !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestComputeEndDateZeroPaidDays(t *testing.T) {
	end := ComputeEndDate(day(2024, 1, 1), 0, nil, false)
	if !end.IsZero() {
		t.Errorf("end = %v, want zero time", end)
	}
}

func TestComputeEndDateSinglePaidDay(t *testing.T) {
	end := ComputeEndDate(day(2024, 1, 1), 1, nil, false)
	if !end.Equal(day(2024, 1, 1)) {
		t.Errorf("end = %v, want start date itself", end)
	}
}

func TestComputeEndDateCountsExactPaidDays(t *testing.T) {
	// Every counted day in [start, end] must be deliverable and total paidDays.
	start := day(2024, 3, 1)
	cal := SkipCalendar{day(2024, 3, 5): true, day(2024, 3, 12): true}
	paidDays := 20

	end := ComputeEndDate(start, paidDays, cal, true)

	counted := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if cal[d] || isWeekend(d) {
			continue
		}
		counted++
	}
	if counted != paidDays {
		t.Errorf("counted %d deliverable days in [start, end], want %d", counted, paidDays)
	}
}

func TestShouldDeliverTodayActive(t *testing.T) {
	a := activeAccount()
	ok, reason := ShouldDeliverToday(a, nil, day(2024, 1, 15))
	if !ok {
		t.Errorf("deliver = false (%s), want true", reason)
	}
}

func TestShouldDeliverTodayInactiveWinsOverEverything(t *testing.T) {
	// An inactive account never delivers, even when every other field is
	// otherwise deliverable.
	for _, status := range []string{
		model.AccountInactive, model.AccountPaused, model.AccountPendingVerification,
		model.AccountRejected, model.AccountDeleted,
	} {
		a := activeAccount()
		a.Status = status
		ok, reason := ShouldDeliverToday(a, nil, day(2024, 1, 15))
		if ok {
			t.Errorf("status %s: deliver = true, want false", status)
		}
		if reason != ReasonNotActive {
			t.Errorf("status %s: reason = %s, want %s", status, reason, ReasonNotActive)
		}
	}
}

func TestShouldDeliverTodayExhausted(t *testing.T) {
	a := activeAccount()
	a.DeliveredDays = 30
	ok, reason := ShouldDeliverToday(a, nil, day(2024, 1, 15))
	if ok || reason != ReasonExhausted {
		t.Errorf("got (%v, %s), want (false, %s)", ok, reason, ReasonExhausted)
	}
}

func TestShouldDeliverTodayBeforeStart(t *testing.T) {
	a := activeAccount()
	ok, reason := ShouldDeliverToday(a, nil, day(2023, 12, 31))
	if ok || reason != ReasonNotStarted {
		t.Errorf("got (%v, %s), want (false, %s)", ok, reason, ReasonNotStarted)
	}
}

func TestShouldDeliverTodayPaused(t *testing.T) {
	a := activeAccount()
	a.PauseStart = day(2024, 1, 10)
	a.PauseEnd = day(2024, 1, 20)
	ok, reason := ShouldDeliverToday(a, nil, day(2024, 1, 15))
	if ok || reason != ReasonPaused {
		t.Errorf("got (%v, %s), want (false, %s)", ok, reason, ReasonPaused)
	}

	// The window is half-open: the end date itself is a delivery day.
	if ok, reason := ShouldDeliverToday(a, nil, day(2024, 1, 19)); ok || reason != ReasonPaused {
		t.Errorf("day before pause end: got (%v, %s), want (false, %s)", ok, reason, ReasonPaused)
	}
	if ok, _ := ShouldDeliverToday(a, nil, day(2024, 1, 20)); !ok {
		t.Error("deliver = false on pause end date, want true")
	}
}

func TestPauseBlocksExactlyTheCreditedDays(t *testing.T) {
	// Every day the window blocks must be a day RecordPause credited, so a
	// pause never costs the customer a paid day.
	a := activeAccount()
	today := day(2024, 1, 1)
	days, err := RecordPause(a, day(2024, 1, 10), day(2024, 1, 14), today)
	if err != nil {
		t.Fatalf("record pause: %v", err)
	}

	blocked := 0
	for d := day(2024, 1, 1); !d.After(day(2024, 1, 31)); d = d.AddDate(0, 0, 1) {
		if ok, reason := ShouldDeliverToday(a, nil, d); !ok && reason == ReasonPaused {
			blocked++
		}
	}
	if blocked != days {
		t.Errorf("window blocks %d days but credited %d", blocked, days)
	}
}

func TestShouldDeliverTodaySkipped(t *testing.T) {
	a := activeAccount()
	cal := SkipCalendar{day(2024, 1, 15): true}
	ok, reason := ShouldDeliverToday(a, cal, day(2024, 1, 15))
	if ok || reason != ReasonSkipped {
		t.Errorf("got (%v, %s), want (false, %s)", ok, reason, ReasonSkipped)
	}
}

func TestShouldDeliverTodayWeekend(t *testing.T) {
	a := activeAccount()
	a.SkipWeekends = true
	// 2024-01-13 is a Saturday.
	ok, reason := ShouldDeliverToday(a, nil, day(2024, 1, 13))
	if ok || reason != ReasonWeekend {
		t.Errorf("got (%v, %s), want (false, %s)", ok, reason, ReasonWeekend)
	}
}

func TestShouldDeliverTodayPauseBeatsSkip(t *testing.T) {
	a := activeAccount()
	a.PauseStart = day(2024, 1, 10)
	a.PauseEnd = day(2024, 1, 20)
	cal := SkipCalendar{day(2024, 1, 15): true}
	_, reason := ShouldDeliverToday(a, cal, day(2024, 1, 15))
	if reason != ReasonPaused {
		t.Errorf("reason = %s, want %s (pause window checked before skips)", reason, ReasonPaused)
	}
}

func TestNewSkipCalendarIgnoresCancelled(t *testing.T) {
	records := []model.SkipRecord{
		{ID: 1, SkipDate: day(2024, 1, 2), Status: model.SkipActive},
		{ID: 2, SkipDate: day(2024, 1, 3), Status: model.SkipCancelled},
		{ID: 3, SkipDate: day(2024, 1, 4), Status: model.SkipApplied},
	}
	cal := NewSkipCalendar(records)
	if !cal[day(2024, 1, 2)] {
		t.Error("active skip missing from calendar")
	}
	if cal[day(2024, 1, 3)] || cal[day(2024, 1, 4)] {
		t.Error("cancelled/applied skips must not exclude dates")
	}
}

func TestMealsPerDay(t *testing.T) {
	cases := []struct {
		mealType string
		want     int
	}{
		{"Lunch", 1},
		{"Breakfast,Lunch", 2},
		{"Breakfast,Lunch,Dinner", 3},
		{"lunch and dinner", 2},
		{"", 1},
		{"Snacks", 1},
	}
	for _, tc := range cases {
		if got := MealsPerDay(tc.mealType); got != tc.want {
			t.Errorf("MealsPerDay(%q) = %d, want %d", tc.mealType, got, tc.want)
		}
	}
}

func TestApplyCarryForward(t *testing.T) {
	a := activeAccount()
	a.MealType = "Breakfast,Lunch"
	skips := []model.SkipRecord{
		{ID: 1, Status: model.SkipApplied},
		{ID: 2, Status: model.SkipApplied},
		{ID: 3, Status: model.SkipApplied},
		{ID: 4, Status: model.SkipApplied},
		{ID: 5, Status: model.SkipApplied},
	}

	result := ApplyCarryForward(a, skips)
	if result.DaysAdded != 2 {
		t.Errorf("days added = %d, want 2", result.DaysAdded)
	}
	if result.LeftoverCredits != 1 {
		t.Errorf("leftover = %d, want 1", result.LeftoverCredits)
	}
	if len(result.ProcessedIDs) != 5 {
		t.Errorf("processed = %d records, want 5", len(result.ProcessedIDs))
	}
	want := day(2024, 2, 1)
	if !a.EndDate.Equal(want) {
		t.Errorf("end date = %v, want %v", a.EndDate, want)
	}
	for _, r := range skips {
		if !r.CarryForwardApplied {
			t.Errorf("skip %d not marked applied", r.ID)
		}
	}
}

func TestApplyCarryForwardNeverReprocesses(t *testing.T) {
	a := activeAccount()
	skips := []model.SkipRecord{
		{ID: 1, Status: model.SkipApplied},
		{ID: 2, Status: model.SkipApplied},
	}

	first := ApplyCarryForward(a, skips)
	if first.DaysAdded != 2 {
		t.Fatalf("first pass days added = %d, want 2", first.DaysAdded)
	}
	endAfterFirst := a.EndDate

	second := ApplyCarryForward(a, skips)
	if second.DaysAdded != 0 {
		t.Errorf("second pass days added = %d, want 0", second.DaysAdded)
	}
	if len(second.ProcessedIDs) != 0 {
		t.Errorf("second pass processed %d records, want 0", len(second.ProcessedIDs))
	}
	if !a.EndDate.Equal(endAfterFirst) {
		t.Errorf("end date moved on second pass: %v -> %v", endAfterFirst, a.EndDate)
	}
}

func TestRecordPauseRejectsPastStart(t *testing.T) {
	a := activeAccount()
	today := day(2024, 1, 15)
	_, err := RecordPause(a, day(2024, 1, 10), day(2024, 1, 20), today)
	if !fault.IsValidation(err) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestRecordPauseRejectsInvertedRange(t *testing.T) {
	a := activeAccount()
	today := day(2024, 1, 15)
	if _, err := RecordPause(a, day(2024, 1, 20), day(2024, 1, 20), today); !fault.IsValidation(err) {
		t.Errorf("equal range: err = %v, want validation error", err)
	}
	if _, err := RecordPause(a, day(2024, 1, 20), day(2024, 1, 18), today); !fault.IsValidation(err) {
		t.Errorf("inverted range: err = %v, want validation error", err)
	}
}

func TestRecordPauseRejectsOverlongSpan(t *testing.T) {
	a := activeAccount()
	today := day(2024, 1, 15)
	_, err := RecordPause(a, day(2024, 1, 16), day(2024, 2, 16), today)
	if !fault.IsValidation(err) {
		t.Errorf("31-day span: err = %v, want validation error", err)
	}
	// Exactly 30 days is allowed.
	if _, err := RecordPause(a, day(2024, 1, 16), day(2024, 2, 15), today); err != nil {
		t.Errorf("30-day span: err = %v, want nil", err)
	}
}

func TestRecordPauseShiftsEndDate(t *testing.T) {
	a := activeAccount()
	today := day(2024, 1, 15)
	endBefore := a.EndDate

	days, err := RecordPause(a, day(2024, 1, 16), day(2024, 1, 26), today)
	if err != nil {
		t.Fatalf("record pause: %v", err)
	}
	if days != 10 {
		t.Errorf("days = %d, want 10", days)
	}
	if !a.EndDate.Equal(endBefore.AddDate(0, 0, 10)) {
		t.Errorf("end date = %v, want %v", a.EndDate, endBefore.AddDate(0, 0, 10))
	}
	if a.AccumulatedPauseDays != 10 {
		t.Errorf("accumulated = %d, want 10", a.AccumulatedPauseDays)
	}
}

func TestRecordPauseAccumulates(t *testing.T) {
	a := activeAccount()
	a.AccumulatedPauseDays = 5
	today := day(2024, 1, 15)

	if _, err := RecordPause(a, day(2024, 1, 16), day(2024, 1, 19), today); err != nil {
		t.Fatalf("record pause: %v", err)
	}
	if a.AccumulatedPauseDays != 8 {
		t.Errorf("accumulated = %d, want 8", a.AccumulatedPauseDays)
	}
}

func TestRecordPauseWithoutEndDate(t *testing.T) {
	a := activeAccount()
	a.EndDate = time.Time{}
	today := day(2024, 1, 15)

	if _, err := RecordPause(a, day(2024, 1, 16), day(2024, 1, 20), today); err != nil {
		t.Fatalf("record pause: %v", err)
	}
	if !a.EndDate.IsZero() {
		t.Errorf("end date = %v, want zero (no end date to shift)", a.EndDate)
	}
}

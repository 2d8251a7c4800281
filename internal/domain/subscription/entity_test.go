package subscription

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	all := []Status{StatusPending, StatusActive, StatusExpiring, StatusExpired}

	allowed := map[Status]map[Status]bool{
		StatusPending:  {StatusActive: true},
		StatusActive:   {StatusExpiring: true, StatusExpired: true},
		StatusExpiring: {StatusExpired: true},
		StatusExpired:  {},
	}

	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			want := allowed[from][to]
			if got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

// rank orders statuses along the lifecycle; every allowed transition must
// move strictly forward, so no sequence of events can revive a record.
func TestTransitionsAreMonotonic(t *testing.T) {
	rank := map[Status]int{
		StatusPending:  0,
		StatusActive:   1,
		StatusExpiring: 2,
		StatusExpired:  3,
	}
	for from, nexts := range allowedTransitions {
		for _, to := range nexts {
			if rank[to] <= rank[from] {
				t.Errorf("transition %s -> %s moves backwards", from, to)
			}
		}
	}
}

func TestPlanCatalog(t *testing.T) {
	monthly, err := PlanByName("monthly")
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if !monthly.IsRecurring() || monthly.TermMonths != 1 {
		t.Errorf("monthly plan misconfigured: %+v", monthly)
	}

	yearly, err := PlanByName("yearly")
	if err != nil {
		t.Fatalf("yearly: %v", err)
	}
	if !yearly.IsRecurring() || yearly.TermMonths != 12 {
		t.Errorf("yearly plan misconfigured: %+v", yearly)
	}
	if yearly.CycleCredits != monthly.CycleCredits {
		t.Errorf("yearly cycle credits %d != monthly %d", yearly.CycleCredits, monthly.CycleCredits)
	}

	oneTime, err := PlanByName("one_time")
	if err != nil {
		t.Fatalf("one_time: %v", err)
	}
	if oneTime.IsRecurring() {
		t.Error("one_time plan must not be recurring")
	}
	if !oneTime.RequiresBaseSub {
		t.Error("one_time plan must require a base subscription")
	}
	if oneTime.PackCredits <= 0 || oneTime.PackValidityDays <= 0 {
		t.Errorf("one_time pack misconfigured: %+v", oneTime)
	}

	if _, err := PlanByName("weekly"); err != ErrPlanNotFound {
		t.Errorf("expected ErrPlanNotFound for unknown plan, got %v", err)
	}
}

func TestCurrentCycleStart(t *testing.T) {
	plan, _ := PlanByName("monthly")

	tests := []struct {
		name   string
		anchor time.Time
		now    time.Time
		want   time.Time
	}{
		{
			name:   "before start",
			anchor: date(2026, 3, 10),
			now:    date(2026, 3, 1),
			want:   date(2026, 3, 10),
		},
		{
			name:   "inside first cycle",
			anchor: date(2026, 3, 10),
			now:    date(2026, 3, 25),
			want:   date(2026, 3, 10),
		},
		{
			name:   "exactly on second cycle boundary",
			anchor: date(2026, 3, 10),
			now:    date(2026, 4, 10),
			want:   date(2026, 4, 10),
		},
		{
			name:   "inside third cycle",
			anchor: date(2026, 3, 10),
			now:    date(2026, 5, 20),
			want:   date(2026, 5, 10),
		},
		{
			// Jan 31 anchor: Feb clamps to the 28th but March must come
			// back to the 31st, not drift to the 28th.
			name:   "month-end anchor after clamped month",
			anchor: date(2026, 1, 31),
			now:    date(2026, 4, 1),
			want:   date(2026, 3, 31),
		},
		{
			name:   "month-end anchor inside clamped month",
			anchor: date(2026, 1, 31),
			now:    date(2026, 3, 15),
			want:   date(2026, 3, 3), // Jan 31 + 1 month = Mar 3 (Feb has 28 days)
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := plan.CurrentCycleStart(tt.anchor, tt.now)
			if !got.Equal(tt.want) {
				t.Fatalf("CurrentCycleStart(%v, %v) = %v, want %v", tt.anchor, tt.now, got, tt.want)
			}
		})
	}
}

func TestNextCycleStart(t *testing.T) {
	plan, _ := PlanByName("monthly")

	anchor := date(2026, 3, 10)
	next := plan.NextCycleStart(anchor, date(2026, 3, 25))
	if !next.Equal(date(2026, 4, 10)) {
		t.Fatalf("next cycle = %v, want 2026-04-10", next)
	}

	// At the activation instant the next cycle is one term ahead.
	next = plan.NextCycleStart(anchor, anchor)
	if !next.Equal(date(2026, 4, 10)) {
		t.Fatalf("next cycle at anchor = %v, want 2026-04-10", next)
	}

	// Next is always strictly after current, even across clamped months.
	anchor = date(2026, 1, 31)
	now := anchor
	for i := 0; i < 14; i++ {
		current := plan.CurrentCycleStart(anchor, now)
		next := plan.NextCycleStart(anchor, now)
		if !next.After(current) {
			t.Fatalf("cycle %d: next %v not after current %v", i, next, current)
		}
		now = next
	}
}

func TestIsExpired(t *testing.T) {
	sub := &Subscription{EndDate: date(2026, 6, 1)}
	if sub.IsExpired(date(2026, 5, 31)) {
		t.Error("not expired before end date")
	}
	if sub.IsExpired(date(2026, 6, 1)) {
		t.Error("end date itself is still inside the paid period")
	}
	if !sub.IsExpired(date(2026, 6, 2)) {
		t.Error("expired after end date")
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func mondayAt(hour, minute, second int) time.Time {
	// 2024-01-01 was a Monday.
	return time.Date(2024, 1, 1, hour, minute, second, 0, time.UTC)
}

func TestCronFiresExactlyOnceThenNotAtHalfPast(t *testing.T) {
	var mu sync.Mutex
	var fired []CronJob

	sched := New(func(ctx context.Context, job CronJob) error {
		mu.Lock()
		fired = append(fired, job)
		mu.Unlock()
		return nil
	})
	if err := sched.AddCron(CronJob{ID: "j1", CronExpr: "0 9 * * 1", Prompt: "morning check"}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	ctx := context.Background()
	sched.checkCron(ctx, mondayAt(9, 0, 0))
	sched.checkCron(ctx, mondayAt(9, 0, 30))

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 {
		t.Fatalf("got %d fires, want 1: %+v", len(fired), fired)
	}
	if fired[0].Prompt != "morning check" {
		t.Fatalf("got prompt %q, want %q", fired[0].Prompt, "morning check")
	}
}

func TestCronDoesNotFireOnWrongWeekday(t *testing.T) {
	var fireCount int
	sched := New(func(ctx context.Context, job CronJob) error {
		fireCount++
		return nil
	})
	sched.AddCron(CronJob{ID: "j1", CronExpr: "0 9 * * 1", Prompt: "x"})

	tuesday := mondayAt(9, 0, 0).AddDate(0, 0, 1)
	sched.checkCron(context.Background(), tuesday)
	if fireCount != 0 {
		t.Fatalf("expected no fire on Tuesday, got %d", fireCount)
	}
}

func TestCronRunOnceJobDeletedAfterFiring(t *testing.T) {
	var fireCount int
	sched := New(func(ctx context.Context, job CronJob) error {
		fireCount++
		return nil
	})
	sched.AddCron(CronJob{ID: "j1", CronExpr: "0 9 * * 1", Prompt: "x", RunOnce: true})

	sched.checkCron(context.Background(), mondayAt(9, 0, 0))
	if fireCount != 1 {
		t.Fatalf("expected 1 fire, got %d", fireCount)
	}
	if len(sched.ListJobs()) != 0 {
		t.Fatalf("expected run-once job removed from table, got %d remaining", len(sched.ListJobs()))
	}
}

func TestCronRespectsActiveHours(t *testing.T) {
	var fireCount int
	sched := New(func(ctx context.Context, job CronJob) error {
		fireCount++
		return nil
	}, WithActiveHours(ActiveHours{Timezone: "UTC", StartMin: 10 * 60, EndMin: 18 * 60}))
	sched.AddCron(CronJob{ID: "j1", CronExpr: "0 9 * * 1", Prompt: "x"})

	sched.checkCron(context.Background(), mondayAt(9, 0, 0))
	if fireCount != 0 {
		t.Fatalf("expected no fire outside active hours, got %d", fireCount)
	}
}

func TestAddCronRejectsInvalidExpression(t *testing.T) {
	sched := New(func(ctx context.Context, job CronJob) error { return nil })
	if err := sched.AddCron(CronJob{ID: "bad", CronExpr: "not a cron expr"}); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}

func TestRemoveCronReportsExistence(t *testing.T) {
	sched := New(func(ctx context.Context, job CronJob) error { return nil })
	sched.AddCron(CronJob{ID: "j1", CronExpr: "* * * * *"})
	if !sched.RemoveCron("j1") {
		t.Fatalf("expected RemoveCron to report existing job removed")
	}
	if sched.RemoveCron("j1") {
		t.Fatalf("expected second RemoveCron to report nothing removed")
	}
}

func TestActiveHoursWraparoundMidnight(t *testing.T) {
	hours := ActiveHours{Timezone: "UTC", StartMin: 22 * 60, EndMin: 6 * 60}
	if !hours.Contains(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 23:00 to be within wraparound window")
	}
	if !hours.Contains(time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 02:00 to be within wraparound window")
	}
	if hours.Contains(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected noon to be outside wraparound window")
	}
}

func TestHintGateFiresWhenAllConditionsMet(t *testing.T) {
	gate := NewHintGate(0.5, nil, time.Hour, func(scope string) bool { return true })
	hint := Hint{Kind: "idle", Scope: "session-1", SuggestedPrompt: "check in", Confidence: 0.8}

	decision := gate.Evaluate(hint, time.Now())
	if decision.Verdict != HintFire {
		t.Fatalf("got verdict %v, want HintFire: %+v", decision.Verdict, decision)
	}
}

func TestHintGateSuppressesLowConfidence(t *testing.T) {
	gate := NewHintGate(0.5, nil, time.Hour, nil)
	hint := Hint{Kind: "idle", Scope: "s1", SuggestedPrompt: "p", Confidence: 0.2}

	decision := gate.Evaluate(hint, time.Now())
	if decision.Verdict != HintSuppressed {
		t.Fatalf("got verdict %v, want HintSuppressed", decision.Verdict)
	}
}

func TestHintGateEnforcesCooldown(t *testing.T) {
	gate := NewHintGate(0.5, nil, time.Hour, func(string) bool { return true })
	hint := Hint{Kind: "idle", Scope: "s1", SuggestedPrompt: "p", Confidence: 0.9}

	now := time.Now()
	first := gate.Evaluate(hint, now)
	if first.Verdict != HintFire {
		t.Fatalf("expected first evaluation to fire, got %v", first.Verdict)
	}
	second := gate.Evaluate(hint, now.Add(time.Minute))
	if second.Verdict != HintSuppressed {
		t.Fatalf("expected second evaluation within cooldown to suppress, got %v", second.Verdict)
	}
	third := gate.Evaluate(hint, now.Add(2*time.Hour))
	if third.Verdict != HintFire {
		t.Fatalf("expected evaluation after cooldown elapsed to fire, got %v", third.Verdict)
	}
}

func TestHintGateQueuesOverBudgetHints(t *testing.T) {
	gate := NewHintGate(0.5, nil, time.Hour, func(string) bool { return false })
	hint := Hint{Kind: "idle", Scope: "s1", SuggestedPrompt: "p", Confidence: 0.9}

	decision := gate.Evaluate(hint, time.Now())
	if decision.Verdict != HintQueuedOverBudget {
		t.Fatalf("got verdict %v, want HintQueuedOverBudget", decision.Verdict)
	}
}

func TestScheduleOnceFiresAndDeletesJob(t *testing.T) {
	fired := make(chan CronJob, 1)
	sched := New(func(ctx context.Context, job CronJob) error {
		fired <- job
		return nil
	})

	sched.ScheduleOnce(context.Background(), CronJob{ID: "once-1", Prompt: "one shot"}, time.Now().Add(10*time.Millisecond))

	select {
	case job := <-fired:
		if job.Prompt != "one shot" {
			t.Fatalf("got prompt %q, want %q", job.Prompt, "one shot")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for one-shot fire")
	}
}

func TestCancelOnceStopsScheduledFire(t *testing.T) {
	fired := make(chan CronJob, 1)
	sched := New(func(ctx context.Context, job CronJob) error {
		fired <- job
		return nil
	})

	sched.ScheduleOnce(context.Background(), CronJob{ID: "once-2"}, time.Now().Add(50*time.Millisecond))
	if !sched.CancelOnce("once-2") {
		t.Fatalf("expected CancelOnce to find a pending timer")
	}

	select {
	case <-fired:
		t.Fatal("expected cancelled one-shot to never fire")
	case <-time.After(150 * time.Millisecond):
	}
}

package quota_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/identity"
	"chatgrid.org/internal/quota"
	"chatgrid.org/internal/store/memory"
)

var metered = identity.Identity{ID: "u1", DisplayName: "ada", Role: identity.RoleUser}

func TestQuotaBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tracker := quota.NewTracker(memory.NewQuotaStore(),
		quota.WithClock(func() time.Time { return now }))

	const limit = 20
	ctx := context.Background()
	for i := 1; i <= limit; i++ {
		res, err := tracker.CheckAndConsume(ctx, metered, metered.ID, limit)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("consume %d unexpectedly denied", i)
		}
		if res.Remaining != limit-i {
			t.Fatalf("consume %d: remaining=%d, want %d", i, res.Remaining, limit-i)
		}
	}

	res, err := tracker.CheckAndConsume(ctx, metered, metered.ID, limit)
	if err != nil {
		t.Fatalf("consume 21: %v", err)
	}
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("consume 21: expected denial with remaining 0, got %+v", res)
	}

	// Advancing past the window resets the count before the check.
	now = now.Add(24 * time.Hour)
	res, err = tracker.CheckAndConsume(ctx, metered, metered.ID, limit)
	if err != nil {
		t.Fatalf("consume 22: %v", err)
	}
	if !res.Allowed || res.Remaining != limit-1 {
		t.Fatalf("consume 22: expected admission with remaining %d, got %+v", limit-1, res)
	}
}

func TestQuotaUnlimitedRolesBypassStore(t *testing.T) {
	tracker := quota.NewTracker(nil) // a store call would panic
	ctx := context.Background()
	for _, role := range []identity.Role{identity.RoleAdmin, identity.RolePremium} {
		id := identity.Identity{ID: "x", Role: role}
		res, err := tracker.CheckAndConsume(ctx, id, id.ID, 20)
		if err != nil {
			t.Fatalf("%s: %v", role, err)
		}
		if !res.Allowed || res.Remaining != quota.Unlimited {
			t.Fatalf("%s: expected unlimited admission, got %+v", role, res)
		}
	}
}

func TestQuotaConcurrentSingleAdmission(t *testing.T) {
	tracker := quota.NewTracker(memory.NewQuotaStore())
	ctx := context.Background()

	const n = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tracker.CheckAndConsume(ctx, metered, metered.ID, 1)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 1 {
		t.Fatalf("expected exactly 1 admission, got %d", allowed)
	}
}

func TestQuotaDenialIsAudited(t *testing.T) {
	auditStore := memory.NewAuditStore()
	rec := audit.NewRecorder(auditStore)
	tracker := quota.NewTracker(memory.NewQuotaStore(), quota.WithAudit(rec))

	ctx := context.Background()
	if res, _ := tracker.CheckAndConsume(ctx, metered, metered.ID, 1); !res.Allowed {
		t.Fatal("first consume should be admitted")
	}
	if res, _ := tracker.CheckAndConsume(ctx, metered, metered.ID, 1); res.Allowed {
		t.Fatal("second consume should be denied")
	}

	events, total, err := auditStore.Find(ctx, audit.Query{Action: "quota.denied", Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one denial event, got %d", total)
	}
	if events[0].Severity != audit.SeverityWarning || events[0].ActorID != metered.ID {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestQuotaKey(t *testing.T) {
	if got := quota.Key(metered, "10.0.0.1"); got != metered.ID {
		t.Fatalf("authenticated key: %q", got)
	}
	if got := quota.Key(identity.Anonymous(), "10.0.0.1"); got != "addr:10.0.0.1" {
		t.Fatalf("anonymous key: %q", got)
	}
}

func TestApplyResetBeforeCheck(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := quota.Record{Key: "k", Count: 5, WindowStart: start}

	// At the limit inside the window: denied, count untouched.
	if quota.Apply(&rec, 5, start.Add(time.Hour)) {
		t.Fatal("expected denial inside window")
	}
	if rec.Count != 5 {
		t.Fatalf("denied attempt mutated count: %d", rec.Count)
	}

	// Exactly at the window edge the reset fires first.
	if !quota.Apply(&rec, 5, start.Add(24*time.Hour)) {
		t.Fatal("expected admission at window edge")
	}
	if rec.Count != 1 || !rec.WindowStart.Equal(start.Add(24*time.Hour)) {
		t.Fatalf("unexpected record after reset: %+v", rec)
	}
}

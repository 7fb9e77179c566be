package reservation

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcdev12/devmate/go/internal/models"
)

func TestPoller_PollsImmediatelyAndOnInterval(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	e.authority.Seed(freeDevice("dev1"))

	var reconciles atomic.Int64
	e.store.Subscribe(func(ev StoreEvent) {
		if ev.Kind == EventReconciled {
			reconciles.Add(1)
		}
	})

	if err := e.poller.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.poller.Stop()

	eventually(t, "first reconcile", func() bool { return reconciles.Load() == 1 })
	if e.store.Len() != 1 {
		t.Fatalf("expected 1 cached device, got %d", e.store.Len())
	}

	e.authority.Seed(freeDevice("dev2"))
	blockUntil(t, e.clock, 1)
	e.clock.Advance(DefaultPollInterval)

	eventually(t, "second reconcile", func() bool { return reconciles.Load() == 2 })
	if e.store.Len() != 2 {
		t.Errorf("expected 2 cached devices, got %d", e.store.Len())
	}
	if e.poller.Stats().LastReconcile.IsZero() {
		t.Error("expected last reconcile time to be recorded")
	}
}

func TestPoller_StartTwice(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	if err := e.poller.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.poller.Stop()

	if err := e.poller.Start(context.Background()); err == nil {
		t.Error("expected error when starting a running poller")
	}
}

func TestPoller_StopWhenNotRunning(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	if err := e.poller.Stop(); err == nil {
		t.Error("expected error when stopping an idle poller")
	}
}

func TestPoller_SkipsTicksWhileInFlight(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	e.authority.Seed(freeDevice("dev1"))
	entered := e.authority.HoldLists()

	if err := e.poller.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.poller.Stop()

	<-entered
	blockUntil(t, e.clock, 1)
	for i := 1; i <= 3; i++ {
		e.clock.Advance(DefaultPollInterval)
		want := uint64(i)
		eventually(t, "skipped tick", func() bool { return e.poller.Stats().Skipped == want })
	}

	e.authority.ReleaseLists()
	eventually(t, "reconcile", func() bool { return e.store.Len() == 1 })

	if calls := e.authority.ListCalls(); calls != 1 {
		t.Errorf("expected exactly 1 list request, got %d", calls)
	}
	if max := e.authority.MaxConcurrentLists(); max != 1 {
		t.Errorf("expected at most 1 list in flight, got %d", max)
	}
}

func TestPoller_RefreshCoalescesBehindInFlightPoll(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	entered := e.authority.HoldLists()

	if err := e.poller.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.poller.Stop()
	<-entered

	// Both return immediately and queue a single rerun.
	e.poller.Refresh(context.Background())
	e.poller.Refresh(context.Background())

	e.authority.Seed(freeDevice("late"))
	e.authority.ReleaseLists()

	eventually(t, "rerun reconcile", func() bool {
		_, ok := e.store.Get("late")
		return ok && e.authority.ListCalls() == 2
	})
	time.Sleep(50 * time.Millisecond)
	if calls := e.authority.ListCalls(); calls != 2 {
		t.Errorf("expected 2 list requests, got %d", calls)
	}
	if max := e.authority.MaxConcurrentLists(); max != 1 {
		t.Errorf("expected at most 1 list in flight, got %d", max)
	}
}

func TestPoller_ConcurrentRefreshNeverOverlaps(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	e.authority.Seed(freeDevice("dev1"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.poller.Refresh(context.Background())
		}()
	}
	wg.Wait()

	if max := e.authority.MaxConcurrentLists(); max != 1 {
		t.Errorf("expected at most 1 list in flight, got %d", max)
	}
	eventually(t, "reconcile", func() bool { return e.store.Len() == 1 })
}

func TestPoller_NoReconcileAfterStop(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	e.authority.Seed(freeDevice("dev1"))
	entered := e.authority.HoldLists()

	var reconciles atomic.Int64
	e.store.Subscribe(func(ev StoreEvent) { reconciles.Add(1) })

	if err := e.poller.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-entered

	if err := e.poller.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.authority.ReleaseLists()

	e.poller.Refresh(context.Background())
	e.clock.Advance(3 * DefaultPollInterval)
	time.Sleep(50 * time.Millisecond)

	if n := reconciles.Load(); n != 0 {
		t.Errorf("expected no reconcile after stop, got %d", n)
	}
	if !e.health.Available() {
		t.Error("cancellation must not be reported as an outage")
	}
	if calls := e.authority.ListCalls(); calls != 1 {
		t.Errorf("expected no list after stop, got %d calls", calls)
	}
}

func TestPoller_OutageAndRecoveryNotifyOnce(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	e.authority.Seed(freeDevice("dev1"))
	e.authority.SetReachable(false)

	var mu sync.Mutex
	var edges []bool
	e.health.Subscribe(func(ev HealthEvent) {
		mu.Lock()
		edges = append(edges, ev.Available)
		mu.Unlock()
	})
	countEdges := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(edges)
	}

	if err := e.poller.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.poller.Stop()

	eventually(t, "outage", func() bool { return !e.health.Available() })
	blockUntil(t, e.clock, 1)
	pollUntil(t, e, 4)
	if n := countEdges(); n != 1 {
		t.Fatalf("expected a single falling edge, got %d", n)
	}

	e.authority.SetReachable(true)
	eventually(t, "recovery", func() bool {
		if e.health.Available() && e.store.Len() == 1 {
			return true
		}
		e.clock.Advance(DefaultPollInterval)
		return false
	})
	pollUntil(t, e, e.poller.Stats().Polls+2)

	mu.Lock()
	got := append([]bool(nil), edges...)
	mu.Unlock()
	if len(got) != 2 || got[0] || !got[1] {
		t.Errorf("expected edges [false true], got %v", got)
	}

	var warn, info int
	for _, n := range e.notices.All() {
		switch n.Level {
		case NoticeWarn:
			warn++
		case NoticeInfo:
			info++
		}
	}
	if warn != 1 || info != 1 {
		t.Errorf("expected one outage and one recovery notice, got warn=%d info=%d", warn, info)
	}
}

// pollUntil advances the clock until the poller has completed n polls.
// Ticks that land while a poll is in flight are skipped, so one Advance
// does not always mean one poll.
func pollUntil(t *testing.T, e *env, n uint64) {
	t.Helper()
	eventually(t, "polls", func() bool {
		if e.poller.Stats().Polls >= n {
			return true
		}
		e.clock.Advance(DefaultPollInterval)
		return false
	})
}

func TestPoller_RejectedListLeavesCache(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	e.authority.Seed(freeDevice("dev1"))

	e.poller.Refresh(context.Background())
	if e.store.Len() != 1 {
		t.Fatalf("expected 1 device, got %d", e.store.Len())
	}

	e.authority.SetListStatus(http.StatusInternalServerError)
	e.authority.Seed(freeDevice("dev2"))
	e.poller.Refresh(context.Background())

	if e.store.Len() != 1 {
		t.Errorf("expected cache untouched by rejected list, got %d devices", e.store.Len())
	}
	if !e.health.Available() {
		t.Error("a rejected list is an answer, not an outage")
	}
}

func TestPoller_EmptyListClearsCache(t *testing.T) {
	m := newMockAuthority()
	e := newEnv(t, DefaultPolicy())
	p := NewPoller(m, e.store, e.health, e.clock, DefaultPollInterval)

	m.list.Payload = []models.Device{freeDevice("dev1")}
	p.Refresh(context.Background())
	if e.store.Len() != 1 {
		t.Fatalf("expected 1 device, got %d", e.store.Len())
	}

	m.list.Payload = []models.Device{}
	p.Refresh(context.Background())
	if e.store.Len() != 0 {
		t.Errorf("expected empty cache after 204, got %d", e.store.Len())
	}
}

func TestPoller_UnreachableListTriggersProbe(t *testing.T) {
	m := newMockAuthority()
	m.list = unreachableList()
	e := newEnv(t, DefaultPolicy())
	health := NewHealthMonitor(m, e.clock, e.notices)
	p := NewPoller(m, e.store, health, e.clock, DefaultPollInterval)

	p.Refresh(context.Background())

	calls := m.Calls()
	if len(calls) != 2 || calls[0] != "list" || calls[1] != "health" {
		t.Errorf("expected list then health probe, got %v", calls)
	}
}

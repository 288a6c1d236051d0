package queue_test

import (
	"sync"
	"testing"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/queue"
)

func TestManager_UnconfiguredQueueAlwaysAllows(t *testing.T) {
	m := queue.NewManager()
	for range 100 {
		if !m.Acquire(polar.QueueHighPriority, "org_1") {
			t.Fatal("unconfigured queue refused a job")
		}
	}
	if got := m.ActiveCount(polar.QueueHighPriority); got != 0 {
		t.Errorf("unconfigured queue tracked %d active jobs", got)
	}
}

func TestManager_MaxConcurrency(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: polar.QueueLowPriority, MaxConcurrency: 2})

	if !m.Acquire(polar.QueueLowPriority, "") || !m.Acquire(polar.QueueLowPriority, "") {
		t.Fatal("first two acquires should succeed")
	}
	if m.Acquire(polar.QueueLowPriority, "") {
		t.Fatal("third acquire should be refused")
	}
	m.Release(polar.QueueLowPriority, "")
	if !m.Acquire(polar.QueueLowPriority, "") {
		t.Fatal("acquire after release should succeed")
	}
	if got := m.ActiveCount(polar.QueueLowPriority); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
}

func TestManager_RateLimit(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: polar.QueueMediumPriority, RateLimit: 0.001, RateBurst: 3})

	allowed := 0
	for range 10 {
		if m.Acquire(polar.QueueMediumPriority, "") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed %d starts, want burst of 3", allowed)
	}
}

func TestManager_OrganizationIsolation(t *testing.T) {
	m := queue.NewManager()
	m.SetOrganizationConfig(queue.OrganizationConfig{
		Queue:          polar.QueueMediumPriority,
		OrganizationID: "org_noisy",
		MaxConcurrency: 1,
	})

	if !m.Acquire(polar.QueueMediumPriority, "org_noisy") {
		t.Fatal("first noisy acquire should succeed")
	}
	if m.Acquire(polar.QueueMediumPriority, "org_noisy") {
		t.Fatal("noisy organization should be capped")
	}
	if !m.Acquire(polar.QueueMediumPriority, "org_quiet") {
		t.Fatal("other organizations must not be affected")
	}
	if !m.Acquire(polar.QueueHighPriority, "org_noisy") {
		t.Fatal("limit applies to one queue only")
	}
	if got := m.OrganizationActiveCount(polar.QueueMediumPriority, "org_noisy"); got != 1 {
		t.Errorf("OrganizationActiveCount = %d, want 1", got)
	}
}

func TestManager_RefusedOrganizationDoesNotHoldQueueSlot(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: polar.QueueMediumPriority, MaxConcurrency: 2})
	m.SetOrganizationConfig(queue.OrganizationConfig{
		Queue:          polar.QueueMediumPriority,
		OrganizationID: "org_a",
		MaxConcurrency: 1,
	})

	m.Acquire(polar.QueueMediumPriority, "org_a")
	if m.Acquire(polar.QueueMediumPriority, "org_a") {
		t.Fatal("org_a over its limit")
	}
	if got := m.ActiveCount(polar.QueueMediumPriority); got != 1 {
		t.Errorf("queue ActiveCount = %d, want 1", got)
	}
}

func TestManager_SetQueueConfigKeepsActive(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: polar.QueueLowPriority, MaxConcurrency: 5})
	m.Acquire(polar.QueueLowPriority, "")
	m.Acquire(polar.QueueLowPriority, "")

	m.SetQueueConfig(queue.Config{Name: polar.QueueLowPriority, MaxConcurrency: 2})
	if m.Acquire(polar.QueueLowPriority, "") {
		t.Error("lowered limit should apply to already running jobs")
	}
}

func TestManager_ReleaseUnderflow(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: polar.QueueLowPriority, MaxConcurrency: 1})
	m.Release(polar.QueueLowPriority, "org")
	if got := m.ActiveCount(polar.QueueLowPriority); got != 0 {
		t.Errorf("ActiveCount = %d after underflow", got)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: polar.QueueHighPriority, MaxConcurrency: 10})
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire(polar.QueueHighPriority, "org") {
				m.Release(polar.QueueHighPriority, "org")
			}
		}()
	}
	wg.Wait()
	if got := m.ActiveCount(polar.QueueHighPriority); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

package checkpoint

import (
	"sync"
	"testing"

	"github.com/ariaengine/checkpoint/internal/storage/pager"
	"github.com/ariaengine/checkpoint/internal/tableregistry"
)

func newTestExecutor(t *testing.T, log *fakeLog, txns *fakeTxns, cache *fakeCache, control *fakeControl) *executor {
	t.Helper()
	return &executor{
		log:      log,
		txns:     txns,
		cache:    cache,
		control:  control,
		registry: tableregistry.NewRegistry(),
		cfg:      DefaultConfig(),
	}
}

func TestControllerRequestExecutesAndUpdatesLastLSN(t *testing.T) {
	exec := newTestExecutor(t, newFakeLog(0), &fakeTxns{}, newFakeCache(), &fakeControl{})
	ctrl := newController(exec, &Stats{})

	status := ctrl.request(LevelMedium, false)
	if status != StatusExecuted {
		t.Fatalf("status = %v, want StatusExecuted", status)
	}
	if ctrl.currentLastLSN() == pager.LSNImpossible {
		t.Fatal("lastLSN not updated after a successful request")
	}
}

func TestControllerNoWaitReturnsAlreadySatisfied(t *testing.T) {
	exec := newTestExecutor(t, newFakeLog(0), &fakeTxns{}, newFakeCache(), &fakeControl{})
	ctrl := newController(exec, &Stats{})

	ctrl.mu.Lock()
	ctrl.inProgress = LevelFull
	ctrl.mu.Unlock()

	status := ctrl.request(LevelMedium, true)
	if status != StatusAlreadySatisfied {
		t.Fatalf("status = %v, want StatusAlreadySatisfied", status)
	}
}

func TestControllerNoWaitProceedsWhenRequestedLevelIsStronger(t *testing.T) {
	exec := newTestExecutor(t, newFakeLog(0), &fakeTxns{}, newFakeCache(), &fakeControl{})
	ctrl := newController(exec, &Stats{})

	ctrl.mu.Lock()
	ctrl.inProgress = LevelIndirect
	ctrl.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	var status RequestStatus
	go func() {
		defer wg.Done()
		status = ctrl.request(LevelFull, true)
	}()

	// Release the fake in-progress marker so the waiting goroutine can proceed.
	ctrl.mu.Lock()
	ctrl.inProgress = LevelNone
	ctrl.mu.Unlock()
	ctrl.cond.Broadcast()

	wg.Wait()
	if status != StatusExecuted {
		t.Fatalf("status = %v, want StatusExecuted (a stronger no_wait request must still run)", status)
	}
}

func TestControllerFailedAttemptResetsPagesToFlush(t *testing.T) {
	log := newFakeLog(0)
	control := &fakeControl{writeErr: errInjected}
	exec := newTestExecutor(t, log, &fakeTxns{}, newFakeCache(), control)
	ctrl := newController(exec, &Stats{})
	ctrl.pagesToFlush = 42

	status := ctrl.request(LevelMedium, false)
	if status != StatusFailed {
		t.Fatalf("status = %v, want StatusFailed", status)
	}
	if _, pagesToFlush, _, _ := ctrl.snapshot(); pagesToFlush != 0 {
		t.Fatalf("pagesToFlush after failed attempt = %d, want 0", pagesToFlush)
	}
}

func TestControllerOnlyOneInProgressAtOnce(t *testing.T) {
	// P1: in_progress == NONE whenever no call is inside the controller.
	exec := newTestExecutor(t, newFakeLog(0), &fakeTxns{}, newFakeCache(), &fakeControl{})
	ctrl := newController(exec, &Stats{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctrl.request(LevelIndirect, false)
		}()
	}
	wg.Wait()

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.inProgress != LevelNone {
		t.Fatalf("inProgress after all requests settled = %v, want LevelNone", ctrl.inProgress)
	}
}

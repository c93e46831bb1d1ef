package checkpoint

import (
	"testing"

	"github.com/ariaengine/checkpoint/internal/storage/pager"
)

// TestExecuteEmptyEngineMediumCheckpoint covers scenario 1: a MEDIUM
// checkpoint with no open tables, no transactions, and no dirty pages still
// produces a valid record and advances last_checkpoint_lsn.
func TestExecuteEmptyEngineMediumCheckpoint(t *testing.T) {
	log := newFakeLog(7)
	exec := newTestExecutor(t, log, &fakeTxns{minRecLSN: pager.LSNImpossible, minFirstUndo: pager.LSNImpossible}, newFakeCache(), &fakeControl{})

	result, err := exec.execute(LevelMedium, pager.LSNImpossible)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.OK {
		t.Fatal("result.OK = false on a clean empty-engine checkpoint")
	}
	if result.LSN == pager.LSNImpossible {
		t.Fatal("checkpoint produced no LSN")
	}
}

// TestExecuteSingleDirtyPage covers scenario 2: one dirty data page is
// reflected in the page-blob's count and the low-water mark accounts for it.
func TestExecuteSingleDirtyPage(t *testing.T) {
	log := newFakeLog(5)
	cache := newFakeCache()
	cache.blob = []byte{1, 0, 0, 0} // one page recorded
	cache.minPageRecLSN = 3

	exec := newTestExecutor(t, log, &fakeTxns{minRecLSN: pager.LSNImpossible, minFirstUndo: pager.LSNImpossible}, cache, &fakeControl{})
	result, err := exec.execute(LevelFull, pager.LSNImpossible)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.PagesToFlushBeforeNextCheckpoint != 1 {
		t.Fatalf("PagesToFlushBeforeNextCheckpoint = %d, want 1", result.PagesToFlushBeforeNextCheckpoint)
	}
	if result.LowWaterMark != 3 {
		t.Fatalf("LowWaterMark = %d, want 3 (the one dirty page's rec_lsn)", result.LowWaterMark)
	}
}

// TestExecuteControlFileWriteFailureAbortsCheckpoint covers scenario 5: a
// control-file write failure must not publish a checkpoint LSN, and the
// pager budget resets to zero.
func TestExecuteControlFileWriteFailureAbortsCheckpoint(t *testing.T) {
	log := newFakeLog(1)
	control := &fakeControl{writeErr: errInjected}
	exec := newTestExecutor(t, log, &fakeTxns{}, newFakeCache(), control)

	result, err := exec.execute(LevelMedium, pager.LSNImpossible)
	if err == nil {
		t.Fatal("execute succeeded despite a failing control-file write")
	}
	if result != nil {
		t.Fatalf("execute returned a non-nil result on failure: %+v", result)
	}

	cerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if cerr.Kind != KindControlFileWrite {
		t.Fatalf("error kind = %v, want KindControlFileWrite", cerr.Kind)
	}
	if !cerr.Kind.Fatal() {
		t.Fatal("KindControlFileWrite must be fatal")
	}
}

func TestExecuteTxnCollectFailureAborts(t *testing.T) {
	log := newFakeLog(1)
	exec := newTestExecutor(t, log, &fakeTxns{err: errInjected}, newFakeCache(), &fakeControl{})

	_, err := exec.execute(LevelMedium, pager.LSNImpossible)
	if err == nil {
		t.Fatal("execute succeeded despite a failing transaction collect")
	}
	cerr := err.(*Error)
	if cerr.Kind != KindTxnCollect {
		t.Fatalf("error kind = %v, want KindTxnCollect", cerr.Kind)
	}
}

func TestExecuteLogFlushFailureAborts(t *testing.T) {
	log := newFakeLog(1)
	log.flushErr = errInjected
	exec := newTestExecutor(t, log, &fakeTxns{}, newFakeCache(), &fakeControl{})

	_, err := exec.execute(LevelMedium, pager.LSNImpossible)
	if err == nil {
		t.Fatal("execute succeeded despite a failing log flush")
	}
	cerr := err.(*Error)
	if cerr.Kind != KindLogFlush {
		t.Fatalf("error kind = %v, want KindLogFlush", cerr.Kind)
	}
}

func TestExecuteMediumAndFullSucceedWithPriorCheckpointLSN(t *testing.T) {
	// MEDIUM's table collector pass is parameterised by the prior
	// checkpoint's LSN; FULL does not restrict by up_to_lsn at all. This
	// test does not observe up_to_lsn itself: it checks only that both
	// levels succeed with no shares when a prior checkpoint LSN is given.
	log := newFakeLog(1)
	exec := newTestExecutor(t, log, &fakeTxns{}, newFakeCache(), &fakeControl{})

	if _, err := exec.execute(LevelMedium, 99); err != nil {
		t.Fatalf("MEDIUM execute: %v", err)
	}
	if _, err := exec.execute(LevelFull, 99); err != nil {
		t.Fatalf("FULL execute: %v", err)
	}
}

package checkpoint

import (
	"log"

	"github.com/ariaengine/checkpoint/internal/storage/pager"
	"github.com/ariaengine/checkpoint/internal/tableregistry"
)

// executor orchestrates one checkpoint attempt (C3, spec.md §4.3).
// Precondition: the caller (the controller) has already admitted this
// attempt as the sole in-progress checkpoint (I1).
type executor struct {
	log      LogManager
	txns     TxnManager
	cache    PageCache
	control  ControlFile
	registry *tableregistry.Registry
	cfg      Config
}

// executionResult is everything the controller and background worker need
// to know after one attempt.
type executionResult struct {
	OK                                bool
	LSN                               pager.LSN
	PagesToFlushBeforeNextCheckpoint  uint32
	DFiles                            []int32
	KFiles                            []int32
	LowWaterMark                      pager.LSN
}

// execute runs spec.md §4.3 steps 1–8. Any failure in steps 1–6 aborts the
// attempt: no last_checkpoint_lsn update, pages-to-flush reset to 0, no
// partial checkpoint is ever published.
func (x *executor) execute(level Level, lastCheckpointLSN pager.LSN) (*executionResult, error) {
	// Step 1: capture the checkpoint-start log horizon under the log lock.
	x.log.Lock()
	checkpointStartHorizon := x.log.HorizonLocked()
	x.log.Unlock()

	// Step 2: transaction manager snapshot. Must precede step 4 — see
	// txnmgr.Transaction.StampPage's doc comment for why the order matters.
	txnBlobA, txnBlobB, minTrnRecLSN, minFirstUndoLSN, err := x.txns.CollectTransactions()
	if err != nil {
		return nil, newError(KindTxnCollect, err)
	}

	// Step 3: table collector → blob #3, dfiles/kfiles.
	var upToLSN pager.LSN
	if level == LevelMedium {
		upToLSN = lastCheckpointLSN
	}
	collected, err := collectTables(x.registry, x.log, x.cache, level, upToLSN, checkpointStartHorizon, x.cfg.StateCopies)
	if err != nil {
		return nil, newError(KindTableCollect, err)
	}
	if collected.SyncErrors > 0 {
		return nil, newError(KindFsync, errSyncFailures(collected.SyncErrors))
	}

	// Step 4: dirty-page snapshot. Must follow step 3 so pages step 3
	// flushed no longer appear.
	pageBlob, minPageRecLSN, err := x.cache.CollectChangedBlocksWithLSN()
	if err != nil {
		return nil, newError(KindPageCollect, err)
	}

	record := &Record{
		Horizon:   checkpointStartHorizon,
		TxnBlobA:  txnBlobA,
		TxnBlobB:  txnBlobB,
		TableBlob: collected.TableBlob,
		PageBlob:  pageBlob,
	}

	// Step 5: emit the CHECKPOINT record and flush the log.
	lsn, err := x.log.AppendCheckpoint(record.Encode())
	if err != nil {
		return nil, newError(KindLogAppend, err)
	}
	if err := x.log.Flush(lsn); err != nil {
		return nil, newError(KindLogFlush, err)
	}

	// Step 6: under the log lock, durably record the LSN in the control
	// file. Locking here ensures recovery never observes a control-file
	// LSN whose log record isn't durable yet (I2).
	x.log.Lock()
	writeErr := x.control.WriteCheckpointLSN(lsn)
	x.log.Unlock()
	if writeErr != nil {
		return nil, newError(KindControlFileWrite, writeErr)
	}

	// Step 7: publish the pager budget from the page-blob's count prefix.
	pageCount, err := record.PageCount()
	if err != nil {
		log.Printf("checkpoint: malformed page blob, defaulting pager budget to 0: %v", err)
		pageCount = 0
	}

	// Step 8: low-water mark per I6.
	lowWaterMark := minLSN(minPageRecLSN, minTrnRecLSN, minFirstUndoLSN, checkpointStartHorizon)

	return &executionResult{
		OK:                               true,
		LSN:                              lsn,
		PagesToFlushBeforeNextCheckpoint: pageCount,
		DFiles:                           collected.DFiles,
		KFiles:                           collected.KFiles,
		LowWaterMark:                     lowWaterMark,
	}, nil
}

// minLSN returns the smallest of its arguments, treating LSNImpossible as
// "no opinion" rather than zero (spec.md I6).
func minLSN(lsns ...pager.LSN) pager.LSN {
	min := pager.LSNImpossible
	for _, l := range lsns {
		if l == pager.LSNImpossible {
			continue
		}
		if min == pager.LSNImpossible || l < min {
			min = l
		}
	}
	return min
}

type syncFailureError struct{ n int }

func (e syncFailureError) Error() string {
	if e.n == 1 {
		return "1 share failed fsync"
	}
	return "multiple shares failed fsync"
}

func errSyncFailures(n int) error { return syncFailureError{n: n} }

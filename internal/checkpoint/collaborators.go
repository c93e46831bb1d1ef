package checkpoint

import "github.com/ariaengine/checkpoint/internal/storage/pager"

// LogManager is the write-ahead log collaborator (spec.md §6.3). The
// concrete implementation is *pager.WALFile; this interface exists so the
// executor, controller and worker can be tested against a fake log.
type LogManager interface {
	Lock()
	Unlock()
	Horizon() pager.LSN
	HorizonLocked() pager.LSN
	AppendCheckpoint(body []byte) (pager.LSN, error)
	Flush(lsn pager.LSN) error
}

// TxnManager is the transaction-manager collaborator (spec.md §6.3). The
// concrete implementation is *txnmgr.Manager.
type TxnManager interface {
	CollectTransactions() (blobA, blobB []byte, minRecLSN, minFirstUndoLSN pager.LSN, err error)
}

// PageCache is the buffered page-cache collaborator (spec.md §6.3). The
// concrete implementation is *pagecache.Cache.
type PageCache interface {
	// CollectChangedBlocksWithLSN returns the dirty-page snapshot blob
	// (prefixed by a page count, per spec.md §6.1) and the minimum rec_lsn
	// across every dirty LSN page.
	CollectChangedBlocksWithLSN() (blob []byte, minPageRecLSN pager.LSN, err error)

	// FlushBlocksWithFilter flushes file's pages that the filter selects,
	// in increasing page-number order. exhausted reports whether the
	// filter returned SkipAndStop (an EVENLY budget ran out) so the
	// background worker knows to resume this file on the next tick instead
	// of moving on.
	FlushBlocksWithFilter(file int32, filter FilterFunc, params *FilterParams) (exhausted bool, err error)
}

// ControlFile is the durable "last checkpoint LSN" record (spec.md §6.2).
// The concrete implementation is *pager.ControlFile.
type ControlFile interface {
	WriteCheckpointLSN(lsn pager.LSN) error
}

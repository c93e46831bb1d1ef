// Package txnmgr implements the transaction manager collaborator the
// checkpoint subsystem depends on (spec.md §1 "out of scope... interfaces
// only"): a snapshot of live transactions and their minimum rec_lsn /
// first-undo LSN.
package txnmgr

import (
	"encoding/binary"
	"sync"

	"github.com/ariaengine/checkpoint/internal/storage/pager"
)

// TxID identifies a transaction.
type TxID = pager.TxID

// Status is a transaction's lifecycle state.
type Status int

const (
	StatusRunning Status = iota
	StatusCommittedAwaitingUndo
)

// Transaction is one entry in the manager's live set. RecLSN is the LSN of
// the oldest log record whose effect this transaction still holds only in
// memory; FirstUndoLSN is the start of its undo chain (meaningful once it
// has committed but not yet been fully undone/purged).
type Transaction struct {
	ID            TxID
	Status        Status
	RecLSN        pager.LSN
	FirstUndoLSN  pager.LSN

	mu sync.Mutex
}

// Manager tracks live transactions. Grounded on the teacher pack's
// transaction-manager idiom (kyosu-1-minidb's internal/txn.Manager): a
// mutex-guarded map plus a monotonic id counter.
type Manager struct {
	mu        sync.Mutex
	nextID    TxID
	active    map[TxID]*Transaction
}

// NewManager creates an empty transaction manager.
func NewManager() *Manager {
	return &Manager{
		nextID: 1,
		active: make(map[TxID]*Transaction),
	}
}

// Begin starts a new transaction, recording its starting rec_lsn.
func (m *Manager) Begin(recLSN pager.LSN) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	txn := &Transaction{ID: id, Status: StatusRunning, RecLSN: recLSN}
	m.active[id] = txn
	return txn
}

// StampPage records that a log record at lsn just dirtied a page on the
// transaction's behalf: rec_lsn becomes lsn if rec_lsn is unset or later
// than lsn, so it always holds the earliest stamped LSN. Transactions clear their rec_lsn
// (RecLSN := LSNImpossible) once every page they dirtied has reached disk;
// the checkpoint executor must collect transactions before it collects
// dirty pages, or a transaction that clears its rec_lsn in between would be
// invisible to both blobs (spec.md §4.3 step 2).
func (txn *Transaction) StampPage(lsn pager.LSN) {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.RecLSN == pager.LSNImpossible || lsn < txn.RecLSN {
		txn.RecLSN = lsn
	}
}

// Clear resets a transaction's rec_lsn once its dirty pages are all durable.
func (txn *Transaction) Clear() {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	txn.RecLSN = pager.LSNImpossible
}

// CommitAwaitingUndo moves a transaction out of the running set into the
// committed-but-not-yet-purged set, recording where its undo chain starts.
func (m *Manager) CommitAwaitingUndo(id TxID, firstUndoLSN pager.LSN) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txn, ok := m.active[id]; ok {
		txn.mu.Lock()
		txn.Status = StatusCommittedAwaitingUndo
		txn.FirstUndoLSN = firstUndoLSN
		txn.mu.Unlock()
	}
}

// Forget removes a transaction once its undo chain has been fully applied
// or discarded.
func (m *Manager) Forget(id TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}

// CollectTransactions snapshots the live set under the manager's own lock
// and returns the two blobs the checkpoint record carries (spec.md §6.1):
// blob A is the running transactions keyed by rec_lsn, blob B is the
// committed-but-undo-pending transactions keyed by first_undo_lsn. It also
// returns the minimum rec_lsn and minimum first_undo_lsn across the whole
// set (pager.LSNImpossible, treated as +infinity for the min, when a
// category is empty).
func (m *Manager) CollectTransactions() (blobA, blobB []byte, minRecLSN, minFirstUndoLSN pager.LSN, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var running, committed []*Transaction
	for _, txn := range m.active {
		switch txn.Status {
		case StatusRunning:
			running = append(running, txn)
		case StatusCommittedAwaitingUndo:
			committed = append(committed, txn)
		}
	}

	blobA = encodeEntries(running, func(t *Transaction) pager.LSN { return t.RecLSN })
	blobB = encodeEntries(committed, func(t *Transaction) pager.LSN { return t.FirstUndoLSN })

	minRecLSN = minOf(running, func(t *Transaction) pager.LSN { return t.RecLSN })
	minFirstUndoLSN = minOf(committed, func(t *Transaction) pager.LSN { return t.FirstUndoLSN })
	return blobA, blobB, minRecLSN, minFirstUndoLSN, nil
}

// entry wire format: u64 txid, u64 lsn, repeated; prefixed by a u32 count.
func encodeEntries(txns []*Transaction, pick func(*Transaction) pager.LSN) []byte {
	buf := make([]byte, 4, 4+len(txns)*16)
	binary.LittleEndian.PutUint32(buf, uint32(len(txns)))
	for _, t := range txns {
		var entry [16]byte
		binary.LittleEndian.PutUint64(entry[0:8], uint64(t.ID))
		binary.LittleEndian.PutUint64(entry[8:16], uint64(pick(t)))
		buf = append(buf, entry[:]...)
	}
	return buf
}

func minOf(txns []*Transaction, pick func(*Transaction) pager.LSN) pager.LSN {
	min := pager.LSNImpossible
	for _, t := range txns {
		v := pick(t)
		if v == pager.LSNImpossible {
			continue
		}
		if min == pager.LSNImpossible || v < min {
			min = v
		}
	}
	return min
}

// DecodeEntries parses a blob produced by CollectTransactions, for tests
// and recovery code that needs the (txid, lsn) pairs back.
func DecodeEntries(blob []byte) ([]struct {
	TxID TxID
	LSN  pager.LSN
}, error) {
	if len(blob) < 4 {
		return nil, errShortBlob
	}
	count := binary.LittleEndian.Uint32(blob[0:4])
	out := make([]struct {
		TxID TxID
		LSN  pager.LSN
	}, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+16 > len(blob) {
			return nil, errShortBlob
		}
		id := TxID(binary.LittleEndian.Uint64(blob[off : off+8]))
		lsn := pager.LSN(binary.LittleEndian.Uint64(blob[off+8 : off+16]))
		out = append(out, struct {
			TxID TxID
			LSN  pager.LSN
		}{id, lsn})
		off += 16
	}
	return out, nil
}

type blobError string

func (e blobError) Error() string { return string(e) }

const errShortBlob = blobError("txnmgr: truncated transaction blob")

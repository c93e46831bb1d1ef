// Package tableregistry implements the table-registry collaborator
// (spec.md §1 "out of scope... interfaces only"): the set of currently
// open tables and their per-file state blocks, plus the pinning protocol
// (in_checkpoint tri-state) that lets the checkpoint subsystem's table
// collector walk them safely against concurrent table close.
package tableregistry

import (
	"sync"

	"github.com/ariaengine/checkpoint/internal/storage/pager"
)

// ShortID is a table share's short identifier, unique while the share is
// open (spec.md §3 "Table share"). 0 is never assigned to an open share.
type ShortID uint16

// Flag is the share's in_checkpoint tri-state (spec.md §3, invariant I5).
type Flag int

const (
	// Clear: not involved in any in-flight checkpoint.
	Clear Flag = iota
	// SeenInLoop: counted in the collector's first pass, not yet pinned.
	SeenInLoop
	// LooksAtMe: pinned — the checkpoint still needs this share, so its
	// last closer must not free it.
	LooksAtMe
	// ShouldFreeMe: the share closed while pinned; the collector must
	// free it once done, instead of clearing the flag.
	ShouldFreeMe
)

// FileHandle is the minimal surface the checkpoint subsystem needs from a
// table's data/index file (spec.md §6.1: raw OS descriptor, possibly -1;
// §4.2 step 6: write the state block, then fsync ignoring "bad descriptor").
type FileHandle interface {
	Descriptor() int32
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
}

// State is a table share's flushable state block (spec.md §3 "state block").
type State struct {
	Data []byte

	// Changed mirrors the original's share->changed: once true, it is
	// never cleared back to false by a state flush (see DESIGN.md — the
	// original documents this as a conscious, preserved trade-off rather
	// than a bug).
	Changed bool
}

// Share is the per-open-table object the checkpoint needs (spec.md §3).
// Its own mutex is the "intern_lock": callers must hold it (Lock/Unlock)
// while reading/writing any field below BornTransactional/Temporary/RO,
// which are set once at open time and never change.
type Share struct {
	mu sync.Mutex

	ShortID           ShortID
	BornTransactional bool
	Temporary         bool
	ReadOnly          bool

	// FileName is the open file name this share's short_id maps to (spec.md
	// §6.1 table-blob field "open_file_name"). Set once at open and never
	// changed thereafter, like BornTransactional/Temporary/ReadOnly.
	FileName string

	DataFile  FileHandle
	IndexFile FileHandle

	State          *State
	LSNOfFileID    pager.LSN
	IsOfHorizon    pager.LSN // LSN at which State was last flushed
	LastVersion    uint64    // 0 means "obsolete"
	PagesCovered   uint32    // bitmap density for this share's data file

	InCheckpoint Flag
}

// Lock acquires the share's intern_lock (spec.md §5 lock order: table
// registry → share intern_lock → log lock → controller mutex).
func (s *Share) Lock() { s.mu.Lock() }

// Unlock releases the share's intern_lock.
func (s *Share) Unlock() { s.mu.Unlock() }

// eligible reports spec.md §4.2 step 1's selection predicate. Caller must
// hold the registry lock (not the share's own lock — BornTransactional/
// Temporary/ReadOnly are set once at open and read without synchronisation
// elsewhere, matching the original's lock-free read of those fields during
// the table-registry-locked scan).
func (s *Share) eligible() bool {
	return s.BornTransactional && !s.Temporary && !s.ReadOnly && s.InCheckpoint == Clear
}

// Registry is the set of currently open table shares (spec.md §3 "Table
// registry").
type Registry struct {
	mu       sync.Mutex
	shares   map[ShortID]*Share
	nextID   ShortID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{shares: make(map[ShortID]*Share)}
}

// Lock acquires the table-registry lock.
func (r *Registry) Lock() { r.mu.Lock() }

// Unlock releases the table-registry lock.
func (r *Registry) Unlock() { r.mu.Unlock() }

// Open registers a newly opened table share, assigning it a short id.
func (r *Registry) Open(share *Share) ShortID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	share.ShortID = r.nextID
	r.shares[share.ShortID] = share
	return share.ShortID
}

// Close unregisters a table share. If the share is currently pinned by an
// in-flight checkpoint (SeenInLoop or LooksAtMe), Close defers the actual
// free by setting ShouldFreeMe instead (spec.md invariant I5) — the
// checkpoint's table collector frees it via FinishCollection once its own
// processing of the share is done.
func (r *Registry) Close(id ShortID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	share, ok := r.shares[id]
	if !ok {
		return
	}

	share.Lock()
	defer share.Unlock()

	switch share.InCheckpoint {
	case Clear:
		delete(r.shares, id)
	default:
		share.InCheckpoint = ShouldFreeMe
	}
}

// BeginCollection runs the table collector's steps 1–3 (spec.md §4.2):
// scan under the registry lock, mark eligible shares SeenInLoop, collect
// them into a distinct slice, flip each to LooksAtMe (pinned), then release
// the lock. The returned shares are safe for the caller to dereference
// without the registry lock (I5: LooksAtMe is set before the lock is
// released, and all later operations on the share go through its own
// intern_lock instead).
func (r *Registry) BeginCollection() []*Share {
	r.mu.Lock()
	defer r.mu.Unlock()

	var eligible []*Share
	for _, share := range r.shares {
		if share.eligible() {
			share.InCheckpoint = SeenInLoop
			eligible = append(eligible, share)
		}
	}
	for _, share := range eligible {
		share.InCheckpoint = LooksAtMe
	}
	return eligible
}

// FinishCollection ends one share's participation in the in-flight
// checkpoint (spec.md §4.2 step 6 last bullet): if the share was marked
// ShouldFreeMe while pinned, it is removed from the registry now; otherwise
// its flag returns to Clear.
func (r *Registry) FinishCollection(share *Share) {
	share.Lock()
	shouldFree := share.InCheckpoint == ShouldFreeMe
	if !shouldFree {
		share.InCheckpoint = Clear
	}
	share.Unlock()

	if shouldFree {
		r.mu.Lock()
		delete(r.shares, share.ShortID)
		r.mu.Unlock()
	}
}

// Len reports the number of currently open shares, for tests and metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shares)
}

package checkpoint

import (
	"io/fs"
	"os"
	"testing"

	"github.com/ariaengine/checkpoint/internal/tableregistry"
)

// fakeFileHandle is a minimal tableregistry.FileHandle for exercising the
// table collector without touching disk.
type fakeFileHandle struct {
	fd        int32
	syncCalls int
	syncErr   error
	writes    [][]byte
}

func (h *fakeFileHandle) Descriptor() int32 { return h.fd }

func (h *fakeFileHandle) WriteAt(p []byte, off int64) (int, error) {
	h.writes = append(h.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (h *fakeFileHandle) Sync() error {
	h.syncCalls++
	return h.syncErr
}

func newEligibleShare(name string) *tableregistry.Share {
	return &tableregistry.Share{
		BornTransactional: true,
		FileName:          name,
		DataFile:          &fakeFileHandle{fd: 10},
		IndexFile:         &fakeFileHandle{fd: 20},
		State:             &tableregistry.State{Data: []byte("state")},
		LastVersion:       1,
		PagesCovered:      4096,
	}
}

// TestCollectTablesPopulatesOpenFileName covers spec.md §6.1's table-blob
// layout requiring the open file name alongside each share's descriptors.
func TestCollectTablesPopulatesOpenFileName(t *testing.T) {
	registry := tableregistry.NewRegistry()
	share := newEligibleShare("orders.maria")
	registry.Open(share)

	logMgr := newFakeLog(10)
	cache := newFakeCache()

	result, err := collectTables(registry, logMgr, cache, LevelMedium, 0, 10, DefaultConfig().StateCopies)
	if err != nil {
		t.Fatalf("collectTables: %v", err)
	}

	entries, err := DecodeTableBlob(result.TableBlob)
	if err != nil {
		t.Fatalf("DecodeTableBlob: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("table blob has %d entries, want 1", len(entries))
	}
	if entries[0].OpenFileName != "orders.maria" {
		t.Fatalf("OpenFileName = %q, want %q", entries[0].OpenFileName, "orders.maria")
	}
	if entries[0].DataFileDescriptor != 10 || entries[0].IndexFileDescriptor != 20 {
		t.Fatalf("descriptors = (%d,%d), want (10,20)", entries[0].DataFileDescriptor, entries[0].IndexFileDescriptor)
	}
	if entries[0].ShortID != uint16(share.ShortID) {
		t.Fatalf("ShortID = %d, want %d", entries[0].ShortID, share.ShortID)
	}
}

// TestCollectTablesReportsDFilesAndKFiles verifies the background worker's
// per-checkpoint descriptor lists are populated from real shares.
func TestCollectTablesReportsDFilesAndKFiles(t *testing.T) {
	registry := tableregistry.NewRegistry()
	shareA := newEligibleShare("a.maria")
	shareB := newEligibleShare("b.maria")
	shareB.DataFile = &fakeFileHandle{fd: 11}
	shareB.IndexFile = &fakeFileHandle{fd: 21}
	registry.Open(shareA)
	registry.Open(shareB)

	result, err := collectTables(registry, newFakeLog(0), newFakeCache(), LevelFull, 0, 0, DefaultConfig().StateCopies)
	if err != nil {
		t.Fatalf("collectTables: %v", err)
	}

	wantD := map[int32]bool{10: true, 11: true}
	if len(result.DFiles) != 2 {
		t.Fatalf("DFiles = %v, want 2 entries", result.DFiles)
	}
	for _, d := range result.DFiles {
		if !wantD[d] {
			t.Fatalf("unexpected dfile descriptor %d in %v", d, result.DFiles)
		}
	}

	wantK := map[int32]bool{20: true, 21: true}
	if len(result.KFiles) != 2 {
		t.Fatalf("KFiles = %v, want 2 entries", result.KFiles)
	}
	for _, k := range result.KFiles {
		if !wantK[k] {
			t.Fatalf("unexpected kfile descriptor %d in %v", k, result.KFiles)
		}
	}
}

// TestCollectTablesSkipsObsoleteShare covers scenario 6: a share pinned
// then released (LastVersion == 0) is pinned and finished, but never
// appears in the table-blob and does no flush work.
func TestCollectTablesSkipsObsoleteShare(t *testing.T) {
	registry := tableregistry.NewRegistry()
	share := newEligibleShare("obsolete.maria")
	share.LastVersion = 0
	registry.Open(share)

	cache := newFakeCache()
	result, err := collectTables(registry, newFakeLog(0), cache, LevelMedium, 0, 0, DefaultConfig().StateCopies)
	if err != nil {
		t.Fatalf("collectTables: %v", err)
	}

	entries, err := DecodeTableBlob(result.TableBlob)
	if err != nil {
		t.Fatalf("DecodeTableBlob: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("table blob has %d entries, want 0 for an obsolete share", len(entries))
	}
	if len(cache.flushCalls) != 0 {
		t.Fatalf("obsolete share triggered %d flush calls, want 0", len(cache.flushCalls))
	}
	if share.InCheckpoint != tableregistry.Clear {
		t.Fatalf("share flag after collection = %v, want Clear", share.InCheckpoint)
	}
}

// TestCollectTablesSkipsIneligibleShares covers spec.md §4.2 step 1's
// selection predicate: temporary/read-only/non-transactional shares are
// never pinned and never appear in the table-blob.
func TestCollectTablesSkipsIneligibleShares(t *testing.T) {
	registry := tableregistry.NewRegistry()
	temp := newEligibleShare("temp.maria")
	temp.Temporary = true
	ro := newEligibleShare("ro.maria")
	ro.ReadOnly = true
	nonTxn := newEligibleShare("nontxn.maria")
	nonTxn.BornTransactional = false
	registry.Open(temp)
	registry.Open(ro)
	registry.Open(nonTxn)

	result, err := collectTables(registry, newFakeLog(0), newFakeCache(), LevelMedium, 0, 0, DefaultConfig().StateCopies)
	if err != nil {
		t.Fatalf("collectTables: %v", err)
	}

	entries, err := DecodeTableBlob(result.TableBlob)
	if err != nil {
		t.Fatalf("DecodeTableBlob: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("table blob has %d entries, want 0 (all three shares ineligible)", len(entries))
	}
	for _, sh := range []*tableregistry.Share{temp, ro, nonTxn} {
		if sh.InCheckpoint != tableregistry.Clear {
			t.Fatalf("ineligible share flag = %v, want Clear (never pinned)", sh.InCheckpoint)
		}
	}
}

// TestCollectTablesEveryEligibleShareAppearsExactlyOnce covers spec.md §8
// P4 across a mixed population of eligible and ineligible shares.
func TestCollectTablesEveryEligibleShareAppearsExactlyOnce(t *testing.T) {
	registry := tableregistry.NewRegistry()
	var eligibleNames []string
	for i := 0; i < 5; i++ {
		name := string(rune('a'+i)) + ".maria"
		share := newEligibleShare(name)
		registry.Open(share)
		eligibleNames = append(eligibleNames, name)
	}
	temp := newEligibleShare("skip-me.maria")
	temp.Temporary = true
	registry.Open(temp)

	result, err := collectTables(registry, newFakeLog(0), newFakeCache(), LevelFull, 0, 0, DefaultConfig().StateCopies)
	if err != nil {
		t.Fatalf("collectTables: %v", err)
	}

	entries, err := DecodeTableBlob(result.TableBlob)
	if err != nil {
		t.Fatalf("DecodeTableBlob: %v", err)
	}
	if len(entries) != len(eligibleNames) {
		t.Fatalf("table blob has %d entries, want %d", len(entries), len(eligibleNames))
	}

	seen := map[string]int{}
	for _, e := range entries {
		seen[e.OpenFileName]++
	}
	for _, name := range eligibleNames {
		if seen[name] != 1 {
			t.Fatalf("share %q appeared %d times in the table blob, want exactly 1", name, seen[name])
		}
	}
}

// TestCollectTablesFlushesStateWhenStale covers the conditional state
// flush: a share whose IsOfHorizon predates the checkpoint-start horizon
// gets its state written to the index file.
func TestCollectTablesFlushesStateWhenStale(t *testing.T) {
	registry := tableregistry.NewRegistry()
	share := newEligibleShare("stale.maria")
	share.IsOfHorizon = 1
	idx := &fakeFileHandle{fd: 20}
	share.IndexFile = idx
	registry.Open(share)

	_, err := collectTables(registry, newFakeLog(50), newFakeCache(), LevelMedium, 0, 50, DefaultConfig().StateCopies)
	if err != nil {
		t.Fatalf("collectTables: %v", err)
	}

	if len(idx.writes) != 1 {
		t.Fatalf("index file received %d state writes, want 1", len(idx.writes))
	}
	if string(idx.writes[0]) != "state" {
		t.Fatalf("state write payload = %q, want %q", idx.writes[0], "state")
	}
	if share.IsOfHorizon != 50 {
		t.Fatalf("IsOfHorizon after flush = %d, want 50 (the log horizon at flush time)", share.IsOfHorizon)
	}
}

// TestCollectTablesIgnoresClosedDescriptorSyncError covers spec.md §4.2
// step 6's MY_IGNORE_BADFD semantics wired through isBadDescriptor/os.ErrClosed.
func TestCollectTablesIgnoresClosedDescriptorSyncError(t *testing.T) {
	registry := tableregistry.NewRegistry()
	share := newEligibleShare("closing.maria")
	share.DataFile = &fakeFileHandle{fd: 10, syncErr: &fs.PathError{Op: "sync", Path: "closing.maria", Err: os.ErrClosed}}
	registry.Open(share)

	result, err := collectTables(registry, newFakeLog(0), newFakeCache(), LevelMedium, 0, 0, DefaultConfig().StateCopies)
	if err != nil {
		t.Fatalf("collectTables: %v", err)
	}
	if result.SyncErrors != 0 {
		t.Fatalf("SyncErrors = %d, want 0 (a closed-descriptor sync error must be ignored)", result.SyncErrors)
	}
}

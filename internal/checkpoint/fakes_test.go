package checkpoint

import (
	"fmt"
	"sync"

	"github.com/ariaengine/checkpoint/internal/storage/pager"
)

// fakeLog is a minimal LogManager for exercising the executor, controller
// and worker without touching disk.
type fakeLog struct {
	mu        sync.Mutex
	horizon   pager.LSN
	nextLSN   pager.LSN
	appendErr error
	flushErr  error
	appended  [][]byte
}

func newFakeLog(horizon pager.LSN) *fakeLog {
	return &fakeLog{horizon: horizon, nextLSN: horizon + 1}
}

func (l *fakeLog) Lock()   { l.mu.Lock() }
func (l *fakeLog) Unlock() { l.mu.Unlock() }

func (l *fakeLog) Horizon() pager.LSN {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.horizon
}

func (l *fakeLog) HorizonLocked() pager.LSN { return l.horizon }

func (l *fakeLog) AppendCheckpoint(body []byte) (pager.LSN, error) {
	if l.appendErr != nil {
		return pager.LSNImpossible, l.appendErr
	}
	lsn := l.nextLSN
	l.nextLSN++
	l.appended = append(l.appended, body)
	l.horizon = lsn
	return lsn, nil
}

func (l *fakeLog) Flush(lsn pager.LSN) error { return l.flushErr }

// fakeTxns is a minimal TxnManager.
type fakeTxns struct {
	blobA, blobB             []byte
	minRecLSN, minFirstUndo  pager.LSN
	err                      error
}

func (t *fakeTxns) CollectTransactions() ([]byte, []byte, pager.LSN, pager.LSN, error) {
	if t.err != nil {
		return nil, nil, 0, 0, t.err
	}
	return t.blobA, t.blobB, t.minRecLSN, t.minFirstUndo, nil
}

// fakeCache is a minimal PageCache recording flush invocations.
type fakeCache struct {
	mu           sync.Mutex
	blob         []byte
	minPageRecLSN pager.LSN
	collectErr   error
	flushCalls   []int32
	flushExhausted map[int32]bool
	flushErr     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{blob: make([]byte, 4), flushExhausted: map[int32]bool{}}
}

func (c *fakeCache) CollectChangedBlocksWithLSN() ([]byte, pager.LSN, error) {
	if c.collectErr != nil {
		return nil, 0, c.collectErr
	}
	return c.blob, c.minPageRecLSN, nil
}

func (c *fakeCache) FlushBlocksWithFilter(file int32, filter FilterFunc, params *FilterParams) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushCalls = append(c.flushCalls, file)
	if c.flushErr != nil {
		return false, c.flushErr
	}
	return c.flushExhausted[file], nil
}

// fakeControl is a minimal ControlFile.
type fakeControl struct {
	mu      sync.Mutex
	writes  []pager.LSN
	writeErr error
}

func (c *fakeControl) WriteCheckpointLSN(lsn pager.LSN) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, lsn)
	return nil
}

var errInjected = fmt.Errorf("injected failure")

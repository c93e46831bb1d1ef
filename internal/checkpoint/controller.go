package checkpoint

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/ariaengine/checkpoint/internal/storage/pager"
)

// RequestStatus reports how a controller request was handled.
type RequestStatus int

const (
	// StatusExecuted means this call ran the checkpoint itself.
	StatusExecuted RequestStatus = iota
	// StatusAlreadySatisfied means a no_wait caller found an
	// equal-or-stronger checkpoint already running and skipped.
	StatusAlreadySatisfied
	// StatusFailed means the checkpoint ran but did not complete
	// successfully.
	StatusFailed
)

func (s RequestStatus) String() string {
	switch s {
	case StatusExecuted:
		return "executed"
	case StatusAlreadySatisfied:
		return "already-satisfied"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// controller serialises checkpoint requests (C4, spec.md §4.4): at most
// one in progress at a time (I1).
type controller struct {
	mu          sync.Mutex
	cond        *sync.Cond
	inProgress  Level
	exec        *executor
	stats       *Stats
	lastLSN     pager.LSN
	lowWaterMark pager.LSN
	pagesToFlush uint32
	dfiles      []int32
	kfiles      []int32
}

func newController(exec *executor, stats *Stats) *controller {
	c := &controller{exec: exec, stats: stats, inProgress: LevelNone}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// request is the controller's public operation (spec.md §4.4):
// request(level, no_wait) -> status. If noWait is true and a checkpoint of
// at least this level is already running, it returns immediately with
// StatusAlreadySatisfied instead of waiting its turn — this is what lets
// the background worker skip tick-0 work a concurrent client checkpoint
// has already covered.
func (c *controller) request(level Level, noWait bool) RequestStatus {
	c.mu.Lock()
	if noWait && c.inProgress != LevelNone && c.inProgress.AtLeast(level) {
		c.mu.Unlock()
		return StatusAlreadySatisfied
	}
	for c.inProgress != LevelNone {
		c.cond.Wait()
	}
	c.inProgress = level
	c.mu.Unlock()

	attemptID := uuid.NewString()
	c.stats.recordAttempt(attemptID)
	log.Printf("checkpoint: attempt %s level=%s started", attemptID, level)

	result, err := c.exec.execute(level, c.currentLastLSN())

	c.mu.Lock()
	c.inProgress = LevelNone
	c.mu.Unlock()
	c.cond.Broadcast()

	if err != nil {
		log.Printf("checkpoint: attempt %s level=%s failed: %v", attemptID, level, err)
		c.mu.Lock()
		c.pagesToFlush = 0
		c.mu.Unlock()
		return StatusFailed
	}

	c.mu.Lock()
	c.lastLSN = result.LSN
	c.lowWaterMark = result.LowWaterMark
	c.pagesToFlush = result.PagesToFlushBeforeNextCheckpoint
	c.dfiles = result.DFiles
	c.kfiles = result.KFiles
	c.mu.Unlock()

	c.stats.recordSuccess()
	log.Printf("checkpoint: attempt %s level=%s ok lsn=%d", attemptID, level, result.LSN)
	return StatusExecuted
}

func (c *controller) currentLastLSN() pager.LSN {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLSN
}

// snapshot returns the fields the background worker needs between ticks.
func (c *controller) snapshot() (lastLSN pager.LSN, pagesToFlush uint32, dfiles, kfiles []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLSN, c.pagesToFlush, c.dfiles, c.kfiles
}

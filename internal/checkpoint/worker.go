package checkpoint

import (
	"log"
	"sync"
	"time"

	"github.com/ariaengine/checkpoint/internal/storage/pager"
)

// workerState is the original's checkpoint_thread_die tri-state, modelled
// as an enum instead of a bool so a Service that never started a
// background worker can still report a correct Close without a spurious
// wait (spec.md §9 supplement).
type workerState int

const (
	workerNotStarted workerState = iota
	workerRunning
	workerDead
)

// worker is the background checkpoint + paced-flush loop (C5, spec.md
// §4.5). It drives periodic calls into the controller and, between them,
// flushes dirty pages evenly through dfiles then kfiles.
type worker struct {
	ctrl  *controller
	log   LogManager
	cache PageCache
	cfg   Config

	mu    sync.Mutex
	state workerState

	// tick-0 short-circuit tracking.
	lastHorizon     pager.LSN
	lastCacheWrites uint64

	// a counter the host engine bumps on every page write; used purely to
	// detect "nothing changed since the last tick-0" alongside the log
	// horizon (spec.md §4.5 phase 0).
	cacheWriteCounter *uint64

	// stopCh is closed once by stop() to wake a blocked tick sleep early
	// (teacher idiom: internal/storage/scheduler.go's stopCh shutdown
	// signal, used here instead of a condition variable because the
	// worker has exactly one waiter and no predicate besides "told to die").
	stopCh chan struct{}
	doneCh chan struct{}
}

func newWorker(ctrl *controller, logMgr LogManager, cache PageCache, cfg Config, cacheWriteCounter *uint64) *worker {
	return &worker{
		ctrl:              ctrl,
		log:               logMgr,
		cache:             cache,
		cfg:               cfg,
		cacheWriteCounter: cacheWriteCounter,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

// start launches the background loop's goroutine.
func (w *worker) start() {
	w.mu.Lock()
	w.state = workerRunning
	w.mu.Unlock()
	go w.run()
}

// stop requests termination and blocks until the worker's final FULL
// checkpoint has completed and it has acknowledged death (spec.md §4.5
// "On termination request").
func (w *worker) stop() {
	w.mu.Lock()
	if w.state != workerRunning {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

func (w *worker) dying() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// sleepOneTick waits for sleep_unit or an early wakeup from stop().
func (w *worker) sleepOneTick() {
	timer := time.NewTimer(w.cfg.SleepUnit)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.stopCh:
	}
}

func (w *worker) run() {
	ticks := w.cfg.TimeBetweenCheckpoints
	if ticks <= 0 {
		ticks = defaultTimeBetweenCheckpoints
	}

	var bunch int64
	var dfiles, kfiles []int32
	dfileIdx, kfileIdx := 0, 0

	for {
		for tick := 0; tick < ticks; tick++ {
			if w.dying() {
				w.finalCheckpointAndDie()
				return
			}

			switch tick {
			case 0:
				w.tickZero()
			case 1:
				_, pagesToFlush, df, kf := w.ctrl.snapshot()
				bunch = int64(pagesToFlush) / int64(ticks)
				dfiles, kfiles = df, kf
				dfileIdx, kfileIdx = 0, 0
			default:
				w.flushBunch(bunch, dfiles, kfiles, &dfileIdx, &kfileIdx)
			}

			w.sleepOneTick()
		}
	}
}

// tickZero is spec.md §4.5 phase 0: skip the background MEDIUM checkpoint
// if nothing has changed since the last tick-0.
func (w *worker) tickZero() {
	w.log.Lock()
	horizon := w.log.HorizonLocked()
	w.log.Unlock()

	var writes uint64
	if w.cacheWriteCounter != nil {
		writes = *w.cacheWriteCounter
	}

	if horizon == w.lastHorizon && writes == w.lastCacheWrites {
		return
	}

	w.ctrl.request(LevelMedium, true)
	w.lastHorizon = horizon
	w.lastCacheWrites = writes
}

// flushBunch is spec.md §4.5 phase default: flush up to bunch pages with
// EVENLY, advancing through dfiles then kfiles, resuming next tick from
// the same file when a file's budget runs out.
//
// The original passes dfile where kfile was clearly intended in this
// second loop (ma_checkpoint.c's ma_checkpoint_background); this
// implementation uses kfile for the index-file bunch, as the design
// ("flush data-file bunch, then index-file bunch") requires.
func (w *worker) flushBunch(bunch int64, dfiles, kfiles []int32, dfileIdx, kfileIdx *int) {
	if bunch <= 0 {
		return
	}
	lastCheckpointLSN, _, _, _ := w.ctrl.snapshot()
	params := &FilterParams{UpToLSN: lastCheckpointLSN, MaxPages: bunch}

	for *dfileIdx < len(dfiles) {
		if params.MaxPages <= 0 {
			return
		}
		exhausted, err := w.cache.FlushBlocksWithFilter(dfiles[*dfileIdx], EvenlyFilter, params)
		if err != nil {
			log.Printf("checkpoint: background data flush failed: %v", err)
		}
		if exhausted {
			return
		}
		*dfileIdx++
	}

	for *kfileIdx < len(kfiles) {
		if params.MaxPages <= 0 {
			return
		}
		exhausted, err := w.cache.FlushBlocksWithFilter(kfiles[*kfileIdx], EvenlyFilter, params)
		if err != nil {
			log.Printf("checkpoint: background index flush failed: %v", err)
		}
		if exhausted {
			return
		}
		*kfileIdx++
	}
}

func (w *worker) finalCheckpointAndDie() {
	w.ctrl.request(LevelFull, false)

	w.mu.Lock()
	w.state = workerDead
	w.mu.Unlock()

	close(w.doneCh)
}

package checkpoint

import (
	"github.com/ariaengine/checkpoint/internal/storage/pager"
	"github.com/ariaengine/checkpoint/internal/tableregistry"
)

// Service is the checkpoint subsystem's entry point — the explicit handle
// spec.md §9 recommends in place of global module state ("A safe
// realisation passes an explicit CheckpointService handle constructed at
// engine start-up and destroyed at shutdown"). It corresponds to the
// original's ma_checkpoint_init/ma_checkpoint_end pair (spec.md §4
// supplement).
type Service struct {
	ctrl   *controller
	worker *worker
	stats  Stats
}

// Deps are the external collaborators a Service needs (spec.md §1
// "out of scope... interfaces only").
type Deps struct {
	Log           LogManager
	Txns          TxnManager
	Cache         PageCache
	Control       ControlFile
	Registry      *tableregistry.Registry
	CacheWriteCtr *uint64 // optional, for the background worker's tick-0 short-circuit
}

// NewService constructs a checkpoint subsystem. If cfg is the zero value,
// spec.md §6.4's defaults apply. The background worker is not started;
// call StartBackgroundWorker explicitly, mirroring the original's
// create_background_thread parameter to ma_checkpoint_init.
func NewService(deps Deps, cfg Config) *Service {
	cfg = cfg.withDefaults()
	svc := &Service{}

	exec := &executor{
		log:      deps.Log,
		txns:     deps.Txns,
		cache:    deps.Cache,
		control:  deps.Control,
		registry: deps.Registry,
		cfg:      cfg,
	}
	svc.ctrl = newController(exec, &svc.stats)
	svc.worker = newWorker(svc.ctrl, deps.Log, deps.Cache, cfg, deps.CacheWriteCtr)
	return svc
}

// StartBackgroundWorker launches the periodic checkpoint + paced-flush
// loop (C5).
func (s *Service) StartBackgroundWorker() {
	s.worker.start()
}

// Request runs (or skips) a checkpoint of the given level through the
// controller (C4). See controller.request for no_wait semantics.
func (s *Service) Request(level Level, noWait bool) RequestStatus {
	return s.ctrl.request(level, noWait)
}

// Stats returns a snapshot of the checkpoint counters.
func (s *Service) Stats() (total, ok uint64, lastAttemptID string) {
	return s.stats.Snapshot()
}

// LastCheckpointLSN returns the LSN published by the most recent
// successful checkpoint, or pager.LSNImpossible if none has run yet.
func (s *Service) LastCheckpointLSN() pager.LSN {
	lsn, _, _, _ := s.ctrl.snapshot()
	return lsn
}

// Close stops the background worker, if one was started, performing its
// final FULL checkpoint before returning (spec.md §4.5 "On termination
// request"). Calling Close when StartBackgroundWorker was never called is
// a correct no-op — the workerNotStarted/workerDead distinction exists
// exactly so this doesn't block forever (spec.md §9 supplement).
func (s *Service) Close() {
	s.worker.stop()
}

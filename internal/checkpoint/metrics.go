package checkpoint

import "sync"

// Stats holds the checkpoint subsystem's module-level counters (spec.md §9
// "Global module state"; the original's checkpoints_total/checkpoints_ok_total
// statics).
type Stats struct {
	mu sync.Mutex

	checkpointsTotal   uint64
	checkpointsOKTotal uint64

	// lastAttemptID is the correlation id (google/uuid) of the most
	// recently started checkpoint attempt, exposed so a caller can
	// correlate logs with a specific attempt (spec.md §9 supplement:
	// the original has no per-attempt id, but every other collaborator in
	// the pack that logs a multi-step operation stamps it with one — see
	// DESIGN.md).
	lastAttemptID string
}

func (s *Stats) recordAttempt(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointsTotal++
	s.lastAttemptID = id
}

func (s *Stats) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointsOKTotal++
}

// Snapshot returns a consistent copy of the counters.
func (s *Stats) Snapshot() (total, ok uint64, lastAttemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointsTotal, s.checkpointsOKTotal, s.lastAttemptID
}

package checkpoint

import (
	"errors"
	"log"
	"os"

	"github.com/ariaengine/checkpoint/internal/storage/pager"
	"github.com/ariaengine/checkpoint/internal/tableregistry"
)

// collectResult is the table collector's output (spec.md §4.2): the
// table-blob plus the descriptor arrays the background worker flushes
// between checkpoints.
type collectResult struct {
	TableBlob  []byte
	DFiles     []int32
	KFiles     []int32
	SyncErrors int
}

// shareSnapshot pairs a pinned share with the state bytes captured for it
// in one batch under the log lock (spec.md §4.2 step 5).
type shareSnapshot struct {
	share   *tableregistry.Share
	state   []byte
	horizon pager.LSN
}

// collectTables runs the table collector (C2, spec.md §4.2). level
// decides which filter flushes each share's dirty data/index pages;
// upToLSN is that filter's up_to_lsn parameter (meaningful for MEDIUM);
// checkpointStartHorizon is the horizon captured by the executor's step 1.
func collectTables(
	registry *tableregistry.Registry,
	logMgr LogManager,
	cache PageCache,
	level Level,
	upToLSN pager.LSN,
	checkpointStartHorizon pager.LSN,
	stateCopies int,
) (*collectResult, error) {
	// Steps 1–3: scan + pin under the registry lock, released on return.
	shares := registry.BeginCollection()

	// Step 5: batch state snapshots of up to stateCopies shares per
	// log-lock acquisition. This copy reads share.State.Data directly
	// without taking each share's intern_lock; only the log lock is held
	// across the batch (I3).
	snapshots := make([]shareSnapshot, 0, len(shares))
	for start := 0; start < len(shares); start += stateCopies {
		end := start + stateCopies
		if end > len(shares) {
			end = len(shares)
		}
		batch := shares[start:end]

		logMgr.Lock()
		h := logMgr.HorizonLocked()
		for _, share := range batch {
			var cp []byte
			if share.State != nil && share.State.Data != nil {
				cp = append([]byte(nil), share.State.Data...)
			}
			snapshots = append(snapshots, shareSnapshot{share: share, state: cp, horizon: h})
		}
		logMgr.Unlock()
	}

	result := &collectResult{}
	filter := level.filterFor()
	var entries []TableEntry

	for _, snap := range snapshots {
		entry, dfd, kfd, syncErr := processShare(registry, cache, snap, filter, upToLSN, checkpointStartHorizon)
		if dfd != -1 {
			result.DFiles = append(result.DFiles, dfd)
		}
		if kfd != -1 {
			result.KFiles = append(result.KFiles, kfd)
		}
		if syncErr {
			result.SyncErrors++
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}

	// Step 7: the buffer prefix (nb_stored) reflects entries actually
	// stored, which may be fewer than len(shares) once obsolete shares are
	// skipped.
	result.TableBlob = EncodeTableBlob(entries)

	return result, nil
}

// processShare runs step 6 for one pinned share, and always finishes its
// participation in the checkpoint (registry.FinishCollection) before
// returning, whether or not it ends up in the table-blob.
func processShare(
	registry *tableregistry.Registry,
	cache PageCache,
	snap shareSnapshot,
	filter FilterFunc,
	upToLSN pager.LSN,
	checkpointStartHorizon pager.LSN,
) (entry *TableEntry, dfd, kfd int32, syncErr bool) {
	share := snap.share
	defer registry.FinishCollection(share)

	share.Lock()
	defer share.Unlock()

	dfd, kfd = -1, -1
	if share.DataFile != nil {
		dfd = share.DataFile.Descriptor()
	}
	if share.IndexFile != nil {
		kfd = share.IndexFile.Descriptor()
	}

	// Obsolete/never-recoverable shares: pin-then-release with no further
	// work (spec.md §8 scenario 6).
	if share.ShortID == 0 || share.LastVersion == 0 {
		return nil, -1, -1, false
	}

	e := &TableEntry{
		ShortID:             uint16(share.ShortID),
		IndexFileDescriptor: kfd,
		DataFileDescriptor:  dfd,
		LSNOfFileID:         share.LSNOfFileID,
		OpenFileName:        share.FileName,
	}

	// Conditional state flush.
	if share.State != nil && share.IsOfHorizon < checkpointStartHorizon {
		share.IsOfHorizon = snap.horizon
		if share.IndexFile != nil {
			if _, err := share.IndexFile.WriteAt(snap.state, 0); err != nil {
				log.Printf("checkpoint: state flush failed for share %d: %v", share.ShortID, err)
			}
		}
	}

	// Bitmap flush: bitmap pages of this share's data file.
	if share.DataFile != nil {
		params := &FilterParams{UpToLSN: upToLSN, PagesCoveredByBitmap: share.PagesCovered, IsDataFile: true}
		if _, err := cache.FlushBlocksWithFilter(dfd, IndirectFilter, params); err != nil {
			log.Printf("checkpoint: bitmap flush failed for share %d: %v", share.ShortID, err)
		}

		dataParams := &FilterParams{UpToLSN: upToLSN, PagesCoveredByBitmap: share.PagesCovered, IsDataFile: true}
		if _, err := cache.FlushBlocksWithFilter(dfd, filter, dataParams); err != nil {
			log.Printf("checkpoint: data flush failed for share %d: %v", share.ShortID, err)
		}
	}
	if share.IndexFile != nil {
		idxParams := &FilterParams{UpToLSN: upToLSN, PagesCoveredByBitmap: 0, IsDataFile: false}
		if _, err := cache.FlushBlocksWithFilter(kfd, filter, idxParams); err != nil {
			log.Printf("checkpoint: index flush failed for share %d: %v", share.ShortID, err)
		}
	}

	if share.DataFile != nil {
		if err := share.DataFile.Sync(); err != nil && !isBadDescriptor(err) {
			log.Printf("checkpoint: fsync data file failed for share %d: %v", share.ShortID, err)
			syncErr = true
		}
	}
	if share.IndexFile != nil {
		if err := share.IndexFile.Sync(); err != nil && !isBadDescriptor(err) {
			log.Printf("checkpoint: fsync index file failed for share %d: %v", share.ShortID, err)
			syncErr = true
		}
	}

	return e, dfd, kfd, syncErr
}

// isBadDescriptor reports whether err looks like the "file already closed
// during maintenance" condition the original ignores via MY_IGNORE_BADFD
// (spec.md §4.2 step 6, §9 supplement). This package has no OS-specific
// errno access without new dependencies, so it treats exactly os.ErrClosed
// (wrapped or not, e.g. inside a *fs.PathError from os.File.Sync) as
// ignorable; anything else is reported.
func isBadDescriptor(err error) bool {
	return errors.Is(err, os.ErrClosed)
}


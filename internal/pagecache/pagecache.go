// Package pagecache implements the page-cache collaborator (spec.md §1
// "out of scope... interfaces only"): it enumerates dirty pages with their
// rec_lsn, and flushes a filtered subset of a file's pages.
//
// This is a reference implementation good enough to drive the checkpoint
// subsystem's tests and the cmd/checkpointd demo — a hosting storage
// engine would plug in its own buffer pool (keyed the same way: file
// descriptor + page number) behind the same two operations.
package pagecache

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/ariaengine/checkpoint/internal/checkpoint"
	"github.com/ariaengine/checkpoint/internal/storage/pager"
)

type pageKey struct {
	file   int32
	pageNo uint32
}

type dirtyPage struct {
	pageType pager.PageType
	recLSN   pager.LSN
}

// Cache is an in-memory dirty-page tracker.
type Cache struct {
	mu    sync.Mutex
	dirty map[pageKey]dirtyPage
}

// New creates an empty page cache.
func New() *Cache {
	return &Cache{dirty: make(map[pageKey]dirtyPage)}
}

// MarkDirty records that file/pageNo carries the effect of a log record at
// recLSN and has not yet been written back.
func (c *Cache) MarkDirty(file int32, pageNo uint32, pageType pager.PageType, recLSN pager.LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty[pageKey{file, pageNo}] = dirtyPage{pageType: pageType, recLSN: recLSN}
}

// Clean marks a page as flushed, removing it from the dirty set.
func (c *Cache) Clean(file int32, pageNo uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dirty, pageKey{file, pageNo})
}

// CollectChangedBlocksWithLSN implements checkpoint.PageCache. The blob is
// a u32 count followed by that many (file int32, pageNo u32, recLSN u64)
// entries, sorted by (file, pageNo) for determinism.
func (c *Cache) CollectChangedBlocksWithLSN() ([]byte, pager.LSN, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]pageKey, 0, len(c.dirty))
	for k, v := range c.dirty {
		if v.pageType.IsLSNPage() {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].file != keys[j].file {
			return keys[i].file < keys[j].file
		}
		return keys[i].pageNo < keys[j].pageNo
	})

	buf := make([]byte, 4, 4+len(keys)*16)
	binary.LittleEndian.PutUint32(buf, uint32(len(keys)))

	minLSN := pager.LSNImpossible
	for _, k := range keys {
		entry := c.dirty[k]
		var rec [16]byte
		binary.LittleEndian.PutUint32(rec[0:4], uint32(k.file))
		binary.LittleEndian.PutUint32(rec[4:8], k.pageNo)
		binary.LittleEndian.PutUint64(rec[8:16], uint64(entry.recLSN))
		buf = append(buf, rec[:]...)

		if minLSN == pager.LSNImpossible || entry.recLSN < minLSN {
			minLSN = entry.recLSN
		}
	}

	return buf, minLSN, nil
}

// FlushBlocksWithFilter implements checkpoint.PageCache: it walks file's
// dirty pages in increasing page-number order and applies filter to each.
func (c *Cache) FlushBlocksWithFilter(file int32, filter checkpoint.FilterFunc, params *checkpoint.FilterParams) (bool, error) {
	c.mu.Lock()
	keys := make([]pageKey, 0)
	for k := range c.dirty {
		if k.file == file {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].pageNo < keys[j].pageNo })

	for _, k := range keys {
		c.mu.Lock()
		entry, ok := c.dirty[k]
		c.mu.Unlock()
		if !ok {
			continue // already flushed concurrently
		}

		switch filter(entry.pageType, k.pageNo, entry.recLSN, params) {
		case checkpoint.Flush:
			c.Clean(k.file, k.pageNo)
		case checkpoint.SkipAndStop:
			return true, nil
		case checkpoint.Skip:
			// continue
		}
	}
	return false, nil
}

// DirtyCount reports the number of dirty pages currently tracked for file,
// for tests.
func (c *Cache) DirtyCount(file int32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.dirty {
		if k.file == file {
			n++
		}
	}
	return n
}

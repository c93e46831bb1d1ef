package pager

import "os"

// OSFileHandle adapts an *os.File to the minimal descriptor-based surface
// the checkpoint subsystem's table registry needs from a table's data/index
// file (spec.md §6.1: raw OS descriptor, possibly -1).
type OSFileHandle struct {
	f *os.File
}

// NewOSFileHandle wraps an already-open file.
func NewOSFileHandle(f *os.File) *OSFileHandle {
	return &OSFileHandle{f: f}
}

// Descriptor returns the raw OS file descriptor.
func (h *OSFileHandle) Descriptor() int32 {
	if h == nil || h.f == nil {
		return -1
	}
	return int32(h.f.Fd())
}

// WriteAt writes p at the given offset.
func (h *OSFileHandle) WriteAt(p []byte, off int64) (int, error) {
	return h.f.WriteAt(p, off)
}

// Sync flushes the file to stable storage.
func (h *OSFileHandle) Sync() error {
	return h.f.Sync()
}

// Close closes the underlying file.
func (h *OSFileHandle) Close() error {
	return h.f.Close()
}

// Package pager holds the checkpoint subsystem's low-level durability
// primitives: the LSN/page-identity types, the CRC'd page header shared by
// the control file and data pages, the write-ahead log, and the control
// file. Higher-level collaborators (page cache, table registry, transaction
// manager) and the checkpoint orchestration itself live in sibling
// internal/ packages and are built on top of these primitives.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// DefaultPageSize is the default page size in bytes (8 KiB).
	DefaultPageSize = 8192

	// MinPageSize is the minimum allowed page size (4 KiB).
	MinPageSize = 4096

	// MaxPageSize is the maximum allowed page size (64 KiB).
	MaxPageSize = 65536

	// PageHeaderSize is the size of the common page header in bytes.
	// Layout:
	//   [0]    PageType   (1 byte)
	//   [1]    Flags      (1 byte)
	//   [2:4]  Reserved   (2 bytes)
	//   [4:8]  PageID     (4 bytes, uint32 LE)
	//   [8:16] LSN        (8 bytes, uint64 LE)
	//   [16:20] CRC32     (4 bytes, uint32 LE)
	//   [20:32] Reserved  (12 bytes)
	PageHeaderSize = 32

	// InvalidPageID represents a null/invalid page pointer.
	InvalidPageID PageID = 0

	// LSNImpossible is the distinguished "no LSN" sentinel (spec.md §3).
	// It compares smaller than every real LSN, so code that hasn't learned
	// a real bound yet (e.g. "log horizon at last checkpoint, never
	// observed") behaves correctly when compared against it.
	LSNImpossible LSN = 0
)

// PageType identifies the kind of data stored in a page, for the purposes
// of checkpoint page filtering (spec.md §3, §4.1). DATA and INDEX pages
// carry a rec_lsn and are what the spec calls "LSN_PAGE"; BITMAP pages are
// free-space bookkeeping pages, located at multiples of a file's bitmap
// density.
type PageType uint8

const (
	PageTypeUnknown PageType = 0x00
	PageTypeData    PageType = 0x01
	PageTypeIndex   PageType = 0x02
	PageTypeBitmap  PageType = 0x03
	// PageTypeControlFile tags the single page written by the control file.
	PageTypeControlFile PageType = 0x10
)

func (pt PageType) String() string {
	switch pt {
	case PageTypeData:
		return "Data"
	case PageTypeIndex:
		return "Index"
	case PageTypeBitmap:
		return "Bitmap"
	case PageTypeControlFile:
		return "ControlFile"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// IsLSNPage reports whether pages of this type carry a meaningful rec_lsn
// (spec.md §3: "the filters key on whether a page is LSN_PAGE"). Bitmap
// pages are flushed by a different rule (the two-checkpoint / FULL /
// INDIRECT filters all special-case them) and do not count.
func (pt PageType) IsLSNPage() bool {
	return pt == PageTypeData || pt == PageTypeIndex
}

// PageID is a 32-bit page identifier within a file.
type PageID uint32

// LSN is a monotonically increasing Log Sequence Number, also used as a
// log address (spec.md §3 / GLOSSARY).
type LSN uint64

// Less reports a strict total order over LSNs.
func (l LSN) Less(other LSN) bool { return l < other }

// Min returns the smaller of two LSNs.
func Min(a, b LSN) LSN {
	if a < b {
		return a
	}
	return b
}

// TxID is a transaction identifier.
type TxID uint64

// PageHeader is the 32-byte header present at the start of every page this
// subsystem writes to disk (control-file page, and — in a hosting engine —
// data/index/bitmap pages).
type PageHeader struct {
	Type     PageType
	Flags    uint8
	Reserved uint16
	ID       PageID
	LSN      LSN
	CRC      uint32
	Pad      [12]byte
}

// MarshalHeader writes a PageHeader into the first PageHeaderSize bytes of buf.
func MarshalHeader(h *PageHeader, buf []byte) {
	if len(buf) < PageHeaderSize {
		panic("buffer too small for PageHeader")
	}
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Reserved)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.LSN))
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC)
	copy(buf[20:32], h.Pad[:])
}

// UnmarshalHeader reads a PageHeader from the first PageHeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) PageHeader {
	var h PageHeader
	h.Type = PageType(buf[0])
	h.Flags = buf[1]
	h.Reserved = binary.LittleEndian.Uint16(buf[2:4])
	h.ID = PageID(binary.LittleEndian.Uint32(buf[4:8]))
	h.LSN = LSN(binary.LittleEndian.Uint64(buf[8:16]))
	h.CRC = binary.LittleEndian.Uint32(buf[16:20])
	copy(h.Pad[:], buf[20:32])
	return h
}

// crcTable is the CRC32 (Castagnoli) table used throughout.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputePageCRC computes the CRC32-C of a full page, treating the CRC
// field (bytes 16..20) as zero during computation.
func ComputePageCRC(page []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(page[:16])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(page[20:])
	return h.Sum32()
}

// SetPageCRC computes and writes the CRC into the page header.
func SetPageCRC(page []byte) {
	c := ComputePageCRC(page)
	binary.LittleEndian.PutUint32(page[16:20], c)
}

// VerifyPageCRC checks the CRC32 checksum of a page.
func VerifyPageCRC(page []byte) error {
	if len(page) < PageHeaderSize {
		return fmt.Errorf("page too small: %d bytes", len(page))
	}
	stored := binary.LittleEndian.Uint32(page[16:20])
	computed := ComputePageCRC(page)
	if stored != computed {
		pid := PageID(binary.LittleEndian.Uint32(page[4:8]))
		return fmt.Errorf("CRC mismatch on page %d: stored=%08x computed=%08x", pid, stored, computed)
	}
	return nil
}

// NewPage allocates a zeroed page buffer at the given size and writes its header.
func NewPage(pageSize int, pt PageType, id PageID) []byte {
	buf := make([]byte, pageSize)
	h := &PageHeader{Type: pt, ID: id}
	MarshalHeader(h, buf)
	return buf
}

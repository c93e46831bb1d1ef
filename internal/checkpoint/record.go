package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ariaengine/checkpoint/internal/storage/pager"
)

// TableEntry is one row of the checkpoint record's table-blob (spec.md §6.1).
type TableEntry struct {
	ShortID             uint16
	IndexFileDescriptor int32 // may be -1
	DataFileDescriptor  int32 // may be -1
	LSNOfFileID         pager.LSN
	OpenFileName        string
}

// EncodeTableBlob serialises a table snapshot: a u32 count followed by
// nb_stored fixed-then-variable entries (spec.md §6.1).
func EncodeTableBlob(entries []TableEntry) []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(entries)))
	buf.Write(countBuf[:])
	for _, e := range entries {
		var fixed [2 + 4 + 4 + 8]byte
		binary.LittleEndian.PutUint16(fixed[0:2], e.ShortID)
		binary.LittleEndian.PutUint32(fixed[2:6], uint32(e.IndexFileDescriptor))
		binary.LittleEndian.PutUint32(fixed[6:10], uint32(e.DataFileDescriptor))
		binary.LittleEndian.PutUint64(fixed[10:18], uint64(e.LSNOfFileID))
		buf.Write(fixed[:])
		buf.WriteString(e.OpenFileName)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeTableBlob parses a blob produced by EncodeTableBlob.
func DecodeTableBlob(blob []byte) ([]TableEntry, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("checkpoint: table blob too short")
	}
	count := binary.LittleEndian.Uint32(blob[0:4])
	entries := make([]TableEntry, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+18 > len(blob) {
			return nil, fmt.Errorf("checkpoint: truncated table blob entry %d", i)
		}
		e := TableEntry{
			ShortID:             binary.LittleEndian.Uint16(blob[off : off+2]),
			IndexFileDescriptor: int32(binary.LittleEndian.Uint32(blob[off+2 : off+6])),
			DataFileDescriptor:  int32(binary.LittleEndian.Uint32(blob[off+6 : off+10])),
			LSNOfFileID:         pager.LSN(binary.LittleEndian.Uint64(blob[off+10 : off+18])),
		}
		off += 18
		nul := bytes.IndexByte(blob[off:], 0)
		if nul < 0 {
			return nil, fmt.Errorf("checkpoint: unterminated file name in table blob entry %d", i)
		}
		e.OpenFileName = string(blob[off : off+nul])
		off += nul + 1
		entries = append(entries, e)
	}
	return entries, nil
}

// Record is the decoded form of a checkpoint log record (spec.md §6.1).
type Record struct {
	Horizon   pager.LSN
	TxnBlobA  []byte
	TxnBlobB  []byte
	TableBlob []byte
	PageBlob  []byte
}

// PageCount returns the pager budget prefix of the page-blob — the number
// of dirty LSN pages the page cache reported at capture time (spec.md §4.3
// step 7: "pages_to_flush_before_next_checkpoint").
func (r *Record) PageCount() (uint32, error) {
	if len(r.PageBlob) < 4 {
		return 0, fmt.Errorf("checkpoint: page blob too short")
	}
	return binary.LittleEndian.Uint32(r.PageBlob[0:4]), nil
}

// Encode concatenates the checkpoint record's five pieces into the bytes
// written to the log (spec.md §6.1): horizon, then length-prefixed
// transaction blobs (opaque to this package), then the self-delimiting
// table-blob, then the page-blob (which must come last: everything after
// its count prefix is opaque page-cache payload extending to the record's
// end).
func (r *Record) Encode() []byte {
	var buf bytes.Buffer

	var horizonBuf [8]byte
	binary.LittleEndian.PutUint64(horizonBuf[:], uint64(r.Horizon))
	buf.Write(horizonBuf[:])

	writeLenPrefixed(&buf, r.TxnBlobA)
	writeLenPrefixed(&buf, r.TxnBlobB)

	buf.Write(r.TableBlob)
	buf.Write(r.PageBlob)

	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, blob []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(blob)))
	buf.Write(lenBuf[:])
	buf.Write(blob)
}

// DecodeRecord reverses Encode. It trusts the table-blob's own nb_stored
// count to find where the table-blob ends and the page-blob begins (P7:
// round-tripping preserves every field and order, including -1 descriptors).
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("checkpoint: record too short for horizon")
	}
	r := &Record{Horizon: pager.LSN(binary.LittleEndian.Uint64(data[0:8]))}
	off := 8

	var err error
	r.TxnBlobA, off, err = readLenPrefixed(data, off)
	if err != nil {
		return nil, err
	}
	r.TxnBlobB, off, err = readLenPrefixed(data, off)
	if err != nil {
		return nil, err
	}

	tableEnd, err := tableBlobLength(data[off:])
	if err != nil {
		return nil, err
	}
	r.TableBlob = data[off : off+tableEnd]
	off += tableEnd

	r.PageBlob = data[off:]
	return r, nil
}

func readLenPrefixed(data []byte, off int) ([]byte, int, error) {
	if off+4 > len(data) {
		return nil, 0, fmt.Errorf("checkpoint: truncated record at length prefix")
	}
	n := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if off+n > len(data) {
		return nil, 0, fmt.Errorf("checkpoint: truncated record blob")
	}
	return data[off : off+n], off + n, nil
}

// tableBlobLength walks a table-blob's self-describing structure (count +
// nb_stored variable entries) to find its total byte length without being
// told it up front.
func tableBlobLength(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("checkpoint: table blob too short")
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+18 > len(data) {
			return 0, fmt.Errorf("checkpoint: truncated table blob entry %d", i)
		}
		off += 18
		nul := bytes.IndexByte(data[off:], 0)
		if nul < 0 {
			return 0, fmt.Errorf("checkpoint: unterminated file name in table blob entry %d", i)
		}
		off += nul + 1
	}
	return off, nil
}

package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// WAL file format
// ───────────────────────────────────────────────────────────────────────────
//
// The WAL is an append-only file of fixed-format records holding arbitrary
// byte payloads (CHECKPOINT records, and whatever a hosting engine's own
// REDO/UNDO records look like — this subsystem does not care about their
// shape beyond the CHECKPOINT record it writes itself).
//
// WAL file header (first 32 bytes):
//   [0:8]   Magic       "TNCKWAL\x00"
//   [8:12]  Version     uint32 LE (currently 1)
//   [12:16] Reserved    4 bytes
//   [16:24] Reserved    8 bytes
//   [24:28] HeaderCRC   uint32 LE (CRC of bytes 0:24)
//   [28:32] Padding     4 bytes
//
// WAL record (variable-length, follows header):
//   [0]     RecordType  (1 byte)
//   [1:5]   Reserved    (4 bytes)
//   [5:13]  LSN         (uint64 LE)
//   [13:21] TxID        (uint64 LE)
//   [21:25] PageID      (uint32 LE) — meaningful only for PAGE_IMAGE records
//   [25:29] DataLen     (uint32 LE)
//   [29:33] RecordCRC   (uint32 LE)
//   [33:33+DataLen]     Data

const (
	WALMagic       = "TNCKWAL\x00"
	WALVersion     = uint32(1)
	WALFileHdrSize = 32
	WALRecHdrSize  = 33
)

// WALRecordType identifies the kind of WAL record.
type WALRecordType uint8

const (
	WALRecordBegin      WALRecordType = 0x01
	WALRecordPageImage  WALRecordType = 0x02
	WALRecordCommit     WALRecordType = 0x03
	WALRecordAbort      WALRecordType = 0x04
	WALRecordCheckpoint WALRecordType = 0x05
)

func (rt WALRecordType) String() string {
	switch rt {
	case WALRecordBegin:
		return "BEGIN"
	case WALRecordPageImage:
		return "PAGE_IMAGE"
	case WALRecordCommit:
		return "COMMIT"
	case WALRecordAbort:
		return "ABORT"
	case WALRecordCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(rt))
	}
}

// WALRecord is an in-memory representation of a WAL record.
type WALRecord struct {
	Type   WALRecordType
	LSN    LSN
	TxID   TxID
	PageID PageID
	Data   []byte
}

// WALFile manages the append-only WAL file. It is the concrete log manager
// collaborator (spec.md §6.3: log.horizon/lock/unlock/append_record/flush/purge).
type WALFile struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	nextLSN  LSN
	writePos int64 // current write offset — avoids Seek syscall
}

// OpenWALFile opens or creates a WAL file. If the file exists, it validates
// the header. If it does not exist, it writes a new header.
func OpenWALFile(path string) (*WALFile, error) {
	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	wf := &WALFile{f: f, path: path, nextLSN: 1}

	if exists {
		if err := wf.validateHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := wf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	endPos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek WAL end: %w", err)
	}
	wf.writePos = endPos

	return wf, nil
}

func (wf *WALFile) writeHeader() error {
	var hdr [WALFileHdrSize]byte
	copy(hdr[0:8], WALMagic)
	binary.LittleEndian.PutUint32(hdr[8:12], WALVersion)
	c := crc32.Checksum(hdr[:24], crcTable)
	binary.LittleEndian.PutUint32(hdr[24:28], c)
	if _, err := wf.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write WAL header: %w", err)
	}
	return wf.f.Sync()
}

func (wf *WALFile) validateHeader() error {
	var hdr [WALFileHdrSize]byte
	n, err := wf.f.ReadAt(hdr[:], 0)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read WAL header: %w", err)
	}
	if n < WALFileHdrSize {
		return fmt.Errorf("WAL header too short: %d bytes", n)
	}
	if string(hdr[0:8]) != WALMagic {
		return fmt.Errorf("bad WAL magic")
	}
	ver := binary.LittleEndian.Uint32(hdr[8:12])
	if ver != WALVersion {
		return fmt.Errorf("unsupported WAL version %d", ver)
	}
	stored := binary.LittleEndian.Uint32(hdr[24:28])
	computed := crc32.Checksum(hdr[:24], crcTable)
	if stored != computed {
		return fmt.Errorf("WAL header CRC mismatch")
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Log manager collaborator surface (spec.md §6.3)
// ───────────────────────────────────────────────────────────────────────────

// Lock acquires the log's lock. Holding it pairs a horizon read with
// whatever else must be atomic with it (I3): the table collector's state
// snapshot batching, and the executor's control-file write (I2).
func (wf *WALFile) Lock() { wf.mu.Lock() }

// Unlock releases the log's lock.
func (wf *WALFile) Unlock() { wf.mu.Unlock() }

// Horizon returns the LSN the next appended record will receive, so every
// record written afterwards has an LSN at or above it. It takes the log's
// lock itself (the "lock-free from the caller's
// perspective" variant of spec.md §6.3).
func (wf *WALFile) Horizon() LSN {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.nextLSN
}

// HorizonLocked is the same read, assuming the caller already holds Lock().
func (wf *WALFile) HorizonLocked() LSN {
	return wf.nextLSN
}

// AppendRecord writes a WAL record and assigns it a monotonic LSN. Returns
// the assigned LSN. Locks internally — callers must not hold Lock() across
// this call.
func (wf *WALFile) AppendRecord(rec *WALRecord) (LSN, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	lsn := wf.nextLSN
	wf.nextLSN++
	rec.LSN = lsn

	data := marshalWALRecord(rec)
	n, err := wf.f.WriteAt(data, wf.writePos)
	if err != nil {
		return 0, fmt.Errorf("WAL append: %w", err)
	}
	wf.writePos += int64(n)
	return lsn, nil
}

// AppendCheckpoint appends a CHECKPOINT record whose payload is the
// concatenation of the caller's parts (horizon + four blobs, spec.md §6.1).
func (wf *WALFile) AppendCheckpoint(body []byte) (LSN, error) {
	return wf.AppendRecord(&WALRecord{Type: WALRecordCheckpoint, Data: body})
}

// Flush forces the log durable up to (and including) lsn. This WAL writes
// with pwrite (os.File.WriteAt), which already reaches the OS; Flush's job
// is purely the fsync that makes it survive a crash, so the lsn parameter
// only documents intent.
func (wf *WALFile) Flush(lsn LSN) error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Sync()
}

// Purge discards log records with LSN strictly below upTo, rewriting the
// file to hold only the retained tail. Spec.md leaves this optional (§8
// scenario notes, §9 "Open source-behaviour questions") — no code in this
// package calls it automatically.
func (wf *WALFile) Purge(upTo LSN) error {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	recs, err := wf.readAllLocked()
	if err != nil {
		return fmt.Errorf("WAL purge read: %w", err)
	}

	retained := recs[:0]
	for _, r := range recs {
		if r.LSN >= upTo {
			retained = append(retained, r)
		}
	}

	if err := wf.f.Truncate(WALFileHdrSize); err != nil {
		return fmt.Errorf("WAL purge truncate: %w", err)
	}
	wf.writePos = WALFileHdrSize
	for _, r := range retained {
		data := marshalWALRecord(r)
		n, err := wf.f.WriteAt(data, wf.writePos)
		if err != nil {
			return fmt.Errorf("WAL purge rewrite: %w", err)
		}
		wf.writePos += int64(n)
	}
	return wf.f.Sync()
}

// Close closes the WAL file.
func (wf *WALFile) Close() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Close()
}

// Truncate resets the WAL file to just the header.
func (wf *WALFile) Truncate() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if err := wf.f.Truncate(WALFileHdrSize); err != nil {
		return err
	}
	wf.writePos = WALFileHdrSize
	return wf.f.Sync()
}

// SetNextLSN allows recovery to set the LSN counter.
func (wf *WALFile) SetNextLSN(lsn LSN) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	wf.nextLSN = lsn
}

// ReadAll reads every record currently in the WAL, in append order.
func (wf *WALFile) ReadAll() ([]*WALRecord, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.readAllLocked()
}

// LastCheckpoint returns the most recently appended CHECKPOINT record, if
// any. Used by tests (and a hosting engine's recovery path) to validate
// P6: after a clean FULL checkpoint, nothing remains to redo.
func (wf *WALFile) LastCheckpoint() (*WALRecord, error) {
	recs, err := wf.ReadAll()
	if err != nil {
		return nil, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Type == WALRecordCheckpoint {
			return recs[i], nil
		}
	}
	return nil, nil
}

func (wf *WALFile) readAllLocked() ([]*WALRecord, error) {
	f, err := os.Open(wf.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(WALFileHdrSize, io.SeekStart); err != nil {
		return nil, err
	}

	var records []*WALRecord
	for {
		rec, err := unmarshalWALRecord(f)
		if err != nil {
			break // EOF or corrupt tail — stop.
		}
		records = append(records, rec)
	}
	return records, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Serialization
// ───────────────────────────────────────────────────────────────────────────

func marshalWALRecord(rec *WALRecord) []byte {
	dataLen := len(rec.Data)
	buf := make([]byte, WALRecHdrSize+dataLen)
	buf[0] = byte(rec.Type)
	binary.LittleEndian.PutUint64(buf[5:13], uint64(rec.LSN))
	binary.LittleEndian.PutUint64(buf[13:21], uint64(rec.TxID))
	binary.LittleEndian.PutUint32(buf[21:25], uint32(rec.PageID))
	binary.LittleEndian.PutUint32(buf[25:29], uint32(dataLen))
	if dataLen > 0 {
		copy(buf[WALRecHdrSize:], rec.Data)
	}
	h := crc32.New(crcTable)
	h.Write(buf[:29])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[WALRecHdrSize:])
	binary.LittleEndian.PutUint32(buf[29:33], h.Sum32())
	return buf
}

func unmarshalWALRecord(r io.Reader) (*WALRecord, error) {
	var hdr [WALRecHdrSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	rec := &WALRecord{
		Type:   WALRecordType(hdr[0]),
		LSN:    LSN(binary.LittleEndian.Uint64(hdr[5:13])),
		TxID:   TxID(binary.LittleEndian.Uint64(hdr[13:21])),
		PageID: PageID(binary.LittleEndian.Uint32(hdr[21:25])),
	}
	dataLen := int(binary.LittleEndian.Uint32(hdr[25:29]))
	storedCRC := binary.LittleEndian.Uint32(hdr[29:33])

	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("WAL record data: %w", err)
		}
		rec.Data = data
	}

	h := crc32.New(crcTable)
	h.Write(hdr[:29])
	h.Write([]byte{0, 0, 0, 0})
	if data != nil {
		h.Write(data)
	}
	if h.Sum32() != storedCRC {
		return nil, fmt.Errorf("WAL record CRC mismatch at LSN %d", rec.LSN)
	}

	return rec, nil
}

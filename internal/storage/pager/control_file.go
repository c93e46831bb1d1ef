package pager

import (
	"encoding/binary"
	"fmt"
	"os"
)

// ───────────────────────────────────────────────────────────────────────────
// Control file
// ───────────────────────────────────────────────────────────────────────────
//
// The control file is the single small durable record external to both the
// log and the data files (spec.md §3 "Control file", §6.2). Its only
// contract with the checkpoint subsystem is: the LSN written here names a
// log record whose payload is a valid checkpoint record, and whose
// preceding log is durable (I2). We give it its own tiny file (one page),
// grounded on the teacher's superblock format (magic + version + CRC'd
// fixed layout — internal/storage/pager/superblock.go before this
// transformation; see DESIGN.md) but stripped to the one field the spec
// actually needs plus the bookkeeping to validate the file.
//
// Layout (fits in one page of ControlFileSize bytes):
//
//  Offset  Size  Field
//  ──────  ────  ───────────────────
//  0       32    Common PageHeader (Type=ControlFile, ID=0)
//  32      8     Magic            [8]byte "TNCKPT\x00\x00"
//  40      4     FormatVersion    uint32 LE
//  44      8     LastCheckpointLSN uint64 LE
//  52      rest  Reserved (zero-filled)

const (
	// ControlFileMagic identifies a valid checkpoint control file.
	ControlFileMagic = "TNCKPT\x00\x00"

	// ControlFileFormatVersion is the on-disk format version.
	ControlFileFormatVersion uint32 = 1

	// ControlFileSize is the fixed size of the control file (one minimal page).
	ControlFileSize = MinPageSize

	cfMagicOff   = PageHeaderSize     // 32
	cfVersionOff = cfMagicOff + 8     // 40
	cfLSNOff     = cfVersionOff + 4   // 44
)

// ControlFile is the durable "last checkpoint LSN" record (spec.md §6.2).
// It is safe for concurrent use; callers that must write it under the log
// lock (I2) do so externally — ControlFile itself does not know about the
// log.
type ControlFile struct {
	path string
	f    *os.File
}

// OpenControlFile opens or creates the control file at path.
func OpenControlFile(path string) (*ControlFile, error) {
	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open control file: %w", err)
	}

	cf := &ControlFile{path: path, f: f}

	if !exists {
		if err := cf.writeLocked(LSNImpossible); err != nil {
			f.Close()
			return nil, err
		}
	} else if _, err := cf.ReadCheckpointLSN(); err != nil {
		f.Close()
		return nil, err
	}

	return cf, nil
}

// ReadCheckpointLSN reads and validates the control file, returning the
// last durable checkpoint LSN (LSNImpossible if none has ever been written).
func (cf *ControlFile) ReadCheckpointLSN() (LSN, error) {
	buf := make([]byte, ControlFileSize)
	if _, err := cf.f.ReadAt(buf, 0); err != nil {
		return LSNImpossible, fmt.Errorf("read control file: %w", err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		return LSNImpossible, fmt.Errorf("control file CRC: %w", err)
	}
	magic := string(buf[cfMagicOff : cfMagicOff+8])
	if magic != ControlFileMagic {
		return LSNImpossible, fmt.Errorf("bad control file magic %q", magic)
	}
	ver := binary.LittleEndian.Uint32(buf[cfVersionOff:])
	if ver != ControlFileFormatVersion {
		return LSNImpossible, fmt.Errorf("unsupported control file version %d", ver)
	}
	return LSN(binary.LittleEndian.Uint64(buf[cfLSNOff:])), nil
}

// WriteCheckpointLSN durably records lsn as the new last-checkpoint LSN
// (spec.md §6.2: ma_control_file_write_and_force / UPDATE_ONLY_LSN). The
// caller is responsible for holding the log lock across this call so that
// the write cannot race a log flush that would make lsn's checkpoint record
// non-durable first (I2).
func (cf *ControlFile) WriteCheckpointLSN(lsn LSN) error {
	return cf.writeLocked(lsn)
}

func (cf *ControlFile) writeLocked(lsn LSN) error {
	buf := NewPage(ControlFileSize, PageTypeControlFile, 0)
	copy(buf[cfMagicOff:cfMagicOff+8], ControlFileMagic)
	binary.LittleEndian.PutUint32(buf[cfVersionOff:], ControlFileFormatVersion)
	binary.LittleEndian.PutUint64(buf[cfLSNOff:], uint64(lsn))
	SetPageCRC(buf)

	if _, err := cf.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write control file: %w", err)
	}
	return cf.f.Sync()
}

// Close closes the underlying file.
func (cf *ControlFile) Close() error {
	return cf.f.Close()
}

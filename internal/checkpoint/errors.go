package checkpoint

import "fmt"

// Kind classifies a checkpoint error (spec.md §7).
type Kind int

const (
	KindHorizonRead Kind = iota
	KindTxnCollect
	KindTableCollect
	KindPageCollect
	KindLogAppend
	KindLogFlush
	KindControlFileWrite
	KindStateFlush
	KindBitmapFlush
	KindDataFlush
	KindFsync
)

func (k Kind) String() string {
	switch k {
	case KindHorizonRead:
		return "horizon-read"
	case KindTxnCollect:
		return "txn-collect"
	case KindTableCollect:
		return "table-collect"
	case KindPageCollect:
		return "page-collect"
	case KindLogAppend:
		return "log-append"
	case KindLogFlush:
		return "log-flush"
	case KindControlFileWrite:
		return "control-file-write"
	case KindStateFlush:
		return "state-flush"
	case KindBitmapFlush:
		return "bitmap-flush"
	case KindDataFlush:
		return "data-flush"
	case KindFsync:
		return "fsync"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind aborts the whole checkpoint
// attempt (spec.md §7: LogAppend/LogFlush/ControlFileWrite are fatal; the
// three per-share flush kinds are locally recoverable).
func (k Kind) Fatal() bool {
	switch k {
	case KindStateFlush, KindBitmapFlush, KindDataFlush:
		return false
	default:
		return true
	}
}

// Error wraps a checkpoint failure with the kind that produced it, so
// callers can branch with errors.As without string-matching messages.
type Error struct {
	Kind  Kind
	Cause error
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	return fmt.Sprintf("checkpoint: %s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

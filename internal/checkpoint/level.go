package checkpoint

import "fmt"

// Level is the checkpoint strength enumeration (spec.md §3), strictly
// ordered FULL > MEDIUM > INDIRECT > NONE.
type Level int

const (
	LevelNone Level = iota
	LevelIndirect
	LevelMedium
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelIndirect:
		return "INDIRECT"
	case LevelMedium:
		return "MEDIUM"
	case LevelFull:
		return "FULL"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// AtLeast reports whether l is at least as strong as other.
func (l Level) AtLeast(other Level) bool { return l >= other }

// filterFor returns the page filter a checkpoint of this level uses during
// table collection (spec.md §4.1). NONE never reaches the collector.
func (l Level) filterFor() FilterFunc {
	switch l {
	case LevelFull:
		return FullFilter
	case LevelMedium:
		return MediumFilter
	case LevelIndirect:
		return IndirectFilter
	default:
		return IndirectFilter
	}
}

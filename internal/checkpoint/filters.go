package checkpoint

import "github.com/ariaengine/checkpoint/internal/storage/pager"

// FilterResult is the verdict a page filter returns for one page
// (spec.md §4.1).
type FilterResult int

const (
	// Skip leaves the page alone and continues to the next page.
	Skip FilterResult = iota
	// Flush flushes the page and continues to the next page.
	Flush
	// SkipAndStop leaves the page alone and tells the caller to stop
	// scanning this file (only EVENLY ever returns this).
	SkipAndStop
)

// FilterParams carries the parameters a filter needs, besides the page
// itself (spec.md §4.1). MaxPages is mutated in place by EVENLY: it is a
// budget consumed across sequential pages, and the background worker shares
// one *FilterParams across all the files it flushes within a tick (each
// tick starts with a fresh budget).
type FilterParams struct {
	UpToLSN              pager.LSN
	PagesCoveredByBitmap uint32
	IsDataFile           bool
	MaxPages             int64
}

// FilterFunc decides the flush policy for one page.
type FilterFunc func(pageType pager.PageType, pageNo uint32, recLSN pager.LSN, params *FilterParams) FilterResult

// isBitmapPage reports whether pageNo is a bitmap page for a data file with
// the given bitmap density (spec.md §3: "p mod pages_covered_by_bitmap == 0").
func isBitmapPage(pageNo uint32, pagesCoveredByBitmap uint32) bool {
	if pagesCoveredByBitmap == 0 {
		return false
	}
	return pageNo%pagesCoveredByBitmap == 0
}

// MediumFilter flushes LSN pages written at or before the level's
// up_to_lsn (the two-checkpoint rule), plus every bitmap page of a data
// file.
func MediumFilter(pageType pager.PageType, pageNo uint32, recLSN pager.LSN, params *FilterParams) FilterResult {
	if pageType.IsLSNPage() && recLSN != pager.LSNImpossible && recLSN <= params.UpToLSN {
		return Flush
	}
	if params.IsDataFile && isBitmapPage(pageNo, params.PagesCoveredByBitmap) {
		return Flush
	}
	return Skip
}

// FullFilter flushes every dirty LSN page and every bitmap page of a data
// file, regardless of LSN.
func FullFilter(pageType pager.PageType, pageNo uint32, recLSN pager.LSN, params *FilterParams) FilterResult {
	if pageType.IsLSNPage() {
		return Flush
	}
	if params.IsDataFile && isBitmapPage(pageNo, params.PagesCoveredByBitmap) {
		return Flush
	}
	return Skip
}

// IndirectFilter flushes only bitmap pages of data files.
func IndirectFilter(pageType pager.PageType, pageNo uint32, recLSN pager.LSN, params *FilterParams) FilterResult {
	if params.IsDataFile && isBitmapPage(pageNo, params.PagesCoveredByBitmap) {
		return Flush
	}
	return Skip
}

// EvenlyFilter spreads the background worker's flush budget across the
// pages it is offered: it flushes eligible LSN pages up to up_to_lsn,
// decrementing params.MaxPages, and stops the scan (SkipAndStop) on the
// first page it is offered once that budget is already zero (the page that
// spends the last unit is still flushed). Pages ineligible under the LSN
// test are skipped without consuming budget.
func EvenlyFilter(pageType pager.PageType, pageNo uint32, recLSN pager.LSN, params *FilterParams) FilterResult {
	if params.MaxPages <= 0 {
		return SkipAndStop
	}
	if pageType.IsLSNPage() && recLSN != pager.LSNImpossible && recLSN <= params.UpToLSN {
		params.MaxPages--
		return Flush
	}
	return Skip
}

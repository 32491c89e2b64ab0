package bufferpool

import "errors"

// Sentinel errors returned by PoolManager operations. None of these indicate
// a corrupt pool: they are the expected "not today" outcomes a caller must
// handle (absent page, full pool, protocol misuse). Disk I/O failures are
// wrapped separately with ErrIO and should be treated as fatal by callers.
var (
	// ErrPageNotFound is returned when an operation references a page id
	// that is not currently resident in the pool.
	ErrPageNotFound = errors.New("bufferpool: page not found")

	// ErrBufferPoolFull is returned by NewPage/FetchPage when every frame is
	// pinned and no victim can be produced.
	ErrBufferPoolFull = errors.New("bufferpool: all frames pinned, no victim available")

	// ErrPagePinned is returned by DeletePage when the target page still has
	// outstanding pins.
	ErrPagePinned = errors.New("bufferpool: page is pinned and cannot be deleted")

	// ErrAlreadyUnpinned is returned by UnpinPage when the caller unpins a
	// page whose pin count is already zero. This signals a caller protocol
	// violation, not pool corruption.
	ErrAlreadyUnpinned = errors.New("bufferpool: page is already unpinned")

	// ErrInvalidPageID is returned when an operation is given the invalid
	// page id sentinel.
	ErrInvalidPageID = errors.New("bufferpool: invalid page id")

	// ErrIO wraps a disk manager failure. These are considered fatal by the
	// pool: it has no retry or recovery path of its own.
	ErrIO = errors.New("bufferpool: disk i/o error")

	// ErrChecksumMismatch is returned by a disk manager implementation when
	// a page read back from storage does not match its stored checksum.
	ErrChecksumMismatch = errors.New("bufferpool: page checksum mismatch, data corruption suspected")
)

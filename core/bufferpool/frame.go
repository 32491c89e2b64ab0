package bufferpool

// PageID identifies a page on the backing disk store. It is opaque to the
// pool: the pool interprets it only for shard routing and equality. Signed
// so a sentinel value can live outside the id space NewPoolManager hands
// out (nextPageID starts at instanceIndex and steps by numInstances, so
// every valid id is >= 0 — 0 included, for instanceIndex 0).
type PageID int64

// InvalidPageID is the sentinel used for "no page". It deliberately sits
// outside the range allocatePageID can ever produce, unlike 0, which is a
// perfectly valid id for the first page on instance index 0.
const InvalidPageID PageID = -1

// LSN is a placeholder log sequence number, carried on a Frame purely so a
// future log-manager integration has somewhere to record "this frame's
// content reflects log records up to LSN N". The pool never inspects it.
type LSN uint64

// InvalidLSN is the zero value, meaning "no log record has touched this
// frame since it was last reset".
const InvalidLSN LSN = 0

// Frame is one slot of the buffer pool: a page-sized byte buffer plus the
// bookkeeping the pool needs to decide whether it may be reused. Frames are
// never allocated or freed at runtime; the pool owns a fixed array of them
// for its lifetime and only ever mutates their fields.
type Frame struct {
	index    int
	pageID   PageID
	pinCount uint32
	dirty    bool
	lsn      LSN
	data     []byte
}

func newFrame(index, pageSize int) *Frame {
	return &Frame{
		index:  index,
		pageID: InvalidPageID,
		data:   make([]byte, pageSize),
	}
}

// Index returns the frame's stable position in the pool's frame array.
func (f *Frame) Index() int { return f.index }

// PageID returns the id of the page currently occupying the frame, or
// InvalidPageID if the frame is free.
func (f *Frame) PageID() PageID { return f.pageID }

// PinCount returns the number of outstanding pins on this frame.
func (f *Frame) PinCount() uint32 { return f.pinCount }

// IsDirty reports whether the frame's content differs from what is on disk.
func (f *Frame) IsDirty() bool { return f.dirty }

// LSN returns the frame's recorded log sequence number.
func (f *Frame) LSN() LSN { return f.lsn }

// SetLSN records the log sequence number of the last modification applied
// to this frame's content. Callers above the pool (e.g. an index that logs
// its own page mutations) are expected to set this after writing.
func (f *Frame) SetLSN(lsn LSN) { f.lsn = lsn }

// Data returns the frame's page-sized buffer. The caller may read or write
// it freely while holding a pin; the pool guarantees the frame will not be
// relocated or evicted for the duration of that pin.
func (f *Frame) Data() []byte { return f.data }

// markDirty flags the frame as differing from its persisted image. This is
// the only way UnpinPage's dirty flag is ever set to true. While the frame
// holds the same page it is cleared only by a successful flush; reset also
// clears it when the frame is freed (DeletePage, InvalidatePage) or handed
// to another page.
func (f *Frame) markDirty() { f.dirty = true }

// reset returns the frame to its just-born state, zeroing content so stale
// bytes never leak into a differently-identified page.
func (f *Frame) reset() {
	f.pageID = InvalidPageID
	f.pinCount = 0
	f.dirty = false
	f.lsn = InvalidLSN
	for i := range f.data {
		f.data[i] = 0
	}
}

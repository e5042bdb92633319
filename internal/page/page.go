// Package page implements the undo engine's page codec: the fixed-layout,
// BLCKSZ-bounded primitives for laying chunk headers, type headers, and
// record bytes onto a page, and for patching a chunk's size field on close.
//
// Everything here is grounded on the teacher's storage/page/slotted_page.go,
// generalized from a variable-length-slot layout to the undo log's
// append-only chunk/record layout, and on the original PostgreSQL
// implementation's UndoPageInit / UndoInsert (access/undo/undorecordset.c).
package page

import (
	"encoding/binary"
	"sync"
)

// BlockSize is BLCKSZ: the fixed page size backing every undo log. spec.md
// §GLOSSARY allows up to 32768; we fix it at the common default.
const BlockSize = 8192

// HeaderSize is the number of bytes at the start of every page reserved for
// the page-header stub (spec.md §6): insertion_point, first_chunk,
// continue_chunk, pd_lower-equivalent, and LSN.
const HeaderSize = 24

// byte offsets within the header stub.
const (
	offInsertionPoint = 0 // uint16: next free byte offset on the page
	offFirstChunk     = 2 // uint16: page offset where a chunk header begins on this page, 0 = none
	offContinueChunk  = 4 // uint16: 1 if this page's content starts mid-write (continuation), else 0
	offLSN            = 8 // uint64: last LSN stamped on this page
)

// Page is one fixed-size undo-log page plus the latch and dirty bit the
// buffer pool needs. It satisfies bufferpool.Page.
type Page struct {
	mu    sync.RWMutex
	dirty bool
	data  [BlockSize]byte
}

func New() *Page {
	p := &Page{}
	InitPage(p)
	return p
}

func (p *Page) Lock()    { p.mu.Lock() }
func (p *Page) Unlock()  { p.mu.Unlock() }
func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }

func (p *Page) IsDirty() bool { return p.dirty }

func (p *Page) SetDirtiness(v bool) { p.dirty = v }

// GetData/SetData hand out the whole page, e.g. for I/O by the disk
// manager; callers must hold the latch appropriately.
func (p *Page) GetData() []byte {
	return p.data[:]
}

func (p *Page) SetData(d []byte) {
	copy(p.data[:], d)
}

// InsertionPoint is the next free byte offset on the page (the spec's
// "insertion_point").
func (p *Page) InsertionPoint() int {
	return int(binary.LittleEndian.Uint16(p.data[offInsertionPoint:]))
}

func (p *Page) setInsertionPoint(v int) {
	binary.LittleEndian.PutUint16(p.data[offInsertionPoint:], uint16(v))
}

// FirstChunk is the page offset at which a chunk header begins on this
// page, or 0 if no chunk header starts here.
func (p *Page) FirstChunk() int {
	return int(binary.LittleEndian.Uint16(p.data[offFirstChunk:]))
}

func (p *Page) setFirstChunk(v int) {
	binary.LittleEndian.PutUint16(p.data[offFirstChunk:], uint16(v))
}

// ContinueChunk reports whether the bytes starting right after the header
// stub are a continuation of a chunk header or record body that began on an
// earlier page.
func (p *Page) ContinueChunk() bool {
	return binary.LittleEndian.Uint16(p.data[offContinueChunk:]) != 0
}

func (p *Page) setContinueChunk(v bool) {
	var n uint16
	if v {
		n = 1
	}
	binary.LittleEndian.PutUint16(p.data[offContinueChunk:], n)
}

func (p *Page) LSN() uint64 {
	return binary.LittleEndian.Uint64(p.data[offLSN:])
}

func (p *Page) SetLSN(lsn uint64) {
	binary.LittleEndian.PutUint64(p.data[offLSN:], lsn)
}

// InitPage zeroes the page and lays in a fresh header stub. It is a
// distinct primitive from every insert/overwrite operation, per spec.md
// §4.1.
func InitPage(p *Page) {
	for i := range p.data {
		p.data[i] = 0
	}
	p.setInsertionPoint(HeaderSize)
	p.setFirstChunk(0)
	p.setContinueChunk(false)
	p.SetLSN(0)
	p.dirty = true
}

// UsableBytesPerPage is how many bytes of chunk/record payload fit on a
// page once the header stub is subtracted.
const UsableBytesPerPage = BlockSize - HeaderSize

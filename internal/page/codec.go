package page

import (
	"encoding/binary"

	"undoengine/pkg/assert"
	"undoengine/pkg/common"
)

// ChunkHeaderSize is the on-disk size of a chunk header: an 8-byte size, a
// 16-byte previous_chunk URP, and a 1-byte type padded to 8 bytes (spec.md
// §3: "chunk and type headers are packed without padding beyond what is
// explicitly reserved for type").
const ChunkHeaderSize = 8 + 16 + 8

// ChunkHeader is the fixed on-page layout that precedes every chunk's
// records (and, in the first chunk of a set, a type header).
type ChunkHeader struct {
	Size          uint64
	PreviousChunk common.URP
	Type          common.Type
}

func (h ChunkHeader) encode() [ChunkHeaderSize]byte {
	var buf [ChunkHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.Size)
	prev, _ := h.PreviousChunk.MarshalBinary()
	copy(buf[8:24], prev)
	buf[24] = byte(h.Type)
	return buf
}

func decodeChunkHeader(b []byte) ChunkHeader {
	assert.Assert(len(b) >= ChunkHeaderSize, "short chunk header buffer")
	var h ChunkHeader
	h.Size = binary.LittleEndian.Uint64(b[0:8])
	_ = h.PreviousChunk.UnmarshalBinary(b[8:24])
	h.Type = common.Type(b[24])
	return h
}

// DecodeChunkHeader exposes decodeChunkHeader for callers outside this
// package that need to read a chunk header back off a page (crash recovery,
// replay, and tests that assert on on-disk layout).
func DecodeChunkHeader(b []byte) ChunkHeader {
	return decodeChunkHeader(b)
}

// bytesOnPage is the single arithmetic primitive every insert/overwrite/skip
// operation in this file is built from: spec.md §4.1 requires every one of
// them to return exactly min(BLCKSZ-page_off, total-in_off).
func bytesOnPage(pageOff, inOff, total int) int {
	onPage := BlockSize - pageOff
	remaining := total - inOff
	if onPage < remaining {
		return onPage
	}
	return remaining
}

// InsertHeader writes the portion of (chunk header || type header) that
// fits starting at pageOff, having already written inOff bytes of it on
// previous pages. It updates first_chunk if this is the first chunk header
// byte to land on this page.
func InsertHeader(
	p *Page,
	pageOff, inOff int,
	hdr ChunkHeader,
	typeHeader []byte,
) int {
	encoded := hdr.encode()
	total := ChunkHeaderSize + len(typeHeader)
	n := bytesOnPage(pageOff, inOff, total)
	if n <= 0 {
		return 0
	}

	full := make([]byte, total)
	copy(full, encoded[:])
	copy(full[ChunkHeaderSize:], typeHeader)

	copy(p.data[pageOff:pageOff+n], full[inOff:inOff+n])

	if inOff == 0 {
		p.setFirstChunk(pageOff)
	} else {
		p.setContinueChunk(true)
	}
	if pageOff+n > p.InsertionPoint() {
		p.setInsertionPoint(pageOff + n)
	}
	p.dirty = true
	return n
}

// InsertRecord writes the portion of record that fits starting at pageOff,
// having already written inOff bytes of it on previous pages. chunkStart
// and typ are accepted to match spec.md §4.1's signature (REDO and the
// WAL-staging caller use them to build buf-data); the codec itself does not
// need them to place the bytes.
func InsertRecord(
	p *Page,
	pageOff, inOff int,
	record []byte,
	chunkStart common.URP,
	typ common.Type,
) int {
	_ = chunkStart
	_ = typ
	n := bytesOnPage(pageOff, inOff, len(record))
	if n <= 0 {
		return 0
	}

	copy(p.data[pageOff:pageOff+n], record[inOff:inOff+n])

	if pageOff == HeaderSize && inOff > 0 {
		p.setContinueChunk(true)
	}
	if pageOff+n > p.InsertionPoint() {
		p.setInsertionPoint(pageOff + n)
	}
	p.dirty = true
	return n
}

// Overwrite patches size bytes of src into the page at pageOff, having
// already written inOff bytes of the patch on a previous page. It is used
// only to rewrite a chunk's size field on close or during crash recovery,
// so unlike Insert* it never touches insertion_point/first_chunk.
func Overwrite(p *Page, pageOff, inOff, size int, src []byte) int {
	n := bytesOnPage(pageOff, inOff, size)
	if n <= 0 {
		return 0
	}
	copy(p.data[pageOff:pageOff+n], src[inOff:inOff+n])
	p.dirty = true
	return n
}

// SkipHeader/SkipRecord/SkipOverwrite advance REDO's bookkeeping offsets
// without touching any page, used when a block was FPI-restored or
// discarded (spec.md §4.1, §4.7). All three share the same arithmetic; they
// are kept as distinct names because each is invoked from a distinct REDO
// continuation (chunk_size_more, header_more, record_more) and giving them
// separate names keeps those call sites self-documenting.
func SkipHeader(pageOff, inOff, total int) int    { return bytesOnPage(pageOff, inOff, total) }
func SkipRecord(pageOff, inOff, total int) int    { return bytesOnPage(pageOff, inOff, total) }
func SkipOverwrite(pageOff, inOff, total int) int { return bytesOnPage(pageOff, inOff, total) }

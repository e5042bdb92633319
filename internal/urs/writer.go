package urs

import (
	"fmt"

	"undoengine/internal/page"
	"undoengine/internal/wal"
	"undoengine/pkg/common"
	"undoengine/pkg/optional"
)

// Insert is spec.md §4.5's writer: stamps headers if still pending, copies
// the record body across however many pages it spans, advances the shared
// insert pointer, and stages WAL buf-data. Precondition: PrepareInsert has
// already pinned and locked every buffer this call touches.
func (e *Engine) Insert(u *URS, record []byte) error {
	if len(record) != u.pending.recordSize {
		return fmt.Errorf("urs: insert called with %d bytes, prepared for %d", len(record), u.pending.recordSize)
	}

	last := u.chunks.Last()
	slot := last.Slot
	writeOffset := u.pending.begin.Offset // usable offset where (header||record) begins

	headerBytesWritten := 0
	if u.pending.needChunkHeader {
		n, err := e.writeChunkHeader(u, last, writeOffset)
		if err != nil {
			return err
		}
		headerBytesWritten = n
		last.HeaderWritten = true
	}

	if err := e.writeRecordBody(u, last, writeOffset+uint64(headerBytesWritten), record); err != nil {
		return err
	}

	total := u.pending.headerSize + u.pending.recordSize
	slot.SetInsertAbsolute(usableToRaw(rawToUsable(slot.Insert()) + uint64(total)))

	if idx, ok := optGet(u.pending.chunkNumberToClose); ok {
		if err := e.patchChunkSize(u, u.chunks.At(idx), false); err != nil {
			return err
		}
		u.pending.chunkNumberToClose = optional.None[int]()
	}

	u.pending.needChunkHeader = false
	u.pending.needTypeHeader = false
	u.transitionToDirty()
	return nil
}

// writeChunkHeader lays the chunk header (and, for the set's first chunk,
// the type header) across however many pages it spans starting at
// usableOffset, staging CREATE/ADD_CHUNK buf-data on the first page.
func (e *Engine) writeChunkHeader(u *URS, c *Chunk, usableOffset uint64) (int, error) {
	prev := common.InvalidURP
	if u.chunks.Len() > 1 {
		prev = u.chunks.At(u.chunks.Len() - 2).HeaderURP()
	}

	hdr := page.ChunkHeader{Size: 0, PreviousChunk: prev, Type: u.Type}

	var typeHeader []byte
	if u.pending.needTypeHeader {
		typeHeader = u.typeHeader
	}
	total := page.ChunkHeaderSize + len(typeHeader)

	inOff := 0
	for inOff < total {
		raw := usableToRaw(usableOffset) + uint64(inOff)
		block := raw / page.BlockSize
		pageOff := int(raw % page.BlockSize)

		ident := common.PageIdentity{Logno: c.Slot.Logno, Block: common.BlockNumber(block)}
		idx, err := u.buffers.FindOrRead(ident, false)
		if err != nil {
			return 0, fmt.Errorf("urs: write chunk header: %w", err)
		}

		entry := u.buffers.At(idx)
		n := page.InsertHeader(entry.Page, pageOff, inOff, hdr, typeHeader)
		if n == 0 {
			return 0, fmt.Errorf("urs: write chunk header: no progress at in_off=%d", inOff)
		}
		u.buffers.MarkDirty(idx)

		if inOff == 0 {
			var bd wal.BufData
			if u.chunks.Len() == 1 {
				bd = wal.BufData{Flags: wal.FlagCreate, Type: u.Type, TypeHeader: typeHeader}
			} else {
				bd = wal.BufData{Flags: wal.FlagAddChunk, Type: u.Type, PreviousChunkHeaderLocation: prev}
			}
			u.buffers.StageBufData(idx, bd)
		}

		inOff += n
	}

	return total, nil
}

// writeRecordBody copies record across however many pages it spans
// starting at usableOffset, staging ADD_PAGE on every page boundary and
// INSERT once for the first page this WAL record touches at all.
func (e *Engine) writeRecordBody(u *URS, c *Chunk, usableOffset uint64, record []byte) error {
	chunkStart := c.HeaderURP()

	inOff := 0
	for inOff < len(record) {
		raw := usableToRaw(usableOffset) + uint64(inOff)
		block := raw / page.BlockSize
		pageOff := int(raw % page.BlockSize)

		ident := common.PageIdentity{Logno: c.Slot.Logno, Block: common.BlockNumber(block)}
		idx, err := u.buffers.FindOrRead(ident, false)
		if err != nil {
			return fmt.Errorf("urs: write record body: %w", err)
		}

		entry := u.buffers.At(idx)
		n := page.InsertRecord(entry.Page, pageOff, inOff, record, chunkStart, u.Type)
		if n == 0 {
			return fmt.Errorf("urs: write record body: no progress at in_off=%d", inOff)
		}

		if pageOff == page.HeaderSize {
			u.buffers.StageBufData(idx, wal.BufData{Flags: wal.FlagAddPage, ChunkHeaderLocation: chunkStart})
		}
		if !u.pending.insertPageOffsetSet {
			u.buffers.StageBufData(idx, wal.BufData{Flags: wal.FlagInsert, InsertPageOffset: uint16(pageOff)})
			u.pending.insertPageOffsetSet = true
		}
		u.buffers.MarkDirty(idx)

		inOff += n
	}

	return nil
}

// RegisterWALBuffers is spec.md §6's register_wal_buffers: attaches every
// pinned buffer's staged buf-data to the WAL record being built, in pin
// order (insertion buffers first, close-patch buffers last, per §4.4's
// ordering rationale).
func (e *Engine) RegisterWALBuffers(u *URS, b *wal.Builder) {
	for i := 0; i < u.buffers.Len(); i++ {
		entry := u.buffers.At(i)
		if !entry.HasBufData {
			continue
		}
		b.RegisterBuffer(entry.Ident, entry.BufData)
	}
	u.pending.insertPageOffsetSet = false
}

// SetLSN stamps lsn on every buffer this URS currently has pinned.
func (e *Engine) SetLSN(u *URS, lsn common.LSN) {
	u.buffers.SetLSN(uint64(lsn))
}

// Release unlocks and unpins every buffer this URS currently holds.
func (e *Engine) Release(u *URS) error {
	return u.buffers.Release()
}

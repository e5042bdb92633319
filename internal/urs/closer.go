package urs

import (
	"encoding/binary"
	"fmt"

	"undoengine/internal/page"
	"undoengine/internal/wal"
	"undoengine/pkg/common"
)

// pinHeaderBuffers pins the one or two pages a chunk's header currently
// lives on, recording the buffer indices on the chunk for the size patch
// that follows. Used by both the planner's forced-close path and
// Closer.PrepareClose. Pins every touched page first and locks them only
// afterward, per spec.md §5's locking discipline.
func (e *Engine) pinHeaderBuffers(u *URS, c *Chunk) error {
	block0 := c.HeaderOffset / page.BlockSize
	pageOff0 := int(c.HeaderOffset % page.BlockSize)
	straddles := pageOff0+8 > page.BlockSize

	ident0 := common.PageIdentity{Logno: c.Slot.Logno, Block: common.BlockNumber(block0)}
	idx0, fresh0, err := u.buffers.Pin(ident0, false)
	if err != nil {
		return err
	}
	c.HeaderBufIdx[0] = idx0

	idx1, fresh1 := -1, false
	if straddles {
		ident1 := common.PageIdentity{Logno: c.Slot.Logno, Block: common.BlockNumber(block0 + 1)}
		idx1, fresh1, err = u.buffers.Pin(ident1, false)
		if err != nil {
			return err
		}
		c.HeaderBufIdx[1] = idx1
	}

	if fresh0 {
		u.buffers.Lock(idx0)
	}
	if straddles && fresh1 {
		u.buffers.Lock(idx1)
	}

	return nil
}

// patchChunkSize is the shared core of spec.md §4.6's mark_closed and the
// Writer's forced mid-insert close: overwrite the chunk's 8-byte size
// field (possibly straddling two buffers) and stage the WAL buf-data that
// describes the patch. closeUrs additionally stages CLOSE (and
// CLOSE_MULTI_CHUNK, when this set has more than one chunk).
func (e *Engine) patchChunkSize(u *URS, c *Chunk, closeUrs bool) error {
	size := rawToUsable(c.Slot.Insert()) - rawToUsable(c.HeaderOffset)

	var sizeBytes [8]byte
	binary.LittleEndian.PutUint64(sizeBytes[:], size)

	firstBufIdx := -1
	firstPageOff := 0
	secondBufIdx := -1

	inOff := 0
	for inOff < 8 {
		raw := c.HeaderOffset + uint64(inOff)
		block := raw / page.BlockSize
		pageOff := int(raw % page.BlockSize)

		ident := common.PageIdentity{Logno: c.Slot.Logno, Block: common.BlockNumber(block)}
		idx, err := u.buffers.FindOrRead(ident, false)
		if err != nil {
			return fmt.Errorf("urs: patch chunk size: %w", err)
		}

		entry := u.buffers.At(idx)
		n := page.Overwrite(entry.Page, pageOff, inOff, 8, sizeBytes[:])
		if n == 0 {
			return fmt.Errorf("urs: patch chunk size: no progress at in_off=%d", inOff)
		}
		u.buffers.MarkDirty(idx)

		if inOff == 0 {
			firstBufIdx = idx
			firstPageOff = pageOff
		} else {
			secondBufIdx = idx
		}
		inOff += n
	}

	if c.Slot.Persistence == common.Permanent {
		bd := wal.BufData{
			Flags:               wal.FlagCloseChunk,
			ChunkSizePageOffset: uint16(firstPageOff),
			ChunkSize:           size,
		}
		if closeUrs {
			bd.Flags |= wal.FlagClose
			bd.Type = u.Type
			bd.TypeHeader = u.typeHeader
			if u.chunks.Len() > 1 {
				bd.Flags |= wal.FlagCloseMultiChunk
				bd.FirstChunkHeaderLocation = u.chunks.At(0).HeaderURP()
			}
		}
		u.buffers.StageBufData(firstBufIdx, bd)

		// A size field straddling two pages needs both registered so REDO can
		// reconstruct each half; the second buffer carries only the
		// CLOSE_CHUNK geometry, never the close-only fields, so a replayed
		// transaction-close callback fires once per record, not twice.
		if secondBufIdx >= 0 && secondBufIdx != firstBufIdx {
			u.buffers.StageBufData(secondBufIdx, wal.BufData{
				Flags:               wal.FlagCloseChunk,
				ChunkSizePageOffset: uint16(firstPageOff),
				ChunkSize:           size,
			})
		}
	}

	return nil
}

// PrepareClose is spec.md §4.6's prepare_close: pins the final chunk's
// header buffer(s). Returns false if the set has no chunks at all.
func (e *Engine) PrepareClose(u *URS) (bool, error) {
	last := u.chunks.Last()
	if last == nil {
		return false, nil
	}
	if err := e.pinHeaderBuffers(u, last); err != nil {
		return false, err
	}
	return true, nil
}

// MarkClosed is spec.md §4.6's mark_closed: with the final chunk's header
// buffers held, patch its size, stage the close buf-data, and transition
// DIRTY -> CLOSED.
func (e *Engine) MarkClosed(u *URS) error {
	last := u.chunks.Last()
	if last == nil {
		return fmt.Errorf("urs: mark_closed called with no chunks")
	}

	if err := e.patchChunkSize(u, last, true); err != nil {
		return err
	}

	u.transitionToClosed()
	return nil
}

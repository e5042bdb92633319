package urs

import (
	"fmt"

	"undoengine/internal/page"
	"undoengine/pkg/common"
	"undoengine/pkg/optional"
)

// PrepareInsert is spec.md §4.4's prepare_insert: decides header
// requirements, reserves physical space (possibly opening new chunks in
// new logs along the way), pins every touched page, and returns the URP
// the caller should write its record at.
func (e *Engine) PrepareInsert(u *URS, recordSize int) (common.URP, error) {
	if u.chunks.Len() == 0 {
		if err := e.createNewChunk(u); err != nil {
			return common.InvalidURP, err
		}
	}

	for {
		headerSize, err := u.headerSize()
		if err != nil {
			return common.InvalidURP, err
		}
		total := headerSize + recordSize

		last := u.chunks.Last()
		ok, begin, err := e.reservePhysical(last, total)
		if err != nil {
			return common.InvalidURP, err
		}
		if ok {
			u.pending.begin = begin
			u.pending.headerSize = headerSize
			u.pending.recordSize = recordSize
			break
		}

		// reserve_physical returned InvalidURP: either remember the current
		// chunk for a forced close (it already has a header on disk) or drop
		// it outright (it was opened earlier in this same loop and never used).
		if last.HeaderWritten {
			u.pending.chunkNumberToClose = optional.Some(u.chunks.Len() - 1)
		} else {
			u.chunks.dropLast()
		}

		if err := e.createNewChunk(u); err != nil {
			return common.InvalidURP, fmt.Errorf("urs: unable to register undo request: %w", err)
		}
	}

	if err := e.pinInsertionBuffers(u); err != nil {
		return common.InvalidURP, err
	}

	if idx, ok := optGet(u.pending.chunkNumberToClose); ok {
		if err := e.pinHeaderBuffers(u, u.chunks.At(idx)); err != nil {
			return common.InvalidURP, err
		}
	}

	return addUsableOffset(u.pending.begin, uint64(u.pending.headerSize)), nil
}

// headerSize computes spec.md §4.4 step 1's header_size for the set's
// current pending flags.
func (u *URS) headerSize() (int, error) {
	size := 0
	if u.pending.needChunkHeader {
		size += page.ChunkHeaderSize
	}
	if u.pending.needTypeHeader {
		thSize, err := typeHeaderSize(u.Type)
		if err != nil {
			return 0, err
		}
		size += int(thSize)
	}
	return size, nil
}

// reservePhysical is spec.md §4.4 step 2: fast-path check against the
// slot's cached end (and its size cap, since End is rounded up to a whole
// block and can run past the cap), falling back to extending the backing
// store, and finally truncating the slot when the request simply doesn't
// fit under the cap.
func (e *Engine) reservePhysical(c *Chunk, total int) (bool, common.URP, error) {
	slot := c.Slot

	usableInsert := rawToUsable(slot.Insert())
	newUsableInsert := usableInsert + uint64(total)
	newRawInsert := usableToRaw(newUsableInsert)

	begin := common.URP{Logno: slot.Logno, Offset: usableInsert}

	if newRawInsert <= slot.End() && newRawInsert <= slot.SizeCap {
		return true, begin, nil
	}

	if newRawInsert <= slot.SizeCap {
		if err := e.allocLog.ExtendBacking(slot, newRawInsert); err != nil {
			return false, common.InvalidURP, err
		}
		return true, begin, nil
	}

	e.allocLog.Truncate(slot)
	return false, common.InvalidURP, nil
}

// createNewChunk is spec.md §4.3's create_new_chunk.
func (e *Engine) createNewChunk(u *URS) error {
	slot, err := e.allocLog.GetForPersistence(u.Persistence)
	if err != nil {
		return fmt.Errorf("urs: allocate chunk slot: %w", err)
	}

	u.chunks.append(Chunk{
		Slot:         slot,
		HeaderOffset: slot.Insert(),
		HeaderBufIdx: [2]int{-1, -1},
	})
	u.pending.needChunkHeader = true
	if u.chunks.Len() == 1 {
		u.pending.needTypeHeader = true
	}
	return nil
}

// pinInsertionBuffers pins every page the upcoming header+record write will
// touch, in ascending block order, per spec.md §5's locking discipline: pin
// every block first, then lock them, so no block's content lock is held
// while a later block is being pinned.
func (e *Engine) pinInsertionBuffers(u *URS) error {
	last := u.chunks.Last()
	slot := last.Slot

	beginRaw := usableToRaw(u.pending.begin.Offset)
	total := u.pending.headerSize + u.pending.recordSize
	endRawExclusive := usableToRaw(u.pending.begin.Offset + uint64(total))
	if endRawExclusive == beginRaw {
		endRawExclusive = beginRaw + 1
	}

	startBlock := beginRaw / page.BlockSize
	endBlock := (endRawExclusive - 1) / page.BlockSize

	chunkStartsFreshPage := last.HeaderOffset%page.BlockSize == page.HeaderSize

	var freshlyPinned []int
	for blk := startBlock; blk <= endBlock; blk++ {
		ident := common.PageIdentity{Logno: slot.Logno, Block: common.BlockNumber(blk)}
		isNew := blk == last.HeaderOffset/page.BlockSize && chunkStartsFreshPage && u.pending.needChunkHeader
		idx, fresh, err := u.buffers.Pin(ident, isNew)
		if err != nil {
			return err
		}
		if fresh {
			freshlyPinned = append(freshlyPinned, idx)
		}
	}

	for _, idx := range freshlyPinned {
		u.buffers.Lock(idx)
	}
	return nil
}

func optGet(o optional.Optional[int]) (int, bool) {
	if o.IsNone() {
		return 0, false
	}
	return o.Unwrap(), true
}

func addUsableOffset(u common.URP, n uint64) common.URP {
	return common.URP{Logno: u.Logno, Offset: u.Offset + n}
}

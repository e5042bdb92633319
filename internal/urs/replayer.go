package urs

import (
	"fmt"

	"undoengine/internal/page"
	"undoengine/internal/wal"
	"undoengine/pkg/common"
)

// ReplayOptions lets a caller mark which registered blocks the buffer
// manager already restored from a full-page image — spec.md §4.7's "may
// return BLK_RESTORED" — since this module's buffer pool has no separate
// FPI store of its own to consult.
type ReplayOptions struct {
	Restored map[common.PageIdentity]bool
}

// Replay is spec.md §4.7's replay: walks a decoded WAL record's registered
// blocks in order, reconstructing chunk headers, record bytes, and size
// patches deterministically from the buf-data each block carries.
func (e *Engine) Replay(rec *wal.DecodedRecord, opts ReplayOptions) error {
	var recOff int // bytes of rec.Main already applied to a record body
	var closeChunkInOff int // bytes of the current CLOSE_CHUNK size patch already applied
	var closing []wal.DecodedBlock // blocks whose close callback runs once every block is applied

	for _, blk := range rec.Blocks {
		slot, ok := e.allocLog.Lookup(blk.Ident.Logno)
		if !ok {
			return fmt.Errorf("urs: replay: unknown logno %d", blk.Ident.Logno)
		}

		neededEnd := (uint64(blk.Ident.Block) + 1) * page.BlockSize
		if slot.End() < neededEnd {
			if err := e.allocLog.ExtendBacking(slot, neededEnd); err != nil {
				return fmt.Errorf("urs: replay: extend backing for block %v: %w", blk.Ident, err)
			}
		}

		bd := blk.BufData

		if opts.Restored[blk.Ident] {
			// FPI already gave us the right page bytes; only the shared
			// insert-pointer bookkeeping still needs to run.
			if bd.Flags.Has(wal.FlagInsert) {
				slot.SetInsertAbsolute(uint64(blk.Ident.Block)*page.BlockSize + uint64(bd.InsertPageOffset))
				recOff += recordBytesOnBlock(rec.Main, recOff, int(bd.InsertPageOffset))
			} else if bd.Flags.Has(wal.FlagAddPage) {
				recOff += recordBytesOnBlock(rec.Main, recOff, page.HeaderSize)
			}
			if bd.Flags.Has(wal.FlagCloseChunk) {
				pageOff := int(bd.ChunkSizePageOffset)
				if closeChunkInOff > 0 {
					pageOff = 0
				}
				closeChunkInOff += page.SkipOverwrite(pageOff, closeChunkInOff, 8)
			}
			closing = append(closing, blk)
			continue
		}

		p, err := e.pool.GetPage(blk.Ident)
		if err != nil {
			return fmt.Errorf("urs: replay: pin block %v: %w", blk.Ident, err)
		}
		p.Lock()

		if bd.Flags.Has(wal.FlagInsert) {
			slot.SetInsertAbsolute(uint64(blk.Ident.Block)*page.BlockSize + uint64(bd.InsertPageOffset))
		}

		if bd.Flags.Has(wal.FlagCreate) {
			hdr := page.ChunkHeader{Size: 0, PreviousChunk: common.InvalidURP, Type: bd.Type}
			page.InsertHeader(p, page.HeaderSize, 0, hdr, bd.TypeHeader)
		} else if bd.Flags.Has(wal.FlagAddChunk) {
			hdr := page.ChunkHeader{Size: 0, PreviousChunk: bd.PreviousChunkHeaderLocation, Type: bd.Type}
			page.InsertHeader(p, page.HeaderSize, 0, hdr, nil)
		}

		if bd.Flags.Has(wal.FlagInsert) || bd.Flags.Has(wal.FlagAddPage) {
			pageOff := page.HeaderSize
			if bd.Flags.Has(wal.FlagInsert) {
				pageOff = int(bd.InsertPageOffset)
			}
			if recOff < len(rec.Main) {
				recOff += page.InsertRecord(p, pageOff, recOff, rec.Main, bd.ChunkHeaderLocation, bd.Type)
			}
		}

		if bd.Flags.Has(wal.FlagCloseChunk) {
			var sizeBytes [8]byte
			writeLE64(sizeBytes[:], bd.ChunkSize)
			pageOff := int(bd.ChunkSizePageOffset)
			if closeChunkInOff > 0 {
				pageOff = 0
			}
			closeChunkInOff += page.Overwrite(p, pageOff, closeChunkInOff, 8, sizeBytes[:])
		}

		p.SetLSN(uint64(rec.LSN))
		p.SetDirtiness(true)
		p.Unlock()
		if err := e.pool.Unpin(blk.Ident); err != nil {
			return fmt.Errorf("urs: replay: unpin block %v: %w", blk.Ident, err)
		}

		closing = append(closing, blk)
	}

	// Only now are both halves of a size patch that straddles two blocks in
	// place, so the callback never sees a half-written size field.
	for _, blk := range closing {
		if err := e.maybeCloseTransaction(blk, rec); err != nil {
			return err
		}
	}

	return nil
}

// maybeCloseTransaction invokes the xact-undo callback when this block's
// buf-data closes a URST_TRANSACTION set, per spec.md §4.7 step 7.
func (e *Engine) maybeCloseTransaction(blk wal.DecodedBlock, rec *wal.DecodedRecord) error {
	bd := blk.BufData
	if !bd.Flags.Has(wal.FlagClose) || bd.Type != common.TypeTransaction {
		return nil
	}

	isCommit, isPrepare, err := xactOutcome(rec)
	if err != nil {
		return err
	}

	begin := common.URP{
		Logno:  blk.Ident.Logno,
		Offset: rawToUsable(uint64(blk.Ident.Block)*page.BlockSize + uint64(bd.ChunkSizePageOffset)),
	}
	if bd.Flags.Has(wal.FlagCloseMultiChunk) {
		begin = bd.FirstChunkHeaderLocation
	}
	end := common.URP{
		Logno:  blk.Ident.Logno,
		Offset: rawToUsable(uint64(blk.Ident.Block)*page.BlockSize + uint64(bd.ChunkSizePageOffset) + bd.ChunkSize),
	}

	e.xact.OnClose(bd.TypeHeader, begin, end, isCommit, isPrepare)
	return nil
}

// recordBytesOnBlock reports how many bytes of main are left to apply to
// this page, bounded by what actually fits starting at pageOff (which, on
// the first block a record touches, can be past the header stub).
func recordBytesOnBlock(main []byte, recOff, pageOff int) int {
	remaining := len(main) - recOff
	if remaining <= 0 {
		return 0
	}
	room := page.BlockSize - pageOff
	if remaining < room {
		return remaining
	}
	return room
}

func xactOutcome(rec *wal.DecodedRecord) (isCommit, isPrepare bool, err error) {
	if rec.Rmgr != wal.RmXact {
		return false, false, fmt.Errorf("urs: replay: transaction-set close in a non-RM_XACT record")
	}
	info := wal.XactInfo(rec.Info)
	isCommit = info&wal.XactCommit != 0
	isPrepare = info&wal.XactPrepare != 0
	if !isCommit && info&wal.XactAbort == 0 {
		return false, false, fmt.Errorf("urs: replay: unexpected xact info %x for transaction-set close", rec.Info)
	}
	return isCommit, isPrepare, nil
}

func writeLE64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

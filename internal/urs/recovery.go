package urs

import (
	"encoding/binary"
	"fmt"

	"github.com/panjf2000/ants"

	"undoengine/internal/page"
	"undoengine/internal/undolog"
	"undoengine/internal/wal"
	"undoengine/pkg/common"
)

// CloseDanglingSets is spec.md §4.8's startup sweep: a set whose last chunk
// never got its size patched before the process died looks, on disk, like a
// chunk header with Size == 0 that isn't the set's very next insertion
// point. CrashRecovery finds every such chunk, patches its size the same
// way a live mark_closed would have, stages the matching WAL buf-data, and
// synthesizes an XLOG_NOOP so the close is itself durable.
//
// One slot is scanned per worker in a bounded github.com/panjf2000/ants pool
// (the teacher's own worker-pool dependency, otherwise unused once undo
// insertion no longer needs a request-handling pool of its own) since the
// slots a restart has to sweep are independent of each other.
func (e *Engine) CloseDanglingSets() error {
	slots := e.allocLog.AllSlots()

	pool, err := ants.NewPool(closeDanglingSetsConcurrency(len(slots)))
	if err != nil {
		return fmt.Errorf("urs: close dangling sets: create worker pool: %w", err)
	}
	defer pool.Release()

	errs := make([]error, len(slots))
	done := make(chan struct{}, len(slots))

	for i, slot := range slots {
		i, slot := i, slot
		task := func() {
			errs[i] = e.closeDanglingSetsForSlot(slot)
			done <- struct{}{}
		}
		if err := pool.Submit(task); err != nil {
			return fmt.Errorf("urs: close dangling sets: submit logno %d: %w", slot.Logno, err)
		}
	}
	for range slots {
		<-done
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func closeDanglingSetsConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// closeDanglingSetsForSlot is spec.md §4.8's per-slot body: walk every chunk
// from the slot's discard pointer forward until either the insert pointer
// is reached (nothing dangling) or a zero-sized chunk header turns up (the
// set that was mid-insert at crash time).
func (e *Engine) closeDanglingSetsForSlot(slot *undolog.Slot) error {
	discard := slot.Discard()
	insert := slot.Insert()
	if discard >= insert {
		return nil
	}

	raw := discard
	var dangling page.ChunkHeader
	var danglingRaw uint64
	found := false

	for raw < insert {
		hdr, err := e.readChunkHeaderAt(slot.Logno, raw)
		if err != nil {
			return fmt.Errorf("urs: close dangling sets: read chunk header at raw=%d logno=%d: %w", raw, slot.Logno, err)
		}

		if hdr.Size == 0 {
			dangling = hdr
			danglingRaw = raw
			found = true
			break
		}

		usable := rawToUsable(raw) + hdr.Size
		raw = usableToRaw(usable)
	}

	if !found {
		// every chunk in this slot was already closed before the crash.
		return nil
	}

	return e.closeDanglingChunk(slot, danglingRaw, dangling)
}

// closeDanglingChunk patches the dangling chunk's size in place, walking the
// previous_chunk chain back to the set's first chunk when the dangling
// chunk isn't itself the first (spec.md §4.8 steps 2-4: "walk backward via
// previous_chunk to find the first chunk's type header").
func (e *Engine) closeDanglingChunk(slot *undolog.Slot, headerRaw uint64, hdr page.ChunkHeader) error {
	firstURP := common.URP{Logno: slot.Logno, Offset: rawToUsable(headerRaw)}
	isMultiChunk := false

	cursor := hdr
	for cursor.PreviousChunk.IsValid() {
		isMultiChunk = true
		firstURP = cursor.PreviousChunk

		prevRaw := usableToRaw(cursor.PreviousChunk.Offset)
		prevHdr, err := e.readChunkHeaderAt(cursor.PreviousChunk.Logno, prevRaw)
		if err != nil {
			return fmt.Errorf("urs: close dangling sets: walk previous_chunk at raw=%d logno=%d: %w", prevRaw, cursor.PreviousChunk.Logno, err)
		}
		cursor = prevHdr
	}

	typeHeaderSz, err := typeHeaderSize(hdr.Type)
	if err != nil {
		return fmt.Errorf("urs: close dangling sets: %w", err)
	}
	typeHeader, err := e.readBytesAt(firstURP.Logno, usableToRaw(firstURP.Offset)+page.ChunkHeaderSize, int(typeHeaderSz))
	if err != nil {
		return fmt.Errorf("urs: close dangling sets: read type header: %w", err)
	}

	size := rawToUsable(slot.Insert()) - rawToUsable(headerRaw)

	var sizeBytes [8]byte
	binary.LittleEndian.PutUint64(sizeBytes[:], size)
	if err := e.overwriteBytesAt(slot.Logno, headerRaw, sizeBytes[:]); err != nil {
		return fmt.Errorf("urs: close dangling sets: patch size: %w", err)
	}

	endURP := common.URP{Logno: slot.Logno, Offset: rawToUsable(headerRaw) + size}

	if slot.Persistence == common.Permanent {
		bd := wal.BufData{
			Flags:               wal.FlagCloseChunk | wal.FlagClose,
			ChunkSizePageOffset: uint16(headerRaw % page.BlockSize),
			ChunkSize:           size,
			Type:                hdr.Type,
			TypeHeader:          typeHeader,
		}
		if isMultiChunk {
			bd.Flags |= wal.FlagCloseMultiChunk
			bd.FirstChunkHeaderLocation = firstURP
		}

		b := e.w.Begin(wal.RmUndo, 0)
		b.RegisterBuffer(common.PageIdentity{Logno: slot.Logno, Block: common.BlockNumber(headerRaw / page.BlockSize)}, bd)
		b.SetMainData(make([]byte, wal.DummyPayloadSize))
		if _, err := e.w.Insert(b); err != nil {
			return fmt.Errorf("urs: close dangling sets: write recovery WAL record: %w", err)
		}
	}

	if hdr.Type == common.TypeTransaction {
		e.xact.OnClose(typeHeader, firstURP, endURP, false, false)
	}

	return nil
}

// readChunkHeaderAt reads a chunk header that may straddle a page boundary
// by pinning whichever pages it touches through the buffer pool, the same
// pool every other read path in this package uses.
func (e *Engine) readChunkHeaderAt(logno common.Logno, raw uint64) (page.ChunkHeader, error) {
	b, err := e.readBytesAt(logno, raw, page.ChunkHeaderSize)
	if err != nil {
		return page.ChunkHeader{}, err
	}
	return page.DecodeChunkHeader(b), nil
}

// readBytesAt reads n bytes starting at a raw byte offset in logno, pinning
// and releasing pages as it crosses boundaries.
func (e *Engine) readBytesAt(logno common.Logno, raw uint64, n int) ([]byte, error) {
	out := make([]byte, n)
	inOff := 0
	for inOff < n {
		cur := raw + uint64(inOff)
		block := cur / page.BlockSize
		pageOff := int(cur % page.BlockSize)

		ident := common.PageIdentity{Logno: logno, Block: common.BlockNumber(block)}
		p, err := e.pool.GetPage(ident)
		if err != nil {
			return nil, fmt.Errorf("pin %v: %w", ident, err)
		}

		p.RLock()
		room := page.BlockSize - pageOff
		remaining := n - inOff
		chunk := room
		if remaining < chunk {
			chunk = remaining
		}
		copy(out[inOff:inOff+chunk], p.GetData()[pageOff:pageOff+chunk])
		p.RUnlock()

		if err := e.pool.Unpin(ident); err != nil {
			return nil, fmt.Errorf("unpin %v: %w", ident, err)
		}
		inOff += chunk
	}
	return out, nil
}

// overwriteBytesAt patches n bytes at a raw byte offset in logno, crossing
// page boundaries the same way patchChunkSize does for a live mark_closed.
func (e *Engine) overwriteBytesAt(logno common.Logno, raw uint64, src []byte) error {
	inOff := 0
	for inOff < len(src) {
		cur := raw + uint64(inOff)
		block := cur / page.BlockSize
		pageOff := int(cur % page.BlockSize)

		ident := common.PageIdentity{Logno: logno, Block: common.BlockNumber(block)}
		p, err := e.pool.GetPage(ident)
		if err != nil {
			return fmt.Errorf("pin %v: %w", ident, err)
		}

		p.Lock()
		n := page.Overwrite(p, pageOff, inOff, len(src), src)
		p.Unlock()
		if n == 0 {
			_ = e.pool.Unpin(ident)
			return fmt.Errorf("overwrite %v: no progress at in_off=%d", ident, inOff)
		}

		if err := e.pool.FlushPage(ident); err != nil {
			return fmt.Errorf("flush %v: %w", ident, err)
		}
		if err := e.pool.Unpin(ident); err != nil {
			return fmt.Errorf("unpin %v: %w", ident, err)
		}
		inOff += n
	}
	return nil
}

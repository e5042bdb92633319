package urs

import (
	"fmt"

	"undoengine/internal/bufferpool"
	"undoengine/internal/page"
	"undoengine/internal/wal"
	"undoengine/pkg/common"
)

// bufEntry is one pinned-and-locked buffer plus the flags spec.md §3's
// BufferSet needs: is_new/needs_init for a freshly allocated page, dirty
// once written, and the staged buf-data that will be registered with the
// WAL record when register_wal_buffers runs.
type bufEntry struct {
	Ident      common.PageIdentity
	Page       *page.Page
	IsNew      bool
	NeedsInit  bool
	Dirty      bool
	HasBufData bool
	BufData    wal.BufData
}

// BufferSet is the per-URS collection of pinned undo buffers, de-duplicated
// by (logno, block), per spec.md §4.2.
type BufferSet struct {
	pool    bufferpool.Pool[*page.Page]
	entries []bufEntry
}

func newBufferSet(pool bufferpool.Pool[*page.Page]) *BufferSet {
	return &BufferSet{pool: pool}
}

// findPinned returns the index of an already-pinned buffer for ident, or
// -1 if it isn't pinned yet.
func (b *BufferSet) findPinned(ident common.PageIdentity) int {
	for i, e := range b.entries {
		if e.Ident == ident {
			return i
		}
	}
	return -1
}

// FindOrRead is spec.md §4.2's find_or_read: linear search of currently
// pinned buffers; if absent, pin (zeroing mode when isNew) and take an
// exclusive content lock. Callers that touch more than one block in a
// single operation must not use this directly — see Pin/Lock below.
func (b *BufferSet) FindOrRead(ident common.PageIdentity, isNew bool) (int, error) {
	idx, fresh, err := b.Pin(ident, isNew)
	if err != nil {
		return 0, err
	}
	if fresh {
		b.Lock(idx)
	}
	return idx, nil
}

// Pin is find_or_read without the content lock: it only pins the page,
// reporting whether this call actually pinned a new buffer (true) or found
// one already pinned (false). Call sites that touch several blocks in one
// operation use this to pin every block first and only then lock them
// (spec.md §4.4 step 4, §5: "never hold a content lock across a buffer
// read"), rather than locking block N while pinning block N+1.
func (b *BufferSet) Pin(ident common.PageIdentity, isNew bool) (int, bool, error) {
	if idx := b.findPinned(ident); idx >= 0 {
		return idx, false, nil
	}

	var p *page.Page
	var err error
	if isNew {
		p, err = b.pool.GetNewPage(ident)
	} else {
		p, err = b.pool.GetPage(ident)
	}
	if err != nil {
		return 0, false, fmt.Errorf("urs: pin %v: %w", ident, err)
	}

	b.entries = append(b.entries, bufEntry{
		Ident:     ident,
		Page:      p,
		IsNew:     isNew,
		NeedsInit: isNew,
	})
	return len(b.entries) - 1, true, nil
}

// Lock takes idx's content lock. Only call this on an index Pin just
// reported as freshly pinned — a buffer found already pinned by an earlier
// call in the same batch is either already locked or will be locked by
// whichever call first pinned it.
func (b *BufferSet) Lock(idx int) {
	b.entries[idx].Page.Lock()
}

func (b *BufferSet) At(idx int) *bufEntry { return &b.entries[idx] }

func (b *BufferSet) Len() int { return len(b.entries) }

// MarkDirty flags a buffer written by this call and dirties the underlying
// page so the buffer manager flushes it.
func (b *BufferSet) MarkDirty(idx int) {
	e := &b.entries[idx]
	e.Dirty = true
	e.Page.SetDirtiness(true)
}

// StageBufData merges bd into whatever buf-data is already staged for idx:
// flags OR together, and fields carried by the new flags overwrite the
// stored value (a buffer can accumulate, say, INSERT and ADD_PAGE from two
// separate calls within the same WAL record).
func (b *BufferSet) StageBufData(idx int, bd wal.BufData) {
	e := &b.entries[idx]
	if !e.HasBufData {
		e.BufData = bd
		e.HasBufData = true
		return
	}

	merged := e.BufData
	merged.Flags |= bd.Flags
	if bd.Flags.Has(wal.FlagInsert) {
		merged.InsertPageOffset = bd.InsertPageOffset
	}
	if bd.Flags.Has(wal.FlagAddPage) {
		merged.ChunkHeaderLocation = bd.ChunkHeaderLocation
	}
	if bd.Flags.Has(wal.FlagAddChunk) {
		merged.PreviousChunkHeaderLocation = bd.PreviousChunkHeaderLocation
	}
	if bd.Flags.Has(wal.FlagCreate) || bd.Flags.Has(wal.FlagAddChunk) || bd.Flags.Has(wal.FlagClose) {
		merged.Type = bd.Type
	}
	if bd.Flags.Has(wal.FlagCreate) || bd.Flags.Has(wal.FlagClose) {
		merged.TypeHeader = bd.TypeHeader
	}
	if bd.Flags.Has(wal.FlagCloseChunk) {
		merged.ChunkSizePageOffset = bd.ChunkSizePageOffset
		merged.ChunkSize = bd.ChunkSize
	}
	if bd.Flags.Has(wal.FlagCloseMultiChunk) {
		merged.FirstChunkHeaderLocation = bd.FirstChunkHeaderLocation
	}
	e.BufData = merged
}

// Release unlocks and unpins every buffer, then clears the set — spec.md
// §4.2's "Releasing unlocks and unpins, then clears the count."
func (b *BufferSet) Release() error {
	for _, e := range b.entries {
		e.Page.Unlock()
		if err := b.pool.Unpin(e.Ident); err != nil {
			return fmt.Errorf("urs: unpin %v: %w", e.Ident, err)
		}
	}
	b.entries = nil
	return nil
}

// SetLSN stamps lsn on every pinned page (spec.md §6's set_lsn operation).
func (b *BufferSet) SetLSN(lsn uint64) {
	for _, e := range b.entries {
		e.Page.SetLSN(lsn)
	}
}

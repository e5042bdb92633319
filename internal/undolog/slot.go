// Package undolog is the undo-log allocator: the external collaborator
// spec.md §1 calls log_alloc. It hands out log slots, tracks each log's
// monotonic insert pointer, discard lower bound, and physical end, extends
// backing storage, and frees slots back to a per-persistence free list.
//
// It is grounded on the teacher's storage/disk manager
// (src/storage/disk/manager.go) for the file-per-unit, fixed-page-size I/O
// pattern, generalized from one catalog file to many per-logno undo-log
// files, and backed by github.com/spf13/afero instead of bare *os.File so
// tests can run against an in-memory filesystem exactly like
// src/storage/engine's afero.Fs field.
package undolog

import (
	"sync"

	"undoengine/internal/page"
	"undoengine/pkg/common"
)

// Slot is one undo log's in-memory bookkeeping: logno, persistence, and the
// three counters spec.md §3 describes (insert/discard/end), plus the
// physical size cap. All three counters are raw byte offsets (they include
// per-page header bytes), since that is the unit the backing file is
// addressed in; URPs convert to/from this unit via internal/page.
type Slot struct {
	Logno       common.Logno
	Persistence common.Persistence
	SizeCap     uint64

	// metaLock is the reader/writer meta_lock of spec.md §5: writers take it
	// exclusively to advance Insert; readers (checking End for a possible
	// fast-path insert) take it shared.
	metaLock sync.RWMutex
	insert   uint64
	discard  uint64
	end      uint64

	// owned is true while exactly one backend holds this slot for writing.
	// A slot returns to the allocator's free list only after Put/Truncate
	// (spec.md §3 invariant 1).
	owned bool
}

func newSlot(logno common.Logno, persistence common.Persistence, sizeCap uint64) *Slot {
	return &Slot{
		Logno:       logno,
		Persistence: persistence,
		SizeCap:     sizeCap,
		insert:      page.HeaderSize,
		discard:     page.HeaderSize,
		end:         0,
		owned:       true,
	}
}

// Insert returns the slot's current insert pointer (raw byte offset).
func (s *Slot) Insert() uint64 {
	s.metaLock.RLock()
	defer s.metaLock.RUnlock()
	return s.insert
}

// End returns the slot's current physical end (raw byte offset up to which
// backing storage has been allocated).
func (s *Slot) End() uint64 {
	s.metaLock.RLock()
	defer s.metaLock.RUnlock()
	return s.end
}

// Discard returns the slot's current discard lower bound.
func (s *Slot) Discard() uint64 {
	s.metaLock.RLock()
	defer s.metaLock.RUnlock()
	return s.discard
}

// AdvanceInsert advances the slot's insert pointer by n bytes under the
// slot's exclusive meta lock, per spec.md invariant 5 ("the writer holds
// the slot's meta lock exclusively during that update").
func (s *Slot) AdvanceInsert(n uint64) {
	s.metaLock.Lock()
	defer s.metaLock.Unlock()
	s.insert += n
}

// SetInsertAbsolute sets the slot's insert pointer to v directly, rather
// than advancing it by a delta. REDO (internal/urs.Replayer) needs this
// absolute form because replay must be idempotent across repeated
// application of the same WAL record, which a relative advance is not.
func (s *Slot) SetInsertAbsolute(v uint64) {
	s.metaLock.Lock()
	defer s.metaLock.Unlock()
	s.insert = v
}

// refreshEnd re-reads End under the shared meta lock, used by
// FSManager.ExtendBacking, which reserve_physical's slow path calls.
func (s *Slot) refreshEnd() uint64 {
	s.metaLock.RLock()
	defer s.metaLock.RUnlock()
	return s.end
}

func (s *Slot) setEnd(v uint64) {
	s.metaLock.Lock()
	defer s.metaLock.Unlock()
	if v > s.end {
		s.end = v
	}
}

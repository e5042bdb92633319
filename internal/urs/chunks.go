package urs

import (
	"undoengine/internal/undolog"
	"undoengine/pkg/common"
)

// Chunk is one entry of the ChunkTable: spec.md §2's "(log-slot,
// header-offset, header-buffer-indices)". HeaderOffset is a raw byte
// offset into Slot's log (the unit the slot's own insert/end counters use);
// HeaderBufIdx indexes into the owning URS's BufferSet, -1 when unused —
// a header can occupy one or two buffer slots depending on whether it
// straddles a page boundary.
type Chunk struct {
	Slot         *undolog.Slot
	HeaderOffset uint64
	HeaderBufIdx [2]int
	// HeaderWritten is set once the Writer has actually laid the chunk
	// header bytes onto a page — spec.md §4.5's "Mark the chunk as
	// header_written" — distinguishing a chunk the planner merely reserved
	// from one prepare_insert can safely force-close mid-WAL-record.
	HeaderWritten bool
}

// HeaderURP is this chunk's header location as a URP, the form WAL buf-data
// and previous_chunk links use (spec.md §3's "usable bytes" addressing).
func (c Chunk) HeaderURP() common.URP {
	return common.URP{Logno: c.Slot.Logno, Offset: rawToUsable(c.HeaderOffset)}
}

// ChunkTable is the ordered, append-only list of chunks making up one URS.
type ChunkTable struct {
	chunks []Chunk
}

func (t *ChunkTable) Len() int { return len(t.chunks) }

func (t *ChunkTable) Last() *Chunk {
	if len(t.chunks) == 0 {
		return nil
	}
	return &t.chunks[len(t.chunks)-1]
}

func (t *ChunkTable) At(i int) *Chunk { return &t.chunks[i] }

func (t *ChunkTable) All() []Chunk { return t.chunks }

// append records a freshly opened chunk; create_new_chunk in the
// InsertionPlanner is the only caller, per spec.md §4.3.
func (t *ChunkTable) append(c Chunk) {
	t.chunks = append(t.chunks, c)
}

// dropLast discards the most recently appended chunk; used when
// prepare_insert opens a chunk whose header never actually gets written
// (spec.md §4.4 step 3: "else drop the empty chunk entry").
func (t *ChunkTable) dropLast() {
	t.chunks = t.chunks[:len(t.chunks)-1]
}

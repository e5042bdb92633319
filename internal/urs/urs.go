package urs

import (
	"undoengine/internal/page"
	"undoengine/pkg/common"
	"undoengine/pkg/optional"

	"github.com/google/uuid"
)

// Handle is the stable, process-wide identity of a URS, replacing the
// original's intrusive live-set list pointer (spec.md §9: "replace with an
// owned collection keyed by a stable handle").
type Handle uuid.UUID

func (h Handle) String() string { return uuid.UUID(h).String() }

// pendingInsert holds prepare_insert's outputs until insert consumes them,
// spec.md §3's "pending: planner outputs". chunkNumberToClose is the index
// into URS.chunks of an earlier chunk that prepare_insert forced closed by
// opening a new one; optional.None when no forced close is pending.
type pendingInsert struct {
	begin               common.URP
	needChunkHeader     bool
	needTypeHeader      bool
	chunkHeader         page.ChunkHeader
	chunkStart          common.URP
	recentEnd           uint64
	chunkNumberToClose  optional.Optional[int]
	headerSize          int
	recordSize          int
	insertPageOffsetSet bool // whether INSERT bufdata has been staged for this WAL record yet
}

// URS is the in-memory Undo Record Set object, spec.md §3.
type URS struct {
	Handle       Handle
	Type         common.Type
	Persistence  common.Persistence
	NestingLevel int

	state   State
	chunks  ChunkTable
	buffers *BufferSet
	pending pendingInsert

	typeHeader []byte
}

func (u *URS) State() State { return u.state }

func (u *URS) Chunks() *ChunkTable { return &u.chunks }

func (u *URS) Buffers() *BufferSet { return u.buffers }

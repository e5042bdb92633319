package urs

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"undoengine/internal/bufferpool"
	"undoengine/internal/page"
	"undoengine/internal/undolog"
	"undoengine/internal/wal"
	"undoengine/internal/xactundo"
	"undoengine/pkg/assert"
	"undoengine/pkg/common"
	"undoengine/pkg/optional"
)

// Engine is the process-wide context spec.md §9 asks for in place of a
// global live-set list and memory arena: "model them as explicit context
// passed into each operation (a UndoEngine handle) to keep the core
// testable." It owns no storage itself — it wires the allocator, buffer
// pool, WAL, and xact-undo collaborators together and tracks live URSs.
type Engine struct {
	pool     bufferpool.Pool[*page.Page]
	allocLog undolog.Manager
	w        *wal.Manager
	xact     xactundo.Callback

	mu   sync.Mutex
	live map[Handle]*URS
}

func NewEngine(
	pool bufferpool.Pool[*page.Page],
	allocLog undolog.Manager,
	w *wal.Manager,
	xact xactundo.Callback,
) *Engine {
	return &Engine{
		pool:     pool,
		allocLog: allocLog,
		w:        w,
		xact:     xact,
		live:     make(map[Handle]*URS),
	}
}

// Create is spec.md §6's create operation: "returns a fresh URS handle,
// registered in the backend's live-set list."
func (e *Engine) Create(t common.Type, persistence common.Persistence, nestingLevel int, typeHeader []byte) (*URS, error) {
	size, err := typeHeaderSize(t)
	if err != nil {
		return nil, err
	}
	if int(size) != len(typeHeader) {
		return nil, fmt.Errorf("urs: type %d expects a %d-byte type header, got %d", t, size, len(typeHeader))
	}

	u := &URS{
		Handle:       Handle(uuid.New()),
		Type:         t,
		Persistence:  persistence,
		NestingLevel: nestingLevel,
		state:        StateClean,
		buffers:      newBufferSet(e.pool),
		typeHeader:   append([]byte(nil), typeHeader...),
	}
	u.pending.chunkNumberToClose = optional.None[int]()

	e.mu.Lock()
	e.live[u.Handle] = u
	e.mu.Unlock()

	return u, nil
}

// Destroy is spec.md §6's destroy operation: frees bookkeeping and returns
// owned slots; fatal if the set is still DIRTY (spec.md §3's lifecycle: "DIRTY
// -> destroy is fatal").
func (e *Engine) Destroy(u *URS) error {
	assert.Assert(u.state != StateDirty, "destroy called on a dirty undo record set")

	for i := range u.chunks.chunks {
		c := &u.chunks.chunks[i]
		e.allocLog.Put(c.Slot)
	}

	e.mu.Lock()
	delete(e.live, u.Handle)
	e.mu.Unlock()

	return nil
}

// Close is the process-teardown check spec.md §3's lifecycle mandates:
// "Process exit with a live set is a PANIC." Exposed as an explicit method
// instead of hooking process exit, since Go has no analog to a backend
// process boundary and a panic from an atexit hook is untestable.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	assert.Assert(len(e.live) == 0, "undo engine closed with %d live undo record set(s)", len(e.live))
}

// LiveHandles reports every registered URS handle that has not been
// destroyed yet, in no particular order.
func (e *Engine) LiveHandles() []Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Handle, 0, len(e.live))
	for h := range e.live {
		out = append(out, h)
	}
	return out
}

func (e *Engine) lookup(h Handle) (*URS, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.live[h]
	return u, ok
}

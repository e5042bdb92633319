package urs

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"undoengine/internal/bufferpool"
	"undoengine/internal/page"
	"undoengine/internal/undolog"
	"undoengine/internal/wal"
	"undoengine/internal/xactundo"
	"undoengine/pkg/common"
)

// testHarness wires a full in-memory Engine the way internal/app.UndoEntrypoint
// wires a real one, so scenario tests exercise the same collaborator graph
// spec.md §8 describes rather than a stubbed-down one.
type testHarness struct {
	engine   *Engine
	allocLog *undolog.FSManager
	pool     *bufferpool.Manager[*page.Page]
	w        *wal.Manager
	xact     *xactundo.Recorder
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/undo", 0o700))

	allocLog := undolog.NewFSManager(fs, "/undo", zap.NewNop().Sugar())
	replacer := bufferpool.NewLRUReplacer()
	pool := bufferpool.New[*page.Page](64, replacer, allocLog)

	w, err := wal.Open(fs, "/wal.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	xact := &xactundo.Recorder{}
	engine := NewEngine(pool, allocLog, w, xact)

	return &testHarness{engine: engine, allocLog: allocLog, pool: pool, w: w, xact: xact}
}

// insertAndClose drives one record through the
// prepare_insert/insert/register_wal_buffers/set_lsn/release/
// prepare_close/mark_closed/register_wal_buffers/set_lsn/release cycle on an
// already-created set, mirroring what the insert CLI subcommand does, and
// returns the URP prepare_insert handed back. Destroying the set is left to
// the caller.
func (h *testHarness) insertAndClose(t *testing.T, u *URS, record []byte) common.URP {
	t.Helper()

	begin, err := h.engine.PrepareInsert(u, len(record))
	require.NoError(t, err)

	require.NoError(t, h.engine.Insert(u, record))
	h.flushWAL(t, u)
	require.NoError(t, h.engine.Release(u))

	closed, err := h.engine.PrepareClose(u)
	require.NoError(t, err)
	require.True(t, closed)

	require.NoError(t, h.engine.MarkClosed(u))
	h.flushWAL(t, u)
	require.NoError(t, h.engine.Release(u))

	return begin
}

func (h *testHarness) flushWAL(t *testing.T, u *URS) {
	t.Helper()
	b := h.w.Begin(wal.RmUndo, 0)
	h.engine.RegisterWALBuffers(u, b)
	lsn, err := h.w.Insert(b)
	require.NoError(t, err)
	h.engine.SetLSN(u, lsn)
}

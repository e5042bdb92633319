package undolog

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"undoengine/internal/page"
	"undoengine/pkg/common"
)

func newTestManager(t *testing.T) *FSManager {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/undo", 0o700))
	return NewFSManager(fs, "/undo", zap.NewNop().Sugar())
}

func TestGetForPersistence_AllocatesNewSlot(t *testing.T) {
	m := newTestManager(t)

	slot, err := m.GetForPersistence(common.Permanent)
	require.NoError(t, err)
	assert.Equal(t, common.Permanent, slot.Persistence)
	assert.Equal(t, uint64(page.HeaderSize), slot.Discard())

	exists, err := afero.Exists(m.fs, m.logPath(slot.Logno))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPutThenGet_ReusesLowestLogno(t *testing.T) {
	m := newTestManager(t)

	a, err := m.GetForPersistence(common.Permanent)
	require.NoError(t, err)
	b, err := m.GetForPersistence(common.Permanent)
	require.NoError(t, err)
	require.NotEqual(t, a.Logno, b.Logno)

	m.Put(a)
	m.Put(b)

	reused, err := m.GetForPersistence(common.Permanent)
	require.NoError(t, err)
	assert.Equal(t, a.Logno, reused.Logno)
}

func TestPersistenceLevelsHaveIndependentFreeLists(t *testing.T) {
	m := newTestManager(t)

	perm, err := m.GetForPersistence(common.Permanent)
	require.NoError(t, err)
	m.Put(perm)

	temp, err := m.GetForPersistence(common.Temp)
	require.NoError(t, err)
	assert.NotEqual(t, perm.Logno, temp.Logno)
}

func TestTruncate_RemovesLogFile(t *testing.T) {
	m := newTestManager(t)

	slot, err := m.GetForPersistence(common.Unlogged)
	require.NoError(t, err)
	path := m.logPath(slot.Logno)

	m.Truncate(slot)

	exists, err := afero.Exists(m.fs, path)
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok := m.Lookup(slot.Logno)
	assert.False(t, ok)
}

func TestExtendBacking_GrowsFileAndEnd(t *testing.T) {
	m := newTestManager(t)

	slot, err := m.GetForPersistence(common.Permanent)
	require.NoError(t, err)
	require.Equal(t, uint64(0), slot.End())

	require.NoError(t, m.ExtendBacking(slot, 8192))
	assert.Equal(t, uint64(8192), slot.End())

	info, err := m.fs.Stat(m.logPath(slot.Logno))
	require.NoError(t, err)
	assert.Equal(t, int64(8192), info.Size())
}

func TestExtendBacking_NoopWhenAlreadyLargeEnough(t *testing.T) {
	m := newTestManager(t)
	slot, err := m.GetForPersistence(common.Permanent)
	require.NoError(t, err)

	require.NoError(t, m.ExtendBacking(slot, 8192))
	require.NoError(t, m.ExtendBacking(slot, 4096))
	assert.Equal(t, uint64(8192), slot.End())
}

func TestWritePageThenReadPage_RoundTrips(t *testing.T) {
	m := newTestManager(t)
	slot, err := m.GetForPersistence(common.Permanent)
	require.NoError(t, err)
	require.NoError(t, m.ExtendBacking(slot, 8192))

	ident := common.PageIdentity{Logno: slot.Logno, Block: 0}
	p := page.New()
	p.SetLSN(42)
	require.NoError(t, m.WritePage(p, ident))

	got, err := m.ReadPage(ident)
	require.NoError(t, err)
	assert.Equal(t, p.GetData(), got.GetData())
}

func TestAllSlots_ReflectsLiveAllocations(t *testing.T) {
	m := newTestManager(t)
	a, err := m.GetForPersistence(common.Permanent)
	require.NoError(t, err)
	b, err := m.GetForPersistence(common.Temp)
	require.NoError(t, err)

	all := m.AllSlots()
	assert.Len(t, all, 2)

	m.Truncate(a)
	assert.Len(t, m.AllSlots(), 1)
	_ = b
}

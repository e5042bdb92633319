package bufferpool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"undoengine/internal/page"
	"undoengine/pkg/common"
)

func ident(logno, block uint64) common.PageIdentity {
	return common.PageIdentity{Logno: common.Logno(logno), Block: common.BlockNumber(block)}
}

func TestGetPage_Cached(t *testing.T) {
	disk := new(MockDiskManager)
	replacer := new(MockReplacer)
	mgr := New[*page.Page](1, replacer, disk)

	pIdent := ident(1, 0)
	p := page.New()
	mgr.frames[0] = frame[*page.Page]{Page: p, PinCount: 0, PageIdent: pIdent}
	mgr.pageToFrame[pIdent] = 0

	replacer.On("Pin", uint64(0)).Return()

	got, err := mgr.GetPage(pIdent)
	require.NoError(t, err)
	assert.Same(t, p, got)
	disk.AssertNotCalled(t, "ReadPage", pIdent)
	replacer.AssertExpectations(t)
}

func TestGetPage_LoadFromDisk(t *testing.T) {
	disk := new(MockDiskManager)
	replacer := new(MockReplacer)
	mgr := New[*page.Page](1, replacer, disk)

	pIdent := ident(2, 0)
	fromDisk := page.New()
	disk.On("ReadPage", pIdent).Return(fromDisk, nil)
	replacer.On("Pin", uint64(0)).Return()

	got, err := mgr.GetPage(pIdent)
	require.NoError(t, err)
	assert.Same(t, fromDisk, got)
	assert.Equal(t, uint64(0), mgr.pageToFrame[pIdent])
	assert.Equal(t, 1, mgr.frames[0].PinCount)

	disk.AssertExpectations(t)
	replacer.AssertExpectations(t)
}

func TestGetNewPage_UsesZeroedPage(t *testing.T) {
	disk := new(MockDiskManager)
	replacer := new(MockReplacer)
	mgr := New[*page.Page](1, replacer, disk)

	pIdent := ident(3, 0)
	fresh := page.New()
	disk.On("ReadNewPage", pIdent).Return(fresh, nil)
	replacer.On("Pin", uint64(0)).Return()

	got, err := mgr.GetNewPage(pIdent)
	require.NoError(t, err)
	assert.Same(t, fresh, got)
	disk.AssertNotCalled(t, "ReadPage", pIdent)
}

func TestGetPage_EvictsDirtyVictim(t *testing.T) {
	disk := new(MockDiskManager)
	replacer := new(MockReplacer)
	mgr := New[*page.Page](1, replacer, disk)

	victimIdent := ident(4, 0)
	victim := page.New()
	victim.SetDirtiness(true)
	mgr.frames[0] = frame[*page.Page]{Page: victim, PinCount: 0, PageIdent: victimIdent}
	mgr.pageToFrame[victimIdent] = 0
	mgr.emptyFrames = nil

	newIdent := ident(5, 0)
	fromDisk := page.New()

	replacer.On("ChooseVictim").Return(uint64(0), nil)
	disk.On("WritePage", victim, victimIdent).Return(nil)
	disk.On("ReadPage", newIdent).Return(fromDisk, nil)

	got, err := mgr.GetPage(newIdent)
	require.NoError(t, err)
	assert.Same(t, fromDisk, got)
	assert.Equal(t, uint64(0), mgr.pageToFrame[newIdent])
	_, stillThere := mgr.pageToFrame[victimIdent]
	assert.False(t, stillThere)

	disk.AssertExpectations(t)
	replacer.AssertExpectations(t)
}

func TestGetPage_NoFreeFrameNoVictim(t *testing.T) {
	disk := new(MockDiskManager)
	replacer := new(MockReplacer)
	mgr := New[*page.Page](1, replacer, disk)
	mgr.emptyFrames = nil

	replacer.On("ChooseVictim").Return(uint64(0), errors.New("no victim available"))

	_, err := mgr.GetPage(ident(6, 0))
	assert.Error(t, err)
}

func TestUnpin_NoSuchPage(t *testing.T) {
	disk := new(MockDiskManager)
	replacer := new(MockReplacer)
	mgr := New[*page.Page](1, replacer, disk)

	err := mgr.Unpin(ident(7, 0))
	assert.ErrorIs(t, err, ErrNoSuchPage)
}

func TestFlushPage_SkipsClean(t *testing.T) {
	disk := new(MockDiskManager)
	replacer := new(MockReplacer)
	mgr := New[*page.Page](1, replacer, disk)

	pIdent := ident(8, 0)
	p := page.New()
	p.SetDirtiness(false)
	mgr.frames[0] = frame[*page.Page]{Page: p, PageIdent: pIdent}
	mgr.pageToFrame[pIdent] = 0

	require.NoError(t, mgr.FlushPage(pIdent))
	disk.AssertNotCalled(t, "WritePage", p, pIdent)
}

func TestFlushAllPages(t *testing.T) {
	disk := new(MockDiskManager)
	replacer := new(MockReplacer)
	mgr := New[*page.Page](2, replacer, disk)

	idA, idB := ident(9, 0), ident(9, 1)
	a, b := page.New(), page.New()
	a.SetDirtiness(true)
	b.SetDirtiness(false)
	mgr.frames[0] = frame[*page.Page]{Page: a, PageIdent: idA}
	mgr.frames[1] = frame[*page.Page]{Page: b, PageIdent: idB}
	mgr.pageToFrame[idA] = 0
	mgr.pageToFrame[idB] = 1

	disk.On("WritePage", a, idA).Return(nil)

	require.NoError(t, mgr.FlushAllPages())
	assert.False(t, a.IsDirty())
	disk.AssertNotCalled(t, "WritePage", b, idB)
}

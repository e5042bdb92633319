// Package bufferpool is the generic buffer manager spec.md §4.2 calls the
// "buffer manager" external collaborator: pin/unpin by page identity, LRU
// victim selection, and write-back of dirty pages through a DiskManager.
//
// It is grounded on the teacher's src/bufferpool/bufferpool.go, kept
// structurally as-is (fast-path/slow-path double-checked locking around a
// frame table, an empty-frame free list, a pluggable Replacer) and
// generalized from the teacher's slotted-page KV store to undo pages.
package bufferpool

import (
	"errors"
	"fmt"
	"sync"

	"undoengine/pkg/assert"
	"undoengine/pkg/common"
)

const noFrame = ^uint64(0)

var ErrNoSuchPage = errors.New("bufferpool: no such page")

// Page is the minimal contract a buffer pool needs from whatever it caches.
// internal/page.Page satisfies this.
type Page interface {
	GetData() []byte
	SetData(d []byte)

	SetDirtiness(val bool)
	IsDirty() bool

	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// Replacer chooses which pinned-zero frame to evict next.
type Replacer interface {
	Pin(frameID uint64)
	Unpin(frameID uint64)
	ChooseVictim() (uint64, error)
	GetSize() uint64
}

// DiskManager is the pool's I/O collaborator. internal/undolog.FSManager
// implements this for *page.Page.
type DiskManager[T Page] interface {
	ReadPage(pageIdent common.PageIdentity) (T, error)
	WritePage(page T, pageIdent common.PageIdentity) error
}

type frame[T Page] struct {
	Page      T
	PinCount  int
	PageIdent common.PageIdentity
}

// Pool is what the rest of the engine depends on rather than *Manager[T]
// directly, so tests can substitute a fake.
type Pool[T Page] interface {
	GetPage(common.PageIdentity) (T, error)
	GetNewPage(common.PageIdentity) (T, error)
	Unpin(common.PageIdentity) error
	FlushPage(common.PageIdentity) error
	FlushAllPages() error
}

// Manager is the concrete, fixed-size buffer pool.
type Manager[T Page] struct {
	poolSize    uint64
	pageToFrame map[common.PageIdentity]uint64
	frames      []frame[T]
	emptyFrames []uint64

	replacer Replacer

	diskManager    DiskManager[T]
	DirtyPageTable map[common.PageIdentity]common.LSN

	fastPath sync.Mutex
	slowPath sync.Mutex
}

var _ Pool[Page] = &Manager[Page]{}

func New[T Page](poolSize uint64, replacer Replacer, diskManager DiskManager[T]) *Manager[T] {
	assert.Assert(poolSize > 0, "pool size must be greater than zero")

	emptyFrames := make([]uint64, poolSize)
	for i := range emptyFrames {
		emptyFrames[i] = uint64(i)
	}

	return &Manager[T]{
		poolSize:       poolSize,
		pageToFrame:    make(map[common.PageIdentity]uint64),
		frames:         make([]frame[T], poolSize),
		emptyFrames:    emptyFrames,
		replacer:       replacer,
		diskManager:    diskManager,
		DirtyPageTable: make(map[common.PageIdentity]common.LSN),
	}
}

func (m *Manager[T]) Unpin(pIdent common.PageIdentity) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[pIdent]
	if !ok {
		return ErrNoSuchPage
	}
	m.unpinFrame(frameID)
	return nil
}

func (m *Manager[T]) unpinFrame(frameID uint64) {
	f := &m.frames[frameID]
	assert.Assert(f.PinCount > 0, "invalid pin count on frame %d", frameID)

	f.PinCount--
	if f.PinCount == 0 {
		m.replacer.Unpin(frameID)
	}
}

func (m *Manager[T]) pin(pIdent common.PageIdentity) {
	frameID, ok := m.pageToFrame[pIdent]
	assert.Assert(ok, "no frame for page: %v", pIdent)

	m.frames[frameID].PinCount++
	m.replacer.Pin(frameID)
}

// GetPage pins and returns the page at pIdent, reading it from disk through
// the DiskManager's ReadPage if it isn't already cached. Only GetNewPage
// takes the NewPageDiskManager zeroed-page path.
func (m *Manager[T]) GetPage(pIdent common.PageIdentity) (T, error) {
	return m.getPage(pIdent, false)
}

// GetNewPage pins pIdent, but if it must be fetched from disk, instantiates
// a fresh zeroed page instead of reading existing bytes — spec.md §4.2's
// is_new pin mode, used when a chunk's InsertionPlanner allocates a brand
// new page that has never been written.
func (m *Manager[T]) GetNewPage(pIdent common.PageIdentity) (T, error) {
	return m.getPage(pIdent, true)
}

func (m *Manager[T]) getPage(pIdent common.PageIdentity, isNew bool) (T, error) {
	m.fastPath.Lock()
	if frameID, ok := m.pageToFrame[pIdent]; ok {
		m.pin(pIdent)
		m.fastPath.Unlock()
		return m.frames[frameID].Page, nil
	}
	m.fastPath.Unlock()

	m.slowPath.Lock()
	defer m.slowPath.Unlock()

	m.fastPath.Lock()
	if frameID, ok := m.pageToFrame[pIdent]; ok {
		m.pin(pIdent)
		m.fastPath.Unlock()
		return m.frames[frameID].Page, nil
	}
	m.fastPath.Unlock()

	if frameID := m.reserveFrame(); frameID != noFrame {
		p, err := m.fetch(pIdent, isNew)
		if err != nil {
			var zero T
			return zero, err
		}

		m.fastPath.Lock()
		m.frames[frameID] = frame[T]{Page: p, PinCount: 1, PageIdent: pIdent}
		m.pageToFrame[pIdent] = frameID
		m.fastPath.Unlock()
		return p, nil
	}

	victimFrameID, err := m.replacer.ChooseVictim()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("bufferpool: no free frame and no victim: %w", err)
	}

	m.fastPath.Lock()
	victim := m.frames[victimFrameID]
	m.fastPath.Unlock()

	if victim.Page.IsDirty() {
		if err := m.diskManager.WritePage(victim.Page, victim.PageIdent); err != nil {
			var zero T
			return zero, fmt.Errorf("bufferpool: evicting dirty page %v: %w", victim.PageIdent, err)
		}
	}

	p, err := m.fetch(pIdent, isNew)
	if err != nil {
		var zero T
		return zero, err
	}

	m.fastPath.Lock()
	delete(m.pageToFrame, victim.PageIdent)
	delete(m.DirtyPageTable, victim.PageIdent)
	m.frames[victimFrameID] = frame[T]{Page: p, PinCount: 1, PageIdent: pIdent}
	m.pageToFrame[pIdent] = victimFrameID
	m.fastPath.Unlock()

	return p, nil
}

func (m *Manager[T]) fetch(pIdent common.PageIdentity, isNew bool) (T, error) {
	if nm, ok := m.diskManager.(newPageDiskManager[T]); ok && isNew {
		return nm.ReadNewPage(pIdent)
	}
	return m.diskManager.ReadPage(pIdent)
}

// newPageDiskManager is implemented by disk managers that can hand out a
// zeroed page without touching storage. internal/undolog.FSManager does.
type newPageDiskManager[T Page] interface {
	ReadNewPage(common.PageIdentity) (T, error)
}

func (m *Manager[T]) reserveFrame() uint64 {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	if len(m.emptyFrames) == 0 {
		return noFrame
	}
	id := m.emptyFrames[0]
	m.emptyFrames = m.emptyFrames[1:]
	m.frames[id].PinCount = 1
	m.replacer.Pin(id)
	return id
}

func (m *Manager[T]) FlushPage(pIdent common.PageIdentity) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[pIdent]
	if !ok {
		return fmt.Errorf("bufferpool: no frame for page %v: %w", pIdent, ErrNoSuchPage)
	}

	f := &m.frames[frameID]
	if !f.Page.IsDirty() {
		return nil
	}
	if err := m.diskManager.WritePage(f.Page, f.PageIdent); err != nil {
		return fmt.Errorf("bufferpool: flush %v: %w", pIdent, err)
	}
	delete(m.DirtyPageTable, pIdent)
	f.Page.SetDirtiness(false)
	return nil
}

func (m *Manager[T]) FlushAllPages() error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	for i := range m.frames {
		f := &m.frames[i]
		if f.Page.IsDirty() {
			if err := m.diskManager.WritePage(f.Page, f.PageIdent); err != nil {
				return fmt.Errorf("bufferpool: flush-all at %v: %w", f.PageIdent, err)
			}
			f.Page.SetDirtiness(false)
			delete(m.DirtyPageTable, f.PageIdent)
		}
	}
	return nil
}

package undolog

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"undoengine/internal/page"
	"undoengine/pkg/assert"
	"undoengine/pkg/common"
)

// Manager is the undo-log allocator contract spec.md §1 treats as an
// external collaborator. The core engine only ever talks to this
// interface, never to FSManager directly, so tests can substitute a
// testify/mock implementation.
type Manager interface {
	// GetForPersistence returns an exclusively-owned slot for a new chunk at
	// the given persistence level, creating a fresh log if no free slot of
	// that persistence exists.
	GetForPersistence(persistence common.Persistence) (*Slot, error)
	// Put returns a slot to the free list for its persistence level. The
	// slot must have been closed (spec.md §3 invariant 1).
	Put(slot *Slot)
	// Truncate permanently retires a slot (its log is past its size cap or
	// otherwise unusable for further writes) instead of returning it to the
	// free list.
	Truncate(slot *Slot)
	// ExtendBacking grows a slot's physical backing store so that writes up
	// to newEnd are valid.
	ExtendBacking(slot *Slot, newEnd uint64) error
	// AllSlots returns every slot this manager knows about that has not
	// been fully discarded, for CrashRecovery's startup sweep.
	AllSlots() []*Slot
	// Lookup resolves a logno to its slot, for the replayer and crash
	// recovery, which learn about logs only from WAL content.
	Lookup(logno common.Logno) (*Slot, bool)
}

// FSManager is the concrete, file-backed allocator used outside of tests.
// One undo log is one file under dir, named by its logno. It is backed by
// afero.Fs rather than bare os.File so tests can run it against
// afero.NewMemMapFs(), mirroring src/storage/engine/engine.go's use of
// afero.Fs for the storage engine's filesystem dependency.
type FSManager struct {
	fs     afero.Fs
	dir    string
	log    *zap.SugaredLogger
	nextID atomic.Uint64

	mu    sync.Mutex
	slots map[common.Logno]*Slot
	// free holds, per persistence level, the lognos of slots available for
	// reuse, ordered so the lowest logno is always picked first — this
	// makes allocation deterministic and easy to assert on in tests. This
	// is grounded on daviszhen-plan's use of github.com/tidwall/btree for
	// ordered in-memory indexes.
	free map[common.Persistence]*btree.Map[common.Logno, struct{}]
}

func NewFSManager(fs afero.Fs, dir string, log *zap.SugaredLogger) *FSManager {
	m := &FSManager{
		fs:    fs,
		dir:   dir,
		log:   log,
		slots: make(map[common.Logno]*Slot),
		free: map[common.Persistence]*btree.Map[common.Logno, struct{}]{
			common.Permanent: new(btree.Map[common.Logno, struct{}]),
			common.Unlogged:  new(btree.Map[common.Logno, struct{}]),
			common.Temp:      new(btree.Map[common.Logno, struct{}]),
		},
	}
	return m
}

func (m *FSManager) logPath(logno common.Logno) string {
	return fmt.Sprintf("%s/undolog-%020d.dat", m.dir, uint64(logno))
}

func (m *FSManager) GetForPersistence(persistence common.Persistence) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	freeSet := m.free[persistence]
	if logno, _, ok := freeSet.Min(); ok {
		freeSet.Delete(logno)
		slot := m.slots[logno]
		slot.metaLock.Lock()
		slot.owned = true
		slot.metaLock.Unlock()
		m.log.Debugw("reused undo log slot", "logno", logno, "persistence", persistence)
		return slot, nil
	}

	logno := common.Logno(m.nextID.Add(1))
	path := m.logPath(logno)
	f, err := m.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("undolog: create log file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("undolog: close new log file %s: %w", path, err)
	}

	slot := newSlot(logno, persistence, 1<<40 /* 1 TiB address space, spec.md §3 */)
	m.slots[logno] = slot
	m.log.Infow("allocated new undo log slot", "logno", logno, "persistence", persistence)
	return slot, nil
}

func (m *FSManager) Put(slot *Slot) {
	slot.metaLock.Lock()
	assert.Assert(slot.owned, "putting an undo log slot that isn't owned")
	slot.owned = false
	slot.metaLock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.free[slot.Persistence].Set(slot.Logno, struct{}{})
}

func (m *FSManager) Truncate(slot *Slot) {
	slot.metaLock.Lock()
	slot.owned = false
	slot.metaLock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, slot.Logno)
	m.free[slot.Persistence].Delete(slot.Logno)

	path := m.logPath(slot.Logno)
	if err := m.fs.Remove(path); err != nil {
		m.log.Warnw("failed to remove truncated undo log", "logno", slot.Logno, "err", err)
	}
}

func (m *FSManager) ExtendBacking(slot *Slot, newEnd uint64) error {
	cur := slot.refreshEnd()
	if newEnd <= cur {
		return nil
	}

	// Round up to a full block: ReadPage always reads exactly one BlockSize
	// block, so backing storage must never end mid-page.
	if rem := newEnd % page.BlockSize; rem != 0 {
		newEnd += page.BlockSize - rem
	}

	path := m.logPath(slot.Logno)
	f, err := m.fs.OpenFile(path, flagsReadWrite, 0o600)
	if err != nil {
		return fmt.Errorf("undolog: open %s for extend: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(newEnd)); err != nil {
		return fmt.Errorf("undolog: extend %s to %d bytes: %w", path, newEnd, err)
	}

	slot.setEnd(newEnd)
	return nil
}

func (m *FSManager) AllSlots() []*Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Slot, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s)
	}
	return out
}

func (m *FSManager) Lookup(logno common.Logno) (*Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[logno]
	return s, ok
}

// ReadPage and WritePage make FSManager double as the buffer pool's
// DiskManager[*page.Page] collaborator (internal/bufferpool), so the pool
// can read/write undo pages without knowing anything about logs or files.
func (m *FSManager) ReadPage(ident common.PageIdentity) (*page.Page, error) {
	path := m.logPath(ident.Logno)
	f, err := m.fs.OpenFile(path, flagsReadOnly, 0o600)
	if err != nil {
		return nil, fmt.Errorf("undolog: open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, page.BlockSize)
	offset := int64(ident.Block) * page.BlockSize
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("undolog: read block %d of %s: %w", ident.Block, path, err)
	}

	p := &page.Page{}
	p.SetData(buf)
	return p, nil
}

// ReadNewPage returns a freshly initialized page instead of reading one
// from disk, for the buffer pool's "is_new" pin path (spec.md §4.2:
// "is_new buffers are read with a zeroing mode").
func (m *FSManager) ReadNewPage(common.PageIdentity) (*page.Page, error) {
	return page.New(), nil
}

func (m *FSManager) WritePage(p *page.Page, ident common.PageIdentity) error {
	path := m.logPath(ident.Logno)
	f, err := m.fs.OpenFile(path, flagsReadWrite, 0o600)
	if err != nil {
		return fmt.Errorf("undolog: open %s: %w", path, err)
	}
	defer f.Close()

	offset := int64(ident.Block) * page.BlockSize
	if _, err := f.WriteAt(p.GetData(), offset); err != nil {
		return fmt.Errorf("undolog: write block %d of %s: %w", ident.Block, path, err)
	}
	return nil
}

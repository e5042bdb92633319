package wal

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"undoengine/pkg/common"
)

// Manager is the append-only WAL file: every record written through a
// Builder is framed as [uint32 length][record bytes] and the LSN handed
// back to the caller is the byte offset the frame was written at plus one
// (so the first frame, at offset 0, never gets NilLSN) — a real LSN always
// identifies a WAL byte position, and keeping it that close to literal keeps
// Replay trivial to drive off the same file. Grounded on
// src/recovery/log.go's writeRecord, replacing its page-at-a-time buffer
// pool writes with a flat file, since the undo engine's WAL has no need
// to share buffer-pool pages with the data it's logging.
type Manager struct {
	mu     sync.Mutex
	f      afero.File
	offset int64
}

// DummyPayloadSize is the 24-byte filler spec.md §9's Open Question
// preserves for XLOG_NOOP records, to force a non-empty WAL record the way
// the "without relcache" path originally did.
const DummyPayloadSize = 24

func Open(fs afero.Fs, path string) (*Manager, error) {
	f, err := fs.OpenFile(path, osAppendFlags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}
	return &Manager{f: f, offset: info.Size()}, nil
}

func (m *Manager) Close() error {
	return m.f.Close()
}

// Insert finalizes a Builder's record, appends it to the file, and returns
// the LSN every registered buffer must be stamped with.
func (m *Manager) Insert(b *Builder) (common.LSN, error) {
	payload, err := b.encode()
	if err != nil {
		return common.NilLSN, fmt.Errorf("wal: encode record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lsn := common.LSN(m.offset) + 1 // never hand out NilLSN (0) as a real LSN

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(payload)))

	if _, err := m.f.Write(lenPrefix[:]); err != nil {
		return common.NilLSN, fmt.Errorf("wal: write frame length: %w", err)
	}
	if _, err := m.f.Write(payload); err != nil {
		return common.NilLSN, fmt.Errorf("wal: write frame body: %w", err)
	}
	m.offset += int64(len(lenPrefix)) + int64(len(payload))

	return lsn, nil
}

// InsertNoop writes a record carrying only the 24-byte dummy filler and no
// buffer registrations. CrashRecovery does not use it: the record it writes
// for a dangling chunk registers the closed buffer alongside the filler.
func (m *Manager) InsertNoop(rmgr Rmgr, info byte) (common.LSN, error) {
	b := m.Begin(rmgr, info)
	b.SetMainData(make([]byte, DummyPayloadSize))
	return m.Insert(b)
}

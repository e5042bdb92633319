package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"undoengine/pkg/common"
)

// Rmgr identifies which resource manager owns a WAL record, mirrored from
// PostgreSQL's rmgr dispatch table so the Replayer can tell a transaction
// close apart from a plain undo-engine record per spec.md §4.7 step 7.
type Rmgr byte

const (
	RmUndo Rmgr = 1
	RmXact Rmgr = 2
)

// Info bits, meaningful only when Rmgr == RmXact; a transaction-set close
// during replay must be able to recover commit/abort/prepare from these.
type XactInfo byte

const (
	XactCommit XactInfo = 1 << 0
	XactAbort  XactInfo = 1 << 1
	XactPrepare XactInfo = 1 << 2
)

// block is one registered buffer plus its buf-data, in pin/registration
// order (spec.md §4.4's ordering rationale: insertion buffers first, close
// patch buffers last).
type block struct {
	Ident   common.PageIdentity
	BufData BufData
}

// Builder accumulates the blocks of one WAL record being constructed,
// mirroring the teacher's writeRecord pattern of building a record in
// memory before a single insert call.
type Builder struct {
	rmgr   Rmgr
	info   byte
	blocks []block
	main   []byte
}

func (m *Manager) Begin(rmgr Rmgr, info byte) *Builder {
	return &Builder{rmgr: rmgr, info: info}
}

// RegisterBuffer attaches bufData to ident in registration order. Calling
// this twice for the same ident within one record is the caller's error to
// avoid — the builder does not deduplicate, matching XLogRegisterBuffer's
// own "don't register the same block twice" contract.
func (b *Builder) RegisterBuffer(ident common.PageIdentity, bufData BufData) {
	b.blocks = append(b.blocks, block{Ident: ident, BufData: bufData})
}

// SetMainData attaches the record's non-block payload (REDO's `record`
// argument, or the 24-byte XLOG_NOOP filler of spec.md §9's Open Question).
func (b *Builder) SetMainData(data []byte) {
	b.main = data
}

func (b *Builder) encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(b.rmgr))
	buf.WriteByte(b.info)

	if err := binary.Write(buf, binary.LittleEndian, uint16(len(b.blocks))); err != nil {
		return nil, err
	}
	for _, blk := range b.blocks {
		identBytes, err := marshalPageIdentity(blk.Ident)
		if err != nil {
			return nil, err
		}
		buf.Write(identBytes)

		bd, err := blk.BufData.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.LittleEndian, uint16(len(bd))); err != nil {
			return nil, err
		}
		buf.Write(bd)
	}

	if err := binary.Write(buf, binary.LittleEndian, uint32(len(b.main))); err != nil {
		return nil, err
	}
	buf.Write(b.main)

	return buf.Bytes(), nil
}

// marshalPageIdentity makes PageIdentity usable inside a WAL record the same way
// URP already is; spec.md doesn't fix this layout but it must round-trip.
func marshalPageIdentity(p common.PageIdentity) ([]byte, error) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(p.Logno))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p.Block))
	return buf, nil
}

func unmarshalPageIdentity(b []byte) (common.PageIdentity, error) {
	if len(b) < 16 {
		return common.PageIdentity{}, fmt.Errorf("wal: short page identity: %d bytes", len(b))
	}
	return common.PageIdentity{
		Logno: common.Logno(binary.LittleEndian.Uint64(b[0:8])),
		Block: common.BlockNumber(binary.LittleEndian.Uint64(b[8:16])),
	}, nil
}

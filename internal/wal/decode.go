package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"undoengine/pkg/common"
)

// DecodedBlock is one registered buffer as read back off the WAL file,
// ready for the Replayer to apply.
type DecodedBlock struct {
	Ident   common.PageIdentity
	BufData BufData
}

// DecodedRecord is a full WAL record as the Replayer consumes it.
type DecodedRecord struct {
	LSN    common.LSN
	Rmgr   Rmgr
	Info   byte
	Blocks []DecodedBlock
	Main   []byte
}

// Reader sequentially decodes records out of a WAL file, independent of
// the Manager that wrote them (REDO, by construction, starts from a
// checkpoint and reads forward through whatever a separate process wrote).
type Reader struct {
	r      *bufio.Reader
	offset int64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadNext returns the next record and its LSN, or io.EOF when the file is
// exhausted.
func (dr *Reader) ReadNext() (*DecodedRecord, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(dr.r, lenPrefix[:]); err != nil {
		return nil, err
	}
	frameLen := binary.LittleEndian.Uint32(lenPrefix[:])

	lsn := common.LSN(dr.offset) + 1
	dr.offset += 4

	payload := make([]byte, frameLen)
	if _, err := io.ReadFull(dr.r, payload); err != nil {
		return nil, fmt.Errorf("wal: short record frame: %w", err)
	}
	dr.offset += int64(frameLen)

	rec, err := decodeRecord(payload)
	if err != nil {
		return nil, err
	}
	rec.LSN = lsn
	return rec, nil
}

func decodeRecord(payload []byte) (*DecodedRecord, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("wal: record frame too short")
	}

	rec := &DecodedRecord{
		Rmgr: Rmgr(payload[0]),
		Info: payload[1],
	}
	off := 2

	nblocks := binary.LittleEndian.Uint16(payload[off:])
	off += 2

	for i := 0; i < int(nblocks); i++ {
		if off+16 > len(payload) {
			return nil, fmt.Errorf("wal: truncated block identity in record")
		}
		ident, err := unmarshalPageIdentity(payload[off : off+16])
		if err != nil {
			return nil, err
		}
		off += 16

		if off+2 > len(payload) {
			return nil, fmt.Errorf("wal: truncated bufdata length in record")
		}
		bdLen := int(binary.LittleEndian.Uint16(payload[off:]))
		off += 2

		if off+bdLen > len(payload) {
			return nil, fmt.Errorf("wal: truncated bufdata body in record")
		}
		var bd BufData
		if err := bd.UnmarshalBinary(payload[off : off+bdLen]); err != nil {
			return nil, fmt.Errorf("wal: corrupted buf-data: %w", err)
		}
		off += bdLen

		rec.Blocks = append(rec.Blocks, DecodedBlock{Ident: ident, BufData: bd})
	}

	if off+4 > len(payload) {
		return nil, fmt.Errorf("wal: truncated main-data length in record")
	}
	mainLen := binary.LittleEndian.Uint32(payload[off:])
	off += 4

	if off+int(mainLen) > len(payload) {
		return nil, fmt.Errorf("wal: truncated main-data body in record")
	}
	rec.Main = payload[off : off+int(mainLen)]

	return rec, nil
}

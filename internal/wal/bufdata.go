// Package wal is the WAL subsystem external collaborator (spec.md §1):
// begins, registers, and inserts WAL records, and in REDO decodes
// registered block data back out.
//
// Grounded on the teacher's src/recovery/log.go (a sequential, LSN-stamped
// log writer behind an atomic record counter) and src/recovery/serialization.go
// (type-tag byte + binary.Write-style field encoding per record), adapted
// from transaction log records to the undo engine's per-buffer flag-set
// encoding (spec.md §4.9). Unlike the teacher, every integer here is
// little-endian per spec.md §9's explicit wire-format requirement.
package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"undoengine/pkg/common"
)

// BufFlag is the per-buffer flag set spec.md §4.9 assembles for every
// buffer touched by a WAL record.
type BufFlag uint16

const (
	FlagInsert          BufFlag = 1 << 0
	FlagCreate          BufFlag = 1 << 1
	FlagAddChunk        BufFlag = 1 << 2
	FlagAddPage         BufFlag = 1 << 3
	FlagCloseChunk      BufFlag = 1 << 4
	FlagClose           BufFlag = 1 << 5
	FlagCloseMultiChunk BufFlag = 1 << 6
)

func (f BufFlag) Has(bit BufFlag) bool { return f&bit != 0 }

// BufData is the auxiliary per-buffer payload attached to a WAL record.
// Only the fields implied by Flags are meaningful; the rest are zero. The
// encoder packs the flag word first, then each present field in the fixed
// order spec.md §4.9 names, so the wire format never changes shape based on
// which fields happen to be populated in memory.
type BufData struct {
	Flags BufFlag

	InsertPageOffset uint16

	ChunkHeaderLocation common.URP

	PreviousChunkHeaderLocation common.URP

	Type common.Type

	TypeHeader []byte

	ChunkSizePageOffset uint16
	ChunkSize           uint64

	FirstChunkHeaderLocation common.URP
}

func (b BufData) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint16(b.Flags)); err != nil {
		return nil, err
	}

	if b.Flags.Has(FlagInsert) {
		if err := binary.Write(buf, binary.LittleEndian, b.InsertPageOffset); err != nil {
			return nil, err
		}
	}
	if b.Flags.Has(FlagAddPage) {
		if err := writeURP(buf, b.ChunkHeaderLocation); err != nil {
			return nil, err
		}
	}
	if b.Flags.Has(FlagAddChunk) {
		if err := writeURP(buf, b.PreviousChunkHeaderLocation); err != nil {
			return nil, err
		}
	}
	if b.Flags.Has(FlagCreate) || b.Flags.Has(FlagAddChunk) || b.Flags.Has(FlagClose) {
		buf.WriteByte(byte(b.Type))
	}
	if b.Flags.Has(FlagCreate) || b.Flags.Has(FlagClose) {
		if err := binary.Write(buf, binary.LittleEndian, uint16(len(b.TypeHeader))); err != nil {
			return nil, err
		}
		buf.Write(b.TypeHeader)
	}
	if b.Flags.Has(FlagCloseChunk) {
		if err := binary.Write(buf, binary.LittleEndian, b.ChunkSizePageOffset); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.LittleEndian, b.ChunkSize); err != nil {
			return nil, err
		}
	}
	if b.Flags.Has(FlagCloseMultiChunk) {
		if err := writeURP(buf, b.FirstChunkHeaderLocation); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (b *BufData) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	var flags uint16
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return fmt.Errorf("wal: decode bufdata flags: %w", err)
	}
	b.Flags = BufFlag(flags)

	if b.Flags.Has(FlagInsert) {
		if err := binary.Read(r, binary.LittleEndian, &b.InsertPageOffset); err != nil {
			return fmt.Errorf("wal: decode insert_page_offset: %w", err)
		}
	}
	if b.Flags.Has(FlagAddPage) {
		u, err := readURP(r)
		if err != nil {
			return fmt.Errorf("wal: decode chunk_header_location: %w", err)
		}
		b.ChunkHeaderLocation = u
	}
	if b.Flags.Has(FlagAddChunk) {
		u, err := readURP(r)
		if err != nil {
			return fmt.Errorf("wal: decode previous_chunk_header_location: %w", err)
		}
		b.PreviousChunkHeaderLocation = u
	}
	if b.Flags.Has(FlagCreate) || b.Flags.Has(FlagAddChunk) || b.Flags.Has(FlagClose) {
		typ, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("wal: decode urs_type: %w", err)
		}
		b.Type = common.Type(typ)
	}
	if b.Flags.Has(FlagCreate) || b.Flags.Has(FlagClose) {
		var size uint16
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return fmt.Errorf("wal: decode type_header_size: %w", err)
		}
		hdr := make([]byte, size)
		if _, err := r.Read(hdr); err != nil && size > 0 {
			return fmt.Errorf("wal: decode type_header: %w", err)
		}
		b.TypeHeader = hdr
	}
	if b.Flags.Has(FlagCloseChunk) {
		if err := binary.Read(r, binary.LittleEndian, &b.ChunkSizePageOffset); err != nil {
			return fmt.Errorf("wal: decode chunk_size_page_offset: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &b.ChunkSize); err != nil {
			return fmt.Errorf("wal: decode chunk_size: %w", err)
		}
	}
	if b.Flags.Has(FlagCloseMultiChunk) {
		u, err := readURP(r)
		if err != nil {
			return fmt.Errorf("wal: decode first_chunk_header_location: %w", err)
		}
		b.FirstChunkHeaderLocation = u
	}

	return nil
}

func writeURP(buf *bytes.Buffer, u common.URP) error {
	b, err := u.MarshalBinary()
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readURP(r *bytes.Reader) (common.URP, error) {
	b := make([]byte, 16)
	if _, err := r.Read(b); err != nil {
		return common.URP{}, err
	}
	var u common.URP
	if err := u.UnmarshalBinary(b); err != nil {
		return common.URP{}, err
	}
	return u, nil
}

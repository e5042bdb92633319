package wal

import (
	"bytes"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"undoengine/pkg/common"
)

func TestBufData_RoundTripsInsertFlag(t *testing.T) {
	bd := BufData{Flags: FlagInsert, InsertPageOffset: 1234}

	encoded, err := bd.MarshalBinary()
	require.NoError(t, err)

	var got BufData
	require.NoError(t, got.UnmarshalBinary(encoded))
	assert.Equal(t, bd.Flags, got.Flags)
	assert.Equal(t, bd.InsertPageOffset, got.InsertPageOffset)
}

func TestBufData_RoundTripsCreateFlag(t *testing.T) {
	bd := BufData{
		Flags:      FlagCreate,
		Type:       common.TypeTransaction,
		TypeHeader: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}

	encoded, err := bd.MarshalBinary()
	require.NoError(t, err)

	var got BufData
	require.NoError(t, got.UnmarshalBinary(encoded))
	assert.Equal(t, bd.Type, got.Type)
	assert.Equal(t, bd.TypeHeader, got.TypeHeader)
}

func TestBufData_RoundTripsCloseChunkAndMultiChunk(t *testing.T) {
	bd := BufData{
		Flags:                    FlagCloseChunk | FlagClose | FlagCloseMultiChunk,
		Type:                     common.TypeFoo,
		TypeHeader:               []byte{9, 9, 9, 9},
		ChunkSizePageOffset:      100,
		ChunkSize:                4096,
		FirstChunkHeaderLocation: common.URP{Logno: 3, Offset: 24},
	}

	encoded, err := bd.MarshalBinary()
	require.NoError(t, err)

	var got BufData
	require.NoError(t, got.UnmarshalBinary(encoded))
	assert.Equal(t, bd.ChunkSize, got.ChunkSize)
	assert.Equal(t, bd.ChunkSizePageOffset, got.ChunkSizePageOffset)
	assert.Equal(t, bd.FirstChunkHeaderLocation, got.FirstChunkHeaderLocation)
	assert.Equal(t, bd.TypeHeader, got.TypeHeader)
}

func TestManager_InsertThenRead_RoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, err := Open(fs, "/wal.log")
	require.NoError(t, err)

	b := m.Begin(RmUndo, 0)
	ident := common.PageIdentity{Logno: 1, Block: 0}
	b.RegisterBuffer(ident, BufData{Flags: FlagInsert, InsertPageOffset: 24})
	b.SetMainData([]byte("hello"))

	lsn, err := m.Insert(b)
	require.NoError(t, err)
	assert.NotEqual(t, common.NilLSN, lsn)
	require.NoError(t, m.Close())

	raw, err := afero.ReadFile(fs, "/wal.log")
	require.NoError(t, err)

	reader := NewReader(bytes.NewReader(raw))
	rec, err := reader.ReadNext()
	require.NoError(t, err)
	assert.Equal(t, RmUndo, rec.Rmgr)
	assert.Len(t, rec.Blocks, 1)
	assert.Equal(t, ident, rec.Blocks[0].Ident)
	assert.Equal(t, uint16(24), rec.Blocks[0].BufData.InsertPageOffset)
	assert.Equal(t, []byte("hello"), rec.Main)

	_, err = reader.ReadNext()
	assert.ErrorIs(t, err, io.EOF)
}

func TestManager_InsertNoop_CarriesDummyPayload(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, err := Open(fs, "/wal.log")
	require.NoError(t, err)

	_, err = m.InsertNoop(RmXact, byte(XactAbort))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	raw, err := afero.ReadFile(fs, "/wal.log")
	require.NoError(t, err)

	reader := NewReader(bytes.NewReader(raw))
	rec, err := reader.ReadNext()
	require.NoError(t, err)
	assert.Equal(t, RmXact, rec.Rmgr)
	assert.Len(t, rec.Main, DummyPayloadSize)
}

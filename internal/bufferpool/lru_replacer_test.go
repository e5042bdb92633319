package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUReplacer_VictimIsLeastRecentlyUnpinned(t *testing.T) {
	r := NewLRUReplacer()
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	victim, err := r.ChooseVictim()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), victim)

	victim, err = r.ChooseVictim()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), victim)
}

func TestLRUReplacer_PinRemovesFromVictimPool(t *testing.T) {
	r := NewLRUReplacer()
	r.Unpin(1)
	r.Pin(1)

	_, err := r.ChooseVictim()
	assert.Error(t, err)
}

func TestLRUReplacer_NoVictimWhenEmpty(t *testing.T) {
	r := NewLRUReplacer()
	_, err := r.ChooseVictim()
	assert.Error(t, err)
	assert.Equal(t, uint64(0), r.GetSize())
}

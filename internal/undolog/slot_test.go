package undolog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"undoengine/internal/page"
	"undoengine/pkg/common"
)

func TestNewSlot_StartsAtHeaderSize(t *testing.T) {
	s := newSlot(1, common.Permanent, 1<<20)
	assert.Equal(t, uint64(page.HeaderSize), s.Insert())
	assert.Equal(t, uint64(page.HeaderSize), s.Discard())
	assert.Equal(t, uint64(0), s.End())
}

func TestAdvanceInsert_AccumulatesUnderLock(t *testing.T) {
	s := newSlot(1, common.Permanent, 1<<20)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AdvanceInsert(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(page.HeaderSize)+100, s.Insert())
}

func TestSetEnd_NeverShrinks(t *testing.T) {
	s := newSlot(1, common.Permanent, 1<<20)
	s.setEnd(8192)
	s.setEnd(4096)
	assert.Equal(t, uint64(8192), s.End())
}

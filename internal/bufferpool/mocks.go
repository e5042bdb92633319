package bufferpool

import (
	"github.com/stretchr/testify/mock"

	"undoengine/internal/page"
	"undoengine/pkg/common"
)

// MockDiskManager is grounded on the teacher's src/bufferpool/mocks.go
// pattern of one testify/mock type per collaborator interface.
type MockDiskManager struct {
	mock.Mock
}

func (m *MockDiskManager) ReadPage(ident common.PageIdentity) (*page.Page, error) {
	args := m.Called(ident)
	p, _ := args.Get(0).(*page.Page)
	return p, args.Error(1)
}

func (m *MockDiskManager) ReadNewPage(ident common.PageIdentity) (*page.Page, error) {
	args := m.Called(ident)
	p, _ := args.Get(0).(*page.Page)
	return p, args.Error(1)
}

func (m *MockDiskManager) WritePage(p *page.Page, ident common.PageIdentity) error {
	args := m.Called(p, ident)
	return args.Error(0)
}

type MockReplacer struct {
	mock.Mock
}

func (m *MockReplacer) Pin(frameID uint64)   { m.Called(frameID) }
func (m *MockReplacer) Unpin(frameID uint64) { m.Called(frameID) }

func (m *MockReplacer) ChooseVictim() (uint64, error) {
	args := m.Called()
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockReplacer) GetSize() uint64 {
	args := m.Called()
	return args.Get(0).(uint64)
}

package xactundo

import (
	"sync"

	"undoengine/pkg/common"
)

// Closed is one recorded close notification, captured for assertions in
// tests that can't reach into a real transaction manager.
type Closed struct {
	TypeHeader []byte
	Begin, End common.URP
	IsCommit   bool
	IsPrepare  bool
}

// Recorder is a test double that remembers every close it's notified of, in
// order, mirroring the teacher's preference for small hand-written fakes
// over generated mocks when a collaborator's whole contract is one method.
type Recorder struct {
	mu     sync.Mutex
	closes []Closed
}

var _ Callback = &Recorder{}

func (r *Recorder) OnClose(typeHeader []byte, begin, end common.URP, isCommit, isPrepare bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, Closed{
		TypeHeader: append([]byte(nil), typeHeader...),
		Begin:      begin,
		End:        end,
		IsCommit:   isCommit,
		IsPrepare:  isPrepare,
	})
}

func (r *Recorder) Closes() []Closed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Closed(nil), r.closes...)
}

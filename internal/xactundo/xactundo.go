// Package xactundo is the transaction undo layer external collaborator
// (spec.md §1): the consumer of the URST_TRANSACTION type, notified
// whenever a transaction's undo record set closes.
//
// Grounded on the teacher's pattern of small, single-method collaborator
// interfaces injected into the core engine (e.g. src/recovery.TxnLogger's
// getActiveTransactions func field) rather than a concrete dependency — the
// core engine (internal/urs) only ever holds a Callback, never a concrete
// transaction manager.
package xactundo

import "undoengine/pkg/common"

// Callback is invoked by the Replayer (spec.md §4.7 step 7) and by
// CrashRecovery (spec.md §4.8 step 5) whenever a URST_TRANSACTION set
// closes during REDO or a dangling-chunk sweep at startup. Closing a set
// through MarkClosed in normal operation does not invoke it.
type Callback interface {
	OnClose(typeHeader []byte, begin, end common.URP, isCommit, isPrepare bool)
}

// NoopCallback discards every notification; used when no transaction layer
// is wired in (e.g. exercising non-transaction URS types in isolation).
type NoopCallback struct{}

func (NoopCallback) OnClose([]byte, common.URP, common.URP, bool, bool) {}

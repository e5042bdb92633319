// Package urs is the Undo Record Set engine itself: the core component the
// rest of this module exists to build. It composes the page codec
// (internal/page), the buffer manager (internal/bufferpool), the undo-log
// allocator (internal/undolog), the WAL subsystem (internal/wal), and the
// transaction undo layer (internal/xactundo) behind the operations spec.md
// §6 names.
package urs

import (
	"fmt"
	"sync"

	"undoengine/pkg/common"
)

// typeHeaderSizes is the type-header registry: spec.md §3 says every type
// has a fixed type-header size, pre-populated for URST_TRANSACTION and
// URST_FOO, extensible by RegisterType for callers adding their own types.
var (
	typeRegistryMu sync.RWMutex
	typeHeaderSizes = map[common.Type]uint8{
		common.TypeTransaction: 8,
		common.TypeFoo:         4,
	}
)

// RegisterType records the fixed type-header size for a new undo record
// set type. Re-registering an existing type with a different size panics:
// the on-disk layout of every already-written chunk would become
// ambiguous.
func RegisterType(t common.Type, headerSize uint8) {
	typeRegistryMu.Lock()
	defer typeRegistryMu.Unlock()

	if existing, ok := typeHeaderSizes[t]; ok && existing != headerSize {
		panic(fmt.Sprintf("urs: type %d already registered with header size %d, got %d", t, existing, headerSize))
	}
	typeHeaderSizes[t] = headerSize
}

func typeHeaderSize(t common.Type) (uint8, error) {
	typeRegistryMu.RLock()
	defer typeRegistryMu.RUnlock()

	size, ok := typeHeaderSizes[t]
	if !ok {
		return 0, fmt.Errorf("urs: unregistered type %d", t)
	}
	return size, nil
}

// TypeHeaderSize exposes typeHeaderSize to callers outside this package
// (the CLI harness) that need to size a type header before calling Create.
func TypeHeaderSize(t common.Type) (uint8, error) {
	return typeHeaderSize(t)
}

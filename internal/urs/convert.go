package urs

import "undoengine/internal/page"

// rawToUsable/usableToRaw bridge the undo-log slot's raw-byte counters
// (internal/undolog.Slot) and the URP's usable-byte addressing
// (spec.md §3), via internal/page's conversion boundary.
func rawToUsable(raw uint64) uint64 { return page.UsableOffset(raw) }

func usableToRaw(usable uint64) uint64 { return page.RawOffset(usable) }

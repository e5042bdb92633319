package page

import "undoengine/pkg/common"

// Location is the (block, page-offset) pair a URP's usable-byte offset
// resolves to.
type Location struct {
	Block  common.BlockNumber
	Offset int // byte offset within that block, always >= HeaderSize
}

// Resolve converts a URP's usable-byte offset into a page location, per
// spec.md §3's definition of URP: "offset is counted in usable bytes — it
// skips per-page headers."
func Resolve(usableOffset uint64) Location {
	block := usableOffset / UsableBytesPerPage
	within := usableOffset % UsableBytesPerPage
	return Location{
		Block:  common.BlockNumber(block),
		Offset: HeaderSize + int(within),
	}
}

// RawOffset returns the plain byte offset (including page headers) that a
// usable-byte offset corresponds to. This is the unit an undo log's
// insert/discard/end counters (internal/undolog) are tracked in, since they
// must address raw bytes for I/O.
func RawOffset(usableOffset uint64) uint64 {
	loc := Resolve(usableOffset)
	return uint64(loc.Block)*BlockSize + uint64(loc.Offset)
}

// UsableOffset is the inverse of RawOffset.
func UsableOffset(raw uint64) uint64 {
	block := raw / BlockSize
	within := raw % BlockSize
	if within < HeaderSize {
		// raw offsets never legitimately point inside a header stub; callers
		// that must tolerate this (crash recovery reading insert-1) clamp
		// explicitly before calling UsableOffset.
		within = HeaderSize
	}
	return block*UsableBytesPerPage + (within - HeaderSize)
}

// AddUsableBytes advances a URP by n usable bytes. Because URP.Offset is
// already expressed in usable-byte units, this is flat integer addition —
// the page-boundary skip is implicit and only materializes when the result
// is later Resolve()d.
func AddUsableBytes(u common.URP, n uint64) common.URP {
	return common.URP{Logno: u.Logno, Offset: u.Offset + n}
}

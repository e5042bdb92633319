package common

// LSN is a WAL log sequence number. The zero value, NilLSN, never names a
// real record.
type LSN uint64

const NilLSN LSN = 0

func (l LSN) IsNil() bool {
	return l == NilLSN
}

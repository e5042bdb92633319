package undolog

import "os"

// flagsReadOnly/flagsReadWrite name the afero.Fs open flags used throughout
// this package, so manager.go doesn't scatter bare os.O_* constants across
// every OpenFile call.
const (
	flagsReadOnly  = os.O_RDONLY
	flagsReadWrite = os.O_RDWR | os.O_CREATE
)

package wal

import "os"

// osAppendFlags opens the WAL file for sequential append-only writes,
// creating it if this is the first boot.
const osAppendFlags = os.O_RDWR | os.O_CREATE | os.O_APPEND

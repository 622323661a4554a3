package stats

import "time"

// TransferState tracks whether a file transfer is still in flight.
type TransferState int

const (
	Transferring TransferState = iota
	Complete
)

// TransferStatistics tracks one file transfer's progress, keyed by file ID
// in the caller (internal/filetransfer).
type TransferStatistics struct {
	Started      time.Time
	BytesWritten uint64
	// BytesRead can exceed the file's size: every peer that requests the
	// file adds to it independently.
	BytesRead uint64
	State     TransferState
}

// NewTransferStatistics starts a fresh counter, timestamped now.
func NewTransferStatistics() *TransferStatistics {
	return &TransferStatistics{Started: time.Now(), State: Transferring}
}

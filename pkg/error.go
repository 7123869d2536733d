package pkg

import "errors"

// Bus and controller errors.
var (
	// ErrIO indicates a bus-level failure (parity, CRC, framing, NACK, abort).
	ErrIO = errors.New("I/O error")

	// ErrOverflow indicates a controller FIFO overflow or underflow.
	ErrOverflow = errors.New("FIFO overflow or underflow")

	// ErrTimeout indicates a transfer did not complete in time.
	ErrTimeout = errors.New("transfer timeout")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNoDevice indicates no device acknowledged the address.
	ErrNoDevice = errors.New("device not present")

	// ErrNoSpace indicates the dynamic address space is exhausted.
	ErrNoSpace = errors.New("no free address")

	// ErrNoResources indicates the device address table is full.
	ErrNoResources = errors.New("no resources available")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrAlreadyRunning indicates the controller is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the controller is not running.
	ErrNotRunning = errors.New("not running")

	// ErrCancelled indicates a cancelled operation.
	ErrCancelled = errors.New("operation cancelled")
)

// TransferStatus represents the completion status of a bus transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess  TransferStatus = iota // Transfer completed successfully
	TransferStatusIOError                        // Bus-level failure
	TransferStatusOverflow                       // FIFO overflow or underflow
	TransferStatusInvalid                        // Rejected or unrecognized condition
	TransferStatusTimeout                        // Transfer timed out
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusIOError:
		return "io"
	case TransferStatusOverflow:
		return "overflow"
	case TransferStatusInvalid:
		return "invalid"
	case TransferStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusIOError:
		return ErrIO
	case TransferStatusOverflow:
		return ErrOverflow
	case TransferStatusTimeout:
		return ErrTimeout
	default:
		return ErrInvalidParameter
	}
}

package dw

import (
	"fmt"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/pkg"
)

// responseStatus is the error field of a response queue entry.
type responseStatus uint8

// Response status values.
const (
	respNoError       responseStatus = regs.RespNoError
	respErrCRC        responseStatus = regs.RespErrCRC
	respErrParity     responseStatus = regs.RespErrParity
	respErrFrame      responseStatus = regs.RespErrFrame
	respErrIBANACK    responseStatus = regs.RespErrIBANACK
	respErrAddrNACK   responseStatus = regs.RespErrAddrNACK
	respErrOverflow   responseStatus = regs.RespErrOverflow
	respErrAbort      responseStatus = regs.RespErrAbort
	respErrI2CWriteNA responseStatus = regs.RespErrI2CWriteNA
)

// String returns a string representation of the response status.
func (s responseStatus) String() string {
	switch s {
	case respNoError:
		return "ok"
	case respErrCRC:
		return "crc"
	case respErrParity:
		return "parity"
	case respErrFrame:
		return "frame"
	case respErrIBANACK:
		return "broadcast address nack"
	case respErrAddrNACK:
		return "address nack"
	case respErrOverflow:
		return "overflow"
	case respErrAbort:
		return "aborted"
	case respErrI2CWriteNA:
		return "i2c write nack"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Kind classifies the response into the generic transfer status.
func (s responseStatus) Kind() pkg.TransferStatus {
	switch s {
	case respNoError:
		return pkg.TransferStatusSuccess
	case respErrParity, respErrIBANACK, respErrAddrNACK, respErrAbort,
		respErrCRC, respErrFrame:
		return pkg.TransferStatusIOError
	case respErrOverflow:
		return pkg.TransferStatusOverflow
	default:
		return pkg.TransferStatusInvalid
	}
}

// Err returns the error for the response, or nil.
func (s responseStatus) Err() error {
	err := s.Kind().Error()
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", s, err)
}

// addrNACK reports whether nobody acknowledged the address.
func (s responseStatus) addrNACK() bool {
	return s == respErrIBANACK || s == respErrAddrNACK
}

// Package protocol implements the binary wire format shared by the booking
// server and its clients: a fixed 7-byte big-endian header followed by an
// operation-specific payload. All multi-byte integers are big-endian and all
// strings are UTF-8 prefixed with a 16-bit length.
package protocol

import (
	"errors"
	"fmt"
)

// OpCode identifies one of the six client-facing operations.
type OpCode uint8

const (
	OpQueryAvailability   OpCode = 1
	OpBookFacility        OpCode = 2
	OpChangeBooking       OpCode = 3
	OpMonitorAvailability OpCode = 4
	OpGetServerStatus     OpCode = 5
	OpExtendBooking       OpCode = 6
)

const (
	// HeaderSize is the fixed size of the message header:
	// requestID int32 + opcode uint8 + payload length uint16.
	HeaderSize = 7

	// MaxMessageSize bounds a single datagram. Well under path MTU.
	MaxMessageSize = 1024

	// PushRequestID marks server-initiated messages (monitor updates).
	// Clients never use it for requests.
	PushRequestID int32 = -1
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownOperation = errors.New("unknown operation")
)

// Mutating reports whether an operation changes booking state. Mutating
// operations invalidate the server's reply cache.
func (op OpCode) Mutating() bool {
	switch op {
	case OpBookFacility, OpChangeBooking, OpExtendBooking:
		return true
	}
	return false
}

func (op OpCode) String() string {
	switch op {
	case OpQueryAvailability:
		return "QueryAvailability"
	case OpBookFacility:
		return "BookFacility"
	case OpChangeBooking:
		return "ChangeBooking"
	case OpMonitorAvailability:
		return "MonitorAvailability"
	case OpGetServerStatus:
		return "GetServerStatus"
	case OpExtendBooking:
		return "ExtendBooking"
	}
	return fmt.Sprintf("OpCode(%d)", uint8(op))
}

// Valid reports whether the code names one of the six operations.
func (op OpCode) Valid() bool {
	return op >= OpQueryAvailability && op <= OpExtendBooking
}

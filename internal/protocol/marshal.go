package protocol

import (
	"encoding/binary"
	"fmt"
)

// putHeader appends the 7-byte header.
func putHeader(buf []byte, requestID int32, op OpCode, payloadLen int) ([]byte, error) {
	if payloadLen > int(^uint16(0)) {
		return nil, fmt.Errorf("payload of %d bytes exceeds 16-bit length field", payloadLen)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(requestID))
	buf = append(buf, byte(op))
	buf = binary.BigEndian.AppendUint16(buf, uint16(payloadLen))
	return buf, nil
}

// putString appends a 2-byte length followed by the UTF-8 bytes.
func putString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func putInt32(buf []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(buf, uint32(v))
}

// wireDay converts a time.Weekday to the wire encoding 1=Monday..7=Sunday.
func wireDay(d int) int32 {
	return int32((d+6)%7 + 1)
}

func putWeekTime(buf []byte, w WeekTime) []byte {
	buf = putInt32(buf, wireDay(int(w.Day)))
	buf = putInt32(buf, int32(w.Hour))
	return putInt32(buf, int32(w.Minute))
}

// MarshalQueryAvailability encodes a QUERY_AVAILABILITY request. The day list
// fills the remainder of the payload, one int32 per day.
func MarshalQueryAvailability(requestID int32, req QueryAvailabilityRequest) ([]byte, error) {
	payloadLen := 2 + len(req.FacilityName) + 4*len(req.Days)
	buf, err := putHeader(make([]byte, 0, HeaderSize+payloadLen), requestID, OpQueryAvailability, payloadLen)
	if err != nil {
		return nil, err
	}
	buf = putString(buf, req.FacilityName)
	for _, d := range req.Days {
		buf = putInt32(buf, wireDay(int(d)))
	}
	return buf, nil
}

// MarshalBookFacility encodes a BOOK_FACILITY request: name plus start and
// end times, each as three int32 fields (day, hour, minute).
func MarshalBookFacility(requestID int32, req BookFacilityRequest) ([]byte, error) {
	payloadLen := 2 + len(req.FacilityName) + 12 + 12
	buf, err := putHeader(make([]byte, 0, HeaderSize+payloadLen), requestID, OpBookFacility, payloadLen)
	if err != nil {
		return nil, err
	}
	buf = putString(buf, req.FacilityName)
	buf = putWeekTime(buf, req.Start)
	buf = putWeekTime(buf, req.End)
	return buf, nil
}

func MarshalChangeBooking(requestID int32, req ChangeBookingRequest) ([]byte, error) {
	return marshalIDAndMinutes(requestID, OpChangeBooking, req.ConfirmationID, req.OffsetMinutes)
}

func MarshalExtendBooking(requestID int32, req ExtendBookingRequest) ([]byte, error) {
	return marshalIDAndMinutes(requestID, OpExtendBooking, req.ConfirmationID, req.ExtendMinutes)
}

// CHANGE_BOOKING and EXTEND_BOOKING share a payload shape: a length-prefixed
// confirmation id followed by a signed minute value.
func marshalIDAndMinutes(requestID int32, op OpCode, confirmationID string, minutes int32) ([]byte, error) {
	payloadLen := 2 + len(confirmationID) + 4
	buf, err := putHeader(make([]byte, 0, HeaderSize+payloadLen), requestID, op, payloadLen)
	if err != nil {
		return nil, err
	}
	buf = putString(buf, confirmationID)
	return putInt32(buf, minutes), nil
}

func MarshalMonitorAvailability(requestID int32, req MonitorAvailabilityRequest) ([]byte, error) {
	payloadLen := 2 + len(req.FacilityName) + 4
	buf, err := putHeader(make([]byte, 0, HeaderSize+payloadLen), requestID, OpMonitorAvailability, payloadLen)
	if err != nil {
		return nil, err
	}
	buf = putString(buf, req.FacilityName)
	return putInt32(buf, req.IntervalMinutes), nil
}

// MarshalGetServerStatus encodes a GET_SERVER_STATUS request. Empty payload.
func MarshalGetServerStatus(requestID int32) ([]byte, error) {
	return putHeader(make([]byte, 0, HeaderSize), requestID, OpGetServerStatus, 0)
}

// MarshalReply encodes the shared reply envelope: header plus raw UTF-8 text.
func MarshalReply(reply Reply) ([]byte, error) {
	buf, err := putHeader(make([]byte, 0, HeaderSize+len(reply.Payload)), reply.RequestID, reply.Op, len(reply.Payload))
	if err != nil {
		return nil, err
	}
	return append(buf, reply.Payload...), nil
}

// MarshalAvailabilityUpdate encodes a monitor push: PushRequestID, the
// MONITOR_AVAILABILITY op code, a length-prefixed facility name and the
// textual grid snapshot.
func MarshalAvailabilityUpdate(update AvailabilityUpdate) ([]byte, error) {
	payloadLen := 2 + len(update.FacilityName) + len(update.Grid)
	buf, err := putHeader(make([]byte, 0, HeaderSize+payloadLen), PushRequestID, OpMonitorAvailability, payloadLen)
	if err != nil {
		return nil, err
	}
	buf = putString(buf, update.FacilityName)
	return append(buf, update.Grid...), nil
}

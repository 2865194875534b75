package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// reader walks a payload buffer, remembering the first failure so call sites
// can chain reads and check the error once. Every failure is a
// ErrMalformedMessage: the sender cannot be trusted past this boundary.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformedMessage}, args...)...)
	}
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) int32() int32 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 4 {
		r.fail("truncated int32 at offset %d", r.off)
		return 0
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v
}

func (r *reader) string() string {
	if r.err != nil {
		return ""
	}
	if r.remaining() < 2 {
		r.fail("truncated string length at offset %d", r.off)
		return ""
	}
	n := int(binary.BigEndian.Uint16(r.buf[r.off:]))
	r.off += 2
	if r.remaining() < n {
		r.fail("string claims %d bytes, %d remain", n, r.remaining())
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

func (r *reader) weekday() time.Weekday {
	d := r.int32()
	if r.err != nil {
		return 0
	}
	if d < 1 || d > 7 {
		r.fail("day-of-week %d outside 1..7", d)
		return 0
	}
	if d == 7 {
		return time.Sunday
	}
	return time.Weekday(d)
}

func (r *reader) weekTime() WeekTime {
	w := WeekTime{Day: r.weekday(), Hour: int(r.int32()), Minute: int(r.int32())}
	if r.err != nil {
		return WeekTime{}
	}
	if w.Hour < 0 || w.Hour > 23 || w.Minute < 0 || w.Minute > 59 {
		r.fail("time %02d:%02d out of range", w.Hour, w.Minute)
		return WeekTime{}
	}
	return w
}

// ParseHeader decodes the fixed 7-byte header. It does not validate the
// operation code or the payload length against the buffer; see SplitMessage
// and OpCode.Valid. The dispatcher needs the request id even for an unknown
// operation so it can reply with an error.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedMessage, len(buf), HeaderSize)
	}
	return Header{
		RequestID:  int32(binary.BigEndian.Uint32(buf)),
		Op:         OpCode(buf[4]),
		PayloadLen: binary.BigEndian.Uint16(buf[5:]),
	}, nil
}

// SplitMessage decodes the header and returns the payload slice, failing when
// the declared payload length disagrees with the bytes actually present.
func SplitMessage(buf []byte) (Header, []byte, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return Header{}, nil, err
	}
	payload := buf[HeaderSize:]
	if int(h.PayloadLen) != len(payload) {
		return Header{}, nil, fmt.Errorf("%w: header declares %d payload bytes, %d present",
			ErrMalformedMessage, h.PayloadLen, len(payload))
	}
	return h, payload, nil
}

// DecodeQueryAvailability decodes the payload of a QUERY_AVAILABILITY
// request: a facility name followed by zero or more day-of-week values
// filling the rest of the payload.
func DecodeQueryAvailability(payload []byte) (QueryAvailabilityRequest, error) {
	r := &reader{buf: payload}
	req := QueryAvailabilityRequest{FacilityName: r.string()}
	for r.err == nil && r.remaining() > 0 {
		req.Days = append(req.Days, r.weekday())
	}
	if r.err != nil {
		return QueryAvailabilityRequest{}, r.err
	}
	return req, nil
}

func DecodeBookFacility(payload []byte) (BookFacilityRequest, error) {
	r := &reader{buf: payload}
	req := BookFacilityRequest{
		FacilityName: r.string(),
		Start:        r.weekTime(),
		End:          r.weekTime(),
	}
	if r.err == nil && r.remaining() > 0 {
		r.fail("%d trailing bytes", r.remaining())
	}
	if r.err != nil {
		return BookFacilityRequest{}, r.err
	}
	return req, nil
}

func DecodeChangeBooking(payload []byte) (ChangeBookingRequest, error) {
	id, minutes, err := decodeIDAndMinutes(payload)
	if err != nil {
		return ChangeBookingRequest{}, err
	}
	return ChangeBookingRequest{ConfirmationID: id, OffsetMinutes: minutes}, nil
}

func DecodeExtendBooking(payload []byte) (ExtendBookingRequest, error) {
	id, minutes, err := decodeIDAndMinutes(payload)
	if err != nil {
		return ExtendBookingRequest{}, err
	}
	return ExtendBookingRequest{ConfirmationID: id, ExtendMinutes: minutes}, nil
}

func decodeIDAndMinutes(payload []byte) (string, int32, error) {
	r := &reader{buf: payload}
	id := r.string()
	minutes := r.int32()
	if r.err == nil && r.remaining() > 0 {
		r.fail("%d trailing bytes", r.remaining())
	}
	if r.err != nil {
		return "", 0, r.err
	}
	return id, minutes, nil
}

func DecodeMonitorAvailability(payload []byte) (MonitorAvailabilityRequest, error) {
	r := &reader{buf: payload}
	req := MonitorAvailabilityRequest{
		FacilityName:    r.string(),
		IntervalMinutes: r.int32(),
	}
	if r.err == nil && r.remaining() > 0 {
		r.fail("%d trailing bytes", r.remaining())
	}
	if r.err != nil {
		return MonitorAvailabilityRequest{}, r.err
	}
	return req, nil
}

// DecodeReply decodes a full reply message (header plus text payload).
func DecodeReply(buf []byte) (Reply, error) {
	h, payload, err := SplitMessage(buf)
	if err != nil {
		return Reply{}, err
	}
	return Reply{RequestID: h.RequestID, Op: h.Op, Payload: string(payload)}, nil
}

// DecodeAvailabilityUpdate decodes the payload of a monitor push.
func DecodeAvailabilityUpdate(payload []byte) (AvailabilityUpdate, error) {
	r := &reader{buf: payload}
	name := r.string()
	if r.err != nil {
		return AvailabilityUpdate{}, r.err
	}
	return AvailabilityUpdate{FacilityName: name, Grid: string(payload[r.off:])}, nil
}

package protocol

import (
	"fmt"
	"time"
)

// Header is the fixed 7-byte prefix of every message.
type Header struct {
	RequestID  int32
	Op         OpCode
	PayloadLen uint16
}

// WeekTime is a recurring weekly instant: day-of-week plus wall-clock hour
// and minute. The wire carries no calendar date.
type WeekTime struct {
	Day    time.Weekday
	Hour   int
	Minute int
}

// Occurrence projects the weekly time onto the next-or-same occurrence of its
// weekday relative to now, at second and sub-second precision zero. When now
// already falls on the weekday the same day is used even if the wall time has
// passed; callers that care reject past instants themselves.
func (w WeekTime) Occurrence(now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), w.Hour, w.Minute, 0, 0, now.Location())
	days := (int(w.Day) - int(now.Weekday()) + 7) % 7
	return t.AddDate(0, 0, days)
}

func (w WeekTime) String() string {
	return fmt.Sprintf("%s %02d:%02d", w.Day, w.Hour, w.Minute)
}

// QueryAvailabilityRequest asks for a facility's occupancy on the given days.
// An empty day list is legal and yields only the availability heading.
type QueryAvailabilityRequest struct {
	FacilityName string
	Days         []time.Weekday
}

type BookFacilityRequest struct {
	FacilityName string
	Start        WeekTime
	End          WeekTime
}

type ChangeBookingRequest struct {
	ConfirmationID string
	OffsetMinutes  int32
}

type ExtendBookingRequest struct {
	ConfirmationID string
	ExtendMinutes  int32
}

type MonitorAvailabilityRequest struct {
	FacilityName    string
	IntervalMinutes int32
}

// Reply is the single envelope all synchronous replies share: the request's
// header echoed back with a human-readable UTF-8 payload.
type Reply struct {
	RequestID int32
	Op        OpCode
	Payload   string
}

// AvailabilityUpdate is the server-initiated push sent to monitors. It reuses
// OpMonitorAvailability with RequestID = PushRequestID.
type AvailabilityUpdate struct {
	FacilityName string
	Grid         string
}

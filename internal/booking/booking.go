package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Booking is an active reservation of a facility. Identity is the generated
// id; change and extend rewrite the times in place and never replace it.
type Booking struct {
	ID           uuid.UUID
	FacilityName string
	Start        time.Time
	End          time.Time
}

func newBooking(facilityName string, start, end time.Time) *Booking {
	return &Booking{
		ID:           uuid.New(),
		FacilityName: facilityName,
		Start:        start,
		End:          end,
	}
}

// ConfirmationID is the externally visible identifier handed to the client,
// the canonical string form of the booking id.
func (b *Booking) ConfirmationID() string {
	return b.ID.String()
}

// Slot derives the booking's weekly time slot.
func (b *Booking) Slot() TimeSlot {
	return TimeSlot{
		Day:         b.Start.Weekday(),
		StartHour:   b.Start.Hour(),
		StartMinute: b.Start.Minute(),
		EndHour:     b.End.Hour(),
		EndMinute:   b.End.Minute(),
	}
}

// TimeSlot is a same-day time range at minute precision, derived from a
// booking or a candidate request rather than stored.
type TimeSlot struct {
	Day         time.Weekday
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

// Overlaps reports whether two slots intersect. Slots on different days never
// overlap; on the same day the usual half-open interval test applies, so a
// slot ending 10:00 does not overlap one starting 10:00 at minute precision.
// Note the hour grid is stricter: both slots occupy the 10 o'clock cell.
func (s TimeSlot) Overlaps(other TimeSlot) bool {
	if s.Day != other.Day {
		return false
	}
	sStart, sEnd := s.StartHour*60+s.StartMinute, s.EndHour*60+s.EndMinute
	oStart, oEnd := other.StartHour*60+other.StartMinute, other.EndHour*60+other.EndMinute
	return sStart < oEnd && oStart < sEnd
}

func (s TimeSlot) String() string {
	return fmt.Sprintf("%s %02d:%02d-%02d:%02d", s.Day, s.StartHour, s.StartMinute, s.EndHour, s.EndMinute)
}

// Facility is one bookable resource. The set of facilities is fixed for the
// process lifetime; Name preserves the display casing while directory lookup
// is case-insensitive.
type Facility struct {
	Name string
	Grid *AvailabilityGrid
}

func newFacility(name string) *Facility {
	return &Facility{Name: name, Grid: NewAvailabilityGrid()}
}

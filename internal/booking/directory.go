package booking

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Directory owns every facility and active booking. All mutation goes
// through it under one lock: the receive loop is sequential, but the
// notification pump and expiry sweep read concurrently with it.
type Directory struct {
	mu         sync.RWMutex
	facilities map[string]*Facility // keyed by lower-case name
	bookings   map[uuid.UUID]*Booking
	now        func() time.Time
}

// NewDirectory seeds the fixed facility set. The clock is injectable for
// tests; pass nil for time.Now.
func NewDirectory(now func() time.Time, names ...string) *Directory {
	if now == nil {
		now = time.Now
	}
	d := &Directory{
		facilities: make(map[string]*Facility, len(names)),
		bookings:   make(map[uuid.UUID]*Booking),
		now:        now,
	}
	for _, name := range names {
		d.facilities[strings.ToLower(name)] = newFacility(name)
	}
	return d
}

// Facility resolves a name case-insensitively.
func (d *Directory) Facility(name string) (*Facility, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.facilityLocked(name)
}

func (d *Directory) facilityLocked(name string) (*Facility, error) {
	f, ok := d.facilities[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFacilityNotFound, name)
	}
	return f, nil
}

// IsAvailable reports whether every hour cell covered by the range is free.
func (d *Directory) IsAvailable(name string, start, end time.Time) (bool, error) {
	if err := validateRange(start, end); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, err := d.facilityLocked(name)
	if err != nil {
		return false, err
	}
	return f.Grid.RangeFree(start, end), nil
}

// Book reserves the range and returns the new booking. The range must lie on
// a single weekday with start strictly before end.
func (d *Directory) Book(name string, start, end time.Time) (*Booking, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.facilityLocked(name)
	if err != nil {
		return nil, err
	}
	if !f.Grid.RangeFree(start, end) {
		return nil, fmt.Errorf("%w: %s %s", ErrSlotUnavailable, f.Name, slotOf(start, end))
	}
	b := newBooking(f.Name, start, end)
	f.Grid.MarkBooked(start, end)
	d.bookings[b.ID] = b
	return b, nil
}

// Change shifts both endpoints of the booking by the same offset. It returns
// the updated booking so callers can report the facility affected.
func (d *Directory) Change(id uuid.UUID, offset time.Duration) (*Booking, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}
	if err := d.modifyLocked(b, b.Start.Add(offset), b.End.Add(offset)); err != nil {
		return nil, err
	}
	return b, nil
}

// Extend moves only the end of the booking, leaving the start untouched.
func (d *Directory) Extend(id uuid.UUID, amount time.Duration) (*Booking, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}
	if err := d.modifyLocked(b, b.Start, b.End.Add(amount)); err != nil {
		return nil, err
	}
	return b, nil
}

// modifyLocked is the vacate-check-commit-or-restore protocol. The booking's
// current cells are released before testing the new range because a plain
// check would treat the booking's own occupancy as a conflict with itself
// whenever the ranges overlap. On failure the grid and the booking are
// restored exactly as they were.
func (d *Directory) modifyLocked(b *Booking, newStart, newEnd time.Time) error {
	if newStart.Before(d.now()) {
		return fmt.Errorf("%w: new start %s", ErrPastTime, newStart.Format(time.RFC3339))
	}
	if err := validateRange(newStart, newEnd); err != nil {
		return err
	}
	f, err := d.facilityLocked(b.FacilityName)
	if err != nil {
		return err
	}

	f.Grid.MarkFree(b.Start, b.End)
	if !f.Grid.RangeFree(newStart, newEnd) {
		f.Grid.MarkBooked(b.Start, b.End)
		return fmt.Errorf("%w: %s %s", ErrSlotUnavailable, f.Name, slotOf(newStart, newEnd))
	}
	b.Start, b.End = newStart, newEnd
	f.Grid.MarkBooked(newStart, newEnd)
	return nil
}

// Lookup resolves a confirmation id to its booking.
func (d *Directory) Lookup(id uuid.UUID) (*Booking, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}
	return b, nil
}

// Status is a read-only snapshot of the directory's size.
func (d *Directory) Status() (facilities, bookings int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.facilities), len(d.bookings)
}

// RenderAvailability produces the query reply text for the requested days.
func (d *Directory) RenderAvailability(name string, days []time.Weekday) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, err := d.facilityLocked(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Availability for %s:\n%s", f.Name, f.Grid.Render(days)), nil
}

// Snapshot produces the full-week grid text pushed to monitors.
func (d *Directory) Snapshot(name string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, err := d.facilityLocked(name)
	if err != nil {
		return "", err
	}
	return f.Grid.Snapshot(), nil
}

// validateRange enforces the ordering and same-weekday constraints before
// any grid mutation. A booking never spans midnight.
func validateRange(start, end time.Time) error {
	if !start.Before(end) {
		return fmt.Errorf("%w: start %s not before end %s",
			ErrInvalidRange, start.Format("Mon 15:04"), end.Format("Mon 15:04"))
	}
	if start.Weekday() != end.Weekday() || end.Sub(start) >= 24*time.Hour {
		return fmt.Errorf("%w: booking cannot span midnight", ErrInvalidRange)
	}
	return nil
}

func slotOf(start, end time.Time) TimeSlot {
	return TimeSlot{
		Day:         start.Weekday(),
		StartHour:   start.Hour(),
		StartMinute: start.Minute(),
		EndHour:     end.Hour(),
		EndMinute:   end.Minute(),
	}
}

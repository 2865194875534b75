package booking

import (
	"fmt"
	"strings"
	"time"
)

// week orders the rows of the grid and the lines of its renderings.
var week = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// AvailabilityGrid is a per-facility occupancy table keyed by weekday and
// hour-of-day. A cell is true while the hour is free. Booking a range marks
// every hour from the start hour to the end hour inclusive, so two bookings
// sharing an hour boundary conflict.
type AvailabilityGrid struct {
	free [7][24]bool
}

func NewAvailabilityGrid() *AvailabilityGrid {
	g := &AvailabilityGrid{}
	for d := range g.free {
		for h := range g.free[d] {
			g.free[d][h] = true
		}
	}
	return g
}

// row maps a weekday to its grid row, Monday first.
func row(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// IsFree reports whether a single hour cell is unoccupied.
func (g *AvailabilityGrid) IsFree(day time.Weekday, hour int) bool {
	return g.free[row(day)][hour]
}

// RangeFree reports whether every hour from start to end inclusive is free.
// Callers guarantee start and end share a weekday.
func (g *AvailabilityGrid) RangeFree(start, end time.Time) bool {
	r := row(start.Weekday())
	for h := start.Hour(); h <= end.Hour(); h++ {
		if !g.free[r][h] {
			return false
		}
	}
	return true
}

// MarkBooked occupies every hour of the range inclusive of both endpoints.
func (g *AvailabilityGrid) MarkBooked(start, end time.Time) {
	g.set(start, end, false)
}

// MarkFree reverses MarkBooked for the same range.
func (g *AvailabilityGrid) MarkFree(start, end time.Time) {
	g.set(start, end, true)
}

func (g *AvailabilityGrid) set(start, end time.Time, free bool) {
	r := row(start.Weekday())
	for h := start.Hour(); h <= end.Hour(); h++ {
		g.free[r][h] = free
	}
}

// Render produces the per-day O/X table for the requested days: a line naming
// the day, a zero-padded hour header and a row marking each hour O (open) or
// X (booked). An empty day list renders nothing.
func (g *AvailabilityGrid) Render(days []time.Weekday) string {
	var b strings.Builder
	for _, day := range days {
		fmt.Fprintf(&b, "%s:\n", day)
		b.WriteString("     ")
		for h := 0; h < 24; h++ {
			fmt.Fprintf(&b, "%02d ", h)
		}
		b.WriteString("\n     ")
		for h := 0; h < 24; h++ {
			if g.free[row(day)][h] {
				b.WriteString("O ")
			} else {
				b.WriteString("X ")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Snapshot renders the whole week compactly, one row per day. Used for
// monitor pushes.
func (g *AvailabilityGrid) Snapshot() string {
	var b strings.Builder
	b.WriteString("     ")
	for h := 0; h < 24; h++ {
		fmt.Fprintf(&b, "%02d ", h)
	}
	b.WriteString("\n")
	for _, day := range week {
		fmt.Fprintf(&b, "%s: ", day.String()[:3])
		for h := 0; h < 24; h++ {
			if g.free[row(day)][h] {
				b.WriteString("O ")
			} else {
				b.WriteString("X ")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

package booking

import "errors"

var (
	ErrFacilityNotFound = errors.New("facility not found")
	ErrSlotUnavailable  = errors.New("slot unavailable")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrInvalidRange     = errors.New("invalid time range")
	ErrPastTime         = errors.New("time already elapsed")
)

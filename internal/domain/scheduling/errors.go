package scheduling

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrScheduleNotFound  = errors.New("schedule not found")
	ErrDuplicateSchedule = errors.New("a schedule already exists for this doctor and date")
	ErrCapacityConflict  = errors.New("capacity would drop below current bookings")
	ErrHasActiveBookings = errors.New("schedule has active bookings")
	ErrNotOwner          = errors.New("schedule belongs to another doctor")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrSlotFull          = errors.New("slot is full")
)

package repository

import "errors"

var (
	ErrReminderNotFound = errors.New("reminder not found")
	// ErrWriteConflict means a conditional write lost to a concurrent writer.
	ErrWriteConflict = errors.New("reminder modified concurrently")
)

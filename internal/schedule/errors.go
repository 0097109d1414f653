package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrValidation = errors.New("schedule: validation failed")
	ErrNotFound   = errors.New("schedule: not found")
	ErrConflict   = errors.New("schedule: assignment conflict")
)

// ConflictError names the staff member and existing shift that block a
// creation request. Unwraps to ErrConflict.
type ConflictError struct {
	StaffID uuid.UUID
	ShiftID uuid.UUID
	Start   time.Time
	End     time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("staff %s already assigned to shift %s (%s to %s)",
		e.StaffID, e.ShiftID,
		e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

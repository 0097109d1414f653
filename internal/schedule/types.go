package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ShiftTemplate is the input to a series creation request. The recurrence
// rule expands the [Start, End) interval into occurrences; StaffIDs are the
// org_staff identities assigned to every occurrence.
type ShiftTemplate struct {
	OrganizationID uuid.UUID
	LocationID     uuid.UUID
	Start          time.Time
	End            time.Time
	RRule          string
	Notes          string
	ExtendedProps  map[string]any
	StaffIDs       []uuid.UUID
}

// Shift is one persisted occurrence. The recurrence rule is kept as
// provenance only and is never re-evaluated.
type Shift struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	LocationID     uuid.UUID      `json:"location_id"`
	LocationName   string         `json:"location_name,omitempty"`
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	RRule          string         `json:"rrule,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	ExtendedProps  map[string]any `json:"extended_props,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AssignedStaff is one roster annotation on an admin-view shift.
type AssignedStaff struct {
	StaffID   uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Title     string    `json:"title,omitempty"`
}

// RosterShift is the admin view projection: the shift plus its full
// assignment list and a derived coloring flag.
type RosterShift struct {
	Shift
	Assigned []AssignedStaff `json:"assigned"`
	Color    string          `json:"color"`
}

// Window bounds a roster query. Zero values leave the side unbounded.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether a [start, end) interval intersects the window.
func (w Window) Contains(start, end time.Time) bool {
	if !w.From.IsZero() && !end.After(w.From) {
		return false
	}
	if !w.To.IsZero() && !start.Before(w.To) {
		return false
	}
	return true
}

// CreateResult reports the outcome of a series creation.
type CreateResult struct {
	Created  int
	ShiftIDs []uuid.UUID
}

// Colors for the admin roster view: derived from assignment state, never
// stored.
const (
	ColorAssigned   = "#3788d8"
	ColorUnassigned = "#d0d0d0"
)

// RosterColor derives the admin-view coloring flag.
func RosterColor(assigned int) string {
	if assigned > 0 {
		return ColorAssigned
	}
	return ColorUnassigned
}

// Service defines the scheduling operations. Creation is atomic at the
// request level: either every occurrence and every assignment lands, or
// none do.
type Service interface {
	CreateShiftSeries(ctx context.Context, tmpl ShiftTemplate) (CreateResult, error)
	OrgShifts(ctx context.Context, orgID uuid.UUID, win Window) ([]RosterShift, error)
	StaffShifts(ctx context.Context, orgID, staffID uuid.UUID, win Window) ([]Shift, error)
}

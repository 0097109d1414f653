package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// staffRecord backs validation and roster annotation in the in-memory store.
type staffRecord struct {
	orgID     uuid.UUID
	firstName string
	lastName  string
	title     string
}

// InMemory implements Service with in-process concurrency safety. The
// durable implementation lives in internal/store/pg; this one backs handler
// tests and local development.
type InMemory struct {
	mu          sync.RWMutex
	shifts      map[uuid.UUID]*Shift
	assignments map[uuid.UUID][]uuid.UUID // staff id -> shift ids
	staff       map[uuid.UUID]staffRecord
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty scheduling store.
func NewInMemory() *InMemory {
	return &InMemory{
		shifts:      make(map[uuid.UUID]*Shift),
		assignments: make(map[uuid.UUID][]uuid.UUID),
		staff:       make(map[uuid.UUID]staffRecord),
	}
}

// AddStaff registers a staff member so assignment validation and roster
// annotation can resolve them.
func (s *InMemory) AddStaff(orgID, staffID uuid.UUID, firstName, lastName, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[staffID] = staffRecord{orgID: orgID, firstName: firstName, lastName: lastName, title: title}
}

// CreateShiftSeries expands the template and commits every shift and
// assignment, or nothing. Validation happens before any mutation so a
// failing occurrence never leaves a partial series behind.
func (s *InMemory) CreateShiftSeries(ctx context.Context, tmpl ShiftTemplate) (CreateResult, error) {
	occurrences, err := ExpandRecurrence(tmpl.RRule, tmpl.Start, tmpl.End)
	if err != nil {
		return CreateResult{}, err
	}
	if len(occurrences) == 0 {
		return CreateResult{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, staffID := range tmpl.StaffIDs {
		rec, ok := s.staff[staffID]
		if !ok || rec.orgID != tmpl.OrganizationID {
			return CreateResult{}, fmt.Errorf("%w: staff %s is not a member of organization %s",
				ErrValidation, staffID, tmpl.OrganizationID)
		}
	}

	// Stage the whole batch, then conflict-check every assignment against
	// existing rows and earlier siblings before anything is committed. A
	// single conflicting occurrence invalidates the entire series.
	now := time.Now().UTC()
	staged := make([]*Shift, 0, len(occurrences))
	for _, occ := range occurrences {
		staged = append(staged, &Shift{
			ID:             uuid.New(),
			OrganizationID: tmpl.OrganizationID,
			LocationID:     tmpl.LocationID,
			Start:          occ.Start,
			End:            occ.End,
			RRule:          tmpl.RRule,
			Notes:          tmpl.Notes,
			ExtendedProps:  tmpl.ExtendedProps,
			CreatedAt:      now,
		})
	}
	for i, shift := range staged {
		for _, staffID := range tmpl.StaffIDs {
			if conflict := s.findOverlap(staffID, shift.Start, shift.End); conflict != nil {
				return CreateResult{}, conflict
			}
			for _, sibling := range staged[:i] {
				if overlaps(sibling.Start, sibling.End, shift.Start, shift.End) {
					return CreateResult{}, &ConflictError{
						StaffID: staffID,
						ShiftID: sibling.ID,
						Start:   sibling.Start,
						End:     sibling.End,
					}
				}
			}
		}
	}

	result := CreateResult{ShiftIDs: make([]uuid.UUID, 0, len(staged))}
	for _, shift := range staged {
		s.shifts[shift.ID] = shift
		for _, staffID := range tmpl.StaffIDs {
			s.assignments[staffID] = append(s.assignments[staffID], shift.ID)
		}
		result.ShiftIDs = append(result.ShiftIDs, shift.ID)
	}
	result.Created = len(result.ShiftIDs)
	return result, nil
}

// OrgShifts returns the admin view: every shift in the window annotated
// with its full assignment list.
func (s *InMemory) OrgShifts(ctx context.Context, orgID uuid.UUID, win Window) ([]RosterShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byShift := make(map[uuid.UUID][]AssignedStaff)
	for staffID, shiftIDs := range s.assignments {
		rec := s.staff[staffID]
		for _, shiftID := range shiftIDs {
			byShift[shiftID] = append(byShift[shiftID], AssignedStaff{
				StaffID:   staffID,
				FirstName: rec.firstName,
				LastName:  rec.lastName,
				Title:     rec.title,
			})
		}
	}

	var result []RosterShift
	for _, shift := range s.shifts {
		if shift.OrganizationID != orgID || !win.Contains(shift.Start, shift.End) {
			continue
		}
		assigned := byShift[shift.ID]
		if assigned == nil {
			assigned = []AssignedStaff{}
		}
		sort.Slice(assigned, func(i, j int) bool {
			return assigned[i].StaffID.String() < assigned[j].StaffID.String()
		})
		result = append(result, RosterShift{
			Shift:    *shift,
			Assigned: assigned,
			Color:    RosterColor(len(assigned)),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start.Before(result[j].Start) })
	return result, nil
}

// StaffShifts returns the self view: only shifts the staff member is
// assigned to, within the requesting organization.
func (s *InMemory) StaffShifts(ctx context.Context, orgID, staffID uuid.UUID, win Window) ([]Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Shift
	for _, shiftID := range s.assignments[staffID] {
		shift, ok := s.shifts[shiftID]
		if !ok || shift.OrganizationID != orgID || !win.Contains(shift.Start, shift.End) {
			continue
		}
		result = append(result, *shift)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start.Before(result[j].Start) })
	return result, nil
}

func (s *InMemory) findOverlap(staffID uuid.UUID, start, end time.Time) *ConflictError {
	for _, shiftID := range s.assignments[staffID] {
		existing, ok := s.shifts[shiftID]
		if !ok {
			continue
		}
		if overlaps(existing.Start, existing.End, start, end) {
			return &ConflictError{
				StaffID: staffID,
				ShiftID: existing.ID,
				Start:   existing.Start,
				End:     existing.End,
			}
		}
	}
	return nil
}

// overlaps reports whether two half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

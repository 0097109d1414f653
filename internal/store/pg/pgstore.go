package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"rosterd.org/internal/schedule"
)

// Store implements schedule.Service and auth.Directory on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ schedule.Service = (*Store)(nil)

// Open connects with the bounded pool the service runs against. A request
// that cannot acquire a connection waits (database/sql semantics) until its
// context expires.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle; used by tests.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// CreateShiftSeries materializes every occurrence of the template and its
// staff assignments inside a single transaction. Conflict detection runs in
// the same transaction behind per-staff advisory locks, so two concurrent
// requests cannot both assign the same staff member to overlapping shifts.
func (s *Store) CreateShiftSeries(ctx context.Context, tmpl schedule.ShiftTemplate) (schedule.CreateResult, error) {
	occurrences, err := schedule.ExpandRecurrence(tmpl.RRule, tmpl.Start, tmpl.End)
	if err != nil {
		return schedule.CreateResult{}, err
	}
	if len(occurrences) == 0 {
		return schedule.CreateResult{}, nil
	}

	props, err := json.Marshal(tmpl.ExtendedProps)
	if err != nil {
		return schedule.CreateResult{}, fmt.Errorf("%w: extended_props: %v", schedule.ErrValidation, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schedule.CreateResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize against concurrent requests touching the same staff.
	// Sorted lock order avoids deadlocks between overlapping staff sets.
	for _, staffID := range sortedIDs(tmpl.StaffIDs) {
		if _, err := tx.ExecContext(ctx,
			`select pg_advisory_xact_lock(hashtextextended($1::text, 0))`, staffID); err != nil {
			return schedule.CreateResult{}, err
		}
	}

	for _, staffID := range tmpl.StaffIDs {
		var one int
		err := tx.QueryRowContext(ctx,
			`select 1 from org_staff where id=$1 and organization_id=$2`,
			staffID, tmpl.OrganizationID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return schedule.CreateResult{}, fmt.Errorf("%w: staff %s is not a member of organization %s",
				schedule.ErrValidation, staffID, tmpl.OrganizationID)
		}
		if err != nil {
			return schedule.CreateResult{}, err
		}
	}

	result := schedule.CreateResult{ShiftIDs: make([]uuid.UUID, 0, len(occurrences))}
	for _, occ := range occurrences {
		shiftID := uuid.New()
		if _, err := tx.ExecContext(ctx, `
			insert into shifts(id, organization_id, location_id, start_at, end_at, rrule, notes, extended_props)
			values ($1,$2,$3,$4,$5,nullif($6,''),$7,$8)
		`, shiftID, tmpl.OrganizationID, tmpl.LocationID, occ.Start, occ.End, tmpl.RRule, tmpl.Notes, props); err != nil {
			return schedule.CreateResult{}, err
		}

		for _, staffID := range tmpl.StaffIDs {
			if conflictErr, err := findOverlap(ctx, tx, staffID, occ.Start, occ.End, shiftID); err != nil {
				return schedule.CreateResult{}, err
			} else if conflictErr != nil {
				return schedule.CreateResult{}, conflictErr
			}
			if _, err := tx.ExecContext(ctx,
				`insert into shift_org_staff(shift_id, org_staff_id) values ($1,$2)`,
				shiftID, staffID); err != nil {
				return schedule.CreateResult{}, err
			}
		}
		result.ShiftIDs = append(result.ShiftIDs, shiftID)
	}

	if err := tx.Commit(); err != nil {
		return schedule.CreateResult{}, err
	}
	result.Created = len(result.ShiftIDs)
	return result, nil
}

// findOverlap looks for any existing assignment of the staff member whose
// shift intersects [start, end). Rows inserted earlier in the same
// transaction are visible here, so a series that overlaps itself conflicts
// too. The shift being built is excluded.
func findOverlap(ctx context.Context, tx *sql.Tx, staffID uuid.UUID, start, end time.Time, excludeShift uuid.UUID) (*schedule.ConflictError, error) {
	var (
		shiftID        uuid.UUID
		exStart, exEnd time.Time
	)
	err := tx.QueryRowContext(ctx, `
		select s.id, s.start_at, s.end_at
		from shifts s
		join shift_org_staff sos on sos.shift_id = s.id
		where sos.org_staff_id = $1
		  and s.id <> $4
		  and s.start_at < $3
		  and s.end_at > $2
		limit 1
	`, staffID, start, end, excludeShift).Scan(&shiftID, &exStart, &exEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &schedule.ConflictError{
		StaffID: staffID,
		ShiftID: shiftID,
		Start:   exStart,
		End:     exEnd,
	}, nil
}

// OrgShifts returns the admin roster: every shift of the organization in
// the window with its full assignment list.
func (s *Store) OrgShifts(ctx context.Context, orgID uuid.UUID, win schedule.Window) ([]schedule.RosterShift, error) {
	from, to := windowArgs(win)
	rows, err := s.db.QueryContext(ctx, `
		select s.id, s.organization_id, s.location_id, l.name,
		       s.start_at, s.end_at, coalesce(s.rrule,''), s.notes, s.extended_props, s.created_at
		from shifts s
		join locations l on l.id = s.location_id
		where s.organization_id = $1
		  and ($2::timestamptz is null or s.end_at > $2)
		  and ($3::timestamptz is null or s.start_at < $3)
		order by s.start_at asc
	`, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		result  []schedule.RosterShift
		indexOf = make(map[uuid.UUID]int)
	)
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		indexOf[shift.ID] = len(result)
		result = append(result, schedule.RosterShift{Shift: shift, Assigned: []schedule.AssignedStaff{}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	assignRows, err := s.db.QueryContext(ctx, `
		select sos.shift_id, os.id, u.first_name, u.last_name, coalesce(os.title,'')
		from shift_org_staff sos
		join shifts s on s.id = sos.shift_id
		join org_staff os on os.id = sos.org_staff_id
		join users u on u.id = os.user_id
		where s.organization_id = $1
		  and ($2::timestamptz is null or s.end_at > $2)
		  and ($3::timestamptz is null or s.start_at < $3)
		order by os.id
	`, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer assignRows.Close()

	for assignRows.Next() {
		var (
			shiftID uuid.UUID
			staff   schedule.AssignedStaff
		)
		if err := assignRows.Scan(&shiftID, &staff.StaffID, &staff.FirstName, &staff.LastName, &staff.Title); err != nil {
			return nil, err
		}
		if i, ok := indexOf[shiftID]; ok {
			result[i].Assigned = append(result[i].Assigned, staff)
		}
	}
	if err := assignRows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		result[i].Color = schedule.RosterColor(len(result[i].Assigned))
	}
	return result, nil
}

// StaffShifts returns the self view: only shifts where the staff identity
// holds an assignment, restricted to one organization.
func (s *Store) StaffShifts(ctx context.Context, orgID, staffID uuid.UUID, win schedule.Window) ([]schedule.Shift, error) {
	from, to := windowArgs(win)
	rows, err := s.db.QueryContext(ctx, `
		select s.id, s.organization_id, s.location_id, l.name,
		       s.start_at, s.end_at, coalesce(s.rrule,''), s.notes, s.extended_props, s.created_at
		from shifts s
		join shift_org_staff sos on sos.shift_id = s.id
		join locations l on l.id = s.location_id
		where sos.org_staff_id = $1
		  and s.organization_id = $2
		  and ($3::timestamptz is null or s.end_at > $3)
		  and ($4::timestamptz is null or s.start_at < $4)
		order by s.start_at asc
	`, staffID, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []schedule.Shift
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, shift)
	}
	return result, rows.Err()
}

func scanShift(rows *sql.Rows) (schedule.Shift, error) {
	var (
		shift schedule.Shift
		props []byte
	)
	if err := rows.Scan(&shift.ID, &shift.OrganizationID, &shift.LocationID, &shift.LocationName,
		&shift.Start, &shift.End, &shift.RRule, &shift.Notes, &props, &shift.CreatedAt); err != nil {
		return schedule.Shift{}, err
	}
	if len(props) > 0 {
		_ = json.Unmarshal(props, &shift.ExtendedProps)
	}
	return shift, nil
}

func windowArgs(win schedule.Window) (from, to sql.NullTime) {
	if !win.From.IsZero() {
		from = sql.NullTime{Time: win.From, Valid: true}
	}
	if !win.To.IsZero() {
		to = sql.NullTime{Time: win.To, Valid: true}
	}
	return from, to
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

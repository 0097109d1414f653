package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"rosterd.org/internal/auth"
)

var _ auth.Directory = (*Store)(nil)

const pgUniqueViolation = "23505"

// CreateUser inserts a registered account. Duplicate emails fail with
// auth.ErrAlreadyExists.
func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, email, first_name, last_name, password_hash)
		values ($1,$2,$3,$4,$5)
	`, u.ID, strings.ToLower(u.Email), u.FirstName, u.LastName, u.PasswordHash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return auth.ErrAlreadyExists
	}
	return err
}

func (s *Store) FindUser(ctx context.Context, id uuid.UUID) (auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, email, first_name, last_name, password_hash, created_at
		from users where id=$1
	`, id))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, email, first_name, last_name, password_hash, created_at
		from users where email=$1
	`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) scanUser(row *sql.Row) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// Membership is the gate's single (organization_id, user_id) lookup. The
// admin capability derives from admin_assigned_at.
func (s *Store) Membership(ctx context.Context, orgID, userID uuid.UUID) (auth.Membership, error) {
	var (
		m               auth.Membership
		title           sql.NullString
		adminAssignedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, user_id, title, admin_assigned_at, created_at
		from org_staff
		where organization_id=$1 and user_id=$2
	`, orgID, userID).Scan(&m.StaffID, &m.OrganizationID, &m.UserID, &title, &adminAssignedAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Membership{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Membership{}, err
	}
	if title.Valid {
		m.Title = title.String
	}
	if adminAssignedAt.Valid {
		t := adminAssignedAt.Time
		m.AdminAssignedAt = &t
		m.Admin = true
	}
	return m, nil
}

// OrgProfile loads the organization detail view: the org row, its
// locations and its staff roster.
func (s *Store) OrgProfile(ctx context.Context, orgID uuid.UUID) (auth.OrgProfile, error) {
	var profile auth.OrgProfile
	err := s.db.QueryRowContext(ctx,
		`select id, name, created_at from organizations where id=$1`, orgID,
	).Scan(&profile.ID, &profile.Name, &profile.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.OrgProfile{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.OrgProfile{}, err
	}

	locRows, err := s.db.QueryContext(ctx, `
		select l.id, l.name, coalesce(l.address,'')
		from locations l
		join org_locations ol on ol.location_id = l.id
		where ol.organization_id = $1
		order by l.name
	`, orgID)
	if err != nil {
		return auth.OrgProfile{}, err
	}
	defer locRows.Close()

	profile.Locations = []auth.Location{}
	for locRows.Next() {
		var loc auth.Location
		if err := locRows.Scan(&loc.ID, &loc.Name, &loc.Address); err != nil {
			return auth.OrgProfile{}, err
		}
		profile.Locations = append(profile.Locations, loc)
	}
	if err := locRows.Err(); err != nil {
		return auth.OrgProfile{}, err
	}

	staffRows, err := s.db.QueryContext(ctx, `
		select os.id, coalesce(os.title,''), u.first_name, u.last_name
		from org_staff os
		join users u on u.id = os.user_id
		where os.organization_id = $1
		order by u.last_name, u.first_name
	`, orgID)
	if err != nil {
		return auth.OrgProfile{}, err
	}
	defer staffRows.Close()

	profile.Staff = []auth.StaffMember{}
	for staffRows.Next() {
		var member auth.StaffMember
		if err := staffRows.Scan(&member.StaffID, &member.Title, &member.FirstName, &member.LastName); err != nil {
			return auth.OrgProfile{}, err
		}
		profile.Staff = append(profile.Staff, member)
	}
	return profile, staffRows.Err()
}

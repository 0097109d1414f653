package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a registered account. Identity is immutable once created.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Membership is a principal's role facts within one organization. The admin
// capability derives from admin_assigned_at being set.
type Membership struct {
	StaffID         uuid.UUID  `json:"staff_id"`
	OrganizationID  uuid.UUID  `json:"organization_id"`
	UserID          uuid.UUID  `json:"user_id"`
	Title           string     `json:"title,omitempty"`
	Admin           bool       `json:"admin"`
	AdminAssignedAt *time.Time `json:"admin_assigned_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// StaffMember is one roster entry: a user's presence in an organization.
type StaffMember struct {
	StaffID   uuid.UUID `json:"id"`
	Title     string    `json:"title,omitempty"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

// Location is referenced by id within scheduling; owned externally.
type Location struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Address string    `json:"address,omitempty"`
}

// OrgProfile is the organization detail view: the org, its locations and
// its staff roster.
type OrgProfile struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"created_at"`
	Locations []Location    `json:"locations"`
	Staff     []StaffMember `json:"staff"`
}

// Directory is the user/org-staff collaborator boundary. The gate performs
// exactly one Membership lookup per org-scoped request; everything else here
// backs the supplemental registration/login and org detail endpoints.
type Directory interface {
	CreateUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, id uuid.UUID) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)

	// Membership resolves the principal's role facts in one organization.
	// Returns ErrNotFound when the principal is not a member.
	Membership(ctx context.Context, orgID, userID uuid.UUID) (Membership, error)

	// OrgProfile loads the organization detail view.
	OrgProfile(ctx context.Context, orgID uuid.UUID) (OrgProfile, error)
}

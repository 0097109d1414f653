package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"rosterd.org/internal/auth"
	"rosterd.org/internal/schedule"
)

type membershipKey struct {
	orgID  uuid.UUID
	userID uuid.UUID
}

// stubDirectory is an in-memory auth.Directory for handler tests.
type stubDirectory struct {
	users       map[uuid.UUID]auth.User
	byEmail     map[string]auth.User
	memberships map[membershipKey]auth.Membership
	profiles    map[uuid.UUID]auth.OrgProfile
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		users:       make(map[uuid.UUID]auth.User),
		byEmail:     make(map[string]auth.User),
		memberships: make(map[membershipKey]auth.Membership),
		profiles:    make(map[uuid.UUID]auth.OrgProfile),
	}
}

func (d *stubDirectory) CreateUser(_ context.Context, u *auth.User) error {
	if _, ok := d.byEmail[u.Email]; ok {
		return auth.ErrAlreadyExists
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now().UTC()
	d.users[u.ID] = *u
	d.byEmail[u.Email] = *u
	return nil
}

func (d *stubDirectory) FindUser(_ context.Context, id uuid.UUID) (auth.User, error) {
	u, ok := d.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (d *stubDirectory) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	u, ok := d.byEmail[email]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (d *stubDirectory) Membership(_ context.Context, orgID, userID uuid.UUID) (auth.Membership, error) {
	m, ok := d.memberships[membershipKey{orgID, userID}]
	if !ok {
		return auth.Membership{}, auth.ErrNotFound
	}
	return m, nil
}

func (d *stubDirectory) OrgProfile(_ context.Context, orgID uuid.UUID) (auth.OrgProfile, error) {
	p, ok := d.profiles[orgID]
	if !ok {
		return auth.OrgProfile{}, auth.ErrNotFound
	}
	return p, nil
}

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	tokens *auth.Service
	dir    *stubDirectory
	sched  *schedule.InMemory
	orgID  uuid.UUID
	locID  uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := auth.NewService("handler-test-secret")
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	dir := newStubDirectory()
	sched := schedule.NewInMemory()

	api := New(Config{
		Tokens:    tokens,
		Directory: dir,
		Schedule:  sched,
		Version:   "test",
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		t:      t,
		srv:    srv,
		tokens: tokens,
		dir:    dir,
		sched:  sched,
		orgID:  uuid.New(),
		locID:  uuid.New(),
	}
}

// addMember registers a staff identity with a token; admin controls the
// roster capability.
func (e *testEnv) addMember(first, last string, admin bool) (userID, staffID uuid.UUID, token string) {
	e.t.Helper()
	userID = uuid.New()
	staffID = uuid.New()
	m := auth.Membership{
		StaffID:        staffID,
		OrganizationID: e.orgID,
		UserID:         userID,
		Title:          "Staff",
		Admin:          admin,
	}
	if admin {
		now := time.Now().UTC()
		m.AdminAssignedAt = &now
	}
	e.dir.memberships[membershipKey{e.orgID, userID}] = m
	e.sched.AddStaff(e.orgID, staffID, first, last, m.Title)

	token, _, err := e.tokens.Issue(userID)
	if err != nil {
		e.t.Fatalf("issue token: %v", err)
	}
	return userID, staffID, token
}

func (e *testEnv) do(method, path, token string, body any) (*http.Response, map[string]any) {
	e.t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewBuffer(data)
	} else {
		payload = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, payload)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) doList(path, token string) (*http.Response, []map[string]any) {
	e.t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", token)
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	var items []map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&items)
	return resp, items
}

func shiftPath(orgID uuid.UUID) string {
	return fmt.Sprintf("/organizations/%s/shifts", orgID)
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(http.MethodPost, "/register", "", map[string]any{
		"email":      "dana@example.com",
		"password":   "correct-horse",
		"first_name": "Dana",
		"last_name":  "Reyes",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%v)", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("register: expected a token")
	}
	if _, err := env.tokens.Validate(token); err != nil {
		t.Fatalf("register token does not validate: %v", err)
	}

	// Same email again conflicts.
	resp, _ = env.do(http.MethodPost, "/register", "", map[string]any{
		"email":      "dana@example.com",
		"password":   "correct-horse",
		"first_name": "Dana",
		"last_name":  "Reyes",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", resp.StatusCode)
	}

	resp, _ = env.do(http.MethodPost, "/login", "", map[string]any{
		"email":    "dana@example.com",
		"password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", resp.StatusCode)
	}

	resp, body = env.do(http.MethodPost, "/login", "", map[string]any{
		"email":    "Dana@Example.com",
		"password": "correct-horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["token"] == "" || body["expires_at"] == "" {
		t.Fatalf("login: expected token and expires_at, got %v", body)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	for name, payload := range map[string]map[string]any{
		"missing email":  {"password": "correct-horse", "first_name": "A", "last_name": "B"},
		"bad email":      {"email": "not-an-email", "password": "correct-horse", "first_name": "A", "last_name": "B"},
		"short password": {"email": "a@example.com", "password": "short", "first_name": "A", "last_name": "B"},
		"missing names":  {"email": "a@example.com", "password": "correct-horse"},
	} {
		resp, _ := env.do(http.MethodPost, "/register", "", payload)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestCreateShiftsRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, staffID, memberToken := env.addMember("Pat", "Lau", false)

	resp, body := env.do(http.MethodPost, shiftPath(env.orgID), memberToken, map[string]any{
		"location_id":    env.locID.String(),
		"start_time":     "2024-04-15T09:00:00Z",
		"end_time":       "2024-04-15T17:00:00Z",
		"assigned_staff": []string{staffID.String()},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member create: expected 403, got %d (%v)", resp.StatusCode, body)
	}
}

func TestCreateShiftsWeeklySeries(t *testing.T) {
	env := newTestEnv(t)
	_, staffID, adminToken := env.addMember("Dana", "Reyes", true)

	resp, body := env.do(http.MethodPost, shiftPath(env.orgID), adminToken, map[string]any{
		"location_id":    env.locID.String(),
		"start_time":     "2024-04-15T09:00:00Z",
		"end_time":       "2024-04-15T17:00:00Z",
		"rrule":          "FREQ=WEEKLY;COUNT=3",
		"notes":          "front desk",
		"assigned_staff": []string{staffID.String()},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["message"] != "Successfully created 3 shifts" {
		t.Fatalf("unexpected message: %v", body["message"])
	}

	resp, items := env.doList(shiftPath(env.orgID), adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("roster: expected 200, got %d", resp.StatusCode)
	}
	if len(items) != 3 {
		t.Fatalf("roster: expected 3 shifts, got %d", len(items))
	}
	first := items[0]
	if first["color"] != schedule.ColorAssigned {
		t.Fatalf("expected assigned color, got %v", first["color"])
	}
	assigned, ok := first["assigned"].([]any)
	if !ok || len(assigned) != 1 {
		t.Fatalf("expected one assigned staff entry, got %v", first["assigned"])
	}
}

func TestCreateShiftsValidation(t *testing.T) {
	env := newTestEnv(t)
	_, _, adminToken := env.addMember("Dana", "Reyes", true)

	cases := map[string]map[string]any{
		"bad location": {
			"location_id": "nope",
			"start_time":  "2024-04-15T09:00:00Z",
			"end_time":    "2024-04-15T17:00:00Z",
		},
		"bad timestamp": {
			"location_id": env.locID.String(),
			"start_time":  "April 15th 9am",
			"end_time":    "2024-04-15T17:00:00Z",
		},
		"inverted interval": {
			"location_id": env.locID.String(),
			"start_time":  "2024-04-15T17:00:00Z",
			"end_time":    "2024-04-15T09:00:00Z",
		},
		"malformed rrule": {
			"location_id": env.locID.String(),
			"start_time":  "2024-04-15T09:00:00Z",
			"end_time":    "2024-04-15T17:00:00Z",
			"rrule":       "FREQ=FORTNIGHTLY",
		},
		"unknown staff": {
			"location_id":    env.locID.String(),
			"start_time":     "2024-04-15T09:00:00Z",
			"end_time":       "2024-04-15T17:00:00Z",
			"assigned_staff": []string{uuid.NewString()},
		},
	}
	for name, payload := range cases {
		resp, body := env.do(http.MethodPost, shiftPath(env.orgID), adminToken, payload)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d (%v)", name, resp.StatusCode, body)
		}
		if body["error"] == "" {
			t.Fatalf("%s: expected an error message", name)
		}
	}
}

func TestCreateShiftsConflict(t *testing.T) {
	env := newTestEnv(t)
	_, staffID, adminToken := env.addMember("Dana", "Reyes", true)

	base := map[string]any{
		"location_id":    env.locID.String(),
		"start_time":     "2024-04-15T09:00:00Z",
		"end_time":       "2024-04-15T17:00:00Z",
		"assigned_staff": []string{staffID.String()},
	}
	if resp, _ := env.do(http.MethodPost, shiftPath(env.orgID), adminToken, base); resp.StatusCode != http.StatusOK {
		t.Fatalf("first create failed: %d", resp.StatusCode)
	}

	overlapping := map[string]any{
		"location_id":    env.locID.String(),
		"start_time":     "2024-04-15T10:00:00Z",
		"end_time":       "2024-04-15T18:00:00Z",
		"assigned_staff": []string{staffID.String()},
	}
	resp, body := env.do(http.MethodPost, shiftPath(env.orgID), adminToken, overlapping)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%v)", resp.StatusCode, body)
	}
	msg, _ := body["error"].(string)
	if msg == "" {
		t.Fatal("conflict response must carry an error message")
	}

	// The failed request left nothing behind.
	_, items := env.doList(shiftPath(env.orgID), adminToken)
	if len(items) != 1 {
		t.Fatalf("expected 1 shift after rejected overlap, got %d", len(items))
	}
}

func TestMyShiftsScopedToCaller(t *testing.T) {
	env := newTestEnv(t)
	_, adminStaff, adminToken := env.addMember("Dana", "Reyes", true)
	_, memberStaff, memberToken := env.addMember("Pat", "Lau", false)

	for _, tc := range []struct {
		start, end string
		staff      uuid.UUID
	}{
		{"2024-04-15T09:00:00Z", "2024-04-15T12:00:00Z", adminStaff},
		{"2024-04-15T13:00:00Z", "2024-04-15T17:00:00Z", memberStaff},
	} {
		resp, _ := env.do(http.MethodPost, shiftPath(env.orgID), adminToken, map[string]any{
			"location_id":    env.locID.String(),
			"start_time":     tc.start,
			"end_time":       tc.end,
			"assigned_staff": []string{tc.staff.String()},
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("seed create failed: %d", resp.StatusCode)
		}
	}

	resp, mine := env.doList("/organizations/"+env.orgID.String()+"/my-shifts", memberToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("my-shifts: expected 200, got %d", resp.StatusCode)
	}
	if len(mine) != 1 {
		t.Fatalf("expected exactly the caller's shift, got %d", len(mine))
	}
	if mine[0]["start"] != "2024-04-15T13:00:00Z" {
		t.Fatalf("unexpected shift: %v", mine[0])
	}

	// The member cannot read the full roster.
	resp, _ = env.doList(shiftPath(env.orgID), memberToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member roster read: expected 403, got %d", resp.StatusCode)
	}
}

func TestOrganizationAccess(t *testing.T) {
	env := newTestEnv(t)
	_, _, memberToken := env.addMember("Pat", "Lau", false)
	env.dir.profiles[env.orgID] = auth.OrgProfile{
		ID:   env.orgID,
		Name: "Harbor Clinic",
		Locations: []auth.Location{
			{ID: env.locID, Name: "Main Street"},
		},
		Staff: []auth.StaffMember{},
	}

	resp, body := env.do(http.MethodGet, "/organizations/"+env.orgID.String(), memberToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("org profile: expected 200, got %d", resp.StatusCode)
	}
	if body["name"] != "Harbor Clinic" {
		t.Fatalf("unexpected profile: %v", body)
	}

	// Valid token, no membership in a different org.
	otherOrg := uuid.New()
	env.dir.profiles[otherOrg] = auth.OrgProfile{ID: otherOrg, Name: "Other"}
	resp, _ = env.do(http.MethodGet, "/organizations/"+otherOrg.String(), memberToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign org: expected 403, got %d", resp.StatusCode)
	}
}

func TestGateRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	env.addMember("Dana", "Reyes", true)

	path := "/organizations/" + env.orgID.String()
	for name, token := range map[string]string{
		"missing":        "",
		"garbage":        "not-a-jwt",
		"bearer-garbage": "Bearer not-a-jwt",
	} {
		resp, body := env.do(http.MethodGet, path, token, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s token: expected 401, got %d", name, resp.StatusCode)
		}
		if body["error"] != "invalid token" {
			t.Fatalf("%s token: expected uniform message, got %v", name, body["error"])
		}
	}
}

func TestGateRejectsExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	userID, _, _ := env.addMember("Dana", "Reyes", true)

	past, err := auth.NewService("handler-test-secret",
		auth.WithTTL(time.Hour),
		auth.WithClock(func() time.Time { return time.Now().Add(-48 * time.Hour) }))
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	expired, _, err := past.Issue(userID)
	if err != nil {
		t.Fatalf("issue expired token: %v", err)
	}

	resp, body := env.do(http.MethodGet, "/organizations/"+env.orgID.String(), expired, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token: expected 401, got %d", resp.StatusCode)
	}
	if body["error"] != "invalid token" {
		t.Fatalf("expired token must get the uniform message, got %v", body["error"])
	}
}

func TestGateAcceptsBearerScheme(t *testing.T) {
	env := newTestEnv(t)
	_, _, token := env.addMember("Dana", "Reyes", true)

	resp, _ := env.doList(shiftPath(env.orgID), "Bearer "+token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer token: expected 200, got %d", resp.StatusCode)
	}
}

func TestWindowQueryFiltersRoster(t *testing.T) {
	env := newTestEnv(t)
	_, staffID, adminToken := env.addMember("Dana", "Reyes", true)

	resp, _ := env.do(http.MethodPost, shiftPath(env.orgID), adminToken, map[string]any{
		"location_id":    env.locID.String(),
		"start_time":     "2024-04-15T09:00:00Z",
		"end_time":       "2024-04-15T17:00:00Z",
		"rrule":          "FREQ=WEEKLY;COUNT=4",
		"assigned_staff": []string{staffID.String()},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", resp.StatusCode)
	}

	resp, items := env.doList(shiftPath(env.orgID)+"?from=2024-04-21T00:00:00Z&to=2024-05-05T00:00:00Z", adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("windowed roster: expected 200, got %d", resp.StatusCode)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 shifts in window, got %d", len(items))
	}

	resp, _ = env.doList(shiftPath(env.orgID)+"?from=bogus", adminToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad window: expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthEndpointsArePublic(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := env.srv.Client().Get(env.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestExhaustedRuleCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	_, staffID, adminToken := env.addMember("Dana", "Reyes", true)

	resp, body := env.do(http.MethodPost, shiftPath(env.orgID), adminToken, map[string]any{
		"location_id":    env.locID.String(),
		"start_time":     "2024-04-15T09:00:00Z",
		"end_time":       "2024-04-15T17:00:00Z",
		"rrule":          "FREQ=WEEKLY;UNTIL=20200101T000000Z",
		"assigned_staff": []string{staffID.String()},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["message"] != "Successfully created 0 shifts" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

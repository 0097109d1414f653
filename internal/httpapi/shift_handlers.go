package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"rosterd.org/internal/audit"
	"rosterd.org/internal/auth"
	"rosterd.org/internal/obs"
	"rosterd.org/internal/schedule"
)

type createShiftsRequest struct {
	LocationID    string         `json:"location_id"`
	StartTime     string         `json:"start_time"`
	EndTime       string         `json:"end_time"`
	RRule         string         `json:"rrule"`
	Notes         string         `json:"notes"`
	ExtendedProps map[string]any `json:"extended_props"`
	AssignedStaff []string       `json:"assigned_staff"`
}

type createShiftsResponse struct {
	Message string `json:"message"`
}

// handleOrganizations dispatches everything under /organizations/. The
// token gate already ran; membership checks happen per route because the
// capability differs (admin for the roster, member for the rest).
func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/organizations/")
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	segments := strings.Split(rest, "/")
	orgID, err := uuid.Parse(segments[0])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "organization id must be a UUID")
		return
	}

	switch {
	case len(segments) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getOrganization(w, r, orgID)
	case len(segments) == 2 && segments[1] == "shifts":
		switch r.Method {
		case http.MethodGet:
			a.listOrgShifts(w, r, orgID)
		case http.MethodPost:
			a.createShifts(w, r, orgID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case len(segments) == 2 && segments[1] == "my-shifts":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listMyShifts(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getOrganization(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) {
	if _, ok := a.requireMembership(w, r, orgID); !ok {
		return
	}
	profile, err := a.directory.OrgProfile(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "organization not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) createShifts(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) {
	membership, ok := a.requireAdmin(w, r, orgID)
	if !ok {
		return
	}

	var req createShiftsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	locationID, err := uuid.Parse(strings.TrimSpace(req.LocationID))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "location_id must be a UUID")
		return
	}
	start, err := parseTimestamp("start_time", req.StartTime)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTimestamp("end_time", req.EndTime)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	staffIDs := make([]uuid.UUID, 0, len(req.AssignedStaff))
	for _, raw := range req.AssignedStaff {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "assigned_staff entries must be UUIDs")
			return
		}
		staffIDs = append(staffIDs, id)
	}

	result, err := a.schedule.CreateShiftSeries(r.Context(), schedule.ShiftTemplate{
		OrganizationID: orgID,
		LocationID:     locationID,
		Start:          start,
		End:            end,
		RRule:          strings.TrimSpace(req.RRule),
		Notes:          strings.TrimSpace(req.Notes),
		ExtendedProps:  req.ExtendedProps,
		StaffIDs:       staffIDs,
	})
	if err != nil {
		handleScheduleError(w, r, err)
		return
	}

	obs.ObserveShiftsCreated(result.Created)
	_ = audit.LogEvent(r.Context(), "schedule.shifts.create", map[string]any{
		"organization_id": orgID.String(),
		"location_id":     locationID.String(),
		"staff_id":        membership.StaffID.String(),
		"created":         result.Created,
	})

	writeJSON(w, http.StatusOK, createShiftsResponse{
		Message: fmt.Sprintf("Successfully created %d shifts", result.Created),
	})
}

func (a *API) listOrgShifts(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) {
	if _, ok := a.requireAdmin(w, r, orgID); !ok {
		return
	}
	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roster, err := a.schedule.OrgShifts(r.Context(), orgID, window)
	if err != nil {
		handleScheduleError(w, r, err)
		return
	}
	if roster == nil {
		roster = []schedule.RosterShift{}
	}
	writeJSON(w, http.StatusOK, roster)
}

func (a *API) listMyShifts(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) {
	membership, ok := a.requireMembership(w, r, orgID)
	if !ok {
		return
	}
	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	shifts, err := a.schedule.StaffShifts(r.Context(), orgID, membership.StaffID, window)
	if err != nil {
		handleScheduleError(w, r, err)
		return
	}
	if shifts == nil {
		shifts = []schedule.Shift{}
	}
	writeJSON(w, http.StatusOK, shifts)
}

func windowFromQuery(r *http.Request) (schedule.Window, error) {
	var win schedule.Window
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return schedule.Window{}, errors.New("from must be an RFC 3339 timestamp")
		}
		win.From = t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return schedule.Window{}, errors.New("to must be an RFC 3339 timestamp")
		}
		win.To = t
	}
	if !win.From.IsZero() && !win.To.IsZero() && !win.From.Before(win.To) {
		return schedule.Window{}, errors.New("from must be before to")
	}
	return win, nil
}

func handleScheduleError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *schedule.ConflictError
	switch {
	case errors.As(err, &conflict):
		obs.IncAssignmentConflict()
		writeError(w, r, http.StatusConflict, conflict.Error())
	case errors.Is(err, schedule.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, schedule.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.Error("schedule operation failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

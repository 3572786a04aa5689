package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/session"
	"github.com/eventroll/rollcall/internal/store"
	"github.com/eventroll/rollcall/internal/view"
)

const requestTimeout = 10 * time.Second

// LoginResponse is returned by POST /api/login.
type LoginResponse struct {
	Token string      `json:"token"`
	User  member.User `json:"user"`
}

// MembersResponse is a branch listing. Counts cover the whole branch; the
// lists are filtered by the search term.
type MembersResponse struct {
	Branch  string          `json:"branch"`
	State   string          `json:"state"`
	Version uint64          `json:"version"`
	Counts  member.Counts   `json:"counts"`
	Present []member.Record `json:"present"`
	Absent  []member.Record `json:"absent"`
	Pending []string        `json:"pending,omitempty"`
}

// ToggleResponse acknowledges an accepted toggle.
type ToggleResponse struct {
	Code   string        `json:"code"`
	Branch string        `json:"branch"`
	Status member.Status `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type userKey struct{}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// bearerToken extracts the session token from the Authorization header or
// the token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// authenticated rejects requests without a live session and passes the
// session user on in the request context.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.config.Sessions.Lookup(bearerToken(r))
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing or expired session"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

func userFrom(r *http.Request) member.User {
	user, _ := r.Context().Value(userKey{}).(member.User)
	return user
}

// statusFor maps view and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, view.ErrBranchFixed):
		return http.StatusForbidden
	case store.IsStoreError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form session.Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid login body"))
		return
	}
	user, err := session.Login(form, s.config.Branches)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token := s.config.Sessions.Create(user)
	s.logger.Printf("Login: %s (%s, %s)", user.Name, user.Code, user.Team)
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.config.Sessions.Logout(bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBranches(w http.ResponseWriter, r *http.Request) {
	branches := s.config.Branches
	if branches == nil {
		branches = []string{}
	}
	writeJSON(w, http.StatusOK, branches)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	snap, err := view.Read(ctx, s.config.Store, userFrom(r), r.PathValue("branch"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := membersResponse(snap)
	if q := r.URL.Query().Get("q"); q != "" {
		resp.Present, resp.Absent = member.Split(snap.Search(q))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleToggle flips one member of the caller's branch. External operators
// name the branch with the branch query parameter.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	code := r.PathValue("code")
	branch, fixed := user.FixedBranch()
	if !fixed {
		branch = r.URL.Query().Get("branch")
	}
	if branch == "" {
		writeError(w, http.StatusBadRequest, errors.New("branch is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	snap, err := view.Read(ctx, s.config.Store, user, branch)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	rec, ok := snap.Member(code)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("member "+code+" is not in branch "+branch))
		return
	}
	if err := s.config.Store.UpdateStatus(ctx, code, rec.Status.Flip(), user.Actor()); err != nil {
		s.logger.Printf("Toggle of %s by %s failed: %v", code, user.Name, err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, ToggleResponse{Code: code, Branch: branch, Status: rec.Status.Flip()})
}

func (s *Server) handleBusTimes(w http.ResponseWriter, r *http.Request) {
	var form session.BusForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid bus times body"))
		return
	}
	sched, err := session.ParseBusForm(form, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user := userFrom(r)
	s.logger.Printf("Bus times from %s (%s): arrival %s, departure %s, event arrival %s",
		user.Name, user.Branch,
		sched.Arrival.Format("15:04"), sched.Departure.Format("15:04"), sched.EventArrival.Format("15:04"))
	writeJSON(w, http.StatusOK, sched)
}

func membersResponse(snap view.Snapshot) MembersResponse {
	resp := MembersResponse{
		Branch:  snap.Branch,
		State:   snap.State.String(),
		Version: snap.Version,
		Counts:  snap.Counts(),
	}
	resp.Present, resp.Absent = snap.Split()
	for _, r := range snap.Records {
		if snap.IsPending(r.Code) {
			resp.Pending = append(resp.Pending, r.Code)
		}
	}
	return resp
}

// Package session captures who is operating a terminal.
//
// Login validates a display identity; nothing is verified against a user
// directory. The Registry hands out opaque tokens for identities held by
// the server, and BusForm validates the transport team's bus times.
package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/eventroll/rollcall/internal/member"
)

// ErrMissingFields is returned when name, code or team is empty.
var ErrMissingFields = errors.New("name, code and team are required")

// ErrBranchRequired is returned when a transport operator picks no branch.
var ErrBranchRequired = errors.New("transport operators must choose a branch")

// Form is the raw login input. Team accepts the English or Arabic names.
type Form struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Team   string `json:"team"`
	Branch string `json:"branch,omitempty"`
}

// Login validates form against the known branches and returns the session
// user. The branch is kept only for transport operators.
func Login(form Form, branches []string) (member.User, error) {
	name := strings.TrimSpace(form.Name)
	code := strings.TrimSpace(form.Code)
	if name == "" || code == "" || strings.TrimSpace(form.Team) == "" {
		return member.User{}, ErrMissingFields
	}
	team, err := member.ParseTeam(form.Team)
	if err != nil {
		return member.User{}, err
	}

	user := member.User{Name: name, Code: code, Team: team}
	if team != member.TeamTransport {
		return user, nil
	}

	branch := strings.TrimSpace(form.Branch)
	if branch == "" {
		return member.User{}, ErrBranchRequired
	}
	if len(branches) > 0 && !slices.Contains(branches, branch) {
		return member.User{}, fmt.Errorf("unknown branch %q", branch)
	}
	user.Branch = branch
	return user, nil
}

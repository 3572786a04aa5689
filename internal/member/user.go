package member

import (
	"fmt"
	"strings"
)

// Team is the operator role chosen at login.
type Team uint8

const (
	// TeamTransport operators manage their own branch only.
	TeamTransport Team = iota + 1
	// TeamExternal operators may browse every branch.
	TeamExternal
)

const (
	transportToken = "نقل"
	externalToken  = "تنظيم خارجي"
)

// ParseTeam converts a textual team into a Team.
func ParseTeam(s string) (Team, error) {
	v := strings.TrimSpace(s)
	switch {
	case strings.EqualFold(v, "transport"), v == transportToken:
		return TeamTransport, nil
	case strings.EqualFold(v, "external"), v == externalToken:
		return TeamExternal, nil
	}
	return 0, fmt.Errorf("unknown team %q", s)
}

// Valid reports whether t is a defined team.
func (t Team) Valid() bool {
	return t == TeamTransport || t == TeamExternal
}

func (t Team) String() string {
	switch t {
	case TeamTransport:
		return "transport"
	case TeamExternal:
		return "external"
	default:
		return fmt.Sprintf("team(%d)", uint8(t))
	}
}

// Label returns the Arabic team name.
func (t Team) Label() string {
	if t == TeamTransport {
		return transportToken
	}
	return externalToken
}

// MarshalText implements encoding.TextMarshaler.
func (t Team) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid team %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Team) UnmarshalText(text []byte) error {
	v, err := ParseTeam(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// User is the display identity captured at login. Branch is set only for
// transport operators and is the one branch they may view.
type User struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Team   Team   `json:"team"`
	Branch string `json:"branch,omitempty"`
}

// FixedBranch returns the branch a user is pinned to, if any.
func (u User) FixedBranch() (string, bool) {
	if u.Team == TeamTransport && u.Branch != "" {
		return u.Branch, true
	}
	return "", false
}

// Actor returns the write provenance for this user.
func (u User) Actor() Actor {
	return Actor{Name: u.Name, Team: u.Team.String()}
}

// Package member provides the attendance data model shared by every layer:
// the closed Status and Team enums, member records, session users and the
// derived aggregates shown on branch dashboards.
package member

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Status is the attendance state of a member. Only StatusPresent and
// StatusAbsent are valid; the zero value is rejected at every boundary.
type Status uint8

const (
	// StatusPresent marks a member as attending.
	StatusPresent Status = iota + 1
	// StatusAbsent marks a member as not attending.
	StatusAbsent
)

// Arabic tokens used by the seed dataset and the original dashboards.
const (
	presentToken = "حضور"
	absentToken  = "غياب"
)

// ParseStatus converts a textual status into a Status.
//
// Accepted forms are "present"/"absent" in any case and the Arabic seed
// tokens. Any other value is an error.
func ParseStatus(s string) (Status, error) {
	v := strings.TrimSpace(s)
	switch {
	case strings.EqualFold(v, "present"), v == presentToken:
		return StatusPresent, nil
	case strings.EqualFold(v, "absent"), v == absentToken:
		return StatusAbsent, nil
	}
	return 0, fmt.Errorf("unknown attendance status %q", s)
}

// Valid reports whether s is one of the two defined statuses.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusAbsent
}

// Flip returns the opposite status.
func (s Status) Flip() Status {
	if s == StatusPresent {
		return StatusAbsent
	}
	return StatusPresent
}

// String returns the canonical wire form: "present" or "absent".
func (s Status) String() string {
	switch s {
	case StatusPresent:
		return "present"
	case StatusAbsent:
		return "absent"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Label returns the Arabic label shown to operators.
func (s Status) Label() string {
	if s == StatusPresent {
		return presentToken
	}
	return absentToken
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value implements driver.Valuer so statuses are stored in canonical form.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot store invalid status %d", uint8(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Status", src)
	}
}

// Record is one member row: the unit the store, the seed loader and the
// branch view all exchange. Code is unique across the whole dataset.
type Record struct {
	Code     string `json:"code" yaml:"code" toml:"code"`
	Name     string `json:"name" yaml:"name" toml:"name"`
	Branch   string `json:"branch" yaml:"branch" toml:"branch"`
	Category string `json:"category" yaml:"category" toml:"category"`
	Status   Status `json:"status" yaml:"status" toml:"status"`

	// Provenance of the last write; empty for records read from the seed.
	UpdatedBy     string    `json:"updated_by,omitempty" yaml:"updated_by,omitempty" toml:"updated_by,omitempty"`
	UpdatedByTeam string    `json:"updated_by_team,omitempty" yaml:"updated_by_team,omitempty" toml:"updated_by_team,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty" toml:"updated_at,omitempty"`
}

// Validate checks that the record can be written to a store.
func (r *Record) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	if r.Category == "" {
		return fmt.Errorf("category is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("status is invalid for member %s", r.Code)
	}
	return nil
}

// Actor identifies who performed a write.
type Actor struct {
	Name string
	Team string
}

// SystemActor is the provenance stamped on records inserted by bootstrap.
var SystemActor = Actor{Name: "System", Team: "Initial Load"}

package view

import "github.com/eventroll/rollcall/internal/member"

// Snapshot is an immutable copy of a View at one version.
type Snapshot struct {
	Branch  string
	State   State
	Records []member.Record
	Version uint64

	pending map[string]struct{}
}

// Counts returns the present, absent and total counts of the snapshot.
func (s Snapshot) Counts() member.Counts {
	return member.CountsOf(s.Records)
}

// Split returns the present and absent members.
func (s Snapshot) Split() (present, absent []member.Record) {
	return member.Split(s.Records)
}

// Search returns members whose name or code contains term.
func (s Snapshot) Search(term string) []member.Record {
	return member.Search(s.Records, term)
}

// Member looks up a member by code.
func (s Snapshot) Member(code string) (member.Record, bool) {
	if i := indexOf(s.Records, code); i >= 0 {
		return s.Records[i], true
	}
	return member.Record{}, false
}

// IsPending reports whether code has an optimistic toggle awaiting the
// store.
func (s Snapshot) IsPending(code string) bool {
	_, ok := s.pending[code]
	return ok
}

// Package seed parses the static attendance dataset that bootstraps an empty
// store.
//
// The dataset is comma-separated UTF-8 text with a header row and five
// fields per line, in fixed order:
//
//	name,branch,category,status,code
//
// There is no quoting or escaping. A line is kept only when it has exactly
// five fields, none of them empty after trimming, and a recognized status.
// Every other line is dropped without an error.
//
// A Loader is pure: Parse, Branches and MembersByBranch recompute their
// result from the blob on each call. Reading the blob from disk or object
// storage happens once, in Open.
package seed

import (
	_ "embed"
	"sort"
	"strings"

	"github.com/eventroll/rollcall/internal/member"
)

const fieldCount = 5

//go:embed data/attendance.csv
var defaultDataset []byte

// Loader parses one dataset blob.
type Loader struct {
	data []byte
}

// New creates a Loader over data. The slice is not copied and must not be
// modified afterwards.
func New(data []byte) *Loader {
	return &Loader{data: data}
}

// Default returns a Loader over the dataset compiled into the binary.
func Default() *Loader {
	return New(defaultDataset)
}

// Parse returns every well-formed record in file order.
func (l *Loader) Parse() []member.Record {
	text := strings.TrimSpace(string(l.data))
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	records := make([]member.Record, 0, len(lines))
	for _, line := range lines[1:] {
		if r, ok := parseLine(line); ok {
			records = append(records, r)
		}
	}
	return records
}

func parseLine(line string) (member.Record, bool) {
	fields := strings.Split(line, ",")
	if len(fields) != fieldCount {
		return member.Record{}, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
		if fields[i] == "" {
			return member.Record{}, false
		}
	}

	status, err := member.ParseStatus(fields[3])
	if err != nil {
		return member.Record{}, false
	}

	return member.Record{
		Name:     fields[0],
		Branch:   fields[1],
		Category: fields[2],
		Status:   status,
		Code:     fields[4],
	}, true
}

// Branches returns the distinct branch names, sorted.
func (l *Loader) Branches() []string {
	seen := make(map[string]struct{})
	var branches []string
	for _, r := range l.Parse() {
		if _, ok := seen[r.Branch]; ok {
			continue
		}
		seen[r.Branch] = struct{}{}
		branches = append(branches, r.Branch)
	}
	sort.Strings(branches)
	return branches
}

// MembersByBranch returns the records of one branch in file order.
func (l *Loader) MembersByBranch(branch string) []member.Record {
	var out []member.Record
	for _, r := range l.Parse() {
		if r.Branch == branch {
			out = append(out, r)
		}
	}
	return out
}

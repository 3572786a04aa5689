package member

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Counts are the aggregates shown above a branch list.
type Counts struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Total   int `json:"total"`
}

// CountsOf tallies records by status.
func CountsOf(records []Record) Counts {
	c := Counts{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case StatusPresent:
			c.Present++
		case StatusAbsent:
			c.Absent++
		}
	}
	return c
}

// Split partitions records into present and absent lists, keeping order.
func Split(records []Record) (present, absent []Record) {
	for _, r := range records {
		if r.Status == StatusPresent {
			present = append(present, r)
		} else {
			absent = append(absent, r)
		}
	}
	return present, absent
}

// normalize builds a fresh Caser per call; Casers are not safe for
// concurrent use.
func normalize(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// Search returns the records whose name or code contains term.
// Matching is case-folded and NFC-normalized; an empty term matches all.
func Search(records []Record, term string) []Record {
	needle := normalize(term)
	if needle == "" {
		return records
	}
	var out []Record
	for _, r := range records {
		if strings.Contains(normalize(r.Name), needle) || strings.Contains(normalize(r.Code), needle) {
			out = append(out, r)
		}
	}
	return out
}

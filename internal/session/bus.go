package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// BusForm is the raw bus-time input of a transport operator. Each field is
// a clock time ("14:30") or a phrase such as "in 20 minutes".
type BusForm struct {
	Arrival      string `json:"arrival"`
	Departure    string `json:"departure"`
	EventArrival string `json:"event_arrival"`
}

// BusSchedule is a validated BusForm. It is reported, never stored.
type BusSchedule struct {
	Arrival      time.Time `json:"arrival"`
	Departure    time.Time `json:"departure"`
	EventArrival time.Time `json:"event_arrival"`
}

// ErrBusTimesRequired is returned when any bus time is empty.
var ErrBusTimesRequired = errors.New("arrival, departure and event arrival times are all required")

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseBusForm validates form relative to now.
func ParseBusForm(form BusForm, now time.Time) (BusSchedule, error) {
	if strings.TrimSpace(form.Arrival) == "" ||
		strings.TrimSpace(form.Departure) == "" ||
		strings.TrimSpace(form.EventArrival) == "" {
		return BusSchedule{}, ErrBusTimesRequired
	}

	var s BusSchedule
	var err error
	if s.Arrival, err = parseTime(form.Arrival, now); err != nil {
		return BusSchedule{}, fmt.Errorf("arrival: %w", err)
	}
	if s.Departure, err = parseTime(form.Departure, now); err != nil {
		return BusSchedule{}, fmt.Errorf("departure: %w", err)
	}
	if s.EventArrival, err = parseTime(form.EventArrival, now); err != nil {
		return BusSchedule{}, fmt.Errorf("event arrival: %w", err)
	}
	return s, nil
}

// parseTime accepts HH:MM on now's date, or natural language.
func parseTime(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := time.ParseInLocation("15:04", text, now.Location()); err == nil {
		return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location()), nil
	}
	r, err := parser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", text)
	}
	return r.Time, nil
}

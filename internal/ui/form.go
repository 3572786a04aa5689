package ui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/session"
)

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(field + " is required")
		}
		return nil
	}
}

// LoginForm asks for the session identity. Transport operators also pick a
// branch, from branches when known. The result still has to go through
// session.Login.
func LoginForm(branches []string) (session.Form, error) {
	form := session.Form{Team: member.TeamExternal.String()}
	notTransport := func() bool { return form.Team != member.TeamTransport.String() }

	var branch huh.Field
	if len(branches) > 0 {
		branch = huh.NewSelect[string]().
			Title("Branch").
			Options(huh.NewOptions(branches...)...).
			Value(&form.Branch)
	} else {
		branch = huh.NewInput().
			Title("Branch").
			Value(&form.Branch).
			Validate(required("branch"))
	}

	f := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Name").Value(&form.Name).Validate(required("name")),
			huh.NewInput().Title("Code").Value(&form.Code).Validate(required("code")),
			huh.NewSelect[string]().
				Title("Team").
				Options(
					huh.NewOption("Transport ("+member.TeamTransport.Label()+")", member.TeamTransport.String()),
					huh.NewOption("External ("+member.TeamExternal.Label()+")", member.TeamExternal.String()),
				).
				Value(&form.Team),
		),
		huh.NewGroup(branch).WithHideFunc(notTransport),
	).WithAccessible(!IsTerminal(os.Stdout))

	if err := f.Run(); err != nil {
		return session.Form{}, fmt.Errorf("login form: %w", err)
	}
	if notTransport() {
		form.Branch = ""
	}
	return form, nil
}

// BusTimesForm asks a transport operator for the three bus times.
func BusTimesForm() (session.BusForm, error) {
	var form session.BusForm
	f := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Bus arrival").Placeholder("07:30").Value(&form.Arrival).Validate(required("arrival")),
			huh.NewInput().Title("Bus departure").Placeholder("in 20 minutes").Value(&form.Departure).Validate(required("departure")),
			huh.NewInput().Title("Arrival at the event").Value(&form.EventArrival).Validate(required("event arrival")),
		),
	).WithAccessible(!IsTerminal(os.Stdout))

	if err := f.Run(); err != nil {
		return session.BusForm{}, fmt.Errorf("bus times form: %w", err)
	}
	return form, nil
}

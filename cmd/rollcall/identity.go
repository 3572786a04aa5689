package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/session"
	"github.com/eventroll/rollcall/internal/ui"
)

// addIdentityFlags registers the login flags on cmd.
func addIdentityFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Operator name")
	cmd.Flags().String("code", "", "Operator code")
	cmd.Flags().String("team", "", "Operator team: transport or external")
	cmd.Flags().String("branch", "", "Operator branch (transport team only)")
}

// identity builds the session user from flags, asking interactively for
// anything missing when stdin is a terminal.
func identity(cmd *cobra.Command, branches []string) (member.User, error) {
	var form session.Form
	form.Name, _ = cmd.Flags().GetString("name")
	form.Code, _ = cmd.Flags().GetString("code")
	form.Team, _ = cmd.Flags().GetString("team")
	form.Branch, _ = cmd.Flags().GetString("branch")

	if (form.Name == "" || form.Code == "" || form.Team == "") && ui.IsTerminal(os.Stdin) {
		asked, err := ui.LoginForm(branches)
		if err != nil {
			return member.User{}, err
		}
		form = asked
	}

	user, err := session.Login(form, branches)
	if err != nil {
		return member.User{}, fmt.Errorf("login: %w", err)
	}
	return user, nil
}

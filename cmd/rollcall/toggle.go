package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eventroll/rollcall/internal/ui"
	"github.com/eventroll/rollcall/internal/view"
)

var toggleCmd = &cobra.Command{
	Use:     "toggle <code>",
	GroupID: "core",
	Short:   "Flip a member between present and absent",
	Long: `Flip the attendance of one member, recorded under your name and team.

Transport operators act on their own branch. External operators pass the
member's branch with --in.

Examples:
  rollcall toggle C12 --name Omar --code T1 --team transport --branch Cairo
  rollcall toggle G4 --name Mona --code E7 --team external --in Giza`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		code := args[0]
		in, _ := cmd.Flags().GetString("in")

		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenSeededApp(ctx)
		defer closeApp(a)

		fail := func(err error) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			closeApp(a)
			os.Exit(1)
		}

		user, err := identity(cmd, a.Branches())
		if err != nil {
			fail(err)
		}
		branch := in
		if fixed, ok := user.FixedBranch(); ok {
			branch = fixed
		}
		if branch == "" {
			fail(fmt.Errorf("--in is required for external operators"))
		}

		cfg := view.DefaultConfig()
		cfg.Optimistic = false
		cfg.Logger = a.Logger("view")
		vw := view.New(a.Store, user, cfg)
		defer vw.Close()

		if err := vw.SelectBranch(ctx, branch); err != nil {
			fail(err)
		}
		rec, ok := vw.Snapshot().Member(code)
		if !ok {
			fail(fmt.Errorf("member %s is not in branch %s", code, branch))
		}
		if err := vw.ToggleAttendance(ctx, code); err != nil {
			fail(err)
		}
		fmt.Printf("%s %s (%s): %s → %s\n", ui.RenderPass("✓"), rec.Name, code,
			rec.Status.Label(), rec.Status.Flip().Label())
	},
}

func init() {
	addIdentityFlags(toggleCmd)
	toggleCmd.Flags().String("in", "", "Branch of the member (external operators)")
	rootCmd.AddCommand(toggleCmd)
}

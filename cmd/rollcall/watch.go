package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eventroll/rollcall/internal/store"
	"github.com/eventroll/rollcall/internal/ui"
	"github.com/eventroll/rollcall/internal/view"
)

var watchCmd = &cobra.Command{
	Use:     "watch [branch]",
	GroupID: "core",
	Short:   "Follow a branch's attendance live",
	Long: `Print the branch list and reprint it on every change made by any
operator, until Ctrl+C.

Transport operators always watch their own branch.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		search, _ := cmd.Flags().GetString("search")

		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenSeededApp(ctx)
		defer closeApp(a)

		user, err := identity(cmd, a.Branches())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			closeApp(a)
			os.Exit(1)
		}
		branch, _ := user.FixedBranch()
		if len(args) == 1 {
			branch = args[0]
		}
		if branch == "" {
			fmt.Fprintf(os.Stderr, "Error: a branch is required\n")
			closeApp(a)
			os.Exit(1)
		}

		renderer := ui.NewRenderer(os.Stdout)
		clearScreen := ui.IsTerminal(os.Stdout)
		updates := make(chan view.Snapshot, 1)

		cfg := view.DefaultConfig()
		cfg.Optimistic = settings.View.Optimistic
		cfg.Logger = a.Logger("view")
		cfg.OnUpdate = func(snap view.Snapshot) {
			select {
			case <-updates:
			default:
			}
			updates <- snap
		}
		vw := view.New(a.Store, user, cfg)
		defer vw.Close()

		if err := vw.SelectBranch(ctx, branch); err != nil {
			if !retriedOnChange(err) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				vw.Close()
				closeApp(a)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Error: %v (waiting for changes to retry)\n", err)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-updates:
				if snap.State == view.StateLoading {
					continue
				}
				if clearScreen {
					fmt.Print("\033[H\033[2J")
				}
				fmt.Print(renderer.Snapshot(snap, search))
			}
		}
	},
}

func init() {
	addIdentityFlags(watchCmd)
	watchCmd.Flags().StringP("search", "s", "", "Only show members whose name or code contains this")
	rootCmd.AddCommand(watchCmd)
}

// retriedOnChange reports whether a SelectBranch failure is a query error.
// The branch subscription is live by then, so the next change retries the
// load. Anything else never recovers on its own.
func retriedOnChange(err error) bool {
	var se *store.Error
	return errors.As(err, &se) && se.Op == store.OpQuery && !errors.Is(err, store.ErrClosed)
}

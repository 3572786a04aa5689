package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eventroll/rollcall/internal/member"
)

var branchesCmd = &cobra.Command{
	Use:     "branches",
	GroupID: "core",
	Short:   "List branches with attendance counts",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenSeededApp(ctx)
		defer closeApp(a)

		fmt.Printf("%-24s %8s %8s %8s\n", "BRANCH", "PRESENT", "ABSENT", "TOTAL")
		for _, b := range a.Branches() {
			records, err := a.Store.QueryByBranch(ctx, b)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				closeApp(a)
				os.Exit(1)
			}
			c := member.CountsOf(records)
			fmt.Printf("%-24s %8d %8d %8d\n", b, c.Present, c.Absent, c.Total)
		}
	},
}

func init() {
	rootCmd.AddCommand(branchesCmd)
}

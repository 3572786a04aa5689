package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eventroll/rollcall/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "ops",
	Short:   "Seed an empty store from the seed dataset",
	Long: `Copy every member of the seed dataset into the store, once.

A store that already holds records is left alone, so running init twice,
or alongside another operator's first start, is safe.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenApp(ctx)
		defer closeApp(a)

		res, err := a.Bootstrap(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			closeApp(a)
			os.Exit(1)
		}

		switch {
		case res.AlreadyInitialized:
			fmt.Printf("%s Store already initialized\n", ui.RenderWarn("!"))
		case res.Inserted == 0:
			fmt.Printf("%s Seed dataset is empty, nothing inserted\n", ui.RenderWarn("!"))
		default:
			fmt.Printf("%s Inserted %d members across %d branches\n",
				ui.RenderPass("✓"), res.Inserted, len(a.Branches()))
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/session"
	"github.com/eventroll/rollcall/internal/ui"
)

var busCmd = &cobra.Command{
	Use:     "bus",
	GroupID: "core",
	Short:   "Report your branch's bus times",
	Long: `Validate and report the bus times of a transport operator's branch.
All three times are required. Each is a clock time (07:30) or a phrase
such as "in 20 minutes". The times are logged, not stored.

Examples:
  rollcall bus --name Omar --code T1 --team transport --branch Cairo \
    --arrival 07:30 --departure "in 20 minutes" --event-arrival 09:00`,
	Run: func(cmd *cobra.Command, args []string) {
		var form session.BusForm
		form.Arrival, _ = cmd.Flags().GetString("arrival")
		form.Departure, _ = cmd.Flags().GetString("departure")
		form.EventArrival, _ = cmd.Flags().GetString("event-arrival")

		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenApp(ctx)
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
		if user.Team != member.TeamTransport {
			fail(fmt.Errorf("bus times are reported by transport operators"))
		}

		if (form.Arrival == "" || form.Departure == "" || form.EventArrival == "") && ui.IsTerminal(os.Stdin) {
			if form, err = ui.BusTimesForm(); err != nil {
				fail(err)
			}
		}

		sched, err := session.ParseBusForm(form, time.Now())
		if err != nil {
			fail(err)
		}
		a.Logger("bus").Printf("Bus times from %s (%s): arrival %s, departure %s, event arrival %s",
			user.Name, user.Branch,
			sched.Arrival.Format("15:04"), sched.Departure.Format("15:04"), sched.EventArrival.Format("15:04"))

		fmt.Printf("%s Bus times for %s\n", ui.RenderPass("✓"), user.Branch)
		fmt.Printf("  Arrival:           %s\n", sched.Arrival.Format("15:04"))
		fmt.Printf("  Departure:         %s\n", sched.Departure.Format("15:04"))
		fmt.Printf("  Arrival at event:  %s\n", sched.EventArrival.Format("15:04"))
	},
}

func init() {
	addIdentityFlags(busCmd)
	busCmd.Flags().String("arrival", "", "Bus arrival time")
	busCmd.Flags().String("departure", "", "Bus departure time")
	busCmd.Flags().String("event-arrival", "", "Arrival time at the event")
	rootCmd.AddCommand(busCmd)
}

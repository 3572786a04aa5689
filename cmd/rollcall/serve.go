package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eventroll/rollcall/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "core",
	Short:   "Serve the attendance API and live WebSocket feed",
	Long: `Seed the store if it is empty, then serve the attendance API.

Endpoints:
  POST /api/login                      Start a session
  GET  /api/branches                   List branches
  GET  /api/branches/{branch}/members  Branch list with counts (?q= filters)
  POST /api/members/{code}/toggle      Flip a member (202 when accepted)
  POST /api/bus-times                  Validate bus times
  GET  /ws?token=...&branch=...        Live snapshots of one branch
  GET  /health, /metrics

Example usage:
  rollcall serve                       # Start on default port 8080
  rollcall serve --port 9000           # Start on custom port
  rollcall serve --driver postgres --dsn postgres://db/rollcall`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenApp(ctx)
		defer closeApp(a)

		port := settings.Server.Port
		fmt.Printf("%s Serving %s store on http://localhost:%d\n", ui.RenderAccent("→"), settings.Store.Driver, port)
		fmt.Printf("   WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		if err := a.Serve(ctx, port); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			closeApp(a)
			os.Exit(1)
		}
		fmt.Printf("%s Server stopped\n", ui.RenderPass("✓"))
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	bindLocal(serveCmd, "server.port", "port")
	serveCmd.Flags().Bool("optimistic", true, "Show toggles before the store confirms them")
	bindLocal(serveCmd, "view.optimistic", "optimistic")
	rootCmd.AddCommand(serveCmd)
}

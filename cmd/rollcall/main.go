// Command rollcall keeps branch attendance lists in sync across operators.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eventroll/rollcall/internal/app"
	"github.com/eventroll/rollcall/internal/config"
)

var (
	v        = config.New()
	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Live branch attendance for event operators",
	Long: `rollcall keeps every branch's attendance list in sync between the
operators working it. Toggles made by one operator reach every other
operator viewing the same branch within moments.

Settings are read from rollcall.yaml (or .toml/.json) in the working
directory or ~/.config/rollcall, from ROLLCALL_* environment variables
and from the flags below.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("config")
		s, err := config.Load(v, file)
		if err != nil {
			return err
		}
		settings = s
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Attendance:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default: ./rollcall.yaml or ~/.config/rollcall/rollcall.yaml)")
	flags.String("driver", "", "Store driver: memory, sqlite or postgres")
	flags.String("dsn", "", "Store location: sqlite path, libsql:// URL or postgres:// URL")
	flags.String("seed", "", "Seed CSV: file path or s3://bucket/key (default: embedded dataset)")
	flags.String("log-file", "", "Write logs to this file instead of stderr")

	bindFlag("store.driver", "driver")
	bindFlag("store.dsn", "dsn")
	bindFlag("seed.source", "seed")
	bindFlag("log.file", "log-file")
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

// bindLocal binds a command's own flag to a viper key.
func bindLocal(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// mustOpenApp opens the configured app or exits.
func mustOpenApp(ctx context.Context) *app.App {
	a, err := app.New(ctx, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

// mustOpenSeededApp opens the app and seeds an empty store, as every
// operator terminal does on start.
func mustOpenSeededApp(ctx context.Context) *app.App {
	a := mustOpenApp(ctx)
	if _, err := a.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeApp(a)
		os.Exit(1)
	}
	return a
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

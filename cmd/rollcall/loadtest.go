package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/eventroll/rollcall/internal/app"
	"github.com/eventroll/rollcall/internal/config"
	"github.com/eventroll/rollcall/internal/loadtest"
	"github.com/eventroll/rollcall/internal/logging"
	"github.com/eventroll/rollcall/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "ops",
	Short:   "Measure how fast toggles reach live viewers",
	Long: `Generate a dataset in a fresh store, open many live views on every
branch and flip members concurrently. Reports write latency and the time
until every viewer of a branch shows each flip.

The store is created for the run and removed afterwards: memory by
default, or a temporary SQLite file with --backend sqlite.

Examples:
  rollcall loadtest
  rollcall loadtest --backend sqlite --branches 5 --viewers 20 --togglers 8
  rollcall loadtest --json`,
	Run: runLoadtest,
}

func init() {
	loadtestCmd.Flags().String("backend", config.DriverMemory, "Store for the run: memory or sqlite")
	loadtestCmd.Flags().Int("branches", 3, "Number of branches")
	loadtestCmd.Flags().Int("members", 100, "Members per branch")
	loadtestCmd.Flags().Int("viewers", 10, "Live views per branch")
	loadtestCmd.Flags().Int("togglers", 4, "Concurrent writers")
	loadtestCmd.Flags().Int("toggles", 20, "Flips per writer")
	loadtestCmd.Flags().Duration("interval", 10*time.Millisecond, "Pause between flips of one writer")
	loadtestCmd.Flags().Bool("json", false, "Output the report as JSON")
	rootCmd.AddCommand(loadtestCmd)
}

func runLoadtest(cmd *cobra.Command, args []string) {
	driver, _ := cmd.Flags().GetString("backend")
	branches, _ := cmd.Flags().GetInt("branches")
	members, _ := cmd.Flags().GetInt("members")
	viewers, _ := cmd.Flags().GetInt("viewers")
	togglers, _ := cmd.Flags().GetInt("togglers")
	toggles, _ := cmd.Flags().GetInt("toggles")
	interval, _ := cmd.Flags().GetDuration("interval")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	// Validate flags
	if branches <= 0 || members <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --branches and --members must be positive\n")
		os.Exit(1)
	}
	if viewers < 0 || togglers <= 0 || toggles <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --togglers and --toggles must be positive, --viewers not negative\n")
		os.Exit(1)
	}

	sc := config.StoreSettings{Driver: driver}
	switch driver {
	case config.DriverMemory:
	case config.DriverSQLite:
		dir, err := os.MkdirTemp("", "rollcall-loadtest-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		sc.DSN = filepath.Join(dir, "loadtest.db")
		sc.PollInterval = settings.Store.PollInterval
	default:
		fmt.Fprintf(os.Stderr, "Error: --backend must be 'memory' or 'sqlite'\n")
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	logs, err := logging.Open(logging.Config{File: settings.Log.File, MaxSizeMB: settings.Log.MaxSizeMB})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()

	st, err := app.OpenStore(ctx, sc, logs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	td, err := loadtest.CreateTestDataset(ctx, st, branches, members)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !jsonOutput {
		fmt.Printf("Running load test on %s store...\n", driver)
		fmt.Printf("Configuration: %d branches × %d members, %d viewers/branch, %d togglers × %d flips\n\n",
			branches, members, viewers, togglers, toggles)
	}

	report, err := td.Run(ctx, &loadtest.Config{
		ViewersPerBranch:  viewers,
		Togglers:          togglers,
		TogglesPerToggler: toggles,
		Interval:          interval,
		Timeout:           5 * time.Second,
		Logger:            logs.For("loadtest"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		outputReportJSON(report)
	} else {
		report.Print(os.Stdout)
	}

	if report.Errors > 0 || report.Timeouts > 0 || !report.Converged {
		if !jsonOutput {
			fmt.Printf("\n%s Load test finished with failures\n", ui.RenderFail("✗"))
		}
		os.Exit(1)
	}
	if !jsonOutput {
		fmt.Printf("\n%s Every viewer converged\n", ui.RenderPass("✓"))
	}
}

func outputReportJSON(r *loadtest.Report) {
	stats := func(s *loadtest.LatencyStats) map[string]interface{} {
		return map[string]interface{}{
			"samples": s.Samples,
			"min_ms":  ms(s.Min),
			"mean_ms": ms(s.Mean),
			"p50_ms":  ms(s.P50),
			"p95_ms":  ms(s.P95),
			"p99_ms":  ms(s.P99),
			"max_ms":  ms(s.Max),
		}
	}
	out := map[string]interface{}{
		"toggles":     r.Toggles,
		"errors":      r.Errors,
		"timeouts":    r.Timeouts,
		"converged":   r.Converged,
		"elapsed_ms":  ms(r.Elapsed),
		"writes":      stats(r.Writes),
		"propagation": stats(r.Propagation),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}


package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/ui"
	"github.com/eventroll/rollcall/internal/view"
)

var membersCmd = &cobra.Command{
	Use:     "members <branch>",
	GroupID: "core",
	Short:   "Show or export the members of a branch",
	Long: `Show the members of a branch, split into present and absent.

Formats:
  table - present/absent lists with counts (default)
  json  - members as a JSON array
  yaml  - members as a YAML list
  toml  - members as a TOML array of tables
  csv   - code,name,branch,category,status,updated_by,updated_by_team,updated_at

Examples:
  rollcall members Cairo
  rollcall members Cairo --search sara
  rollcall members Cairo --format csv > cairo.csv`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		search, _ := cmd.Flags().GetString("search")

		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenSeededApp(ctx)
		defer closeApp(a)

		// Exports read as an external operator so any branch is allowed.
		reader := member.User{Name: "export", Code: "export", Team: member.TeamExternal}
		vw := view.New(a.Store, reader, &view.Config{Logger: a.Logger("view")})
		defer vw.Close()

		if err := vw.SelectBranch(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			closeApp(a)
			os.Exit(1)
		}
		snap := vw.Snapshot()

		records := snap.Records
		if search != "" {
			records = snap.Search(search)
		}

		var err error
		switch format {
		case "table":
			fmt.Print(ui.NewRenderer(os.Stdout).Snapshot(snap, search))
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			err = enc.Encode(nonNil(records))
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			err = enc.Encode(nonNil(records))
			if err == nil {
				err = enc.Close()
			}
		case "toml":
			err = toml.NewEncoder(os.Stdout).Encode(struct {
				Branch  string          `toml:"branch"`
				Members []member.Record `toml:"members"`
			}{Branch: snap.Branch, Members: records})
		case "csv":
			err = writeCSV(os.Stdout, records)
		default:
			err = fmt.Errorf("unknown format %q (want table, json, yaml, toml or csv)", format)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			closeApp(a)
			os.Exit(1)
		}
	},
}

func nonNil(records []member.Record) []member.Record {
	if records == nil {
		return []member.Record{}
	}
	return records
}

func writeCSV(w io.Writer, records []member.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"code", "name", "branch", "category", "status", "updated_by", "updated_by_team", "updated_at"}); err != nil {
		return err
	}
	for _, r := range records {
		updatedAt := ""
		if !r.UpdatedAt.IsZero() {
			updatedAt = r.UpdatedAt.UTC().Format(time.RFC3339)
		}
		if err := cw.Write([]string{r.Code, r.Name, r.Branch, r.Category, r.Status.String(), r.UpdatedBy, r.UpdatedByTeam, updatedAt}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func init() {
	membersCmd.Flags().StringP("format", "f", "table", "Output format: table, json, yaml, toml or csv")
	membersCmd.Flags().StringP("search", "s", "", "Only show members whose name or code contains this")
	rootCmd.AddCommand(membersCmd)
}

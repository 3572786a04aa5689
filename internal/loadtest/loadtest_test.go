package loadtest

import (
	"bytes"
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eventroll/rollcall/internal/store"
	"github.com/eventroll/rollcall/internal/store/memory"
	"github.com/eventroll/rollcall/internal/store/sqlite"
)

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.ViewersPerBranch = 3
	cfg.Togglers = 4
	cfg.TogglesPerToggler = 5
	cfg.Interval = time.Millisecond
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

// TestGenerateRecords verifies the generated dataset is deterministic and valid.
func TestGenerateRecords(t *testing.T) {
	a := GenerateRecords(3, 10)
	b := GenerateRecords(3, 10)
	if len(a) != 30 {
		t.Fatalf("Expected 30 records, got %d", len(a))
	}
	codes := make(map[string]bool)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("record %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
		if err := a[i].Validate(); err != nil {
			t.Fatalf("record %d invalid: %v", i, err)
		}
		if codes[a[i].Code] {
			t.Fatalf("duplicate code %s", a[i].Code)
		}
		codes[a[i].Code] = true
	}
}

// TestCreateTestDataset verifies branches and codes are indexed.
func TestCreateTestDataset(t *testing.T) {
	st := memory.New()
	defer st.Close()

	td, err := CreateTestDataset(context.Background(), st, 2, 5)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	if len(td.Branches) != 2 {
		t.Fatalf("Expected 2 branches, got %v", td.Branches)
	}
	records, err := st.QueryByBranch(context.Background(), td.Branches[0])
	if err != nil {
		t.Fatalf("QueryByBranch: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("Expected 5 records in %s, got %d", td.Branches[0], len(records))
	}

	if _, err := CreateTestDataset(context.Background(), st, 0, 5); err == nil {
		t.Error("Expected error for empty dataset")
	}
}

// TestToggleTargets verifies togglers get distinct members across branches.
func TestToggleTargets(t *testing.T) {
	st := memory.New()
	defer st.Close()
	td, err := CreateTestDataset(context.Background(), st, 2, 2)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}

	targets, err := td.toggleTargets(3)
	if err != nil {
		t.Fatalf("toggleTargets: %v", err)
	}
	want := []string{"LT-01-00000", "LT-02-00000", "LT-01-00001"}
	for i := range want {
		if targets[i] != want[i] {
			t.Fatalf("targets = %v, want %v", targets, want)
		}
	}

	if _, err := td.toggleTargets(5); err == nil {
		t.Error("Expected error when togglers exceed members")
	}
}

func runAgainst(t *testing.T, st store.Store) *Report {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	td, err := CreateTestDataset(ctx, st, 2, 20)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	report, err := td.Run(ctx, quietConfig())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Toggles != 20 {
		t.Errorf("Expected 20 toggles, got %d", report.Toggles)
	}
	if report.Errors != 0 || report.Timeouts != 0 {
		t.Errorf("Got %d errors and %d timeouts", report.Errors, report.Timeouts)
	}
	// every toggle is seen by the 3 viewers of its branch
	if report.Propagation.Samples != 60 {
		t.Errorf("Expected 60 propagation samples, got %d", report.Propagation.Samples)
	}
	if !report.Converged {
		t.Error("Views did not converge on the store contents")
	}
	return report
}

// TestRun_Memory runs a small load against the in-memory store.
func TestRun_Memory(t *testing.T) {
	st := memory.New()
	defer st.Close()

	report := runAgainst(t, st)
	if st.Subscribers() != 0 {
		t.Errorf("Expected all subscriptions released, %d remain", st.Subscribers())
	}

	var buf bytes.Buffer
	report.Print(&buf)
	if !strings.Contains(buf.String(), "Propagation latency") {
		t.Errorf("report missing propagation section:\n%s", buf.String())
	}
}

// TestRun_SQLite runs a small load against a file-backed sqlite store.
func TestRun_SQLite(t *testing.T) {
	cfg := sqlite.DefaultConfig(filepath.Join(t.TempDir(), "load.db"))
	cfg.Logger = log.New(io.Discard, "", 0)
	st, err := sqlite.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	runAgainst(t, st)
}

// TestRun_WriteFailures counts store errors without stalling.
func TestRun_WriteFailures(t *testing.T) {
	st := memory.New()
	defer st.Close()
	td, err := CreateTestDataset(context.Background(), st, 1, 4)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	st.SetFault(func(op string) error {
		if op == store.OpUpdate {
			return io.ErrClosedPipe
		}
		return nil
	})

	cfg := quietConfig()
	cfg.Togglers = 2
	cfg.TogglesPerToggler = 3
	report, err := td.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Errors != 6 {
		t.Errorf("Expected 6 errors, got %d", report.Errors)
	}
	if report.Propagation.Samples != 0 {
		t.Errorf("Expected no propagation samples, got %d", report.Propagation.Samples)
	}
}

// TestComputeLatencyStats verifies percentile selection.
func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}
	stats := computeLatencyStats(durations)

	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v", stats.Mean)
	}
	if stats.Samples != 100 {
		t.Errorf("Samples = %d", stats.Samples)
	}

	if empty := computeLatencyStats(nil); empty.Samples != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

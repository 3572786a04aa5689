// Package loadtest drives a store with many live branch views at once.
//
// Viewers hold one view.View each, spread over the branches of a generated
// dataset. Togglers flip member statuses through the store and measure how
// long it takes every viewer of the member's branch to show the new status.
// That propagation latency covers the whole path: the write, the change
// notification, the coalesced refresh and the reload query.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/store"
	"github.com/eventroll/rollcall/internal/view"
)

// TestDataset is a generated dataset loaded into a store.
type TestDataset struct {
	Store    store.Store
	Branches []string
	Records  []member.Record

	// codes lists the member codes of each branch in insertion order
	codes map[string][]string
}

// LatencyStats captures latency percentiles over a set of samples.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration // Median
	P95       time.Duration
	P99       time.Duration
	Samples   int
	Durations []time.Duration
}

// Report is the outcome of Run.
type Report struct {
	Propagation *LatencyStats
	Writes      *LatencyStats
	Toggles     int
	Errors      int
	Timeouts    int
	Converged   bool
	Elapsed     time.Duration
}

// Config controls a load test run.
type Config struct {
	// ViewersPerBranch is the number of views opened on every branch
	ViewersPerBranch int

	// Togglers is the number of concurrent writers; each owns one member
	Togglers int

	// TogglesPerToggler is the number of flips each toggler performs
	TogglesPerToggler int

	// Interval is the pause between flips of one toggler
	Interval time.Duration

	// Timeout bounds the wait for every viewer to see one flip
	Timeout time.Duration

	// Logger for progress and failures (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ViewersPerBranch:  10,
		Togglers:          4,
		TogglesPerToggler: 20,
		Interval:          10 * time.Millisecond,
		Timeout:           5 * time.Second,
		Logger:            log.New(os.Stderr, "[loadtest] ", log.LstdFlags),
	}
}

var categories = []string{"VIP", "Staff", "Guest", "Press", "Volunteer"}

// GenerateRecords creates perBranch members in each of numBranches
// branches. The output is deterministic.
func GenerateRecords(numBranches, perBranch int) []member.Record {
	rng := rand.New(rand.NewSource(42))
	records := make([]member.Record, 0, numBranches*perBranch)
	for b := 0; b < numBranches; b++ {
		branch := fmt.Sprintf("Branch %02d", b+1)
		for i := 0; i < perBranch; i++ {
			status := member.StatusAbsent
			if rng.Intn(2) == 0 {
				status = member.StatusPresent
			}
			records = append(records, member.Record{
				Code:     fmt.Sprintf("LT-%02d-%05d", b+1, i),
				Name:     fmt.Sprintf("Member %05d", b*perBranch+i),
				Branch:   branch,
				Category: categories[rng.Intn(len(categories))],
				Status:   status,
			})
		}
	}
	return records
}

// CreateTestDataset generates a dataset and inserts it into st, which must
// be empty.
func CreateTestDataset(ctx context.Context, st store.Store, numBranches, perBranch int) (*TestDataset, error) {
	if numBranches <= 0 || perBranch <= 0 {
		return nil, fmt.Errorf("need at least one branch and one member per branch")
	}
	records := GenerateRecords(numBranches, perBranch)
	if err := st.InsertMany(ctx, records, member.SystemActor); err != nil {
		return nil, fmt.Errorf("failed to insert dataset: %w", err)
	}

	td := &TestDataset{
		Store:   st,
		Records: records,
		codes:   make(map[string][]string),
	}
	for _, r := range records {
		if _, ok := td.codes[r.Branch]; !ok {
			td.Branches = append(td.Branches, r.Branch)
		}
		td.codes[r.Branch] = append(td.codes[r.Branch], r.Code)
	}
	return td, nil
}

// probe is one flip awaiting observation by every viewer of its branch.
type probe struct {
	branch string
	code   string
	status member.Status
	start  time.Time
	seen   map[int]bool
	want   int
	done   chan struct{}
}

// tracker matches viewer snapshots against in-flight probes.
type tracker struct {
	mu      sync.Mutex
	probes  map[string]*probe
	samples []time.Duration
}

func (t *tracker) begin(p *probe) {
	t.mu.Lock()
	t.probes[p.code] = p
	t.mu.Unlock()
}

func (t *tracker) end(code string) {
	t.mu.Lock()
	delete(t.probes, code)
	t.mu.Unlock()
}

// observe records viewer id seeing snap.
func (t *tracker) observe(id int, snap view.Snapshot) {
	if snap.State != view.StateReady {
		return
	}
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.probes {
		if p.branch != snap.Branch || p.seen[id] {
			continue
		}
		if rec, ok := snap.Member(p.code); !ok || rec.Status != p.status {
			continue
		}
		p.seen[id] = true
		t.samples = append(t.samples, now.Sub(p.start))
		if len(p.seen) == p.want {
			close(p.done)
		}
	}
}

// Run opens the viewers, runs the togglers and reports latencies. Every
// view is closed before Run returns.
func (td *TestDataset) Run(ctx context.Context, config *Config) (*Report, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Togglers <= 0 || config.TogglesPerToggler <= 0 {
		return nil, fmt.Errorf("need at least one toggler and one toggle")
	}

	tr := &tracker{probes: make(map[string]*probe)}
	viewer := member.User{Name: "Load Viewer", Code: "LV", Team: member.TeamExternal}

	var views []*view.View
	defer func() {
		for _, v := range views {
			_ = v.Close()
		}
	}()
	for _, branch := range td.Branches {
		for i := 0; i < config.ViewersPerBranch; i++ {
			id := len(views)
			cfg := &view.Config{
				OnUpdate: func(snap view.Snapshot) { tr.observe(id, snap) },
				Logger:   config.Logger,
			}
			v := view.New(td.Store, viewer, cfg)
			views = append(views, v)
			if err := v.SelectBranch(ctx, branch); err != nil {
				return nil, fmt.Errorf("failed to open viewer on %s: %w", branch, err)
			}
		}
	}
	config.Logger.Printf("Opened %d viewers on %d branches", len(views), len(td.Branches))

	targets, err := td.toggleTargets(config.Togglers)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var mu sync.Mutex
	var writes []time.Duration
	start := time.Now()

	var wg sync.WaitGroup
	for i, code := range targets {
		wg.Add(1)
		go func(id int, code string) {
			defer wg.Done()
			actor := member.Actor{Name: fmt.Sprintf("Toggler %d", id), Team: member.TeamExternal.String()}
			status := td.initialStatus(code)
			branch := td.branchOf(code)

			for j := 0; j < config.TogglesPerToggler; j++ {
				if ctx.Err() != nil {
					return
				}
				status = status.Flip()
				p := &probe{
					branch: branch,
					code:   code,
					status: status,
					start:  time.Now(),
					seen:   make(map[int]bool),
					want:   config.ViewersPerBranch,
					done:   make(chan struct{}),
				}
				if p.want > 0 {
					tr.begin(p)
				}

				err := td.Store.UpdateStatus(ctx, code, status, actor)
				elapsed := time.Since(p.start)

				mu.Lock()
				report.Toggles++
				writes = append(writes, elapsed)
				if err != nil {
					report.Errors++
				}
				mu.Unlock()

				if err != nil {
					config.Logger.Printf("Toggler %d write %d failed: %v", id, j, err)
					tr.end(code)
					status = status.Flip()
					continue
				}

				if p.want > 0 {
					select {
					case <-p.done:
					case <-time.After(config.Timeout):
						mu.Lock()
						report.Timeouts++
						mu.Unlock()
						config.Logger.Printf("Toggler %d: %s not seen by every viewer within %v", id, code, config.Timeout)
					case <-ctx.Done():
					}
					tr.end(code)
				}

				if config.Interval > 0 {
					time.Sleep(config.Interval)
				}
			}
		}(i, code)
	}
	wg.Wait()
	report.Elapsed = time.Since(start)

	tr.mu.Lock()
	report.Propagation = computeLatencyStats(tr.samples)
	tr.mu.Unlock()
	report.Writes = computeLatencyStats(writes)
	report.Converged = td.verifyConvergence(ctx, views, config.Timeout)
	return report, nil
}

// toggleTargets picks n distinct codes, spread round-robin over branches.
func (td *TestDataset) toggleTargets(n int) ([]string, error) {
	targets := make([]string, 0, n)
	for i := 0; len(targets) < n; i++ {
		progress := false
		for _, b := range td.Branches {
			if len(targets) == n {
				break
			}
			if codes := td.codes[b]; i < len(codes) {
				targets = append(targets, codes[i])
				progress = true
			}
		}
		if !progress {
			return nil, fmt.Errorf("dataset has %d members, need %d togglers", len(td.Records), n)
		}
	}
	return targets, nil
}

func (td *TestDataset) initialStatus(code string) member.Status {
	for _, r := range td.Records {
		if r.Code == code {
			return r.Status
		}
	}
	return member.StatusAbsent
}

func (td *TestDataset) branchOf(code string) string {
	for b, codes := range td.codes {
		if slices.Contains(codes, code) {
			return b
		}
	}
	return ""
}

// verifyConvergence waits until every view shows exactly what the store
// holds for its branch.
func (td *TestDataset) verifyConvergence(ctx context.Context, views []*view.View, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if td.converged(ctx, views) {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (td *TestDataset) converged(ctx context.Context, views []*view.View) bool {
	want := make(map[string]map[string]member.Status)
	for _, b := range td.Branches {
		records, err := td.Store.QueryByBranch(ctx, b)
		if err != nil {
			return false
		}
		m := make(map[string]member.Status, len(records))
		for _, r := range records {
			m[r.Code] = r.Status
		}
		want[b] = m
	}
	for _, v := range views {
		snap := v.Snapshot()
		expected := want[snap.Branch]
		if snap.State != view.StateReady || len(snap.Records) != len(expected) {
			return false
		}
		for _, r := range snap.Records {
			if expected[r.Code] != r.Status {
				return false
			}
		}
	}
	return true
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	// Sort durations for percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(durations)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Samples:   len(durations),
		Durations: sorted,
	}
}

// PrintStats formats latency statistics under title.
func (s *LatencyStats) PrintStats(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Samples:       %d\n", s.Samples)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// Print writes the whole report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Toggles: %d  Errors: %d  Timeouts: %d  Converged: %v  Elapsed: %v\n",
		r.Toggles, r.Errors, r.Timeouts, r.Converged, r.Elapsed)
	r.Writes.PrintStats(w, "Write latency")
	r.Propagation.PrintStats(w, "Propagation latency")
}

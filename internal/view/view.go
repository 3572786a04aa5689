// Package view keeps one branch's attendance list in sync with the store.
//
// A View moves EMPTY → LOADING → READY. Selecting a branch subscribes to its
// change notifications and loads it; every notification queues a refresh.
// Refreshes run on one worker goroutine per View through a queue holding at
// most one pending request, so a burst of notifications costs one extra
// query. Loads are numbered when issued and a result is applied only if no
// later-issued load has been applied, and only if the branch selection it
// was issued for is still current.
//
// The list is replaced wholesale on every load; readers get immutable
// Snapshots and never observe a partial update.
package view

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/store"
)

// State is the load state of a View.
type State int

const (
	// StateEmpty means no branch is selected or nothing is loaded.
	StateEmpty State = iota
	// StateLoading means a query is in flight.
	StateLoading
	// StateReady means records are loaded and the subscription is active.
	StateReady
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

var (
	// ErrBranchFixed is returned when a transport operator selects a branch
	// other than their own.
	ErrBranchFixed = errors.New("branch is fixed for this operator")
	// ErrClosed is returned by operations on a closed View.
	ErrClosed = errors.New("view is closed")
)

// Config holds configuration for a View.
type Config struct {
	// Optimistic applies a toggle to the local list before the store
	// confirms it. The flip is reverted if the update fails.
	Optimistic bool

	// OnUpdate, if set, receives every new snapshot. It is called from the
	// goroutine that produced the change and must not block.
	OnUpdate func(Snapshot)

	// Logger for refresh failures
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Optimistic: true,
		Logger:     log.New(os.Stderr, "[view] ", log.LstdFlags),
	}
}

// View is the live attendance list of one branch for one session.
type View struct {
	store  store.Store
	user   member.User
	config *Config

	mu      sync.Mutex
	closed  bool
	state   State
	branch  string
	loaded  bool // records hold a successful load of branch
	records []member.Record
	pending map[string]member.Status
	sub     store.Subscription

	generation uint64 // bumped by every SelectBranch
	issued     uint64 // load numbers handed out
	applied    uint64 // newest load number applied
	version    uint64 // bumped on every snapshot change

	emitMu      sync.Mutex
	lastEmitted uint64

	refresh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a View for user over st. Close must be called to release the
// subscription and stop the refresh worker.
func New(st store.Store, user member.User, config *Config) *View {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		store:   st,
		user:    user,
		config:  config,
		pending: make(map[string]member.Status),
		refresh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	v.wg.Add(1)
	go v.refreshLoop()
	return v
}

// User returns the session user the View acts for.
func (v *View) User() member.User { return v.user }

// Branch returns the selected branch, or "" if none.
func (v *View) Branch() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.branch
}

// State returns the current load state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Snapshot returns the current list.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	var pending map[string]struct{}
	if len(v.pending) > 0 {
		pending = make(map[string]struct{}, len(v.pending))
		for code := range v.pending {
			pending[code] = struct{}{}
		}
	}
	return Snapshot{
		Branch:  v.branch,
		State:   v.state,
		Records: v.records,
		Version: v.version,
		pending: pending,
	}
}

// emit delivers snap to OnUpdate unless a newer snapshot was already
// delivered.
func (v *View) emit(snap Snapshot) {
	if v.config.OnUpdate == nil {
		return
	}
	v.emitMu.Lock()
	defer v.emitMu.Unlock()
	if snap.Version <= v.lastEmitted {
		return
	}
	v.lastEmitted = snap.Version
	v.config.OnUpdate(snap)
}

// Read loads branch once for user without subscribing. It applies the same
// fixed-branch rule as SelectBranch; an empty branch yields an empty
// snapshot.
func Read(ctx context.Context, s store.Store, user member.User, branch string) (Snapshot, error) {
	if fixed, ok := user.FixedBranch(); ok && branch != "" && branch != fixed {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrBranchFixed, fixed)
	}
	if branch == "" {
		return Snapshot{State: StateEmpty, Version: 1}, nil
	}
	records, err := s.QueryByBranch(ctx, branch)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Branch: branch, State: StateReady, Records: records, Version: 1}, nil
}

// SelectBranch switches the View to branch and loads it. Any load issued
// earlier is superseded. An empty branch returns the View to EMPTY.
//
// On failure the store error is returned and the list is left empty; the
// subscription stays so a later change notification retries the load.
func (v *View) SelectBranch(ctx context.Context, branch string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if fixed, ok := v.user.FixedBranch(); ok && branch != "" && branch != fixed {
		v.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBranchFixed, fixed)
	}

	if branch != v.branch || branch == "" {
		v.releaseLocked()
	}
	v.generation++
	gen := v.generation
	v.branch = branch
	v.records = nil
	v.loaded = false
	v.pending = make(map[string]member.Status)
	v.version++

	if branch == "" {
		v.state = StateEmpty
		snap := v.snapshotLocked()
		v.mu.Unlock()
		v.emit(snap)
		return nil
	}

	v.state = StateLoading
	v.issued++
	seq := v.issued
	needSub := v.sub == nil
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.emit(snap)

	if needSub {
		sub, err := v.store.Subscribe(branch, v.Refresh)
		if err != nil {
			v.apply(gen, seq, nil, err)
			return err
		}
		v.mu.Lock()
		if v.closed || gen != v.generation || v.sub != nil {
			v.mu.Unlock()
			sub.Cancel()
		} else {
			v.sub = sub
			v.mu.Unlock()
		}
	}

	records, err := v.store.QueryByBranch(ctx, branch)
	return v.apply(gen, seq, records, err)
}

// releaseLocked cancels the current subscription.
func (v *View) releaseLocked() {
	if v.sub != nil {
		v.sub.Cancel()
		v.sub = nil
	}
}

// apply installs the result of load seq issued under generation gen. Stale
// results are dropped and reported as success: the caller's selection was
// superseded, not failed. Only successful loads advance applied, so a
// failed load never discards an earlier-issued load still in flight.
func (v *View) apply(gen, seq uint64, records []member.Record, err error) error {
	v.mu.Lock()
	if v.closed || gen != v.generation || seq <= v.applied {
		v.mu.Unlock()
		return nil
	}

	if err != nil {
		if v.loaded {
			v.state = StateReady
		} else {
			v.state = StateEmpty
		}
		v.version++
		snap := v.snapshotLocked()
		v.mu.Unlock()
		v.emit(snap)
		return err
	}

	v.applied = seq
	list := make([]member.Record, len(records))
	copy(list, records)
	for i := range list {
		if status, ok := v.pending[list[i].Code]; ok {
			list[i].Status = status
		}
	}
	v.records = list
	v.loaded = true
	v.state = StateReady
	v.version++
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.emit(snap)
	return nil
}

// Refresh queues a reload of the selected branch. It never blocks: if a
// refresh is already queued the request coalesces with it.
func (v *View) Refresh() {
	select {
	case v.refresh <- struct{}{}:
	default:
	}
}

func (v *View) refreshLoop() {
	defer v.wg.Done()
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-v.refresh:
			v.reload()
		}
	}
}

// reload re-issues the query for the selected branch without changing the
// selection.
func (v *View) reload() {
	v.mu.Lock()
	if v.closed || v.branch == "" {
		v.mu.Unlock()
		return
	}
	gen := v.generation
	branch := v.branch
	v.issued++
	seq := v.issued
	if v.state == StateReady {
		v.state = StateLoading
	}
	v.mu.Unlock()

	records, err := v.store.QueryByBranch(v.ctx, branch)
	if err := v.apply(gen, seq, records, err); err != nil && v.ctx.Err() == nil {
		v.config.Logger.Printf("Refresh of %s failed: %v", branch, err)
	}
}

// ToggleAttendance flips the status of the member with code and writes it
// to the store as the session user. A code not in the loaded list is a
// no-op.
//
// Success does not mean the list already shows the new status: the store's
// change notification triggers the refresh that does. With Optimistic set
// the flip shows at once and is reverted if the write fails.
func (v *View) ToggleAttendance(ctx context.Context, code string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if !v.loaded {
		v.mu.Unlock()
		return nil
	}
	idx := indexOf(v.records, code)
	if idx < 0 {
		v.mu.Unlock()
		return nil
	}
	prev := v.records[idx].Status
	next := prev.Flip()
	gen := v.generation

	var snap *Snapshot
	if v.config.Optimistic {
		v.records = withStatus(v.records, idx, next)
		v.pending[code] = next
		v.version++
		s := v.snapshotLocked()
		snap = &s
	}
	v.mu.Unlock()
	if snap != nil {
		v.emit(*snap)
	}

	err := v.store.UpdateStatus(ctx, code, next, v.user.Actor())

	if !v.config.Optimistic {
		return err
	}

	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		return err
	}
	if v.pending[code] == next {
		delete(v.pending, code)
	}
	if err != nil {
		if i := indexOf(v.records, code); i >= 0 && v.records[i].Status == next {
			v.records = withStatus(v.records, i, prev)
		}
	}
	v.version++
	s := v.snapshotLocked()
	v.mu.Unlock()
	v.emit(s)
	return err
}

func indexOf(records []member.Record, code string) int {
	for i := range records {
		if records[i].Code == code {
			return i
		}
	}
	return -1
}

// withStatus returns a copy of records with element i set to status.
// Snapshots share the old slice, so it is never written in place.
func withStatus(records []member.Record, i int, status member.Status) []member.Record {
	out := make([]member.Record, len(records))
	copy(out, records)
	out[i].Status = status
	return out
}

// Close releases the subscription, stops the refresh worker and returns
// the View to EMPTY. Safe to call more than once.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.releaseLocked()
	v.state = StateEmpty
	v.records = nil
	v.loaded = false
	v.mu.Unlock()

	v.cancel()
	v.wg.Wait()
	return nil
}

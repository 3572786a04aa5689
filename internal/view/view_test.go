package view

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/store"
	"github.com/eventroll/rollcall/internal/store/memory"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

var external = member.User{Name: "Mona", Code: "E1", Team: member.TeamExternal}

// gatedStore wraps a memory store, counting queries per branch and
// optionally holding queries or updates until released.
type gatedStore struct {
	*memory.Store

	mu       sync.Mutex
	queries  map[string]int
	holdNext map[string]chan struct{} // branch -> gate for its next query
	holdUpd  chan struct{}
}

func newGatedStore(t *testing.T) *gatedStore {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.InsertMany(context.Background(), []member.Record{
		{Code: "C1", Name: "Ali", Branch: "Cairo", Category: "VIP", Status: member.StatusPresent},
		{Code: "C2", Name: "Sara", Branch: "Cairo", Category: "Staff", Status: member.StatusAbsent},
		{Code: "G1", Name: "Hoda", Branch: "Giza", Category: "Guest", Status: member.StatusAbsent},
	}, member.SystemActor))
	return &gatedStore{Store: st, queries: make(map[string]int), holdNext: make(map[string]chan struct{})}
}

func (p *gatedStore) QueryByBranch(ctx context.Context, branch string) ([]member.Record, error) {
	p.mu.Lock()
	p.queries[branch]++
	gate := p.holdNext[branch]
	delete(p.holdNext, branch)
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return p.Store.QueryByBranch(ctx, branch)
}

func (p *gatedStore) UpdateStatus(ctx context.Context, code string, status member.Status, actor member.Actor) error {
	p.mu.Lock()
	gate := p.holdUpd
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return p.Store.UpdateStatus(ctx, code, status, actor)
}

// hold makes the next query of branch block until the returned channel
// is closed.
func (p *gatedStore) hold(branch string) chan struct{} {
	gate := make(chan struct{})
	p.mu.Lock()
	p.holdNext[branch] = gate
	p.mu.Unlock()
	return gate
}

func (p *gatedStore) count(branch string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries[branch]
}

func testConfig(optimistic bool) *Config {
	return &Config{Optimistic: optimistic, Logger: log.New(io.Discard, "", 0)}
}

func newView(t *testing.T, st store.Store, user member.User, cfg *Config) *View {
	t.Helper()
	v := New(st, user, cfg)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func statusOf(t *testing.T, v *View, code string) member.Status {
	t.Helper()
	r, ok := v.Snapshot().Member(code)
	require.True(t, ok, "member %s not in view", code)
	return r.Status
}

func TestCairoScenario(t *testing.T) {
	for _, optimistic := range []bool{false, true} {
		st := newGatedStore(t)
		v := newView(t, st, external, testConfig(optimistic))
		ctx := context.Background()

		require.NoError(t, v.SelectBranch(ctx, "Cairo"))
		snap := v.Snapshot()
		assert.Equal(t, StateReady, snap.State)
		assert.Len(t, snap.Records, 2)
		assert.Equal(t, member.Counts{Present: 1, Absent: 1, Total: 2}, snap.Counts())

		require.NoError(t, v.ToggleAttendance(ctx, "C2"))
		require.Eventually(t, func() bool {
			s := v.Snapshot()
			return s.State == StateReady && s.Counts() == member.Counts{Present: 2, Absent: 0, Total: 2}
		}, waitFor, tick, "optimistic=%v", optimistic)
	}
}

func TestToggleRoundTrip(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(false))
	ctx := context.Background()
	require.NoError(t, v.SelectBranch(ctx, "Cairo"))

	require.NoError(t, v.ToggleAttendance(ctx, "C1"))
	require.Eventually(t, func() bool { return statusOf(t, v, "C1") == member.StatusAbsent }, waitFor, tick)

	require.NoError(t, v.ToggleAttendance(ctx, "C1"))
	require.Eventually(t, func() bool { return statusOf(t, v, "C1") == member.StatusPresent }, waitFor, tick)

	records, err := st.Store.QueryByBranch(ctx, "Cairo")
	require.NoError(t, err)
	assert.Equal(t, "Mona", records[0].UpdatedBy)
	assert.Equal(t, "external", records[0].UpdatedByTeam)
}

func TestToggle_NoOps(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(true))
	ctx := context.Background()

	assert.NoError(t, v.ToggleAttendance(ctx, "C1"), "toggle before any load")
	require.NoError(t, v.SelectBranch(ctx, "Cairo"))
	before := v.Snapshot().Version
	assert.NoError(t, v.ToggleAttendance(ctx, "G1"), "member of another branch")
	assert.NoError(t, v.ToggleAttendance(ctx, "NOPE"))
	assert.Equal(t, before, v.Snapshot().Version)
}

func TestToggle_OptimisticShowsAtOnce(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(true))
	ctx := context.Background()
	require.NoError(t, v.SelectBranch(ctx, "Cairo"))

	gate := make(chan struct{})
	st.mu.Lock()
	st.holdUpd = gate
	st.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- v.ToggleAttendance(ctx, "C2") }()

	require.Eventually(t, func() bool {
		s := v.Snapshot()
		r, _ := s.Member("C2")
		return r.Status == member.StatusPresent && s.IsPending("C2")
	}, waitFor, tick)

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, v.Snapshot().IsPending("C2"))
	assert.Equal(t, member.StatusPresent, statusOf(t, v, "C2"))
}

func TestToggle_FailureKeepsModel(t *testing.T) {
	for _, optimistic := range []bool{false, true} {
		st := newGatedStore(t)
		v := newView(t, st, external, testConfig(optimistic))
		ctx := context.Background()
		require.NoError(t, v.SelectBranch(ctx, "Cairo"))

		st.SetFault(func(op string) error {
			if op == store.OpUpdate {
				return errors.New("permission denied")
			}
			return nil
		})

		err := v.ToggleAttendance(ctx, "C2")
		require.Error(t, err)
		assert.True(t, store.IsStoreError(err))
		assert.Equal(t, member.StatusAbsent, statusOf(t, v, "C2"), "optimistic=%v", optimistic)
		assert.Equal(t, StateReady, v.State())
		assert.False(t, v.Snapshot().IsPending("C2"))
	}
}

func TestSelectBranch_FailureLeavesEmpty(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(true))
	st.SetFault(func(op string) error {
		if op == store.OpQuery {
			return errors.New("unavailable")
		}
		return nil
	})

	err := v.SelectBranch(context.Background(), "Cairo")
	require.Error(t, err)
	assert.True(t, store.IsStoreError(err))
	snap := v.Snapshot()
	assert.Equal(t, StateEmpty, snap.State)
	assert.Empty(t, snap.Records)
	assert.Equal(t, "Cairo", v.Branch())

	// The subscription survives, so the next change reloads.
	st.SetFault(nil)
	require.NoError(t, st.UpdateStatus(context.Background(), "C1", member.StatusAbsent, member.Actor{Name: "x"}))
	require.Eventually(t, func() bool { return v.State() == StateReady }, waitFor, tick)
	assert.Len(t, v.Snapshot().Records, 2)
}

func TestRefreshFailureKeepsLastGoodModel(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(true))
	require.NoError(t, v.SelectBranch(context.Background(), "Cairo"))

	st.SetFault(func(op string) error {
		if op == store.OpQuery {
			return errors.New("timeout")
		}
		return nil
	})
	v.Refresh()
	require.Eventually(t, func() bool { return st.count("Cairo") >= 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return v.State() == StateReady }, waitFor, tick)
	assert.Len(t, v.Snapshot().Records, 2)
}

func TestNotificationScope(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(true))
	ctx := context.Background()
	require.NoError(t, v.SelectBranch(ctx, "Cairo"))
	require.Equal(t, 1, st.count("Cairo"))

	require.NoError(t, st.UpdateStatus(ctx, "G1", member.StatusPresent, member.Actor{Name: "x"}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, st.count("Cairo"), "Giza change must not refresh a Cairo view")

	require.NoError(t, st.UpdateStatus(ctx, "C1", member.StatusAbsent, member.Actor{Name: "x"}))
	require.Eventually(t, func() bool { return st.count("Cairo") == 2 }, waitFor, tick)
	assert.Equal(t, "Cairo", v.Branch(), "refresh must not change the selected branch")
}

func TestRefreshCoalescing(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(true))
	require.NoError(t, v.SelectBranch(context.Background(), "Cairo"))

	gate := st.hold("Cairo")
	v.Refresh()
	require.Eventually(t, func() bool { return st.count("Cairo") == 2 }, waitFor, tick, "refresh in flight")

	for i := 0; i < 50; i++ {
		v.Refresh()
	}
	close(gate)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 3, st.count("Cairo"), "a burst during a refresh costs exactly one more query")
	assert.Equal(t, StateReady, v.State())
}

func TestSelectBranch_SupersedesStaleLoad(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(true))
	ctx := context.Background()

	gate := st.hold("Cairo")
	stale := make(chan error, 1)
	go func() { stale <- v.SelectBranch(ctx, "Cairo") }()
	require.Eventually(t, func() bool { return st.count("Cairo") == 1 }, waitFor, tick)

	require.NoError(t, v.SelectBranch(ctx, "Giza"))
	close(gate)
	require.NoError(t, <-stale, "a superseded load is not a failure")

	snap := v.Snapshot()
	assert.Equal(t, "Giza", snap.Branch)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "G1", snap.Records[0].Code)
}

func TestSelectBranch_FailedRefreshDoesNotDiscardLoad(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(true))
	ctx := context.Background()

	gate := st.hold("Cairo")
	selected := make(chan error, 1)
	go func() { selected <- v.SelectBranch(ctx, "Cairo") }()
	require.Eventually(t, func() bool { return st.count("Cairo") == 1 }, waitFor, tick)

	// A refresh issued after the select fails while the select is held.
	st.SetFault(func(op string) error {
		if op == store.OpQuery {
			return errors.New("timeout")
		}
		return nil
	})
	v.Refresh()
	require.Eventually(t, func() bool { return st.count("Cairo") == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return v.State() == StateEmpty }, waitFor, tick)

	st.SetFault(nil)
	close(gate)
	require.NoError(t, <-selected)

	snap := v.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Len(t, snap.Records, 2)
}

func TestSubscriptionRelease(t *testing.T) {
	st := newGatedStore(t)
	v := New(st, external, testConfig(true))
	ctx := context.Background()

	require.NoError(t, v.SelectBranch(ctx, "Cairo"))
	assert.Equal(t, 1, st.Subscribers())
	require.NoError(t, v.SelectBranch(ctx, "Cairo"))
	assert.Equal(t, 1, st.Subscribers(), "reselecting the same branch keeps one subscription")
	require.NoError(t, v.SelectBranch(ctx, "Giza"))
	assert.Equal(t, 1, st.Subscribers())

	require.NoError(t, v.SelectBranch(ctx, ""))
	assert.Equal(t, 0, st.Subscribers())
	assert.Equal(t, StateEmpty, v.State())

	require.NoError(t, v.SelectBranch(ctx, "Giza"))
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
	assert.Equal(t, 0, st.Subscribers())
	assert.ErrorIs(t, v.SelectBranch(ctx, "Giza"), ErrClosed)
	assert.ErrorIs(t, v.ToggleAttendance(ctx, "G1"), ErrClosed)
}

func TestFixedBranch(t *testing.T) {
	st := newGatedStore(t)
	driver := member.User{Name: "Omar", Code: "T1", Team: member.TeamTransport, Branch: "Cairo"}
	v := newView(t, st, driver, testConfig(true))
	ctx := context.Background()

	err := v.SelectBranch(ctx, "Giza")
	assert.ErrorIs(t, err, ErrBranchFixed)
	assert.Equal(t, 0, st.count("Giza"))

	require.NoError(t, v.SelectBranch(ctx, "Cairo"))
	require.NoError(t, v.ToggleAttendance(ctx, "C2"))

	records, err := st.Store.QueryByBranch(ctx, "Cairo")
	require.NoError(t, err)
	assert.Equal(t, "Omar", records[1].UpdatedBy)
	assert.Equal(t, "transport", records[1].UpdatedByTeam)
}

func TestRead(t *testing.T) {
	st := newGatedStore(t)
	ctx := context.Background()

	snap, err := Read(ctx, st, external, "Cairo")
	require.NoError(t, err)
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, member.Counts{Present: 1, Absent: 1, Total: 2}, snap.Counts())
	assert.Equal(t, 0, st.Subscribers())

	driver := member.User{Name: "Omar", Code: "T1", Team: member.TeamTransport, Branch: "Cairo"}
	_, err = Read(ctx, st, driver, "Giza")
	assert.ErrorIs(t, err, ErrBranchFixed)
	assert.Equal(t, 0, st.count("Giza"))

	st.SetFault(func(op string) error {
		if op == store.OpQuery {
			return errors.New("timeout")
		}
		return nil
	})
	_, err = Read(ctx, st, external, "Cairo")
	assert.True(t, store.IsStoreError(err))
}

func TestOnUpdate_VersionsIncrease(t *testing.T) {
	st := newGatedStore(t)
	var mu sync.Mutex
	var versions []uint64
	var ready atomic.Int32
	cfg := testConfig(true)
	cfg.OnUpdate = func(s Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
		if s.State == StateReady {
			ready.Add(1)
		}
	}
	v := newView(t, st, external, cfg)
	ctx := context.Background()

	require.NoError(t, v.SelectBranch(ctx, "Cairo"))
	require.NoError(t, v.ToggleAttendance(ctx, "C1"))
	require.Eventually(t, func() bool { return ready.Load() >= 3 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(true))
	ctx := context.Background()
	require.NoError(t, v.SelectBranch(ctx, "Cairo"))

	before := v.Snapshot()
	require.NoError(t, v.ToggleAttendance(ctx, "C2"))
	r, _ := before.Member("C2")
	assert.Equal(t, member.StatusAbsent, r.Status, "earlier snapshot must not change")
}

func TestSnapshotHelpers(t *testing.T) {
	st := newGatedStore(t)
	v := newView(t, st, external, testConfig(true))
	require.NoError(t, v.SelectBranch(context.Background(), "Cairo"))
	snap := v.Snapshot()

	present, absent := snap.Split()
	require.Len(t, present, 1)
	require.Len(t, absent, 1)
	assert.Equal(t, "C1", present[0].Code)
	assert.Equal(t, "C2", absent[0].Code)

	found := snap.Search("sar")
	require.Len(t, found, 1)
	assert.Equal(t, "C2", found[0].Code)

	_, ok := snap.Member("G1")
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "empty", StateEmpty.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "unknown", State(9).String())
}

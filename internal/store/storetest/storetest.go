// Package storetest holds the behavior every store backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/store"
)

// NotifyTimeout bounds how long a test waits for a change notification.
const NotifyTimeout = 5 * time.Second

// Factory returns a fresh, empty store. The test closes it.
type Factory func(t *testing.T) store.Store

// Fixture is a small two-branch dataset.
func Fixture() []member.Record {
	return []member.Record{
		{Code: "C1", Name: "Ali", Branch: "Cairo", Category: "VIP", Status: member.StatusPresent},
		{Code: "C2", Name: "Sara", Branch: "Cairo", Category: "Staff", Status: member.StatusAbsent},
		{Code: "G1", Name: "Hoda", Branch: "Giza", Category: "Guest", Status: member.StatusAbsent},
	}
}

// Run exercises newStore against the store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("EmptyProbe", func(t *testing.T) { testEmptyProbe(t, newStore) })
	t.Run("InsertAndQuery", func(t *testing.T) { testInsertAndQuery(t, newStore) })
	t.Run("QueryIsolation", func(t *testing.T) { testQueryIsolation(t, newStore) })
	t.Run("UpdateStatus", func(t *testing.T) { testUpdateStatus(t, newStore) })
	t.Run("UpdateUnknownCode", func(t *testing.T) { testUpdateUnknownCode(t, newStore) })
	t.Run("NotificationScope", func(t *testing.T) { testNotificationScope(t, newStore) })
	t.Run("CancelledSubscription", func(t *testing.T) { testCancelledSubscription(t, newStore) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore) })
}

func open(t *testing.T, newStore Factory) store.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seeded(t *testing.T, newStore Factory) store.Store {
	t.Helper()
	s := open(t, newStore)
	require.NoError(t, s.InsertMany(context.Background(), Fixture(), member.SystemActor))
	return s
}

// WaitFor blocks until ch receives or the timeout elapses.
func WaitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(NotifyTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func signal() (chan struct{}, func()) {
	ch := make(chan struct{}, 16)
	return ch, func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// settle discards notifications still in flight from seeding; backends
// with asynchronous feeds may deliver them after Subscribe returns.
func settle(chs ...chan struct{}) {
	time.Sleep(200 * time.Millisecond)
	for _, ch := range chs {
		for len(ch) > 0 {
			<-ch
		}
	}
}

func testEmptyProbe(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ok, err := s.HasAny(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func testInsertAndQuery(t *testing.T, newStore Factory) {
	s := seeded(t, newStore)
	ctx := context.Background()

	ok, err := s.HasAny(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	records, err := s.QueryByBranch(ctx, "Cairo")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Ali", records[0].Name)
	assert.Equal(t, "Sara", records[1].Name)
	assert.Equal(t, member.StatusPresent, records[0].Status)
	assert.Equal(t, "System", records[0].UpdatedBy)
	assert.Equal(t, "Initial Load", records[0].UpdatedByTeam)

	none, err := s.QueryByBranch(ctx, "Aswan")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testQueryIsolation(t *testing.T, newStore Factory) {
	s := seeded(t, newStore)
	for _, branch := range []string{"Cairo", "Giza"} {
		records, err := s.QueryByBranch(context.Background(), branch)
		require.NoError(t, err)
		for _, r := range records {
			assert.Equal(t, branch, r.Branch, "query for %s returned %s", branch, r.Code)
		}
	}
}

func testUpdateStatus(t *testing.T, newStore Factory) {
	s := seeded(t, newStore)
	ctx := context.Background()
	actor := member.Actor{Name: "Omar", Team: "transport"}

	require.NoError(t, s.UpdateStatus(ctx, "C2", member.StatusPresent, actor))
	// Same value again: unconditional write, still succeeds.
	require.NoError(t, s.UpdateStatus(ctx, "C2", member.StatusPresent, actor))

	records, err := s.QueryByBranch(ctx, "Cairo")
	require.NoError(t, err)
	require.Len(t, records, 2)
	sara := records[1]
	assert.Equal(t, "C2", sara.Code)
	assert.Equal(t, member.StatusPresent, sara.Status)
	assert.Equal(t, "Omar", sara.UpdatedBy)
	assert.Equal(t, "transport", sara.UpdatedByTeam)
	assert.Equal(t, "Sara", sara.Name, "update must leave other fields untouched")
	assert.Equal(t, "Staff", sara.Category)
}

func testUpdateUnknownCode(t *testing.T, newStore Factory) {
	s := seeded(t, newStore)
	err := s.UpdateStatus(context.Background(), "NOPE", member.StatusAbsent, member.Actor{Name: "x"})
	assert.NoError(t, err)
}

func testNotificationScope(t *testing.T, newStore Factory) {
	s := seeded(t, newStore)
	cairoCh, cairo := signal()
	gizaCh, giza := signal()

	subA, err := s.Subscribe("Cairo", cairo)
	require.NoError(t, err)
	defer subA.Cancel()
	subB, err := s.Subscribe("Giza", giza)
	require.NoError(t, err)
	defer subB.Cancel()
	assert.Equal(t, "Cairo", subA.Branch())
	settle(cairoCh, gizaCh)

	require.NoError(t, s.UpdateStatus(context.Background(), "G1", member.StatusPresent, member.Actor{Name: "Mona"}))
	WaitFor(t, gizaCh, "Giza notification")

	select {
	case <-cairoCh:
		t.Fatal("Cairo subscriber notified of a Giza change")
	case <-time.After(200 * time.Millisecond):
	}
}

func testCancelledSubscription(t *testing.T, newStore Factory) {
	s := seeded(t, newStore)
	ch, fire := signal()

	sub, err := s.Subscribe("Cairo", fire)
	require.NoError(t, err)
	sub.Cancel()
	sub.Cancel()

	require.NoError(t, s.UpdateStatus(context.Background(), "C1", member.StatusAbsent, member.Actor{Name: "Mona"}))
	select {
	case <-ch:
		t.Fatal("cancelled subscription fired")
	case <-time.After(200 * time.Millisecond):
	}
}

func testClosed(t *testing.T, newStore Factory) {
	s := newStore(t)
	require.NoError(t, s.Close())

	_, err := s.QueryByBranch(context.Background(), "Cairo")
	require.Error(t, err)
	assert.True(t, store.IsStoreError(err), "closed store must return StoreError, got %T", err)
}

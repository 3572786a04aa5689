// Package memory provides an in-process Store. Notifications are delivered
// synchronously after each write. It backs tests and single-process demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/store"
	"github.com/eventroll/rollcall/internal/store/notify"
)

var (
	_ store.Store        = (*Store)(nil)
	_ store.StatusWriter = (*Store)(nil)
)

// Store keeps records in a map keyed by code.
type Store struct {
	mu      sync.RWMutex
	records map[string]member.Record
	closed  bool

	hub   *notify.Hub
	now   func() time.Time
	fault func(op string) error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]member.Record),
		hub:     notify.NewHub(),
		now:     time.Now,
	}
}

// SetFault installs a hook consulted before every operation; a non-nil
// return fails the operation with that cause. Pass nil to clear it.
func (s *Store) SetFault(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

func (s *Store) check(op, key string) error {
	if s.closed {
		return store.Wrap(op, key, store.ErrClosed)
	}
	if s.fault != nil {
		if err := s.fault(op); err != nil {
			return store.Wrap(op, key, err)
		}
	}
	return nil
}

// QueryByBranch implements store.Store.
func (s *Store) QueryByBranch(ctx context.Context, branch string) ([]member.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap(store.OpQuery, branch, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(store.OpQuery, branch); err != nil {
		return nil, err
	}

	var out []member.Record
	for _, r := range s.records {
		if r.Branch == branch {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// UpdateStatus implements store.Store. Updating an unknown code succeeds
// without effect.
func (s *Store) UpdateStatus(ctx context.Context, code string, status member.Status, actor member.Actor) error {
	_, err := s.WriteStatus(ctx, code, status, actor)
	return err
}

// WriteStatus implements store.StatusWriter.
func (s *Store) WriteStatus(ctx context.Context, code string, status member.Status, actor member.Actor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", store.Wrap(store.OpUpdate, code, err)
	}
	if !status.Valid() {
		return "", store.Wrap(store.OpUpdate, code, fmt.Errorf("invalid status %d", status))
	}

	s.mu.Lock()
	if err := s.check(store.OpUpdate, code); err != nil {
		s.mu.Unlock()
		return "", err
	}
	r, ok := s.records[code]
	if ok {
		r.Status = status
		r.UpdatedBy = actor.Name
		r.UpdatedByTeam = actor.Team
		r.UpdatedAt = s.now()
		s.records[code] = r
	}
	s.mu.Unlock()

	if !ok {
		return "", nil
	}
	s.hub.Publish(r.Branch)
	return r.Branch, nil
}

// InsertMany implements store.Store. A duplicate code fails the whole
// batch and nothing is inserted.
func (s *Store) InsertMany(ctx context.Context, records []member.Record, actor member.Actor) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap(store.OpInsert, "", err)
	}

	s.mu.Lock()
	if err := s.check(store.OpInsert, ""); err != nil {
		s.mu.Unlock()
		return err
	}
	batch := make(map[string]struct{}, len(records))
	for i := range records {
		r := &records[i]
		if err := r.Validate(); err != nil {
			s.mu.Unlock()
			return store.Wrap(store.OpInsert, r.Code, err)
		}
		if _, dup := s.records[r.Code]; dup {
			s.mu.Unlock()
			return store.Wrap(store.OpInsert, r.Code, fmt.Errorf("duplicate code"))
		}
		if _, dup := batch[r.Code]; dup {
			s.mu.Unlock()
			return store.Wrap(store.OpInsert, r.Code, fmt.Errorf("duplicate code in batch"))
		}
		batch[r.Code] = struct{}{}
	}

	now := s.now()
	branches := make(map[string]struct{})
	for _, r := range records {
		r.UpdatedBy = actor.Name
		r.UpdatedByTeam = actor.Team
		r.UpdatedAt = now
		s.records[r.Code] = r
		branches[r.Branch] = struct{}{}
	}
	s.mu.Unlock()

	for b := range branches {
		s.hub.Publish(b)
	}
	return nil
}

// HasAny implements store.Store.
func (s *Store) HasAny(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, store.Wrap(store.OpProbe, "", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(store.OpProbe, ""); err != nil {
		return false, err
	}
	return len(s.records) > 0, nil
}

// Subscribe implements store.Store.
func (s *Store) Subscribe(branch string, onChange func()) (store.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(store.OpSubscribe, branch); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(branch, onChange), nil
}

// Delete removes a record and notifies its branch. It exists for
// administrative tooling and tests; the attendance flow never deletes.
func (s *Store) Delete(code string) bool {
	s.mu.Lock()
	r, ok := s.records[code]
	delete(s.records, code)
	s.mu.Unlock()
	if ok {
		s.hub.Publish(r.Branch)
	}
	return ok
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	return s.hub.Len()
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}

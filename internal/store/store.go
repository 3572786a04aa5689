// Package store defines the contract of the shared attendance store.
//
// The store is the single source of truth for member status. Backends live
// in subpackages (memory, sqlite, postgres); this package holds the
// interface, the error type every backend returns, and decorators that add
// metrics and change-event publishing to any backend.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/eventroll/rollcall/internal/member"
)

// Store is the remote store adapter used by bootstrap and branch views.
type Store interface {
	// QueryByBranch returns every record of one branch, ordered by name
	// then code. Records of other branches are never returned.
	QueryByBranch(ctx context.Context, branch string) ([]member.Record, error)

	// UpdateStatus writes status and provenance for the record keyed by
	// code. It is an unconditional last-write-wins update: it does not check
	// that the row exists or that the status changes.
	UpdateStatus(ctx context.Context, code string, status member.Status, actor member.Actor) error

	// InsertMany inserts records stamped with actor. Used by bootstrap.
	InsertMany(ctx context.Context, records []member.Record, actor member.Actor) error

	// HasAny reports whether at least one record exists.
	HasAny(ctx context.Context) (bool, error)

	// Subscribe registers onChange for any insert, update or delete of a
	// record in branch. onChange carries no payload; the subscriber
	// re-queries. It is called from notifier goroutines and must not block.
	Subscribe(branch string, onChange func()) (Subscription, error)

	// Close releases connections and stops notification goroutines.
	Close() error
}

// StatusWriter is implemented by stores that can report which record a
// status write touched. Every backend in this module implements it.
type StatusWriter interface {
	// WriteStatus behaves like UpdateStatus and returns the branch of the
	// updated record, or "" when no record has code.
	WriteStatus(ctx context.Context, code string, status member.Status, actor member.Actor) (string, error)
}

// WriteStatus updates code through s and reports the affected branch. For
// a store without StatusWriter the branch is unknown and "" is returned
// even when a record was written.
func WriteStatus(ctx context.Context, s Store, code string, status member.Status, actor member.Actor) (string, error) {
	if w, ok := s.(StatusWriter); ok {
		return w.WriteStatus(ctx, code, status, actor)
	}
	return "", s.UpdateStatus(ctx, code, status, actor)
}

// Subscription is a live change-notification channel for one branch.
type Subscription interface {
	// Branch returns the subscribed branch.
	Branch() string
	// Cancel releases the subscription. Safe to call more than once.
	Cancel()
}

// Operation names carried by Error.
const (
	OpQuery     = "query"
	OpUpdate    = "update"
	OpInsert    = "insert"
	OpProbe     = "probe"
	OpSubscribe = "subscribe"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Error is the StoreError every backend returns: a recoverable failure of a
// query, update, insert, probe or subscription. Callers decide whether to
// retry; nothing in the store retries on its own.
type Error struct {
	Op  string // one of the Op constants
	Key string // branch or member code, when relevant
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as a *Error for op and key. A nil err stays nil and an
// err that already is a *Error is returned unchanged.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}

// IsStoreError reports whether err is, or wraps, a *Error.
func IsStoreError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

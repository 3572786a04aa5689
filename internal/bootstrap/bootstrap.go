package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/store"
)

// Source yields the seed members grouped by branch.
type Source interface {
	Branches() []string
	MembersByBranch(branch string) []member.Record
}

// Result reports what EnsureInitialized did.
type Result struct {
	// Inserted is the number of records written; zero when the store was
	// already initialized.
	Inserted int
	// AlreadyInitialized is true when the store held records before the call.
	AlreadyInitialized bool
}

// Synchronizer copies the seed dataset into an empty store.
type Synchronizer struct {
	store  store.Store
	source Source
	logger *log.Logger
}

// New creates a Synchronizer.
//
// If logger is nil, a default logger writing to stderr is used.
func New(st store.Store, source Source, logger *log.Logger) *Synchronizer {
	if logger == nil {
		logger = log.New(os.Stderr, "[bootstrap] ", log.LstdFlags)
	}
	return &Synchronizer{
		store:  st,
		source: source,
		logger: logger,
	}
}

// EnsureInitialized inserts every seed member if the store is empty.
//
// A nil error means the store is initialized, by this call or an earlier
// one. Store failures are returned as *store.Error and nothing is retried.
func (s *Synchronizer) EnsureInitialized(ctx context.Context) (Result, error) {
	exists, err := s.store.HasAny(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to probe store: %w", err)
	}
	if exists {
		s.logger.Printf("Store already initialized")
		return Result{AlreadyInitialized: true}, nil
	}

	records := s.Records()
	if len(records) == 0 {
		s.logger.Printf("WARNING: seed dataset is empty, nothing to insert")
		return Result{}, nil
	}

	if err := s.store.InsertMany(ctx, records, member.SystemActor); err != nil {
		return Result{}, fmt.Errorf("failed to insert seed records: %w", err)
	}

	s.logger.Printf("Initialized store: %d members across %d branches",
		len(records), len(s.source.Branches()))
	return Result{Inserted: len(records)}, nil
}

// Records returns the seed members of every branch, branch by branch.
func (s *Synchronizer) Records() []member.Record {
	var records []member.Record
	for _, b := range s.source.Branches() {
		records = append(records, s.source.MembersByBranch(b)...)
	}
	return records
}

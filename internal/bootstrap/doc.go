// Package bootstrap seeds an empty attendance store from the seed dataset.
//
// Overview
//
// The first process to start against a fresh store copies every seed
// member into it, stamped with the System / Initial Load actor. Later
// starts find records present and do nothing:
//
//	Seed dataset (CSV)
//	     └── Branches → MembersByBranch   → []member.Record
//	                                           ↓
//	                                      Synchronizer
//	                                           ↓
//	                                  HasAny? ── yes → done
//	                                           ↓ no
//	                                      InsertMany
//
// Usage
//
//	sync := bootstrap.New(st, seed.Default(), nil)
//	res, err := sync.EnsureInitialized(ctx)
//	if err != nil {
//	    return err
//	}
//	if !res.AlreadyInitialized {
//	    log.Printf("seeded %d members", res.Inserted)
//	}
//
// Two processes booting against the same empty store at the same moment
// may both see it empty. The loser's InsertMany fails on duplicate codes
// and no records are duplicated; callers treat that failure like any
// other store error.
package bootstrap

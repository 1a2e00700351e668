// Package keepalive serializes the scheduler's SuspendExcNodes list to
// disk and tracks, durably, which names the reconciler itself added so
// it never removes a name an operator placed there by hand.
//
// One *bolt.DB per daemon with a single owned_names bucket keyed by
// node name (the value is a "1" marker), transactions scoped with
// db.Update/db.View.
package keepalive

import (
	"context"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/cyclecloud/azslurmd/pkg/atomicwrite"
	"github.com/cyclecloud/azslurmd/pkg/errs"
)

var bucketOwned = []byte("owned_names")

// ConfigReader reads and writes the scheduler's own view of a config
// parameter.
type ConfigReader interface {
	ShowConfigValue(ctx context.Context, key string) (string, error)
	UpdateConfigValue(ctx context.Context, key, value string) error
}

// Store is the durable record of which node names the reconciler
// itself added to SuspendExcNodes, so a later pass only ever removes
// names it owns.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if necessary) the bbolt file at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigError, "opening keep-alive store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOwned)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.ConfigError, "initializing keep-alive store", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkOwned records that the reconciler added name to SuspendExcNodes.
func (s *Store) MarkOwned(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOwned).Put([]byte(name), []byte("1"))
	})
}

// Forget removes the ownership record for name, normally after it has
// been removed from SuspendExcNodes.
func (s *Store) Forget(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOwned).Delete([]byte(name))
	})
}

// Owns reports whether the reconciler's own records show it added name.
func (s *Store) Owns(name string) bool {
	var owned bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		owned = tx.Bucket(bucketOwned).Get([]byte(name)) != nil
		return nil
	})
	return owned
}

const managedFileHeader = "# Managed by azslurmd\n"

// Refresher serializes SuspendExcNodes to a managed file and tracks
// its own additions durably via Store.
type Refresher struct {
	scheduler ConfigReader
	store     *Store
	filePath  string

	initialized bool
	lastRaw     string
	current     map[string]struct{}
}

// NewRefresher builds a Refresher writing to filePath.
func NewRefresher(scheduler ConfigReader, store *Store, filePath string) *Refresher {
	return &Refresher{scheduler: scheduler, store: store, filePath: filePath, current: map[string]struct{}{}}
}

// Refresh re-reads SuspendExcNodes from the scheduler, rewrites the
// managed file only if the raw value changed, and returns the parsed
// name set to drive the reconciler's membership decisions.
func (r *Refresher) Refresh(ctx context.Context) (map[string]struct{}, error) {
	raw, err := r.scheduler.ShowConfigValue(ctx, "SuspendExcNodes")
	if err != nil {
		return nil, err
	}

	if r.initialized && raw == r.lastRaw {
		return r.current, nil
	}

	if err := atomicwrite.File(r.filePath, []byte(managedFileHeader+raw+"\n"), 0644); err != nil {
		return nil, errs.Wrap(errs.Unavailable, "writing SuspendExcNodes file", err)
	}

	r.initialized = true
	r.lastRaw = raw
	r.current = parseNames(raw)
	return r.current, nil
}

// Add appends name to the in-memory set and marks it owned, ready for
// the next Sync to persist to the scheduler.
func (r *Refresher) Add(name string) {
	r.current[name] = struct{}{}
	_ = r.store.MarkOwned(name)
}

// RemoveIfOwned removes name from the in-memory set only if this
// reconciler's durable records show it was the one that added it.
func (r *Refresher) RemoveIfOwned(name string) bool {
	if !r.store.Owns(name) {
		return false
	}
	delete(r.current, name)
	_ = r.store.Forget(name)
	return true
}

// Names returns the current in-memory set, sorted.
func (r *Refresher) Names() []string {
	names := make([]string, 0, len(r.current))
	for n := range r.current {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Sync pushes the in-memory set, as left by this pass's Add/
// RemoveIfOwned calls, back to the scheduler and rewrites the managed
// file to match, but only if it differs from what Refresh last saw.
// Callers run this once per pass, after enumerating every scheduler
// node, so that SuspendExcNodes and the managed snapshot both equal
// the pass's keep-alive decisions before the next pass begins.
func (r *Refresher) Sync(ctx context.Context) error {
	value := strings.Join(r.Names(), ",")
	if r.initialized && value == r.lastRaw {
		return nil
	}

	if err := r.scheduler.UpdateConfigValue(ctx, "SuspendExcNodes", value); err != nil {
		return errs.Wrap(errs.Unavailable, "updating SuspendExcNodes", err)
	}
	if err := atomicwrite.File(r.filePath, []byte(managedFileHeader+value+"\n"), 0644); err != nil {
		return errs.Wrap(errs.Unavailable, "writing SuspendExcNodes file", err)
	}

	r.initialized = true
	r.lastRaw = value
	return nil
}

func parseNames(raw string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, n := range strings.Split(raw, ",") {
		n = strings.TrimSpace(n)
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Package registry holds the durable set of identities approved to use the relay.
//
// The in-memory set is the operational truth. Every mutation is flushed to the
// configured Store before the call returns; a failed flush is reported as a
// *PersistError but the mutation is kept.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/infodancer/relayd/internal/identity"
	"github.com/infodancer/relayd/internal/metrics"
)

// ErrMalformed is returned by Load when stored state cannot be parsed.
// The registry starts empty in that case.
var ErrMalformed = errors.New("malformed registry data")

// PersistError reports a failed flush after a mutation.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("registry %s: persist failed: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Notifier delivers a status message to an identity.
type Notifier interface {
	Notify(ctx context.Context, to identity.Identity, text string) error
}

// DefaultWelcome is sent to an identity the first time it is approved.
const DefaultWelcome = "You have been approved to use the bot. You can now upload a .txt file containing phone numbers."

// Config holds the dependencies of a Registry.
type Config struct {
	Store     Store
	Notifier  Notifier          // nil disables welcome messages
	Welcome   string            // empty uses DefaultWelcome
	Collector metrics.Collector // nil → NoopCollector
	Logger    *slog.Logger      // nil → slog.Default()
}

// Registry is the approved-identity set.
type Registry struct {
	mu      sync.RWMutex
	members map[identity.Identity]struct{}

	store     Store
	notifier  Notifier
	welcome   string
	collector metrics.Collector
	logger    *slog.Logger
}

// New creates an empty Registry. Call Load to hydrate it from the store.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	welcome := cfg.Welcome
	if welcome == "" {
		welcome = DefaultWelcome
	}

	return &Registry{
		members:   make(map[identity.Identity]struct{}),
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		welcome:   welcome,
		collector: collector,
		logger:    logger,
	}
}

// Load replaces the in-memory set with the store's contents.
// Missing storage yields an empty set and no error. Any other failure
// also leaves the registry empty and usable; the error is returned so the
// caller can log it.
func (r *Registry) Load(ctx context.Context) error {
	ids, err := r.store.Load(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = make(map[identity.Identity]struct{}, len(ids))
	if err != nil {
		r.collector.ApprovedIdentities(0)
		return err
	}
	for _, id := range ids {
		r.members[id] = struct{}{}
	}
	r.collector.ApprovedIdentities(len(r.members))
	r.logger.Info("registry loaded", slog.Int("approved", len(r.members)))
	return nil
}

// Approve adds id to the set. It reports whether id was newly added;
// approving an existing member is a no-op. A newly approved identity
// receives the welcome message.
func (r *Registry) Approve(ctx context.Context, id identity.Identity) (bool, error) {
	id, err := canonical(id)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	if _, ok := r.members[id]; ok {
		r.mu.Unlock()
		return false, nil
	}
	r.members[id] = struct{}{}
	persistErr := r.persistLocked(ctx, "approve")
	n := len(r.members)
	r.mu.Unlock()

	r.collector.RegistryMutated("approve")
	r.collector.ApprovedIdentities(n)
	r.logger.Info("identity approved", slog.String("identity", id.String()))

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, id, r.welcome); err != nil {
			r.logger.Warn("welcome message failed",
				slog.String("identity", id.String()),
				slog.String("error", err.Error()))
		}
	}
	return true, persistErr
}

// Remove deletes id from the set. It reports whether id was a member;
// removing a non-member is a no-op.
func (r *Registry) Remove(ctx context.Context, id identity.Identity) (bool, error) {
	id, err := canonical(id)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	if _, ok := r.members[id]; !ok {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.members, id)
	persistErr := r.persistLocked(ctx, "remove")
	n := len(r.members)
	r.mu.Unlock()

	r.collector.RegistryMutated("remove")
	r.collector.ApprovedIdentities(n)
	r.logger.Info("identity removed", slog.String("identity", id.String()))
	return true, persistErr
}

// IsApproved reports whether id is in the set.
func (r *Registry) IsApproved(id identity.Identity) bool {
	id, err := canonical(id)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

// Members returns the approved identities in sorted order.
func (r *Registry) Members() []identity.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of approved identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Persist writes the full set to the store.
func (r *Registry) Persist(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.persistLocked(ctx, "persist")
}

// persistLocked flushes the set. Callers must hold r.mu.
func (r *Registry) persistLocked(ctx context.Context, op string) error {
	if err := r.store.Save(ctx, r.snapshotLocked()); err != nil {
		r.logger.Error("registry persist failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
		return &PersistError{Op: op, Err: err}
	}
	return nil
}

func (r *Registry) snapshotLocked() []identity.Identity {
	ids := make([]identity.Identity, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func canonical(id identity.Identity) (identity.Identity, error) {
	return identity.Parse(string(id))
}

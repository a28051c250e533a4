package rbac

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// SnapshotLoader reads a user's permission snapshot from the store.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, userID string) (*Snapshot, error)
}

// Checker answers permission questions. Every method fails closed.
type Checker interface {
	HasPermission(ctx context.Context, userID, permission string) bool
	HasAnyPermission(ctx context.Context, userID string, permissions ...string) bool
	HasAllPermissions(ctx context.Context, userID string, permissions ...string) bool
}

// Resolver is the single authority for global permission checks. It loads
// per-user snapshots, caches them, and collapses concurrent loads for the
// same user into one query.
type Resolver struct {
	loader  SnapshotLoader
	cache   Cache
	logger  *observability.Logger
	metrics *observability.Metrics

	group singleflight.Group
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache sets the snapshot cache. The default is NoCache.
func WithCache(cache Cache) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithLogger sets the logger used to report lookup failures.
func WithLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics records check and cache outcomes.
func WithMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = metrics
	}
}

// NewResolver creates a resolver reading from loader.
func NewResolver(loader SnapshotLoader, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		loader: loader,
		cache:  NoCache(),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns the user's current snapshot.
func (r *Resolver) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	if snap, ok := r.cache.Get(ctx, userID); ok {
		r.metrics.RecordPermissionCache(observability.ResultHit)
		return snap, nil
	}
	r.metrics.RecordPermissionCache(observability.ResultMiss)

	// A fill that started before an invalidation is returned to its
	// callers but never cached.
	gen, genErr := r.cache.Generation(ctx, userID)
	if genErr != nil {
		r.logger.WithError(genErr).WithField("user_id", userID).Warn("permission cache unavailable, snapshot will not be cached")
	}
	v, err, _ := r.group.Do(userID+"@"+gen, func() (interface{}, error) {
		ctx, span := observability.StartSpan(ctx, "rbac.LoadSnapshot",
			trace.WithAttributes(attribute.String("user.id", userID)))
		defer span.End()

		start := time.Now()
		snap, err := r.loader.LoadSnapshot(ctx, userID)
		r.metrics.ObservePermissionFill(time.Since(start))
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if genErr == nil {
			r.cache.Set(ctx, userID, gen, snap)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// HasPermission reports whether the user holds permission. An override
// decides when present, otherwise the user's role does. Any lookup error
// denies.
func (r *Resolver) HasPermission(ctx context.Context, userID, permission string) bool {
	if userID == "" || permission == "" {
		r.metrics.RecordPermissionCheck(observability.ResultDenied)
		return false
	}
	snap, err := r.Snapshot(ctx, userID)
	if err != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":    userID,
			"permission": permission,
		}).Error("permission lookup failed, denying")
		r.metrics.RecordPermissionCheck(observability.ResultError)
		return false
	}
	allowed := snap.Has(permission)
	if allowed {
		r.metrics.RecordPermissionCheck(observability.ResultAllowed)
	} else {
		r.metrics.RecordPermissionCheck(observability.ResultDenied)
	}
	return allowed
}

// HasAnyPermission is true when at least one permission is held.
func (r *Resolver) HasAnyPermission(ctx context.Context, userID string, permissions ...string) bool {
	for _, p := range permissions {
		if r.HasPermission(ctx, userID, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions is true when every permission is held.
func (r *Resolver) HasAllPermissions(ctx context.Context, userID string, permissions ...string) bool {
	for _, p := range permissions {
		if !r.HasPermission(ctx, userID, p) {
			return false
		}
	}
	return true
}

// GetUserPermissions returns the effective permission names, sorted. Any
// lookup error yields an empty set.
func (r *Resolver) GetUserPermissions(ctx context.Context, userID string) []string {
	snap, err := r.Snapshot(ctx, userID)
	if err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Error("permission lookup failed")
		return []string{}
	}
	return snap.Effective()
}

// Invalidate drops the cached snapshot for one user. It returns after the
// cache entry is gone, so the next check reads fresh data.
func (r *Resolver) Invalidate(ctx context.Context, userID string) error {
	return r.cache.Invalidate(ctx, userID)
}

// InvalidateAll drops every cached snapshot. Role-level changes use this
// since any number of users may hold the role.
func (r *Resolver) InvalidateAll(ctx context.Context) error {
	return r.cache.InvalidateAll(ctx)
}

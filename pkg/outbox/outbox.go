// Package outbox pushes locally-originated sharing artifacts to the remote
// service in dependency order, recovering from missing-dependency responses
// up to a bounded depth.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relves/scopesync/internal/storage"
	"github.com/relves/scopesync/pkg/graph"
	"github.com/relves/scopesync/pkg/types"
)

// maxResolveDepth bounds missing-dependency recursion. Without it a remote
// returning a shifting set of "missing" ids would recurse forever.
const maxResolveDepth = 10

// DefaultRetention is how long pushed artifacts are kept before purging.
const DefaultRetention = 24 * time.Hour

var (
	// ErrDepthExceeded terminates missing-dependency resolution past
	// maxResolveDepth.
	ErrDepthExceeded = errors.New("missing-dependency resolution depth exceeded")
	// ErrDependencyNotLocal means the remote requires an artifact the
	// outbox does not hold; it cannot be synthesized locally.
	ErrDependencyNotLocal = errors.New("required dependency not in outbox")
)

// PushStats aggregates a push run's outcome. Callers needing recovery just
// invoke Push again later; no per-artifact bookkeeping is required.
type PushStats struct {
	Pushed int
	Failed int
}

// Config configures an Outbox.
type Config struct {
	Store     storage.OutboxStore
	Transport Transport
	// Retention is how long pushed artifacts survive before the purge at
	// the end of a push run. Default: 24h.
	Retention time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Retention == 0 {
		c.Retention = DefaultRetention
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Outbox orders pending artifacts by dependency and pushes them through
// the transport port.
type Outbox struct {
	store     storage.OutboxStore
	transport Transport
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	// Concurrent Push calls coalesce into one in-flight run: a caller that
	// arrives during a run waits for it and requests one further run,
	// instead of overlapping transport traffic.
	mu        sync.Mutex
	running   bool
	rerun     bool
	done      chan struct{}
	lastStats PushStats
	lastErr   error
}

// New creates an Outbox.
func New(cfg Config) *Outbox {
	cfg.ApplyDefaults()
	return &Outbox{
		store:     cfg.Store,
		transport: cfg.Transport,
		retention: cfg.Retention,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Enqueue queues an artifact for push. An empty id is assigned a fresh
// UUID; status and enqueue time default for new artifacts.
func (o *Outbox) Enqueue(ctx context.Context, artifact *types.OutboxArtifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	if artifact.Status == "" {
		artifact.Status = types.ArtifactPending
	}
	if artifact.EnqueuedAt.IsZero() {
		artifact.EnqueuedAt = o.now().UTC()
	}
	return o.store.Enqueue(ctx, artifact)
}

// Push pushes all pending artifacts in dependency order and reports
// aggregate counts. A call that lands while another Push is running waits
// for the in-flight run (plus the rerun it requests) and returns its
// outcome.
func (o *Outbox) Push(ctx context.Context) (PushStats, error) {
	o.mu.Lock()
	if o.running {
		o.rerun = true
		done := o.done
		o.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return PushStats{}, ctx.Err()
		}

		o.mu.Lock()
		stats, err := o.lastStats, o.lastErr
		o.mu.Unlock()
		return stats, err
	}
	o.running = true
	o.done = make(chan struct{})
	o.mu.Unlock()

	stats, err := o.pushOnce(ctx)
	for {
		o.mu.Lock()
		if o.rerun {
			o.rerun = false
			o.mu.Unlock()

			more, moreErr := o.pushOnce(ctx)
			stats.Pushed += more.Pushed
			stats.Failed += more.Failed
			if err == nil {
				err = moreErr
			}
			continue
		}
		o.lastStats, o.lastErr = stats, err
		o.running = false
		close(o.done)
		o.mu.Unlock()
		return stats, err
	}
}

func (o *Outbox) pushOnce(ctx context.Context) (PushStats, error) {
	pending, err := o.store.LoadPending(ctx)
	if err != nil {
		return PushStats{}, fmt.Errorf("load pending artifacts: %w", err)
	}
	if len(pending) == 0 {
		return PushStats{}, nil
	}

	pushed, err := o.store.LoadPushedIDs(ctx)
	if err != nil {
		return PushStats{}, fmt.Errorf("load pushed ids: %w", err)
	}

	sorted, err := graph.Sort(pending, pushed)
	if err != nil {
		// A cycle or unresolved external dependency poisons the whole
		// batch; nothing can be pushed safely out of order.
		o.logger.Warn("outbox batch unorderable", "error", err, "pending", len(pending))
		return PushStats{Failed: len(pending)}, nil
	}

	// Dependency resolution can transport artifacts that also sit later in
	// the sorted batch; those must not be dispatched a second time.
	resolved := make(map[string]bool)

	var stats PushStats
	for _, artifact := range sorted {
		if resolved[artifact.ID] {
			stats.Pushed++
			continue
		}
		if err := o.pushArtifact(ctx, artifact, 0, resolved); err != nil {
			// Later artifacts may silently depend on the one that just
			// failed; ordering correctness beats per-cycle throughput.
			o.logger.Warn("artifact push failed, stopping batch",
				"artifact_id", artifact.ID, "type", artifact.Type, "error", err)
			stats.Failed++
			break
		}
		if err := o.store.MarkPushed(ctx, artifact.ID); err != nil {
			return stats, fmt.Errorf("mark artifact %s pushed: %w", artifact.ID, err)
		}
		stats.Pushed++
	}

	cutoff := o.now().Add(-o.retention)
	if err := o.store.ClearPushed(ctx, cutoff); err != nil {
		return stats, fmt.Errorf("purge pushed artifacts: %w", err)
	}

	return stats, nil
}

// pushArtifact pushes one artifact, resolving missing-dependency responses
// recursively up to maxResolveDepth and retrying the original push exactly
// once after resolution. Dependencies transported along the way are recorded
// in resolved.
func (o *Outbox) pushArtifact(ctx context.Context, artifact *types.OutboxArtifact, depth int, resolved map[string]bool) error {
	if depth > maxResolveDepth {
		return fmt.Errorf("%w: artifact %s at depth %d", ErrDepthExceeded, artifact.ID, depth)
	}

	res, err := o.dispatch(ctx, artifact)
	if err != nil {
		return err
	}
	if res.OK {
		return nil
	}
	if res.Reason != ReasonMissingDeps {
		return fmt.Errorf("remote rejected artifact %s: %s", artifact.ID, res.Reason)
	}

	if err := o.resolveMissingDeps(ctx, res.MissingDeps, depth+1, resolved); err != nil {
		return err
	}

	// One retry after resolution; a second failure is final for this call.
	res, err = o.dispatch(ctx, artifact)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("artifact %s still rejected after dependency resolution: %s", artifact.ID, res.Reason)
	}
	return nil
}

// dispatch routes a push by artifact type. Events travel through a
// separate synchronization channel; the outbox tracks them only so the
// dependency graph stays complete, so their push is a no-op success.
func (o *Outbox) dispatch(ctx context.Context, artifact *types.OutboxArtifact) (PushResponse, error) {
	switch artifact.Type {
	case types.ArtifactScopeState:
		return o.transport.PushScopeState(ctx, artifact.ID, artifact.Payload)
	case types.ArtifactGrant:
		return o.transport.PushResourceGrant(ctx, artifact.ID, artifact.Payload)
	case types.ArtifactEvent:
		return PushResponse{OK: true}, nil
	default:
		return PushResponse{}, fmt.Errorf("unknown artifact type %q for artifact %s", artifact.Type, artifact.ID)
	}
}

func (o *Outbox) resolveMissingDeps(ctx context.Context, missing []string, depth int, resolved map[string]bool) error {
	for _, id := range missing {
		dep, err := o.store.LoadByID(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrDependencyNotLocal, id)
			}
			return fmt.Errorf("load dependency %s: %w", id, err)
		}

		if err := o.pushArtifact(ctx, dep, depth, resolved); err != nil {
			return err
		}
		if err := o.store.MarkPushed(ctx, dep.ID); err != nil {
			return fmt.Errorf("mark dependency %s pushed: %w", dep.ID, err)
		}
		resolved[dep.ID] = true
	}
	return nil
}

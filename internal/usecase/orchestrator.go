package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
	"CommunityScanner/internal/retry"
)

// Outcome reasons recorded on EntityOutcome.
const (
	ReasonNoCommunity    = "no community"
	ReasonReviewedNull   = "reviewed as no community"
	ReasonNoCandidates   = "no search candidates"
	ReasonResolveFailed  = "resolution failed"
	ReasonAlreadyClaimed = "community already claimed"
	ReasonInterrupted    = "interrupted"
	ReasonNotStarted     = "not started"
	ReasonCommunityGone  = "community unavailable"
	ReasonFetchFailed    = "fetch failed"
	ReasonStorageFailed  = "storage failed"
	ReasonMapSaveFailed  = "resolution map save failed"
)

const (
	defaultBatchSize = 50
	maxWorkers       = 4
)

// OrchestratorDeps wires all driven adapters into the scrape workflow.
type OrchestratorDeps struct {
	Normalizer ports.CandidateGenerator
	Resolver   ports.CommunityResolver
	Fetcher    ports.ContentFetcher
	Store      ports.CursorStore
	Map        ports.ResolutionMap
	Logger     *slog.Logger
}

// OrchestratorOptions tune one run.
type OrchestratorOptions struct {
	BatchSize        int
	Limit            int
	Workers          int
	InterEntityDelay time.Duration
	// Refresh forces resolution for the named entities; RefreshAll for every entity.
	Refresh    []string
	RefreshAll bool
}

// Orchestrator drives every entity through resolution and incremental retrieval.
type Orchestrator struct {
	normalizer ports.CandidateGenerator
	resolver   ports.CommunityResolver
	fetcher    ports.ContentFetcher
	store      ports.CursorStore
	resolution ports.ResolutionMap
	opts       OrchestratorOptions
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator constructs the orchestration component.
func NewOrchestrator(deps OrchestratorDeps, opts OrchestratorOptions) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	opts.Workers = min(max(opts.Workers, 1), maxWorkers)
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		normalizer: deps.Normalizer,
		resolver:   deps.Resolver,
		fetcher:    deps.Fetcher,
		store:      deps.Store,
		resolution: deps.Map,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Run resolves and fetches every entity. The returned error is reserved for
// problems that stop the whole run, such as an unreadable resolution map;
// per-entity failures are recorded in the summary.
func (o *Orchestrator) Run(ctx context.Context, entities []domain.Entity) (domain.RunSummary, error) {
	return o.run(ctx, entities, true)
}

// Resolve runs only the resolution phase and writes the map for review.
func (o *Orchestrator) Resolve(ctx context.Context, entities []domain.Entity) (domain.RunSummary, error) {
	return o.run(ctx, entities, false)
}

type runState struct {
	book    *resolutionBook
	refresh map[string]bool
	fetch   bool
	logger  *slog.Logger

	mu      sync.Mutex
	claimed map[string]string
}

// claim reserves handle for entity; it fails when another entity holds it.
func (s *runState) claim(handle, entity string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(handle)
	if owner, ok := s.claimed[key]; ok && owner != entity {
		return owner, false
	}
	s.claimed[key] = entity
	return entity, true
}

func (o *Orchestrator) run(ctx context.Context, entities []domain.Entity, fetch bool) (domain.RunSummary, error) {
	summary := domain.RunSummary{RunID: uuid.NewString(), StartedAt: o.now().UTC()}
	logger := o.logger.With("run_id", summary.RunID)

	if o.resolution == nil {
		return summary, errors.New("resolution map is not configured")
	}
	book, err := openResolutionBook(o.resolution)
	if err != nil {
		return summary, err
	}

	entities = uniqueEntities(entities)
	state := &runState{
		book:    book,
		refresh: make(map[string]bool, len(o.opts.Refresh)),
		fetch:   fetch,
		logger:  logger,
		claimed: make(map[string]string),
	}
	for _, name := range o.opts.Refresh {
		state.refresh[name] = true
	}

	logger.Info("run started", "entities", len(entities), "workers", o.opts.Workers, "fetch", fetch)

	outcomes := make([]domain.EntityOutcome, len(entities))
	for i, e := range entities {
		outcomes[i] = domain.EntityOutcome{Entity: e.Name, State: domain.StatePending}
	}

	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, entity := range entities {
		if i > 0 && o.opts.InterEntityDelay > 0 {
			if err := retry.Sleep(ctx, o.opts.InterEntityDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcomes[i] = o.process(ctx, state, entity)
			return nil
		})
	}
	_ = g.Wait()

	for i := range outcomes {
		if !outcomes[i].State.Terminal() {
			outcomes[i].Reason = ReasonNotStarted
		}
	}

	summary.Outcomes = outcomes
	summary.FinishedAt = o.now().UTC()
	logger.Info("run finished",
		"entities", len(entities),
		"done", summary.Count(domain.StateDone),
		"skipped", summary.Count(domain.StateSkipped),
		"new_items", summary.NewItems(),
		"failed", summary.Failed(),
		"duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

func (o *Orchestrator) process(ctx context.Context, state *runState, entity domain.Entity) domain.EntityOutcome {
	name := entity.Name
	out := domain.EntityOutcome{Entity: name, State: domain.StatePending}
	logger := state.logger.With("entity", name)

	entry, exists := state.book.get(name)
	refresh := o.opts.RefreshAll || state.refresh[name]
	if needsResolution(entry, exists, refresh) {
		out.State = domain.StateResolving
		logger.Debug("entity state", "state", out.State)

		resolved, reason, err := o.resolve(ctx, state, name, entry, exists)
		if err != nil && ctx.Err() != nil {
			out.State = domain.StateDone
			out.Reason = ReasonInterrupted
			return out
		}
		if err != nil {
			out.Failed = true
			out.Err = err
			out.Reason = reason
			if reason == ReasonMapSaveFailed {
				out.State = domain.StateDone
			} else {
				out.State = domain.StateSkipped
			}
			logger.Error("resolution failed", "error", err)
			return out
		}
		entry = resolved
		out.Resolved = true
		if reason != "" && !entry.Resolved() {
			out.State = domain.StateSkipped
			out.Reason = reason
			logger.Info("entity skipped", "reason", reason)
			return out
		}
	}

	if !entry.Resolved() {
		out.State = domain.StateSkipped
		out.Reason = ReasonNoCommunity
		if entry.Reviewed {
			out.Reason = ReasonReviewedNull
		}
		logger.Info("entity skipped", "reason", out.Reason)
		return out
	}

	handle := entry.Handle()
	out.Community = handle
	if !state.fetch {
		out.State = domain.StateDone
		return out
	}

	if owner, ok := state.claim(handle, name); !ok {
		out.State = domain.StateSkipped
		out.Reason = ReasonAlreadyClaimed
		logger.Warn("entity skipped", "reason", out.Reason, "community", handle, "claimed_by", owner)
		return out
	}

	out.State = domain.StateFetching
	logger.Debug("entity state", "state", out.State, "community", handle)
	o.fetch(ctx, logger, name, handle, &out)
	out.State = domain.StateDone
	logger.Info("entity done",
		"community", handle,
		"new_items", out.NewItems,
		"batches", out.Batches,
		"failed", out.Failed,
		"reason", out.Reason)
	return out
}

// resolve runs the resolver and records the result. A non-empty reason with a
// nil error explains a null result.
func (o *Orchestrator) resolve(ctx context.Context, state *runState, name string, previous domain.ResolutionEntry, existed bool) (domain.ResolutionEntry, string, error) {
	if o.normalizer == nil || o.resolver == nil {
		return previous, ReasonResolveFailed, errors.New("resolver is not configured")
	}

	candidates := o.normalizer.Candidates(name)
	var (
		resolved domain.ResolutionEntry
		reason   string
	)
	if len(candidates) == 0 {
		resolved = domain.ResolutionEntry{EntityName: name}
		reason = ReasonNoCandidates
	} else {
		var err error
		resolved, err = o.resolver.Resolve(ctx, name, candidates)
		if err != nil {
			if !existed {
				// leave a gap so the next run tries again
				if saveErr := state.book.put(domain.ResolutionEntry{EntityName: name}); saveErr != nil {
					state.logger.Warn("resolution map save failed", "entity", name, "error", saveErr)
				}
			}
			return previous, ReasonResolveFailed, fmt.Errorf("resolve %s: %w", name, err)
		}
		if !resolved.Resolved() {
			reason = ReasonNoCommunity
		}
	}

	resolved.EntityName = name
	resolved.Reviewed = false
	resolved.Refresh = false
	if err := state.book.put(resolved); err != nil {
		return previous, ReasonMapSaveFailed, err
	}
	return resolved, reason, nil
}

// fetch streams new items into batches and commits each full batch before
// asking for more. On cancellation the uncommitted batch is dropped.
func (o *Orchestrator) fetch(ctx context.Context, logger *slog.Logger, entity, handle string, out *domain.EntityOutcome) {
	cursor, err := o.store.Load(ctx, handle)
	if err != nil {
		o.fail(ctx, out, ReasonStorageFailed, fmt.Errorf("load cursor %s: %w", handle, err))
		return
	}
	logger.Debug("cursor loaded", "community", handle, "known_items", cursor.ItemCount)

	batch := make([]domain.ContentItem, 0, o.opts.BatchSize)
	commit := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := o.store.Commit(ctx, handle, batch); err != nil {
			return fmt.Errorf("commit %s: %w", handle, err)
		}
		out.NewItems += cursor.Advance(batch)
		out.Batches++
		logger.Debug("batch committed", "community", handle, "batch", out.Batches, "items", len(batch), "total", cursor.ItemCount)
		batch = batch[:0]
		return nil
	}

	var fetchErr error
	for item, err := range o.fetcher.Fetch(ctx, handle, &cursor, o.opts.Limit) {
		if err != nil {
			fetchErr = err
			break
		}
		if ctx.Err() != nil {
			break
		}
		item.EntityName = entity
		item.CommunityHandle = handle
		batch = append(batch, item)
		if len(batch) >= o.opts.BatchSize {
			if err := commit(); err != nil {
				o.fail(ctx, out, ReasonStorageFailed, err)
				return
			}
		}
	}

	if ctx.Err() != nil {
		if len(batch) > 0 {
			logger.Info("discarding uncommitted batch", "community", handle, "items", len(batch))
		}
		out.Reason = ReasonInterrupted
		return
	}

	// items fetched before an error are still worth keeping
	if err := commit(); err != nil {
		o.fail(ctx, out, ReasonStorageFailed, err)
		return
	}

	if fetchErr != nil {
		reason := ReasonFetchFailed
		if isCommunityUnavailable(fetchErr) {
			reason = ReasonCommunityGone
		}
		o.fail(ctx, out, reason, fetchErr)
	}
}

func (o *Orchestrator) fail(ctx context.Context, out *domain.EntityOutcome, reason string, err error) {
	if ctx.Err() != nil {
		out.Reason = ReasonInterrupted
		return
	}
	out.Failed = true
	out.Err = err
	out.Reason = reason
}

func isCommunityUnavailable(err error) bool {
	re, ok := domain.AsRemote(err)
	return ok && re.Permanent()
}

func uniqueEntities(in []domain.Entity) []domain.Entity {
	out := make([]domain.Entity, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, e := range in {
		if e.Name == "" {
			continue
		}
		if _, dup := seen[e.Name]; dup {
			continue
		}
		seen[e.Name] = struct{}{}
		out = append(out, e)
	}
	return out
}

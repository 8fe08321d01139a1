// Package resolver picks the community most likely to discuss an entity.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/adrg/strutil"
	"golang.org/x/time/rate"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
	"CommunityScanner/internal/retry"
)

// Options are the scoring knobs exposed through configuration.
type Options struct {
	SearchLimit         int
	AcceptanceThreshold float64
	Metric              string
	ActivityWeight      float64
	MinMembers          int
}

// Resolver queries community search with each candidate until one is accepted.
type Resolver struct {
	searcher ports.CommunitySearcher
	metric   strutil.StringMetric
	opts     Options
	policy   retry.Policy
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New wires a searcher with scoring options. limiter may be nil.
func New(searcher ports.CommunitySearcher, opts Options, policy retry.Policy, limiter *rate.Limiter, logger *slog.Logger) (*Resolver, error) {
	if searcher == nil {
		return nil, errors.New("resolver: searcher is required")
	}
	metric, err := NewMetric(opts.Metric)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		searcher: searcher,
		metric:   metric,
		opts:     opts,
		policy:   policy,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// Resolve walks candidates in order and stops at the first one whose best
// search hit clears the acceptance threshold. A null entry comes back when no
// candidate qualifies. When a search fails after retries the entry is null and
// the error is returned so the caller can record the failure.
func (r *Resolver) Resolve(ctx context.Context, entityName string, candidates []string) (domain.ResolutionEntry, error) {
	entry := domain.ResolutionEntry{EntityName: entityName}

	for _, query := range candidates {
		hits, err := r.search(ctx, query)
		if err != nil {
			return entry, fmt.Errorf("search %q: %w", query, err)
		}

		ranked := r.Rank(query, hits)
		if len(ranked) == 0 {
			r.logger.Debug("no eligible community", "entity", entityName, "query", query, "hits", len(hits))
			continue
		}

		best := ranked[0]
		handle := best.Handle
		entry.CommunityHandle = &handle
		r.logger.Info("community resolved",
			"entity", entityName,
			"query", query,
			"community", handle,
			"similarity", best.SimilarityScore,
			"members", best.MemberCount)
		return entry, nil
	}

	r.logger.Info("no community cleared threshold", "entity", entityName, "candidates", len(candidates))
	return entry, nil
}

// Rank scores hits against query and returns only those at or above the
// acceptance threshold, best first.
func (r *Resolver) Rank(query string, hits []domain.CommunitySummary) []domain.CommunityCandidate {
	var eligible []domain.CommunityCandidate
	for _, hit := range hits {
		if hit.Handle == "" || hit.MemberCount < r.opts.MinMembers {
			continue
		}
		sim := Similarity(r.metric, query, hit.Handle, hit.Title)
		if sim < r.opts.AcceptanceThreshold {
			continue
		}
		eligible = append(eligible, domain.CommunityCandidate{
			Handle:          hit.Handle,
			Title:           hit.Title,
			MemberCount:     hit.MemberCount,
			ActiveCount:     hit.ActiveCount,
			SimilarityScore: sim,
			Score:           sim + r.opts.ActivityWeight*activity(hit.MemberCount),
		})
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.MemberCount != b.MemberCount {
			return a.MemberCount > b.MemberCount
		}
		return a.Handle < b.Handle
	})
	return eligible
}

func (r *Resolver) search(ctx context.Context, query string) ([]domain.CommunitySummary, error) {
	policy := r.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("search retry", "query", query, "attempt", attempt, "wait", wait, "error", err)
	}
	return retry.Do(ctx, policy, retry.ClassifyRemote, func(ctx context.Context) ([]domain.CommunitySummary, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return r.searcher.SearchCommunities(ctx, query, r.opts.SearchLimit)
	})
}

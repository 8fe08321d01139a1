// Package fetcher pages through a community listing and yields items not yet persisted.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
	"CommunityScanner/internal/retry"
)

// Options control paging.
type Options struct {
	Sort     string
	PageSize int
	MaxPages int
}

// CommunityError reports that a community cannot be read at all.
type CommunityError struct {
	Community string
	Kind      domain.RemoteErrorKind
	Err       error
}

func (e *CommunityError) Error() string {
	return fmt.Sprintf("community %s unavailable (%s): %v", e.Community, e.Kind, e.Err)
}

func (e *CommunityError) Unwrap() error { return e.Err }

// Fetcher is safe for concurrent use when its limiter is.
type Fetcher struct {
	lister  ports.ContentLister
	opts    Options
	policy  retry.Policy
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New builds a Fetcher. limiter may be nil to disable proactive pacing.
func New(lister ports.ContentLister, opts Options, policy retry.Policy, limiter *rate.Limiter, logger *slog.Logger) *Fetcher {
	if opts.Sort == "" {
		opts.Sort = "comments"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{lister: lister, opts: opts, policy: policy, limiter: limiter, logger: logger}
}

// Fetch yields up to limit items of community that cursor has not seen, in
// listing order. limit <= 0 means no limit beyond MaxPages. The sequence ends
// after the first error; a *CommunityError means the community is gone or closed.
// The cursor is only read.
func (f *Fetcher) Fetch(ctx context.Context, community string, cursor *domain.RetrievalCursor, limit int) iter.Seq2[domain.ContentItem, error] {
	return func(yield func(domain.ContentItem, error) bool) {
		yielded := make(map[string]struct{})
		after := ""

		for page := 1; page <= f.opts.MaxPages; page++ {
			if err := ctx.Err(); err != nil {
				yield(domain.ContentItem{}, err)
				return
			}

			req := domain.ListingRequest{
				Community: community,
				Sort:      f.opts.Sort,
				After:     after,
				Limit:     f.opts.PageSize,
			}
			listing, err := f.page(ctx, req)
			if err != nil {
				yield(domain.ContentItem{}, f.wrap(ctx, community, page, err))
				return
			}

			skipped := 0
			for _, item := range listing.Items {
				if !usable(item) {
					skipped++
					continue
				}
				if cursor != nil && cursor.Seen(item.ID) {
					skipped++
					continue
				}
				if _, dup := yielded[item.ID]; dup {
					skipped++
					continue
				}
				yielded[item.ID] = struct{}{}
				item.CommunityHandle = community
				if !yield(item, nil) {
					return
				}
				if limit > 0 && len(yielded) >= limit {
					f.logger.Debug("fetch limit reached", "community", community, "page", page, "items", len(yielded))
					return
				}
			}

			f.logger.Debug("page fetched",
				"community", community,
				"page", page,
				"listed", len(listing.Items),
				"skipped", skipped,
				"yielded", len(yielded))

			if listing.After == "" {
				return
			}
			after = listing.After
		}
		f.logger.Debug("max pages reached", "community", community, "pages", f.opts.MaxPages)
	}
}

func (f *Fetcher) page(ctx context.Context, req domain.ListingRequest) (domain.ListingPage, error) {
	policy := f.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		f.logger.Warn("listing retry",
			"community", req.Community,
			"after", req.After,
			"attempt", attempt,
			"wait", wait,
			"error", err)
	}
	return retry.Do(ctx, policy, retry.ClassifyRemote, func(ctx context.Context) (domain.ListingPage, error) {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return domain.ListingPage{}, err
			}
		}
		return f.lister.ListContent(ctx, req)
	})
}

func (f *Fetcher) wrap(ctx context.Context, community string, page int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if re, ok := domain.AsRemote(err); ok && re.Permanent() {
		return &CommunityError{Community: community, Kind: re.Kind, Err: err}
	}
	return fmt.Errorf("list %s page %d: %w", community, page, err)
}

// usable drops tombstones and items that cannot be deduplicated or dated.
func usable(item domain.ContentItem) bool {
	if item.ID == "" || item.CreatedAt.IsZero() {
		return false
	}
	switch strings.TrimSpace(item.Text) {
	case "", "[deleted]", "[removed]":
		return false
	}
	return true
}

// IsCommunityError reports whether err marks an unreadable community.
func IsCommunityError(err error) bool {
	var ce *CommunityError
	return errors.As(err, &ce)
}

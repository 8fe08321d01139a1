package ports

import (
	"context"
	"iter"
	"time"

	"CommunityScanner/internal/domain"
)

// EntitySource produces the institutions to resolve (ranking scrape, list file).
type EntitySource interface {
	Entities(ctx context.Context) ([]domain.Entity, error)
}

// CommunitySearcher queries the remote community search.
type CommunitySearcher interface {
	SearchCommunities(ctx context.Context, query string, limit int) ([]domain.CommunitySummary, error)
}

// ContentLister pages through a community's content listing.
type ContentLister interface {
	ListContent(ctx context.Context, req domain.ListingRequest) (domain.ListingPage, error)
}

// CandidateGenerator turns an entity name into ordered search queries.
type CandidateGenerator interface {
	Candidates(name string) []string
}

// CommunityResolver maps an entity to at most one community.
type CommunityResolver interface {
	Resolve(ctx context.Context, entityName string, candidates []string) (domain.ResolutionEntry, error)
}

// ContentFetcher yields items of a community the cursor has not seen.
type ContentFetcher interface {
	Fetch(ctx context.Context, community string, cursor *domain.RetrievalCursor, limit int) iter.Seq2[domain.ContentItem, error]
}

// CursorStore persists committed items per community and the cursor derived from them.
type CursorStore interface {
	Load(ctx context.Context, community string) (domain.RetrievalCursor, error)
	// Commit durably records items; either all of them or none are visible afterwards.
	Commit(ctx context.Context, community string, items []domain.ContentItem) error
}

// CorpusReader exposes the committed raw corpus to downstream consumers.
type CorpusReader interface {
	Communities(ctx context.Context) ([]string, error)
	Items(ctx context.Context, community string) ([]domain.ContentItem, error)
}

// ResolutionMap is the human-reviewable entity to community record.
type ResolutionMap interface {
	Load() ([]domain.ResolutionEntry, error)
	Save(entries []domain.ResolutionEntry) error
}

// SentimentScorer is the external sentiment collaborator.
type SentimentScorer interface {
	Score(ctx context.Context, items []domain.ContentItem) ([]domain.ScoredItem, error)
}

// Notifier streams run reports to Telegram or other channels.
type Notifier interface {
	PublishReport(ctx context.Context, report string) error
}

// Scheduler controls when scrape runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

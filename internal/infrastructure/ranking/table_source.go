// Package ranking scrapes institution names from a published ranking table.
package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"CommunityScanner/internal/domain"
)

var (
	trailerExpr = regexp.MustCompile(`(?i)More\s*Details\s*Close\s*\|\|`)
	spaceExpr   = regexp.MustCompile(`\s+`)
)

// Options locate the table and bound the extraction.
type Options struct {
	URL        string
	MaxRank    int
	RankPrefix string
	UserAgent  string
}

// TableSource reads one ranking page and returns names in rank order.
type TableSource struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
}

// NewTableSource wires an HTTP client; MaxRank defaults to 100 and RankPrefix to "IR-".
func NewTableSource(client *http.Client, opts Options, logger *slog.Logger) *TableSource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if opts.MaxRank <= 0 {
		opts.MaxRank = 100
	}
	if opts.RankPrefix == "" {
		opts.RankPrefix = "IR-"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TableSource{client: client, opts: opts, logger: logger}
}

// Name identifies the strategy inside the registry.
func (s *TableSource) Name() string {
	return "ranking"
}

// Entities downloads the ranking page and extracts institution names.
func (s *TableSource) Entities(ctx context.Context) ([]domain.Entity, error) {
	if s.opts.URL == "" {
		return nil, fmt.Errorf("ranking url is not configured")
	}
	doc, err := s.fetchDocument(ctx, s.opts.URL)
	if err != nil {
		return nil, err
	}

	entities := ParseTable(doc, s.opts.RankPrefix, s.opts.MaxRank)
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: no ranked rows at %s", domain.ErrMalformedEntities, s.opts.URL)
	}
	s.logger.Debug("ranking table parsed", "url", s.opts.URL, "entities", len(entities))
	return entities, nil
}

func (s *TableSource) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request ranking page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ranking page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// ParseTable walks the ranking table rows whose first cell starts with
// rankPrefix and returns at most maxRank names.
func ParseTable(doc *goquery.Document, rankPrefix string, maxRank int) []domain.Entity {
	table := doc.Find(`table[id*="tblRanking"]`).First()
	if table.Length() == 0 {
		table = doc.Find("table").First()
	}

	var (
		out  []domain.Entity
		seen = map[string]struct{}{}
	)
	table.Find("tbody > tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if len(out) >= maxRank {
			return false
		}
		cells := row.ChildrenFiltered("td")
		if cells.Length() < 2 {
			return true
		}
		rank := strings.TrimSpace(cells.Eq(0).Text())
		if rank == "" || !strings.HasPrefix(rank, rankPrefix) {
			return true
		}

		name := cleanName(cells.Eq(1).Text())
		if name == "" {
			return true
		}
		if _, dup := seen[name]; dup {
			return true
		}
		seen[name] = struct{}{}
		out = append(out, domain.Entity{Name: name})
		return true
	})
	return out
}

func cleanName(text string) string {
	if loc := trailerExpr.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	return strings.TrimSpace(spaceExpr.ReplaceAllString(text, " "))
}

package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
)

// Export formats.
const (
	ExportJSON  = "json"
	ExportJSONL = "jsonl"
)

// ExportStats summarises an export.
type ExportStats struct {
	Communities int
	Items       int
}

// ExportCorpus writes the committed corpus. The json format is one object keyed
// "<entity> (r/<handle>)"; jsonl writes one item per line.
func ExportCorpus(ctx context.Context, reader ports.CorpusReader, w io.Writer, format string) (ExportStats, error) {
	var stats ExportStats
	if format != ExportJSON && format != ExportJSONL {
		return stats, fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidConfig, format)
	}

	communities, err := reader.Communities(ctx)
	if err != nil {
		return stats, fmt.Errorf("list communities: %w", err)
	}

	grouped := make(map[string][]domain.ContentItem, len(communities))
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for _, handle := range communities {
		items, err := reader.Items(ctx, handle)
		if err != nil {
			return stats, fmt.Errorf("read %s: %w", handle, err)
		}
		items = uniqueItems(items)
		if len(items) == 0 {
			continue
		}
		stats.Communities++
		stats.Items += len(items)

		if format == ExportJSONL {
			for _, item := range items {
				if err := enc.Encode(item); err != nil {
					return stats, fmt.Errorf("encode item: %w", err)
				}
			}
			continue
		}
		grouped[corpusKey(items[0].EntityName, handle)] = items
	}

	if format == ExportJSON {
		enc.SetIndent("", "  ")
		if err := enc.Encode(grouped); err != nil {
			return stats, fmt.Errorf("encode corpus: %w", err)
		}
	}
	return stats, nil
}

func corpusKey(entity, handle string) string {
	if entity == "" {
		entity = handle
	}
	return fmt.Sprintf("%s (r/%s)", entity, handle)
}

func uniqueItems(items []domain.ContentItem) []domain.ContentItem {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

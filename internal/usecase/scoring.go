package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"CommunityScanner/internal/ports"
)

// ScoreStats summarises a scoring pass.
type ScoreStats struct {
	Items   int
	Batches int
}

// ScoreCorpus sends the committed corpus to scorer in batches and writes one
// JSON line per scored item.
func ScoreCorpus(ctx context.Context, reader ports.CorpusReader, scorer ports.SentimentScorer, w io.Writer, batchSize int, logger *slog.Logger) (ScoreStats, error) {
	var stats ScoreStats
	if scorer == nil {
		return stats, errors.New("sentiment scorer is not configured")
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	communities, err := reader.Communities(ctx)
	if err != nil {
		return stats, fmt.Errorf("list communities: %w", err)
	}

	enc := json.NewEncoder(w)
	for _, handle := range communities {
		items, err := reader.Items(ctx, handle)
		if err != nil {
			return stats, fmt.Errorf("read %s: %w", handle, err)
		}
		items = uniqueItems(items)

		for start := 0; start < len(items); start += batchSize {
			end := min(start+batchSize, len(items))
			scored, err := scorer.Score(ctx, items[start:end])
			if err != nil {
				return stats, fmt.Errorf("score %s items %d-%d: %w", handle, start, end, err)
			}
			for _, s := range scored {
				if err := enc.Encode(s); err != nil {
					return stats, fmt.Errorf("encode score: %w", err)
				}
			}
			stats.Items += len(scored)
			stats.Batches++
		}
		logger.Debug("community scored", "community", handle, "items", len(items))
	}
	return stats, nil
}

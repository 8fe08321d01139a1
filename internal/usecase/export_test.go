package usecase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CommunityScanner/internal/domain"
)

type memoryCorpus map[string][]domain.ContentItem

func (m memoryCorpus) Communities(context.Context) ([]string, error) {
	out := make([]string, 0, len(m))
	for _, k := range []string{"ExampleInstitute", "IITBombay", "empty"} {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m memoryCorpus) Items(_ context.Context, community string) ([]domain.ContentItem, error) {
	return m[community], nil
}

func corpusFixture() memoryCorpus {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return memoryCorpus{
		"ExampleInstitute": {
			{ID: "a", EntityName: "Example Institute", CommunityHandle: "ExampleInstitute", Text: "great <campus>", CreatedAt: at},
			{ID: "b", EntityName: "Example Institute", CommunityHandle: "ExampleInstitute", Text: "ok", CreatedAt: at},
			{ID: "a", EntityName: "Example Institute", CommunityHandle: "ExampleInstitute", Text: "great <campus>", CreatedAt: at},
		},
		"IITBombay": {
			{ID: "c", EntityName: "IIT Bombay", CommunityHandle: "IITBombay", Text: "hostel food", CreatedAt: at},
		},
		"empty": nil,
	}
}

func TestExportCorpusJSON(t *testing.T) {
	var buf bytes.Buffer
	stats, err := ExportCorpus(context.Background(), corpusFixture(), &buf, ExportJSON)
	require.NoError(t, err)
	assert.Equal(t, ExportStats{Communities: 2, Items: 3}, stats)

	var got map[string][]domain.ContentItem
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got["Example Institute (r/ExampleInstitute)"], 2)
	require.Len(t, got["IIT Bombay (r/IITBombay)"], 1)
	assert.Contains(t, buf.String(), "great <campus>")
}

func TestExportCorpusJSONL(t *testing.T) {
	var buf bytes.Buffer
	stats, err := ExportCorpus(context.Background(), corpusFixture(), &buf, ExportJSONL)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Items)

	var ids []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var item domain.ContentItem
		require.NoError(t, json.Unmarshal(sc.Bytes(), &item))
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestExportCorpusUnknownFormat(t *testing.T) {
	_, err := ExportCorpus(context.Background(), corpusFixture(), &bytes.Buffer{}, "csv")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

type fakeScorer struct {
	batches [][]domain.ContentItem
	err     error
}

func (f *fakeScorer) Score(_ context.Context, items []domain.ContentItem) ([]domain.ScoredItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, items)
	out := make([]domain.ScoredItem, 0, len(items))
	for _, it := range items {
		compound := -0.5
		if strings.Contains(it.Text, "great") {
			compound = 0.8
		}
		out = append(out, domain.ScoredItem{ID: it.ID, EntityName: it.EntityName, CommunityHandle: it.CommunityHandle, Compound: compound})
	}
	return out, nil
}

func TestScoreCorpus(t *testing.T) {
	scorer := &fakeScorer{}
	var buf bytes.Buffer

	stats, err := ScoreCorpus(context.Background(), corpusFixture(), scorer, &buf, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, ScoreStats{Items: 3, Batches: 3}, stats)
	assert.Len(t, scorer.batches, 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var first domain.ScoredItem
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a", first.ID)
	assert.InDelta(t, 0.8, first.Compound, 1e-9)
}

func TestScoreCorpusErrors(t *testing.T) {
	_, err := ScoreCorpus(context.Background(), corpusFixture(), nil, &bytes.Buffer{}, 10, nil)
	assert.Error(t, err)

	boom := errors.New("scoring service down")
	_, err = ScoreCorpus(context.Background(), corpusFixture(), &fakeScorer{err: boom}, &bytes.Buffer{}, 10, nil)
	assert.ErrorIs(t, err, boom)
}

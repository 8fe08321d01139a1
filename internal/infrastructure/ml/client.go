package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
)

// Client talks to an external sentiment service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.SentimentScorer = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

type scoreRequest struct {
	Items []scoreInput `json:"items"`
}

type scoreInput struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type scoreResponse struct {
	Scores []struct {
		ID       string  `json:"id"`
		Compound float64 `json:"compound"`
		Pos      float64 `json:"pos"`
		Neu      float64 `json:"neu"`
		Neg      float64 `json:"neg"`
	} `json:"scores"`
}

// Score sends one batch to POST /score. Items the service does not return a
// score for are left out of the result.
func (c *Client) Score(ctx context.Context, items []domain.ContentItem) ([]domain.ScoredItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	payload := scoreRequest{Items: make([]scoreInput, 0, len(items))}
	byID := make(map[string]domain.ContentItem, len(items))
	for _, it := range items {
		payload.Items = append(payload.Items, scoreInput{ID: it.ID, Text: it.Text})
		byID[it.ID] = it
	}

	var resp scoreResponse
	if err := c.post(ctx, "/score", payload, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.ScoredItem, 0, len(resp.Scores))
	for _, s := range resp.Scores {
		it, ok := byID[s.ID]
		if !ok {
			continue
		}
		out = append(out, domain.ScoredItem{
			ID:              s.ID,
			EntityName:      it.EntityName,
			CommunityHandle: it.CommunityHandle,
			Compound:        s.Compound,
			Positive:        s.Pos,
			Neutral:         s.Neu,
			Negative:        s.Neg,
		})
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Package reddit implements community search and listings against the Reddit JSON API.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
)

const (
	tokenSafetyMargin = time.Minute
	permalinkBase     = "https://www.reddit.com"
	maxRedirects      = 10
)

// Config holds endpoints and credentials. Without ClientID and ClientSecret the
// client reads the anonymous endpoints at BaseURL.
type Config struct {
	BaseURL      string
	OAuthBaseURL string
	TokenURL     string
	ClientID     string
	ClientSecret string
	UserAgent    string
	Timeout      time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ ports.CommunitySearcher = (*Client)(nil)
var _ ports.ContentLister = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.OAuthBaseURL = strings.TrimRight(cfg.OAuthBaseURL, "/")
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if strings.Contains(req.URL.Path, "/subreddits/search") || len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		now: time.Now,
	}
}

// SearchCommunities returns up to limit communities matching query.
func (c *Client) SearchCommunities(ctx context.Context, query string, limit int) ([]domain.CommunitySummary, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("raw_json", "1")

	var listing listingEnvelope[subredditData]
	if err := c.get(ctx, "search", "/subreddits/search.json", params, &listing); err != nil {
		return nil, err
	}

	out := make([]domain.CommunitySummary, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		d := child.Data
		out = append(out, domain.CommunitySummary{
			Handle:      d.DisplayName,
			Title:       d.Title,
			MemberCount: d.Subscribers,
			ActiveCount: d.ActiveUserCount,
		})
	}
	return out, nil
}

// ListContent returns one page of a community listing. Sort "comments" reads the
// comment stream; any other sort reads submissions.
func (c *Client) ListContent(ctx context.Context, req domain.ListingRequest) (domain.ListingPage, error) {
	sortPath := req.Sort
	if sortPath == "" {
		sortPath = "comments"
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(req.Limit))
	params.Set("raw_json", "1")
	if req.After != "" {
		params.Set("after", req.After)
	}

	path := fmt.Sprintf("/r/%s/%s.json", url.PathEscape(req.Community), sortPath)
	var listing listingEnvelope[thingData]
	if err := c.get(ctx, "list "+req.Community, path, params, &listing); err != nil {
		return domain.ListingPage{}, err
	}

	page := domain.ListingPage{After: listing.Data.After}
	for _, child := range listing.Data.Children {
		page.Items = append(page.Items, child.Data.item(req.Community))
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, v any) error {
	base := c.cfg.BaseURL
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		base = c.cfg.OAuthBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyNetwork(ctx, err, op)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == statusUnauthorized {
			c.dropToken()
		}
		return classifyStatus(resp, op)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return classifyParse(err, op)
	}
	return nil
}

// accessToken returns a cached client-credentials token, or "" when OAuth is not configured.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("new token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyNetwork(ctx, err, "token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		re := classifyStatus(resp, "token")
		if resp.StatusCode == statusUnauthorized {
			// bad credentials will not fix themselves
			re.Kind = domain.RemoteForbidden
		}
		return "", re
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", classifyParse(err, "token")
	}
	if tok.AccessToken == "" {
		return "", &domain.RemoteError{Kind: domain.RemoteInvalid, Op: "token", Cause: fmt.Errorf("empty access token")}
	}

	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSafetyMargin)
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

type listingEnvelope[T any] struct {
	Kind string `json:"kind"`
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string `json:"kind"`
			Data T      `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type subredditData struct {
	DisplayName     string `json:"display_name"`
	Title           string `json:"title"`
	Subscribers     int    `json:"subscribers"`
	ActiveUserCount int    `json:"active_user_count"`
}

// thingData covers both comments (body) and submissions (title, selftext).
type thingData struct {
	ID         string  `json:"id"`
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	CreatedUTC float64 `json:"created_utc"`
	Permalink  string  `json:"permalink"`
	Score      int     `json:"score"`
}

func (d thingData) item(community string) domain.ContentItem {
	text := d.Body
	if text == "" && d.Title != "" {
		text = strings.TrimSpace(d.Title + "\n\n" + d.Selftext)
	}

	var created time.Time
	if d.CreatedUTC > 0 {
		sec := int64(d.CreatedUTC)
		created = time.Unix(sec, 0).UTC()
	}

	permalink := d.Permalink
	if strings.HasPrefix(permalink, "/") {
		permalink = permalinkBase + permalink
	}

	return domain.ContentItem{
		ID:              d.ID,
		CommunityHandle: community,
		Author:          d.Author,
		Text:            text,
		CreatedAt:       created,
		Permalink:       permalink,
		Score:           d.Score,
	}
}

package domain

import "time"

// Entity is an institution taken from the ranking list.
type Entity struct {
	Name string `json:"name"`
}

// CommunitySummary is a single hit returned by the remote community search.
type CommunitySummary struct {
	Handle      string
	Title       string
	MemberCount int
	ActiveCount int
}

// CommunityCandidate is a scored search hit. It lives for one resolution only.
type CommunityCandidate struct {
	Handle          string
	Title           string
	MemberCount     int
	ActiveCount     int
	SimilarityScore float64
	Score           float64
}

// ResolutionEntry maps one entity to its community. A nil CommunityHandle means
// no candidate cleared the acceptance threshold.
type ResolutionEntry struct {
	EntityName      string  `json:"entity_name"`
	CommunityHandle *string `json:"community_handle"`
	// Reviewed is set by a human to pin the entry, including a deliberate null.
	Reviewed bool `json:"reviewed,omitempty"`
	// Refresh asks the next run to resolve the entity again.
	Refresh bool `json:"refresh,omitempty"`
}

// Handle returns the resolved handle or "" for a null entry.
func (e ResolutionEntry) Handle() string {
	if e.CommunityHandle == nil {
		return ""
	}
	return *e.CommunityHandle
}

// Resolved reports whether the entry points at a community.
func (e ResolutionEntry) Resolved() bool {
	return e.Handle() != ""
}

// ContentItem is one piece of retrieved discussion. ID is unique per community.
type ContentItem struct {
	ID              string    `json:"id"`
	EntityName      string    `json:"entity_name"`
	CommunityHandle string    `json:"community_handle"`
	Author          string    `json:"author"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"created_at"`
	Permalink       string    `json:"permalink"`
	Score           int       `json:"score"`
}

// ListingRequest asks the remote service for one page of a community listing.
// After is an opaque pagination token; empty means the first page.
type ListingRequest struct {
	Community string
	Sort      string
	After     string
	Limit     int
}

// ListingPage is one page of a community listing. An empty After marks the end.
type ListingPage struct {
	Items []ContentItem
	After string
}

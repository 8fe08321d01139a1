package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/logging"
	"CommunityScanner/internal/retry"
)

type fakeSearcher struct {
	hits    map[string][]domain.CommunitySummary
	errs    map[string][]error
	queries []string
}

func (f *fakeSearcher) SearchCommunities(_ context.Context, query string, _ int) ([]domain.CommunitySummary, error) {
	f.queries = append(f.queries, query)
	if queue := f.errs[query]; len(queue) > 0 {
		f.errs[query] = queue[1:]
		return nil, queue[0]
	}
	return f.hits[query], nil
}

var testPolicy = retry.Policy{
	MaxAttempts:      3,
	ThrottleAttempts: 3,
	InitialBackoff:   time.Millisecond,
	MaxBackoff:       2 * time.Millisecond,
	ThrottleBackoff:  time.Millisecond,
}

func defaultOptions() Options {
	return Options{
		SearchLimit:         5,
		AcceptanceThreshold: 0.8,
		Metric:              "levenshtein",
		ActivityWeight:      0.05,
		MinMembers:          50,
	}
}

func newTestResolver(t *testing.T, s *fakeSearcher) *Resolver {
	t.Helper()
	r, err := New(s, defaultOptions(), testPolicy, nil, logging.Discard())
	require.NoError(t, err)
	return r
}

func TestResolveExampleInstitute(t *testing.T) {
	s := &fakeSearcher{hits: map[string][]domain.CommunitySummary{
		"Example Institute": {
			{Handle: "cooking", Title: "Cooking", MemberCount: 2_000_000},
			{Handle: "ExampleInstitute", Title: "Example Institute students", MemberCount: 12_000},
		},
	}}
	r := newTestResolver(t, s)

	entry, err := r.Resolve(context.Background(), "Example Institute",
		[]string{"Example Institute", "EI", "Example", "ExampleInstitute"})
	require.NoError(t, err)
	require.NotNil(t, entry.CommunityHandle)
	assert.Equal(t, "ExampleInstitute", *entry.CommunityHandle)
	assert.Equal(t, "Example Institute", entry.EntityName)
	assert.Equal(t, []string{"Example Institute"}, s.queries)
}

func TestResolveShortCircuitsOnFirstAcceptedCandidate(t *testing.T) {
	s := &fakeSearcher{hits: map[string][]domain.CommunitySummary{
		"IIT Bombay": {{Handle: "IITBombay", MemberCount: 40_000}},
		"IITB":       {{Handle: "IITB", MemberCount: 90_000}},
	}}
	r := newTestResolver(t, s)

	entry, err := r.Resolve(context.Background(), "IIT Bombay", []string{"IIT Bombay", "IITB"})
	require.NoError(t, err)
	assert.Equal(t, "IITBombay", entry.Handle())
	assert.Equal(t, []string{"IIT Bombay"}, s.queries)
}

func TestResolveFallsThroughToLaterCandidate(t *testing.T) {
	s := &fakeSearcher{hits: map[string][]domain.CommunitySummary{
		"Indian Institute of Technology Bombay": {{Handle: "india", Title: "India", MemberCount: 3_000_000}},
		"IITB":                                  {{Handle: "IITB", Title: "IIT Bombay", MemberCount: 25_000}},
	}}
	r := newTestResolver(t, s)

	entry, err := r.Resolve(context.Background(), "Indian Institute of Technology Bombay",
		[]string{"Indian Institute of Technology Bombay", "IITB", "IITBombay"})
	require.NoError(t, err)
	assert.Equal(t, "IITB", entry.Handle())
	assert.Equal(t, []string{"Indian Institute of Technology Bombay", "IITB"}, s.queries)
}

func TestResolveReturnsNullWhenNothingQualifies(t *testing.T) {
	s := &fakeSearcher{hits: map[string][]domain.CommunitySummary{
		"Obscure College": {{Handle: "gardening", MemberCount: 500_000}},
		"OC":              {{Handle: "OrangeCounty", MemberCount: 200_000}},
	}}
	r := newTestResolver(t, s)

	entry, err := r.Resolve(context.Background(), "Obscure College", []string{"Obscure College", "OC", "Obscure"})
	require.NoError(t, err)
	assert.Nil(t, entry.CommunityHandle)
	assert.False(t, entry.Resolved())
	assert.Len(t, s.queries, 3)
}

func TestResolveDiscardsSmallCommunities(t *testing.T) {
	s := &fakeSearcher{hits: map[string][]domain.CommunitySummary{
		"Tiny Institute": {{Handle: "TinyInstitute", MemberCount: 10}},
	}}
	r := newTestResolver(t, s)

	entry, err := r.Resolve(context.Background(), "Tiny Institute", []string{"Tiny Institute"})
	require.NoError(t, err)
	assert.Nil(t, entry.CommunityHandle)
}

func TestResolveRetriesTransientErrors(t *testing.T) {
	transient := &domain.RemoteError{Kind: domain.RemoteTransient, StatusCode: 502}
	s := &fakeSearcher{
		hits: map[string][]domain.CommunitySummary{"IITB": {{Handle: "IITB", MemberCount: 25_000}}},
		errs: map[string][]error{"IITB": {transient, transient}},
	}
	r := newTestResolver(t, s)

	entry, err := r.Resolve(context.Background(), "IIT Bombay", []string{"IITB"})
	require.NoError(t, err)
	assert.Equal(t, "IITB", entry.Handle())
	assert.Len(t, s.queries, 3)
}

func TestResolveDegradesToNullOnExhaustedRetries(t *testing.T) {
	transient := &domain.RemoteError{Kind: domain.RemoteTransient, StatusCode: 503}
	s := &fakeSearcher{
		hits: map[string][]domain.CommunitySummary{"IITB": {{Handle: "IITB", MemberCount: 25_000}}},
		errs: map[string][]error{"IIT Bombay": {transient, transient, transient}},
	}
	r := newTestResolver(t, s)

	entry, err := r.Resolve(context.Background(), "IIT Bombay", []string{"IIT Bombay", "IITB"})
	require.Error(t, err)
	assert.Nil(t, entry.CommunityHandle)
	assert.Equal(t, "IIT Bombay", entry.EntityName)

	re, ok := domain.AsRemote(err)
	require.True(t, ok)
	assert.Equal(t, domain.RemoteTransient, re.Kind)
}

func TestResolveStopsOnPermanentError(t *testing.T) {
	forbidden := &domain.RemoteError{Kind: domain.RemoteForbidden, StatusCode: 403}
	s := &fakeSearcher{errs: map[string][]error{"IITB": {forbidden}}}
	r := newTestResolver(t, s)

	entry, err := r.Resolve(context.Background(), "IIT Bombay", []string{"IITB"})
	var perm *retry.PermanentError
	require.True(t, errors.As(err, &perm))
	assert.Nil(t, entry.CommunityHandle)
	assert.Len(t, s.queries, 1)
}

func TestRankActivityOnlyOrdersEligibleHits(t *testing.T) {
	r := newTestResolver(t, &fakeSearcher{})

	ranked := r.Rank("Example Institute", []domain.CommunitySummary{
		{Handle: "AskReddit", MemberCount: 40_000_000},
		{Handle: "exinst", Title: "Example Institute", MemberCount: 300},
		{Handle: "ExampleInstitute", MemberCount: 80_000},
	})
	require.Len(t, ranked, 2)
	assert.Equal(t, "ExampleInstitute", ranked[0].Handle)
	assert.Equal(t, "exinst", ranked[1].Handle)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
	assert.InDelta(t, 1.0, ranked[1].SimilarityScore, 1e-9)
}

func TestSimilarity(t *testing.T) {
	m, err := NewMetric("levenshtein")
	require.NoError(t, err)

	assert.Equal(t, 1.0, Similarity(m, "IIT Bombay", "r/IITBombay", ""))
	assert.Equal(t, 1.0, Similarity(m, "Example Institute", "exinst", "Example Institute"))
	assert.GreaterOrEqual(t, Similarity(m, "Example", "ExampleUniversityAlumni", ""), containmentFloor)
	assert.Less(t, Similarity(m, "Example Institute", "cooking", "Cooking"), 0.5)
	assert.Equal(t, 0.0, Similarity(m, "!!", "anything", "anything"))
}

func TestNewRejectsUnknownMetric(t *testing.T) {
	opts := defaultOptions()
	opts.Metric = "cosine"
	_, err := New(&fakeSearcher{}, opts, testPolicy, nil, nil)
	require.Error(t, err)
}

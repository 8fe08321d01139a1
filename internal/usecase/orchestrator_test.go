package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/infrastructure/storage"
	"CommunityScanner/internal/logging"
	"CommunityScanner/internal/normalize"
)

type harness struct {
	resolver *fakeResolver
	fetcher  *fakeFetcher
	store    *storage.FileStore
	mapping  *memoryMap
	dataDir  string
}

func newHarness(t *testing.T, handles map[string]string) *harness {
	t.Helper()
	dir := t.TempDir()
	return &harness{
		resolver: newFakeResolver(handles),
		fetcher:  newFakeFetcher(),
		store:    storage.NewFileStore(dir, logging.Discard()),
		mapping:  &memoryMap{},
		dataDir:  dir,
	}
}

func (h *harness) orchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.BatchSize == 0 {
		opts.BatchSize = 50
	}
	return NewOrchestrator(OrchestratorDeps{
		Normalizer: fixedCandidates{},
		Resolver:   h.resolver,
		Fetcher:    h.fetcher,
		Store:      h.store,
		Map:        h.mapping,
		Logger:     logging.Discard(),
	}, opts)
}

func (h *harness) stored(t *testing.T, community string) []string {
	t.Helper()
	items, err := h.store.Items(context.Background(), community)
	require.NoError(t, err)
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}

func entities(names ...string) []domain.Entity {
	out := make([]domain.Entity, 0, len(names))
	for _, n := range names {
		out = append(out, domain.Entity{Name: n})
	}
	return out
}

func outcomeFor(t *testing.T, s domain.RunSummary, name string) domain.EntityOutcome {
	t.Helper()
	for _, o := range s.Outcomes {
		if o.Entity == name {
			return o
		}
	}
	t.Fatalf("no outcome for %s", name)
	return domain.EntityOutcome{}
}

func TestRunExampleInstitute(t *testing.T) {
	h := newHarness(t, map[string]string{"Example Institute": "ExampleInstitute"})
	h.fetcher.addRange("ExampleInstitute", "c", 120)

	o := NewOrchestrator(OrchestratorDeps{
		Normalizer: normalize.New(nil, nil, 5),
		Resolver:   h.resolver,
		Fetcher:    h.fetcher,
		Store:      h.store,
		Map:        storage.NewResolutionMapFile(filepath.Join(h.dataDir, "reference", "map.json")),
		Logger:     logging.Discard(),
	}, OrchestratorOptions{BatchSize: 50, Limit: 1000})

	summary, err := o.Run(context.Background(), entities("Example Institute"))
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.Failed())

	out := outcomeFor(t, summary, "Example Institute")
	assert.Equal(t, domain.StateDone, out.State)
	assert.Equal(t, "ExampleInstitute", out.Community)
	assert.Equal(t, 120, out.NewItems)
	assert.Equal(t, 3, out.Batches)

	saved, err := storage.NewResolutionMapFile(filepath.Join(h.dataDir, "reference", "map.json")).Load()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "ExampleInstitute", saved[0].Handle())

	items, err := h.store.Items(context.Background(), "ExampleInstitute")
	require.NoError(t, err)
	require.Len(t, items, 120)
	assert.Equal(t, "Example Institute", items[0].EntityName)
	assert.Equal(t, "ExampleInstitute", items[0].CommunityHandle)
}

func TestRunIsIdempotentAndIncremental(t *testing.T) {
	h := newHarness(t, map[string]string{"IIT Bombay": "IITBombay"})
	h.fetcher.addRange("IITBombay", "a", 30)
	o := h.orchestrator(OrchestratorOptions{BatchSize: 10})

	first, err := o.Run(context.Background(), entities("IIT Bombay"))
	require.NoError(t, err)
	assert.Equal(t, 30, first.NewItems())

	second, err := o.Run(context.Background(), entities("IIT Bombay"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewItems())
	assert.Equal(t, 0, outcomeFor(t, second, "IIT Bombay").Batches)
	assert.Equal(t, 1, h.resolver.callsFor("IIT Bombay"), "resolved entry must be reused")

	h.fetcher.addRange("IITBombay", "b", 5)
	third, err := o.Run(context.Background(), entities("IIT Bombay"))
	require.NoError(t, err)
	assert.Equal(t, 5, third.NewItems())
	assert.Len(t, h.stored(t, "IITBombay"), 35)
}

func TestRunSkipsNullEntriesWithoutFetching(t *testing.T) {
	h := newHarness(t, map[string]string{})
	o := h.orchestrator(OrchestratorOptions{})

	summary, err := o.Run(context.Background(), entities("Obscure College"))
	require.NoError(t, err)

	out := outcomeFor(t, summary, "Obscure College")
	assert.Equal(t, domain.StateSkipped, out.State)
	assert.Equal(t, ReasonNoCommunity, out.Reason)
	assert.False(t, out.Failed)
	assert.False(t, summary.Failed())
	assert.Empty(t, h.fetcher.calls)

	entry, ok := h.mapping.get("Obscure College")
	require.True(t, ok)
	assert.Nil(t, entry.CommunityHandle)

	// an unreviewed null is a gap and is retried on the next run
	_, err = o.Run(context.Background(), entities("Obscure College"))
	require.NoError(t, err)
	assert.Equal(t, 2, h.resolver.callsFor("Obscure College"))
}

func TestRunHonoursHumanEdits(t *testing.T) {
	h := newHarness(t, map[string]string{"Example Institute": "WrongGuess"})
	h.mapping.entries = []domain.ResolutionEntry{
		{EntityName: "Example Institute", CommunityHandle: strPtr("ExampleUni")},
		{EntityName: "Obscure College", Reviewed: true},
	}
	h.fetcher.add("ExampleUni", "x1", "x2")
	o := h.orchestrator(OrchestratorOptions{})

	summary, err := o.Run(context.Background(), entities("Example Institute", "Obscure College"))
	require.NoError(t, err)

	assert.Zero(t, h.resolver.callsFor("Example Institute"))
	assert.Zero(t, h.resolver.callsFor("Obscure College"))
	assert.Equal(t, "ExampleUni", outcomeFor(t, summary, "Example Institute").Community)
	assert.Equal(t, []string{"x1", "x2"}, h.stored(t, "ExampleUni"))

	skipped := outcomeFor(t, summary, "Obscure College")
	assert.Equal(t, domain.StateSkipped, skipped.State)
	assert.Equal(t, ReasonReviewedNull, skipped.Reason)
}

func TestRunRefreshReResolves(t *testing.T) {
	h := newHarness(t, map[string]string{"Example Institute": "ExampleInstitute"})
	h.mapping.entries = []domain.ResolutionEntry{
		{EntityName: "Example Institute", CommunityHandle: strPtr("OldHandle"), Refresh: true},
		{EntityName: "Keep Me", CommunityHandle: strPtr("KeepMe")},
	}
	o := h.orchestrator(OrchestratorOptions{})

	_, err := o.Run(context.Background(), entities("Example Institute"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.resolver.callsFor("Example Institute"))

	entry, ok := h.mapping.get("Example Institute")
	require.True(t, ok)
	assert.Equal(t, "ExampleInstitute", entry.Handle())
	assert.False(t, entry.Refresh)

	kept, ok := h.mapping.get("Keep Me")
	require.True(t, ok)
	assert.Equal(t, "KeepMe", kept.Handle())
}

func TestRunRefreshOption(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "NewA", "B": "NewB"})
	h.mapping.entries = []domain.ResolutionEntry{
		{EntityName: "A", CommunityHandle: strPtr("OldA")},
		{EntityName: "B", CommunityHandle: strPtr("OldB"), Reviewed: true},
	}

	_, err := h.orchestrator(OrchestratorOptions{Refresh: []string{"A"}}).Resolve(context.Background(), entities("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.resolver.callsFor("A"))
	assert.Zero(t, h.resolver.callsFor("B"))

	_, err = h.orchestrator(OrchestratorOptions{RefreshAll: true}).Resolve(context.Background(), entities("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.resolver.callsFor("B"))
	b, _ := h.mapping.get("B")
	assert.Equal(t, "NewB", b.Handle())
}

func TestRunSkipsAlreadyClaimedCommunity(t *testing.T) {
	h := newHarness(t, map[string]string{
		"IIT Bombay":                            "IITBombay",
		"Indian Institute of Technology Bombay": "iitbombay",
	})
	h.fetcher.add("IITBombay", "a")
	o := h.orchestrator(OrchestratorOptions{})

	summary, err := o.Run(context.Background(), entities("IIT Bombay", "Indian Institute of Technology Bombay"))
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, outcomeFor(t, summary, "IIT Bombay").State)
	second := outcomeFor(t, summary, "Indian Institute of Technology Bombay")
	assert.Equal(t, domain.StateSkipped, second.State)
	assert.Equal(t, ReasonAlreadyClaimed, second.Reason)
	assert.Zero(t, h.fetcher.callsFor("iitbombay"))
}

func TestRunInterruptedDiscardsUncommittedBatch(t *testing.T) {
	h := newHarness(t, map[string]string{"Example Institute": "ExampleInstitute"})
	h.fetcher.addRange("ExampleInstitute", "c", 120)

	ctx, cancel := context.WithCancel(context.Background())
	h.fetcher.onYield = func(_ string, n int) {
		if n == 75 {
			cancel()
		}
	}
	o := h.orchestrator(OrchestratorOptions{BatchSize: 50})

	summary, err := o.Run(ctx, entities("Example Institute"))
	require.NoError(t, err)

	out := outcomeFor(t, summary, "Example Institute")
	assert.Equal(t, domain.StateDone, out.State)
	assert.Equal(t, ReasonInterrupted, out.Reason)
	assert.False(t, out.Failed)
	assert.Equal(t, 50, out.NewItems)
	assert.Len(t, h.stored(t, "ExampleInstitute"), 50)

	// resuming fetches only what was never committed
	h.fetcher.onYield = nil
	resumed, err := o.Run(context.Background(), entities("Example Institute"))
	require.NoError(t, err)
	assert.Equal(t, 70, resumed.NewItems())

	ids := h.stored(t, "ExampleInstitute")
	assert.Len(t, ids, 120)
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestRunRecordsFetchFailures(t *testing.T) {
	h := newHarness(t, map[string]string{"Gone College": "gone", "IIT Bombay": "IITBombay"})
	h.fetcher.errs["gone"] = &domain.RemoteError{Kind: domain.RemoteNotFound, StatusCode: 404}
	h.fetcher.add("IITBombay", "a", "b")
	o := h.orchestrator(OrchestratorOptions{})

	summary, err := o.Run(context.Background(), entities("Gone College", "IIT Bombay"))
	require.NoError(t, err)
	assert.True(t, summary.Failed())

	gone := outcomeFor(t, summary, "Gone College")
	assert.Equal(t, domain.StateDone, gone.State)
	assert.True(t, gone.Failed)
	assert.Equal(t, ReasonCommunityGone, gone.Reason)

	ok := outcomeFor(t, summary, "IIT Bombay")
	assert.False(t, ok.Failed)
	assert.Equal(t, 2, ok.NewItems)
}

func TestRunCommitsItemsFetchedBeforeError(t *testing.T) {
	h := newHarness(t, map[string]string{"Flaky": "flaky"})
	h.fetcher.add("flaky", "a", "b", "c")
	h.fetcher.errs["flaky"] = errors.New("list flaky page 2: failed after 3 attempts")
	o := h.orchestrator(OrchestratorOptions{BatchSize: 50})

	summary, err := o.Run(context.Background(), entities("Flaky"))
	require.NoError(t, err)

	out := outcomeFor(t, summary, "Flaky")
	assert.True(t, out.Failed)
	assert.Equal(t, ReasonFetchFailed, out.Reason)
	assert.Equal(t, 3, out.NewItems)
	assert.Equal(t, []string{"a", "b", "c"}, h.stored(t, "flaky"))
}

func TestRunResolutionFailureLeavesGap(t *testing.T) {
	h := newHarness(t, map[string]string{})
	h.resolver.errs["Example Institute"] = &domain.RemoteError{Kind: domain.RemoteTransient, StatusCode: 503}
	o := h.orchestrator(OrchestratorOptions{})

	summary, err := o.Run(context.Background(), entities("Example Institute"))
	require.NoError(t, err)

	out := outcomeFor(t, summary, "Example Institute")
	assert.Equal(t, domain.StateSkipped, out.State)
	assert.True(t, out.Failed)
	assert.Equal(t, ReasonResolveFailed, out.Reason)

	entry, ok := h.mapping.get("Example Institute")
	require.True(t, ok)
	assert.Nil(t, entry.CommunityHandle)
	assert.False(t, entry.Reviewed)
}

func TestRunWithWorkers(t *testing.T) {
	handles := map[string]string{}
	var names []string
	h := newHarness(t, handles)
	for _, n := range []string{"A", "B", "C", "D", "E", "F"} {
		handles[n] = "sub" + n
		names = append(names, n)
		h.fetcher.addRange("sub"+n, n, 12)
	}
	o := h.orchestrator(OrchestratorOptions{BatchSize: 5, Workers: 3})

	summary, err := o.Run(context.Background(), entities(names...))
	require.NoError(t, err)
	assert.Equal(t, 6*12, summary.NewItems())
	assert.Equal(t, 6, summary.Count(domain.StateDone))
	assert.Equal(t, names, func() []string {
		out := make([]string, 0, len(summary.Outcomes))
		for _, o := range summary.Outcomes {
			out = append(out, o.Entity)
		}
		return out
	}())
	for _, n := range names {
		_, ok := h.mapping.get(n)
		assert.True(t, ok, "map entry for %s", n)
	}
}

func TestResolveOnlyDoesNotFetch(t *testing.T) {
	h := newHarness(t, map[string]string{"IIT Bombay": "IITBombay"})
	h.fetcher.add("IITBombay", "a")
	o := h.orchestrator(OrchestratorOptions{})

	summary, err := o.Resolve(context.Background(), entities("IIT Bombay", "Nowhere"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, outcomeFor(t, summary, "IIT Bombay").State)
	assert.Equal(t, domain.StateSkipped, outcomeFor(t, summary, "Nowhere").State)
	assert.Zero(t, h.fetcher.callsFor("IITBombay"))
	assert.Len(t, h.mapping.entries, 2)
}

func TestRunNotStartedAfterCancellation(t *testing.T) {
	h := newHarness(t, map[string]string{"A": "subA"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.orchestrator(OrchestratorOptions{}).Run(ctx, entities("A", "B"))
	require.NoError(t, err)
	for _, o := range summary.Outcomes {
		assert.Equal(t, domain.StatePending, o.State)
		assert.False(t, o.State.Terminal())
		assert.Equal(t, ReasonNotStarted, o.Reason)
	}
}

func TestNeedsResolution(t *testing.T) {
	handle := strPtr("x")
	tests := []struct {
		name    string
		entry   domain.ResolutionEntry
		exists  bool
		refresh bool
		want    bool
	}{
		{name: "missing", want: true},
		{name: "resolved", entry: domain.ResolutionEntry{CommunityHandle: handle}, exists: true, want: false},
		{name: "null gap", entry: domain.ResolutionEntry{}, exists: true, want: true},
		{name: "reviewed null", entry: domain.ResolutionEntry{Reviewed: true}, exists: true, want: false},
		{name: "entry refresh", entry: domain.ResolutionEntry{CommunityHandle: handle, Refresh: true}, exists: true, want: true},
		{name: "run refresh", entry: domain.ResolutionEntry{Reviewed: true}, exists: true, refresh: true, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, needsResolution(tc.entry, tc.exists, tc.refresh))
		})
	}
}

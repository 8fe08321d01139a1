package usecase

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"CommunityScanner/internal/domain"
)

type fakeResolver struct {
	mu      sync.Mutex
	handles map[string]string
	errs    map[string]error
	calls   map[string]int
}

func newFakeResolver(handles map[string]string) *fakeResolver {
	return &fakeResolver{handles: handles, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeResolver) Resolve(_ context.Context, name string, _ []string) (domain.ResolutionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	entry := domain.ResolutionEntry{EntityName: name}
	if err := f.errs[name]; err != nil {
		return entry, err
	}
	if h, ok := f.handles[name]; ok {
		entry.CommunityHandle = &h
	}
	return entry, nil
}

func (f *fakeResolver) callsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// fakeFetcher serves a fixed listing per community and honours the cursor and limit.
type fakeFetcher struct {
	mu       sync.Mutex
	listings map[string][]domain.ContentItem
	errs     map[string]error
	// onYield runs after each yielded item with the running count.
	onYield func(community string, n int)
	calls   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{listings: map[string][]domain.ContentItem{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) add(community string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.listings[community] = append(f.listings[community], domain.ContentItem{
			ID:        id,
			Text:      "text " + id,
			CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		})
	}
}

func (f *fakeFetcher) addRange(community, prefix string, n int) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("%s%03d", prefix, i))
	}
	f.add(community, ids...)
}

func (f *fakeFetcher) callsFor(community string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[community]
}

func (f *fakeFetcher) Fetch(ctx context.Context, community string, cursor *domain.RetrievalCursor, limit int) iter.Seq2[domain.ContentItem, error] {
	return func(yield func(domain.ContentItem, error) bool) {
		f.mu.Lock()
		f.calls[community]++
		listing := append([]domain.ContentItem(nil), f.listings[community]...)
		failure := f.errs[community]
		f.mu.Unlock()

		n := 0
		for _, item := range listing {
			if ctx.Err() != nil {
				yield(domain.ContentItem{}, ctx.Err())
				return
			}
			if cursor.Seen(item.ID) {
				continue
			}
			item.CommunityHandle = community
			if !yield(item, nil) {
				return
			}
			n++
			if f.onYield != nil {
				f.onYield(community, n)
			}
			if limit > 0 && n >= limit {
				return
			}
		}
		if failure != nil {
			yield(domain.ContentItem{}, failure)
		}
	}
}

type memoryMap struct {
	mu      sync.Mutex
	entries []domain.ResolutionEntry
	saves   int
}

func (m *memoryMap) Load() ([]domain.ResolutionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ResolutionEntry(nil), m.entries...), nil
}

func (m *memoryMap) Save(entries []domain.ResolutionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]domain.ResolutionEntry(nil), entries...)
	m.saves++
	return nil
}

func (m *memoryMap) get(name string) (domain.ResolutionEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EntityName == name {
			return e, true
		}
	}
	return domain.ResolutionEntry{}, false
}

type fixedCandidates struct{}

func (fixedCandidates) Candidates(name string) []string {
	if name == "" {
		return nil
	}
	return []string{name}
}

func strPtr(s string) *string { return &s }

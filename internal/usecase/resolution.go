package usecase

import (
	"fmt"
	"sync"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
)

// resolutionBook is the in-run view of the resolution map. Every update is
// merged into the latest file contents before saving so edits made to other
// entries while the run is in progress survive.
type resolutionBook struct {
	store ports.ResolutionMap

	mu      sync.Mutex
	entries map[string]domain.ResolutionEntry
}

func openResolutionBook(store ports.ResolutionMap) (*resolutionBook, error) {
	entries, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load resolution map: %w", err)
	}
	b := &resolutionBook{store: store, entries: make(map[string]domain.ResolutionEntry, len(entries))}
	for _, e := range entries {
		b.entries[e.EntityName] = e
	}
	return b, nil
}

func (b *resolutionBook) get(name string) (domain.ResolutionEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[name]
	return e, ok
}

// put records entry and rewrites the map file.
func (b *resolutionBook) put(entry domain.ResolutionEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[entry.EntityName] = entry

	current, err := b.store.Load()
	if err != nil {
		return fmt.Errorf("reload resolution map: %w", err)
	}
	return b.store.Save(mergeEntry(current, entry))
}

// mergeEntry replaces the entry with the same entity name or appends it.
func mergeEntry(entries []domain.ResolutionEntry, entry domain.ResolutionEntry) []domain.ResolutionEntry {
	out := make([]domain.ResolutionEntry, 0, len(entries)+1)
	replaced := false
	for _, e := range entries {
		if e.EntityName == entry.EntityName {
			out = append(out, entry)
			replaced = true
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, entry)
	}
	return out
}

// needsResolution decides whether the resolver runs for an entity. A human
// edit (non-null or reviewed) is authoritative unless a refresh is requested.
func needsResolution(entry domain.ResolutionEntry, exists, refresh bool) bool {
	switch {
	case !exists, refresh, entry.Refresh:
		return true
	case entry.Resolved(), entry.Reviewed:
		return false
	default:
		return true
	}
}

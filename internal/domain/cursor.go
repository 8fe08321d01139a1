package domain

// RetrievalCursor tracks which items of a community are already persisted.
type RetrievalCursor struct {
	Community string
	SeenIDs   map[string]struct{}
	ItemCount int
}

// NewCursor returns an empty cursor for community.
func NewCursor(community string) RetrievalCursor {
	return RetrievalCursor{Community: community, SeenIDs: map[string]struct{}{}}
}

// Seen reports whether id has already been committed.
func (c RetrievalCursor) Seen(id string) bool {
	_, ok := c.SeenIDs[id]
	return ok
}

// Advance records items as committed and returns how many were new.
func (c *RetrievalCursor) Advance(items []ContentItem) int {
	if c.SeenIDs == nil {
		c.SeenIDs = map[string]struct{}{}
	}
	added := 0
	for _, item := range items {
		if _, ok := c.SeenIDs[item.ID]; ok {
			continue
		}
		c.SeenIDs[item.ID] = struct{}{}
		added++
	}
	c.ItemCount += added
	return added
}

package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
)

// ResolutionMapFile stores the resolution map as a human-editable JSON array.
type ResolutionMapFile struct {
	path string
}

var _ ports.ResolutionMap = (*ResolutionMapFile)(nil)

// NewResolutionMapFile binds the map to path.
func NewResolutionMapFile(path string) *ResolutionMapFile {
	return &ResolutionMapFile{path: path}
}

// Path returns the file location.
func (m *ResolutionMapFile) Path() string { return m.path }

// Load reads the map. A missing file is an empty map. Besides the array form it
// accepts a plain object of entity name to handle or null, in file order.
func (m *ResolutionMapFile) Load() ([]domain.ResolutionEntry, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read resolution map: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var entries []domain.ResolutionEntry
	if raw[0] == '{' {
		entries, err = decodeObjectMap(raw)
	} else {
		err = json.Unmarshal(raw, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedMap, m.path, err)
	}

	seen := make(map[string]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		e.EntityName = strings.TrimSpace(e.EntityName)
		if e.EntityName == "" {
			return nil, fmt.Errorf("%w: %s: entry %d has no entity_name", domain.ErrMalformedMap, m.path, i)
		}
		if seen[e.EntityName] {
			return nil, fmt.Errorf("%w: %s: duplicate entity %q", domain.ErrMalformedMap, m.path, e.EntityName)
		}
		seen[e.EntityName] = true
		if e.CommunityHandle != nil {
			h := bareHandle(*e.CommunityHandle)
			switch {
			case h == "":
				e.CommunityHandle = nil
			case !handleExpr.MatchString(h):
				return nil, fmt.Errorf("%w: %s: entity %q has invalid community %q", domain.ErrMalformedMap, m.path, e.EntityName, *e.CommunityHandle)
			default:
				e.CommunityHandle = &h
			}
		}
	}
	return entries, nil
}

// Save replaces the file atomically.
func (m *ResolutionMapFile) Save(entries []domain.ResolutionEntry) error {
	if entries == nil {
		entries = []domain.ResolutionEntry{}
	}
	err := writeAtomic(m.path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("encode resolution map: %w", err)
		}
		return nil
	})
	if errors.Is(err, errDirSync) {
		return nil
	}
	return err
}

func decodeObjectMap(raw []byte) ([]domain.ResolutionEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var out []domain.ResolutionEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		var handle *string
		if err := dec.Decode(&handle); err != nil {
			return nil, fmt.Errorf("value for %q: %w", name, err)
		}
		out = append(out, domain.ResolutionEntry{EntityName: name, CommunityHandle: handle})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// bareHandle strips the forms people type around a handle: "r/x", "/r/x/", "R/x".
func bareHandle(raw string) string {
	h := strings.TrimPrefix(strings.TrimSpace(raw), "/")
	if len(h) >= 2 && strings.EqualFold(h[:2], "r/") {
		h = h[2:]
	}
	return strings.Trim(h, "/")
}

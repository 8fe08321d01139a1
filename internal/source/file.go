package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"CommunityScanner/internal/domain"
)

// FileSource reads entity names from a local file: a JSON array of strings, a
// JSON array of {"name": ...} objects, or one name per line ('#' comments allowed).
type FileSource struct {
	path string
}

// NewFileSource binds the source to path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name identifies the strategy inside the registry.
func (f *FileSource) Name() string {
	return "file"
}

// Entities parses the file.
func (f *FileSource) Entities(ctx context.Context) ([]domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read entity list: %w", err)
	}
	entities, err := ParseEntities(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedEntities, f.path, err)
	}
	return entities, nil
}

// ParseEntities accepts the formats FileSource documents.
func ParseEntities(raw []byte) ([]domain.Entity, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] != '[' {
		return parseLines(raw)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for i, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			names = append(names, name)
			continue
		}
		var obj domain.Entity
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, fmt.Errorf("entry %d: expected string or object with name", i)
		}
		names = append(names, obj.Name)
	}
	return toEntities(names), nil
}

func parseLines(raw []byte) ([]domain.Entity, error) {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return toEntities(names), nil
}

// toEntities collapses whitespace, drops blanks and keeps the first of duplicates.
func toEntities(names []string) []domain.Entity {
	out := make([]domain.Entity, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.Join(strings.Fields(n), " ")
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, domain.Entity{Name: n})
	}
	return out
}

// SaveEntities writes names as a JSON array FileSource can read back. The file
// is replaced by rename so a reader never sees a partial list.
func SaveEntities(path string, entities []domain.Entity) error {
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	raw, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write entities: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

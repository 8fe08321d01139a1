package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
)

const (
	communitiesDir = "communities"
	checkpointName = "cursor.json"
	batchPattern   = "batch-%06d.jsonl"
)

// ErrInvalidHandle rejects handles that cannot be used as a directory name.
var ErrInvalidHandle = errors.New("invalid community handle")

var (
	handleExpr = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)
	batchExpr  = regexp.MustCompile(`^batch-(\d+)\.jsonl$`)
)

// FileStore keeps each community's corpus as numbered JSON Lines batch files.
// Batch files are the source of truth; cursor.json is a checkpoint derived from them.
type FileStore struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ ports.CursorStore = (*FileStore)(nil)
var _ ports.CorpusReader = (*FileStore)(nil)

type checkpoint struct {
	Batches   int      `json:"batches"`
	ItemCount int      `json:"item_count"`
	SeenIDs   []string `json:"seen_ids"`
}

// NewFileStore stores data under <dataDir>/communities.
func NewFileStore(dataDir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		root:   filepath.Join(dataDir, communitiesDir),
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Load returns the cursor for community, rebuilding it from batch files when the
// checkpoint is missing or stale. An unknown community yields an empty cursor.
func (s *FileStore) Load(ctx context.Context, community string) (domain.RetrievalCursor, error) {
	if err := ctx.Err(); err != nil {
		return domain.RetrievalCursor{}, err
	}
	lock := s.lock(community)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.dir(community)
	if err != nil {
		return domain.RetrievalCursor{}, err
	}

	cursor, _, err := s.load(community, dir)
	return cursor, err
}

// Commit appends the items not already stored as one new batch file.
func (s *FileStore) Commit(ctx context.Context, community string, items []domain.ContentItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.lock(community)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.dir(community)
	if err != nil {
		return err
	}

	cursor, batches, err := s.load(community, dir)
	if err != nil {
		return err
	}

	fresh := make([]domain.ContentItem, 0, len(items))
	inBatch := make(map[string]struct{}, len(items))
	for _, item := range items {
		if cursor.Seen(item.ID) {
			continue
		}
		if _, dup := inBatch[item.ID]; dup {
			continue
		}
		inBatch[item.ID] = struct{}{}
		fresh = append(fresh, item)
	}
	if len(fresh) == 0 {
		return nil
	}

	next := 1
	if len(batches) > 0 {
		next = batches[len(batches)-1] + 1
	}
	path := filepath.Join(dir, fmt.Sprintf(batchPattern, next))
	err = writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, item := range fresh {
			if err := enc.Encode(item); err != nil {
				return fmt.Errorf("encode item %s: %w", item.ID, err)
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, errDirSync):
		s.logger.Warn("batch directory sync failed", "community", community, "batch", next, "error", err)
	case err != nil:
		return fmt.Errorf("commit batch %d for %s: %w", next, community, err)
	}

	cursor.Advance(fresh)
	if err := s.writeCheckpoint(dir, cursor, len(batches)+1); err != nil {
		// the batch is durable; the next Load rebuilds the checkpoint
		s.logger.Warn("checkpoint write failed", "community", community, "error", err)
	}
	return nil
}

// Communities lists every community with at least one committed batch.
func (s *FileStore) Communities(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.root, err)
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		batches, err := listBatches(filepath.Join(s.root, e.Name()))
		if err != nil {
			return nil, err
		}
		if len(batches) > 0 {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Items returns every committed item of community in commit order.
func (s *FileStore) Items(ctx context.Context, community string) ([]domain.ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := s.lock(community)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.dir(community)
	if err != nil {
		return nil, err
	}

	batches, err := listBatches(dir)
	if err != nil {
		return nil, err
	}
	var out []domain.ContentItem
	for _, seq := range batches {
		items, err := readBatch(filepath.Join(dir, fmt.Sprintf(batchPattern, seq)))
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// load must be called with the community lock held. It returns the cursor and
// the sorted batch sequence numbers on disk.
func (s *FileStore) load(community, dir string) (domain.RetrievalCursor, []int, error) {
	cursor := domain.NewCursor(community)

	if removed, err := removeTemps(dir); err != nil {
		return cursor, nil, fmt.Errorf("clean temp files for %s: %w", community, err)
	} else if removed > 0 {
		s.logger.Info("removed interrupted writes", "community", community, "files", removed)
	}

	batches, err := listBatches(dir)
	if err != nil {
		return cursor, nil, err
	}
	if len(batches) == 0 {
		return cursor, nil, nil
	}

	if cp, ok := readCheckpoint(filepath.Join(dir, checkpointName)); ok && cp.Batches == len(batches) {
		for _, id := range cp.SeenIDs {
			cursor.SeenIDs[id] = struct{}{}
		}
		cursor.ItemCount = cp.ItemCount
		return cursor, batches, nil
	}

	for _, seq := range batches {
		items, err := readBatch(filepath.Join(dir, fmt.Sprintf(batchPattern, seq)))
		if err != nil {
			return cursor, nil, err
		}
		cursor.Advance(items)
	}
	s.logger.Info("cursor rebuilt from batches", "community", community, "batches", len(batches), "items", cursor.ItemCount)
	if err := s.writeCheckpoint(dir, cursor, len(batches)); err != nil {
		s.logger.Warn("checkpoint write failed", "community", community, "error", err)
	}
	return cursor, batches, nil
}

func (s *FileStore) writeCheckpoint(dir string, cursor domain.RetrievalCursor, batches int) error {
	ids := make([]string, 0, len(cursor.SeenIDs))
	for id := range cursor.SeenIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	cp := checkpoint{Batches: batches, ItemCount: cursor.ItemCount, SeenIDs: ids}
	return writeAtomic(filepath.Join(dir, checkpointName), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(cp)
	})
}

// dir maps community to its directory. Handles are case-insensitive, so an
// existing directory that differs only in case is reused. Callers hold the
// community lock.
func (s *FileStore) dir(community string) (string, error) {
	if !handleExpr.MatchString(community) {
		return "", fmt.Errorf("%w %q", ErrInvalidHandle, community)
	}
	entries, err := os.ReadDir(s.root)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read %s: %w", s.root, err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.EqualFold(e.Name(), community) {
			return filepath.Join(s.root, e.Name()), nil
		}
	}
	return filepath.Join(s.root, community), nil
}

func (s *FileStore) lock(community string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(community)
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func listBatches(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var seqs []int
	for _, e := range entries {
		m := batchExpr.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		var seq int
		if _, err := fmt.Sscanf(m[1], "%d", &seq); err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs, nil
}

func readBatch(path string) ([]domain.ContentItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch: %w", err)
	}
	defer f.Close()

	var items []domain.ContentItem
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var item domain.ContentItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", path, line, err)
		}
		items = append(items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return items, nil
}

func readCheckpoint(path string) (checkpoint, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return checkpoint{}, false
	}
	var cp checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return checkpoint{}, false
	}
	if cp.ItemCount != len(cp.SeenIDs) {
		return checkpoint{}, false
	}
	return cp, true
}

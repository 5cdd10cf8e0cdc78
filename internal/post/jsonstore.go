package post

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// JSONStore keeps one JSON file per record under root. Ids are assigned
// sequentially and survive restarts.
type JSONStore struct {
	root string

	mu     sync.Mutex
	nextID int64
	now    func() time.Time
}

func NewJSONStore(root string) (*JSONStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	s := &JSONStore{root: root, now: time.Now}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		id, ok := idFromName(e.Name())
		if ok && id > s.nextID {
			s.nextID = id
		}
	}
	return s, nil
}

func idFromName(name string) (int64, bool) {
	if filepath.Ext(name) != ".json" {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	return id, err == nil
}

func (s *JSONStore) pathFor(id int64) string {
	return filepath.Join(s.root, fmt.Sprintf("%d.json", id))
}

func (s *JSONStore) InsertPlaceholder(ctx context.Context, p Placeholder) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.nextID++
	r := Record{
		ID:           s.nextID,
		UserID:       p.UserID,
		CountryID:    p.CountryID,
		VideoURL:     p.VideoURL,
		ThumbnailURL: p.ThumbnailURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := writeFileAtomic(s.pathFor(r.ID), r); err != nil {
		s.nextID--
		return 0, err
	}
	return r.ID, nil
}

func (s *JSONStore) Finalize(ctx context.Context, id int64, playbackID string) error {
	return s.update(ctx, id, func(r *Record) {
		r.PlaybackID = &playbackID
	})
}

func (s *JSONStore) SetSuppressed(ctx context.Context, id int64, suppressed bool) error {
	return s.update(ctx, id, func(r *Record) {
		r.Suppressed = suppressed
	})
}

func (s *JSONStore) update(ctx context.Context, id int64, mutate func(*Record)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(id)
	if err != nil {
		return err
	}
	mutate(r)
	r.UpdatedAt = s.now().UTC()
	return writeFileAtomic(s.pathFor(id), r)
}

func (s *JSONStore) Get(ctx context.Context, id int64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *JSONStore) read(id int64) (*Record, error) {
	b, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *JSONStore) all() ([]Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		id, ok := idFromName(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		r, err := s.read(id)
		if err != nil {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *JSONStore) List(ctx context.Context, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.Normalize()
	s.mu.Lock()
	records, err := s.all()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	matched := records[:0]
	for i := range records {
		if q.Matches(&records[i]) {
			matched = append(matched, records[i])
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return page(matched, q.Offset, q.Limit), nil
}

func (s *JSONStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	records, err := s.all()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	pending := records[:0]
	for i := range records {
		if records[i].Pending() && records[i].CreatedAt.Before(olderThan) {
			pending = append(pending, records[i])
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if limit <= 0 {
		limit = DefaultLimit
	}
	return page(pending, 0, limit), nil
}

func (s *JSONStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	records, err := s.all()
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, r := range records {
		if r.UserID == userID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func page(records []Record, offset, limit int) []Record {
	if offset >= len(records) {
		return []Record{}
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}

// writeFileAtomic writes JSON to a temp file then renames it into place.
func writeFileAtomic(dest string, v any) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	// On Windows, rename over existing fails; remove first.
	_ = os.Remove(dest)
	return os.Rename(tmp, dest)
}

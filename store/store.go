// Package store is the record store: block annotations keyed by lowercased
// username and the ordered category list, each held as one whole JSON value
// under its own top-level key.
//
// Every mutation is a read-modify-write of the whole value. A mutex
// serialises writers inside one process; writers in other processes sharing
// the same file race last-writer-wins.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hazyhaar/blockreasons/dbopen"
)

// Store reads and writes categories and block records through a KV.
type Store struct {
	kv  KV
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over any KV.
func New(kv KV, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewFromDB creates a Store backed by an already-opened SQLite database.
func NewFromDB(db *sql.DB, opts ...Option) (*Store, error) {
	kv, err := NewSQLiteKV(db)
	if err != nil {
		return nil, err
	}
	s := New(kv, opts...)
	s.db = db
	return s, nil
}

// Open opens (creating if needed) the SQLite file at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	s, err := NewFromDB(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database when the Store owns one.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Revision returns a token that changes on every write, including writes
// made by other processes sharing the database. KVs without write stamps
// report 0.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	r, ok := s.kv.(interface {
		Revision(ctx context.Context) (int64, error)
	})
	if !ok {
		return 0, nil
	}
	return r.Revision(ctx)
}

// --- categories ---

// EnsureCategories materialises DefaultCategories when the categories key is
// absent or empty, and returns the current list.
func (s *Store) EnsureCategories(ctx context.Context) ([]Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cats, ok, err := s.loadCategories(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return cats, nil
	}
	cats = copyCategories(DefaultCategories)
	if err := s.saveCategories(ctx, cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// Categories returns the ordered category list, falling back to the
// defaults (without writing them) when none are stored.
func (s *Store) Categories(ctx context.Context) ([]Category, error) {
	cats, ok, err := s.loadCategories(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return copyCategories(DefaultCategories), nil
	}
	return cats, nil
}

// AddCategory appends a category derived from label.
func (s *Store) AddCategory(ctx context.Context, label string) (Category, error) {
	label = strings.TrimSpace(label)
	id := Slugify(label)
	if id == "" {
		return Category{}, ErrInvalidLabel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cats, err := s.categoriesLocked(ctx)
	if err != nil {
		return Category{}, err
	}
	if indexOf(cats, id) >= 0 {
		return Category{}, fmt.Errorf("%w: %s", ErrDuplicateCategory, id)
	}
	c := Category{ID: id, Label: label}
	cats = append(cats, c)
	if err := s.saveCategories(ctx, cats); err != nil {
		return Category{}, err
	}
	return c, nil
}

// RenameCategory relabels a category. The ID is re-derived from the new label
// and block records referencing the old ID are rewritten to the new one.
func (s *Store) RenameCategory(ctx context.Context, id, label string) (Category, error) {
	label = strings.TrimSpace(label)
	newID := Slugify(label)
	if newID == "" {
		return Category{}, ErrInvalidLabel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cats, err := s.categoriesLocked(ctx)
	if err != nil {
		return Category{}, err
	}
	i := indexOf(cats, id)
	if i < 0 {
		return Category{}, fmt.Errorf("%w: category %s", ErrNotFound, id)
	}
	if j := indexOf(cats, newID); j >= 0 && j != i {
		return Category{}, fmt.Errorf("%w: %s", ErrDuplicateCategory, newID)
	}
	cats[i] = Category{ID: newID, Label: label}
	if newID == id {
		if err := s.saveCategories(ctx, cats); err != nil {
			return Category{}, err
		}
		return cats[i], nil
	}

	blocks, err := s.loadBlocks(ctx)
	if err != nil {
		return Category{}, err
	}
	for key, rec := range blocks {
		for k, c := range rec.Categories {
			if c == id {
				rec.Categories[k] = newID
			}
		}
		blocks[key] = rec
	}
	// The new id and the records pointing at it land together or not at all.
	if err := s.saveBoth(ctx, cats, blocks); err != nil {
		return Category{}, err
	}
	return cats[i], nil
}

// DeleteCategory removes a category. The last remaining category cannot be
// deleted. Records keep the stale ID; views fall back to showing the ID.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cats, err := s.categoriesLocked(ctx)
	if err != nil {
		return err
	}
	i := indexOf(cats, id)
	if i < 0 {
		return fmt.Errorf("%w: category %s", ErrNotFound, id)
	}
	if len(cats) <= 1 {
		return ErrLastCategory
	}
	cats = append(cats[:i], cats[i+1:]...)
	return s.saveCategories(ctx, cats)
}

// MoveCategory moves a category to position index (clamped to the list).
func (s *Store) MoveCategory(ctx context.Context, id string, index int) ([]Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cats, err := s.categoriesLocked(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(cats, id)
	if i < 0 {
		return nil, fmt.Errorf("%w: category %s", ErrNotFound, id)
	}
	c := cats[i]
	cats = append(cats[:i], cats[i+1:]...)
	if index < 0 {
		index = 0
	}
	if index > len(cats) {
		index = len(cats)
	}
	cats = append(cats[:index], append([]Category{c}, cats[index:]...)...)
	if err := s.saveCategories(ctx, cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// ResetCategories replaces the list with DefaultCategories.
func (s *Store) ResetCategories(ctx context.Context) ([]Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cats := copyCategories(DefaultCategories)
	if err := s.saveCategories(ctx, cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// Labels maps category IDs to labels for rendering.
func (s *Store) Labels(ctx context.Context) (map[string]string, error) {
	cats, err := s.Categories(ctx)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]string, len(cats))
	for _, c := range cats {
		labels[c.ID] = c.Label
	}
	return labels, nil
}

// --- blocks ---

// Blocks returns the whole block map keyed by lowercased username.
func (s *Store) Blocks(ctx context.Context) (map[string]BlockRecord, error) {
	return s.loadBlocks(ctx)
}

// Block returns the record for username (case-insensitive).
func (s *Store) Block(ctx context.Context, username string) (BlockRecord, error) {
	blocks, err := s.loadBlocks(ctx)
	if err != nil {
		return BlockRecord{}, err
	}
	rec, ok := blocks[Key(username)]
	if !ok {
		return BlockRecord{}, fmt.Errorf("%w: block %s", ErrNotFound, Key(username))
	}
	return rec, nil
}

// PutBlock writes rec under its lowercased username, replacing any existing
// record. A zero Date is stamped with the store clock.
func (s *Store) PutBlock(ctx context.Context, rec BlockRecord) (BlockRecord, error) {
	rec.Username = strings.TrimPrefix(strings.TrimSpace(rec.Username), "@")
	if rec.Username == "" {
		return BlockRecord{}, fmt.Errorf("store: put block: empty username")
	}
	if rec.Categories == nil {
		rec.Categories = []string{}
	}
	if rec.Date.IsZero() {
		rec.Date = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blocks, err := s.loadBlocks(ctx)
	if err != nil {
		return BlockRecord{}, err
	}
	blocks[rec.Key()] = rec
	if err := s.saveBlocks(ctx, blocks); err != nil {
		return BlockRecord{}, err
	}
	return rec, nil
}

// UpdateAnnotation replaces the categories and reason of an existing record.
// Every other field is preserved.
func (s *Store) UpdateAnnotation(ctx context.Context, username string, categories []string, reason string) (BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks, err := s.loadBlocks(ctx)
	if err != nil {
		return BlockRecord{}, err
	}
	key := Key(username)
	rec, ok := blocks[key]
	if !ok {
		return BlockRecord{}, fmt.Errorf("%w: block %s", ErrNotFound, key)
	}
	if categories == nil {
		categories = []string{}
	}
	rec.Categories = categories
	rec.Reason = strings.TrimSpace(reason)
	blocks[key] = rec
	if err := s.saveBlocks(ctx, blocks); err != nil {
		return BlockRecord{}, err
	}
	return rec, nil
}

// SetArchiveURL sets tweetArchiveUrl on an existing record that has a
// tweetUrl. It reports whether a record was updated; a missing record or one
// without a post URL is left untouched.
func (s *Store) SetArchiveURL(ctx context.Context, username, archiveURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks, err := s.loadBlocks(ctx)
	if err != nil {
		return false, err
	}
	key := Key(username)
	rec, ok := blocks[key]
	if !ok || !rec.HasTweetURL() {
		return false, nil
	}
	rec.TweetArchiveURL = StringPtr(archiveURL)
	blocks[key] = rec
	if err := s.saveBlocks(ctx, blocks); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteBlock removes the record for username.
func (s *Store) DeleteBlock(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks, err := s.loadBlocks(ctx)
	if err != nil {
		return err
	}
	key := Key(username)
	if _, ok := blocks[key]; !ok {
		return fmt.Errorf("%w: block %s", ErrNotFound, key)
	}
	delete(blocks, key)
	return s.saveBlocks(ctx, blocks)
}

// List returns records matching query, most recent first. An empty query
// matches everything. Matching is case-insensitive on username, reason and
// category labels.
func (s *Store) List(ctx context.Context, query string) ([]BlockRecord, error) {
	blocks, err := s.loadBlocks(ctx)
	if err != nil {
		return nil, err
	}
	labels, err := s.Labels(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]BlockRecord, 0, len(blocks))
	for _, rec := range blocks {
		if q == "" || matches(rec, q, labels) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].Key() < out[j].Key()
		}
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}

func matches(rec BlockRecord, q string, labels map[string]string) bool {
	if strings.Contains(strings.ToLower(rec.Username), q) ||
		strings.Contains(strings.ToLower(rec.Reason), q) {
		return true
	}
	for _, id := range rec.Categories {
		label := labels[id]
		if label == "" {
			label = id
		}
		if strings.Contains(strings.ToLower(label), q) {
			return true
		}
	}
	return false
}

// Stats aggregates the block map.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	blocks, err := s.loadBlocks(ctx)
	if err != nil {
		return Stats{}, err
	}
	cats, err := s.Categories(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{ByCategory: make(map[string]int, len(cats))}
	for _, c := range cats {
		st.ByCategory[c.ID] = 0
	}
	for _, rec := range blocks {
		st.Total++
		if len(rec.Categories) == 0 {
			st.Uncategorized++
		}
		for _, c := range rec.Categories {
			st.ByCategory[c]++
		}
		if rec.Tweet != nil || rec.HasTweetURL() {
			st.WithTweet++
		}
		if rec.TweetArchiveURL != nil {
			st.Archived++
		}
	}
	return st, nil
}

// --- export / import ---

// Export returns both keys as one document.
func (s *Store) Export(ctx context.Context) (Dump, error) {
	cats, err := s.Categories(ctx)
	if err != nil {
		return Dump{}, err
	}
	blocks, err := s.loadBlocks(ctx)
	if err != nil {
		return Dump{}, err
	}
	return Dump{Categories: cats, Blocks: blocks}, nil
}

// Import replaces both keys from an Export document. Legacy single-category
// records are upgraded on the way in. Keys are re-derived from usernames.
func (s *Store) Import(ctx context.Context, data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: not JSON", ErrInvalidDump)
	}
	doc := gjson.ParseBytes(data)
	catsRaw := doc.Get(KeyCategories)
	blocksRaw := doc.Get(KeyBlocks)
	if !catsRaw.IsArray() || !blocksRaw.IsObject() {
		return fmt.Errorf("%w: want categories array and blocks object", ErrInvalidDump)
	}

	var cats []Category
	if err := json.Unmarshal([]byte(catsRaw.Raw), &cats); err != nil {
		return fmt.Errorf("%w: categories: %v", ErrInvalidDump, err)
	}
	if err := validateCategories(cats); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	decoded, err := decodeBlocks([]byte(blocksRaw.Raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	blocks := make(map[string]BlockRecord, len(decoded))
	for _, rec := range decoded {
		if rec.Username == "" {
			continue
		}
		blocks[rec.Key()] = rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveBoth(ctx, cats, blocks)
}

// --- whole-value plumbing ---

func (s *Store) categoriesLocked(ctx context.Context) ([]Category, error) {
	cats, ok, err := s.loadCategories(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return copyCategories(DefaultCategories), nil
	}
	return cats, nil
}

// loadCategories reports ok=false when the key is absent or holds an empty list.
func (s *Store) loadCategories(ctx context.Context) ([]Category, bool, error) {
	raw, ok, err := s.kv.Get(ctx, KeyCategories)
	if err != nil || !ok {
		return nil, false, err
	}
	var cats []Category
	if err := json.Unmarshal(raw, &cats); err != nil {
		return nil, false, fmt.Errorf("store: decode categories: %w", err)
	}
	if len(cats) == 0 {
		return nil, false, nil
	}
	return cats, true, nil
}

func (s *Store) saveCategories(ctx context.Context, cats []Category) error {
	if err := validateCategories(cats); err != nil {
		return err
	}
	data, err := json.Marshal(cats)
	if err != nil {
		return fmt.Errorf("store: marshal categories: %w", err)
	}
	return s.kv.Set(ctx, KeyCategories, data)
}

// saveBoth writes categories and blocks as one unit. KVs without SetMany get
// blocks first and, if the categories write then fails, the previous blocks
// value back.
func (s *Store) saveBoth(ctx context.Context, cats []Category, blocks map[string]BlockRecord) error {
	if err := validateCategories(cats); err != nil {
		return err
	}
	catsJSON, err := json.Marshal(cats)
	if err != nil {
		return fmt.Errorf("store: marshal categories: %w", err)
	}
	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("store: marshal blocks: %w", err)
	}
	if bs, ok := s.kv.(batchSetter); ok {
		return bs.SetMany(ctx, map[string][]byte{KeyCategories: catsJSON, KeyBlocks: blocksJSON})
	}

	prev, hadPrev, err := s.kv.Get(ctx, KeyBlocks)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, KeyBlocks, blocksJSON); err != nil {
		return err
	}
	if err := s.kv.Set(ctx, KeyCategories, catsJSON); err != nil {
		if !hadPrev {
			prev = []byte("{}")
		}
		if rerr := s.kv.Set(ctx, KeyBlocks, prev); rerr != nil {
			return errors.Join(err, fmt.Errorf("store: restore blocks: %w", rerr))
		}
		return err
	}
	return nil
}

func (s *Store) loadBlocks(ctx context.Context) (map[string]BlockRecord, error) {
	raw, ok, err := s.kv.Get(ctx, KeyBlocks)
	if err != nil {
		return nil, err
	}
	if !ok {
		return make(map[string]BlockRecord), nil
	}
	return decodeBlocks(raw)
}

func (s *Store) saveBlocks(ctx context.Context, blocks map[string]BlockRecord) error {
	data, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("store: marshal blocks: %w", err)
	}
	return s.kv.Set(ctx, KeyBlocks, data)
}

// decodeBlocks parses the blocks map. Records written by the single-select
// prompt carry "category": "<id>" instead of "categories"; those are
// upgraded here so callers only ever see the list form.
func decodeBlocks(raw []byte) (map[string]BlockRecord, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("store: decode blocks: invalid JSON")
	}
	blocks := make(map[string]BlockRecord)
	var decodeErr error
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		var rec BlockRecord
		if err := json.Unmarshal([]byte(value.Raw), &rec); err != nil {
			decodeErr = fmt.Errorf("store: decode block %s: %w", key.String(), err)
			return false
		}
		if !value.Get("categories").Exists() {
			if legacy := value.Get("category"); legacy.Type == gjson.String && legacy.String() != "" {
				rec.Categories = []string{legacy.String()}
			}
		}
		if rec.Categories == nil {
			rec.Categories = []string{}
		}
		blocks[key.String()] = rec
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return blocks, nil
}

func validateCategories(cats []Category) error {
	if len(cats) == 0 {
		return ErrLastCategory
	}
	seen := make(map[string]bool, len(cats))
	for _, c := range cats {
		if c.ID == "" {
			return ErrInvalidLabel
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateCategory, c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

func indexOf(cats []Category, id string) int {
	for i, c := range cats {
		if c.ID == id {
			return i
		}
	}
	return -1
}

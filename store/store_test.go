package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/blockreasons/dbopen"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := NewFromDB(db, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("NewFromDB: %v", err)
	}
	return s
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Political":       "political",
		"Bad Faith":       "bad-faith",
		"  Spam   Bots  ": "spam-bots",
		"Crypto\tShill":   "crypto-shill",
		"":                "",
		"   ":             "",
	}
	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKey(t *testing.T) {
	for _, in := range []string{"Alice", "@alice", " ALICE "} {
		if got := Key(in); got != "alice" {
			t.Errorf("Key(%q) = %q, want alice", in, got)
		}
	}
}

func TestEnsureCategories_SeedsOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	cats, err := s.EnsureCategories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != len(DefaultCategories) {
		t.Fatalf("seeded %d categories, want %d", len(cats), len(DefaultCategories))
	}

	if _, err := s.AddCategory(ctx, "Spam Bots"); err != nil {
		t.Fatal(err)
	}
	cats, err = s.EnsureCategories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != len(DefaultCategories)+1 {
		t.Fatalf("EnsureCategories overwrote user list: got %d", len(cats))
	}
}

func TestAddCategory_Duplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.AddCategory(ctx, "harassment"); !errors.Is(err, ErrDuplicateCategory) {
		t.Fatalf("AddCategory duplicate: got %v, want ErrDuplicateCategory", err)
	}
	if _, err := s.AddCategory(ctx, "   "); !errors.Is(err, ErrInvalidLabel) {
		t.Fatalf("AddCategory blank: got %v, want ErrInvalidLabel", err)
	}
	c, err := s.AddCategory(ctx, "Bad Faith")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "bad-faith" || c.Label != "Bad Faith" {
		t.Fatalf("AddCategory: got %+v", c)
	}
}

func TestRenameCategory_RewritesRecords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.EnsureCategories(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutBlock(ctx, BlockRecord{Username: "bob", Categories: []string{"trolling"}}); err != nil {
		t.Fatal(err)
	}

	c, err := s.RenameCategory(ctx, "trolling", "Bait Posting")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "bait-posting" {
		t.Fatalf("renamed id = %q", c.ID)
	}
	rec, err := s.Block(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.HasCategory("bait-posting") || rec.HasCategory("trolling") {
		t.Fatalf("record categories not rewritten: %v", rec.Categories)
	}

	if _, err := s.RenameCategory(ctx, "other", "Political"); !errors.Is(err, ErrDuplicateCategory) {
		t.Fatalf("rename onto existing id: got %v", err)
	}
	if _, err := s.RenameCategory(ctx, "nope", "X"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rename missing: got %v", err)
	}
}

// mapKV is an in-memory KV whose writes to failKey fail.
type mapKV struct {
	values  map[string][]byte
	failKey string
}

func (m *mapKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mapKV) Set(_ context.Context, key string, value []byte) error {
	if key == m.failKey {
		return errors.New("disk full")
	}
	m.values[key] = value
	return nil
}

// batchKV adds an all-or-nothing SetMany to mapKV.
type batchKV struct{ *mapKV }

func (b batchKV) SetMany(_ context.Context, values map[string][]byte) error {
	if _, ok := values[b.failKey]; ok {
		return errors.New("disk full")
	}
	for k, v := range values {
		b.values[k] = v
	}
	return nil
}

func TestRenameCategory_FailedBlocksWriteChangesNothing(t *testing.T) {
	for name, wrap := range map[string]func(*mapKV) KV{
		"sequential": func(m *mapKV) KV { return m },
		"batch":      func(m *mapKV) KV { return batchKV{m} },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := &mapKV{values: make(map[string][]byte)}
			s := New(wrap(mem), WithClock(func() time.Time { return fixedNow }))
			if _, err := s.EnsureCategories(ctx); err != nil {
				t.Fatal(err)
			}
			if _, err := s.PutBlock(ctx, BlockRecord{Username: "bob", Categories: []string{"harassment"}}); err != nil {
				t.Fatal(err)
			}

			mem.failKey = KeyBlocks
			if _, err := s.RenameCategory(ctx, "harassment", "Abuse"); err == nil {
				t.Fatal("rename succeeded with failing blocks write")
			}
			mem.failKey = ""

			cats, err := s.Categories(ctx)
			if err != nil {
				t.Fatal(err)
			}
			for _, c := range cats {
				if c.ID == "abuse" {
					t.Fatalf("category renamed without its records: %v", cats)
				}
			}
			rec, err := s.Block(ctx, "bob")
			if err != nil {
				t.Fatal(err)
			}
			if !rec.HasCategory("harassment") {
				t.Fatalf("record categories = %v", rec.Categories)
			}
		})
	}
}

func TestRenameCategory_FailedCategoriesWriteRestoresBlocks(t *testing.T) {
	ctx := context.Background()
	mem := &mapKV{values: make(map[string][]byte)}
	s := New(mem, WithClock(func() time.Time { return fixedNow }))
	if _, err := s.EnsureCategories(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutBlock(ctx, BlockRecord{Username: "bob", Categories: []string{"harassment"}}); err != nil {
		t.Fatal(err)
	}

	mem.failKey = KeyCategories
	if _, err := s.RenameCategory(ctx, "harassment", "Abuse"); err == nil {
		t.Fatal("rename succeeded with failing categories write")
	}
	rec, err := s.Block(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.HasCategory("harassment") || rec.HasCategory("abuse") {
		t.Fatalf("record categories = %v", rec.Categories)
	}
}

func TestDeleteCategory_KeepsLast(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.EnsureCategories(ctx); err != nil {
		t.Fatal(err)
	}

	for _, c := range DefaultCategories[1:] {
		if err := s.DeleteCategory(ctx, c.ID); err != nil {
			t.Fatalf("delete %s: %v", c.ID, err)
		}
	}
	if err := s.DeleteCategory(ctx, DefaultCategories[0].ID); !errors.Is(err, ErrLastCategory) {
		t.Fatalf("delete last: got %v, want ErrLastCategory", err)
	}
	cats, err := s.Categories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 1 || cats[0].ID != "political" {
		t.Fatalf("remaining categories: %+v", cats)
	}
}

func TestMoveCategory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.EnsureCategories(ctx); err != nil {
		t.Fatal(err)
	}

	cats, err := s.MoveCategory(ctx, "other", 0)
	if err != nil {
		t.Fatal(err)
	}
	if cats[0].ID != "other" || cats[1].ID != "political" || len(cats) != len(DefaultCategories) {
		t.Fatalf("after move to front: %+v", cats)
	}
	cats, err = s.MoveCategory(ctx, "other", 99)
	if err != nil {
		t.Fatal(err)
	}
	if cats[len(cats)-1].ID != "other" {
		t.Fatalf("after move to end: %+v", cats)
	}
}

func TestPutBlock_CaseInsensitiveLookup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.PutBlock(ctx, BlockRecord{Username: "Alice", Reason: "spam"}); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Block(ctx, "alice")
	if err != nil {
		t.Fatalf("lookup lowercase: %v", err)
	}
	if rec.Username != "Alice" || rec.Reason != "spam" {
		t.Fatalf("record: %+v", rec)
	}
	if !rec.Date.Equal(fixedNow) {
		t.Fatalf("date = %v, want %v", rec.Date, fixedNow)
	}
	if rec.Categories == nil {
		t.Fatal("categories decoded as nil, want empty slice")
	}

	blocks, err := s.Blocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := blocks["alice"]; !ok || len(blocks) != 1 {
		t.Fatalf("blocks keys: %v", blocks)
	}
}

func TestUpdateAnnotation_PreservesOtherFields(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	orig, err := s.PutBlock(ctx, BlockRecord{
		Username:   "bob",
		Categories: []string{"harassment"},
		Reason:     "spam",
		Tweet:      StringPtr("hello"),
		TweetURL:   StringPtr("https://x.com/bob/status/1"),
		TweetMedia: StringPtr("2 images"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetArchiveURL(ctx, "bob", "https://web.archive.org/web/https://x.com/bob/status/1"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.UpdateAnnotation(ctx, "BOB", []string{"trolling", "creepy"}, "  edited  "); err != nil {
		t.Fatal(err)
	}

	// Reload through a fresh Store over the same KV.
	reloaded, err := New(s.kv).Block(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Categories) != 2 || reloaded.Categories[0] != "trolling" || reloaded.Categories[1] != "creepy" {
		t.Fatalf("categories = %v", reloaded.Categories)
	}
	if reloaded.Reason != "edited" {
		t.Fatalf("reason = %q", reloaded.Reason)
	}
	if Deref(reloaded.TweetURL) != Deref(orig.TweetURL) || Deref(reloaded.Tweet) != "hello" || Deref(reloaded.TweetMedia) != "2 images" {
		t.Fatalf("tweet fields changed: %+v", reloaded)
	}
	if reloaded.TweetArchiveURL == nil {
		t.Fatal("archive url lost on edit")
	}
	if !reloaded.Date.Equal(orig.Date) {
		t.Fatalf("date changed: %v vs %v", reloaded.Date, orig.Date)
	}

	if _, err := s.UpdateAnnotation(ctx, "nobody", nil, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: got %v", err)
	}
}

func TestSetArchiveURL_RequiresRecordAndTweetURL(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ok, err := s.SetArchiveURL(ctx, "ghost", "https://web.archive.org/web/x")
	if err != nil || ok {
		t.Fatalf("missing record: ok=%v err=%v", ok, err)
	}
	if _, err := s.PutBlock(ctx, BlockRecord{Username: "carol", Reason: "rude"}); err != nil {
		t.Fatal(err)
	}
	ok, err = s.SetArchiveURL(ctx, "carol", "https://web.archive.org/web/x")
	if err != nil || ok {
		t.Fatalf("record without tweetUrl: ok=%v err=%v", ok, err)
	}
	rec, _ := s.Block(ctx, "carol")
	if rec.TweetArchiveURL != nil {
		t.Fatalf("archive url set without tweetUrl: %v", *rec.TweetArchiveURL)
	}
}

func TestDeleteBlock(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.PutBlock(ctx, BlockRecord{Username: "Dave"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteBlock(ctx, "dave"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Block(ctx, "dave"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: %v", err)
	}
	if err := s.DeleteBlock(ctx, "dave"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestList_SearchAndOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.EnsureCategories(ctx); err != nil {
		t.Fatal(err)
	}
	recs := []BlockRecord{
		{Username: "alice", Categories: []string{"political"}, Date: fixedNow.Add(-2 * time.Hour)},
		{Username: "bob", Reason: "Crypto spam", Date: fixedNow.Add(-1 * time.Hour)},
		{Username: "carol", Categories: []string{"harassment"}, Date: fixedNow},
	}
	for _, r := range recs {
		if _, err := s.PutBlock(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Username != "carol" || all[2].Username != "alice" {
		t.Fatalf("order: %v", usernames(all))
	}

	tests := map[string][]string{
		"ALI":     {"alice"},
		"crypto":  {"bob"},
		"harass":  {"carol"},
		"politic": {"alice"},
		"nomatch": {},
	}
	for q, want := range tests {
		got, err := s.List(ctx, q)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Errorf("List(%q) = %v, want %v", q, usernames(got), want)
			continue
		}
		for i := range want {
			if got[i].Username != want[i] {
				t.Errorf("List(%q) = %v, want %v", q, usernames(got), want)
			}
		}
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.EnsureCategories(ctx); err != nil {
		t.Fatal(err)
	}
	s.PutBlock(ctx, BlockRecord{Username: "a", Categories: []string{"political", "trolling"}})
	s.PutBlock(ctx, BlockRecord{Username: "b", Tweet: StringPtr("t"), TweetURL: StringPtr("https://x.com/b/status/2")})
	s.SetArchiveURL(ctx, "b", "https://web.archive.org/web/https://x.com/b/status/2")

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 2 || st.Uncategorized != 1 || st.WithTweet != 1 || st.Archived != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if st.ByCategory["political"] != 1 || st.ByCategory["trolling"] != 1 || st.ByCategory["other"] != 0 {
		t.Fatalf("by category: %v", st.ByCategory)
	}
}

func TestDecodeBlocks_LegacyCategory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	legacy := `{"eve":{"username":"Eve","category":"creepy","reason":"","tweet":null,"tweetUrl":null,"tweetMedia":null,"tweetArchiveUrl":null,"date":"2024-05-01T10:00:00.000Z"},
	"frank":{"username":"frank","category":null,"reason":"x","date":"2024-05-02T10:00:00.000Z"}}`
	if err := s.kv.Set(ctx, KeyBlocks, []byte(legacy)); err != nil {
		t.Fatal(err)
	}

	eve, err := s.Block(ctx, "eve")
	if err != nil {
		t.Fatal(err)
	}
	if len(eve.Categories) != 1 || eve.Categories[0] != "creepy" {
		t.Fatalf("legacy category not upgraded: %v", eve.Categories)
	}
	frank, err := s.Block(ctx, "frank")
	if err != nil {
		t.Fatal(err)
	}
	if frank.Categories == nil || len(frank.Categories) != 0 {
		t.Fatalf("null legacy category: %v", frank.Categories)
	}
}

func TestExportImport(t *testing.T) {
	src := testStore(t)
	ctx := context.Background()
	if _, err := src.EnsureCategories(ctx); err != nil {
		t.Fatal(err)
	}
	src.AddCategory(ctx, "Bad Faith")
	src.PutBlock(ctx, BlockRecord{Username: "Zed", Categories: []string{"bad-faith"}, Reason: "r"})

	dump, err := src.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(dump)
	if err != nil {
		t.Fatal(err)
	}

	dst := testStore(t)
	if err := dst.Import(ctx, data); err != nil {
		t.Fatalf("Import: %v", err)
	}
	rec, err := dst.Block(ctx, "zed")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Reason != "r" || !rec.HasCategory("bad-faith") {
		t.Fatalf("imported record: %+v", rec)
	}
	cats, _ := dst.Categories(ctx)
	if len(cats) != len(DefaultCategories)+1 {
		t.Fatalf("imported categories: %d", len(cats))
	}
}

func TestImport_Rejects(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, bad := range []string{
		`not json`,
		`{"categories":[],"blocks":{}}`,
		`{"categories":[{"id":"a","label":"A"},{"id":"a","label":"A"}],"blocks":{}}`,
		`{"categories":[{"id":"a","label":"A"}],"blocks":[]}`,
	} {
		if err := s.Import(ctx, []byte(bad)); !errors.Is(err, ErrInvalidDump) {
			t.Errorf("Import(%s) = %v, want ErrInvalidDump", bad, err)
		}
	}
}

func usernames(recs []BlockRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Username
	}
	return out
}

func TestRevision_MovesOnEveryWrite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rev, err := s.Revision(ctx)
	if err != nil || rev != 0 {
		t.Fatalf("empty store revision = %d, %v", rev, err)
	}
	last := rev
	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.PutBlock(ctx, BlockRecord{Username: name}); err != nil {
			t.Fatal(err)
		}
		rev, err := s.Revision(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if rev <= last {
			t.Fatalf("revision did not move after writing %s: %d <= %d", name, rev, last)
		}
		last = rev
	}
}

package knowledge_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/earshot-audio/earshot/internal/knowledge"
	embedmock "github.com/earshot-audio/earshot/pkg/provider/embeddings/mock"
)

// ─── seed-file loading ───────────────────────────────────────────────────────

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"venue.txt":  "El local cierra a medianoche.\n",
		"party.md":   "# Sábado\nDexter organiza la fiesta.",
		"image.png":  "not text",
		"blank.txt":  "   \n\t",
		"notes.json": `{"skip": true}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	docs, err := knowledge.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len(docs) = %d, want 2 (only non-empty .txt/.md)", len(docs))
	}
	byID := make(map[string]knowledge.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	if d, ok := byID["venue.txt"]; !ok {
		t.Error("venue.txt missing")
	} else if d.Content != "El local cierra a medianoche." {
		t.Errorf("venue.txt content = %q, want trimmed text", d.Content)
	}
	if _, ok := byID["party.md"]; !ok {
		t.Error("party.md missing")
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := knowledge.LoadDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("LoadDir should fail on a missing directory")
	}
}

// ─── PostgreSQL integration ──────────────────────────────────────────────────

// testDSN returns the test database DSN from the environment, or skips the
// test if EARSHOT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("EARSHOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EARSHOT_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [knowledge.Store] with a clean chunks table.
func newTestStore(t *testing.T, embedder *embedmock.Provider) *knowledge.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS knowledge_chunks CASCADE"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	store, err := knowledge.NewStore(ctx, dsn, embedder)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIndexAndRelevant(t *testing.T) {
	embedder := &embedmock.Provider{
		Dims: 4,
		Vectors: map[string][]float32{
			"la fiesta es el sábado":   {1, 0, 0, 0},
			"el bar cierra a las doce": {0, 1, 0, 0},
			"hay parking en la plaza":  {0, 0, 1, 0},
			"¿cuándo es la fiesta?":    {0.9, 0.1, 0, 0},
		},
	}
	store := newTestStore(t, embedder)
	ctx := context.Background()

	err := store.Index(ctx, []knowledge.Document{
		{ID: "party", Content: "la fiesta es el sábado"},
		{ID: "hours", Content: "el bar cierra a las doce"},
		{ID: "parking", Content: "hay parking en la plaza"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	if n, err := store.Count(ctx); err != nil || n != 3 {
		t.Fatalf("Count = %d, %v; want 3", n, err)
	}

	snippets, err := store.Relevant(ctx, "¿cuándo es la fiesta?", 2)
	if err != nil {
		t.Fatalf("Relevant: %v", err)
	}
	if len(snippets) != 2 {
		t.Fatalf("len(snippets) = %d, want 2", len(snippets))
	}
	if snippets[0] != "la fiesta es el sábado" {
		t.Errorf("closest snippet = %q, want the party chunk first", snippets[0])
	}
}

func TestIndexReplacesExisting(t *testing.T) {
	embedder := &embedmock.Provider{Dims: 4}
	store := newTestStore(t, embedder)
	ctx := context.Background()

	if err := store.Index(ctx, []knowledge.Document{{ID: "doc", Content: "primera versión"}}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := store.Index(ctx, []knowledge.Document{{ID: "doc", Content: "segunda versión"}}); err != nil {
		t.Fatalf("re-Index: %v", err)
	}

	if n, err := store.Count(ctx); err != nil || n != 1 {
		t.Fatalf("Count = %d, %v; want 1 after upsert", n, err)
	}
	snippets, err := store.Relevant(ctx, "versión", 1)
	if err != nil {
		t.Fatalf("Relevant: %v", err)
	}
	if len(snippets) != 1 || snippets[0] != "segunda versión" {
		t.Errorf("snippets = %q, want the replaced content", snippets)
	}
}

func TestRelevantZeroLimit(t *testing.T) {
	embedder := &embedmock.Provider{Dims: 4}
	store := newTestStore(t, embedder)

	snippets, err := store.Relevant(context.Background(), "anything", 0)
	if err != nil || snippets != nil {
		t.Errorf("Relevant(limit=0) = %v, %v; want nil, nil", snippets, err)
	}
	if embedder.CallCount() != 0 {
		t.Error("zero limit must not embed the query")
	}
}

func TestIndexRejectsMissingID(t *testing.T) {
	embedder := &embedmock.Provider{Dims: 4}
	store := newTestStore(t, embedder)

	err := store.Index(context.Background(), []knowledge.Document{{Content: "sin id"}})
	if err == nil {
		t.Fatal("Index should reject a document without an ID")
	}
}

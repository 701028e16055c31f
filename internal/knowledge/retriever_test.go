package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/storage"
)

// mockEmbeddingClient implements EmbeddingClient for testing.
type mockEmbeddingClient struct {
	embedFn func(ctx context.Context, model, text string) ([]float32, error)
}

func (m *mockEmbeddingClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}

// mockVectorStore implements VectorStore for testing.
type mockVectorStore struct {
	searchFn func(vector []float32, topK int) ([]ScoredRecord, error)
}

func (m *mockVectorStore) Insert([]Record) error { return nil }
func (m *mockVectorStore) Search(vector []float32, topK int) ([]ScoredRecord, error) {
	return m.searchFn(vector, topK)
}
func (m *mockVectorStore) DeleteByDoc(string) error { return nil }
func (m *mockVectorStore) Count() (int, error)      { return 0, nil }

// mockDocSource implements DocSource for testing.
type mockDocSource struct {
	docs []storage.KnowledgeDoc
}

func (m *mockDocSource) GetKnowledgeDoc(id string) (storage.KnowledgeDoc, error) {
	for _, d := range m.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return storage.KnowledgeDoc{}, storage.ErrNotFound
}

func (m *mockDocSource) AllKnowledgeDocs() ([]storage.KnowledgeDoc, error) {
	return m.docs, nil
}

func unitVector(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}

func newTestRetriever(embed *mockEmbeddingClient, store *mockVectorStore, docs *mockDocSource) *Retriever {
	return NewRetriever(NewEmbedder(embed, "test-embed"), store, docs, zerolog.Nop())
}

func TestRetrieveVectorPath(t *testing.T) {
	embed := &mockEmbeddingClient{embedFn: func(context.Context, string, string) ([]float32, error) {
		return unitVector(8), nil
	}}
	store := &mockVectorStore{searchFn: func([]float32, int) ([]ScoredRecord, error) {
		return []ScoredRecord{
			{Record: Record{ID: "v1", DocID: "d1", TextChunk: "chunk one"}, Score: 0.95},
			{Record: Record{ID: "v2", DocID: "d2", TextChunk: "chunk two"}, Score: 0.80},
		}, nil
	}}
	docs := &mockDocSource{docs: []storage.KnowledgeDoc{
		{ID: "d1", Title: "Doc One"},
		{ID: "d2", Title: "Doc Two"},
	}}

	r := newTestRetriever(embed, store, docs)
	snippets := r.Retrieve(context.Background(), "query", 5, 0.7)

	if len(snippets) != 2 {
		t.Fatalf("got %d snippets, want 2", len(snippets))
	}
	if snippets[0].Similarity < snippets[1].Similarity {
		t.Error("snippets not ordered by descending similarity")
	}
	if snippets[0].Title != "Doc One" {
		t.Errorf("snippets[0].Title = %q, want Doc One", snippets[0].Title)
	}
}

func TestRetrieveSimilarityFloor(t *testing.T) {
	embed := &mockEmbeddingClient{embedFn: func(context.Context, string, string) ([]float32, error) {
		return unitVector(8), nil
	}}
	store := &mockVectorStore{searchFn: func([]float32, int) ([]ScoredRecord, error) {
		return []ScoredRecord{
			{Record: Record{ID: "v1", DocID: "d1", TextChunk: "weak match"}, Score: 0.4},
		}, nil
	}}
	docs := &mockDocSource{docs: []storage.KnowledgeDoc{
		{ID: "d1", Title: "Unrelated", Content: "nothing in common"},
	}}

	r := newTestRetriever(embed, store, docs)
	// Below-floor vector results are discarded; the keyword fallback also
	// finds nothing, so retrieval degrades to empty rather than failing.
	snippets := r.Retrieve(context.Background(), "query about pricing", 5, 0.7)
	if len(snippets) != 0 {
		t.Errorf("got %d snippets, want 0", len(snippets))
	}
}

func TestRetrieveKeywordFallbackOnEmptyIndex(t *testing.T) {
	embed := &mockEmbeddingClient{embedFn: func(context.Context, string, string) ([]float32, error) {
		return unitVector(8), nil
	}}
	store := &mockVectorStore{searchFn: func([]float32, int) ([]ScoredRecord, error) {
		return nil, nil // empty vector index
	}}
	docs := &mockDocSource{docs: []storage.KnowledgeDoc{
		{ID: "d1", Title: "Refunds", Content: "We refund within 30 days"},
	}}

	r := newTestRetriever(embed, store, docs)
	snippets := r.Retrieve(context.Background(), "refund policy", 5, 0.7)

	if len(snippets) != 1 {
		t.Fatalf("got %d snippets, want 1 via keyword path", len(snippets))
	}
	if snippets[0].Title != "Refunds" {
		t.Errorf("Title = %q, want Refunds", snippets[0].Title)
	}
	if snippets[0].Similarity != 1.0 {
		t.Errorf("Similarity = %v, want 1.0", snippets[0].Similarity)
	}
}

func TestRetrieveKeywordFallbackOnVectorError(t *testing.T) {
	embed := &mockEmbeddingClient{embedFn: func(context.Context, string, string) ([]float32, error) {
		return nil, errors.New("embedding provider unreachable")
	}}
	store := &mockVectorStore{searchFn: func([]float32, int) ([]ScoredRecord, error) {
		t.Fatal("vector search should not be reached when embedding fails")
		return nil, nil
	}}
	docs := &mockDocSource{docs: []storage.KnowledgeDoc{
		{ID: "d1", Title: "Shipping", Content: "Orders ship within two business days"},
	}}

	r := newTestRetriever(embed, store, docs)
	snippets := r.Retrieve(context.Background(), "when does my order ship? shipping time", 5, 0.7)

	if len(snippets) != 1 {
		t.Fatalf("got %d snippets, want 1", len(snippets))
	}
	if snippets[0].ID != "d1" {
		t.Errorf("ID = %q, want d1", snippets[0].ID)
	}
}

func TestKeywordFallbackReturnsSingleBestMatch(t *testing.T) {
	embed := &mockEmbeddingClient{embedFn: func(context.Context, string, string) ([]float32, error) {
		return unitVector(8), nil
	}}
	store := &mockVectorStore{searchFn: func([]float32, int) ([]ScoredRecord, error) {
		return nil, nil
	}}
	docs := &mockDocSource{docs: []storage.KnowledgeDoc{
		{ID: "d1", Title: "General", Content: "mentions refund once"},
		{ID: "d2", Title: "Refund policy", Content: "refund details and refund terms"},
		{ID: "d3", Title: "Other", Content: "nothing relevant"},
	}}

	r := newTestRetriever(embed, store, docs)
	snippets := r.Retrieve(context.Background(), "refund policy", 5, 0.7)

	// Title matches weigh 3x, so d2 wins; fallback returns exactly one.
	if len(snippets) != 1 {
		t.Fatalf("got %d snippets, want 1", len(snippets))
	}
	if snippets[0].ID != "d2" {
		t.Errorf("ID = %q, want d2", snippets[0].ID)
	}
}

func TestKeywordFallbackTruncatesContent(t *testing.T) {
	embed := &mockEmbeddingClient{embedFn: func(context.Context, string, string) ([]float32, error) {
		return unitVector(8), nil
	}}
	store := &mockVectorStore{searchFn: func([]float32, int) ([]ScoredRecord, error) {
		return nil, nil
	}}

	long := make([]byte, fallbackContentCap*2)
	for i := range long {
		long[i] = 'x'
	}
	docs := &mockDocSource{docs: []storage.KnowledgeDoc{
		{ID: "d1", Title: "Warranty", Content: "warranty " + string(long)},
	}}

	r := newTestRetriever(embed, store, docs)
	snippets := r.Retrieve(context.Background(), "warranty coverage", 5, 0.7)

	if len(snippets) != 1 {
		t.Fatalf("got %d snippets, want 1", len(snippets))
	}
	if len(snippets[0].Content) > fallbackContentCap {
		t.Errorf("content length %d exceeds cap %d", len(snippets[0].Content), fallbackContentCap)
	}
}

func TestExtractKeywordsSkipsShortWords(t *testing.T) {
	got := extractKeywords("How do I get a refund?")
	// Only words longer than three characters survive.
	if len(got) != 1 || got[0] != "refund" {
		t.Errorf("extractKeywords = %v, want [refund]", got)
	}
}

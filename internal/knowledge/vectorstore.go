package knowledge

import (
	"time"
)

// VectorStore is the interface for vector storage and similarity search.
// The default implementation is SQLite with brute-force cosine similarity,
// which is plenty for knowledge bases of a few thousand chunks. A hosted
// vector database (e.g. Pinecone) can be slotted in behind this interface
// without touching the retriever.
type VectorStore interface {
	// Insert adds chunk records.
	Insert(records []Record) error

	// Search returns the top-K records most similar to the query vector,
	// ordered by descending similarity.
	Search(vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteByDoc removes all chunk records belonging to a document.
	DeleteByDoc(docID string) error

	// Count returns the number of stored chunk records.
	Count() (int, error)
}

// Record is one embedded chunk of a knowledge document.
type Record struct {
	ID        string
	DocID     string
	TextChunk string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

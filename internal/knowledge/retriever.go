package knowledge

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/storage"
)

// Snippet is a retrieved knowledge fragment with its similarity score.
type Snippet struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

// DocSource provides the stored documents. Implemented by storage.Store.
type DocSource interface {
	GetKnowledgeDoc(id string) (storage.KnowledgeDoc, error)
	AllKnowledgeDocs() ([]storage.KnowledgeDoc, error)
}

// fallbackContentCap bounds the content returned by the keyword fallback so a
// large document cannot flood the prompt context.
const fallbackContentCap = 500

// minKeywordLength: query words this short ("the", "how") carry no signal.
const minKeywordLength = 3

// Retriever performs similarity search over the embedded knowledge base with
// a keyword-overlap fallback. Retrieval never returns an error: when neither
// path produces a match the result is simply empty, and the caller's context
// assembly proceeds without a knowledge section.
type Retriever struct {
	embedder *Embedder
	vectors  VectorStore
	docs     DocSource
	logger   zerolog.Logger
}

// NewRetriever creates a Retriever over the given embedder, vector store and
// document source.
func NewRetriever(embedder *Embedder, vectors VectorStore, docs DocSource, logger zerolog.Logger) *Retriever {
	return &Retriever{embedder: embedder, vectors: vectors, docs: docs, logger: logger}
}

// Retrieve returns up to topK snippets ordered by descending similarity.
// When the vector path fails or no result clears minSimilarity, it falls
// back to keyword matching, which returns at most one snippet with
// similarity reported as 1.0. The fallback is deliberately top-1: keyword
// overlap is a last-resort signal and is not meant to compete with vector
// search on volume.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, minSimilarity float32) []Snippet {
	if topK <= 0 {
		topK = 3
	}

	snippets, err := r.vectorSearch(ctx, query, topK, minSimilarity)
	if err != nil {
		r.logger.Warn().Err(err).Msg("vector search failed, using keyword fallback")
		return r.keywordFallback(query)
	}
	if len(snippets) == 0 {
		return r.keywordFallback(query)
	}
	return snippets
}

func (r *Retriever) vectorSearch(ctx context.Context, query string, topK int, minSimilarity float32) ([]Snippet, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.vectors.Search(vec, topK)
	if err != nil {
		return nil, err
	}

	var snippets []Snippet
	for _, s := range scored {
		if s.Score < minSimilarity {
			continue
		}
		title := ""
		if doc, err := r.docs.GetKnowledgeDoc(s.DocID); err == nil {
			title = doc.Title
		}
		snippets = append(snippets, Snippet{
			ID:         s.DocID,
			Title:      title,
			Content:    s.TextChunk,
			Similarity: s.Score,
		})
	}
	return snippets, nil
}

// keywordFallback scores every stored document by keyword overlap with the
// query and returns the single best match, if any. Title hits weigh more
// than content hits. First-seen wins ties.
func (r *Retriever) keywordFallback(query string) []Snippet {
	docs, err := r.docs.AllKnowledgeDocs()
	if err != nil {
		r.logger.Warn().Err(err).Msg("keyword fallback could not list documents")
		return nil
	}

	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil
	}

	var best storage.KnowledgeDoc
	bestScore := 0
	for _, doc := range docs {
		content := strings.ToLower(doc.Content)
		title := strings.ToLower(doc.Title)

		contentMatches := 0
		titleMatches := 0
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				contentMatches++
			}
			if strings.Contains(title, kw) {
				titleMatches++
			}
		}

		score := 2*contentMatches + 3*titleMatches
		if score > bestScore {
			bestScore = score
			best = doc
		}
	}

	if bestScore == 0 {
		return nil
	}

	content := best.Content
	if len(content) > fallbackContentCap {
		content = content[:fallbackContentCap]
	}
	return []Snippet{{
		ID:         best.ID,
		Title:      best.Title,
		Content:    content,
		Similarity: 1.0,
	}}
}

func extractKeywords(query string) []string {
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if len(word) > minKeywordLength {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

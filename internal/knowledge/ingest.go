package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/kalambet/wachat/internal/storage"
)

// DocWriter persists documents. Implemented by storage.Store.
type DocWriter interface {
	SaveKnowledgeDoc(doc storage.KnowledgeDoc) error
	DeleteKnowledgeDoc(id string) error
}

const maxCrawlBodySize = 5 << 20 // 5MB

// Ingestor adds documents to the knowledge base: it stores the document,
// chunks the content, embeds each chunk and inserts the vectors. When
// embedding fails the document is still stored; the keyword fallback can
// serve it until a re-index.
type Ingestor struct {
	docs       DocWriter
	embedder   *Embedder
	vectors    VectorStore
	httpClient *http.Client
	chunkSize  int
}

// NewIngestor creates an Ingestor. chunkSize <= 0 defaults to 1200 characters.
func NewIngestor(docs DocWriter, embedder *Embedder, vectors VectorStore, chunkSize int) *Ingestor {
	if chunkSize <= 0 {
		chunkSize = 1200
	}
	return &Ingestor{
		docs:       docs,
		embedder:   embedder,
		vectors:    vectors,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		chunkSize:  chunkSize,
	}
}

// IngestText stores a manually supplied document.
func (in *Ingestor) IngestText(ctx context.Context, title, content, category string) (string, error) {
	return in.ingest(ctx, title, content, category, "manual")
}

// IngestPDF extracts plain text from a PDF and stores it.
func (in *Ingestor) IngestPDF(ctx context.Context, title, category string, r io.ReaderAt, size int64) (string, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}

	content := strings.TrimSpace(buf.String())
	if content == "" {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return in.ingest(ctx, title, content, category, "pdf")
}

// IngestURL fetches a web page, extracts its visible text and stores it.
func (in *Ingestor) IngestURL(ctx context.Context, url, category string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	resp, err := in.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxCrawlBodySize)
	title, content, err := ExtractHTMLText(body)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	if content == "" {
		return "", fmt.Errorf("page contains no extractable text")
	}
	if title == "" {
		title = url
	}
	return in.ingest(ctx, title, content, category, "crawl")
}

// Delete removes a document and its vectors.
func (in *Ingestor) Delete(id string) error {
	if err := in.docs.DeleteKnowledgeDoc(id); err != nil {
		return err
	}
	return in.vectors.DeleteByDoc(id)
}

func (in *Ingestor) ingest(ctx context.Context, title, content, category, source string) (string, error) {
	docID := uuid.New().String()
	doc := storage.KnowledgeDoc{
		ID:        docID,
		Title:     title,
		Content:   content,
		Category:  category,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if err := in.docs.SaveKnowledgeDoc(doc); err != nil {
		return "", fmt.Errorf("saving document: %w", err)
	}

	chunks := ChunkText(content, in.chunkSize)
	vectors, err := in.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		// Keyword fallback still covers the document.
		return docID, fmt.Errorf("embedding chunks for %s: %w", docID, err)
	}

	records := make([]Record, len(chunks))
	now := time.Now().UTC()
	for i, chunk := range chunks {
		records[i] = Record{
			ID:        uuid.New().String(),
			DocID:     docID,
			TextChunk: chunk,
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}
	if err := in.vectors.Insert(records); err != nil {
		return docID, fmt.Errorf("inserting vectors for %s: %w", docID, err)
	}
	return docID, nil
}

// ChunkText splits text into chunks of roughly chunkSize characters,
// breaking on paragraph boundaries where possible.
func ChunkText(text string, chunkSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para) > chunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if len(para) > chunkSize {
			// A single oversized paragraph is split hard.
			for len(para) > chunkSize {
				chunks = append(chunks, para[:chunkSize])
				para = para[chunkSize:]
			}
		}
		if para != "" {
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(para)
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// ExtractHTMLText parses HTML and returns the page title and the visible
// text content, with script and style elements skipped.
func ExtractHTMLText(r io.Reader) (title, content string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, sb.String(), nil
}

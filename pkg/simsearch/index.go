package simsearch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/philippgille/chromem-go"

	"github.com/malsift/malsift/pkg/unit"
)

// Document is one reference corpus entry: a decompiled unit with a label
// telling whether it came from the malware or benign side of the corpus.
type Document struct {
	ID      string
	Name    string
	Label   string
	Content string
}

// Neighbor is a corpus document ranked against a query.
type Neighbor struct {
	Name       string  `json:"name"`
	Label      string  `json:"label"`
	Similarity float32 `json:"similarity"`
}

// Index holds the reference corpus in an in-memory vector collection.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
}

// NewIndex creates an empty index backed by the given embedder.
func NewIndex(embedder Embedder) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}

	db := chromem.NewDB()
	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := embedder.EmbedBatch(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("no embedding returned")
		}
		return vecs[0], nil
	}

	collection, err := db.CreateCollection("reference-corpus", nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create corpus collection: %w", err)
	}

	return &Index{
		db:         db,
		collection: collection,
		embedder:   embedder,
	}, nil
}

// Add embeds and stores the documents. Empty documents are skipped.
func (ix *Index) Add(ctx context.Context, docs []Document, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	converted := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		if d.Content == "" {
			continue
		}
		converted = append(converted, chromem.Document{
			ID:      d.ID,
			Content: d.Content,
			Metadata: map[string]string{
				"name":  d.Name,
				"label": d.Label,
			},
		})
	}
	if len(converted) == 0 {
		return nil
	}
	if err := ix.collection.AddDocuments(ctx, converted, workers); err != nil {
		return fmt.Errorf("index corpus documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (ix *Index) Count() int {
	return ix.collection.Count()
}

// Query returns the k nearest corpus documents for the text, most similar
// first. k is clamped to the collection size.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]Neighbor, error) {
	if n := ix.collection.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}
	results, err := ix.collection.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("corpus query: %w", err)
	}
	neighbors := make([]Neighbor, len(results))
	for i, r := range results {
		neighbors[i] = Neighbor{
			Name:       r.Metadata["name"],
			Label:      r.Metadata["label"],
			Similarity: r.Similarity,
		}
	}
	return neighbors, nil
}

// LoadCorpusDir reads a corpus layout of <root>/<label>/... source files,
// labelling every document with its top-level directory name. The usual
// layout is a malware/ and a benign/ subtree. Unreadable files are reported
// as error strings, matching the scanner's load stage.
func LoadCorpusDir(root string) ([]Document, []string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, []string{fmt.Sprintf("read_fail:%s:%v", root, err)}
	}

	var docs []Document
	var errs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label := entry.Name()
		units, loadErrs := unit.LoadDir(filepath.Join(root, label))
		errs = append(errs, loadErrs...)
		for _, u := range units {
			docs = append(docs, Document{
				ID:      label + ":" + u.ID,
				Name:    u.Name,
				Label:   label,
				Content: u.Text,
			})
		}
	}
	return docs, errs
}

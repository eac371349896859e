// Package search provides the full-text article index backed by Bleve.
package search

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kbase/internal/models"
)

const (
	titleBoost = 3.0
	tagsBoost  = 2.0
	// fuzziness applies to single-word queries only
	fuzziness = 1
)

// Hit is a single search result.
type Hit struct {
	ID    string
	Score float64
}

// document is what gets indexed for one article.
type document struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Body        string   `json:"body"`
}

// Index is a Bleve index over article title, description, tags and body text.
type Index struct {
	index bleve.Index
}

// NewIndex opens the index at path, creating it if needed. An empty path keeps the index in memory.
// The index is derived data: remove the directory after changing the mapping.
func NewIndex(path string) (*Index, error) {
	im := buildMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &Index{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &Index{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &Index{index: index}, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// standard analyzer: lowercase + tokenize, no stemming
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	for _, field := range []string{"title", "description", "tags", "body"} {
		docMapping.AddFieldMappingsAt(field, text)
	}
	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("category", exact)

	im.AddDocumentMapping("article", docMapping)
	im.DefaultType = "article"
	im.DefaultMapping = docMapping
	return im
}

func toDocument(a *models.Article) *document {
	return &document{
		Title:       a.Title,
		Description: a.Description,
		Category:    a.Category,
		Tags:        a.Tags,
		Body:        PlainText(a.Content),
	}
}

// IndexArticle adds or replaces a.
func (x *Index) IndexArticle(ctx context.Context, a *models.Article) error {
	if err := x.index.Index(a.ID, toDocument(a)); err != nil {
		return fmt.Errorf("failed to index article %s: %w", a.ID, err)
	}
	return nil
}

// Rebuild makes the index hold exactly articles, removing anything else.
func (x *Index) Rebuild(ctx context.Context, articles []*models.Article) error {
	keep := make(map[string]struct{}, len(articles))
	batch := x.index.NewBatch()
	for _, a := range articles {
		keep[a.ID] = struct{}{}
		if err := batch.Index(a.ID, toDocument(a)); err != nil {
			return fmt.Errorf("failed to index article %s: %w", a.ID, err)
		}
	}

	stale, err := x.allIDs()
	if err != nil {
		return err
	}
	for _, id := range stale {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
		}
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to apply index batch: %w", err)
	}
	return nil
}

func (x *Index) allIDs() ([]string, error) {
	count, err := x.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to get doc count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	res, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Search returns up to limit article ids matching query, best first.
// Title and tag matches weigh more than description and body matches.
// Single-word queries also match words one edit away.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	fields := []struct {
		name  string
		boost float64
	}{
		{"title", titleBoost},
		{"tags", tagsBoost},
		{"description", 1},
		{"body", 1},
	}
	single := len(strings.Fields(query)) == 1
	queries := make([]blevequery.Query, 0, len(fields)*2)
	for _, f := range fields {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(f.name)
		mq.SetBoost(f.boost)
		queries = append(queries, mq)
		if single {
			fq := bleve.NewFuzzyQuery(strings.ToLower(query))
			fq.SetFuzziness(fuzziness)
			fq.SetField(f.name)
			fq.SetBoost(f.boost / 2)
			queries = append(queries, fq)
		}
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(queries...))
	req.Size = limit
	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hits := make([]Hit, len(res.Hits))
	for i, h := range res.Hits {
		hits[i] = Hit{ID: h.ID, Score: h.Score}
	}
	return hits, nil
}

// DocCount returns the number of indexed articles.
func (x *Index) DocCount() (uint64, error) {
	return x.index.DocCount()
}

// Close closes the index.
func (x *Index) Close() error {
	return x.index.Close()
}

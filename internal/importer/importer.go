// Package importer turns Markdown files with YAML front matter into articles.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/adrg/frontmatter"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"

	"github.com/hyperjump/kbase/internal/models"
)

// Extensions are the file extensions ImportDir picks up.
var Extensions = []string{".md", ".markdown"}

// FrontMatter is the metadata block at the top of an imported file.
// A non-empty ID updates that article instead of creating one.
type FrontMatter struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Summary     string   `yaml:"summary"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
}

// Saver persists an article input.
type Saver interface {
	Save(ctx context.Context, in *models.ArticleInput) (*models.Article, bool, error)
}

// Result summarizes an ImportDir run.
type Result struct {
	Created []string          `json:"created"`
	Updated []string          `json:"updated"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Importer converts and saves Markdown files. It remembers which article each path
// produced, so importing the same file again updates it.
type Importer struct {
	saver  Saver
	md     goldmark.Markdown
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]string // path -> article id
}

// Option configures an Importer.
type Option func(*Importer)

func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

func New(saver Saver, opts ...Option) *Importer {
	im := &Importer{
		saver: saver,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		logger: zap.NewNop(),
		seen:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Convert parses front matter and renders the Markdown body to HTML.
// Without a title in the front matter the file name (minus extension) is used.
func (im *Importer) Convert(source []byte, name string) (*models.ArticleInput, error) {
	var meta FrontMatter
	body, err := frontmatter.Parse(bytes.NewReader(source), &meta)
	if err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}
	var buf bytes.Buffer
	if err := im.md.Convert(body, &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	title := meta.Title
	if strings.TrimSpace(title) == "" {
		base := filepath.Base(name)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	desc := meta.Description
	if desc == "" {
		desc = meta.Summary
	}
	return &models.ArticleInput{
		ID:          meta.ID,
		Title:       title,
		Description: desc,
		Category:    meta.Category,
		Tags:        meta.Tags,
		Content:     strings.TrimSpace(buf.String()),
	}, nil
}

// ImportFile converts and saves the file at path. created reports whether a new
// article was made.
func (im *Importer) ImportFile(ctx context.Context, path string) (a *models.Article, created bool, err error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	in, err := im.Convert(source, path)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	if in.ID == "" {
		im.mu.Lock()
		in.ID = im.seen[path]
		im.mu.Unlock()
	}
	a, created, err = im.saver.Save(ctx, in)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	im.mu.Lock()
	im.seen[path] = a.ID
	im.mu.Unlock()
	im.logger.Info("imported article", zap.String("path", path), zap.String("id", a.ID), zap.Bool("created", created))
	return a, created, nil
}

// ImportDir imports every Markdown file under dir in lexical order.
// A failing file is recorded and the rest are still imported.
func (im *Importer) ImportDir(ctx context.Context, dir string) (*Result, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsMarkdown(path) && !strings.HasPrefix(d.Name(), ".") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	res := &Result{Created: []string{}, Updated: []string{}}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		a, created, err := im.ImportFile(ctx, p)
		if err != nil {
			im.logger.Warn("import failed", zap.String("path", p), zap.Error(err))
			if res.Failed == nil {
				res.Failed = map[string]string{}
			}
			res.Failed[p] = err.Error()
			continue
		}
		if created {
			res.Created = append(res.Created, a.ID)
		} else {
			res.Updated = append(res.Updated, a.ID)
		}
	}
	return res, nil
}

// IsMarkdown reports whether path has one of Extensions.
func IsMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kbase/internal/client"
	"github.com/hyperjump/kbase/internal/editor"
	"github.com/hyperjump/kbase/internal/models"
)

// ErrNotFound is returned when a page is asked for an article that is not loaded.
var ErrNotFound = errors.New("article not found")

// ValidationError blocks a save before any request is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// API is the part of the client the editor page uses.
type API interface {
	editor.Uploader
	SaveArticle(ctx context.Context, in *models.ArticleInput) (*client.SaveResult, error)
}

// Form holds the editor page's input fields. Tags is the raw comma-separated text.
type Form struct {
	ID          string
	Title       string
	Description string
	Category    string
	Tags        string
}

// PageOption configures a page controller.
type PageOption func(*pageOptions)

type pageOptions struct {
	notifier editor.Notifier
	logger   *zap.Logger
}

// WithNotifier sets where user-visible messages go.
func WithNotifier(n editor.Notifier) PageOption {
	return func(o *pageOptions) { o.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) PageOption {
	return func(o *pageOptions) { o.logger = l }
}

func buildOptions(opts []PageOption) pageOptions {
	o := pageOptions{
		notifier: editor.NotifierFunc(func(editor.Level, string) {}),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EditorPage gathers form and editor state into a save request and reconciles the
// result. It is mounted while the editor page is visible.
type EditorPage struct {
	api      API
	nav      Navigator
	editor   *editor.Editor
	notifier editor.Notifier
	logger   *zap.Logger

	mu   sync.Mutex
	form Form
}

// NewEditorPage builds the page and its editor.
func NewEditorPage(api API, nav Navigator, opts ...PageOption) *EditorPage {
	o := buildOptions(opts)
	return &EditorPage{
		api:      api,
		nav:      nav,
		editor:   editor.New(api, editor.WithNotifier(o.notifier), editor.WithLogger(o.logger)),
		notifier: o.notifier,
		logger:   o.logger,
	}
}

// Mount attaches the editor; image uploads run under ctx.
func (p *EditorPage) Mount(ctx context.Context) { p.editor.Mount(ctx) }

// Unmount cancels in-flight uploads and drops their results.
func (p *EditorPage) Unmount() { p.editor.Unmount() }

// Editor returns the page's content editor.
func (p *EditorPage) Editor() *editor.Editor { return p.editor }

// Form returns the current field values.
func (p *EditorPage) Form() Form {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.form
}

// SetForm replaces the field values, as typed by the user.
func (p *EditorPage) SetForm(f Form) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.form = f
}

// LoadForEdit prepares the page for id. An empty id starts a new article.
// An id missing from articles navigates back to the listing and returns ErrNotFound.
func (p *EditorPage) LoadForEdit(id string, articles []*models.Article) error {
	if id == "" {
		p.SetForm(Form{})
		return p.editor.SetContent(editor.StarterContent)
	}
	var found *models.Article
	for _, a := range articles {
		if a != nil && a.ID == id {
			found = a
			break
		}
	}
	if found == nil {
		p.nav.Navigate(PageKnowledge, "")
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.SetForm(Form{
		ID:          found.ID,
		Title:       found.Title,
		Description: found.Description,
		Category:    found.Category,
		Tags:        strings.Join(found.Tags, ", "),
	})
	return p.editor.SetContent(found.Content)
}

// Payload builds the save request from the form and editor.
// It returns a *ValidationError when the title is blank.
func (p *EditorPage) Payload() (*models.ArticleInput, error) {
	f := p.Form()
	title := strings.TrimSpace(f.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Message: "Title is required."}
	}
	return &models.ArticleInput{
		ID:          strings.TrimSpace(f.ID),
		Title:       title,
		Description: strings.TrimSpace(f.Description),
		Category:    strings.TrimSpace(f.Category),
		Tags:        SplitTags(f.Tags),
		Content:     p.editor.HTML(),
	}, nil
}

// Save posts the article. Validation failures are reported without a request.
// On success the user is told and sent back to the listing.
func (p *EditorPage) Save(ctx context.Context) (*client.SaveResult, error) {
	in, err := p.Payload()
	if err != nil {
		p.notifier.Notify(editor.LevelError, err.Error())
		return nil, err
	}
	if editor.HasPlaceholders(in.Content) {
		p.logger.Warn("saving while image uploads are still pending", zap.Int("pending", p.editor.Pending()))
	}
	res, err := p.api.SaveArticle(ctx, in)
	if err != nil {
		msg := err.Error()
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			msg = apiErr.Message
		}
		p.logger.Error("failed to save article", zap.String("id", in.ID), zap.Error(err))
		p.notifier.Notify(editor.LevelError, "Failed to save article: "+msg)
		return nil, err
	}
	if res.ID != "" {
		p.mu.Lock()
		p.form.ID = res.ID
		p.mu.Unlock()
	}
	p.notifier.Notify(editor.LevelInfo, res.Message)
	p.nav.Navigate(PageKnowledge, "")
	return res, nil
}

// SplitTags splits comma-separated input, trimming each tag and dropping empties.
func SplitTags(raw string) []string {
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

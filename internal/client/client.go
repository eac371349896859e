// Package client is a typed HTTP client for the kbase API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbase/internal/models"
)

// UploadField is the multipart field the upload endpoint reads.
const UploadField = "inline_image"

// APIError is a non-2xx response. Message comes from the {message} body when present.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d: %s", e.Status, e.Message)
}

// SaveResult is the body of a successful save.
type SaveResult struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// savePayload keeps id as null on create.
type savePayload struct {
	ID          *string  `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Content     string   `json:"content"`
}

// Client talks to a kbase server. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for baseURL, e.g. "http://localhost:3000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api response", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// ListArticles returns articles, optionally searched by q and filtered by category.
func (c *Client) ListArticles(ctx context.Context, q, category string) ([]*models.Article, error) {
	params := url.Values{}
	if q != "" {
		params.Set("q", q)
	}
	if category != "" {
		params.Set("category", category)
	}
	path := "/api/articles"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var out []*models.Article
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetArticle returns one article; a missing id is an *APIError with Status 404.
func (c *Client) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	var out models.Article
	if err := c.doJSON(ctx, http.MethodGet, "/api/articles/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]*models.User, error) {
	var out []*models.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveArticle posts in to /api/save-article. An empty in.ID is sent as null.
func (c *Client) SaveArticle(ctx context.Context, in *models.ArticleInput) (*SaveResult, error) {
	p := savePayload{
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Tags:        in.Tags,
		Content:     in.Content,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if in.ID != "" {
		id := in.ID
		p.ID = &id
	}
	var out SaveResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/save-article", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Save adapts SaveArticle to the importer's Saver. The returned article carries the
// submitted fields and the id the server assigned; timestamps are left zero.
func (c *Client) Save(ctx context.Context, in *models.ArticleInput) (*models.Article, bool, error) {
	res, err := c.SaveArticle(ctx, in)
	if err != nil {
		return nil, false, err
	}
	return &models.Article{
		ID:          res.ID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Tags:        in.Tags,
		Content:     in.Content,
	}, in.ID == "", nil
}

// UploadImage sends r as a multipart upload and returns the stored image URL.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(UploadField, filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}
	var out models.UploadedImage
	if err := c.do(ctx, http.MethodPost, "/api/upload-image", &buf, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload response has no imageUrl")
	}
	return out.URL, nil
}

// Status returns the server summary.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	if err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

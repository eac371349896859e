// Package models defines core data structures for articles, users, and uploaded images.
package models

import (
	"encoding/json"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DefaultAuthorID is the author assigned to newly created articles.
const DefaultAuthorID = 101

// Article is a persisted knowledge-base entry. Content holds serialized rich-text markup.
type Article struct {
	ID            string    `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	Description   string    `json:"description" db:"description"`
	Category      string    `json:"category" db:"category"`
	Tags          []string  `json:"tags" db:"tags"`
	Content       string    `json:"content" db:"content"`
	AuthorID      int       `json:"authorId" db:"author_id"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt" db:"last_updated_at"`
}

// ArticleInput is the save payload. An empty ID means create.
type ArticleInput struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Content     string   `json:"content"`
}

// Normalize trims whitespace from the text fields and drops empty tags.
func (in *ArticleInput) Normalize() {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	in.Tags = tags
}

// Validate checks the input after Normalize. Title is the only required field.
func (in *ArticleInput) Validate() error {
	return validation.ValidateStruct(in,
		validation.Field(&in.Title, validation.Required.Error("title is required")),
		validation.Field(&in.Tags, validation.Each(validation.Required)),
	)
}

// NewArticle builds a fresh article from in. createdAt and lastUpdatedAt are both now.
func NewArticle(id string, in *ArticleInput, now time.Time) *Article {
	now = Timestamp(now)
	return &Article{
		ID:            id,
		Title:         in.Title,
		Description:   in.Description,
		Category:      in.Category,
		Tags:          copyTags(in.Tags),
		Content:       in.Content,
		AuthorID:      DefaultAuthorID,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// Merge overwrites the editable fields of a with in. ID, AuthorID and CreatedAt are kept.
// LastUpdatedAt always moves strictly forward, even if the clock has not.
func (a *Article) Merge(in *ArticleInput, now time.Time) {
	a.Title = in.Title
	a.Description = in.Description
	a.Category = in.Category
	a.Tags = copyTags(in.Tags)
	a.Content = in.Content
	now = Timestamp(now)
	if !now.After(a.LastUpdatedAt) {
		now = a.LastUpdatedAt.Add(time.Millisecond)
	}
	a.LastUpdatedAt = now
}

// Clone returns a deep copy of a.
func (a *Article) Clone() *Article {
	c := *a
	c.Tags = copyTags(a.Tags)
	return &c
}

// Matches reports whether term occurs, case-insensitively, in the title, description or any tag.
// An empty term matches everything.
func (a *Article) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(a.Title), term) || strings.Contains(strings.ToLower(a.Description), term) {
		return true
	}
	for _, t := range a.Tags {
		if strings.Contains(strings.ToLower(t), term) {
			return true
		}
	}
	return false
}

// Timestamp truncates t to millisecond precision in UTC, the resolution articles are stored at.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// TimeLayout is the wire form of article timestamps: RFC 3339 in UTC with exactly three
// fractional digits, e.g. 2024-01-02T03:04:05.000Z.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// MarshalJSON writes CreatedAt and LastUpdatedAt in TimeLayout. Decoding needs no
// counterpart; time.Time parses the layout as RFC 3339.
func (a Article) MarshalJSON() ([]byte, error) {
	type plain Article
	return json.Marshal(struct {
		plain
		CreatedAt     string `json:"createdAt"`
		LastUpdatedAt string `json:"lastUpdatedAt"`
	}{
		plain:         plain(a),
		CreatedAt:     a.CreatedAt.UTC().Format(TimeLayout),
		LastUpdatedAt: a.LastUpdatedAt.UTC().Format(TimeLayout),
	})
}

func copyTags(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

package models

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestArticleInput_NormalizeAndValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   ArticleInput
		wantErr bool
	}{
		{"empty title", ArticleInput{Title: ""}, true},
		{"whitespace title", ArticleInput{Title: "   \t"}, true},
		{"valid title", ArticleInput{Title: "Hello"}, false},
		{"blank tags are dropped", ArticleInput{Title: "x", Tags: []string{" ", "go", ""}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.input
			in.Normalize()
			err := in.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestArticleInput_NormalizeTrims(t *testing.T) {
	in := ArticleInput{ID: " knw_1 ", Title: "  T ", Tags: []string{" a ", "", "b"}}
	in.Normalize()
	if in.ID != "knw_1" || in.Title != "T" {
		t.Errorf("got id=%q title=%q", in.ID, in.Title)
	}
	if !reflect.DeepEqual(in.Tags, []string{"a", "b"}) {
		t.Errorf("tags: got %v", in.Tags)
	}
}

func TestNewArticle(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	a := NewArticle("knw_1", &ArticleInput{Title: "T", Tags: []string{"x"}}, now)
	if a.AuthorID != DefaultAuthorID {
		t.Errorf("author: got %d", a.AuthorID)
	}
	if !a.CreatedAt.Equal(a.LastUpdatedAt) {
		t.Errorf("createdAt %v != lastUpdatedAt %v", a.CreatedAt, a.LastUpdatedAt)
	}
	if a.CreatedAt.Nanosecond() != 123000000 {
		t.Errorf("timestamp not truncated to millis: %v", a.CreatedAt)
	}
}

func TestArticle_MergePreservesIdentity(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := &Article{ID: "knw_1", Title: "Old", AuthorID: 7, CreatedAt: created, LastUpdatedAt: created}
	a.Merge(&ArticleInput{ID: "other", Title: "New", Description: "d", Category: "c", Tags: []string{"t"}, Content: "<p>x</p>"}, created.Add(time.Hour))
	if a.ID != "knw_1" || a.AuthorID != 7 || !a.CreatedAt.Equal(created) {
		t.Errorf("identity changed: %+v", a)
	}
	if a.Title != "New" || a.Description != "d" || a.Category != "c" || a.Content != "<p>x</p>" || len(a.Tags) != 1 {
		t.Errorf("fields not merged: %+v", a)
	}
	if !a.LastUpdatedAt.Equal(created.Add(time.Hour)) {
		t.Errorf("lastUpdatedAt: got %v", a.LastUpdatedAt)
	}
}

func TestArticle_MergeMovesClockForward(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := &Article{ID: "knw_1", CreatedAt: ts, LastUpdatedAt: ts}
	a.Merge(&ArticleInput{Title: "x"}, ts)
	if !a.LastUpdatedAt.After(ts) {
		t.Errorf("lastUpdatedAt should be strictly later than %v, got %v", ts, a.LastUpdatedAt)
	}
}

func TestAuthorName(t *testing.T) {
	users := []*User{{ID: 101, Name: "Ana"}, nil}
	if got := AuthorName(users, 101); got != "Ana" {
		t.Errorf("got %q", got)
	}
	if got := AuthorName(users, 5); got != UnknownAuthor {
		t.Errorf("got %q", got)
	}
}

func TestArticle_Matches(t *testing.T) {
	a := &Article{Title: "Deploying Go", Description: "A short guide", Tags: []string{"DevOps", "docker"}}
	tests := map[string]bool{
		"":        true,
		"deploy":  true,
		"GUIDE":   true,
		"devops":  true,
		"dock":    true,
		"  go  ":  true,
		"rust":    false,
		"kubectl": false,
	}
	for term, want := range tests {
		if got := a.Matches(term); got != want {
			t.Errorf("Matches(%q) = %v, want %v", term, got, want)
		}
	}
}

func TestArticle_MarshalJSONMillisecondTimestamps(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"whole second", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "2024-01-02T03:04:05.000Z"},
		{"trailing zero", time.Date(2024, 1, 2, 3, 4, 5, 100_000_000, time.UTC), "2024-01-02T03:04:05.100Z"},
		{"non-utc zone", time.Date(2024, 1, 2, 5, 4, 5, 7_000_000, time.FixedZone("x", 2*3600)), "2024-01-02T03:04:05.007Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Article{ID: "knw_1", Title: "T", CreatedAt: tt.at, LastUpdatedAt: tt.at}
			data, err := json.Marshal(a)
			if err != nil {
				t.Fatal(err)
			}
			var raw map[string]interface{}
			if err := json.Unmarshal(data, &raw); err != nil {
				t.Fatal(err)
			}
			if raw["createdAt"] != tt.want || raw["lastUpdatedAt"] != tt.want {
				t.Errorf("createdAt=%v lastUpdatedAt=%v, want %s", raw["createdAt"], raw["lastUpdatedAt"], tt.want)
			}
			if raw["id"] != "knw_1" || raw["title"] != "T" {
				t.Errorf("other fields lost: %s", data)
			}

			var back Article
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatal(err)
			}
			if !back.CreatedAt.Equal(tt.at) {
				t.Errorf("decoded createdAt = %v, want %v", back.CreatedAt, tt.at)
			}
		})
	}
}

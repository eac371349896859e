package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/kbase/internal/models"
)

func TestListArticles_query(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/articles" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode([]*models.Article{{ID: "knw_1", Title: "Go"}})
	}))
	defer ts.Close()

	c := New(ts.URL + "/")
	out, err := c.ListArticles(context.Background(), "go tips", "Dev")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "knw_1" {
		t.Errorf("articles: got %+v", out)
	}
	if gotQuery != "category=Dev&q=go+tips" {
		t.Errorf("query: got %q", gotQuery)
	}
}

func TestGetArticle_notFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"article not found"}`))
	}))
	defer ts.Close()

	_, err := New(ts.URL).GetArticle(context.Background(), "knw_404")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "article not found" {
		t.Errorf("got %+v", apiErr)
	}
}

func TestSaveArticle_payload(t *testing.T) {
	tests := []struct {
		name   string
		in     *models.ArticleInput
		wantID interface{}
	}{
		{"create sends null id", &models.ArticleInput{Title: "New"}, nil},
		{"update sends id", &models.ArticleInput{ID: "knw_7", Title: "Old"}, "knw_7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]interface{}
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/api/save-article" {
					t.Errorf("request: %s %s", r.Method, r.URL.Path)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("content type: got %s", ct)
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Error(err)
				}
				_, _ = w.Write([]byte(`{"message":"Article saved","id":"knw_7"}`))
			}))
			defer ts.Close()

			res, err := New(ts.URL).SaveArticle(context.Background(), tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if res.ID != "knw_7" || res.Message != "Article saved" {
				t.Errorf("result: got %+v", res)
			}
			id, present := body["id"]
			if !present || id != tt.wantID {
				t.Errorf("id: got %v (present=%v), want %v", id, present, tt.wantID)
			}
			if tags, ok := body["tags"].([]interface{}); !ok || len(tags) != 0 {
				t.Errorf("tags should be an empty array, got %v", body["tags"])
			}
		})
	}
}

func TestSaveArticle_serverMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"Internal server error"}`))
	}))
	defer ts.Close()

	_, err := New(ts.URL).SaveArticle(context.Background(), &models.ArticleInput{Title: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Internal server error" {
		t.Fatalf("got %v", err)
	}
}

func TestUploadImage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile(UploadField)
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "cat.png" || string(data) != "png-bytes" {
			t.Errorf("upload: name=%s data=%q", hdr.Filename, data)
		}
		_, _ = w.Write([]byte(`{"imageUrl":"/uploads/000001.png"}`))
	}))
	defer ts.Close()

	url, err := New(ts.URL).UploadImage(context.Background(), "cat.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if url != "/uploads/000001.png" {
		t.Errorf("url: got %s", url)
	}
}

func TestUploadImage_errorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = w.Write([]byte("too big"))
	}))
	defer ts.Close()

	_, err := New(ts.URL).UploadImage(context.Background(), "big.png", strings.NewReader("x"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusRequestEntityTooLarge || apiErr.Message != "too big" {
		t.Fatalf("got %v", err)
	}
}

func TestStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.Status{Articles: 3, Users: 1, LastImageID: 12, StorageBackend: "file"})
	}))
	defer ts.Close()

	st, err := New(ts.URL, WithHTTPClient(ts.Client())).Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Articles != 3 || st.LastImageID != 12 || st.StorageBackend != "file" {
		t.Errorf("status: got %+v", st)
	}
}

func TestSave_reportsCreated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Article saved successfully!","id":"knw_9"}`))
	}))
	defer ts.Close()
	c := New(ts.URL)

	a, created, err := c.Save(context.Background(), &models.ArticleInput{Title: "Imported"})
	if err != nil {
		t.Fatal(err)
	}
	if !created || a.ID != "knw_9" || a.Title != "Imported" {
		t.Errorf("create: created=%v article=%+v", created, a)
	}

	_, created, err = c.Save(context.Background(), &models.ArticleInput{ID: "knw_9", Title: "Imported"})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("save with id should report an update")
	}
}

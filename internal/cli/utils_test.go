package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kbase/internal/cleanup"
	"github.com/hyperjump/kbase/internal/importer"
	"github.com/hyperjump/kbase/internal/models"
)

func sampleArticles() []*models.Article {
	created := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	return []*models.Article{
		{
			ID:        "1709632800000",
			Title:     "Getting started",
			Category:  "Guides",
			Tags:      []string{"intro", "setup"},
			Content:   "<h1>Hello</h1><p>First steps with the knowledge base.</p>",
			AuthorID:  101,
			CreatedAt: created,
		},
		{
			ID:          "1709632800001",
			Title:       "Release notes",
			Description: "What changed this month.",
			AuthorID:    999,
			CreatedAt:   created,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{" compact ", OutputCompact, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteArticles_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArticles(&buf, sampleArticles(), nil, OutputJSON); err != nil {
		t.Fatalf("WriteArticles(json): %v", err)
	}
	var decoded []*models.Article
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(decoded) != 2 || decoded[0].ID != "1709632800000" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteArticles_JSONEmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArticles(&buf, nil, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("got %q, want []", got)
	}
}

func TestWriteArticles_Text(t *testing.T) {
	users := []*models.User{{ID: 101, Name: "Admin"}}
	var buf bytes.Buffer
	if err := WriteArticles(&buf, sampleArticles(), users, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"2 article(s)",
		"By Admin | 05 Mar 2024 | Category: Guides",
		"Tags: intro, setup",
		"Hello First steps with the knowledge base.",
		"By Unknown",
		"What changed this month.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<p>") {
		t.Errorf("text output should not contain markup:\n%s", out)
	}
}

func TestWriteArticles_Compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArticles(&buf, sampleArticles(), nil, OutputCompact); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), buf.String())
	}
	if lines[0] != "1709632800000\t2024-03-05\tGuides\tGetting started" {
		t.Errorf("line 0 = %q", lines[0])
	}
}

func TestWriteStatus(t *testing.T) {
	st := &models.Status{Articles: 3, Users: 1, LastImageID: 7, IndexedDocs: 3, StorageBackend: "file", ImageBackend: "disk"}

	var text bytes.Buffer
	if err := WriteStatus(&text, st, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text.String(), "next upload is 8") {
		t.Errorf("text status:\n%s", text.String())
	}
	if strings.Contains(text.String(), "footprint_bytes") {
		t.Error("zero footprint should be omitted")
	}

	var js bytes.Buffer
	if err := WriteStatus(&js, st, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.Status
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != *st {
		t.Errorf("decoded = %+v, want %+v", decoded, *st)
	}
}

func TestWriteCleanupReport(t *testing.T) {
	r := &cleanup.Report{
		Stored:     3,
		Referenced: 1,
		Orphans:    []string{"000002.png", "000003.png"},
		Deleted:    []string{"000002.png"},
		Failed:     []cleanup.Failure{{Name: "000003.png", Err: "permission denied"}},
	}
	var buf bytes.Buffer
	if err := WriteCleanupReport(&buf, r, OutputCompact); err != nil {
		t.Fatal(err)
	}
	want := "deleted\t000002.png\nfailed\t000003.png\n"
	if buf.String() != want {
		t.Errorf("compact = %q, want %q", buf.String(), want)
	}

	r.DryRun = true
	buf.Reset()
	if err := WriteCleanupReport(&buf, r, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "would delete 000003.png") {
		t.Errorf("dry run text:\n%s", buf.String())
	}
}

func TestWriteImportResult(t *testing.T) {
	res := &importer.Result{
		Created: []string{"1"},
		Updated: []string{"2", "3"},
		Failed:  map[string]string{"b.md": "title is required", "a.md": "bad front matter"},
	}
	var buf bytes.Buffer
	if err := WriteImportResult(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "Imported 1 new and 2 updated article(s)\n") {
		t.Errorf("text:\n%s", out)
	}
	if strings.Index(out, "a.md") > strings.Index(out, "b.md") {
		t.Errorf("failures should be sorted by path:\n%s", out)
	}
}

package ids

import (
	"strings"
	"testing"
	"time"
)

func TestArticleID(t *testing.T) {
	ts := time.UnixMilli(1717171717171)
	id := ArticleID(ts)
	if id != "knw_1717171717171" {
		t.Errorf("ArticleID = %q", id)
	}
}

func TestPlaceholderID_unique(t *testing.T) {
	ts := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := PlaceholderID(ts)
		if seen[id] {
			t.Fatalf("duplicate placeholder id %q", id)
		}
		seen[id] = true
		if !IsPlaceholderID(id) {
			t.Errorf("IsPlaceholderID(%q) = false", id)
		}
		if !strings.Contains(id, "-") {
			t.Errorf("unexpected format %q", id)
		}
	}
	if IsPlaceholderID("hero") {
		t.Error("plain id should not be a placeholder")
	}
}

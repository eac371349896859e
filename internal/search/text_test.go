package search

import "testing"

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inline_formatting_keeps_words", "<p>he<strong>llo</strong> world</p>", "hello world"},
		{"paragraphs_separate", "<p>one</p><p>two</p>", "one two"},
		{"script_skipped", "<p>a</p><script>alert(1)</script><p>b</p>", "a b"},
		{"entities_decoded", "<p>fish &amp; chips</p>", "fish & chips"},
		{"image_only", `<img src="/uploads/000001.png" alt="x">`, ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.in); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := Snippet("the quick brown fox jumps", 12); got != "the quick..." {
		t.Errorf("got %q", got)
	}
	if got := Snippet("ééééééééé", 4); got != "éééé..." {
		t.Errorf("got %q", got)
	}
	if got := Snippet("anything", 0); got != "anything" {
		t.Errorf("got %q", got)
	}
}

package editor

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hyperjump/kbase/internal/ids"
)

// eachImage calls fn for every <img> in markup, in document order.
func eachImage(markup string, fn func(img *html.Node)) {
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(markup), root)
	if err != nil {
		return
	}
	for _, n := range nodes {
		walk(n, func(n *html.Node) bool {
			if n.Type == html.ElementNode && n.DataAtom == atom.Img {
				fn(n)
			}
			return true
		})
	}
}

// ImageSources returns the src of every <img> in markup, in document order.
func ImageSources(markup string) []string {
	var srcs []string
	eachImage(markup, func(img *html.Node) {
		if src := getAttr(img, "src"); src != "" {
			srcs = append(srcs, src)
		}
	})
	return srcs
}

// HasPlaceholders reports whether markup still contains in-flight upload placeholders:
// images showing the spinner or still carrying a placeholder id.
func HasPlaceholders(markup string) bool {
	found := false
	eachImage(markup, func(img *html.Node) {
		if getAttr(img, "src") == SpinnerSrc || ids.IsPlaceholderID(getAttr(img, "id")) {
			found = true
		}
	})
	return found
}

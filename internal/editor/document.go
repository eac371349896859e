// Package editor is the rich-text content pipeline: a markup tree with a text selection,
// inline and block formatting, and asynchronous image insertion.
package editor

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrUnsupportedTag is returned for a formatting tag outside the allowed set.
	ErrUnsupportedTag = errors.New("unsupported tag")
	// ErrSelectionRange is returned when a selection falls outside the document text.
	ErrSelectionRange = errors.New("selection out of range")
)

var inlineTags = map[string]bool{
	"strong": true, "em": true, "b": true, "i": true, "u": true,
	"s": true, "code": true, "mark": true, "sub": true, "sup": true,
}

var formatBlocks = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true,
}

// containerBlocks hold blocks or loose inline content but are never renamed.
var containerBlocks = map[string]bool{
	"div": true, "li": true, "td": true, "th": true,
}

var blockElements = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "div": true, "ul": true, "ol": true, "li": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "td": true, "th": true,
	"hr": true, "figure": true, "section": true, "article": true, "header": true, "footer": true,
}

// Selection is a range of rune offsets into the document's text content.
// Start == End is a caret.
type Selection struct {
	Start int
	End   int
}

// Collapsed reports whether s is a caret.
func (s Selection) Collapsed() bool { return s.Start == s.End }

// Document is an editable HTML fragment held under a container element.
// Until the tree is modified, HTML returns the loaded markup byte for byte.
type Document struct {
	root  *html.Node
	raw   string
	dirty bool
}

// NewDocument parses markup into a Document.
func NewDocument(markup string) (*Document, error) {
	d := &Document{}
	if err := d.SetContent(markup); err != nil {
		return nil, err
	}
	return d, nil
}

// SetContent replaces the document with markup.
func (d *Document) SetContent(markup string) error {
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(markup), root)
	if err != nil {
		return fmt.Errorf("failed to parse content: %w", err)
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	d.root, d.raw, d.dirty = root, markup, false
	return nil
}

// HTML serializes the document.
func (d *Document) HTML() string {
	if !d.dirty {
		return d.raw
	}
	var b strings.Builder
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}

// Text returns the concatenated text content that selections index into.
func (d *Document) Text() string {
	var b strings.Builder
	for _, t := range textNodes(d.root) {
		b.WriteString(t.Data)
	}
	return b.String()
}

// Len returns the text length in runes.
func (d *Document) Len() int {
	return utf8.RuneCountInString(d.Text())
}

// FindByID returns the element with the given id attribute, or nil.
func (d *Document) FindByID(id string) *html.Node {
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && getAttr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Remove detaches n from the document.
func (d *Document) Remove(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
		d.dirty = true
	}
}

// Touch marks the tree as modified after a caller edited a node in place.
func (d *Document) Touch() { d.dirty = true }

// ApplyInlineFormat wraps the text covered by sel in <tag>. A collapsed selection is a no-op.
// When the covered nodes form one contiguous run of whole inline siblings, the run gets a
// single wrapper; otherwise each covered text segment is wrapped on its own.
// The text content, and so the selection offsets, are unchanged.
func (d *Document) ApplyInlineFormat(sel Selection, tag string) error {
	tag = normalizeTag(tag)
	if !inlineTags[tag] {
		return fmt.Errorf("%w: %q is not an inline format", ErrUnsupportedTag, tag)
	}
	if err := d.checkSelection(sel); err != nil {
		return err
	}
	if sel.Collapsed() {
		return nil
	}
	covered := d.isolate(sel.Start, sel.End)
	if len(covered) == 0 {
		return nil
	}
	if run := inlineRun(covered); run != nil {
		wrap(run, tag)
	} else {
		for _, t := range covered {
			if !d.structural(t) {
				wrap([]*html.Node{t}, tag)
			}
		}
	}
	d.dirty = true
	return nil
}

// FormatBlock turns the block holding the caret into <tag>. Loose inline content around the
// caret is wrapped in a new <tag> block instead. tag may be given as "h2" or "<h2>".
func (d *Document) FormatBlock(caret int, tag string) error {
	tag = normalizeTag(tag)
	if !formatBlocks[tag] {
		return fmt.Errorf("%w: %q is not a block format", ErrUnsupportedTag, tag)
	}
	if caret < 0 || caret > d.Len() {
		return ErrSelectionRange
	}

	anchor, _ := d.textAt(caret)
	if anchor == nil {
		if d.root.FirstChild == nil {
			d.root.AppendChild(newElement(tag))
			d.dirty = true
			return nil
		}
		anchor = d.root.FirstChild
	}

	for cur := anchor; cur != nil && cur != d.root; cur = cur.Parent {
		if cur.Type == html.ElementNode && formatBlocks[cur.Data] {
			rename(cur, tag)
			d.dirty = true
			return nil
		}
		if cur.Parent == d.root || (cur.Parent.Type == html.ElementNode && containerBlocks[cur.Parent.Data]) {
			if wrapLooseRun(cur, tag) {
				d.dirty = true
			}
			return nil
		}
	}
	return nil
}

// InsertAt places n at the caret offset. Without text, n goes into the last block, or the root.
func (d *Document) InsertAt(caret int, n *html.Node) error {
	if caret < 0 || caret > d.Len() {
		return ErrSelectionRange
	}
	d.dirty = true
	t, pos := d.textAt(caret)
	if t == nil {
		parent := d.root
		if last := d.root.LastChild; last != nil && last.Type == html.ElementNode && formatBlocks[last.Data] {
			parent = last
		}
		parent.AppendChild(n)
		return nil
	}
	local := caret - pos
	switch {
	case local == 0:
		t.Parent.InsertBefore(n, t)
	case local >= utf8.RuneCountInString(t.Data):
		t.Parent.InsertBefore(n, t.NextSibling)
	default:
		right := splitText(t, local)
		t.Parent.InsertBefore(n, right)
	}
	return nil
}

func (d *Document) checkSelection(sel Selection) error {
	if sel.Start < 0 || sel.End < sel.Start || sel.End > d.Len() {
		return ErrSelectionRange
	}
	return nil
}

// textAt returns the text node holding the caret and the node's starting offset.
// A caret between two nodes belongs to the earlier one, except at offset 0.
func (d *Document) textAt(caret int) (*html.Node, int) {
	pos := 0
	for _, t := range textNodes(d.root) {
		n := utf8.RuneCountInString(t.Data)
		if n == 0 {
			continue
		}
		if (caret > pos || caret == 0) && caret <= pos+n {
			return t, pos
		}
		pos += n
	}
	return nil, 0
}

// isolate splits text nodes at start and end and returns the non-empty nodes inside [start, end).
func (d *Document) isolate(start, end int) []*html.Node {
	var covered []*html.Node
	pos := 0
	for _, t := range textNodes(d.root) {
		base, n := pos, utf8.RuneCountInString(t.Data)
		pos += n
		lo, hi := max(start, base)-base, min(end, base+n)-base
		if lo >= hi {
			continue
		}
		if hi < n {
			splitText(t, hi)
		}
		if lo > 0 {
			t = splitText(t, lo)
		}
		covered = append(covered, t)
	}
	return covered
}

// structural reports whether t is formatting whitespace between blocks, which is never wrapped.
func (d *Document) structural(t *html.Node) bool {
	if strings.TrimSpace(t.Data) != "" {
		return false
	}
	p := t.Parent
	return p == d.root || (p.Type == html.ElementNode && blockElements[p.Data] && !formatBlocks[p.Data])
}

// inlineRun returns the sibling run to wrap with a single element, or nil when the covered
// nodes do not form one contiguous run of whole inline siblings.
func inlineRun(covered []*html.Node) []*html.Node {
	lca := covered[0].Parent
	for _, t := range covered[1:] {
		for lca != nil && !isAncestor(lca, t) {
			lca = lca.Parent
		}
	}
	if lca == nil {
		return nil
	}

	inside := make(map[*html.Node]bool, len(covered))
	for _, t := range covered {
		inside[t] = true
	}

	var run []*html.Node
	for _, t := range covered {
		top := t
		for top.Parent != lca {
			top = top.Parent
		}
		if len(run) > 0 && run[len(run)-1] == top {
			continue
		}
		if len(run) > 0 && run[len(run)-1].NextSibling != top {
			return nil
		}
		if !isInline(top) {
			return nil
		}
		for _, tn := range textNodes(top) {
			if utf8.RuneCountInString(tn.Data) > 0 && !inside[tn] {
				return nil
			}
		}
		run = append(run, top)
	}
	return run
}

// wrapLooseRun wraps n and its adjacent inline siblings in a new <tag>.
func wrapLooseRun(n *html.Node, tag string) bool {
	if !isInline(n) {
		return false
	}
	first, last := n, n
	for first.PrevSibling != nil && isInline(first.PrevSibling) {
		first = first.PrevSibling
	}
	for last.NextSibling != nil && isInline(last.NextSibling) {
		last = last.NextSibling
	}
	var run []*html.Node
	for c := first; ; c = c.NextSibling {
		run = append(run, c)
		if c == last {
			break
		}
	}
	wrap(run, tag)
	return true
}

func wrap(run []*html.Node, tag string) {
	parent := run[0].Parent
	w := newElement(tag)
	parent.InsertBefore(w, run[0])
	for _, n := range run {
		parent.RemoveChild(n)
		w.AppendChild(n)
	}
}

// splitText cuts t at rune offset i. t keeps the left part; the new right node follows it.
func splitText(t *html.Node, i int) *html.Node {
	runes := []rune(t.Data)
	right := &html.Node{Type: html.TextNode, Data: string(runes[i:])}
	t.Data = string(runes[:i])
	t.Parent.InsertBefore(right, t.NextSibling)
	return right
}

func rename(n *html.Node, tag string) {
	n.Data = tag
	n.DataAtom = atom.Lookup([]byte(tag))
}

func newElement(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

func normalizeTag(tag string) string {
	tag = strings.TrimSpace(strings.ToLower(tag))
	return strings.TrimSuffix(strings.TrimPrefix(tag, "<"), ">")
}

func isInline(n *html.Node) bool {
	switch n.Type {
	case html.TextNode:
		return true
	case html.ElementNode:
		return !blockElements[n.Data]
	}
	return false
}

func isAncestor(a, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

func textNodes(root *html.Node) []*html.Node {
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.TextNode {
			out = append(out, n)
		}
		return true
	})
	return out
}

// walk visits n and its descendants in document order until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, keys ...string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		drop := false
		for _, k := range keys {
			if a.Key == k {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

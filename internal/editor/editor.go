package editor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/hyperjump/kbase/internal/ids"
)

const (
	// StarterContent is loaded into a blank editor.
	StarterContent = "<p>Start writing here...</p>"

	// SpinnerSrc is shown while an image uploads.
	SpinnerSrc = "data:image/svg+xml;base64,PHN2ZyB4bWxucz0iaHR0cDovL3d3dy53My5vcmcvMjAwMC9zdmciIHZpZXdCb3g9IjAgMCA1MCA1MCI+PGNpcmNsZSBjeD0iMjUiIGN5PSIyNSIgcj0iMjAiIGZpbGw9Im5vbmUiIHN0cm9rZT0iIzk5OSIgc3Ryb2tlLXdpZHRoPSI1IiBzdHJva2UtZGFzaGFycmF5PSI5MCAxNTAiLz48L3N2Zz4="
	// SpinnerAlt is the placeholder's alt text.
	SpinnerAlt = "Loading image..."
	// SpinnerStyle sizes the placeholder.
	SpinnerStyle = "width: 50px; height: 50px;"
	// ImageAlt is set on an image once its upload completes.
	ImageAlt = "Article image"
)

var (
	// ErrNotMounted is returned by InsertImage before Mount or after Unmount.
	ErrNotMounted = errors.New("editor not mounted")
	// ErrNoFile is returned by InsertImage when the picker holds no file.
	ErrNoFile = errors.New("no file selected")
)

// Level is a notification severity.
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(level Level, msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, msg string)

func (f NotifierFunc) Notify(level Level, msg string) { f(level, msg) }

// Uploader stores image bytes and returns the public URL.
type Uploader interface {
	UploadImage(ctx context.Context, filename string, r io.Reader) (string, error)
}

// File is an image chosen by the user.
type File struct {
	Name string
	Data []byte
}

// FilePicker hands over the chosen file and clears itself.
type FilePicker interface {
	Take() (File, bool)
}

// Editor is a mounted editing component over a Document.
// Upload completions arrive on their own goroutines; mu guards the document and selection.
type Editor struct {
	mu       sync.Mutex
	doc      *Document
	sel      Selection
	ctx      context.Context
	mounted  bool
	tasks    *TaskRegistry
	uploader Uploader
	notifier Notifier
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures an Editor.
type Option func(*Editor)

// WithNotifier sets where upload failures are reported.
func WithNotifier(n Notifier) Option {
	return func(e *Editor) { e.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Editor) { e.logger = l }
}

// WithClock replaces time.Now for placeholder ids.
func WithClock(now func() time.Time) Option {
	return func(e *Editor) { e.now = now }
}

// New creates an unmounted editor holding StarterContent.
func New(uploader Uploader, opts ...Option) *Editor {
	doc, _ := NewDocument(StarterContent)
	e := &Editor{
		doc:      doc,
		tasks:    NewTaskRegistry(),
		uploader: uploader,
		notifier: NotifierFunc(func(Level, string) {}),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Mount attaches the editor; uploads started while mounted run under ctx.
func (e *Editor) Mount(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx = ctx
	e.mounted = true
}

// Unmount cancels in-flight uploads. Their completions become no-ops.
func (e *Editor) Unmount() {
	e.mu.Lock()
	e.mounted = false
	e.mu.Unlock()
	e.tasks.CancelAll()
}

// SetContent loads markup verbatim and puts the caret at the start.
func (e *Editor) SetContent(markup string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.doc.SetContent(markup); err != nil {
		return err
	}
	e.sel = Selection{}
	return nil
}

// HTML serializes the current content.
func (e *Editor) HTML() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.HTML()
}

// Text returns the text content selections index into.
func (e *Editor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Text()
}

// Select sets the selection. Reversed ranges are normalized.
func (e *Editor) Select(start, end int) error {
	if end < start {
		start, end = end, start
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sel := Selection{Start: start, End: end}
	if err := e.doc.checkSelection(sel); err != nil {
		return err
	}
	e.sel = sel
	return nil
}

// Selection returns the current selection.
func (e *Editor) Selection() Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel
}

// ApplyInlineFormat wraps the selection in <tag>; a no-op for a caret.
// The selection still covers exactly the wrapped text afterwards.
func (e *Editor) ApplyInlineFormat(tag string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.ApplyInlineFormat(e.sel, tag)
}

// FormatBlock converts the block holding the caret into <tag>.
func (e *Editor) FormatBlock(tag string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.FormatBlock(e.sel.Start, tag)
}

// InsertImage puts a placeholder image at the caret, clears the picker, and uploads the
// file in the background. It returns the placeholder id.
// On success the placeholder becomes a plain image with the uploaded URL; on failure it is
// removed and the notifier is told. Upload errors never reach the caller.
func (e *Editor) InsertImage(picker FilePicker) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.mounted {
		return "", ErrNotMounted
	}
	file, ok := picker.Take()
	if !ok {
		return "", ErrNoFile
	}

	id := ids.PlaceholderID(e.now())
	img := newElement("img")
	img.Attr = []html.Attribute{
		{Key: "id", Val: id},
		{Key: "src", Val: SpinnerSrc},
		{Key: "alt", Val: SpinnerAlt},
		{Key: "style", Val: SpinnerStyle},
	}
	if err := e.doc.InsertAt(e.sel.Start, img); err != nil {
		return "", err
	}
	e.sel.End = e.sel.Start

	e.tasks.Start(e.ctx, id, func(ctx context.Context) {
		url, err := e.uploader.UploadImage(ctx, file.Name, bytes.NewReader(file.Data))
		e.completeUpload(id, url, err)
	})
	e.logger.Debug("image upload started", zap.String("placeholder", id), zap.String("file", file.Name))
	return id, nil
}

func (e *Editor) completeUpload(id, url string, uploadErr error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tasks.Finish(id) || !e.mounted {
		e.logger.Debug("dropping upload result for cancelled placeholder", zap.String("placeholder", id))
		return
	}
	img := e.doc.FindByID(id)
	if img == nil {
		return
	}
	if uploadErr != nil {
		e.doc.Remove(img)
		e.logger.Warn("image upload failed", zap.String("placeholder", id), zap.Error(uploadErr))
		e.notifier.Notify(LevelError, "Image upload failed: "+uploadErr.Error())
		return
	}
	setAttr(img, "src", url)
	setAttr(img, "alt", ImageAlt)
	removeAttr(img, "id", "style")
	e.doc.Touch()
}

// Pending returns the number of uploads still in flight.
func (e *Editor) Pending() int {
	return e.tasks.Len()
}

// Wait blocks until every upload goroutine has returned.
func (e *Editor) Wait() {
	e.tasks.Wait()
}

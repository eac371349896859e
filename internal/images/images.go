// Package images names uploaded images from a persistent counter and writes them to a Store.
package images

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// DefaultNameWidth is the zero-padded width of generated image names.
const DefaultNameWidth = 6

var (
	// ErrNoFile is returned when an upload carries no bytes.
	ErrNoFile = errors.New("no file uploaded")
	// ErrTooLarge is returned when an upload exceeds the configured size limit.
	ErrTooLarge = errors.New("file too large")
)

// UploadError reports a failed upload. Err is ErrNoFile, ErrTooLarge, or the underlying cause.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload image: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Store persists image bytes under a name and exposes them at a public URL.
type Store interface {
	// Put writes data as name and returns its public URL.
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	// Delete removes name. Deleting a missing image is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names of all stored images.
	List(ctx context.Context) ([]string, error)
	// URL returns the public URL for name.
	URL(name string) string
	// NameFromURL is the inverse of URL. ok is false for URLs this store does not serve.
	NameFromURL(url string) (name string, ok bool)
}

// FormatName returns n zero-padded to width digits followed by ext.
// Numbers wider than width are written in full.
func FormatName(n int64, width int, ext string) string {
	if width <= 0 {
		width = DefaultNameWidth
	}
	return fmt.Sprintf("%0*d", width, n) + ext
}

// ExtFromName returns the extension of a client file name as sent, including the dot.
// Case is kept. Extensions with anything other than ASCII letters and digits are dropped.
func ExtFromName(name string) string {
	// clients may send a path; browsers on Windows used to
	name = name[strings.LastIndexAny(name, `/\`)+1:]
	ext := path.Ext(name)
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func validName(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".") && !strings.ContainsAny(name, `/\`)
}

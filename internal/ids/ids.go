// Package ids generates article and placeholder identifiers.
package ids

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	articlePrefix     = "knw_"
	placeholderPrefix = "img-placeholder-"
)

// ArticleID returns the id for an article created at t: "knw_" followed by unix millis.
func ArticleID(t time.Time) string {
	return articlePrefix + strconv.FormatInt(t.UnixMilli(), 10)
}

// PlaceholderID returns a DOM id for an in-flight image. The millis keep it time-ordered;
// the random suffix keeps two insertions in the same millisecond apart.
func PlaceholderID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return placeholderPrefix + strconv.FormatInt(t.UnixMilli(), 10) + "-" + suffix
}

// IsPlaceholderID reports whether id was produced by PlaceholderID.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

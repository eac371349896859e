// Package cli provides output helpers for the kbase command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/kbase/internal/cleanup"
	"github.com/hyperjump/kbase/internal/importer"
	"github.com/hyperjump/kbase/internal/models"
	"github.com/hyperjump/kbase/internal/search"
	"github.com/hyperjump/kbase/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one line per item, tab separated.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is indented JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const (
	dateLayout      = "02 Jan 2006"
	excerptLen      = 160
	compactTitleLen = 60
)

// ParseFormat maps a -output flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputText, "":
		return OutputText, nil
	case OutputCompact:
		return OutputCompact, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteArticles writes the article list. users resolves author names.
func WriteArticles(w io.Writer, articles []*models.Article, users []*models.User, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if articles == nil {
			articles = []*models.Article{}
		}
		return writeJSON(w, articles)
	case OutputCompact:
		for _, a := range articles {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				a.ID, a.CreatedAt.Format("2006-01-02"), a.Category, utils.Truncate(a.Title, compactTitleLen))
		}
		return nil
	default:
		fmt.Fprintf(w, "\n%d article(s)\n\n", len(articles))
		for _, a := range articles {
			writeOneArticle(w, a, users)
		}
		return nil
	}
}

func writeOneArticle(w io.Writer, a *models.Article, users []*models.User) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "%s\n", a.Title)
	fmt.Fprintf(w, "ID: %s | By %s | %s", a.ID, models.AuthorName(users, a.AuthorID), a.CreatedAt.Format(dateLayout))
	if a.Category != "" {
		fmt.Fprintf(w, " | Category: %s", a.Category)
	}
	fmt.Fprintln(w)
	if len(a.Tags) > 0 {
		fmt.Fprintf(w, "Tags: %s\n", strings.Join(a.Tags, ", "))
	}
	excerpt := a.Description
	if excerpt == "" {
		excerpt = search.Snippet(search.PlainText(a.Content), excerptLen)
	}
	if excerpt != "" {
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(excerpt, excerptLen))
	}
	fmt.Fprintln(w)
}

// WriteStatus writes a status summary.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	if format == OutputCompact {
		fmt.Fprintf(w, "articles=%d users=%d last_image_id=%d indexed=%d storage=%s images=%s\n",
			st.Articles, st.Users, st.LastImageID, st.IndexedDocs, st.StorageBackend, st.ImageBackend)
		return nil
	}
	fmt.Fprintf(w, "articles:         %d\n", st.Articles)
	fmt.Fprintf(w, "users:            %d\n", st.Users)
	fmt.Fprintf(w, "last_image_id:    %d   # next upload is %d\n", st.LastImageID, st.LastImageID+1)
	fmt.Fprintf(w, "indexed_docs:     %d\n", st.IndexedDocs)
	if st.FootprintBytes > 0 {
		fmt.Fprintf(w, "footprint_bytes:  %d   # data files, index and local images\n", st.FootprintBytes)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# backends")
	fmt.Fprintf(w, "storage:          %s\n", st.StorageBackend)
	fmt.Fprintf(w, "images:           %s\n", st.ImageBackend)
	return nil
}

// WriteCleanupReport writes the result of an orphaned-image sweep.
func WriteCleanupReport(w io.Writer, r *cleanup.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	if format == OutputCompact {
		for _, name := range r.Orphans {
			state := "deleted"
			if r.DryRun {
				state = "orphan"
			} else if failed(r, name) {
				state = "failed"
			}
			fmt.Fprintf(w, "%s\t%s\n", state, name)
		}
		return nil
	}
	fmt.Fprintf(w, "stored images:     %d\n", r.Stored)
	fmt.Fprintf(w, "referenced images: %d\n", r.Referenced)
	fmt.Fprintf(w, "orphaned images:   %d\n", len(r.Orphans))
	if r.DryRun {
		for _, name := range r.Orphans {
			fmt.Fprintf(w, "  would delete %s\n", name)
		}
		return nil
	}
	for _, name := range r.Deleted {
		fmt.Fprintf(w, "  deleted %s\n", name)
	}
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  failed  %s: %s\n", f.Name, f.Err)
	}
	return nil
}

func failed(r *cleanup.Report, name string) bool {
	for _, f := range r.Failed {
		if f.Name == name {
			return true
		}
	}
	return false
}

// WriteImportResult writes the outcome of a markdown import.
func WriteImportResult(w io.Writer, res *importer.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	paths := make([]string, 0, len(res.Failed))
	for p := range res.Failed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if format == OutputCompact {
		for _, id := range res.Created {
			fmt.Fprintf(w, "created\t%s\n", id)
		}
		for _, id := range res.Updated {
			fmt.Fprintf(w, "updated\t%s\n", id)
		}
		for _, p := range paths {
			fmt.Fprintf(w, "failed\t%s\n", p)
		}
		return nil
	}
	fmt.Fprintf(w, "Imported %d new and %d updated article(s)\n", len(res.Created), len(res.Updated))
	for _, p := range paths {
		fmt.Fprintf(w, "  failed %s: %s\n", p, res.Failed[p])
	}
	return nil
}

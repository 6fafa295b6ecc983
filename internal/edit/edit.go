// Package edit implements edit_document (spec.md §6.2): a literal
// search/replace against a document's body, used by frontends that want to
// patch a section of text without hand-rolling front-matter-aware file
// surgery. Like internal/phase and internal/archive, it is file-first: the
// file is rewritten before the index is upserted.
package edit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/fsx"
	"github.com/colliery-io/metis-sub002/internal/index"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/workspace"
)

// Edit replaces occurrences of search with replace in shortCode's body. If
// replaceAll is false, search must match exactly once; zero matches is
// ErrNoMatch and more than one is ErrAmbiguousMatch. It returns the number
// of replacements made.
func Edit(ctx context.Context, ws *workspace.Workspace, idx *index.Index, shortCode, search, replace string, replaceAll bool, now time.Time) (int, error) {
	if search == "" {
		return 0, fmt.Errorf("%w: search string must not be empty", metiserr.ErrNoMatch)
	}

	row, err := idx.FindByShortCode(ctx, shortCode)
	if err != nil {
		return 0, err
	}

	raw, err := ws.FS.ReadFile(ws.Abs(row.FilePath))
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %w", metiserr.ErrIO, row.FilePath, err)
	}

	doc, err := document.Parse(row.FilePath, raw)
	if err != nil {
		return 0, err
	}

	body := string(doc.Body)

	count := strings.Count(body, search)
	if count == 0 {
		return 0, fmt.Errorf("%w: %s: %q not found in body", metiserr.ErrNoMatch, shortCode, search)
	}

	if count > 1 && !replaceAll {
		return 0, fmt.Errorf("%w: %s: %q matches %d times, pass replace_all to replace them all", metiserr.ErrAmbiguousMatch, shortCode, search, count)
	}

	replacements := 1
	if replaceAll {
		replacements = count
		doc.Body = []byte(strings.ReplaceAll(body, search, replace))
	} else {
		doc.Body = []byte(strings.Replace(body, search, replace, 1))
	}

	doc.UpdatedAt = document.NextUpdatedAt(now, doc.UpdatedAt)

	rendered, err := doc.Render()
	if err != nil {
		return 0, err
	}

	writer := fsx.NewAtomicWriter(ws.FS)
	if err = writer.WriteBytes(ws.Abs(doc.FilePath), rendered); err != nil {
		return 0, fmt.Errorf("%w: write %s: %w", metiserr.ErrIO, doc.FilePath, err)
	}

	fileInfo, err := ws.FS.Stat(ws.Abs(doc.FilePath))
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %w", metiserr.ErrIO, doc.FilePath, err)
	}

	if err = idx.Upsert(ctx, doc, fsx.ContentHash(rendered), fileInfo.ModTime()); err != nil {
		return 0, err
	}

	return replacements, nil
}

// Package archive implements moving a document subtree into
// .metis/archived/… (spec.md §4.8). It only mutates the filesystem;
// the caller's subsequent sync call reconciles the index via move
// detection, matching spec.md §4.8 step 5 ("sync runs implicitly after
// the operation").
package archive

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/fsx"
	"github.com/colliery-io/metis-sub002/internal/index"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/workspace"
)

// Archive moves shortCode's subtree under archived/, preserving internal
// structure, and marks every moved file archived:true. It returns the new
// (already-archived) relative paths in path-sorted order.
func Archive(ctx context.Context, ws *workspace.Workspace, idx *index.Index, shortCode string, now time.Time) ([]string, error) {
	row, err := idx.FindByShortCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}

	raw, err := ws.FS.ReadFile(ws.Abs(row.FilePath))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", metiserr.ErrIO, row.FilePath, err)
	}

	doc, err := document.Parse(row.FilePath, raw)
	if err != nil {
		return nil, err
	}

	subtree, err := subtreePaths(ctx, ws, doc)
	if err != nil {
		return nil, err
	}

	sort.Strings(subtree)

	writer := fsx.NewAtomicWriter(ws.FS)

	archivedPaths := make([]string, 0, len(subtree))

	for _, relPath := range subtree {
		newPath, moveErr := archiveOne(ws, writer, relPath, now)
		if moveErr != nil {
			return nil, moveErr
		}

		archivedPaths = append(archivedPaths, newPath)
	}

	sort.Strings(archivedPaths)

	return archivedPaths, nil
}

// archiveOne rewrites a single file's frontmatter (archived: true,
// updated_at bumped) and moves it under archived/, merging into an
// existing archived destination directory rather than replacing it
// (spec.md §4.8 step 4).
func archiveOne(ws *workspace.Workspace, writer *fsx.AtomicWriter, relPath string, now time.Time) (string, error) {
	if workspace.IsArchivedPath(relPath) {
		return relPath, nil // already archived; tolerate re-archiving a subtree
	}

	raw, err := ws.FS.ReadFile(ws.Abs(relPath))
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", metiserr.ErrIO, relPath, err)
	}

	doc, err := document.Parse(relPath, raw)
	if err != nil {
		return "", err
	}

	doc.Archived = true
	doc.UpdatedAt = document.NextUpdatedAt(now, doc.UpdatedAt)

	rendered, err := doc.Render()
	if err != nil {
		return "", err
	}

	if err = writer.WriteBytes(ws.Abs(relPath), rendered); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", metiserr.ErrIO, relPath, err)
	}

	newPath := workspace.ArchivedRelPath(relPath)
	newAbs := ws.Abs(newPath)

	if err = ws.FS.MkdirAll(filepath.Dir(newAbs), 0o750); err != nil {
		return "", fmt.Errorf("%w: mkdir for %s: %w", metiserr.ErrIO, newPath, err)
	}

	if err = ws.FS.Rename(ws.Abs(relPath), newAbs); err != nil {
		return "", fmt.Errorf("%w: move %s to %s: %w", metiserr.ErrIO, relPath, newPath, err)
	}

	return newPath, nil
}

// subtreePaths determines every file that moves when doc is archived
// (spec.md §4.8 step 1): an initiative drags its tasks/ subtree, a
// strategy drags its initiatives/ subtree (tasks included transitively),
// everything else is a single file.
func subtreePaths(ctx context.Context, ws *workspace.Workspace, doc *document.Document) ([]string, error) {
	switch doc.Level {
	case document.LevelTask, document.LevelADR, document.LevelVision:
		return []string{doc.FilePath}, nil
	case document.LevelInitiative:
		dir := path.Dir(doc.FilePath) // strategies/<s>/initiatives/<i>
		children, err := listMarkdownUnder(ws, path.Join(dir, "tasks"))
		if err != nil {
			return nil, err
		}

		return append([]string{doc.FilePath}, children...), nil
	case document.LevelStrategy:
		dir := path.Dir(doc.FilePath) // strategies/<s>
		children, err := listMarkdownUnder(ws, path.Join(dir, "initiatives"))
		if err != nil {
			return nil, err
		}

		return append([]string{doc.FilePath}, children...), nil
	default:
		return []string{doc.FilePath}, nil
	}
}

func listMarkdownUnder(ws *workspace.Workspace, relDir string) ([]string, error) {
	var out []string

	absDir := ws.Abs(relDir)

	exists, err := ws.FS.Exists(absDir)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", metiserr.ErrIO, relDir, err)
	}

	if !exists {
		return nil, nil
	}

	var walk func(relative string) error

	walk = func(relative string) error {
		entries, readErr := ws.FS.ReadDir(ws.Abs(relative))
		if readErr != nil {
			return fmt.Errorf("%w: readdir %s: %w", metiserr.ErrIO, relative, readErr)
		}

		for _, entry := range entries {
			childRel := path.Join(relative, entry.Name())

			if entry.IsDir() {
				if err := walk(childRel); err != nil {
					return err
				}

				continue
			}

			if strings.HasSuffix(entry.Name(), ".md") {
				out = append(out, childRel)
			}
		}

		return nil
	}

	if err := walk(relDir); err != nil {
		return nil, err
	}

	return out, nil
}

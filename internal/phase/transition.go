package phase

import (
	"context"
	"fmt"
	"time"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/fsx"
	"github.com/colliery-io/metis-sub002/internal/index"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/workspace"
)

// Transition resolves shortCode, validates and applies a phase change, and
// writes the file before updating the index (spec.md §4.7). If target is
// empty, the level's next linear phase is used. force skips edge and
// exit-criteria validation. now supplies the transition's timestamp.
func Transition(ctx context.Context, ws *workspace.Workspace, idx *index.Index, shortCode, target string, force bool, now time.Time) (string, error) {
	row, err := idx.FindByShortCode(ctx, shortCode)
	if err != nil {
		return "", err
	}

	raw, err := ws.FS.ReadFile(ws.Abs(row.FilePath))
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", metiserr.ErrIO, row.FilePath, err)
	}

	doc, err := document.Parse(row.FilePath, raw)
	if err != nil {
		return "", err
	}

	current := doc.Phase

	if target == "" {
		next, ok := Next(doc.Level, current)
		if !ok {
			if IsTerminal(doc.Level, current) {
				return "", fmt.Errorf("%w: %s is already at terminal phase %s", metiserr.ErrAlreadyTerminal, shortCode, current)
			}

			return "", fmt.Errorf("%w: %s has no default next phase from %q; specify target explicitly", metiserr.ErrInvalidTransition, shortCode, current)
		}

		target = next
	}

	if current == target {
		return target, nil // idempotent no-op (spec.md §4.7)
	}

	if !force && !ValidEdge(doc.Level, current, target) {
		return "", fmt.Errorf("%w: %s cannot move from %q to %q", metiserr.ErrInvalidTransition, shortCode, current, target)
	}

	if !force && !doc.ExitCriteriaMet && HasUnmetExitCriteria(doc.Body) {
		return "", fmt.Errorf("%w: %s has unchecked items in its Exit Criteria section", metiserr.ErrExitCriteriaUnmet, shortCode)
	}

	doc.Tags = document.SetPhaseTag(doc.Tags, target)
	doc.Phase = target
	doc.UpdatedAt = document.NextUpdatedAt(now, doc.UpdatedAt)

	rendered, err := doc.Render()
	if err != nil {
		return "", err
	}

	writer := fsx.NewAtomicWriter(ws.FS)
	if err = writer.WriteBytes(ws.Abs(doc.FilePath), rendered); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", metiserr.ErrIO, doc.FilePath, err)
	}

	fileInfo, err := ws.FS.Stat(ws.Abs(doc.FilePath))
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %w", metiserr.ErrIO, doc.FilePath, err)
	}

	if err = idx.Upsert(ctx, doc, fsx.ContentHash(rendered), fileInfo.ModTime()); err != nil {
		return "", err
	}

	return target, nil
}

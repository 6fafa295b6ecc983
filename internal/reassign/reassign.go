// Package reassign implements moving a task between initiatives or into
// the backlog (spec.md §4.9). Like package archive, it only mutates the
// filesystem; the caller's subsequent sync call reconciles the index via
// short-code move detection.
package reassign

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/fsx"
	"github.com/colliery-io/metis-sub002/internal/index"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/workspace"
)

// Options supplies the destination for Reassign. Exactly one of
// NewParentShortCode (move under an initiative) or BacklogCategory (move
// to the backlog) must be set.
type Options struct {
	NewParentShortCode string
	BacklogCategory    string
}

// Reassign moves shortCode (which must be a task) to its new parent or to
// the backlog, rewriting parent/strategy_id/initiative_id and returning
// the task's new relative path (spec.md §4.9).
func Reassign(ctx context.Context, ws *workspace.Workspace, idx *index.Index, shortCode string, opts Options, now time.Time) (string, error) {
	row, err := idx.FindByShortCode(ctx, shortCode)
	if err != nil {
		return "", err
	}

	if document.Level(row.DocumentType) != document.LevelTask {
		return "", fmt.Errorf("%w: %s is a %s, only tasks can be reassigned", metiserr.ErrInvalidTarget, shortCode, row.DocumentType)
	}

	raw, err := ws.FS.ReadFile(ws.Abs(row.FilePath))
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", metiserr.ErrIO, row.FilePath, err)
	}

	doc, err := document.Parse(row.FilePath, raw)
	if err != nil {
		return "", err
	}

	destPath, parentShortCode, strategyID, initiativeID, err := resolveDestination(ctx, ws, idx, doc, opts)
	if err != nil {
		return "", err
	}

	doc.Parent = parentShortCode
	doc.StrategyID = strategyID
	doc.InitiativeID = initiativeID
	doc.UpdatedAt = document.NextUpdatedAt(now, doc.UpdatedAt)

	rendered, err := doc.Render()
	if err != nil {
		return "", err
	}

	writer := fsx.NewAtomicWriter(ws.FS)
	if err = writer.WriteBytes(ws.Abs(doc.FilePath), rendered); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", metiserr.ErrIO, doc.FilePath, err)
	}

	if destPath == doc.FilePath {
		return destPath, nil
	}

	destAbs := ws.Abs(destPath)

	if err = ws.FS.MkdirAll(filepath.Dir(destAbs), 0o750); err != nil {
		return "", fmt.Errorf("%w: mkdir for %s: %w", metiserr.ErrIO, destPath, err)
	}

	if err = ws.FS.Rename(ws.Abs(doc.FilePath), destAbs); err != nil {
		return "", fmt.Errorf("%w: move %s to %s: %w", metiserr.ErrIO, doc.FilePath, destPath, err)
	}

	return destPath, nil
}

// resolveDestination validates the target and computes the task's new
// relative path plus the parent/strategy_id/initiative_id it should carry
// (spec.md §4.9 steps 2-3).
func resolveDestination(ctx context.Context, ws *workspace.Workspace, idx *index.Index, doc *document.Document, opts Options) (destPath, parentShortCode, strategyID, initiativeID string, err error) {
	basename := filepath.Base(filepath.FromSlash(doc.FilePath))

	switch {
	case opts.NewParentShortCode != "":
		parentRow, findErr := idx.FindByShortCode(ctx, opts.NewParentShortCode)
		if findErr != nil {
			return "", "", "", "", findErr
		}

		if document.Level(parentRow.DocumentType) != document.LevelInitiative {
			return "", "", "", "", fmt.Errorf("%w: %s is not an initiative", metiserr.ErrInvalidParent, opts.NewParentShortCode)
		}

		if parentRow.Phase != "decompose" && parentRow.Phase != "active" {
			return "", "", "", "", fmt.Errorf("%w: initiative %s is in phase %q, must be decompose or active", metiserr.ErrParentNotInPhase, opts.NewParentShortCode, parentRow.Phase)
		}

		strategySlug, initSlug, deriveErr := strategyAndInitiativeSlugs(parentRow.FilePath)
		if deriveErr != nil {
			return "", "", "", "", deriveErr
		}

		dest := workspace.TaskRelPath(strategySlug, initSlug, strings.TrimSuffix(basename, ".md"))

		strategyShortCode := ""

		if strategySlug != "" {
			strategyRow, strategyErr := idx.FindByFilepath(ctx, workspace.StrategyRelPath(strategySlug))
			if strategyErr == nil {
				strategyShortCode = strategyRow.ShortCode
			}
		}

		return dest, parentRow.ShortCode, strategyShortCode, parentRow.ShortCode, nil

	case opts.BacklogCategory != "":
		dest := workspace.BacklogTaskRelPath(opts.BacklogCategory, strings.TrimSuffix(basename, ".md"))

		return dest, "", "", "", nil

	default:
		return "", "", "", "", fmt.Errorf("%w: reassign requires a new parent or a backlog category", metiserr.ErrInvalidTarget)
	}
}

// strategyAndInitiativeSlugs extracts <s> and <i> from an initiative's
// relative path strategies/<s>/initiatives/<i>/initiative.md.
func strategyAndInitiativeSlugs(initiativeRelPath string) (strategySlug, initSlug string, err error) {
	parts := strings.Split(initiativeRelPath, "/")
	if len(parts) < 4 || parts[0] != "strategies" || parts[2] != "initiatives" {
		return "", "", fmt.Errorf("%w: unexpected initiative path %s", metiserr.ErrIO, initiativeRelPath)
	}

	strategySlug = parts[1]
	if strategySlug == workspace.StrategyDirSlug {
		strategySlug = ""
	}

	return strategySlug, parts[3], nil
}

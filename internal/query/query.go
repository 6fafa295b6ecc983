// Package query implements the read-only surface every frontend consumes
// (spec.md §4.10): list, read, search, available_parents, and
// short-code resolution. It is a thin composition layer over
// internal/index; it never mutates the filesystem or the index.
package query

import (
	"context"
	"fmt"

	"github.com/colliery-io/metis-sub002/internal/config"
	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/index"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/workspace"
)

// Filter narrows List; an alias so callers don't need to import
// internal/index directly.
type Filter = index.ListFilter

// List returns documents matching filter in type-then-short-code order
// (spec.md §4.10 "list(filter)").
func List(ctx context.Context, idx *index.Index, filter Filter) ([]index.Row, error) {
	return idx.FindByType(ctx, filter)
}

// Read resolves shortCode and re-parses its file from disk, the
// authoritative source of truth (spec.md §9 "always file-first"),
// returning full document content plus parsed front matter.
func Read(ctx context.Context, ws *workspace.Workspace, idx *index.Index, shortCode string) (*document.Document, error) {
	row, err := idx.FindByShortCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}

	raw, err := ws.FS.ReadFile(ws.Abs(row.FilePath))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", metiserr.ErrIO, row.FilePath, err)
	}

	return document.Parse(row.FilePath, raw)
}

// Search runs a full-text query with generated snippets (spec.md §4.10
// "search(query, limit)").
func Search(ctx context.Context, idx *index.Index, q string, limit int) ([]index.SearchResult, error) {
	return idx.Search(ctx, q, limit)
}

// ResolveShortCode resolves an exact or unique-prefix short-code match
// (spec.md §4.10 "resolve_short_code(prefix)").
func ResolveShortCode(ctx context.Context, idx *index.Index, prefix string) (string, error) {
	return idx.ResolveShortCodePrefix(ctx, prefix)
}

// AvailableParents lists the documents that are valid parents for a new
// or reassigned document of childType, under the workspace's preset and
// each candidate's current phase (spec.md §4.10
// "available_parents(child_type)"):
//
//   - vision, adr: never have a parent; always empty.
//   - strategy: any vision, only when the preset enables strategies.
//   - initiative: any strategy, only when the preset enables strategies;
//     when strategies are disabled the initiative's parent is the
//     synthetic NULL strategy and there is nothing to choose from.
//   - task: initiatives currently in decompose or active phase (the
//     same gate reassign_parent enforces).
func AvailableParents(ctx context.Context, idx *index.Index, cfg config.Config, childType document.Level) ([]index.Row, error) {
	switch childType {
	case document.LevelVision, document.LevelADR:
		return nil, nil
	case document.LevelStrategy:
		if !cfg.StrategiesEnabled {
			return nil, nil
		}

		return idx.FindByType(ctx, Filter{DocumentType: string(document.LevelVision)})
	case document.LevelInitiative:
		if !cfg.StrategiesEnabled {
			return nil, nil
		}

		return idx.FindByType(ctx, Filter{DocumentType: string(document.LevelStrategy)})
	case document.LevelTask:
		rows, err := idx.FindByType(ctx, Filter{DocumentType: string(document.LevelInitiative)})
		if err != nil {
			return nil, err
		}

		out := make([]index.Row, 0, len(rows))

		for _, row := range rows {
			if row.Phase == "decompose" || row.Phase == "active" {
				out = append(out, row)
			}
		}

		return out, nil
	default:
		return nil, nil
	}
}

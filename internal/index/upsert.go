package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
)

func decodeLinks(frontmatterJSON string, links *frontmatterLinks) error {
	return json.Unmarshal([]byte(frontmatterJSON), links)
}

// Upsert inserts or replaces the row for doc.FilePath and recomputes its
// tags, in a single transaction (spec.md §4.5: "insert or replace by
// filepath; recomputes tags and relationships atomically"). Cross-document
// relationships (parent/blocks/supersedes edges, which may reference
// documents not yet imported in this sync pass) are rebuilt separately by
// Reconcile once every file in a sync run has been upserted.
func (idx *Index) Upsert(ctx context.Context, doc *document.Document, contentHash string, fileModifiedAt time.Time) error {
	row, err := rowFromDocument(doc, contentHash, fileModifiedAt)
	if err != nil {
		return err
	}

	return idx.withTx(ctx, func(tx *sql.Tx) error {
		return upsertRowTx(ctx, tx, row, doc.Tags)
	})
}

func upsertRowTx(ctx context.Context, tx *sql.Tx, row Row, tags []string) error {
	var parentShortCode sql.NullString
	if row.ParentShortCode != "" {
		parentShortCode = sql.NullString{String: row.ParentShortCode, Valid: true}
	}

	archived := 0
	if row.Archived {
		archived = 1
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filepath) DO UPDATE SET
			id = excluded.id,
			short_code = excluded.short_code,
			document_type = excluded.document_type,
			phase = excluded.phase,
			parent_short_code = excluded.parent_short_code,
			archived = excluded.archived,
			content_hash = excluded.content_hash,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			file_modified_at = excluded.file_modified_at,
			title = excluded.title,
			frontmatter_json = excluded.frontmatter_json,
			body = excluded.body
	`,
		row.FilePath, row.ID, row.ShortCode, row.DocumentType, row.Phase, parentShortCode,
		archived, row.ContentHash, row.CreatedAt.UTC().Format(time.RFC3339), row.UpdatedAt.UTC().Format(time.RFC3339),
		row.FileModifiedAt.UTC().Format(time.RFC3339), row.Title, row.FrontmatterJSON, row.Body,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %w", metiserr.ErrDatabase, row.FilePath, err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM document_tags WHERE filepath = ?`, row.FilePath)
	if err != nil {
		return fmt.Errorf("%w: clear tags %s: %w", metiserr.ErrDatabase, row.FilePath, err)
	}

	for _, tag := range tags {
		_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO document_tags (filepath, tag) VALUES (?, ?)`, row.FilePath, tag)
		if err != nil {
			return fmt.Errorf("%w: insert tag %s %s: %w", metiserr.ErrDatabase, row.FilePath, tag, err)
		}
	}

	return nil
}

// DeleteByFilepath removes a row and, via ON DELETE CASCADE, its tags,
// relationships, and FTS entry (spec.md §4.5).
func (idx *Index) DeleteByFilepath(ctx context.Context, filePath string) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE filepath = ?`, filePath)
		if err != nil {
			return fmt.Errorf("%w: delete %s: %w", metiserr.ErrDatabase, filePath, err)
		}

		return nil
	})
}

type frontmatterLinks struct {
	BlockedBy  []string `json:"blocked_by"`
	Supersedes string   `json:"supersedes"`
}

// Reconcile rebuilds document_relationships from the current documents
// table: a 'parent' edge from parent_short_code, a 'blocks' edge per
// blocked_by entry, and a 'supersedes' edge for ADRs. It is safe (and
// necessary) to call after a batch of Upserts, since relationships may
// reference documents imported later in path-sorted order within the same
// sync run (spec.md §4.6).
func (idx *Index) Reconcile(ctx context.Context) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT filepath, short_code, parent_short_code, frontmatter_json FROM documents`)
		if err != nil {
			return fmt.Errorf("%w: reconcile scan: %w", metiserr.ErrDatabase, err)
		}

		type entry struct {
			filepath        string
			shortCode       string
			parentShortCode string
			links           frontmatterLinks
		}

		var entries []entry

		for rows.Next() {
			var (
				e               entry
				parentShortCode sql.NullString
				fmJSON          string
			)

			scanErr := rows.Scan(&e.filepath, &e.shortCode, &parentShortCode, &fmJSON)
			if scanErr != nil {
				_ = rows.Close()

				return fmt.Errorf("%w: reconcile scan row: %w", metiserr.ErrDatabase, scanErr)
			}

			e.parentShortCode = parentShortCode.String

			_ = decodeLinks(fmJSON, &e.links)

			entries = append(entries, e)
		}

		closeErr := rows.Close()
		if closeErr != nil {
			return fmt.Errorf("%w: reconcile scan close: %w", metiserr.ErrDatabase, closeErr)
		}

		if err = rows.Err(); err != nil {
			return fmt.Errorf("%w: reconcile scan: %w", metiserr.ErrDatabase, err)
		}

		byShortCode := make(map[string]string, len(entries))
		for _, e := range entries {
			byShortCode[e.shortCode] = e.filepath
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM document_relationships`)
		if err != nil {
			return fmt.Errorf("%w: clear relationships: %w", metiserr.ErrDatabase, err)
		}

		insert := func(child, parent, kind string) error {
			_, execErr := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO document_relationships (child_filepath, parent_filepath, kind) VALUES (?, ?, ?)`,
				child, parent, kind)
			if execErr != nil {
				return fmt.Errorf("%w: insert relationship %s->%s (%s): %w", metiserr.ErrDatabase, child, parent, kind, execErr)
			}

			return nil
		}

		for _, e := range entries {
			if e.parentShortCode != "" {
				if target, ok := byShortCode[e.parentShortCode]; ok {
					if err = insert(e.filepath, target, "parent"); err != nil {
						return err
					}
				}
			}

			for _, blocker := range e.links.BlockedBy {
				if target, ok := byShortCode[blocker]; ok {
					if err = insert(e.filepath, target, "blocks"); err != nil {
						return err
					}
				}
			}

			if e.links.Supersedes != "" {
				if target, ok := byShortCode[e.links.Supersedes]; ok {
					if err = insert(e.filepath, target, "supersedes"); err != nil {
						return err
					}
				}
			}
		}

		return nil
	})
}

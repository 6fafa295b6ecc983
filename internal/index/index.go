// Package index is the SQLite-backed derived index of spec.md §3.3 and
// §4.5: documents, document_tags, document_relationships, document_search
// (FTS5), and configuration. The filesystem under .metis/ is the source of
// truth; everything here is rebuildable by deleting metis.db and re-running
// sync (spec.md §6.1).
//
// Paths are always stored relative to .metis/ (spec.md §4.5) — callers
// must pass filepaths already converted with workspace.Rel.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/colliery-io/metis-sub002/internal/metiserr"
)

// Index wires the SQLite connection for a single workspace.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite index at path and applies
// the schema. If the stored schema version doesn't match the current one,
// the caller should delete the file and resync; Open itself never drops
// data.
func Open(ctx context.Context, path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: index path is empty", metiserr.ErrDatabase)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", metiserr.ErrDatabase, path, err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: ping %s: %w", metiserr.ErrDatabase, path, err)
	}

	_, err = db.ExecContext(ctx, `
		PRAGMA busy_timeout = 10000;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA foreign_keys = ON;
	`)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: pragmas: %w", metiserr.ErrDatabase, err)
	}

	idx := &Index{db: db}

	version, err := storedSchemaVersion(ctx, db)
	if err != nil {
		_ = idx.Close()

		return nil, fmt.Errorf("%w: %w", metiserr.ErrDatabase, err)
	}

	if version != 0 && version != schemaVersion {
		_ = idx.Close()

		return nil, fmt.Errorf("%w: %s has schema version %d, expected %d — delete it and resync",
			metiserr.ErrDatabase, path, version, schemaVersion)
	}

	err = applySchema(ctx, db)
	if err != nil {
		_ = idx.Close()

		return nil, fmt.Errorf("%w: %w", metiserr.ErrDatabase, err)
	}

	return idx, nil
}

// Close releases the underlying SQLite handle. Safe on a nil Index.
func (idx *Index) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}

	err := idx.db.Close()
	idx.db = nil

	if err != nil {
		return fmt.Errorf("%w: close: %w", metiserr.ErrDatabase, err)
	}

	return nil
}

// withTx runs fn inside a single SQLite transaction, committing on success
// and rolling back on any error (spec.md §4.5: "all multi-row changes run
// inside a single transaction").
func (idx *Index) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if idx == nil || idx.db == nil {
		return fmt.Errorf("%w: index is not open", metiserr.ErrDatabase)
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", metiserr.ErrDatabase, err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	err = fn(tx)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("%w: commit: %w", metiserr.ErrDatabase, err)
	}

	committed = true

	return nil
}

var errNoRows = sql.ErrNoRows

func isNotFound(err error) bool {
	return errors.Is(err, errNoRows)
}

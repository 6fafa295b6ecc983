package index

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is stored in SQLite's user_version pragma. Bump this when
// the schema changes; a mismatch on Open means the database predates the
// current layout and the caller should delete metis.db and resync
// (spec.md §6.1: "it is rebuildable and must be deletable without data
// loss").
const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	filepath          TEXT PRIMARY KEY,
	id                TEXT NOT NULL,
	short_code        TEXT NOT NULL UNIQUE,
	document_type     TEXT NOT NULL,
	phase             TEXT NOT NULL,
	parent_short_code TEXT,
	archived          INTEGER NOT NULL DEFAULT 0,
	content_hash      TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	file_modified_at  TEXT NOT NULL,
	title             TEXT NOT NULL,
	frontmatter_json  TEXT NOT NULL,
	body              TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type);
CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents(parent_short_code);
CREATE INDEX IF NOT EXISTS idx_documents_archived ON documents(archived);

CREATE TABLE IF NOT EXISTS document_tags (
	filepath TEXT NOT NULL REFERENCES documents(filepath) ON DELETE CASCADE,
	tag      TEXT NOT NULL,
	PRIMARY KEY (filepath, tag)
);

CREATE TABLE IF NOT EXISTS document_relationships (
	child_filepath  TEXT NOT NULL REFERENCES documents(filepath) ON DELETE CASCADE,
	parent_filepath TEXT NOT NULL REFERENCES documents(filepath) ON DELETE CASCADE,
	kind            TEXT NOT NULL,
	PRIMARY KEY (child_filepath, parent_filepath, kind)
);

CREATE VIRTUAL TABLE IF NOT EXISTS document_search USING fts5(
	filepath UNINDEXED,
	short_code,
	document_type UNINDEXED,
	phase UNINDEXED,
	title,
	body
);

CREATE TABLE IF NOT EXISTS configuration (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
	INSERT INTO document_search(filepath, short_code, document_type, phase, title, body)
	VALUES (new.filepath, new.short_code, new.document_type, new.phase, new.title, new.body);
END;

CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
	DELETE FROM document_search WHERE filepath = old.filepath;
END;

CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
	DELETE FROM document_search WHERE filepath = old.filepath;
	INSERT INTO document_search(filepath, short_code, document_type, phase, title, body)
	VALUES (new.filepath, new.short_code, new.document_type, new.phase, new.title, new.body);
END;
`

// applySchema creates every table, index, and trigger if missing, and sets
// user_version. Safe to call on every Open: CREATE TABLE IF NOT EXISTS
// makes it idempotent.
func applySchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	if err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func storedSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int

	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}

	return version, nil
}

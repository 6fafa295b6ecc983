package index

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/colliery-io/metis-sub002/internal/metiserr"
)

// FindByShortCode returns the row for an exact short-code match.
func (idx *Index) FindByShortCode(ctx context.Context, shortCode string) (Row, error) {
	row, err := scanDocumentRow(idx.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE short_code = ?`, shortCode))
	if err != nil {
		if isNotFound(err) {
			return Row{}, fmt.Errorf("%w: short-code %s", metiserr.ErrNotFound, shortCode)
		}

		return Row{}, fmt.Errorf("%w: find by short-code %s: %w", metiserr.ErrDatabase, shortCode, err)
	}

	return row, nil
}

// FindByFilepath returns the row at the given workspace-relative path.
func (idx *Index) FindByFilepath(ctx context.Context, filePath string) (Row, error) {
	row, err := scanDocumentRow(idx.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE filepath = ?`, filePath))
	if err != nil {
		if isNotFound(err) {
			return Row{}, fmt.Errorf("%w: filepath %s", metiserr.ErrNotFound, filePath)
		}

		return Row{}, fmt.Errorf("%w: find by filepath %s: %w", metiserr.ErrDatabase, filePath, err)
	}

	return row, nil
}

// FindByID returns the row whose slug id matches (ids are not unique by
// spec — the caller gets the first path-sorted match).
func (idx *Index) FindByID(ctx context.Context, id string) (Row, error) {
	row, err := scanDocumentRow(idx.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? ORDER BY filepath LIMIT 1`, id))
	if err != nil {
		if isNotFound(err) {
			return Row{}, fmt.Errorf("%w: id %s", metiserr.ErrNotFound, id)
		}

		return Row{}, fmt.Errorf("%w: find by id %s: %w", metiserr.ErrDatabase, id, err)
	}

	return row, nil
}

// ListFilter narrows FindByType. Zero values mean "no filter" except
// Archived, which is a tri-state pointer (nil = both).
type ListFilter struct {
	DocumentType string
	Phase        string
	Archived     *bool
}

// FindByType lists documents matching filter, in type-then-short-code
// order (spec.md §4.10).
func (idx *Index) FindByType(ctx context.Context, filter ListFilter) ([]Row, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`

	var args []any

	if filter.DocumentType != "" {
		query += ` AND document_type = ?`

		args = append(args, filter.DocumentType)
	}

	if filter.Phase != "" {
		query += ` AND phase = ?`

		args = append(args, filter.Phase)
	}

	if filter.Archived != nil {
		archived := 0
		if *filter.Archived {
			archived = 1
		}

		query += ` AND archived = ?`

		args = append(args, archived)
	}

	query += ` ORDER BY document_type, short_code`

	return queryRows(ctx, idx, query, args...)
}

// FindChildren returns documents whose parent_short_code is parentShortCode.
func (idx *Index) FindChildren(ctx context.Context, parentShortCode string) ([]Row, error) {
	return queryRows(ctx, idx, `SELECT `+documentColumns+` FROM documents WHERE parent_short_code = ? ORDER BY short_code`, parentShortCode)
}

// FindAncestors walks the parent chain starting at shortCode (exclusive)
// up to the root, returning them root-first.
func (idx *Index) FindAncestors(ctx context.Context, shortCode string) ([]Row, error) {
	var ancestors []Row

	current := shortCode
	seen := map[string]bool{}

	for {
		row, err := idx.FindByShortCode(ctx, current)
		if err != nil {
			return nil, err
		}

		if row.ParentShortCode == "" || seen[row.ParentShortCode] {
			break
		}

		seen[row.ParentShortCode] = true

		parent, err := idx.FindByShortCode(ctx, row.ParentShortCode)
		if err != nil {
			break
		}

		ancestors = append(ancestors, parent)
		current = parent.ShortCode
	}

	// Reverse to root-first order.
	for i, j := 0, len(ancestors)-1; i < j; i, j = i+1, j-1 {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	}

	return ancestors, nil
}

// SearchResult is one FTS5 match with a generated snippet.
type SearchResult struct {
	Row     Row
	Snippet string
}

// escapeFTSQuery turns each whitespace-separated term into a quoted FTS5
// string (doubling embedded quotes) so that user-supplied punctuation
// (quotes, hyphens, parens) cannot break query syntax (spec.md §8: "FTS query containing SQL-special characters is
// escaped").
func escapeFTSQuery(query string) string {
	var b strings.Builder

	for _, field := range strings.Fields(query) {
		term := strings.ReplaceAll(field, `"`, `""`)

		b.WriteString(`"`)
		b.WriteString(term)
		b.WriteString(`" `)
	}

	return strings.TrimSpace(b.String())
}

// Search runs a full-text query over title, body, short_code, and returns
// up to limit matches with a generated snippet (spec.md §4.10).
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	escaped := escapeFTSQuery(query)
	if escaped == "" {
		return nil, nil
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT d.filepath, d.id, d.short_code, d.document_type, d.phase, d.parent_short_code,
		       d.archived, d.content_hash, d.created_at, d.updated_at, d.file_modified_at,
		       d.title, d.frontmatter_json, d.body,
		       snippet(document_search, 5, '[', ']', '...', 12)
		FROM document_search
		JOIN documents d ON d.filepath = document_search.filepath
		WHERE document_search MATCH ?
		ORDER BY rank
		LIMIT ?
	`, escaped, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: search %q: %w", metiserr.ErrDatabase, query, err)
	}

	defer func() { _ = rows.Close() }()

	var results []SearchResult

	for rows.Next() {
		row, scanErr := scanDocumentRowWithSnippet(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: scan search result: %w", metiserr.ErrDatabase, scanErr)
		}

		results = append(results, row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search rows: %w", metiserr.ErrDatabase, err)
	}

	return results, nil
}

func scanDocumentRowWithSnippet(rows interface{ Scan(dest ...any) error }) (SearchResult, error) {
	var (
		r               Row
		archived        int
		createdAt       string
		updatedAt       string
		fileModifiedAt  string
		parentShortCode sql.NullString
		snippet         string
	)

	err := rows.Scan(
		&r.FilePath, &r.ID, &r.ShortCode, &r.DocumentType, &r.Phase, &parentShortCode,
		&archived, &r.ContentHash, &createdAt, &updatedAt, &fileModifiedAt,
		&r.Title, &r.FrontmatterJSON, &r.Body, &snippet,
	)
	if err != nil {
		return SearchResult{}, err
	}

	r.ParentShortCode = parentShortCode.String
	r.Archived = archived != 0
	r.CreatedAt = parseTimeOrZero(createdAt)
	r.UpdatedAt = parseTimeOrZero(updatedAt)
	r.FileModifiedAt = parseTimeOrZero(fileModifiedAt)

	return SearchResult{Row: r, Snippet: snippet}, nil
}

// ResolveShortCodePrefix resolves an exact short-code or, failing that, a
// unique prefix match (spec.md §4.10). Multiple matches return
// ErrAmbiguous.
func (idx *Index) ResolveShortCodePrefix(ctx context.Context, prefix string) (string, error) {
	exact, err := idx.FindByShortCode(ctx, prefix)
	if err == nil {
		return exact.ShortCode, nil
	}

	rows, err := idx.db.QueryContext(ctx, `SELECT short_code FROM documents WHERE short_code LIKE ? ESCAPE '\' ORDER BY short_code`,
		escapeLikePrefix(prefix)+"%")
	if err != nil {
		return "", fmt.Errorf("%w: resolve prefix %s: %w", metiserr.ErrDatabase, prefix, err)
	}

	defer func() { _ = rows.Close() }()

	var matches []string

	for rows.Next() {
		var sc string

		if scanErr := rows.Scan(&sc); scanErr != nil {
			return "", fmt.Errorf("%w: scan prefix match: %w", metiserr.ErrDatabase, scanErr)
		}

		matches = append(matches, sc)
	}

	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: short-code prefix %s", metiserr.ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: short-code prefix %s matches %v", metiserr.ErrAmbiguous, prefix, matches)
	}
}

func parseTimeOrZero(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}

	return t
}

func escapeLikePrefix(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)

	return s
}

// SnapshotEntry is one (filepath, short_code, content_hash) triple.
type SnapshotEntry struct {
	FilePath    string
	ShortCode   string
	ContentHash string
}

// Snapshot returns every SnapshotEntry currently indexed, the baseline the
// sync service diffs the filesystem scan against (spec.md §4.6).
func (idx *Index) Snapshot(ctx context.Context) ([]SnapshotEntry, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT filepath, short_code, content_hash FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %w", metiserr.ErrDatabase, err)
	}

	defer func() { _ = rows.Close() }()

	var entries []SnapshotEntry

	for rows.Next() {
		var e SnapshotEntry

		if scanErr := rows.Scan(&e.FilePath, &e.ShortCode, &e.ContentHash); scanErr != nil {
			return nil, fmt.Errorf("%w: scan snapshot row: %w", metiserr.ErrDatabase, scanErr)
		}

		entries = append(entries, e)
	}

	return entries, nil
}

func queryRows(ctx context.Context, idx *Index, query string, args ...any) ([]Row, error) {
	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", metiserr.ErrDatabase, err)
	}

	defer func() { _ = rows.Close() }()

	var out []Row

	for rows.Next() {
		row, scanErr := scanDocumentRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: scan row: %w", metiserr.ErrDatabase, scanErr)
		}

		out = append(out, row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", metiserr.ErrDatabase, err)
	}

	return out, nil
}

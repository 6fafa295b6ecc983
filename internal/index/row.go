package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/colliery-io/metis-sub002/internal/document"
)

// Row is the denormalized view of a single documents-table row, as read
// back by the query surface (spec.md §3.3).
type Row struct {
	FilePath        string
	ID              string
	ShortCode       string
	DocumentType    string
	Phase           string
	ParentShortCode string
	Archived        bool
	ContentHash     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FileModifiedAt  time.Time
	Title           string
	FrontmatterJSON string
	Body            string
}

// scanner is the Scan method shared by *sql.Row and *sql.Rows;
// scanDocumentRow reads one documents row through it into a Row.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocumentRow(s scanner) (Row, error) {
	var (
		r               Row
		archived        int
		createdAt       string
		updatedAt       string
		fileModifiedAt  string
		parentShortCode sql.NullString
	)

	err := s.Scan(
		&r.FilePath, &r.ID, &r.ShortCode, &r.DocumentType, &r.Phase, &parentShortCode,
		&archived, &r.ContentHash, &createdAt, &updatedAt, &fileModifiedAt,
		&r.Title, &r.FrontmatterJSON, &r.Body,
	)
	if err != nil {
		return Row{}, err
	}

	r.ParentShortCode = parentShortCode.String
	r.Archived = archived != 0

	r.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Row{}, fmt.Errorf("scan row %s: parse created_at: %w", r.FilePath, err)
	}

	r.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return Row{}, fmt.Errorf("scan row %s: parse updated_at: %w", r.FilePath, err)
	}

	r.FileModifiedAt, err = time.Parse(time.RFC3339, fileModifiedAt)
	if err != nil {
		return Row{}, fmt.Errorf("scan row %s: parse file_modified_at: %w", r.FilePath, err)
	}

	return r, nil
}

const documentColumns = `filepath, id, short_code, document_type, phase, parent_short_code,
	archived, content_hash, created_at, updated_at, file_modified_at,
	title, frontmatter_json, body`

// rowFromDocument derives the documents-table column values from a parsed
// Document plus the sync-computed content hash and file mtime.
func rowFromDocument(doc *document.Document, contentHash string, fileModifiedAt time.Time) (Row, error) {
	fmJSON, err := doc.FrontmatterJSON()
	if err != nil {
		return Row{}, err
	}

	return Row{
		FilePath:        doc.FilePath,
		ID:              doc.ID,
		ShortCode:       doc.ShortCode,
		DocumentType:    string(doc.Level),
		Phase:           doc.Phase,
		ParentShortCode: doc.Parent,
		Archived:        doc.Archived,
		ContentHash:     contentHash,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		FileModifiedAt:  fileModifiedAt,
		Title:           doc.Title,
		FrontmatterJSON: string(fmJSON),
		Body:            string(doc.Body),
	}, nil
}

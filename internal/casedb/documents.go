package casedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

const documentColumns = `id, case_id, run_id, doc_type, format, path, size, created_at`

// CreateDocument appends a document row.
func (s *Store) CreateDocument(ctx context.Context, d *models.Document) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.CaseID, nullString(d.RunID), string(d.DocType), string(d.Format), d.Path, d.Size, d.CreatedAt); err != nil {
			return fmt.Errorf("casedb: insert document: %w", err)
		}
		return nil
	})
}

// GetDocument returns a document or a NotFound error.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("casedb.GetDocument", "document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("casedb: get document: %w", err)
	}
	return d, nil
}

// ListDocuments returns a case's documents newest first, optionally
// restricted to one run.
func (s *Store) ListDocuments(ctx context.Context, caseID, runID string) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE case_id = ?`
	args := []interface{}{caseID}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY created_at DESC, seq DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("casedb: list documents: %w", err)
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("casedb: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func scanDocument(r rowScanner) (*models.Document, error) {
	var (
		d             models.Document
		runID         sql.NullString
		docType, form string
	)
	if err := r.Scan(&d.ID, &d.CaseID, &runID, &docType, &form, &d.Path, &d.Size, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.RunID = strPtr(runID)
	d.DocType = models.DocType(docType)
	d.Format = models.DocFormat(form)
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

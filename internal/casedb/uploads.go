package casedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

const uploadColumns = `id, case_id, type, filename, path, sha256, size, content_type, created_at`

// CreateUpload inserts an upload with its transcript segments. When the case
// already holds an upload of the same type and content hash, that upload is
// marked as the most recently registered and returned with created=false.
func (s *Store) CreateUpload(ctx context.Context, u *models.Upload, segments []models.TranscriptSegment) (*models.Upload, bool, error) {
	var (
		out     *models.Upload
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := reuseUpload(ctx, tx, u.CaseID, u.Type, u.SHA256)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		contentType := sql.NullString{String: u.ContentType, Valid: u.ContentType != ""}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO uploads (`+uploadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.CaseID, string(u.Type), u.Filename, u.Path, u.SHA256, u.Size, contentType, u.CreatedAt); err != nil {
			return fmt.Errorf("casedb: insert upload: %w", err)
		}
		for _, seg := range segments {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO transcript_segments (case_id, upload_id, idx, speaker, text, start_char, end_char)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				u.CaseID, u.ID, seg.Idx, nullString(seg.Speaker), seg.Text, seg.StartChar, seg.EndChar); err != nil {
				return fmt.Errorf("casedb: insert segment %d: %w", seg.Idx, err)
			}
		}
		out = u
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// ReuseUpload returns the case's upload of type typ with the given hash, or
// nil. A found upload becomes the case's most recently registered one, so a
// re-uploaded transcript is the one LatestTranscript returns.
func (s *Store) ReuseUpload(ctx context.Context, caseID string, typ models.UploadType, sha string) (*models.Upload, error) {
	var out *models.Upload
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := reuseUpload(ctx, tx, caseID, typ, sha)
		out = u
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func reuseUpload(ctx context.Context, tx *sql.Tx, caseID string, typ models.UploadType, sha string) (*models.Upload, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE case_id = ? AND type = ? AND sha256 = ? ORDER BY seq LIMIT 1`,
		caseID, string(typ), sha)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("casedb: find upload by hash: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE uploads SET registered_seq = nextval('row_seq') WHERE id = ?`, u.ID); err != nil {
		return nil, fmt.Errorf("casedb: touch upload: %w", err)
	}
	return u, nil
}

// ListUploads returns a case's uploads in ingestion order.
func (s *Store) ListUploads(ctx context.Context, caseID string) ([]*models.Upload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE case_id = ? ORDER BY seq`, caseID)
	if err != nil {
		return nil, fmt.Errorf("casedb: list uploads: %w", err)
	}
	defer rows.Close()

	uploads := []*models.Upload{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("casedb: scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// LatestTranscript returns the most recently registered transcript of a
// case, counting re-uploads of identical bytes.
func (s *Store) LatestTranscript(ctx context.Context, caseID string) (*models.Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE case_id = ? AND type = ? ORDER BY registered_seq DESC, seq DESC LIMIT 1`,
		caseID, string(models.UploadTranscript))
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.E(models.KindPrecondition, "casedb.LatestTranscript", "case %s has no transcript upload", caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("casedb: latest transcript: %w", err)
	}
	return u, nil
}

// ListSegments returns the segments of one transcript upload in order.
func (s *Store) ListSegments(ctx context.Context, uploadID string) ([]models.TranscriptSegment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT case_id, upload_id, idx, speaker, text, start_char, end_char
		 FROM transcript_segments WHERE upload_id = ? ORDER BY idx`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("casedb: list segments: %w", err)
	}
	defer rows.Close()

	var segs []models.TranscriptSegment
	for rows.Next() {
		var (
			seg     models.TranscriptSegment
			speaker sql.NullString
		)
		if err := rows.Scan(&seg.CaseID, &seg.UploadID, &seg.Idx, &speaker, &seg.Text, &seg.StartChar, &seg.EndChar); err != nil {
			return nil, fmt.Errorf("casedb: scan segment: %w", err)
		}
		seg.Speaker = strPtr(speaker)
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

func scanUpload(r rowScanner) (*models.Upload, error) {
	var (
		u           models.Upload
		typ         string
		contentType sql.NullString
	)
	if err := r.Scan(&u.ID, &u.CaseID, &typ, &u.Filename, &u.Path, &u.SHA256, &u.Size, &contentType, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Type = models.UploadType(typ)
	u.ContentType = contentType.String
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

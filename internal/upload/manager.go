// Package upload ingests transcripts and photos for a case.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Kiwi1009/interview-to-quote/internal/casedb"
	"github.com/Kiwi1009/interview-to-quote/internal/logger"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/storage"
)

// File is an incoming upload held in memory.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Manager is the upload registry.
type Manager struct {
	db      *casedb.Store
	blobs   storage.Store
	log     *logger.Logger
	allowed []string
}

// NewManager creates an upload registry. allowed is a list of lower-case
// extensions; empty allows everything.
func NewManager(db *casedb.Store, blobs storage.Store, allowed []string, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{db: db, blobs: blobs, log: log, allowed: allowed}
}

// Register stores a file for a case. typ may be empty to classify the file
// from its name and content type. Identical bytes already uploaded to the
// case with the same type return the existing upload, which then counts as
// the latest one.
func (m *Manager) Register(ctx context.Context, caseID string, f File, typ models.UploadType) (*models.Upload, error) {
	const op = "upload.Register"

	name := filepath.Base(strings.TrimSpace(f.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, models.E(models.KindValidation, op, "filename is required")
	}
	if len(f.Data) == 0 {
		return nil, models.E(models.KindValidation, op, "file %s is empty", name)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if len(m.allowed) > 0 && !contains(m.allowed, ext) {
		return nil, models.E(models.KindValidation, op, "file type %q is not allowed", ext)
	}
	if typ == "" {
		typ = Classify(name, f.ContentType)
	} else if !typ.Valid() {
		return nil, models.E(models.KindValidation, op, "unknown upload type %q", typ)
	}

	c, err := m.db.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == models.CaseArchived {
		return nil, models.E(models.KindPrecondition, op, "case %s is archived", caseID)
	}

	var segments []models.TranscriptSegment
	switch typ {
	case models.UploadTranscript:
		text, err := TranscriptText(name, f.Data)
		if err != nil {
			return nil, &models.Error{Kind: models.KindValidation, Op: op, Message: name, Err: err}
		}
		segments = Segment(text)
		if len(segments) == 0 {
			return nil, models.E(models.KindValidation, op, "transcript %s has no text", name)
		}
	case models.UploadPhoto:
		info, err := InspectPhoto(f.Data)
		if err != nil {
			return nil, &models.Error{Kind: models.KindValidation, Op: op, Message: name, Err: err}
		}
		m.log.Debug("photo inspected", "case_id", caseID, "file", name, "format", info.Format, "width", info.Width, "height", info.Height)
	}

	sum := sha256.Sum256(f.Data)
	hash := hex.EncodeToString(sum[:])
	if existing, err := m.db.ReuseUpload(ctx, caseID, typ, hash); err != nil {
		return nil, err
	} else if existing != nil {
		m.log.Info("duplicate upload reused", "case_id", caseID, "file", name, "upload_id", existing.ID)
		return existing, nil
	}

	id := uuid.New().String()
	key := "uploads/" + caseID + "/" + id + ext
	size, err := m.blobs.Put(ctx, key, bytes.NewReader(f.Data), int64(len(f.Data)), f.ContentType)
	if err != nil {
		return nil, err
	}

	for i := range segments {
		segments[i].CaseID = caseID
		segments[i].UploadID = id
	}
	u := &models.Upload{
		ID:          id,
		CaseID:      caseID,
		Type:        typ,
		Filename:    name,
		Path:        key,
		SHA256:      hash,
		Size:        size,
		ContentType: f.ContentType,
		CreatedAt:   time.Now().UTC(),
	}
	stored, created, err := m.db.CreateUpload(ctx, u, segments)
	if err != nil || !created {
		_ = m.blobs.Delete(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	m.log.Info("upload registered", "case_id", caseID, "upload_id", stored.ID, "type", stored.Type, "file", name,
		"size", size, "segments", len(segments), "created", created)
	return stored, nil
}

// List returns a case's uploads.
func (m *Manager) List(ctx context.Context, caseID string) ([]*models.Upload, error) {
	if _, err := m.db.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return m.db.ListUploads(ctx, caseID)
}

// Transcript is the material handed to the extraction backend.
type Transcript struct {
	Upload   *models.Upload
	Text     string
	Segments []models.TranscriptSegment
}

// LoadTranscript returns the case's most recent transcript with its text
// and segments. It fails with a Precondition error when there is none.
func (m *Manager) LoadTranscript(ctx context.Context, caseID string) (*Transcript, error) {
	u, err := m.db.LatestTranscript(ctx, caseID)
	if err != nil {
		return nil, err
	}
	data, err := storage.ReadAll(ctx, m.blobs, u.Path)
	if err != nil {
		return nil, err
	}
	text, err := TranscriptText(u.Filename, data)
	if err != nil {
		return nil, err
	}
	segs, err := m.db.ListSegments(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &Transcript{Upload: u, Text: text, Segments: segs}, nil
}

// Package document renders requirement specs, requirement reports and
// quotes as DOCX and PDF files.
package document

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Kiwi1009/interview-to-quote/internal/casedb"
	"github.com/Kiwi1009/interview-to-quote/internal/logger"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/observability"
	"github.com/Kiwi1009/interview-to-quote/internal/storage"
)

// Renderer turns Content into the bytes of one file format.
type Renderer interface {
	Format() models.DocFormat
	Render(c Content) ([]byte, error)
}

// RequirementsSource resolves runs and their requirements.
type RequirementsSource interface {
	ResolveRunID(ctx context.Context, caseID, runID string) (string, error)
	GetRequirements(ctx context.Context, caseID, runID string) (*models.Requirements, error)
}

// PlanSource lists the plans of a case.
type PlanSource interface {
	ListPlans(ctx context.Context, caseID, runID string) ([]*models.Plan, error)
}

type Service struct {
	db        *casedb.Store
	reqs      RequirementsSource
	plans     PlanSource
	blobs     storage.Store
	renderers map[models.DocFormat]Renderer
	log       *logger.Logger
}

func NewService(db *casedb.Store, reqs RequirementsSource, plans PlanSource, blobs storage.Store, log *logger.Logger, renderers ...Renderer) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		db:        db,
		reqs:      reqs,
		plans:     plans,
		blobs:     blobs,
		renderers: make(map[models.DocFormat]Renderer),
		log:       log,
	}
	for _, r := range renderers {
		s.renderers[r.Format()] = r
	}
	return s
}

// Generate renders every requested type in every requested format. Empty
// lists mean all types or all formats. Preconditions are checked for all
// types before anything is rendered, and each call adds new documents.
func (s *Service) Generate(ctx context.Context, caseID, runID string, types []models.DocType, formats []models.DocFormat) (docs []*models.Document, err error) {
	const op = "document.Generate"
	ctx, span := observability.StartSpan(ctx, "document.generate", "case_id", caseID)
	defer func() { observability.EndSpan(span, err) }()

	types, formats, err = s.normalize(op, types, formats)
	if err != nil {
		return nil, err
	}

	c, err := s.db.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if runID != "" {
		if runID, err = s.reqs.ResolveRunID(ctx, caseID, runID); err != nil {
			return nil, err
		}
	}

	contents := make(map[models.DocType]Content, len(types))
	runOf := make(map[models.DocType]string, len(types))
	for _, t := range types {
		switch t {
		case models.DocSpec, models.DocReport:
			req, err := s.reqs.GetRequirements(ctx, caseID, runID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return nil, models.E(models.KindPrecondition, op, "%s document needs extracted requirements", t)
				}
				return nil, err
			}
			if t == models.DocSpec {
				contents[t] = BuildSpec(c, req)
			} else {
				contents[t] = BuildReport(c, req)
			}
			runOf[t] = req.RunID
		case models.DocQuote:
			plans, err := s.plans.ListPlans(ctx, caseID, runID)
			if err != nil {
				return nil, err
			}
			if len(plans) == 0 {
				return nil, models.E(models.KindPrecondition, op, "quote document needs generated plans")
			}
			contents[t] = BuildQuote(c, plans)
			if plans[0].RunID != nil {
				runOf[t] = *plans[0].RunID
			}
		}
	}

	now := time.Now().UTC()
	results := make([]*models.Document, len(types)*len(formats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for i, t := range types {
		for j, f := range formats {
			slot := i*len(formats) + j
			t, f := t, f
			g.Go(func() error {
				data, err := s.renderers[f].Render(contents[t])
				if err != nil {
					return err
				}
				d := &models.Document{
					ID:        uuid.New().String(),
					CaseID:    caseID,
					DocType:   t,
					Format:    f,
					CreatedAt: now,
				}
				if id := runOf[t]; id != "" {
					d.RunID = &id
				}
				d.Path = "documents/" + caseID + "/" + d.ID + "." + string(f)
				size, err := s.blobs.Put(gctx, d.Path, bytes.NewReader(data), int64(len(data)), f.ContentType())
				if err != nil {
					return err
				}
				d.Size = size
				results[slot] = d
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		s.discard(results)
		return nil, err
	}

	docs = make([]*models.Document, 0, len(results))
	for i, d := range results {
		if err := s.db.CreateDocument(ctx, d); err != nil {
			s.discard(results[i:])
			return nil, err
		}
		docs = append(docs, d)
	}
	s.log.Info("documents generated", "case_id", caseID, "run_id", runID, "count", len(docs))
	return docs, nil
}

func (s *Service) normalize(op string, types []models.DocType, formats []models.DocFormat) ([]models.DocType, []models.DocFormat, error) {
	if len(types) == 0 {
		types = models.DocTypes
	}
	if len(formats) == 0 {
		formats = models.DocFormats
	}
	var (
		outT  []models.DocType
		outF  []models.DocFormat
		seenT = map[models.DocType]bool{}
		seenF = map[models.DocFormat]bool{}
	)
	for _, t := range types {
		if !t.Valid() {
			return nil, nil, models.E(models.KindValidation, op, "unknown document type %q", t)
		}
		if !seenT[t] {
			seenT[t] = true
			outT = append(outT, t)
		}
	}
	for _, f := range formats {
		if !f.Valid() {
			return nil, nil, models.E(models.KindValidation, op, "unknown document format %q", f)
		}
		if _, ok := s.renderers[f]; !ok {
			return nil, nil, models.E(models.KindValidation, op, "no renderer for format %q", f)
		}
		if !seenF[f] {
			seenF[f] = true
			outF = append(outF, f)
		}
	}
	return outT, outF, nil
}

func (s *Service) discard(docs []*models.Document) {
	for _, d := range docs {
		if d == nil {
			continue
		}
		if err := s.blobs.Delete(context.Background(), d.Path); err != nil {
			s.log.Warn("failed to remove orphaned document blob", "path", d.Path, "error", err)
		}
	}
}

// List returns a case's documents newest first.
func (s *Service) List(ctx context.Context, caseID, runID string) ([]*models.Document, error) {
	if _, err := s.db.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.db.ListDocuments(ctx, caseID, runID)
}

// Download opens a document's bytes. The caller closes the reader.
func (s *Service) Download(ctx context.Context, documentID string) (*models.Document, io.ReadCloser, error) {
	d, err := s.db.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, d.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, models.E(models.KindNotFound, "document.Download", "file of document %s is missing", documentID)
	}
	if err != nil {
		return nil, nil, err
	}
	return d, rc, nil
}

// handlers_document.go - Document generation and download handlers
package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Kiwi1009/interview-to-quote/internal/document"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/workflow"
)

// DocumentHandlerImpl implements the DocumentHandler interface
type DocumentHandlerImpl struct {
	workflow  *workflow.Service
	documents *document.Service
}

// NewDocumentHandler creates a new document handler instance
func NewDocumentHandler(wf *workflow.Service, docs *document.Service) DocumentHandler {
	return &DocumentHandlerImpl{workflow: wf, documents: docs}
}

// splitList splits a comma separated query value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HandleGenerateDocuments renders ?types=spec,quote&formats=pdf for
// ?run_id= or the latest run. Empty lists mean all.
func (h *DocumentHandlerImpl) HandleGenerateDocuments(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}

	in := workflow.StepInput{RunID: c.QueryParam("run_id")}
	for _, t := range splitList(c.QueryParam("types")) {
		in.DocTypes = append(in.DocTypes, models.DocType(t))
	}
	for _, f := range splitList(c.QueryParam("formats")) {
		in.Formats = append(in.Formats, models.DocFormat(f))
	}

	res, err := h.workflow.RunStep(c.Request().Context(), cs.ID, workflow.StepGenerateDocuments, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res.Documents)
}

func (h *DocumentHandlerImpl) HandleListDocuments(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}
	docs, err := h.documents.List(c.Request().Context(), cs.ID, c.QueryParam("run_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, docs)
}

// HandleDownloadDocument streams the stored file as an attachment
func (h *DocumentHandlerImpl) HandleDownloadDocument(c echo.Context) error {
	docID := c.Param("docId")
	doc, body, err := h.documents.Download(c.Request().Context(), docID)
	if err != nil {
		return err
	}
	defer body.Close()

	if _, err := ownedCase(c, h.workflow, doc.CaseID); err != nil {
		return NewNotFoundError("document", docID)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Filename()))
	c.Response().Header().Set(echo.HeaderContentType, doc.Format.ContentType())
	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), body)
	return err
}

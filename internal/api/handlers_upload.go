// handlers_upload.go - File upload operation handlers
package api

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/upload"
	"github.com/Kiwi1009/interview-to-quote/internal/workflow"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	workflow      *workflow.Service
	uploadManager *upload.Manager
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(wf *workflow.Service, uploadMgr *upload.Manager) UploadHandler {
	return &UploadHandlerImpl{
		workflow:      wf,
		uploadManager: uploadMgr,
	}
}

// HandleUploadFile stores a multipart "file" for the case. The optional
// "type" field forces transcript or photo; otherwise the file is classified.
func (h *UploadHandlerImpl) HandleUploadFile(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("multipart field \"file\" is required", err)
	}
	f, err := readFormFile(fh)
	if err != nil {
		return err
	}

	typ := models.UploadType(c.FormValue("type"))
	res, err := h.workflow.RunStep(c.Request().Context(), cs.ID, workflow.StepUpload, workflow.StepInput{File: &f, UploadType: typ})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res.Upload)
}

// HandleListUploads returns the case's uploads
func (h *UploadHandlerImpl) HandleListUploads(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}
	uploads, err := h.uploadManager.List(c.Request().Context(), cs.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, uploads)
}

// readFormFile loads a multipart file into memory.
func readFormFile(fh *multipart.FileHeader) (upload.File, error) {
	src, err := fh.Open()
	if err != nil {
		return upload.File{}, NewBadRequestError("failed to open uploaded file", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return upload.File{}, NewBadRequestError("failed to read uploaded file", err)
	}
	return upload.File{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Data:        data,
	}, nil
}

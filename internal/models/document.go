package models

import (
	"fmt"
	"time"
)

type DocType string

const (
	DocSpec   DocType = "spec"
	DocReport DocType = "report"
	DocQuote  DocType = "quote"
)

var DocTypes = []DocType{DocSpec, DocReport, DocQuote}

func (t DocType) Valid() bool {
	return t == DocSpec || t == DocReport || t == DocQuote
}

type DocFormat string

const (
	FormatDOCX DocFormat = "docx"
	FormatPDF  DocFormat = "pdf"
)

var DocFormats = []DocFormat{FormatDOCX, FormatPDF}

func (f DocFormat) Valid() bool {
	return f == FormatDOCX || f == FormatPDF
}

// ContentType returns the MIME type served on download.
func (f DocFormat) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/octet-stream"
}

// Document is a rendered artifact. Regeneration adds rows, it never
// rewrites them.
type Document struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	RunID     *string   `json:"run_id,omitempty"`
	DocType   DocType   `json:"doc_type"`
	Format    DocFormat `json:"format"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Filename is the download name, {doc_type}_{id}.{format}.
func (d *Document) Filename() string {
	return fmt.Sprintf("%s_%s.%s", d.DocType, d.ID, d.Format)
}

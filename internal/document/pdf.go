package document

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

const (
	pdfFontFamily = "doc"
	pdfLineHeight = 6.0
)

// PDFRenderer lays documents out on A4 pages. Without a TrueType font only
// ASCII can be drawn, and other characters are replaced with "?".
type PDFRenderer struct {
	font []byte
}

// NewPDFRenderer loads the TrueType font at fontPath. An empty path uses
// the built-in Helvetica.
func NewPDFRenderer(fontPath string) (*PDFRenderer, error) {
	if strings.TrimSpace(fontPath) == "" {
		return &PDFRenderer{}, nil
	}
	data, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("pdf: read font: %w", err)
	}
	return &PDFRenderer{font: data}, nil
}

func (r *PDFRenderer) Format() models.DocFormat { return models.FormatPDF }

// HasUnicodeFont reports whether CJK text will render.
func (r *PDFRenderer) HasUnicodeFont() bool { return len(r.font) > 0 }

type pdfWriter struct {
	pdf    *fpdf.Fpdf
	family string
	text   func(string) string
}

func (w *pdfWriter) font(style string, size float64) {
	if w.family == pdfFontFamily {
		// UTF-8 fonts are registered without bold variants.
		style = ""
	}
	w.pdf.SetFont(w.family, style, size)
}

func (r *PDFRenderer) Render(c Content) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)

	w := &pdfWriter{pdf: pdf, family: "Helvetica", text: asciiOnly}
	if len(r.font) > 0 {
		pdf.AddUTF8FontFromBytes(pdfFontFamily, "", r.font)
		w.family = pdfFontFamily
		w.text = func(s string) string { return s }
	}
	pdf.SetTitle(c.Title, true)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	width := pageW - left - right

	w.font("B", 18)
	pdf.CellFormat(width, 12, w.text(c.Title), "", 1, "C", false, 0, "")
	pdf.Ln(2)

	for _, b := range c.Blocks {
		switch t := b.(type) {
		case Heading:
			size := 14.0
			if t.Level > 1 {
				size = 12
			}
			pdf.Ln(2)
			w.font("B", size)
			pdf.MultiCell(width, 8, w.text(t.Text), "", "L", false)
		case Paragraph:
			w.font("", 10)
			pdf.MultiCell(width, pdfLineHeight, w.text(t.Text), "", "L", false)
		case Bullet:
			w.font("", 10)
			pdf.SetX(left + 4)
			pdf.MultiCell(width-4, pdfLineHeight, w.text("- "+t.Text), "", "L", false)
		case Table:
			w.table(t, width)
		default:
			return nil, fmt.Errorf("pdf: unsupported block %T", b)
		}
	}

	if pdf.Err() {
		return nil, fmt.Errorf("pdf: %w", pdf.Error())
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: output: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *pdfWriter) table(t Table, width float64) {
	pdf := w.pdf
	widths := columnWidths(t, width)
	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	left, _, _, _ := pdf.GetMargins()

	drawRow := func(cells []string, header bool) {
		if header {
			w.font("B", 9)
			pdf.SetFillColor(230, 230, 230)
		} else {
			w.font("", 9)
		}
		lines := make([][]string, len(widths))
		rowLines := 1
		for i := range widths {
			text := ""
			if i < len(cells) {
				text = w.text(cells[i])
			}
			lines[i] = pdf.SplitText(text, widths[i])
			if len(lines[i]) > rowLines {
				rowLines = len(lines[i])
			}
		}
		const lh = 5.0
		rowH := float64(rowLines) * lh

		if pdf.GetY()+rowH > pageH-bottom {
			pdf.AddPage()
		}
		x, y := left, pdf.GetY()
		for i, cw := range widths {
			style := "D"
			if header {
				style = "FD"
			}
			pdf.Rect(x, y, cw, rowH, style)
			pdf.SetXY(x, y)
			pdf.MultiCell(cw, lh, strings.Join(lines[i], "\n"), "", "L", false)
			x += cw
		}
		pdf.SetXY(left, y+rowH)
	}

	drawRow(t.Header, true)
	for _, r := range t.Rows {
		drawRow(r, false)
	}
	pdf.Ln(3)
}

// asciiOnly keeps text drawable with the core fonts.
func asciiOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\n' || (r >= 0x20 && r < 0x7f):
			b.WriteRune(r)
		case r == '　':
			b.WriteByte(' ')
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

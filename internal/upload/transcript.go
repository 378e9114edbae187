package upload

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

// maxSpeakerRunes bounds the "Name: text" prefix recognised as a speaker.
const maxSpeakerRunes = 20

// TranscriptText turns raw transcript bytes into text. DOCX files are
// unpacked; everything else must be UTF-8.
func TranscriptText(filename string, data []byte) (string, error) {
	if strings.EqualFold(filepath.Ext(filename), ".docx") {
		return docxText(data)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("transcript is not valid UTF-8 text")
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

// Segment splits a transcript into its non-empty lines. Character offsets
// count runes in text, and each segment spans its trimmed line.
func Segment(text string) []models.TranscriptSegment {
	var (
		segs []models.TranscriptSegment
		pos  int
	)
	for _, line := range strings.Split(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lead := utf8.RuneCountInString(line[:strings.Index(line, trimmed)])
			start := pos + lead
			seg := models.TranscriptSegment{
				Idx:       len(segs),
				Text:      trimmed,
				StartChar: start,
				EndChar:   start + utf8.RuneCountInString(trimmed),
			}
			if speaker, ok := detectSpeaker(trimmed); ok {
				seg.Speaker = &speaker
			}
			segs = append(segs, seg)
		}
		pos += lineLen + 1
	}
	return segs
}

// detectSpeaker recognises "Name: ..." and "Name：..." prefixes.
func detectSpeaker(line string) (string, bool) {
	idx := strings.IndexAny(line, ":：")
	if idx <= 0 {
		return "", false
	}
	name := strings.TrimSpace(line[:idx])
	if name == "" || utf8.RuneCountInString(name) > maxSpeakerRunes || strings.ContainsAny(name, "。，,.!?？！") {
		return "", false
	}
	return name, true
}

// docxText extracts paragraph text from word/document.xml.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("reading docx: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("opening document.xml: %w", err)
		}
		defer rc.Close()
		return paragraphsText(rc)
	}
	return "", fmt.Errorf("docx has no word/document.xml")
}

func paragraphsText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				out.WriteByte('\t')
			case "br":
				out.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				out.Write(t)
			}
		}
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

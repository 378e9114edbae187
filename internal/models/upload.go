package models

import "time"

// UploadType distinguishes the transcript from supporting photos.
type UploadType string

const (
	UploadTranscript UploadType = "transcript"
	UploadPhoto      UploadType = "photo"
)

func (t UploadType) Valid() bool {
	return t == UploadTranscript || t == UploadPhoto
}

// Upload is an immutable file ingested for a case.
type Upload struct {
	ID          string     `json:"id"`
	CaseID      string     `json:"case_id"`
	Type        UploadType `json:"type"`
	Filename    string     `json:"filename"`
	Path        string     `json:"path"`
	SHA256      string     `json:"sha256"`
	Size        int64      `json:"size"`
	ContentType string     `json:"content_type,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TranscriptSegment is one non-empty line of a transcript with its
// character span in the original text.
type TranscriptSegment struct {
	CaseID    string  `json:"case_id"`
	UploadID  string  `json:"upload_id"`
	Idx       int     `json:"idx"`
	Speaker   *string `json:"speaker,omitempty"`
	Text      string  `json:"text"`
	StartChar int     `json:"start_char"`
	EndChar   int     `json:"end_char"`
}

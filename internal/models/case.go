package models

import "time"

// CaseStatus is the lifecycle stage of a case.
type CaseStatus string

const (
	CaseDraft      CaseStatus = "draft"
	CaseExtracting CaseStatus = "extracting"
	CaseReviewing  CaseStatus = "reviewing"
	CaseQuoted     CaseStatus = "quoted"
	CaseArchived   CaseStatus = "archived"
)

// caseOrder is the forward chain; archived sits outside it.
var caseOrder = []CaseStatus{CaseDraft, CaseExtracting, CaseReviewing, CaseQuoted}

// Rank returns the position of s in the forward chain, or -1 for archived
// and unknown values.
func (s CaseStatus) Rank() int {
	for i, st := range caseOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s CaseStatus) Valid() bool {
	return s == CaseArchived || s.Rank() >= 0
}

// Next returns the successor in the forward chain.
func (s CaseStatus) Next() (CaseStatus, bool) {
	r := s.Rank()
	if r < 0 || r == len(caseOrder)-1 {
		return "", false
	}
	return caseOrder[r+1], true
}

// CanAdvanceTo reports whether s -> next is a permitted single transition:
// one step along the chain, or archiving from any non-archived state.
func (s CaseStatus) CanAdvanceTo(next CaseStatus) bool {
	if s == CaseArchived || !s.Valid() {
		return false
	}
	if next == CaseArchived {
		return true
	}
	n, ok := s.Next()
	return ok && n == next
}

// Case is one customer engagement from transcript to quote.
type Case struct {
	ID        string     `json:"id"`
	Owner     string     `json:"owner"`
	Title     string     `json:"title"`
	Industry  *string    `json:"industry,omitempty"`
	Status    CaseStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

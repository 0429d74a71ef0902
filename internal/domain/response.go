package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TotalPages number of pages in the book
const TotalPages = 285

var (
	ErrInvalidPage  = errors.New("invalid page number")
	ErrInvalidField = errors.New("invalid field id")
)

// PageResponseSet all answers one writer recorded on one page.
// Stored locally as a single JSON aggregate per page.
type PageResponseSet struct {
	PageNumber   int               `json:"pageNumber"`
	Responses    map[string]string `json:"responses"`
	LastModified time.Time         `json:"lastModified"`
}

// NewPageResponseSet returns an empty set for page
func NewPageResponseSet(page int) *PageResponseSet {
	return &PageResponseSet{PageNumber: page, Responses: map[string]string{}}
}

// Set records one field value and refreshes LastModified
func (p *PageResponseSet) Set(fieldID, value string, at time.Time) {
	if p.Responses == nil {
		p.Responses = map[string]string{}
	}
	p.Responses[fieldID] = value
	p.LastModified = at
}

// FieldIDs returns the recorded field ids in sorted order
func (p *PageResponseSet) FieldIDs() []string {
	ids := make([]string, 0, len(p.Responses))
	for id := range p.Responses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResponseRow remote representation, one row per (user, page, field)
type ResponseRow struct {
	ID         string    `json:"id,omitempty"`
	UserID     string    `json:"user_id"`
	PageNumber int       `json:"page_number"`
	FieldID    string    `json:"field_id"`
	Value      string    `json:"value"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NaturalKey identifies a row independent of its generated id
func (r ResponseRow) NaturalKey() string {
	return fmt.Sprintf("%s|%d|%s", r.UserID, r.PageNumber, r.FieldID)
}

// ValidatePage checks 1 <= page <= TotalPages
func ValidatePage(page int) error {
	if page < 1 || page > TotalPages {
		return fmt.Errorf("%w: %d (expected 1..%d)", ErrInvalidPage, page, TotalPages)
	}
	return nil
}

// ValidateField rejects empty or whitespace-only field ids
func ValidateField(fieldID string) error {
	if strings.TrimSpace(fieldID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidField)
	}
	return nil
}

// FoldRows merges the rows of a single page into a response set.
// LastModified is the newest UpdatedAt among the rows. Returns nil for no rows.
func FoldRows(page int, rows []ResponseRow) *PageResponseSet {
	if len(rows) == 0 {
		return nil
	}
	set := NewPageResponseSet(page)
	for _, row := range rows {
		set.Responses[row.FieldID] = row.Value
		if row.UpdatedAt.After(set.LastModified) {
			set.LastModified = row.UpdatedAt
		}
	}
	return set
}

// GroupRows groups rows by page, ordered by page ascending
func GroupRows(rows []ResponseRow) []PageResponseSet {
	byPage := map[int][]ResponseRow{}
	pages := make([]int, 0)
	for _, row := range rows {
		if _, ok := byPage[row.PageNumber]; !ok {
			pages = append(pages, row.PageNumber)
		}
		byPage[row.PageNumber] = append(byPage[row.PageNumber], row)
	}
	sort.Ints(pages)

	out := make([]PageResponseSet, 0, len(pages))
	for _, page := range pages {
		out = append(out, *FoldRows(page, byPage[page]))
	}
	return out
}

// FlattenSets turns local sets into rows owned by userID, each stamped with
// its set's LastModified
func FlattenSets(userID string, sets []PageResponseSet) []ResponseRow {
	rows := make([]ResponseRow, 0)
	for _, set := range sets {
		for _, fieldID := range set.FieldIDs() {
			rows = append(rows, ResponseRow{
				UserID:     userID,
				PageNumber: set.PageNumber,
				FieldID:    fieldID,
				Value:      set.Responses[fieldID],
				UpdatedAt:  set.LastModified,
			})
		}
	}
	return rows
}

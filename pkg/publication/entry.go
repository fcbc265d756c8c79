package publication

import (
	"fmt"
	"strings"
	"time"
)

// Entry is a raw publication as decoded from the registry. A nil field means
// the element was absent from the document.
type Entry struct {
	ID                *string
	PublicationDate   *string
	Title             *string
	Rubric            *string
	SubRubric         *string
	PublicationState  *string
	PrimaryTenantCode *string
	Cantons           *string
}

// Defaults is the value table used for absent entry fields.
type Defaults struct {
	ID                string
	Title             string
	Category          string
	Subcategory       string
	Status            string
	PrimaryTenantCode string
	Region            string
}

// DefaultValues substitutes Sentinel for every absent field.
var DefaultValues = Defaults{
	ID:                Sentinel,
	Title:             Sentinel,
	Category:          Sentinel,
	Subcategory:       Sentinel,
	Status:            Sentinel,
	PrimaryTenantCode: Sentinel,
	Region:            Sentinel,
}

// ParseError reports an entry field that could not be converted.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("parse %s %q", e.Field, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

var publicationDateLayouts = []string{
	DayLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

// NewRecord builds a fully populated Record from a raw entry. Absent text
// fields take their value from defaults. The publication date has no usable
// default and must parse; a missing or malformed date yields a *ParseError.
func NewRecord(e Entry, defaults Defaults) (Record, error) {
	rec := Record{
		ID:                orDefault(e.ID, defaults.ID),
		Title:             orDefault(e.Title, defaults.Title),
		Category:          orDefault(e.Rubric, defaults.Category),
		Subcategory:       orDefault(e.SubRubric, defaults.Subcategory),
		Status:            orDefault(e.PublicationState, defaults.Status),
		PrimaryTenantCode: orDefault(e.PrimaryTenantCode, defaults.PrimaryTenantCode),
		Region:            orDefault(e.Cantons, defaults.Region),
	}

	if e.PublicationDate == nil {
		return Record{}, &ParseError{Field: "publicationDate", Value: Sentinel}
	}
	date, err := parsePublicationDate(*e.PublicationDate)
	if err != nil {
		return Record{}, &ParseError{Field: "publicationDate", Value: *e.PublicationDate, Err: err}
	}
	rec.Date = date
	return rec, nil
}

func parsePublicationDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range publicationDateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return Day(t), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func orDefault(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

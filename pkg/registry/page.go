package registry

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/eunmann/shab-cache/pkg/publication"
)

// ErrMalformed marks a response body that is not a well-formed publication
// document.
var ErrMalformed = errors.New("malformed publication document")

// pageDocument mirrors the parts of the export document we read. The root
// element name varies between API versions and is ignored.
type pageDocument struct {
	Publications []struct {
		Meta *metaElement `xml:"meta"`
	} `xml:"publication"`
}

type metaElement struct {
	ID                *string `xml:"id"`
	PublicationDate   *string `xml:"publicationDate"`
	Title             *struct {
		De *string `xml:"de"`
	} `xml:"title"`
	Rubric            *string `xml:"rubric"`
	SubRubric         *string `xml:"subRubric"`
	PublicationState  *string `xml:"publicationState"`
	PrimaryTenantCode *string `xml:"primaryTenantCode"`
	Cantons           *string `xml:"cantons"`
}

// ParsePage decodes one page of the publication export. Publications without
// a meta element are skipped. Absent elements stay nil in the returned entries.
func ParsePage(r io.Reader) ([]publication.Entry, error) {
	var doc pageDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	entries := make([]publication.Entry, 0, len(doc.Publications))
	for _, p := range doc.Publications {
		m := p.Meta
		if m == nil {
			continue
		}
		e := publication.Entry{
			ID:                m.ID,
			PublicationDate:   m.PublicationDate,
			Rubric:            m.Rubric,
			SubRubric:         m.SubRubric,
			PublicationState:  m.PublicationState,
			PrimaryTenantCode: m.PrimaryTenantCode,
			Cantons:           m.Cantons,
		}
		if m.Title != nil {
			e.Title = m.Title.De
		}
		entries = append(entries, e)
	}
	return entries, nil
}

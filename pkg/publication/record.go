// Package publication defines the commercial-register publication record and
// the pure set operations (filter, dedup, span) applied to it.
package publication

import (
	"time"
)

// Sentinel replaces a field that is structurally absent in the source document.
const Sentinel = "--"

// Retained subcategories. Anything else is dropped at ingestion.
const (
	SubcategoryFoundation = "HR01"
	SubcategoryDeletion   = "HR03"
)

// Record is one published notice.
type Record struct {
	ID                string    `parquet:"id" json:"id"`
	Date              time.Time `parquet:"date,timestamp" json:"date"`
	Title             string    `parquet:"title" json:"title"`
	Category          string    `parquet:"category" json:"category"`
	Subcategory       string    `parquet:"subcategory" json:"subcategory"`
	Status            string    `parquet:"status" json:"status"`
	PrimaryTenantCode string    `parquet:"primary_tenant_code" json:"primary_tenant_code"`
	Region            string    `parquet:"region" json:"region"`
}

// Retained reports whether the record's subcategory survives the ingestion filter.
func (r Record) Retained() bool {
	return IsRetainedSubcategory(r.Subcategory)
}

// IsRetainedSubcategory reports whether code is one of the kept subcategories.
func IsRetainedSubcategory(code string) bool {
	return code == SubcategoryFoundation || code == SubcategoryDeletion
}

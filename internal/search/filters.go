package search

import (
	"github.com/Aman-CERP/recall/internal/document"
)

// FilterFunc reports whether a candidate document passes a filter.
type FilterFunc func(doc *document.Document) bool

// buildFilters creates one FilterFunc per set field. They are AND-ed.
func buildFilters(f Filters) []FilterFunc {
	var filters []FilterFunc

	if !f.From.IsZero() {
		from := f.From
		filters = append(filters, func(d *document.Document) bool { return !d.CreatedAt.Before(from) })
	}
	if !f.To.IsZero() {
		to := f.To
		filters = append(filters, func(d *document.Document) bool { return !d.CreatedAt.After(to) })
	}
	if len(f.Tags) > 0 {
		tags := f.Tags
		filters = append(filters, func(d *document.Document) bool { return d.Metadata.HasAllTags(tags) })
	}
	if f.Kind != "" {
		kind := f.Kind
		filters = append(filters, func(d *document.Document) bool { return d.Kind == kind })
	}
	if f.HasAttachment != nil {
		want := *f.HasAttachment
		filters = append(filters, func(d *document.Document) bool { return d.HasAttachment() == want })
	}
	if f.Session != "" {
		session := f.Session
		filters = append(filters, func(d *document.Document) bool { return d.SessionID == session })
	}

	return filters
}

// matchesAll checks a document against every filter.
func matchesAll(doc *document.Document, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(doc) {
			return false
		}
	}
	return true
}

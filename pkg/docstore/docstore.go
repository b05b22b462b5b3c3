// Package docstore defines the capability surface the progress subsystem
// needs from a document database: document CRUD plus a small paginated
// query language. Implementations live in the rest and memory
// subpackages; everything above this interface is backend-agnostic.
package docstore

import (
	"context"
	"encoding/json"
	"strings"
)

// Document is a single record in a collection. The database-assigned
// identifier and timestamps travel as $-prefixed system fields on the
// wire; application attributes live in Data.
type Document struct {
	ID        string
	CreatedAt string
	UpdatedAt string
	Data      map[string]any
}

// systemFields are hoisted out of Data when decoding.
const (
	fieldID        = "$id"
	fieldCreatedAt = "$createdAt"
	fieldUpdatedAt = "$updatedAt"
)

// MarshalJSON flattens the document into the wire shape, with system
// fields alongside the application attributes.
func (d Document) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(d.Data)+3)
	for k, v := range d.Data {
		flat[k] = v
	}
	if d.ID != "" {
		flat[fieldID] = d.ID
	}
	if d.CreatedAt != "" {
		flat[fieldCreatedAt] = d.CreatedAt
	}
	if d.UpdatedAt != "" {
		flat[fieldUpdatedAt] = d.UpdatedAt
	}
	return json.Marshal(flat)
}

// UnmarshalJSON splits system fields from application attributes.
func (d *Document) UnmarshalJSON(data []byte) error {
	flat := map[string]any{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	d.ID, _ = flat[fieldID].(string)
	d.CreatedAt, _ = flat[fieldCreatedAt].(string)
	d.UpdatedAt, _ = flat[fieldUpdatedAt].(string)
	delete(flat, fieldID)
	delete(flat, fieldCreatedAt)
	delete(flat, fieldUpdatedAt)
	d.Data = flat
	return nil
}

// String returns the named attribute as a string, or "" when absent or of
// another type.
func (d Document) String(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

// Float returns the named attribute as a float64. JSON numbers decode as
// float64; int values from in-memory stores are widened.
func (d Document) Float(field string) float64 {
	switch v := d.Data[field].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// Int returns the named attribute truncated to an int.
func (d Document) Int(field string) int {
	return int(d.Float(field))
}

// Clone returns a deep-enough copy for single-level attribute maps.
func (d Document) Clone() Document {
	data := make(map[string]any, len(d.Data))
	for k, v := range d.Data {
		data[k] = v
	}
	out := d
	out.Data = data
	return out
}

// List is one page of documents. Total is advisory; backends may omit it,
// so pagination never depends on it.
type List struct {
	Total     int        `json:"total,omitempty"`
	Documents []Document `json:"documents"`
}

// Store is the document database capability surface.
type Store interface {
	// ListDocuments returns one page of documents matching the queries.
	ListDocuments(ctx context.Context, databaseID, collectionID string, queries []Query) (*List, error)

	// CreateDocument persists a new document under the given id and
	// returns the stored form including system fields.
	CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any, permissions []string) (*Document, error)

	// UpdateDocument applies a partial update to an existing document.
	UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any, permissions []string) (*Document, error)

	// DeleteDocument removes a document permanently.
	DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error
}

// DefaultPageSize is the page size ListAll requests per call.
const DefaultPageSize = 100

// ListAll pages through every document matching the filters, in
// first-seen order, using the last-seen document id as a stable cursor.
// It stops when a page comes back empty or short of the requested size,
// and deliberately ignores the advisory total so that backends which omit
// it paginate identically.
func ListAll(ctx context.Context, s Store, databaseID, collectionID string, filters []Query) ([]Document, error) {
	var docs []Document
	cursor := ""
	for {
		queries := make([]Query, 0, len(filters)+2)
		queries = append(queries, filters...)
		queries = append(queries, Limit(DefaultPageSize))
		if cursor != "" {
			queries = append(queries, CursorAfter(cursor))
		}
		page, err := s.ListDocuments(ctx, databaseID, collectionID, queries)
		if err != nil {
			return nil, err
		}
		docs = append(docs, page.Documents...)
		if len(page.Documents) < DefaultPageSize {
			return docs, nil
		}
		cursor = page.Documents[len(page.Documents)-1].ID
	}
}

// Query is one encoded query primitive, in the backend's string syntax.
type Query string

// Equal filters documents whose attribute equals any of the values.
func Equal(attribute string, values ...any) Query {
	encoded := make([]string, 0, len(values))
	for _, v := range values {
		b, _ := json.Marshal(v)
		encoded = append(encoded, string(b))
	}
	return Query(`equal("` + attribute + `", [` + strings.Join(encoded, ",") + `])`)
}

// Limit caps the page size of a list call.
func Limit(n int) Query {
	b, _ := json.Marshal(n)
	return Query("limit(" + string(b) + ")")
}

// CursorAfter resumes a listing after the document with the given id.
func CursorAfter(documentID string) Query {
	b, _ := json.Marshal(documentID)
	return Query("cursorAfter(" + string(b) + ")")
}

// Package memory provides an in-memory docstore.Store used by tests and
// by the local-only mode of the progress controller. It honors the same
// query primitives as the REST backend, including cursor pagination, and
// can inject failures for degradation tests.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cdcmanual/progresskit/pkg/docstore"
)

type record struct {
	doc         docstore.Document
	permissions []string
}

// Store is an in-memory document database. The zero value is not usable;
// call New.
type Store struct {
	mu          sync.Mutex
	collections map[string][]*record

	// OmitTotal drops the advisory total from list responses, mimicking
	// backends that do not count matches.
	OmitTotal bool

	// Err, when set, is returned by every operation. Used to exercise the
	// degrade-to-local-only paths.
	Err error

	listCalls int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{collections: make(map[string][]*record)}
}

func key(databaseID, collectionID string) string {
	return databaseID + "/" + collectionID
}

// ListCalls reports how many ListDocuments calls the store has served.
func (s *Store) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// Permissions returns the grant strings stored with a document.
func (s *Store) Permissions(databaseID, collectionID, documentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.collections[key(databaseID, collectionID)] {
		if rec.doc.ID == documentID {
			return append([]string(nil), rec.permissions...)
		}
	}
	return nil
}

var (
	equalRe  = regexp.MustCompile(`^equal\("([^"]+)", \[(.*)\]\)$`)
	limitRe  = regexp.MustCompile(`^limit\((\d+)\)$`)
	cursorRe = regexp.MustCompile(`^cursorAfter\("(.*)"\)$`)
)

type parsedQueries struct {
	equals map[string][]string
	limit  int
	cursor string
}

func parseQueries(queries []docstore.Query) (parsedQueries, error) {
	p := parsedQueries{equals: map[string][]string{}, limit: docstore.DefaultPageSize}
	for _, q := range queries {
		raw := string(q)
		switch {
		case equalRe.MatchString(raw):
			m := equalRe.FindStringSubmatch(raw)
			for _, v := range strings.Split(m[2], ",") {
				p.equals[m[1]] = append(p.equals[m[1]], strings.Trim(strings.TrimSpace(v), `"`))
			}
		case limitRe.MatchString(raw):
			n, _ := strconv.Atoi(limitRe.FindStringSubmatch(raw)[1])
			p.limit = n
		case cursorRe.MatchString(raw):
			p.cursor = cursorRe.FindStringSubmatch(raw)[1]
		default:
			return p, fmt.Errorf("unsupported query: %s", raw)
		}
	}
	return p, nil
}

func matches(doc docstore.Document, equals map[string][]string) bool {
	for attr, values := range equals {
		got := fmt.Sprintf("%v", doc.Data[attr])
		ok := false
		for _, want := range values {
			if got == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// ListDocuments returns one page of matching documents in insertion order.
func (s *Store) ListDocuments(ctx context.Context, databaseID, collectionID string, queries []docstore.Query) (*docstore.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.Err != nil {
		return nil, s.Err
	}

	p, err := parseQueries(queries)
	if err != nil {
		return nil, err
	}

	var matched []docstore.Document
	for _, rec := range s.collections[key(databaseID, collectionID)] {
		if matches(rec.doc, p.equals) {
			matched = append(matched, rec.doc.Clone())
		}
	}

	start := 0
	if p.cursor != "" {
		for i, doc := range matched {
			if doc.ID == p.cursor {
				start = i + 1
				break
			}
		}
	}

	end := start + p.limit
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]

	list := &docstore.List{Documents: page}
	if !s.OmitTotal {
		list.Total = len(matched)
	}
	return list, nil
}

// CreateDocument stores a new document. An empty documentID gets a
// generated UUID.
func (s *Store) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any, permissions []string) (*docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if documentID == "" {
		documentID = uuid.NewString()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	doc := docstore.Document{ID: documentID, CreatedAt: now, UpdatedAt: now, Data: copyData(data)}
	k := key(databaseID, collectionID)
	s.collections[k] = append(s.collections[k], &record{doc: doc, permissions: permissions})
	out := doc.Clone()
	return &out, nil
}

// UpdateDocument merges the given attributes into an existing document.
func (s *Store) UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any, permissions []string) (*docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, rec := range s.collections[key(databaseID, collectionID)] {
		if rec.doc.ID != documentID {
			continue
		}
		for k, v := range data {
			rec.doc.Data[k] = v
		}
		rec.doc.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		if len(permissions) > 0 {
			rec.permissions = permissions
		}
		out := rec.doc.Clone()
		return &out, nil
	}
	return nil, fmt.Errorf("document %s not found in %s", documentID, collectionID)
}

// DeleteDocument removes a document permanently.
func (s *Store) DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	k := key(databaseID, collectionID)
	recs := s.collections[k]
	for i, rec := range recs {
		if rec.doc.ID == documentID {
			s.collections[k] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("document %s not found in %s", documentID, collectionID)
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

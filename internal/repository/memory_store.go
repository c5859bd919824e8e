package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"CalibrationMonitorAPI/internal/models"
)

// MemoryDocumentStore is a process-local DocumentStore used by tests and the CLI dry runs.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]Document
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]map[string]Document)}
}

func cloneDocument(d Document) Document {
	d.Body = append([]byte(nil), d.Body...)
	return d
}

func (s *MemoryDocumentStore) Get(ctx context.Context, collection, key string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[collection][key]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", collection, key, models.ErrNotFound)
	}
	out := cloneDocument(d)
	return &out, nil
}

func (s *MemoryDocumentStore) Put(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeLocked(doc)
	return nil
}

func (s *MemoryDocumentStore) writeLocked(doc *Document) {
	coll, ok := s.docs[doc.Collection]
	if !ok {
		coll = make(map[string]Document)
		s.docs[doc.Collection] = coll
	}

	doc.Version = coll[doc.Key].Version + 1
	doc.UpdatedAt = time.Now().UTC()
	coll[doc.Key] = cloneDocument(*doc)
}

func (s *MemoryDocumentStore) Merge(ctx context.Context, doc *Document) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := mergeBodies(s.docs[doc.Collection][doc.Key].Body, doc.Body)
	if err != nil {
		return nil, err
	}

	merged := &Document{
		Collection: doc.Collection,
		Partition:  doc.Partition,
		Key:        doc.Key,
		Body:       body,
	}
	s.writeLocked(merged)
	return merged, nil
}

func (s *MemoryDocumentStore) CompareAndSwap(ctx context.Context, doc *Document, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.docs[doc.Collection][doc.Key].Version; current != expectedVersion {
		return fmt.Errorf("%s %s at version %d: %w", doc.Collection, doc.Key, expectedVersion, models.ErrVersionConflict)
	}

	s.writeLocked(doc)
	return nil
}

func (s *MemoryDocumentStore) List(ctx context.Context, collection, partition string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for _, d := range s.docs[collection] {
		if d.Partition == partition {
			out = append(out, cloneDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryDocumentStore) Partitions(ctx context.Context, collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, d := range s.docs[collection] {
		if _, ok := seen[d.Partition]; ok {
			continue
		}
		seen[d.Partition] = struct{}{}
		out = append(out, d.Partition)
	}
	sort.Strings(out)
	return out, nil
}

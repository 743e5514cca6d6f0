// Package memory provides an in-memory implementation of the storage
// interfaces. It backs tests and embedded use; semantics match the
// sqlite store, including the unique active-name constraint and the
// link-preserving upsert.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/agentstation/utc"

	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/storage"
)

// Store is an in-memory storage.Store.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	records  map[catalog.RecordKey]catalog.ExternalRecord
	software map[int64]catalog.Software
	links    map[int64][]catalog.SimilarityLink
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:   1,
		records:  make(map[catalog.RecordKey]catalog.ExternalRecord),
		software: make(map[int64]catalog.Software),
		links:    make(map[int64][]catalog.SimilarityLink),
	}
}

// ExternalRecords returns the external record store.
func (s *Store) ExternalRecords() storage.ExternalRecordStore {
	return records{s}
}

// Software returns the canonical entity store.
func (s *Store) Software() storage.SoftwareStore {
	return softwares{s}
}

// Similarities returns the similarity link store.
func (s *Store) Similarities() storage.SimilarityStore {
	return similarities{s}
}

// Close releases nothing; it exists to satisfy storage.Store.
func (s *Store) Close() error {
	return nil
}

type records struct{ s *Store }

func (r records) Upsert(_ context.Context, record *catalog.ExternalRecord) error {
	if record.SourceSlug == "" || record.ExternalID == "" {
		return errors.NewValidationError("key", record.Key(), "record key must be complete")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := *record
	if existing, ok := r.s.records[record.Key()]; ok && stored.SoftwareID == nil {
		// Linkage survives a data refresh.
		stored.SoftwareID = existing.SoftwareID
	}
	r.s.records[record.Key()] = stored
	return nil
}

func (r records) Get(_ context.Context, key catalog.RecordKey) (*catalog.ExternalRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.records[key]
	if !ok {
		return nil, errors.NewNotFoundError("external record", key.SourceSlug+"/"+key.ExternalID)
	}
	out := rec
	return &out, nil
}

func (r records) BySoftware(_ context.Context, softwareID int64) ([]catalog.ExternalRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []catalog.ExternalRecord
	for _, rec := range r.s.records {
		if rec.SoftwareID != nil && *rec.SoftwareID == softwareID {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (r records) Keys(_ context.Context) ([]catalog.RecordKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	keys := make([]catalog.RecordKey, 0, len(r.s.records))
	for key := range r.s.records {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys, nil
}

func (r records) StaleKeys(_ context.Context, cutoff time.Time) ([]catalog.RecordKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var keys []catalog.RecordKey
	for key, rec := range r.s.records {
		if rec.LastFetchAt == nil || rec.LastFetchAt.Time.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	sortKeys(keys)
	return keys, nil
}

func (r records) Link(_ context.Context, key catalog.RecordKey, softwareID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.records[key]
	if !ok {
		return errors.NewNotFoundError("external record", key.SourceSlug+"/"+key.ExternalID)
	}
	rec.SoftwareID = &softwareID
	r.s.records[key] = rec
	return nil
}

func (r records) Unlink(_ context.Context, key catalog.RecordKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.records[key]
	if !ok {
		return errors.NewNotFoundError("external record", key.SourceSlug+"/"+key.ExternalID)
	}
	rec.SoftwareID = nil
	r.s.records[key] = rec
	return nil
}

func (r records) Touch(_ context.Context, key catalog.RecordKey, at utc.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.records[key]
	if !ok {
		return errors.NewNotFoundError("external record", key.SourceSlug+"/"+key.ExternalID)
	}
	rec.LastFetchAt = &at
	r.s.records[key] = rec
	return nil
}

func (r records) WithIdentifierSubject(_ context.Context, subjectURL, excludeSlug string) ([]catalog.ExternalRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []catalog.ExternalRecord
	for _, rec := range r.s.records {
		if rec.SourceSlug == excludeSlug || rec.SoftwareID == nil {
			continue
		}
		for _, ident := range rec.Identifiers {
			if ident.SubjectURL == subjectURL {
				out = append(out, rec)
				break
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (r records) All(_ context.Context) ([]catalog.ExternalRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]catalog.ExternalRecord, 0, len(r.s.records))
	for _, rec := range r.s.records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (r records) Delete(_ context.Context, key catalog.RecordKey) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.records[key]; !ok {
		return false, nil
	}
	delete(r.s.records, key)
	return true, nil
}

type softwares struct{ s *Store }

func (w softwares) Create(_ context.Context, software *catalog.Software) (int64, error) {
	if software.Name == "" {
		return 0, errors.NewValidationError("name", software.Name, "software name must not be empty")
	}

	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	for _, existing := range w.s.software {
		if existing.Name == software.Name && existing.Dereferencing == nil {
			return 0, errors.ErrAlreadyExists
		}
	}

	id := w.s.nextID
	w.s.nextID++
	stored := *software
	stored.ID = id
	w.s.software[id] = stored
	software.ID = id
	return id, nil
}

func (w softwares) Get(_ context.Context, id int64) (*catalog.Software, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()

	sw, ok := w.s.software[id]
	if !ok {
		return nil, errors.NewNotFoundError("software", itoa(id))
	}
	out := sw
	return &out, nil
}

func (w softwares) GetByName(_ context.Context, name string) (*catalog.Software, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()

	for _, sw := range w.s.software {
		if sw.Name == name && sw.Dereferencing == nil {
			out := sw
			return &out, nil
		}
	}
	return nil, errors.NewNotFoundError("software", name)
}

func (w softwares) Update(_ context.Context, software *catalog.Software) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	if _, ok := w.s.software[software.ID]; !ok {
		return errors.NewNotFoundError("software", itoa(software.ID))
	}
	w.s.software[software.ID] = *software
	return nil
}

func (w softwares) List(_ context.Context, opts storage.ListOptions) ([]catalog.Software, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()

	var out []catalog.Software
	for _, sw := range w.s.software {
		if !opts.IncludeDereferenced && sw.Dereferencing != nil {
			continue
		}
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (w softwares) Dereference(_ context.Context, id int64, reason string, at utc.Time) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	sw, ok := w.s.software[id]
	if !ok {
		return errors.NewNotFoundError("software", itoa(id))
	}
	sw.Dereferencing = &catalog.Dereferencing{Reason: reason, Time: at}
	sw.UpdatedAt = at
	w.s.software[id] = sw
	return nil
}

type similarities struct{ s *Store }

func (l similarities) Replace(_ context.Context, softwareID int64, links []catalog.SimilarityLink) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if len(links) == 0 {
		delete(l.s.links, softwareID)
		return nil
	}
	stored := make([]catalog.SimilarityLink, len(links))
	copy(stored, links)
	l.s.links[softwareID] = stored
	return nil
}

func (l similarities) BySoftware(_ context.Context, softwareID int64) ([]catalog.SimilarityLink, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	stored := l.s.links[softwareID]
	out := make([]catalog.SimilarityLink, len(stored))
	copy(out, stored)
	return out, nil
}

func sortRecords(recs []catalog.ExternalRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SourceSlug != recs[j].SourceSlug {
			return recs[i].SourceSlug < recs[j].SourceSlug
		}
		return recs[i].ExternalID < recs[j].ExternalID
	})
}

func sortKeys(keys []catalog.RecordKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SourceSlug != keys[j].SourceSlug {
			return keys[i].SourceSlug < keys[j].SourceSlug
		}
		return keys[i].ExternalID < keys[j].ExternalID
	})
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

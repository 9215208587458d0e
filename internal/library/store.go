// Package library keeps the tracked games: CRUD, filtering, counts and
// whole-collection persistence under a single key.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"gametracker/backend/internal/kv"
)

// DefaultKey is the key the collection is persisted under.
const DefaultKey = "ps4_games"

// Listener receives the current filtered view and counts after every change.
type Listener interface {
	LibraryChanged(view []GameRecord, counts Counts)
}

// ConfirmFunc is the synchronous yes/no gate consulted before a delete.
type ConfirmFunc func(id int64) bool

// SaveResult describes what a save did.
type SaveResult struct {
	Record  GameRecord
	Created bool
	// Dropped is set when an update targeted an id that no longer exists.
	Dropped bool
}

// Store owns the ordered collection of records.
type Store struct {
	mu        sync.Mutex
	kv        kv.Store
	key       string
	now       func() time.Time
	log       *slog.Logger
	records   []GameRecord
	filter    Filter
	editing   *int64
	lastSync  time.Time
	listeners []Listener
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the persistence key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for recovered read failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithListener registers a listener at construction time.
func WithListener(l Listener) Option {
	return func(s *Store) { s.listeners = append(s.listeners, l) }
}

// NewStore returns an empty store persisting through kv. Call Load to read
// the persisted collection.
func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:      store,
		key:     DefaultKey,
		now:     time.Now,
		log:     slog.Default(),
		records: []GameRecord{},
		filter:  FilterAll,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddListener registers l for change notifications.
func (s *Store) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Load replaces the in-memory collection with the persisted one. A missing
// or unreadable value yields an empty collection.
func (s *Store) Load(ctx context.Context) {
	records := s.read(ctx)

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	s.notify()
}

func (s *Store) read(ctx context.Context) []GameRecord {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return []GameRecord{}
	}
	if err != nil {
		s.log.ErrorContext(ctx, "Error loading games", "key", s.key, "error", fmt.Errorf("%w: %w", ErrPersistenceRead, err))
		return []GameRecord{}
	}

	var records []GameRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.ErrorContext(ctx, "Error loading games", "key", s.key, "error", fmt.Errorf("%w: %w", ErrPersistenceRead, err))
		return []GameRecord{}
	}
	if records == nil {
		records = []GameRecord{}
	}
	return records
}

func (s *Store) persist(ctx context.Context, records []GameRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceWrite, err)
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceWrite, err)
	}
	return nil
}

// SeedIfEmpty installs the demo records into an empty collection and
// persists them. It reports whether seeding happened.
func (s *Store) SeedIfEmpty(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if len(s.records) > 0 {
		s.mu.Unlock()
		return false, nil
	}
	demo := DemoRecords()
	if err := s.persist(ctx, demo); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.records = demo
	s.mu.Unlock()

	s.notify()
	return true, nil
}

// BeginCreate clears the editing marker so the next Save creates a record.
func (s *Store) BeginCreate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = nil
}

// BeginEdit marks the record with id as being edited and returns it.
// The marker is left untouched when no such record exists.
func (s *Store) BeginEdit(id int64) (GameRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx == -1 {
		return GameRecord{}, false
	}
	s.editing = &id
	return s.records[idx], true
}

// CancelEdit clears the editing marker without saving.
func (s *Store) CancelEdit() {
	s.BeginCreate()
}

// Editing returns the id being edited, if any.
func (s *Store) Editing() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing == nil {
		return 0, false
	}
	return *s.editing, true
}

// Save creates or updates a record depending on the editing marker, persists
// the collection and clears the marker. A rejected draft leaves everything,
// the marker included, unchanged.
func (s *Store) Save(ctx context.Context, d Draft) (SaveResult, error) {
	s.mu.Lock()
	res, err := s.saveLocked(ctx, s.editing, d)
	if err == nil {
		s.editing = nil
	}
	s.mu.Unlock()

	if err != nil {
		return SaveResult{}, err
	}
	s.notify()
	return res, nil
}

// Create appends a new record built from d.
func (s *Store) Create(ctx context.Context, d Draft) (GameRecord, error) {
	s.mu.Lock()
	res, err := s.saveLocked(ctx, nil, d)
	s.mu.Unlock()

	if err != nil {
		return GameRecord{}, err
	}
	s.notify()
	return res.Record, nil
}

// Update replaces every field of record id with d. An unknown id is
// silently dropped and reported through SaveResult.Dropped.
func (s *Store) Update(ctx context.Context, id int64, d Draft) (SaveResult, error) {
	s.mu.Lock()
	res, err := s.saveLocked(ctx, &id, d)
	s.mu.Unlock()

	if err != nil {
		return SaveResult{}, err
	}
	s.notify()
	return res, nil
}

func (s *Store) saveLocked(ctx context.Context, editing *int64, d Draft) (SaveResult, error) {
	d, err := normalize(d)
	if err != nil {
		return SaveResult{}, err
	}

	now := s.now()
	rec := GameRecord{
		Title:       d.Title,
		Status:      d.Status,
		Progress:    d.Progress,
		Notes:       d.Notes,
		Hours:       d.Hours,
		LastUpdated: now.UTC().Truncate(time.Millisecond),
	}

	next := slices.Clone(s.records)
	res := SaveResult{}
	if editing != nil {
		rec.ID = *editing
		if idx := s.indexOf(rec.ID); idx != -1 {
			next[idx] = rec
		} else {
			res.Dropped = true
		}
	} else {
		rec.ID = nextID(now, s.records)
		next = append(next, rec)
		res.Created = true
	}
	res.Record = rec

	if err := s.persist(ctx, next); err != nil {
		return SaveResult{}, err
	}
	s.records = next
	return res, nil
}

func normalize(d Draft) (Draft, error) {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return d, &ValidationError{Field: "title", Message: "Please enter a game title"}
	}
	if d.Status == "" {
		d.Status = StatusPlaying
	}
	if !d.Status.Valid() {
		return d, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", d.Status)}
	}
	if d.Progress < 0 || d.Progress > 100 {
		return d, &ValidationError{Field: "progress", Message: "must be between 0 and 100"}
	}
	if d.Hours < 0 || math.IsNaN(d.Hours) || math.IsInf(d.Hours, 0) {
		return d, &ValidationError{Field: "hours", Message: "must be a non-negative number"}
	}
	return d, nil
}

// Delete removes the record with id once confirm agrees. It reports whether
// a record was removed; a declined or unknown id changes nothing.
func (s *Store) Delete(ctx context.Context, id int64, confirm ConfirmFunc) (bool, error) {
	if confirm == nil || !confirm(id) {
		return false, nil
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx == -1 {
		s.mu.Unlock()
		return false, nil
	}
	next := slices.Delete(slices.Clone(s.records), idx, idx+1)
	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.records = next
	if s.editing != nil && *s.editing == id {
		s.editing = nil
	}
	s.mu.Unlock()

	s.notify()
	return true, nil
}

// Get returns the record with id.
func (s *Store) Get(id int64) (GameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx == -1 {
		return GameRecord{}, ErrNotFound
	}
	return s.records[idx], nil
}

// Records returns a copy of the whole collection in insertion order.
func (s *Store) Records() []GameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Filter returns the records matching f in insertion order.
func (s *Store) Filter(f Filter) []GameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterRecords(s.records, f)
}

func filterRecords(records []GameRecord, f Filter) []GameRecord {
	out := make([]GameRecord, 0, len(records))
	for _, r := range records {
		if f.Matches(r.Status) {
			out = append(out, r)
		}
	}
	return out
}

// SetFilter changes the current filter and re-renders the view.
func (s *Store) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
	s.notify()
}

// CurrentFilter returns the filter applied by View.
func (s *Store) CurrentFilter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// View returns the records matching the current filter.
func (s *Store) View() []GameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterRecords(s.records, s.filter)
}

// Counts scans the collection and counts records per status.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countRecords(s.records)
}

func countRecords(records []GameRecord) Counts {
	var c Counts
	for _, r := range records {
		c.add(r.Status)
	}
	return c
}

// Sync re-persists the collection and records the sync time.
func (s *Store) Sync(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	if err := s.persist(ctx, s.records); err != nil {
		s.mu.Unlock()
		return time.Time{}, err
	}
	s.lastSync = s.now()
	at := s.lastSync
	s.mu.Unlock()

	s.notify()
	return at, nil
}

// LastSync returns the time of the last successful Sync.
func (s *Store) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

func (s *Store) indexOf(id int64) int {
	return slices.IndexFunc(s.records, func(r GameRecord) bool { return r.ID == id })
}

func (s *Store) notify() {
	s.mu.Lock()
	view := filterRecords(s.records, s.filter)
	counts := countRecords(s.records)
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.LibraryChanged(view, counts)
	}
}

// nextID returns the current time in milliseconds, bumped past the highest
// id already in use so rapid creation never collides.
func nextID(now time.Time, records []GameRecord) int64 {
	id := now.UnixMilli()
	for _, r := range records {
		if r.ID >= id {
			id = r.ID + 1
		}
	}
	return id
}

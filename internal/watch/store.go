// Package watch keeps per-item state for pull requests the user asked to
// be notified about, and detects when they settle.
package watch

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/status"
)

const SchemaVersion = 1

type Record struct {
	Status     status.BuildStatus `json:"status"`
	ObservedAt time.Time          `json:"observed_at"`
}

type State struct {
	Version int               `json:"version"`
	Records map[string]Record `json:"records"`
}

type Persister interface {
	Load() (State, error)
	Save(State) error
}

// Store is safe for concurrent use, but Reconcile is expected to be driven
// by a single poll loop.
type Store struct {
	mu        sync.Mutex
	records   map[string]Record
	persister Persister
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore loads persisted state. A load failure is logged and the store
// starts empty.
func NewStore(p Persister, logger *slog.Logger) *Store {
	s := &Store{
		records:   make(map[string]Record),
		persister: p,
		logger:    logger,
		now:       time.Now,
	}
	if p == nil {
		return s
	}

	state, err := p.Load()
	if err != nil {
		logger.Warn("load watch state failed, starting empty", "err", err)
		return s
	}
	for id, rec := range state.Records {
		s.records[id] = rec
	}
	logger.Debug("loaded watch state", "watched", len(s.records))
	return s
}

// Watch starts tracking id. current is the status the item has right now,
// status.Unknown when it is not known.
func (s *Store) Watch(id string, current status.BuildStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		return
	}
	if current == "" {
		current = status.Unknown
	}
	s.records[id] = Record{Status: current, ObservedAt: s.now()}
	s.saveLocked()
}

func (s *Store) Unwatch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return
	}
	delete(s.records, id)
	s.saveLocked()
}

func (s *Store) IsWatched(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

// Watched returns a sorted copy of all watched ids.
func (s *Store) Watched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) Record(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Completed reports whether moving from prev to next counts as the
// item settling. Conflict and Inactive are not settled.
func Completed(prev, next status.BuildStatus) bool {
	if prev != status.Pending && prev != status.Unknown {
		return false
	}
	return next.IsSettled()
}

// Coverage says which watched ids absent from a fetch can be treated as
// closed. The zero value means the fetch saw every open pull request.
type Coverage struct {
	// Partial is set when a whole pipeline failed; nothing is pruned then.
	Partial bool
	// Skipped ids were listed as open but left out of the fetch.
	Skipped []string
}

func (c Coverage) mayPrune(id string) bool {
	return !c.Partial && !slices.Contains(c.Skipped, id)
}

// Reconcile compares every watched item in current against its stored
// status, returns the items that just settled, stores the new statuses and
// drops watched ids that are no longer open. An absent id survives when
// cov says it may only be missing because the fetch was incomplete.
func (s *Store) Reconcile(current []pr.Item, cov Coverage) []pr.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == 0 {
		return nil
	}

	now := s.now()
	seen := make(map[string]bool, len(current))
	var completed []pr.Item

	for _, item := range current {
		id := item.ID()
		// an id listed twice is evaluated once, against the pre-cycle value
		if seen[id] {
			continue
		}
		seen[id] = true
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if Completed(rec.Status, item.Status) {
			completed = append(completed, item)
		}
		s.records[id] = Record{Status: item.Status, ObservedAt: now}
	}

	for id := range s.records {
		if seen[id] {
			continue
		}
		if !cov.mayPrune(id) {
			s.logger.Debug("watched PR missing from partial fetch, keeping", "id", id)
			continue
		}
		s.logger.Info("watched PR no longer open, forgetting", "id", id)
		delete(s.records, id)
	}

	s.saveLocked()
	return completed
}

func (s *Store) saveLocked() {
	if s.persister == nil {
		return
	}
	state := State{Version: SchemaVersion, Records: make(map[string]Record, len(s.records))}
	for id, rec := range s.records {
		state.Records[id] = rec
	}
	if err := s.persister.Save(state); err != nil {
		s.logger.Error("save watch state failed", "err", err)
	}
}

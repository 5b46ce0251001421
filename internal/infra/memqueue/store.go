package memqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ai-request-queue/internal/domain"
	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/ports/repository"
)

var _ repository.QueueStore = (*Store)(nil)

type item struct {
	data    []byte
	modTime time.Time
}

// Store is an in-memory QueueStore. ListErr and MoveErr let tests inject
// directory-level and per-record failures.
type Store struct {
	mu     sync.Mutex
	states map[model.QueueState]map[string]item
	now    func() time.Time

	ListErr map[model.QueueState]error
	MoveErr map[string]error
}

func New() *Store {
	s := &Store{
		states:  make(map[model.QueueState]map[string]item, len(model.AllStates)),
		now:     time.Now,
		ListErr: map[model.QueueState]error{},
		MoveErr: map[string]error{},
	}
	for _, st := range model.AllStates {
		s.states[st] = map[string]item{}
	}
	return s
}

// Put stores data with an explicit modification time.
func (s *Store) Put(state model.QueueState, id string, data []byte, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state][id] = item{data: append([]byte(nil), data...), modTime: modTime}
}

// Has reports whether id is currently stored under state.
func (s *Store) Has(state model.QueueState, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[state][id]
	return ok
}

// Remove deletes a record, as a worker finishing elsewhere would.
func (s *Store) Remove(state model.QueueState, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states[state], id)
}

func (s *Store) List(ctx context.Context, state model.QueueState) ([]model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ListErr[state]; err != nil {
		return nil, err
	}
	out := make([]model.Entry, 0, len(s.states[state]))
	for id, it := range s.states[state] {
		out = append(out, model.Entry{ID: id, State: state, ModTime: it.modTime, Size: int64(len(it.data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Read(ctx context.Context, state model.QueueState, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.states[state][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), it.data...), nil
}

func (s *Store) Write(ctx context.Context, state model.QueueState, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[state][id]; ok {
		return domain.ErrAlreadyExists
	}
	s.states[state][id] = item{data: append([]byte(nil), data...), modTime: s.now()}
	return nil
}

func (s *Store) Move(ctx context.Context, id string, from, to model.QueueState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.MoveErr[id]; err != nil {
		return fmt.Errorf("move %s %s->%s: %w", id, from, to, err)
	}
	it, ok := s.states[from][id]
	if !ok {
		return domain.ErrNotFound
	}
	if _, exists := s.states[to][id]; exists {
		return fmt.Errorf("move %s %s->%s: %w", id, from, to, domain.ErrAlreadyExists)
	}
	delete(s.states[from], id)
	// A rename keeps the modification time.
	s.states[to][id] = it
	return nil
}

func (s *Store) Touch(ctx context.Context, state model.QueueState, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.states[state][id]
	if !ok {
		return domain.ErrNotFound
	}
	it.modTime = at
	s.states[state][id] = it
	return nil
}

func (s *Store) Count(ctx context.Context, state model.QueueState) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ListErr[state]; err != nil {
		return 0, err
	}
	return len(s.states[state]), nil
}

package position

import (
	"fmt"
	"sort"
	"time"

	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/ports"
)

// Filter narrows a Query. Nil/empty fields match everything.
type Filter struct {
	Status *domain.PositionStatus
	Owner  string
	Symbol string
}

// Store keeps position records keyed by id and enforces the status state
// machine on every transition. Like the ledger, it is serialized by the
// engine's mutex; a single writer per position id is assumed.
type Store struct {
	logger    ports.Logger
	positions map[string]*domain.Position
}

// NewStore creates an empty position store.
func NewStore(logger ports.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for position store")
	}
	return &Store{
		logger:    logger,
		positions: make(map[string]*domain.Position),
	}, nil
}

// Load seeds the store from persisted state. Terminal positions are skipped;
// they belong to history, not the active set.
func (s *Store) Load(positions []*domain.Position) {
	for _, p := range positions {
		if p == nil || p.Status.IsTerminal() {
			continue
		}
		s.positions[p.ID] = p.Clone()
	}
}

// Create adds a new position, failing on id collision.
func (s *Store) Create(pos *domain.Position) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position must have an id: %w", ports.ErrInvalidRequest)
	}
	if _, exists := s.positions[pos.ID]; exists {
		return fmt.Errorf("position %s: %w", pos.ID, ports.ErrDuplicatePosition)
	}
	s.positions[pos.ID] = pos.Clone()
	return nil
}

// Get returns a copy of the position with the given id.
func (s *Store) Get(id string) (*domain.Position, error) {
	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ports.ErrPositionNotFound)
	}
	return p.Clone(), nil
}

// Query returns copies of all positions matching the filter, ordered by
// creation time ascending for deterministic iteration.
func (s *Store) Query(f Filter) []*domain.Position {
	out := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		if f.Owner != "" && p.Owner != f.Owner {
			continue
		}
		if f.Symbol != "" && p.Symbol != f.Symbol {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// All returns copies of every active position.
func (s *Store) All() []*domain.Position {
	return s.Query(Filter{})
}

// Transition moves a position to newStatus, applying mutate (which may be
// nil) to the stored record first. The state machine permits open <-> updated
// and one-way moves into a terminal status; terminal states are absorbing.
// Transitioning a terminal position to its own status is an idempotent no-op
// (first-writer-wins on terminal status).
func (s *Store) Transition(id string, newStatus domain.PositionStatus, mutate func(*domain.Position)) (*domain.Position, error) {
	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ports.ErrPositionNotFound)
	}
	if p.Status.IsTerminal() {
		if p.Status == newStatus {
			return p.Clone(), nil
		}
		return p.Clone(), fmt.Errorf("position %s already %s, cannot move to %s: %w", id, p.Status, newStatus, ports.ErrInvalidTransition)
	}
	if !domain.CanTransition(p.Status, newStatus) {
		return nil, fmt.Errorf("position %s: %s -> %s: %w", id, p.Status, newStatus, ports.ErrInvalidTransition)
	}
	if mutate != nil {
		mutate(p)
	}
	p.Status = newStatus
	p.UpdatedAt = time.Now().UTC()
	if newStatus.IsTerminal() {
		p.ClosedAt = p.UpdatedAt
	}
	return p.Clone(), nil
}

// Open returns copies of every non-terminal position, the active set.
// Terminal positions stay resident so repeated close requests can answer
// idempotently, but they are excluded here and from persistence.
func (s *Store) Open() []*domain.Position {
	out := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if !p.Status.IsTerminal() {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OpenCountByOwner counts non-terminal positions owned by a strategy.
func (s *Store) OpenCountByOwner(owner string) int {
	count := 0
	for _, p := range s.positions {
		if p.Owner == owner && !p.Status.IsTerminal() {
			count++
		}
	}
	return count
}

package syncconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
)

type phase int

const (
	phaseUninitialized phase = iota
	phaseLoaded
)

// Store owns the single in-process copy of the sync configuration.
// The first access loads it from the backend; later reads are served from
// memory until Update persists a new value.
type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  *slog.Logger
	phase   phase
	state   State
}

// NewStore creates a store over backend.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger}
}

// Get returns the current configuration, loading it on first use.
// Load failures never reach the caller; defaults are used instead.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	return clone(s.state)
}

// Public returns the token-free projection of the current configuration.
func (s *Store) Public() PublicConfig {
	return s.Get().ToPublic()
}

// Update validates p, merges it, normalizes the result and persists it.
func (s *Store) Update(p Patch) (State, error) {
	if err := p.Validate(); err != nil {
		return State{}, fmt.Errorf("syncconfig: %v: %w", err, apperr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	next := Normalize(p.apply(clone(s.state)))
	if err := s.persist(next); err != nil {
		return State{}, err
	}
	s.state = next
	return clone(next), nil
}

func (s *Store) ensureLoaded() {
	if s.phase == phaseLoaded {
		return
	}
	s.phase = phaseLoaded
	s.state = Default()

	data, err := s.backend.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("syncconfig: load failed, using defaults", slog.String("error", err.Error()))
			return
		}
		if err := s.persist(s.state); err != nil {
			s.logger.Warn("syncconfig: write defaults failed", slog.String("error", err.Error()))
		}
		return
	}

	state, err := decode(data)
	if err != nil {
		s.logger.Warn("syncconfig: config is corrupt, using defaults", slog.String("error", err.Error()))
	}
	s.state = settleInterrupted(state)
}

// InterruptedMessage replaces a "running" status left by a process that
// exited mid-run.
const InterruptedMessage = "The previous sync was interrupted before it finished."

// settleInterrupted turns a persisted running status into an error. No run
// can be in flight when a process first loads the file.
func settleInterrupted(s State) State {
	if s.LastStatus == StatusRunning {
		s.LastStatus = StatusError
		s.LastMessage = InterruptedMessage
	}
	return s
}

func (s *Store) persist(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("syncconfig: encode: %w", err)
	}
	if err := s.backend.Save(data); err != nil {
		return fmt.Errorf("syncconfig: save: %w", err)
	}
	return nil
}

func clone(s State) State {
	s.LastConflictFiles = append([]string{}, s.LastConflictFiles...)
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		s.LastSyncAt = &t
	}
	return s
}

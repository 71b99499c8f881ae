package saga

import (
	"context"
	"sync"
	"time"
)

// State represents the lifecycle state of a saga transaction.
type State string

const (
	StatePending      State = "PENDING"
	StateRunning      State = "RUNNING"
	StateCompleted    State = "COMPLETED"
	StateCompensating State = "COMPENSATING"
	StateFailed       State = "FAILED"
)

// Step is a saga unit of work with a compensating action.
// Compensate is only invoked when a later step fails; it must be safe to
// call when Execute never ran.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Log is the persisted record of a saga execution.
type Log struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Steps       []string  `json:"steps"`
	CurrentStep int       `json:"currentStep"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists and loads saga logs for recovery/observability.
type Store interface {
	Save(ctx context.Context, log *Log) error
	Get(ctx context.Context, id string) (*Log, error)
	Update(ctx context.Context, log *Log) error
}

// MemoryStore is an in-process Store, used in tests and as a default.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string]*Log
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]*Log)}
}

func (s *MemoryStore) Save(ctx context.Context, log *Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *log
	s.logs[log.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return nil, ErrLogNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, log *Log) error {
	return s.Save(ctx, log)
}

package reliability

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEmptyMessageID is returned when an attempt is recorded without an identity.
var ErrEmptyMessageID = errors.New("attempt store: empty message id")

// AttemptRecord is the retry state of one message.
type AttemptRecord struct {
	MessageID string
	Queue     string
	Attempts  int
	LastError string
	FirstSeen time.Time
	LastSeen  time.Time
}

// AttemptStore persists retry state across redeliveries of the same message.
type AttemptStore interface {
	// Record increments the attempt count for messageID and returns the updated record.
	Record(ctx context.Context, messageID, queue string, err error) (AttemptRecord, error)
	// Get returns the current record.
	Get(ctx context.Context, messageID string) (AttemptRecord, bool, error)
	// Clear forgets messageID.
	Clear(ctx context.Context, messageID string) error
}

// InMemoryAttemptStore keeps attempts in process memory.
type InMemoryAttemptStore struct {
	records map[string]*AttemptRecord
	byQueue map[string]map[string]struct{}
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryAttemptStore creates an empty store.
func NewInMemoryAttemptStore() *InMemoryAttemptStore {
	return &InMemoryAttemptStore{
		records: make(map[string]*AttemptRecord),
		byQueue: make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

func (s *InMemoryAttemptStore) Record(_ context.Context, messageID, queue string, err error) (AttemptRecord, error) {
	if messageID == "" {
		return AttemptRecord{}, ErrEmptyMessageID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[messageID]
	if !ok {
		rec = &AttemptRecord{MessageID: messageID, Queue: queue, FirstSeen: now}
		s.records[messageID] = rec
		if s.byQueue[queue] == nil {
			s.byQueue[queue] = make(map[string]struct{})
		}
		s.byQueue[queue][messageID] = struct{}{}
	}
	rec.Attempts++
	rec.LastSeen = now
	if err != nil {
		rec.LastError = err.Error()
	}
	return *rec, nil
}

func (s *InMemoryAttemptStore) Get(_ context.Context, messageID string) (AttemptRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[messageID]
	if !ok {
		return AttemptRecord{}, false, nil
	}
	return *rec, true, nil
}

func (s *InMemoryAttemptStore) Clear(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(messageID)
	return nil
}

// PendingByQueue returns how many messages of queue are mid-retry.
func (s *InMemoryAttemptStore) PendingByQueue(queue string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byQueue[queue])
}

// Cleanup forgets records not seen for olderThan, e.g. messages that expired
// on the broker mid-retry.
func (s *InMemoryAttemptStore) Cleanup(_ context.Context, olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	toDelete := make([]string, 0)
	for id, rec := range s.records {
		if rec.LastSeen.Before(cutoff) {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		s.deleteLocked(id)
	}
	return len(toDelete)
}

func (s *InMemoryAttemptStore) deleteLocked(messageID string) {
	rec, ok := s.records[messageID]
	if !ok {
		return
	}
	if ids := s.byQueue[rec.Queue]; ids != nil {
		delete(ids, messageID)
		if len(ids) == 0 {
			delete(s.byQueue, rec.Queue)
		}
	}
	delete(s.records, messageID)
}

// Package ledger is the durable record of releases, keyed by source nonce.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"anchorebridge/types"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("ledger: record not found")
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	ErrInvalidRecord     = errors.New("ledger: invalid record")
)

type Store interface {
	Get(ctx context.Context, nonce string) (types.ReleaseRecord, error)
	// CreatePending stores rec as pending unless the nonce exists, in which
	// case the stored record is returned with created=false.
	CreatePending(ctx context.Context, rec types.ReleaseRecord) (stored types.ReleaseRecord, created bool, err error)
	// Update replaces the record if its stored status still equals prev
	Update(ctx context.Context, rec types.ReleaseRecord, prev types.ReleaseStatus) error
	ListByStatus(ctx context.Context, status types.ReleaseStatus) ([]types.ReleaseRecord, error)
}

// Cursor remembers how far a source chain was scanned
type Cursor interface {
	ScannedBlock(ctx context.Context, chainID uint64) (height uint64, ok bool, err error)
	SetScannedBlock(ctx context.Context, chainID uint64, height uint64) error
}

var transitions = map[types.ReleaseStatus][]types.ReleaseStatus{
	types.StatusPending:    {types.StatusPending, types.StatusDispatched, types.StatusFailed},
	types.StatusDispatched: {types.StatusConfirmed, types.StatusFailed},
	types.StatusFailed:     {types.StatusPending},
	types.StatusConfirmed:  {},
}

// CanTransition reports whether a record may move from one status to another.
// Confirmed is terminal, failed only goes back to pending by operator retry.
func CanTransition(from, to types.ReleaseStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PrepareNew fills id and timestamps and checks the record can be stored as pending
func PrepareNew(rec types.ReleaseRecord, now time.Time) (types.ReleaseRecord, error) {
	if rec.Nonce == "" {
		return rec, fmt.Errorf("%w: empty nonce", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.Status = types.StatusPending
	if rec.TsCreated == 0 {
		rec.TsCreated = now.Unix()
	}
	rec.TsUpdated = now.Unix()
	return rec, nil
}

func CheckUpdate(current types.ReleaseRecord, rec types.ReleaseRecord, prev types.ReleaseStatus) error {
	if current.Status != prev {
		return fmt.Errorf("%w: nonce %s is %s, expected %s", ErrInvalidTransition, rec.Nonce, current.Status, prev)
	}
	if !CanTransition(prev, rec.Status) {
		return fmt.Errorf("%w: nonce %s %s -> %s", ErrInvalidTransition, rec.Nonce, prev, rec.Status)
	}
	if current.ID != rec.ID {
		return fmt.Errorf("%w: nonce %s id changed", ErrInvalidRecord, rec.Nonce)
	}
	return nil
}

// MemoryStore keeps records in process, used in tests and single-shot CLI runs
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]types.ReleaseRecord
	cursors map[uint64]uint64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]types.ReleaseRecord{},
		cursors: map[uint64]uint64{},
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, nonce string) (types.ReleaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[nonce]
	if !ok {
		return types.ReleaseRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) CreatePending(ctx context.Context, rec types.ReleaseRecord) (types.ReleaseRecord, bool, error) {
	rec, err := PrepareNew(rec, s.now())
	if err != nil {
		return types.ReleaseRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.Nonce]; ok {
		return existing, false, nil
	}
	s.records[rec.Nonce] = rec
	return rec, true, nil
}

func (s *MemoryStore) Update(ctx context.Context, rec types.ReleaseRecord, prev types.ReleaseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[rec.Nonce]
	if !ok {
		return ErrNotFound
	}
	if err := CheckUpdate(current, rec, prev); err != nil {
		return err
	}
	rec.TsUpdated = s.now().Unix()
	s.records[rec.Nonce] = rec
	return nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status types.ReleaseStatus) ([]types.ReleaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ReleaseRecord, 0)
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsCreated < out[j].TsCreated || (out[i].TsCreated == out[j].TsCreated && out[i].Nonce < out[j].Nonce) })
	return out, nil
}

func (s *MemoryStore) ScannedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.cursors[chainID]
	return h, ok, nil
}

func (s *MemoryStore) SetScannedBlock(ctx context.Context, chainID uint64, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[chainID] = height
	return nil
}

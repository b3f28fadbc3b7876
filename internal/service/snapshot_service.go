package service

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"tick_book/internal/domain"
)

var bpsFactor = decimal.NewFromInt(10000)

// Quote is the top of book derived from the latest snapshot.
type Quote struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Mid       decimal.Decimal
	SpreadBps decimal.Decimal
}

// SnapshotService holds the latest snapshot per symbol for live readers.
type SnapshotService struct {
	mu     sync.RWMutex
	latest map[string]domain.Snapshot
	count  uint64
}

// NewSnapshotService creates a new SnapshotService instance
func NewSnapshotService() *SnapshotService {
	return &SnapshotService{
		latest: make(map[string]domain.Snapshot),
	}
}

// Update stores snap as the latest for its symbol. It matches the sequencer's
// snapshot callback.
func (s *SnapshotService) Update(snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[snap.Symbol] = snap
	s.count++
	return nil
}

// Get returns the latest snapshot for a specific symbol
func (s *SnapshotService) Get(symbol string) (domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.latest[symbol]
	return snap, ok
}

// GetAll returns all latest snapshots sorted by symbol
func (s *SnapshotService) GetAll() []domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Snapshot, 0, len(s.latest))
	for _, snap := range s.latest {
		result = append(result, snap)
	}

	// Sort by symbol for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result
}

// Count returns the number of snapshots received.
func (s *SnapshotService) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Quote returns the top of book. ok is false unless both sides are present.
func (s *SnapshotService) Quote(symbol string) (Quote, bool) {
	snap, ok := s.Get(symbol)
	if !ok {
		return Quote{}, false
	}
	bid, okB := snap.BestBid()
	ask, okA := snap.BestAsk()
	if !okB || !okA {
		return Quote{}, false
	}

	q := Quote{
		Symbol: symbol,
		Bid:    bid.Price.Decimal(),
		Ask:    ask.Price.Decimal(),
	}
	q.Mid = q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	if !q.Mid.IsZero() {
		q.SpreadBps = q.Ask.Sub(q.Bid).Div(q.Mid).Mul(bpsFactor)
	}
	return q, true
}

// Package testsupport provides in-memory collaborators for package tests.
package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"genflow/internal/domain"
)

// MemoryStore implements domain.WorkflowRepository and domain.LedgerStore
// with the same compare-and-swap semantics as the PostgreSQL adapter.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[string]*domain.WorkflowInstance
	segments  map[string][]domain.Segment
	balances  map[string]int
	emails    map[string]string
	txs       []domain.CreditTransaction
	now       func() time.Time

	// Failure injection.
	SaveErr        error
	SaveSegmentErr error
	CreateErr      error
	DebitErr       error
	CreditErr      error
	ListDueErr     error

	Saves        int
	SegmentSaves int
}

// NewMemoryStore returns an empty store whose timestamps come from now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		instances: make(map[string]*domain.WorkflowInstance),
		segments:  make(map[string][]domain.Segment),
		balances:  make(map[string]int),
		emails:    make(map[string]string),
		now:       now,
	}
}

// Seed inserts an instance and its segments verbatim, bypassing Create.
func (s *MemoryStore) Seed(inst domain.WorkflowInstance, segments ...domain.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := inst.Clone()
	s.instances[inst.ID] = &c
	s.segments[inst.ID] = domain.CloneSegments(segments)
}

// SetBalance seeds a user's balance with a purchase transaction so the
// balance equals the sum of transactions.
func (s *MemoryStore) SetBalance(userID string, balance int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
	s.txs = append(s.txs, domain.CreditTransaction{
		ID:          fmt.Sprintf("seed-%s", userID),
		UserID:      userID,
		Type:        domain.TransactionPurchase,
		Amount:      balance,
		Description: "seed",
		CreatedAt:   s.now(),
	})
}

// SetEmail registers an email lookup.
func (s *MemoryStore) SetEmail(email, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[email] = userID
}

// Instance returns a copy of the stored instance.
func (s *MemoryStore) Instance(id string) domain.WorkflowInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return domain.WorkflowInstance{}
	}
	return inst.Clone()
}

// Segment returns a copy of the stored segment at index.
func (s *MemoryStore) Segment(projectID string, index int) domain.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments[projectID] {
		if seg.SegmentIndex == index {
			return seg.Clone()
		}
	}
	return domain.Segment{}
}

// TransactionsFor returns every transaction of a user in insertion order.
func (s *MemoryStore) TransactionsFor(userID string) []domain.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CreditTransaction
	for _, tx := range s.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out
}

func (s *MemoryStore) Create(ctx context.Context, inst *domain.WorkflowInstance, segments []domain.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if _, exists := s.instances[inst.ID]; exists {
		return fmt.Errorf("instance %s already exists", inst.ID)
	}
	now := s.now()
	inst.CreatedAt, inst.UpdatedAt = now, now
	inst.Version = 1
	c := inst.Clone()
	s.instances[inst.ID] = &c
	segs := domain.CloneSegments(segments)
	for i := range segs {
		segs[i].Version = 1
		segs[i].CreatedAt, segs[i].UpdatedAt = now, now
	}
	s.segments[inst.ID] = segs
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := inst.Clone()
	return &c, nil
}

func (s *MemoryStore) ListDue(ctx context.Context, statuses []domain.WorkflowStatus, limit int) ([]domain.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListDueErr != nil {
		return nil, s.ListDueErr
	}
	wanted := make(map[domain.WorkflowStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var out []domain.WorkflowInstance
	for _, inst := range s.instances {
		if wanted[inst.Status] {
			out = append(out, inst.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastProcessedAt, out[j].LastProcessedAt
		switch {
		case a == nil && b == nil:
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		case a == nil:
			return true
		case b == nil:
			return false
		case a.Equal(*b):
			return out[i].ID < out[j].ID
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, inst *domain.WorkflowInstance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return false, s.SaveErr
	}
	cur, ok := s.instances[inst.ID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if cur.Version != inst.Version {
		return false, nil
	}
	inst.Version++
	inst.UpdatedAt = s.now()
	c := inst.Clone()
	s.instances[inst.ID] = &c
	s.Saves++
	return true, nil
}

func (s *MemoryStore) ListSegments(ctx context.Context, projectID string) ([]domain.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := domain.CloneSegments(s.segments[projectID])
	sort.Slice(segs, func(i, j int) bool { return segs[i].SegmentIndex < segs[j].SegmentIndex })
	return segs, nil
}

func (s *MemoryStore) SaveSegment(ctx context.Context, seg *domain.Segment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveSegmentErr != nil {
		return false, s.SaveSegmentErr
	}
	segs := s.segments[seg.ProjectID]
	for i := range segs {
		if segs[i].ID != seg.ID {
			continue
		}
		if segs[i].Version != seg.Version {
			return false, nil
		}
		seg.Version++
		seg.UpdatedAt = s.now()
		segs[i] = seg.Clone()
		s.SegmentSaves++
		return true, nil
	}
	return false, domain.ErrNotFound
}

func (s *MemoryStore) Debit(ctx context.Context, tx domain.CreditTransaction) (domain.LedgerEntry, bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DebitErr != nil {
		return domain.LedgerEntry{}, false, 0, s.DebitErr
	}
	balance := s.balances[tx.UserID]
	if balance < -tx.Amount {
		return domain.LedgerEntry{}, false, balance, nil
	}
	balance += tx.Amount
	s.balances[tx.UserID] = balance
	tx.CreatedAt = s.now()
	s.txs = append(s.txs, tx)
	return domain.LedgerEntry{Transaction: tx, BalanceAfter: balance}, true, balance, nil
}

func (s *MemoryStore) Credit(ctx context.Context, tx domain.CreditTransaction) (domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreditErr != nil {
		return domain.LedgerEntry{}, s.CreditErr
	}
	balance := s.balances[tx.UserID] + tx.Amount
	s.balances[tx.UserID] = balance
	tx.CreatedAt = s.now()
	s.txs = append(s.txs, tx)
	return domain.LedgerEntry{Transaction: tx, BalanceAfter: balance}, nil
}

func (s *MemoryStore) Balance(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *MemoryStore) Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CreditTransaction
	for i := len(s.txs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.txs[i].UserID == userID {
			out = append(out, s.txs[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) LookupUserID(ctx context.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[email]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

var (
	_ domain.WorkflowRepository = (*MemoryStore)(nil)
	_ domain.LedgerStore        = (*MemoryStore)(nil)
)

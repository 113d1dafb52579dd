package service

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/settlus/settlegate/internal/pkg/metrics"
)

// ScheduleIndex is the set of tenants that still hold a Pending backlog.
// Members come back ordered by score, which is the tenant creation sequence.
type ScheduleIndex interface {
	Add(ctx context.Context, name string, score uint64) error
	Remove(ctx context.Context, name string) error
	Members(ctx context.Context) ([]string, error)
}

type MemorySchedule struct {
	mu      sync.Mutex
	members map[string]uint64
}

func NewMemorySchedule() *MemorySchedule {
	return &MemorySchedule{members: make(map[string]uint64)}
}

func (s *MemorySchedule) Add(_ context.Context, name string, score uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[name] = score
	return nil
}

func (s *MemorySchedule) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, name)
	return nil
}

func (s *MemorySchedule) Members(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.members))
	for name := range s.members {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		si, sj := s.members[names[i]], s.members[names[j]]
		if si != sj {
			return si < sj
		}
		return names[i] < names[j]
	})
	return names, nil
}

// SettleRequired lists the scheduled tenants.
func (m *TenantManager) SettleRequired(ctx context.Context) ([]string, error) {
	return m.schedule.Members(ctx)
}

// RebuildSchedule recomputes the index from the ledgers: every tenant with a
// backlog is added and every other member is dropped.
func (m *TenantManager) RebuildSchedule(ctx context.Context) error {
	members, err := m.schedule.Members(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range members {
		e, ok := m.tenants[TenantKey(name)]
		if !ok || !e.ledger.HasBacklog() {
			if err := m.schedule.Remove(ctx, name); err != nil {
				return err
			}
		}
	}
	scheduled := 0
	for _, e := range m.ordered() {
		if !e.ledger.HasBacklog() {
			continue
		}
		if err := m.schedule.Add(ctx, e.ledger.Name(), e.seq); err != nil {
			return err
		}
		scheduled++
	}
	metrics.ScheduledTenants.Set(float64(scheduled))
	return nil
}

// Index failures are logged only; the ledger call has already committed.

func (m *TenantManager) scheduleTenant(ctx context.Context, e *tenantEntry) {
	if err := m.schedule.Add(ctx, e.ledger.Name(), e.seq); err != nil {
		logger.Warn("schedule add failed", "tenant", e.ledger.Name(), "error", err)
	}
}

func (m *TenantManager) reschedule(ctx context.Context, e *tenantEntry) {
	if e.ledger.HasBacklog() {
		return
	}
	m.unschedule(ctx, e.ledger.Name())
}

func (m *TenantManager) unschedule(ctx context.Context, name string) {
	if err := m.schedule.Remove(ctx, name); err != nil {
		logger.Warn("schedule remove failed", "tenant", name, "error", err)
	}
}

func sortEntries(entries []*tenantEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/ledger"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/settlus/settlegate/internal/pkg/metrics"
)

// Tenant sources reported by SettleAll.
const (
	SourceExplicit = "explicit"
	SourceSchedule = "schedule"
	SourceAll      = "all"
)

type SettleAllParams struct {
	Tenants  []string
	BatchCap int
	Budget   int
}

// TenantSettlement is the outcome of settling one tenant.
type TenantSettlement struct {
	Tenant          string `json:"tenant"`
	Settled         int    `json:"settled"`
	Examined        int    `json:"examined"`
	Cursor          int    `json:"cursor"`
	Halted          bool   `json:"halted"`
	NeedsSettlement bool   `json:"needs_settlement"`
	Backlog         bool   `json:"backlog"`
	Error           string `json:"error,omitempty"`
}

type SettleReport struct {
	Source   string             `json:"source"`
	Tenants  []TenantSettlement `json:"tenants"`
	Settled  int                `json:"settled"`
	Examined int                `json:"examined"`
	Failed   int                `json:"failed"`
	// Deferred lists tenants not visited because the budget ran out.
	Deferred []string      `json:"deferred,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SettleAll drains many tenants in one pass. Each tenant runs inside its own
// failure boundary, so a failing currency or a panic in one tenant is
// recorded in the report and the pass moves on. Once the caller is
// authorised the report is returned with a nil error.
func (m *TenantManager) SettleAll(ctx context.Context, caller common.Address, p SettleAllParams) (*SettleReport, error) {
	if !m.HasRole(RoleSettler, caller) {
		return nil, apperrors.NewUnauthorized(fmt.Sprintf("account %s lacks the settler role", caller.Hex()))
	}
	start := time.Now()
	defer func() { metrics.SettleAllDuration.Observe(time.Since(start).Seconds()) }()

	batchCap := p.BatchCap
	if batchCap <= 0 {
		batchCap = m.settings.BatchCap
	}
	budget := p.Budget
	if budget <= 0 {
		budget = m.settings.Budget
	}

	names, source := m.settleTargets(ctx, p.Tenants)
	report := &SettleReport{Source: source, Tenants: make([]TenantSettlement, 0, len(names))}

	for i, name := range names {
		if ctx.Err() != nil {
			report.Deferred = append(report.Deferred, names[i:]...)
			break
		}
		limit := batchCap
		if budget > 0 {
			remaining := budget - report.Examined
			if remaining <= 0 {
				report.Deferred = append(report.Deferred, names[i:]...)
				break
			}
			if limit <= 0 || remaining < limit {
				limit = remaining
			}
		}

		res := m.settleIsolated(ctx, name, limit)
		report.Tenants = append(report.Tenants, res)
		report.Settled += res.Settled
		report.Examined += res.Examined
		if res.Error != "" {
			report.Failed++
		}
	}

	report.Duration = time.Since(start)
	if members, err := m.schedule.Members(ctx); err == nil {
		metrics.ScheduledTenants.Set(float64(len(members)))
	}
	logger.Info("settle_all finished",
		"source", report.Source,
		"tenants", len(report.Tenants),
		"settled", report.Settled,
		"failed", report.Failed,
		"deferred", len(report.Deferred),
	)
	return report, nil
}

// settleTargets picks the tenants of one pass: the explicit list, else the
// schedule index, else every tenant.
func (m *TenantManager) settleTargets(ctx context.Context, explicit []string) ([]string, string) {
	if len(explicit) > 0 {
		return explicit, SourceExplicit
	}
	if !m.settings.ScanAll {
		members, err := m.schedule.Members(ctx)
		if err == nil {
			return members, SourceSchedule
		}
		logger.Warn("schedule index unavailable, scanning all tenants", "error", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.ordered()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.ledger.Name())
	}
	return names, SourceAll
}

// settleIsolated settles one tenant and converts every failure, panics
// included, into a report entry.
func (m *TenantManager) settleIsolated(ctx context.Context, name string, limit int) (res TenantSettlement) {
	res.Tenant = name
	defer func() {
		if r := recover(); r != nil {
			res.Halted = true
			res.Error = fmt.Sprintf("panic: %v", r)
			metrics.SettlementFailures.WithLabelValues("panic").Inc()
			logger.Error("tenant settlement panicked", "tenant", name, "panic", r)
		}
	}()

	out, err := m.settleTenant(ctx, name, limit, res.fill)
	if err != nil {
		res.Error = err.Error()
		reason := string(apperrors.TypeOf(err))
		if reason == "" {
			reason = string(apperrors.ErrInternal)
		}
		metrics.SettlementFailures.WithLabelValues(reason).Inc()
		logger.Warn("tenant settlement halted", "tenant", name, "cursor", out.Cursor, "error", err)
	}
	return res
}

func (r *TenantSettlement) fill(out ledger.Outcome, l *ledger.Ledger) {
	r.Settled = out.Settled
	r.Examined = out.Examined
	r.Cursor = out.Cursor
	r.Halted = out.Halted
	r.NeedsSettlement = l.NeedsSettlement()
	r.Backlog = l.HasBacklog()
}

// SettleTenant drains one tenant on behalf of its master or a settler.
// Unlike SettleAll, a halt is returned to the caller as an error together
// with the partial result.
func (m *TenantManager) SettleTenant(ctx context.Context, caller common.Address, name string, maxToProcess int) (TenantSettlement, error) {
	res := TenantSettlement{Tenant: name}
	m.mu.Lock()
	e, err := m.lookup(name)
	allowed := err == nil && (e.ledger.HasRole(ledger.RoleMaster, caller) || m.hasRole(RoleSettler, caller))
	m.mu.Unlock()
	if err != nil {
		return res, err
	}
	if !allowed {
		return res, apperrors.NewUnauthorized(fmt.Sprintf("account %s cannot settle tenant %q", caller.Hex(), name))
	}

	_, err = m.settleTenant(ctx, name, maxToProcess, res.fill)
	if err != nil {
		res.Error = err.Error()
	}
	return res, err
}

func (m *TenantManager) settleTenant(ctx context.Context, name string, limit int, observe func(ledger.Outcome, *ledger.Ledger)) (ledger.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(name)
	if err != nil {
		return ledger.Outcome{}, err
	}
	if m.settings.TenantTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.settings.TenantTimeout)
		defer cancel()
	}

	// No payout leaves before earlier changes are durable; otherwise a restart
	// would restore already paid records as Pending.
	if err := m.commit(ctx, e); err != nil {
		out := ledger.Outcome{Halted: true, Cursor: e.ledger.Cursor()}
		observe(out, e.ledger)
		return out, apperrors.New(apperrors.ErrPersistence,
			fmt.Sprintf("tenant %s has unsaved changes, settlement skipped", name), err)
	}

	out, err := e.ledger.Settle(ctx, limit)
	m.reschedule(ctx, e)
	_ = m.commit(context.WithoutCancel(ctx), e)
	observe(out, e.ledger)
	if out.Settled > 0 {
		logger.Debug("tenant settled", "tenant", name, "settled", out.Settled, "cursor", out.Cursor)
	}
	return out, err
}

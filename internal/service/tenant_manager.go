package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/settlus/settlegate/internal/config"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/ledger"
	"github.com/settlus/settlegate/internal/ownership"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/settlus/settlegate/internal/pkg/metrics"
)

var (
	// RoleOwner administers the registry: settler grants and tenant removal.
	RoleOwner = crypto.Keccak256Hash([]byte("OWNER_ROLE"))
	// RoleSettler may trigger batch settlement.
	RoleSettler = crypto.Keccak256Hash([]byte("SETTLER_ROLE"))
)

// Registry-level event types, emitted next to the ledger ones.
const (
	EventTenantCreated  ledger.EventType = "tenant.created"
	EventTenantRemoved  ledger.EventType = "tenant.removed"
	EventSettlerGranted ledger.EventType = "registry.settler_granted"
	EventSettlerRevoked ledger.EventType = "registry.settler_revoked"
)

// TreasuryAllocator hands out the treasury account of a new tenant.
type TreasuryAllocator interface {
	AllocateTreasury(ctx context.Context, name string) (common.Address, error)
}

// Chain is what the registry needs from the hosting chain.
type Chain interface {
	currency.Backend
	ownership.Resolver
	TreasuryAllocator
}

// LedgerRepo persists ledgers. LoadLedgers returns them in creation order.
type LedgerRepo interface {
	SaveLedger(ctx context.Context, meta ledger.State, records []ledger.Record) error
	DeleteLedger(ctx context.Context, name string) error
	LoadLedgers(ctx context.Context) ([]ledger.State, error)
	ListSettlers(ctx context.Context) ([]common.Address, error)
	SaveSettler(ctx context.Context, account common.Address, granted bool) error
}

// Settings are the registry-wide settlement knobs.
type Settings struct {
	DefaultMaxBatchSize int
	BatchCap            int
	Budget              int
	ScanAll             bool
	TenantTimeout       time.Duration
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		DefaultMaxBatchSize: cfg.Registry.DefaultMaxBatchSize,
		BatchCap:            cfg.Settlement.BatchCap,
		Budget:              cfg.Settlement.Budget,
		ScanAll:             cfg.Settlement.ScanAll,
		TenantTimeout:       cfg.Settlement.TenantTimeout(),
	}
}

type tenantEntry struct {
	key    common.Hash
	seq    uint64
	ledger *ledger.Ledger
}

// TenantManager 是租户注册表: 名称哈希 -> 账本, 以及注册表级角色
type TenantManager struct {
	mu       sync.Mutex
	tenants  map[common.Hash]*tenantEntry
	nextSeq  uint64
	owner    common.Address
	settlers map[common.Address]struct{}
	settings Settings

	chain    Chain
	repo     LedgerRepo
	schedule ScheduleIndex
	sink     ledger.EventSink
	now      func() time.Time
}

type ManagerOption func(*TenantManager)

func WithLedgerRepo(repo LedgerRepo) ManagerOption {
	return func(m *TenantManager) { m.repo = repo }
}

func WithSchedule(idx ScheduleIndex) ManagerOption {
	return func(m *TenantManager) {
		if idx != nil {
			m.schedule = idx
		}
	}
}

func WithEvents(sink ledger.EventSink) ManagerOption {
	return func(m *TenantManager) { m.sink = sink }
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *TenantManager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithSettings(s Settings) ManagerOption {
	return func(m *TenantManager) { m.settings = s }
}

func NewTenantManager(owner common.Address, settlers []common.Address, ch Chain, opts ...ManagerOption) *TenantManager {
	m := &TenantManager{
		tenants:  make(map[common.Hash]*tenantEntry),
		owner:    owner,
		settlers: make(map[common.Address]struct{}),
		settings: Settings{DefaultMaxBatchSize: ledger.DefaultMaxBatchSize, BatchCap: ledger.DefaultMaxBatchSize},
		chain:    ch,
		schedule: NewMemorySchedule(),
		now:      time.Now,
	}
	for _, s := range settlers {
		m.settlers[s] = struct{}{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewTenantManagerFromConfig reads the owner and the seeded settler set from
// the registry section.
func NewTenantManagerFromConfig(cfg *config.Config, ch Chain, opts ...ManagerOption) (*TenantManager, error) {
	owner, err := parseAccount("registry.owner", cfg.Registry.Owner)
	if err != nil {
		return nil, err
	}
	settlers := make([]common.Address, 0, len(cfg.Registry.Settlers))
	for _, s := range cfg.Registry.Settlers {
		acct, err := parseAccount("registry.settlers", s)
		if err != nil {
			return nil, err
		}
		settlers = append(settlers, acct)
	}
	opts = append([]ManagerOption{WithSettings(SettingsFromConfig(cfg))}, opts...)
	return NewTenantManager(owner, settlers, ch, opts...), nil
}

func parseAccount(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: %q is not an address", field, value)
	}
	return common.HexToAddress(value), nil
}

// TenantKey is the registry key of a tenant name.
func TenantKey(name string) common.Hash {
	return crypto.Keccak256Hash([]byte(name))
}

// CreateTenantParams describes a new tenant. A zero Currency address with a
// token kind deploys a fresh token minted by the tenant treasury.
type CreateTenantParams struct {
	Name            string
	Kind            currency.Kind
	Currency        common.Address
	PayoutPeriod    time.Duration
	MaxBatchSize    int
	TokenName       string
	TokenSymbol     string
	ResolveOnSettle bool
}

// TenantSummary is a read-only snapshot of one tenant.
type TenantSummary struct {
	Name            string
	Key             common.Hash
	Treasury        common.Address
	Master          common.Address
	Recorders       []common.Address
	Currency        currency.Currency
	PayoutPeriod    time.Duration
	MaxBatchSize    int
	ResolveOnSettle bool
	Cursor          int
	Length          int
	NeedsSettlement bool
	Backlog         bool
	CreatedAt       time.Time
}

func summarize(e *tenantEntry) TenantSummary {
	l := e.ledger
	return TenantSummary{
		Name:            l.Name(),
		Key:             e.key,
		Treasury:        l.Treasury(),
		Master:          l.Master(),
		Recorders:       l.Recorders(),
		Currency:        l.Currency(),
		PayoutPeriod:    l.PayoutPeriod(),
		MaxBatchSize:    l.MaxBatchSize(),
		ResolveOnSettle: l.ResolveOnSettle(),
		Cursor:          l.Cursor(),
		Length:          l.Len(),
		NeedsSettlement: l.NeedsSettlement(),
		Backlog:         l.HasBacklog(),
		CreatedAt:       l.CreatedAt(),
	}
}

// CreateTenant registers a ledger and grants the master role to caller.
func (m *TenantManager) CreateTenant(ctx context.Context, caller common.Address, p CreateTenantParams) (TenantSummary, error) {
	if strings.TrimSpace(p.Name) == "" {
		return TenantSummary{}, apperrors.NewInvalidRequest("tenant name is required")
	}
	if caller == (common.Address{}) {
		return TenantSummary{}, apperrors.NewUnauthorized("an authenticated account is required to create a tenant")
	}
	if p.Kind == currency.Native && p.Currency != (common.Address{}) {
		return TenantSummary{}, apperrors.NewInvalidRequest("native currency takes no contract address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := TenantKey(p.Name)
	if _, exists := m.tenants[key]; exists {
		return TenantSummary{}, apperrors.New(apperrors.ErrNameAlreadyExists, fmt.Sprintf("tenant %q already exists", p.Name), nil)
	}

	treasury, err := m.chain.AllocateTreasury(ctx, p.Name)
	if err != nil {
		return TenantSummary{}, apperrors.New(apperrors.ErrUpstream, "treasury allocation failed", err)
	}

	cur := currency.Currency{Kind: p.Kind, Address: p.Currency}
	if p.Kind.NeedsToken() && cur.Address == (common.Address{}) {
		spec := currency.TokenSpec{
			Name:   firstNonEmpty(p.TokenName, p.Name),
			Symbol: firstNonEmpty(p.TokenSymbol, defaultSymbol(p.Name)),
			Kind:   p.Kind,
			Minter: treasury,
		}
		cur.Address, err = m.chain.DeployToken(ctx, spec)
		if err != nil {
			return TenantSummary{}, apperrors.New(apperrors.ErrUpstream, fmt.Sprintf("deploying token for tenant %q", p.Name), err)
		}
	}
	adapter, err := currency.New(cur, m.chain)
	if err != nil {
		return TenantSummary{}, apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err)
	}

	maxBatch := p.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = m.settings.DefaultMaxBatchSize
	}
	l, err := ledger.New(ledger.Config{
		Name:            p.Name,
		Treasury:        treasury,
		Master:          caller,
		PayoutPeriod:    p.PayoutPeriod,
		MaxBatchSize:    maxBatch,
		ResolveOnSettle: p.ResolveOnSettle,
	}, adapter, m.chain, m.ledgerOptions()...)
	if err != nil {
		return TenantSummary{}, err
	}

	e := &tenantEntry{key: key, seq: m.nextSeq, ledger: l}
	m.nextSeq++
	m.tenants[key] = e
	_ = m.commit(ctx, e)

	m.emit(ledger.Event{Type: EventTenantCreated, Tenant: p.Name, Account: caller, Detail: cur.String()})
	logger.Info("tenant created", "tenant", p.Name, "treasury", treasury.Hex(), "currency", cur.String())
	return summarize(e), nil
}

// RemoveTenant drops a tenant. Allowed to its master and the registry owner.
func (m *TenantManager) RemoveTenant(ctx context.Context, caller common.Address, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(name)
	if err != nil {
		return err
	}
	if !e.ledger.HasRole(ledger.RoleMaster, caller) && !m.hasRole(RoleOwner, caller) {
		return apperrors.NewUnauthorized(fmt.Sprintf("account %s cannot remove tenant %q", caller.Hex(), name))
	}

	if m.repo != nil {
		if err := m.repo.DeleteLedger(ctx, name); err != nil {
			return apperrors.New(apperrors.ErrPersistence, fmt.Sprintf("removing tenant %q", name), err)
		}
	}
	delete(m.tenants, e.key)
	m.unschedule(ctx, name)
	m.emit(ledger.Event{Type: EventTenantRemoved, Tenant: name, Account: caller})
	logger.Info("tenant removed", "tenant", name, "by", caller.Hex())
	return nil
}

func (m *TenantManager) Tenant(name string) (TenantSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(name)
	if err != nil {
		return TenantSummary{}, err
	}
	return summarize(e), nil
}

// ListTenants returns every tenant in creation order.
func (m *TenantManager) ListTenants() []TenantSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.ordered()
	out := make([]TenantSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, summarize(e))
	}
	return out
}

func (m *TenantManager) Record(ctx context.Context, caller common.Address, name string, p ledger.RecordParams) (ledger.Record, error) {
	var rec ledger.Record
	err := m.mutate(ctx, name, func(e *tenantEntry) error {
		idx, err := e.ledger.Record(ctx, caller, p)
		if err != nil {
			return err
		}
		rec, _ = e.ledger.At(idx)
		m.scheduleTenant(ctx, e)
		return nil
	})
	return rec, err
}

func (m *TenantManager) Cancel(ctx context.Context, caller common.Address, name, requestID string) error {
	return m.mutate(ctx, name, func(e *tenantEntry) error {
		if err := e.ledger.Cancel(caller, requestID); err != nil {
			return err
		}
		m.reschedule(ctx, e)
		return nil
	})
}

// ResolvePayout closes a payout left in flight with an unknown outcome.
func (m *TenantManager) ResolvePayout(ctx context.Context, caller common.Address, name, requestID string, paid bool) error {
	return m.mutate(ctx, name, func(e *tenantEntry) error {
		if err := e.ledger.ResolvePayout(caller, requestID, paid); err != nil {
			return err
		}
		m.reschedule(ctx, e)
		logger.Info("payout resolved", "tenant", name, "request_id", requestID, "paid", paid, "by", caller.Hex())
		return nil
	})
}

func (m *TenantManager) SetPayoutPeriod(ctx context.Context, caller common.Address, name string, period time.Duration) error {
	return m.mutate(ctx, name, func(e *tenantEntry) error {
		return e.ledger.SetPayoutPeriod(caller, period)
	})
}

// SetCurrency points a tenant at another existing currency.
func (m *TenantManager) SetCurrency(ctx context.Context, caller common.Address, name string, cur currency.Currency) error {
	return m.mutate(ctx, name, func(e *tenantEntry) error {
		if !e.ledger.HasRole(ledger.RoleMaster, caller) {
			return apperrors.NewUnauthorized(fmt.Sprintf("only the master of tenant %s can change the currency", name))
		}
		adapter, err := currency.New(cur, m.chain)
		if err != nil {
			return apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err)
		}
		return e.ledger.SetCurrency(caller, adapter)
	})
}

func (m *TenantManager) AddRecorder(ctx context.Context, caller common.Address, name string, account common.Address) error {
	return m.mutate(ctx, name, func(e *tenantEntry) error {
		return e.ledger.AddRecorder(caller, account)
	})
}

func (m *TenantManager) RemoveRecorder(ctx context.Context, caller common.Address, name string, account common.Address) error {
	return m.mutate(ctx, name, func(e *tenantEntry) error {
		return e.ledger.RemoveRecorder(caller, account)
	})
}

func (m *TenantManager) MintTreasury(ctx context.Context, caller common.Address, name string, amount *big.Int) error {
	return m.mutate(ctx, name, func(e *tenantEntry) error {
		return e.ledger.MintTreasury(ctx, caller, amount)
	})
}

func (m *TenantManager) TreasuryBalance(ctx context.Context, name string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.ledger.TreasuryBalance(ctx)
}

// Records pages through a tenant's queue and reports the queue length.
func (m *TenantManager) Records(name string, offset, limit int) ([]ledger.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(name)
	if err != nil {
		return nil, 0, err
	}
	return e.ledger.Records(offset, limit), e.ledger.Len(), nil
}

func (m *TenantManager) LookupRecord(name, requestID string) (ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(name)
	if err != nil {
		return ledger.Record{}, err
	}
	rec, ok := e.ledger.Lookup(requestID)
	if !ok {
		return ledger.Record{}, apperrors.New(apperrors.ErrRecordNotFound, fmt.Sprintf("request_id %q not found on tenant %s", requestID, name), nil)
	}
	return rec, nil
}

func (m *TenantManager) NeedsSettlement(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	return e.ledger.NeedsSettlement(), nil
}

// --- registry roles ---

// HasRole answers registry-wide role checks. Ledger roles are checked on the
// ledger itself.
func (m *TenantManager) HasRole(role common.Hash, account common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasRole(role, account)
}

func (m *TenantManager) hasRole(role common.Hash, account common.Address) bool {
	if account == (common.Address{}) {
		return false
	}
	switch role {
	case RoleOwner:
		return account == m.owner
	case RoleSettler:
		_, ok := m.settlers[account]
		return ok
	default:
		return false
	}
}

func (m *TenantManager) Owner() common.Address {
	return m.owner
}

func (m *TenantManager) Settlers() []common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]common.Address, 0, len(m.settlers))
	for acct := range m.settlers {
		out = append(out, acct)
	}
	sortAddresses(out)
	return out
}

func (m *TenantManager) GrantSettler(ctx context.Context, caller, account common.Address) error {
	return m.setSettler(ctx, caller, account, true)
}

func (m *TenantManager) RevokeSettler(ctx context.Context, caller, account common.Address) error {
	return m.setSettler(ctx, caller, account, false)
}

func (m *TenantManager) setSettler(ctx context.Context, caller, account common.Address, granted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasRole(RoleOwner, caller) {
		return apperrors.NewUnauthorized("only the registry owner manages settlers")
	}
	if account == (common.Address{}) {
		return apperrors.NewInvalidRequest("settler account is required")
	}
	_, had := m.settlers[account]
	if granted == had {
		return nil
	}
	if m.repo != nil {
		if err := m.repo.SaveSettler(ctx, account, granted); err != nil {
			return apperrors.New(apperrors.ErrInternal, "persisting settler role failed", err)
		}
	}
	typ := EventSettlerRevoked
	if granted {
		m.settlers[account] = struct{}{}
		typ = EventSettlerGranted
	} else {
		delete(m.settlers, account)
	}
	m.emit(ledger.Event{Type: typ, Account: account})
	return nil
}

// --- persistence ---

// Restore loads every persisted ledger and settler grant and rebuilds the
// schedule index. It must run before the manager serves calls.
func (m *TenantManager) Restore(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	states, err := m.repo.LoadLedgers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load ledgers: %w", err)
	}
	settlers, err := m.repo.ListSettlers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load settlers: %w", err)
	}

	m.mu.Lock()
	for _, st := range states {
		adapter, err := currency.New(st.Currency, m.chain)
		if err != nil {
			m.mu.Unlock()
			return 0, fmt.Errorf("restore %s: %w", st.Name, err)
		}
		l, err := ledger.Restore(st, adapter, m.chain, m.ledgerOptions()...)
		if err != nil {
			m.mu.Unlock()
			return 0, err
		}
		key := TenantKey(st.Name)
		m.tenants[key] = &tenantEntry{key: key, seq: m.nextSeq, ledger: l}
		m.nextSeq++
	}
	for _, acct := range settlers {
		m.settlers[acct] = struct{}{}
	}
	m.mu.Unlock()

	if err := m.RebuildSchedule(ctx); err != nil {
		logger.Warn("schedule rebuild failed", "error", err)
	}
	logger.Info("registry restored", "tenants", len(states), "settlers", len(settlers))
	return len(states), nil
}

// mutate runs fn on one ledger under the registry lock and commits the
// ledger's dirty state when fn succeeds.
func (m *TenantManager) mutate(ctx context.Context, name string, fn func(*tenantEntry) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(name)
	if err != nil {
		return err
	}
	if err := fn(e); err != nil {
		return err
	}
	_ = m.commit(ctx, e)
	return nil
}

// commit writes the ledger's pending changes. A failed write keeps the dirty
// marks so the next commit carries them again.
func (m *TenantManager) commit(ctx context.Context, e *tenantEntry) error {
	return m.persist(ctx, e.ledger)
}

func (m *TenantManager) persist(ctx context.Context, l *ledger.Ledger) error {
	if m.repo == nil {
		l.MarkPersisted()
		return nil
	}
	changes := l.Changes()
	if changes.Empty() {
		return nil
	}
	if err := m.repo.SaveLedger(ctx, l.Meta(), changes.Records); err != nil {
		logger.Error("ledger commit failed", "tenant", l.Name(), "records", len(changes.Records), "error", err)
		return err
	}
	l.MarkPersisted()
	return nil
}

func (m *TenantManager) lookup(name string) (*tenantEntry, error) {
	e, ok := m.tenants[TenantKey(name)]
	if !ok {
		return nil, apperrors.NewNotFound(fmt.Sprintf("tenant %q not found", name))
	}
	return e, nil
}

func (m *TenantManager) ordered() []*tenantEntry {
	out := make([]*tenantEntry, 0, len(m.tenants))
	for _, e := range m.tenants {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func (m *TenantManager) ledgerOptions() []ledger.Option {
	return []ledger.Option{
		ledger.WithClock(m.now),
		ledger.WithEventSink(ledger.EventSinkFunc(m.emit)),
		ledger.WithCheckpoint(m.persist),
	}
}

func (m *TenantManager) emit(e ledger.Event) {
	if e.At.IsZero() {
		e.At = m.now().UTC()
	}
	metrics.RecordsTotal.WithLabelValues(string(e.Type)).Inc()
	if m.sink != nil {
		m.sink.Emit(e)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func defaultSymbol(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
		if b.Len() == 5 {
			break
		}
	}
	if b.Len() == 0 {
		return "UTXR"
	}
	return b.String()
}

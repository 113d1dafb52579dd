package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/ledger"
	"github.com/settlus/settlegate/internal/model"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/shopspring/decimal"
)

// TenantService translates API requests into registry calls.
type TenantService struct {
	manager *TenantManager
}

func NewTenantService(manager *TenantManager) *TenantService {
	return &TenantService{manager: manager}
}

func (s *TenantService) Manager() *TenantManager {
	return s.manager
}

func (s *TenantService) Create(ctx context.Context, caller common.Address, req model.CreateTenantRequest) (*model.TenantResponse, error) {
	kind, err := currency.ParseKind(req.CurrencyKind)
	if err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}
	addr, err := ParseOptionalAddress("currency_address", req.CurrencyAddress)
	if err != nil {
		return nil, err
	}
	if req.PayoutPeriodSeconds < 0 {
		return nil, apperrors.NewInvalidRequest("payout_period_seconds must not be negative")
	}
	if req.MaxBatchSize < 0 {
		return nil, apperrors.NewInvalidRequest("max_batch_size must not be negative")
	}

	summary, err := s.manager.CreateTenant(ctx, caller, CreateTenantParams{
		Name:            req.Name,
		Kind:            kind,
		Currency:        addr,
		PayoutPeriod:    time.Duration(req.PayoutPeriodSeconds) * time.Second,
		MaxBatchSize:    req.MaxBatchSize,
		TokenName:       req.TokenName,
		TokenSymbol:     req.TokenSymbol,
		ResolveOnSettle: req.ResolveOnSettle,
	})
	if err != nil {
		return nil, err
	}
	resp := ToTenantResponse(summary)
	return &resp, nil
}

func (s *TenantService) List(ctx context.Context) []model.TenantResponse {
	tenants := s.manager.ListTenants()
	out := make([]model.TenantResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, ToTenantResponse(t))
	}
	return out
}

// Get returns the tenant summary with its live treasury balance. A balance
// lookup failure leaves the field empty.
func (s *TenantService) Get(ctx context.Context, name string) (*model.TenantResponse, error) {
	summary, err := s.manager.Tenant(name)
	if err != nil {
		return nil, err
	}
	resp := ToTenantResponse(summary)
	if bal, err := s.manager.TreasuryBalance(ctx, name); err == nil {
		resp.TreasuryBalance = bal.String()
	} else {
		logger.Warn("treasury balance unavailable", "tenant", name, "error", err)
	}
	return &resp, nil
}

func (s *TenantService) Delete(ctx context.Context, caller common.Address, name string) error {
	return s.manager.RemoveTenant(ctx, caller, name)
}

func (s *TenantService) SetPayoutPeriod(ctx context.Context, caller common.Address, name string, req model.PayoutPeriodRequest) error {
	if req.PayoutPeriodSeconds == nil {
		return apperrors.NewInvalidRequest("payout_period_seconds is required")
	}
	if *req.PayoutPeriodSeconds < 0 {
		return apperrors.NewInvalidRequest("payout_period_seconds must not be negative")
	}
	return s.manager.SetPayoutPeriod(ctx, caller, name, time.Duration(*req.PayoutPeriodSeconds)*time.Second)
}

func (s *TenantService) SetCurrency(ctx context.Context, caller common.Address, name string, req model.CurrencyRequest) error {
	kind, err := currency.ParseKind(req.Kind)
	if err != nil {
		return apperrors.NewInvalidRequest(err.Error())
	}
	addr, err := ParseOptionalAddress("address", req.Address)
	if err != nil {
		return err
	}
	if kind.NeedsToken() && addr == (common.Address{}) {
		return apperrors.NewInvalidRequest(fmt.Sprintf("%s currency requires an address", kind))
	}
	return s.manager.SetCurrency(ctx, caller, name, currency.Currency{Kind: kind, Address: addr})
}

func (s *TenantService) AddRecorder(ctx context.Context, caller common.Address, name, account string) error {
	addr, err := ParseAddress("account", account)
	if err != nil {
		return err
	}
	return s.manager.AddRecorder(ctx, caller, name, addr)
}

func (s *TenantService) RemoveRecorder(ctx context.Context, caller common.Address, name, account string) error {
	addr, err := ParseAddress("account", account)
	if err != nil {
		return err
	}
	return s.manager.RemoveRecorder(ctx, caller, name, addr)
}

func (s *TenantService) Mint(ctx context.Context, caller common.Address, name string, req model.MintRequest) error {
	amount, err := ParseAmount("amount", req.Amount)
	if err != nil {
		return err
	}
	return s.manager.MintTreasury(ctx, caller, name, amount)
}

func (s *TenantService) Record(ctx context.Context, caller common.Address, name string, req model.RecordRequest) (*model.RecordResponse, error) {
	p := ledger.RecordParams{RequestID: strings.TrimSpace(req.RequestID)}
	var err error
	if p.Amount, err = ParseAmount("amount", req.Amount); err != nil {
		return nil, err
	}
	if p.SourceChainID, err = parseOptionalAmount("source_chain_id", req.SourceChainID); err != nil {
		return nil, err
	}
	if p.Recipient, err = ParseOptionalAddress("recipient", req.Recipient); err != nil {
		return nil, err
	}
	if p.NFTContract, err = ParseOptionalAddress("nft_contract", req.NFTContract); err != nil {
		return nil, err
	}
	if p.TokenID, err = parseOptionalAmount("token_id", req.TokenID); err != nil {
		return nil, err
	}

	summary, err := s.manager.Tenant(name)
	if err != nil {
		return nil, err
	}
	rec, err := s.manager.Record(ctx, caller, name, p)
	if err != nil {
		return nil, err
	}
	resp := ToRecordResponse(rec, summary.PayoutPeriod)
	return &resp, nil
}

func (s *TenantService) Records(ctx context.Context, name string, offset, limit int) (*model.RecordPage, error) {
	summary, err := s.manager.Tenant(name)
	if err != nil {
		return nil, err
	}
	records, total, err := s.manager.Records(name, offset, limit)
	if err != nil {
		return nil, err
	}
	page := &model.RecordPage{Records: make([]model.RecordResponse, 0, len(records)), Total: total, Offset: offset, Limit: limit}
	for _, r := range records {
		page.Records = append(page.Records, ToRecordResponse(r, summary.PayoutPeriod))
	}
	return page, nil
}

func (s *TenantService) GetRecord(ctx context.Context, name, requestID string) (*model.RecordResponse, error) {
	summary, err := s.manager.Tenant(name)
	if err != nil {
		return nil, err
	}
	rec, err := s.manager.LookupRecord(name, requestID)
	if err != nil {
		return nil, err
	}
	resp := ToRecordResponse(rec, summary.PayoutPeriod)
	return &resp, nil
}

func (s *TenantService) Cancel(ctx context.Context, caller common.Address, name, requestID string) error {
	return s.manager.Cancel(ctx, caller, name, requestID)
}

func (s *TenantService) ResolvePayout(ctx context.Context, caller common.Address, name, requestID string, req model.ResolvePayoutRequest) error {
	if req.Paid == nil {
		return apperrors.NewInvalidRequest("paid is required")
	}
	return s.manager.ResolvePayout(ctx, caller, name, requestID, *req.Paid)
}

func (s *TenantService) Settle(ctx context.Context, caller common.Address, name string, req model.SettleRequest) (TenantSettlement, error) {
	return s.manager.SettleTenant(ctx, caller, name, req.MaxToProcess)
}

func (s *TenantService) SettleAll(ctx context.Context, caller common.Address, req model.SettleAllRequest) (*SettleReport, error) {
	if req.BatchCap < 0 || req.Budget < 0 {
		return nil, apperrors.NewInvalidRequest("batch_cap and budget must not be negative")
	}
	return s.manager.SettleAll(ctx, caller, SettleAllParams{
		Tenants:  req.Tenants,
		BatchCap: req.BatchCap,
		Budget:   req.Budget,
	})
}

func (s *TenantService) SettleRequired(ctx context.Context) ([]string, error) {
	names, err := s.manager.SettleRequired(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrUpstream, "schedule index unavailable", err)
	}
	return names, nil
}

func (s *TenantService) GrantSettler(ctx context.Context, caller common.Address, account string) error {
	addr, err := ParseAddress("account", account)
	if err != nil {
		return err
	}
	return s.manager.GrantSettler(ctx, caller, addr)
}

func (s *TenantService) RevokeSettler(ctx context.Context, caller common.Address, account string) error {
	addr, err := ParseAddress("account", account)
	if err != nil {
		return err
	}
	return s.manager.RevokeSettler(ctx, caller, addr)
}

// --- parsing and mapping ---

// ParseAmount parses a non-negative base-10 integer.
func ParseAmount(field, raw string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperrors.NewInvalidRequest(fmt.Sprintf("%s: %q is not a number", field, raw))
	}
	if !d.IsInteger() {
		return nil, apperrors.NewInvalidRequest(fmt.Sprintf("%s must be an integer in the smallest unit", field))
	}
	if d.IsNegative() {
		return nil, apperrors.NewInvalidRequest(fmt.Sprintf("%s must not be negative", field))
	}
	return d.BigInt(), nil
}

func parseOptionalAmount(field, raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return ParseAmount(field, raw)
}

func ParseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, apperrors.NewInvalidRequest(fmt.Sprintf("%s: %q is not an address", field, raw))
	}
	return common.HexToAddress(raw), nil
}

func ParseOptionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return ParseAddress(field, raw)
}

func ToTenantResponse(t TenantSummary) model.TenantResponse {
	recorders := make([]string, 0, len(t.Recorders))
	for _, r := range t.Recorders {
		recorders = append(recorders, r.Hex())
	}
	cur := model.CurrencyView{Kind: t.Currency.Kind.String()}
	if t.Currency.Kind.NeedsToken() {
		cur.Address = t.Currency.Address.Hex()
	}
	return model.TenantResponse{
		Name:                t.Name,
		Key:                 t.Key.Hex(),
		Treasury:            t.Treasury.Hex(),
		Master:              t.Master.Hex(),
		Recorders:           recorders,
		Currency:            cur,
		PayoutPeriodSeconds: t.PayoutPeriod.Seconds(),
		MaxBatchSize:        t.MaxBatchSize,
		ResolveOnSettle:     t.ResolveOnSettle,
		Cursor:              t.Cursor,
		Length:              t.Length,
		NeedsSettlement:     t.NeedsSettlement,
		Backlog:             t.Backlog,
		CreatedAt:           t.CreatedAt,
	}
}

func ToRecordResponse(r ledger.Record, payoutPeriod time.Duration) model.RecordResponse {
	resp := model.RecordResponse{
		Index:      r.Index,
		RequestID:  r.RequestID,
		Amount:     intString(r.Amount),
		Recipient:  r.Recipient.Hex(),
		Status:     r.Status.String(),
		CreatedAt:  r.CreatedAt,
		EligibleAt: r.EligibleAt(payoutPeriod),
	}
	if r.SourceChainID != nil {
		resp.SourceChainID = r.SourceChainID.String()
	}
	if r.NFTBacked() {
		resp.NFTContract = r.NFTContract.Hex()
		resp.TokenID = intString(r.TokenID)
	}
	if !r.FinalizedAt.IsZero() {
		at := r.FinalizedAt
		resp.FinalizedAt = &at
	}
	resp.InFlight = r.InFlight()
	if r.TxHash != (common.Hash{}) {
		resp.TxHash = r.TxHash.Hex()
	}
	return resp
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

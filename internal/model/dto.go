package model

import "time"

// Amounts travel as base-10 integer strings in the smallest currency unit.

type CreateTenantRequest struct {
	Name                string `json:"name" binding:"required"`
	CurrencyKind        string `json:"currency_kind" binding:"required"`
	CurrencyAddress     string `json:"currency_address,omitempty"`
	PayoutPeriodSeconds int64  `json:"payout_period_seconds"`
	MaxBatchSize        int    `json:"max_batch_size,omitempty"`
	TokenName           string `json:"token_name,omitempty"`
	TokenSymbol         string `json:"token_symbol,omitempty"`
	ResolveOnSettle     bool   `json:"resolve_on_settle,omitempty"`
}

type CurrencyView struct {
	Kind    string `json:"kind"`
	Address string `json:"address,omitempty"`
}

type TenantResponse struct {
	Name                string       `json:"name"`
	Key                 string       `json:"key"`
	Treasury            string       `json:"treasury"`
	Master              string       `json:"master"`
	Recorders           []string     `json:"recorders"`
	Currency            CurrencyView `json:"currency"`
	PayoutPeriodSeconds float64      `json:"payout_period_seconds"`
	MaxBatchSize        int          `json:"max_batch_size"`
	ResolveOnSettle     bool         `json:"resolve_on_settle"`
	Cursor              int          `json:"cursor"`
	Length              int          `json:"length"`
	NeedsSettlement     bool         `json:"needs_settlement"`
	Backlog             bool         `json:"backlog"`
	TreasuryBalance     string       `json:"treasury_balance,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
}

type RecordRequest struct {
	RequestID     string `json:"request_id" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	SourceChainID string `json:"source_chain_id,omitempty"`
	Recipient     string `json:"recipient,omitempty"`
	NFTContract   string `json:"nft_contract,omitempty"`
	TokenID       string `json:"token_id,omitempty"`
}

type RecordResponse struct {
	Index         int        `json:"index"`
	RequestID     string     `json:"request_id"`
	Amount        string     `json:"amount"`
	SourceChainID string     `json:"source_chain_id,omitempty"`
	Recipient     string     `json:"recipient"`
	NFTContract   string     `json:"nft_contract,omitempty"`
	TokenID       string     `json:"token_id,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	EligibleAt    time.Time  `json:"eligible_at"`
	FinalizedAt   *time.Time `json:"finalized_at,omitempty"`
	InFlight      bool       `json:"in_flight,omitempty"`
	TxHash        string     `json:"tx_hash,omitempty"`
}

type RecordPage struct {
	Records []RecordResponse `json:"records"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
}

type PayoutPeriodRequest struct {
	PayoutPeriodSeconds *int64 `json:"payout_period_seconds" binding:"required"`
}

type CurrencyRequest struct {
	Kind    string `json:"kind" binding:"required"`
	Address string `json:"address"`
}

type MintRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// ResolvePayoutRequest closes an in-flight payout. Paid tells whether the
// funds are known to have reached the recipient.
type ResolvePayoutRequest struct {
	Paid *bool `json:"paid" binding:"required"`
}

type SettleRequest struct {
	MaxToProcess int `json:"max_to_process"`
}

type SettleAllRequest struct {
	Tenants  []string `json:"tenants,omitempty"`
	BatchCap int      `json:"batch_cap,omitempty"`
	Budget   int      `json:"budget,omitempty"`
}

// FundRequest credits a devnet account with native coin, or with a token
// when Token is set.
type FundRequest struct {
	Account string `json:"account" binding:"required"`
	Token   string `json:"token,omitempty"`
	Amount  string `json:"amount" binding:"required"`
}

// NFTRequest mints TokenID to Owner, or moves it there when it exists.
type NFTRequest struct {
	Contract string `json:"contract" binding:"required"`
	TokenID  string `json:"token_id" binding:"required"`
	Owner    string `json:"owner" binding:"required"`
}

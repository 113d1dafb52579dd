package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TenantRow 持久化一个租户账本的元数据
type TenantRow struct {
	ID              uint          `gorm:"primaryKey"` // 自增, 即创建顺序
	Name            string        `gorm:"type:varchar(255);uniqueIndex;not null"`
	NameHash        string        `gorm:"type:varchar(66);not null"`
	Treasury        string        `gorm:"type:varchar(42);not null"`
	Master          string        `gorm:"type:varchar(42);not null"`
	Recorders       []string      `gorm:"serializer:json"`
	CurrencyKind    uint8         `gorm:"not null"`
	CurrencyAddress string        `gorm:"type:varchar(42)"`
	PayoutPeriod    time.Duration `gorm:"not null"` // 纳秒
	MaxBatchSize    int           `gorm:"not null"`
	ResolveOnSettle bool          `gorm:"not null;default:false"`
	Cursor          int           `gorm:"column:settle_cursor;not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (TenantRow) TableName() string { return "tenants" }

// RecordRow 是一条未结算记录 (UTXR), 以 (tenant, idx) 为主键
type RecordRow struct {
	Tenant        string              `gorm:"type:varchar(255);primaryKey;uniqueIndex:idx_tenant_request,priority:1"`
	Idx           int                 `gorm:"primaryKey;autoIncrement:false"`
	RequestID     string              `gorm:"type:varchar(255);not null;uniqueIndex:idx_tenant_request,priority:2"`
	Amount        decimal.Decimal     `gorm:"type:varchar(80);not null"`
	SourceChainID decimal.NullDecimal `gorm:"type:varchar(80)"`
	Recipient     string              `gorm:"type:varchar(42);not null"`
	NFTContract   string              `gorm:"type:varchar(42)"`
	TokenID       decimal.NullDecimal `gorm:"type:varchar(80)"`
	Status        string              `gorm:"type:varchar(16);index;not null"`
	CreatedAt     time.Time           `gorm:"not null"`
	FinalizedAt   *time.Time
	// 转账前写入, 结算或撤销后清除
	PayoutStarted bool `gorm:"not null;default:false"`
	// 已广播但未确认的结算交易
	TxHash string `gorm:"type:varchar(66)"`
}

func (RecordRow) TableName() string { return "ledger_records" }

// SettlerRow 记录注册表级的 settler 授权
type SettlerRow struct {
	Account   string `gorm:"type:varchar(42);primaryKey"`
	CreatedAt time.Time
}

func (SettlerRow) TableName() string { return "registry_settlers" }

// IdempotencyRow 缓存带 X-Idempotency-Key 的请求响应
type IdempotencyRow struct {
	Key        string `gorm:"type:varchar(255);primaryKey"`
	Processing bool   `gorm:"not null"`
	Status     int
	Body       []byte
	CreatedAt  time.Time `gorm:"index"`
}

func (IdempotencyRow) TableName() string { return "idempotency_keys" }

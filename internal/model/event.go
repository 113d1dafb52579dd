package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEvent 是一次账本或注册表状态变更的审计记录
type LedgerEvent struct {
	ID        string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type      string              `gorm:"type:varchar(64);index;not null" json:"type"`
	Tenant    string              `gorm:"type:varchar(255);index" json:"tenant,omitempty"`
	RequestID string              `gorm:"type:varchar(255)" json:"request_id,omitempty"`
	Index     *int                `json:"index,omitempty"`
	Amount    decimal.NullDecimal `gorm:"type:varchar(80)" json:"amount,omitempty"`
	Account   string              `gorm:"type:varchar(42)" json:"account,omitempty"`
	Detail    string              `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time           `gorm:"index" json:"created_at"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }

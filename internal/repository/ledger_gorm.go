package repository

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/ledger"
	"github.com/settlus/settlegate/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedgerRepo stores ledgers in the tenants, ledger_records and
// registry_settlers tables.
type GormLedgerRepo struct {
	db *gorm.DB
}

func NewGormLedgerRepo(db *gorm.DB) *GormLedgerRepo {
	return &GormLedgerRepo{db: db}
}

// SaveLedger upserts the tenant row and the given records in one transaction.
func (r *GormLedgerRepo) SaveLedger(ctx context.Context, meta ledger.State, records []ledger.Record) error {
	row := toTenantRow(meta)
	rows := make([]model.RecordRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, toRecordRow(meta.Name, rec))
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"treasury", "master", "recorders", "currency_kind", "currency_address",
				"payout_period", "max_batch_size", "resolve_on_settle", "settle_cursor", "updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert tenant %s: %w", meta.Name, err)
		}
		if len(rows) == 0 {
			return nil
		}
		// The in-memory record is authoritative: overwrite every column so rows
		// left behind by an earlier tenant of the same name cannot survive.
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant"}, {Name: "idx"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"request_id", "amount", "source_chain_id", "recipient", "nft_contract",
				"token_id", "status", "created_at", "finalized_at", "payout_started", "tx_hash",
			}),
		}).CreateInBatches(rows, 200).Error
		if err != nil {
			return fmt.Errorf("upsert records of %s: %w", meta.Name, err)
		}
		return nil
	})
}

func (r *GormLedgerRepo) DeleteLedger(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant = ?", name).Delete(&model.RecordRow{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", name).Delete(&model.TenantRow{}).Error
	})
}

// LoadLedgers returns every ledger in creation order with its records.
func (r *GormLedgerRepo) LoadLedgers(ctx context.Context) ([]ledger.State, error) {
	var tenants []model.TenantRow
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&tenants).Error; err != nil {
		return nil, err
	}
	var records []model.RecordRow
	if err := r.db.WithContext(ctx).Order("tenant ASC, idx ASC").Find(&records).Error; err != nil {
		return nil, err
	}

	byTenant := make(map[string][]ledger.Record, len(tenants))
	for _, row := range records {
		rec, err := fromRecordRow(row)
		if err != nil {
			return nil, err
		}
		byTenant[row.Tenant] = append(byTenant[row.Tenant], rec)
	}

	states := make([]ledger.State, 0, len(tenants))
	for _, t := range tenants {
		st := fromTenantRow(t)
		st.Records = byTenant[t.Name]
		states = append(states, st)
	}
	return states, nil
}

func (r *GormLedgerRepo) ListSettlers(ctx context.Context) ([]common.Address, error) {
	var rows []model.SettlerRow
	if err := r.db.WithContext(ctx).Order("account ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(rows))
	for _, row := range rows {
		out = append(out, common.HexToAddress(row.Account))
	}
	return out, nil
}

func (r *GormLedgerRepo) SaveSettler(ctx context.Context, account common.Address, granted bool) error {
	db := r.db.WithContext(ctx)
	if !granted {
		return db.Where("account = ?", account.Hex()).Delete(&model.SettlerRow{}).Error
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.SettlerRow{Account: account.Hex()}).Error
}

func toTenantRow(st ledger.State) model.TenantRow {
	recorders := make([]string, 0, len(st.Recorders))
	for _, acct := range st.Recorders {
		recorders = append(recorders, acct.Hex())
	}
	row := model.TenantRow{
		Name:            st.Name,
		NameHash:        ledgerKey(st.Name),
		Treasury:        st.Treasury.Hex(),
		Master:          st.Master.Hex(),
		Recorders:       recorders,
		CurrencyKind:    uint8(st.Currency.Kind),
		PayoutPeriod:    st.PayoutPeriod,
		MaxBatchSize:    st.MaxBatchSize,
		ResolveOnSettle: st.ResolveOnSettle,
		Cursor:          st.Cursor,
		CreatedAt:       st.CreatedAt,
	}
	if st.Currency.Kind.NeedsToken() {
		row.CurrencyAddress = st.Currency.Address.Hex()
	}
	return row
}

func fromTenantRow(row model.TenantRow) ledger.State {
	st := ledger.State{
		Name:            row.Name,
		Treasury:        common.HexToAddress(row.Treasury),
		Master:          common.HexToAddress(row.Master),
		Currency:        currency.Currency{Kind: currency.Kind(row.CurrencyKind)},
		PayoutPeriod:    row.PayoutPeriod,
		MaxBatchSize:    row.MaxBatchSize,
		ResolveOnSettle: row.ResolveOnSettle,
		Cursor:          row.Cursor,
		CreatedAt:       row.CreatedAt.UTC(),
	}
	if row.CurrencyAddress != "" {
		st.Currency.Address = common.HexToAddress(row.CurrencyAddress)
	}
	for _, acct := range row.Recorders {
		st.Recorders = append(st.Recorders, common.HexToAddress(acct))
	}
	return st
}

func toRecordRow(tenant string, rec ledger.Record) model.RecordRow {
	row := model.RecordRow{
		Tenant:        tenant,
		Idx:           rec.Index,
		RequestID:     rec.RequestID,
		Amount:        toDecimal(rec.Amount),
		SourceChainID: toNullDecimal(rec.SourceChainID),
		Recipient:     rec.Recipient.Hex(),
		TokenID:       toNullDecimal(rec.TokenID),
		Status:        rec.Status.String(),
		CreatedAt:     rec.CreatedAt,
		PayoutStarted: rec.PayoutStarted,
	}
	if rec.NFTBacked() {
		row.NFTContract = rec.NFTContract.Hex()
	}
	if !rec.FinalizedAt.IsZero() {
		at := rec.FinalizedAt
		row.FinalizedAt = &at
	}
	if rec.TxHash != (common.Hash{}) {
		row.TxHash = rec.TxHash.Hex()
	}
	return row
}

func fromRecordRow(row model.RecordRow) (ledger.Record, error) {
	status, err := ledger.ParseStatus(row.Status)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("record %s/%d: %w", row.Tenant, row.Idx, err)
	}
	rec := ledger.Record{
		Index:         row.Idx,
		RequestID:     row.RequestID,
		Amount:        row.Amount.BigInt(),
		SourceChainID: fromNullDecimal(row.SourceChainID),
		Recipient:     common.HexToAddress(row.Recipient),
		TokenID:       fromNullDecimal(row.TokenID),
		CreatedAt:     row.CreatedAt.UTC(),
		Status:        status,
		PayoutStarted: row.PayoutStarted,
	}
	if row.NFTContract != "" {
		rec.NFTContract = common.HexToAddress(row.NFTContract)
	}
	if row.FinalizedAt != nil {
		rec.FinalizedAt = row.FinalizedAt.UTC()
	}
	if row.TxHash != "" {
		rec.TxHash = common.HexToHash(row.TxHash)
	}
	return rec, nil
}

func toDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

func toNullDecimal(v *big.Int) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromBigInt(v, 0))
}

func fromNullDecimal(d decimal.NullDecimal) *big.Int {
	if !d.Valid {
		return nil
	}
	return d.Decimal.BigInt()
}

func ledgerKey(name string) string {
	return crypto.Keccak256Hash([]byte(name)).Hex()
}

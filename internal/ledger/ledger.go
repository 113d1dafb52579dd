// Package ledger implements the per-tenant deferred settlement queue.
//
// A Ledger owns an append-only sequence of records and a settlement cursor.
// Every index below the cursor is terminal. Records become eligible once they
// have aged one payout period and are paid, in order, from the tenant
// treasury through the ledger's currency adapter.
//
// A Ledger is not safe for concurrent use; callers serialise access (the
// service layer holds one lock per registry).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/ownership"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
)

// DefaultMaxBatchSize bounds records drained per Settle call when the tenant
// does not choose its own cap.
const DefaultMaxBatchSize = 5

type Config struct {
	Name            string
	Treasury        common.Address
	Master          common.Address
	PayoutPeriod    time.Duration
	MaxBatchSize    int
	ResolveOnSettle bool
}

type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithCheckpoint installs the hook Settle calls to persist a payout intent
// before moving funds.
func WithCheckpoint(fn func(context.Context, *Ledger) error) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.checkpoint = fn
		}
	}
}

func WithEventSink(sink EventSink) Option {
	return func(l *Ledger) {
		if sink != nil {
			l.sink = sink
		}
	}
}

type Ledger struct {
	name            string
	treasury        common.Address
	master          common.Address
	recorders       map[common.Address]struct{}
	payoutPeriod    time.Duration
	maxBatchSize    int
	resolveOnSettle bool
	createdAt       time.Time

	currency currency.Adapter
	resolver ownership.Resolver

	records []Record
	index   map[string]int
	cursor  int

	now        func() time.Time
	sink       EventSink
	checkpoint func(context.Context, *Ledger) error

	dirtyMeta bool
	dirty     map[int]struct{}
}

// Outcome summarises one Settle call.
type Outcome struct {
	Settled  int
	Examined int
	Halted   bool
	Cursor   int
}

func New(cfg Config, adapter currency.Adapter, resolver ownership.Resolver, opts ...Option) (*Ledger, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, apperrors.NewInvalidRequest("tenant name is required")
	}
	if adapter == nil {
		return nil, apperrors.NewInvalidRequest("currency adapter is required")
	}
	if cfg.PayoutPeriod < 0 {
		return nil, apperrors.NewInvalidRequest("payout period must not be negative")
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	l := &Ledger{
		name:            cfg.Name,
		treasury:        cfg.Treasury,
		master:          cfg.Master,
		recorders:       make(map[common.Address]struct{}),
		payoutPeriod:    cfg.PayoutPeriod,
		maxBatchSize:    cfg.MaxBatchSize,
		resolveOnSettle: cfg.ResolveOnSettle,
		currency:        adapter,
		resolver:        resolver,
		index:           make(map[string]int),
		now:             time.Now,
		sink:            discardSink{},
		checkpoint:      noCheckpoint,
		dirtyMeta:       true,
		dirty:           make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.createdAt = l.now().UTC()
	return l, nil
}

func (l *Ledger) Name() string                { return l.name }
func (l *Ledger) Treasury() common.Address    { return l.treasury }
func (l *Ledger) Master() common.Address      { return l.master }
func (l *Ledger) PayoutPeriod() time.Duration { return l.payoutPeriod }
func (l *Ledger) MaxBatchSize() int           { return l.maxBatchSize }
func (l *Ledger) ResolveOnSettle() bool       { return l.resolveOnSettle }
func (l *Ledger) Cursor() int                 { return l.cursor }
func (l *Ledger) Len() int                    { return len(l.records) }
func (l *Ledger) CreatedAt() time.Time        { return l.createdAt }
func (l *Ledger) Currency() currency.Currency { return l.currency.Currency() }
func (l *Ledger) Adapter() currency.Adapter   { return l.currency }

func (l *Ledger) Recorders() []common.Address {
	out := make([]common.Address, 0, len(l.recorders))
	for acct := range l.recorders {
		out = append(out, acct)
	}
	sortAddresses(out)
	return out
}

// Lookup returns the record stored under requestID.
func (l *Ledger) Lookup(requestID string) (Record, bool) {
	idx, ok := l.index[requestID]
	if !ok {
		return Record{}, false
	}
	return l.records[idx].clone(), true
}

// At returns the record at index i.
func (l *Ledger) At(i int) (Record, bool) {
	if i < 0 || i >= len(l.records) {
		return Record{}, false
	}
	return l.records[i].clone(), true
}

// Records returns a copy of records[offset:offset+limit].
func (l *Ledger) Records(offset, limit int) []Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(l.records) {
		return []Record{}
	}
	end := len(l.records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Record, 0, end-offset)
	for _, r := range l.records[offset:end] {
		out = append(out, r.clone())
	}
	return out
}

// Record appends a Pending record and returns its index. No currency moves.
func (l *Ledger) Record(ctx context.Context, caller common.Address, p RecordParams) (int, error) {
	if !l.HasRole(RoleRecorder, caller) {
		return 0, apperrors.NewUnauthorized(fmt.Sprintf("account %s cannot record on tenant %s", caller.Hex(), l.name))
	}
	if p.RequestID == "" {
		return 0, apperrors.NewInvalidRequest("request_id is required")
	}
	if p.Amount == nil || p.Amount.Sign() < 0 {
		return 0, apperrors.NewInvalidRequest("amount must be a non-negative integer")
	}
	if _, dup := l.index[p.RequestID]; dup {
		return 0, apperrors.New(apperrors.ErrDuplicateRequestID, fmt.Sprintf("request_id %q already recorded on tenant %s", p.RequestID, l.name), nil)
	}

	recipient := p.Recipient
	if p.NFTContract != (common.Address{}) {
		owner, err := l.resolveOwner(ctx, p.NFTContract, p.TokenID)
		if err != nil {
			return 0, err
		}
		recipient = owner
	} else if recipient == (common.Address{}) {
		return 0, apperrors.NewInvalidRequest("recipient is required when no nft_contract is given")
	}

	createdAt := l.now().UTC()
	// Keep the queue ordered by creation time even if the clock steps back.
	if n := len(l.records); n > 0 && createdAt.Before(l.records[n-1].CreatedAt) {
		createdAt = l.records[n-1].CreatedAt
	}

	idx := len(l.records)
	rec := Record{
		Index:         idx,
		RequestID:     p.RequestID,
		Amount:        copyInt(p.Amount),
		SourceChainID: copyInt(p.SourceChainID),
		Recipient:     recipient,
		NFTContract:   p.NFTContract,
		TokenID:       copyInt(p.TokenID),
		CreatedAt:     createdAt,
		Status:        Pending,
	}
	l.records = append(l.records, rec)
	l.index[p.RequestID] = idx
	l.dirty[idx] = struct{}{}

	l.emit(Event{Type: EventRecordCreated, RequestID: rec.RequestID, Index: idx, Amount: copyInt(rec.Amount), Account: recipient})
	return idx, nil
}

// Cancel voids a Pending record while it is still inside its payout period.
func (l *Ledger) Cancel(caller common.Address, requestID string) error {
	if !l.HasRole(RoleMaster, caller) {
		return apperrors.NewUnauthorized(fmt.Sprintf("only the master of tenant %s can cancel records", l.name))
	}
	idx, ok := l.index[requestID]
	if !ok {
		return apperrors.New(apperrors.ErrRecordNotFound, fmt.Sprintf("request_id %q not found on tenant %s", requestID, l.name), nil)
	}
	rec := &l.records[idx]
	if rec.Status != Pending {
		return apperrors.New(apperrors.ErrAlreadyFinal, fmt.Sprintf("request_id %q is already %s", requestID, rec.Status), nil)
	}
	if rec.InFlight() {
		return apperrors.New(apperrors.ErrAlreadyFinal, fmt.Sprintf("request_id %q has a payout in flight", requestID), nil)
	}
	now := l.now().UTC()
	if rec.eligible(now, l.payoutPeriod) {
		return apperrors.New(apperrors.ErrPastPayoutPeriod, fmt.Sprintf("request_id %q became due at %s", requestID, rec.EligibleAt(l.payoutPeriod).Format(time.RFC3339)), nil)
	}

	rec.Status = Canceled
	rec.FinalizedAt = now
	l.dirty[idx] = struct{}{}
	l.emit(Event{Type: EventRecordCanceled, RequestID: requestID, Index: idx, Amount: copyInt(rec.Amount), Account: rec.Recipient})
	return nil
}

// Settle drains eligible records from the cursor, examining at most
// min(maxToProcess, MaxBatchSize) of them. maxToProcess <= 0 means the
// ledger's own cap.
//
// Processing stops at the first Pending record that is not yet eligible. A
// failed payout halts at that record: it stays Pending, the cursor stays on
// it, and the returned error carries TRANSFER_FAILED (or
// OWNER_RESOLUTION_FAILED when the owner is re-resolved). Records settled
// earlier in the same call remain settled.
//
// Before each transfer the record is marked in flight and the checkpoint
// (see WithCheckpoint) persists that mark; a failed checkpoint halts without
// paying. A payout the adapter reports as submitted but unconfirmed keeps its
// tx hash on the record, and later calls read that tx's receipt instead of
// paying again: confirmed settles the record, reverted makes it payable
// again, anything else halts. An in-flight record without a hash, which only
// a lost write can produce, halts until ResolvePayout decides it.
func (l *Ledger) Settle(ctx context.Context, maxToProcess int) (Outcome, error) {
	limit := l.maxBatchSize
	if maxToProcess > 0 && maxToProcess < limit {
		limit = maxToProcess
	}
	now := l.now().UTC()
	out := Outcome{}
	startCursor := l.cursor

	for out.Examined < limit && l.cursor < len(l.records) {
		idx := l.cursor
		rec := &l.records[idx]

		if rec.Status.Terminal() {
			out.Examined++
			l.cursor++
			continue
		}
		if rec.InFlight() {
			out.Examined++
			confirmed, err := l.checkSubmitted(ctx, rec)
			if err != nil {
				return l.halt(out, startCursor, rec, err)
			}
			if confirmed {
				l.markSettled(idx, rec, rec.Recipient, now)
				out.Settled++
				continue
			}
			// reverted: the mark is cleared and the record is paid below
		} else {
			if !rec.eligible(now, l.payoutPeriod) {
				break
			}
			out.Examined++
		}

		payee := rec.Recipient
		if l.resolveOnSettle && rec.NFTBacked() {
			owner, err := l.resolveOwner(ctx, rec.NFTContract, rec.TokenID)
			if err != nil {
				return l.halt(out, startCursor, rec, err)
			}
			payee = owner
		}

		rec.Recipient = payee
		rec.PayoutStarted = true
		l.dirty[idx] = struct{}{}
		if l.cursor != startCursor {
			l.dirtyMeta = true
		}
		if err := l.checkpoint(ctx, l); err != nil {
			rec.PayoutStarted = false
			return l.halt(out, startCursor, rec, apperrors.New(apperrors.ErrPersistence,
				fmt.Sprintf("saving payout intent of request_id %q on tenant %s", rec.RequestID, l.name), err))
		}

		if err := l.currency.Transfer(ctx, l.treasury, payee, rec.Amount); err != nil {
			var submitted *currency.SubmittedError
			if errors.As(err, &submitted) {
				rec.TxHash = submitted.TxHash
			} else {
				rec.PayoutStarted = false
			}
			l.dirty[idx] = struct{}{}
			return l.halt(out, startCursor, rec, apperrors.New(apperrors.ErrTransferFailed,
				fmt.Sprintf("settling request_id %q on tenant %s", rec.RequestID, l.name), err))
		}

		l.markSettled(idx, rec, payee, now)
		out.Settled++
	}

	if l.cursor != startCursor {
		l.dirtyMeta = true
	}
	out.Cursor = l.cursor
	return out, nil
}

// ResolvePayout decides an in-flight payout whose outcome was established
// off-ledger. paid settles the record; otherwise it becomes payable again.
func (l *Ledger) ResolvePayout(caller common.Address, requestID string, paid bool) error {
	if !l.HasRole(RoleMaster, caller) {
		return apperrors.NewUnauthorized(fmt.Sprintf("only the master of tenant %s can resolve payouts", l.name))
	}
	idx, ok := l.index[requestID]
	if !ok {
		return apperrors.New(apperrors.ErrRecordNotFound, fmt.Sprintf("request_id %q not found on tenant %s", requestID, l.name), nil)
	}
	rec := &l.records[idx]
	if rec.Status.Terminal() {
		return apperrors.New(apperrors.ErrAlreadyFinal, fmt.Sprintf("request_id %q is already %s", requestID, rec.Status), nil)
	}
	if !rec.InFlight() {
		return apperrors.NewInvalidRequest(fmt.Sprintf("request_id %q has no payout in flight", requestID))
	}
	if !paid {
		rec.PayoutStarted = false
		rec.TxHash = common.Hash{}
		l.dirty[idx] = struct{}{}
		return nil
	}
	now := l.now().UTC()
	if idx == l.cursor {
		l.markSettled(idx, rec, rec.Recipient, now)
		l.dirtyMeta = true
		return nil
	}
	// Settle skips terminal records when the cursor reaches them.
	rec.Status = Settled
	rec.FinalizedAt = now
	rec.PayoutStarted = false
	l.dirty[idx] = struct{}{}
	l.emit(Event{Type: EventRecordSettled, RequestID: rec.RequestID, Index: idx, Amount: copyInt(rec.Amount), Account: rec.Recipient, Detail: "resolved"})
	return nil
}

func (l *Ledger) markSettled(idx int, rec *Record, payee common.Address, now time.Time) {
	rec.Recipient = payee
	rec.Status = Settled
	rec.FinalizedAt = now
	rec.PayoutStarted = false
	l.dirty[idx] = struct{}{}
	l.cursor++
	ev := Event{Type: EventRecordSettled, RequestID: rec.RequestID, Index: idx, Amount: copyInt(rec.Amount), Account: payee}
	if rec.TxHash != (common.Hash{}) {
		ev.Detail = rec.TxHash.Hex()
	}
	l.emit(ev)
}

// checkSubmitted resolves an in-flight payout. It returns true once the tx is
// confirmed; a reverted tx clears the mark and returns false.
func (l *Ledger) checkSubmitted(ctx context.Context, rec *Record) (bool, error) {
	if rec.TxHash == (common.Hash{}) {
		return false, apperrors.New(apperrors.ErrTransferFailed,
			fmt.Sprintf("payout of request_id %q on tenant %s was started but its outcome is unknown", rec.RequestID, l.name), nil)
	}
	failed := func(err error) (bool, error) {
		return false, apperrors.New(apperrors.ErrTransferFailed,
			fmt.Sprintf("payout tx %s of request_id %q on tenant %s is unconfirmed", rec.TxHash.Hex(), rec.RequestID, l.name), err)
	}
	checker, ok := l.currency.(currency.ReceiptChecker)
	if !ok {
		return failed(currency.ErrUnsupported)
	}
	state, err := checker.TxStatus(ctx, rec.TxHash)
	if err != nil {
		return failed(err)
	}
	switch state {
	case currency.TxConfirmed:
		return true, nil
	case currency.TxReverted:
		rec.PayoutStarted = false
		rec.TxHash = common.Hash{}
		l.dirty[rec.Index] = struct{}{}
		return false, nil
	default:
		return failed(errors.New("receipt not available yet"))
	}
}

func noCheckpoint(context.Context, *Ledger) error { return nil }

func (l *Ledger) halt(out Outcome, startCursor int, rec *Record, err error) (Outcome, error) {
	if l.cursor != startCursor {
		l.dirtyMeta = true
	}
	out.Halted = true
	out.Cursor = l.cursor
	l.emit(Event{Type: EventSettlementHalted, RequestID: rec.RequestID, Index: rec.Index, Amount: copyInt(rec.Amount), Account: rec.Recipient, Detail: err.Error()})
	return out, err
}

// NeedsSettlement is true iff a Pending record at or after the cursor is
// eligible now. Creation times are non-decreasing, so the oldest Pending
// record decides.
func (l *Ledger) NeedsSettlement() bool {
	now := l.now().UTC()
	for i := l.cursor; i < len(l.records); i++ {
		if l.records[i].Status == Pending {
			return l.records[i].InFlight() || l.records[i].eligible(now, l.payoutPeriod)
		}
	}
	return false
}

// HasBacklog is true while any Pending record remains at or after the cursor,
// eligible or not.
func (l *Ledger) HasBacklog() bool {
	for i := l.cursor; i < len(l.records); i++ {
		if l.records[i].Status == Pending {
			return true
		}
	}
	return false
}

// NextEligibleAt returns when the oldest Pending record becomes due.
func (l *Ledger) NextEligibleAt() (time.Time, bool) {
	for i := l.cursor; i < len(l.records); i++ {
		if l.records[i].Status == Pending {
			return l.records[i].EligibleAt(l.payoutPeriod), true
		}
	}
	return time.Time{}, false
}

func (l *Ledger) SetPayoutPeriod(caller common.Address, period time.Duration) error {
	if !l.HasRole(RoleMaster, caller) {
		return apperrors.NewUnauthorized(fmt.Sprintf("only the master of tenant %s can set the payout period", l.name))
	}
	if period < 0 {
		return apperrors.NewInvalidRequest("payout period must not be negative")
	}
	l.payoutPeriod = period
	l.dirtyMeta = true
	l.emit(Event{Type: EventPayoutPeriodChanged, Account: caller, Detail: period.String()})
	return nil
}

// SetCurrency swaps the adapter used for records not yet settled.
func (l *Ledger) SetCurrency(caller common.Address, adapter currency.Adapter) error {
	if !l.HasRole(RoleMaster, caller) {
		return apperrors.NewUnauthorized(fmt.Sprintf("only the master of tenant %s can change the currency", l.name))
	}
	if adapter == nil {
		return apperrors.NewInvalidRequest("currency adapter is required")
	}
	l.currency = adapter
	l.dirtyMeta = true
	l.emit(Event{Type: EventCurrencyChanged, Account: caller, Detail: adapter.Currency().String()})
	return nil
}

func (l *Ledger) AddRecorder(caller, account common.Address) error {
	if !l.HasRole(RoleMaster, caller) {
		return apperrors.NewUnauthorized(fmt.Sprintf("only the master of tenant %s can add recorders", l.name))
	}
	if account == (common.Address{}) {
		return apperrors.NewInvalidRequest("recorder account is required")
	}
	if _, ok := l.recorders[account]; ok {
		return nil
	}
	l.recorders[account] = struct{}{}
	l.dirtyMeta = true
	l.emit(Event{Type: EventRecorderAdded, Account: account})
	return nil
}

func (l *Ledger) RemoveRecorder(caller, account common.Address) error {
	if !l.HasRole(RoleMaster, caller) {
		return apperrors.NewUnauthorized(fmt.Sprintf("only the master of tenant %s can remove recorders", l.name))
	}
	if _, ok := l.recorders[account]; !ok {
		return apperrors.NewNotFound(fmt.Sprintf("account %s is not a recorder of tenant %s", account.Hex(), l.name))
	}
	delete(l.recorders, account)
	l.dirtyMeta = true
	l.emit(Event{Type: EventRecorderRemoved, Account: account})
	return nil
}

// MintTreasury issues tenant-controlled currency into the treasury.
func (l *Ledger) MintTreasury(ctx context.Context, caller common.Address, amount *big.Int) error {
	if !l.HasRole(RoleMaster, caller) {
		return apperrors.NewUnauthorized(fmt.Sprintf("only the master of tenant %s can mint", l.name))
	}
	if amount == nil || amount.Sign() <= 0 {
		return apperrors.NewInvalidRequest("mint amount must be positive")
	}
	minter, ok := l.currency.(currency.Minter)
	if !ok {
		return apperrors.NewInvalidRequest(fmt.Sprintf("currency %s of tenant %s is not mintable", l.currency.Currency(), l.name))
	}
	if err := minter.Mint(ctx, l.treasury, l.treasury, amount); err != nil {
		return apperrors.New(apperrors.ErrUpstream, fmt.Sprintf("mint on tenant %s failed", l.name), err)
	}
	l.emit(Event{Type: EventTreasuryMinted, Amount: copyInt(amount), Account: l.treasury})
	return nil
}

func (l *Ledger) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	bal, err := l.currency.BalanceOf(ctx, l.treasury)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrUpstream, "treasury balance unavailable", err)
	}
	return bal, nil
}

func (l *Ledger) resolveOwner(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error) {
	if l.resolver == nil {
		return common.Address{}, apperrors.New(apperrors.ErrOwnerResolution, "no ownership resolver configured", nil)
	}
	if tokenID == nil {
		return common.Address{}, apperrors.NewInvalidRequest("token_id is required with nft_contract")
	}
	owner, err := l.resolver.OwnerOf(ctx, contract, tokenID)
	if err != nil {
		return common.Address{}, apperrors.New(apperrors.ErrOwnerResolution,
			fmt.Sprintf("cannot resolve owner of %s #%s", contract.Hex(), tokenID), err)
	}
	return owner, nil
}

func (l *Ledger) emit(e Event) {
	e.Tenant = l.name
	if e.At.IsZero() {
		e.At = l.now().UTC()
	}
	l.sink.Emit(e)
}

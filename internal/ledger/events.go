package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type EventType string

const (
	EventRecordCreated       EventType = "record.created"
	EventRecordCanceled      EventType = "record.canceled"
	EventRecordSettled       EventType = "record.settled"
	EventSettlementHalted    EventType = "settlement.halted"
	EventPayoutPeriodChanged EventType = "ledger.payout_period_changed"
	EventCurrencyChanged     EventType = "ledger.currency_changed"
	EventRecorderAdded       EventType = "ledger.recorder_added"
	EventRecorderRemoved     EventType = "ledger.recorder_removed"
	EventTreasuryMinted      EventType = "ledger.treasury_minted"
)

// Event is emitted synchronously after a state transition commits in memory.
type Event struct {
	Type      EventType
	Tenant    string
	RequestID string
	Index     int
	Amount    *big.Int
	Account   common.Address
	Detail    string
	At        time.Time
}

type EventSink interface {
	Emit(Event)
}

type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Emit(Event) {}

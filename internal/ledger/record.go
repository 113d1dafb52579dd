package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Status uint8

const (
	Pending Status = iota
	Settled
	Canceled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Settled:
		return "settled"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "pending":
		return Pending, nil
	case "settled":
		return Settled, nil
	case "canceled", "cancelled":
		return Canceled, nil
	default:
		return 0, fmt.Errorf("unknown record status %q", s)
	}
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == Settled || s == Canceled
}

// Record is one unsettled transaction record (UTXR).
type Record struct {
	Index         int
	RequestID     string
	Amount        *big.Int
	SourceChainID *big.Int
	Recipient     common.Address
	NFTContract   common.Address
	TokenID       *big.Int
	CreatedAt     time.Time
	Status        Status
	// FinalizedAt is set when the record becomes Settled or Canceled.
	FinalizedAt time.Time
	// PayoutStarted is set before funds move. While it is set on a Pending
	// record the payout is never sent again, only checked or resolved.
	PayoutStarted bool
	// TxHash is the broadcast payout tx whose receipt is still awaited.
	TxHash common.Hash
}

// InFlight reports whether a payout for the record was started but not
// finished.
func (r Record) InFlight() bool {
	return r.Status == Pending && r.PayoutStarted
}

// NFTBacked reports whether the recipient derives from an NFT owner.
func (r Record) NFTBacked() bool {
	return r.NFTContract != (common.Address{})
}

// EligibleAt is the earliest instant the record may be settled.
func (r Record) EligibleAt(payoutPeriod time.Duration) time.Time {
	return r.CreatedAt.Add(payoutPeriod)
}

func (r Record) eligible(now time.Time, payoutPeriod time.Duration) bool {
	return !now.Before(r.EligibleAt(payoutPeriod))
}

func (r Record) clone() Record {
	r.Amount = copyInt(r.Amount)
	r.SourceChainID = copyInt(r.SourceChainID)
	r.TokenID = copyInt(r.TokenID)
	return r
}

// RecordParams are the caller-supplied fields of a new record.
// Recipient is only read when NFTContract is the zero address.
type RecordParams struct {
	RequestID     string
	Amount        *big.Int
	SourceChainID *big.Int
	Recipient     common.Address
	NFTContract   common.Address
	TokenID       *big.Int
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type Role = common.Hash

var (
	// RoleMaster administers one ledger: cancel, policy, recorders, mint.
	RoleMaster = crypto.Keccak256Hash([]byte("MASTER_ROLE"))
	// RoleRecorder may append records.
	RoleRecorder = crypto.Keccak256Hash([]byte("RECORDER_ROLE"))
)

// HasRole answers the ledger-scoped role check. The master implicitly holds
// the recorder role.
func (l *Ledger) HasRole(role Role, account common.Address) bool {
	switch role {
	case RoleMaster:
		return account == l.master
	case RoleRecorder:
		if account == l.master {
			return true
		}
		_, ok := l.recorders[account]
		return ok
	default:
		return false
	}
}

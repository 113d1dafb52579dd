package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20ABI covers the token surface used for settlement. mint is the
// tenant-scoped issuance entry point of tokens deployed for a tenant.
const ERC20ABI = `[
	{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"mint","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// TenantManagerABI is the keeper entry point of the on-chain manager.
const TenantManagerABI = `[
	{"inputs":[],"name":"settleAll","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"getSettleRequiredTenants","outputs":[{"name":"","type":"address[]"}],"stateMutability":"view","type":"function"}
]`

var (
	erc20ABI         = MustParseABI(ERC20ABI)
	tenantManagerABI = MustParseABI(TenantManagerABI)
)

func MustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func TenantManager() abi.ABI {
	return tenantManagerABI
}

package service

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/config"
	"golang.org/x/time/rate"
)

// Account 是一个 API 调用方, 映射到链上账户地址
type Account struct {
	Name    string
	Address common.Address
	APIKey  string
	QPS     float64
	Burst   int
}

// AccountDirectory 管理 API Key -> 账户 以及每个账户的限流器
type AccountDirectory struct {
	mu       sync.RWMutex
	accounts map[string]*Account              // Key: API key
	limiters map[common.Address]*rate.Limiter // Key: account address
}

func NewAccountDirectory(cfgs []config.AccountConfig) (*AccountDirectory, error) {
	d := &AccountDirectory{
		accounts: make(map[string]*Account),
		limiters: make(map[common.Address]*rate.Limiter),
	}
	for _, c := range cfgs {
		addr := strings.TrimSpace(c.Address)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("account %q: invalid address %q", c.Name, c.Address)
		}
		if strings.TrimSpace(c.APIKey) == "" {
			return nil, fmt.Errorf("account %q: api_key is required", c.Name)
		}
		d.Register(&Account{
			Name:    c.Name,
			Address: common.HexToAddress(addr),
			APIKey:  strings.TrimSpace(c.APIKey),
			QPS:     c.QPS,
			Burst:   c.Burst,
		})
	}
	return d, nil
}

func (d *AccountDirectory) Register(a *Account) {
	if a == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[a.APIKey] = a

	// QPS 为 0 表示不限流
	limit := rate.Limit(a.QPS)
	if limit == 0 {
		limit = rate.Inf
	}
	burst := a.Burst
	if burst == 0 {
		burst = 1
	}
	d.limiters[a.Address] = rate.NewLimiter(limit, burst)
}

func (d *AccountDirectory) Remove(apiKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[apiKey]
	if !ok {
		return
	}
	delete(d.accounts, apiKey)
	for _, other := range d.accounts {
		if other.Address == a.Address {
			return
		}
	}
	delete(d.limiters, a.Address)
}

func (d *AccountDirectory) ByAPIKey(apiKey string) (*Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[apiKey]
	return a, ok
}

func (d *AccountDirectory) Limiter(account common.Address) *rate.Limiter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.limiters[account]
}

func (d *AccountDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.accounts)
}

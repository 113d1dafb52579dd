package keeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/settlus/settlegate/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

// BalanceSource is satisfied by *chain.Client and *chain.Memory.
type BalanceSource interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// BalanceMonitor alerts when the settler wallet enters or leaves the danger
// zone, and again on every further drop of at least decrease while in it.
type BalanceMonitor struct {
	source   BalanceSource
	account  common.Address
	every    uint64
	danger   *big.Int
	decrease *big.Int
	notifier Notifier

	mu          sync.Mutex
	lastAlert   *big.Int
	wasInDanger bool
}

// NewBalanceMonitor takes the thresholds in ether.
func NewBalanceMonitor(source BalanceSource, account common.Address, every uint64, dangerEth, decreaseEth string, notifier Notifier) (*BalanceMonitor, error) {
	danger, err := etherToWei(dangerEth)
	if err != nil {
		return nil, fmt.Errorf("danger threshold: %w", err)
	}
	decrease, err := etherToWei(decreaseEth)
	if err != nil {
		return nil, fmt.Errorf("decrease threshold: %w", err)
	}
	return &BalanceMonitor{
		source:   source,
		account:  account,
		every:    every,
		danger:   danger,
		decrease: decrease,
		notifier: notifier,
	}, nil
}

// due reports whether block is a checkpoint: the last block of a window or
// the first of the next.
func (m *BalanceMonitor) due(block uint64) bool {
	if m.every <= 1 {
		return true
	}
	r := block % m.every
	return r == 0 || r == m.every-1
}

func (m *BalanceMonitor) Check(ctx context.Context, block uint64) error {
	if !m.due(block) {
		return nil
	}
	balance, err := m.source.NativeBalance(ctx, m.account)
	if err != nil {
		return fmt.Errorf("failed to check balance: %w", err)
	}
	f, _ := new(big.Float).SetInt(balance).Float64()
	metrics.SettlerBalance.Set(f)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !shouldSendAlert(balance, m.lastAlert, m.wasInDanger, m.danger, m.decrease) {
		return nil
	}
	isDanger := balance.Cmp(m.danger) < 0
	m.wasInDanger = isDanger
	m.lastAlert = new(big.Int).Set(balance)
	return m.alert(ctx, balance, isDanger)
}

func (m *BalanceMonitor) alert(ctx context.Context, balance *big.Int, isDanger bool) error {
	var message string
	if isDanger {
		message = fmt.Sprintf(":warning: Settler wallet balance is below the danger threshold.\n *Address*: %s\n *Balance*: %s ETH\n",
			m.account.Hex(), formatEther(balance))
		logger.Warn("settler balance in danger", "address", m.account.Hex(), "balance_eth", formatEther(balance))
	} else {
		message = fmt.Sprintf(":white_check_mark: Settler wallet balance recovered.\n *Address*: %s\n *Balance*: %s ETH\n",
			m.account.Hex(), formatEther(balance))
		logger.Info("settler balance recovered", "address", m.account.Hex(), "balance_eth", formatEther(balance))
	}
	if m.notifier == nil {
		return nil
	}
	if err := m.notifier.Notify(ctx, message); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

func shouldSendAlert(current, lastAlert *big.Int, wasInDanger bool, danger, decrease *big.Int) bool {
	isDanger := current.Cmp(danger) < 0
	if isDanger != wasInDanger {
		return true
	}
	if isDanger && lastAlert != nil {
		return new(big.Int).Sub(lastAlert, current).Cmp(decrease) >= 0
	}
	return false
}

func etherToWei(eth string) (*big.Int, error) {
	d, err := decimal.NewFromString(eth)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", eth, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q must not be negative", eth)
	}
	return d.Shift(18).BigInt(), nil
}

func formatEther(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -18).StringFixed(6)
}

// SlackNotifier posts messages to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *SlackNotifier) Notify(ctx context.Context, message string) error {
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack notification failed: %d", resp.StatusCode)
	}
	return nil
}

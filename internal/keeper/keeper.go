package keeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/settlus/settlegate/internal/pkg/metrics"
)

// Driver performs one settlement trigger.
type Driver interface {
	Name() string
	Settle(ctx context.Context, block uint64) error
}

// HeadSource is satisfied by *ethclient.Client.
type HeadSource interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var errSubscriptionClosed = errors.New("head subscription closed")

// Keeper triggers its driver on every new head when a HeadSource is set,
// and on a ticker otherwise. A failed head subscription falls back to
// polling the block number.
type Keeper struct {
	driver   Driver
	interval time.Duration
	heads    HeadSource
	monitor  *BalanceMonitor

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Keeper)

func WithHeads(heads HeadSource) Option {
	return func(k *Keeper) { k.heads = heads }
}

func WithBalanceMonitor(m *BalanceMonitor) Option {
	return func(k *Keeper) { k.monitor = m }
}

func New(driver Driver, interval time.Duration, opts ...Option) *Keeper {
	if interval <= 0 {
		interval = time.Minute
	}
	k := &Keeper{driver: driver, interval: interval}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Start runs the keeper in the background until Stop or ctx is done.
func (k *Keeper) Start(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return
	}
	ctx, k.cancel = context.WithCancel(ctx)
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.Run(ctx)
	}()
}

func (k *Keeper) Stop() {
	k.mu.Lock()
	cancel := k.cancel
	k.cancel = nil
	k.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	k.wg.Wait()
}

// Run blocks until ctx is done.
func (k *Keeper) Run(ctx context.Context) {
	logger.Info("keeper started", "driver", k.driver.Name(), "interval", k.interval.String(), "heads", k.heads != nil)
	defer logger.Info("keeper stopped", "driver", k.driver.Name())

	if k.heads != nil {
		err := k.followHeads(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("head subscription failed, falling back to polling", "error", err)
	}
	k.poll(ctx)
}

func (k *Keeper) followHeads(ctx context.Context) error {
	headers := make(chan *types.Header, 16)
	sub, err := k.heads.SubscribeNewHead(ctx, headers)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return errSubscriptionClosed
			}
			return err
		case header := <-headers:
			if header == nil || header.Number == nil {
				continue
			}
			k.trigger(ctx, header.Number.Uint64())
		}
	}
}

func (k *Keeper) poll(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		block := last + 1
		if k.heads != nil {
			n, err := k.heads.BlockNumber(ctx)
			if err != nil {
				logger.Warn("block number query failed", "error", err)
				continue
			}
			if n == last {
				continue
			}
			block = n
		}
		last = block
		k.trigger(ctx, block)
	}
}

func (k *Keeper) trigger(ctx context.Context, block uint64) {
	status := "ok"
	if err := k.driver.Settle(ctx, block); err != nil {
		status = "error"
		logger.Error("keeper settlement failed", "driver", k.driver.Name(), "block", block, "error", err)
	}
	metrics.KeeperRuns.WithLabelValues(k.driver.Name(), status).Inc()

	if k.monitor != nil {
		if err := k.monitor.Check(ctx, block); err != nil {
			logger.Warn("balance check failed", "block", block, "error", err)
		}
	}
}

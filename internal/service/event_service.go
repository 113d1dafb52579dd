package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/settlus/settlegate/internal/ledger"
	"github.com/settlus/settlegate/internal/model"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/shopspring/decimal"
)

// EventService 接收账本事件: 环形缓冲 + 异步落库/落盘 + 推送给订阅者
type EventService struct {
	events  chan *model.LedgerEvent
	logFile *os.File
	buffer  *eventBuffer
	repo    EventRepo
	done    chan struct{}

	subMu   sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64
	closed  bool
}

type EventRepo interface {
	Insert(ctx context.Context, entry *model.LedgerEvent) error
	List(ctx context.Context, tenant string, limit int, from, to *time.Time) ([]*model.LedgerEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Subscription receives events for one tenant, or all tenants when Tenant
// is empty. C is closed when the subscriber falls behind or the service
// shuts down.
type Subscription struct {
	C      <-chan *model.LedgerEvent
	Tenant string

	id uint64
	ch chan *model.LedgerEvent
}

const subscriberBuffer = 64

// NewEventService starts the writer goroutine. An empty logDir disables the
// JSONL file.
func NewEventService(logDir string, bufferSize int, repo EventRepo) (*EventService, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	svc := &EventService{
		events: make(chan *model.LedgerEvent, bufferSize),
		buffer: newEventBuffer(bufferSize),
		repo:   repo,
		done:   make(chan struct{}),
		subs:   make(map[uint64]*Subscription),
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}
		filename := filepath.Join(logDir, "events-"+time.Now().Format("2006-01-02")+".jsonl")
		f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		svc.logFile = f
	}

	go svc.processEvents()
	return svc, nil
}

// Emit implements ledger.EventSink. It never blocks: the caller holds the
// registry lock. Events emitted after Close are kept in memory only.
func (s *EventService) Emit(e ledger.Event) {
	entry := toModel(e)
	s.buffer.Add(entry)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		logger.Warn("event service closed, event not persisted", "type", entry.Type, "tenant", entry.Tenant)
		return
	}
	s.publishLocked(entry)

	select {
	case s.events <- entry:
	default:
		logger.Warn("event queue full, dropping persisted copy", "type", entry.Type, "tenant", entry.Tenant)
	}
}

func (s *EventService) List(ctx context.Context, tenant string, limit int, from, to *time.Time) ([]*model.LedgerEvent, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, tenant, limit, from, to)
		if err == nil {
			return records, nil
		}
		logger.Warn("event repo list failed, serving from memory", "error", err)
	}
	return s.buffer.List(tenant, limit, from, to), nil
}

func (s *EventService) Subscribe(tenant string) *Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ch := make(chan *model.LedgerEvent, subscriberBuffer)
	sub := &Subscription{C: ch, Tenant: tenant, id: s.nextSub, ch: ch}
	if s.closed {
		close(ch)
		return sub
	}
	s.nextSub++
	s.subs[sub.id] = sub
	return sub
}

func (s *EventService) Unsubscribe(sub *Subscription) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[sub.id]; ok {
		delete(s.subs, sub.id)
		close(sub.ch)
	}
}

// publishLocked fans entry out to subscribers. subMu must be held.
func (s *EventService) publishLocked(entry *model.LedgerEvent) {
	for id, sub := range s.subs {
		if sub.Tenant != "" && sub.Tenant != entry.Tenant {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
			// 慢订阅者直接断开, 不能拖住结算
			delete(s.subs, id)
			close(sub.ch)
			logger.Warn("dropping slow event subscriber", "tenant", sub.Tenant)
		}
	}
}

// StartCleanup deletes persisted events older than retention every interval
// until ctx is done.
func (s *EventService) StartCleanup(ctx context.Context, retention, interval time.Duration) {
	if s.repo == nil || retention <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.repo.DeleteBefore(ctx, time.Now().Add(-retention))
				if err != nil {
					logger.Error("event cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("event cleanup", "deleted", n)
				}
			}
		}
	}()
}

func (s *EventService) processEvents() {
	defer close(s.done)
	var encoder *json.Encoder
	if s.logFile != nil {
		encoder = json.NewEncoder(s.logFile)
	}
	for entry := range s.events {
		if s.repo != nil {
			if err := s.repo.Insert(context.Background(), entry); err != nil {
				logger.Error("failed to persist event", "id", entry.ID, "error", err)
			}
		}
		if encoder != nil {
			if err := encoder.Encode(entry); err != nil {
				logger.Error("failed to write event log", "error", err)
			}
		}
	}
}

// Close drains queued events and closes every subscription. Later Emit
// calls only reach the in-memory buffer.
func (s *EventService) Close() {
	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
	close(s.events)
	s.subMu.Unlock()

	<-s.done
	if s.logFile != nil {
		s.logFile.Close()
	}
}

func toModel(e ledger.Event) *model.LedgerEvent {
	entry := &model.LedgerEvent{
		ID:        uuid.NewString(),
		Type:      string(e.Type),
		Tenant:    e.Tenant,
		RequestID: e.RequestID,
		Detail:    e.Detail,
		CreatedAt: e.At,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if e.RequestID != "" {
		idx := e.Index
		entry.Index = &idx
	}
	if e.Amount != nil {
		entry.Amount = decimal.NewNullDecimal(decimal.NewFromBigInt(e.Amount, 0))
	}
	if e.Account != (common.Address{}) {
		entry.Account = e.Account.Hex()
	}
	return entry
}

type eventBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.LedgerEvent
	nextIndex int
}

func newEventBuffer(maxSize int) *eventBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &eventBuffer{
		maxSize: maxSize,
		records: make([]*model.LedgerEvent, 0, maxSize),
	}
}

func (b *eventBuffer) Add(entry *model.LedgerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List returns matching entries newest first.
func (b *eventBuffer) List(tenant string, limit int, from, to *time.Time) []*model.LedgerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.LedgerEvent, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		// 写满之前 nextIndex 恒为 0, 最新条目在末尾
		idx := (b.nextIndex + total - 1 - i) % total
		entry := b.records[idx]
		if entry == nil {
			continue
		}
		if tenant != "" && entry.Tenant != tenant {
			continue
		}
		if from != nil && entry.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && entry.CreatedAt.After(*to) {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results
}

package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/ownership"
)

// State is the complete durable state of a ledger.
type State struct {
	Name            string
	Treasury        common.Address
	Master          common.Address
	Recorders       []common.Address
	Currency        currency.Currency
	PayoutPeriod    time.Duration
	MaxBatchSize    int
	ResolveOnSettle bool
	Cursor          int
	CreatedAt       time.Time
	Records         []Record
}

// Changes lists what must be persisted since the last MarkPersisted.
type Changes struct {
	Meta    bool
	Records []Record
}

func (c Changes) Empty() bool {
	return !c.Meta && len(c.Records) == 0
}

// Meta returns the state without records.
func (l *Ledger) Meta() State {
	return State{
		Name:            l.name,
		Treasury:        l.treasury,
		Master:          l.master,
		Recorders:       l.Recorders(),
		Currency:        l.currency.Currency(),
		PayoutPeriod:    l.payoutPeriod,
		MaxBatchSize:    l.maxBatchSize,
		ResolveOnSettle: l.resolveOnSettle,
		Cursor:          l.cursor,
		CreatedAt:       l.createdAt,
	}
}

func (l *Ledger) State() State {
	st := l.Meta()
	st.Records = l.Records(0, 0)
	return st
}

func (l *Ledger) Changes() Changes {
	c := Changes{Meta: l.dirtyMeta}
	if len(l.dirty) == 0 {
		return c
	}
	idxs := make([]int, 0, len(l.dirty))
	for i := range l.dirty {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	c.Records = make([]Record, 0, len(idxs))
	for _, i := range idxs {
		c.Records = append(c.Records, l.records[i].clone())
	}
	return c
}

// MarkPersisted clears the dirty marks once Changes were stored.
func (l *Ledger) MarkPersisted() {
	l.dirtyMeta = false
	l.dirty = make(map[int]struct{})
}

// Restore rebuilds a ledger from persisted state. The adapter must match
// st.Currency. Restore refuses state that breaks the queue invariants.
func Restore(st State, adapter currency.Adapter, resolver ownership.Resolver, opts ...Option) (*Ledger, error) {
	l, err := New(Config{
		Name:            st.Name,
		Treasury:        st.Treasury,
		Master:          st.Master,
		PayoutPeriod:    st.PayoutPeriod,
		MaxBatchSize:    st.MaxBatchSize,
		ResolveOnSettle: st.ResolveOnSettle,
	}, adapter, resolver, opts...)
	if err != nil {
		return nil, err
	}
	if adapter.Currency() != st.Currency {
		return nil, fmt.Errorf("restore %s: adapter currency %s does not match %s", st.Name, adapter.Currency(), st.Currency)
	}
	if st.Cursor < 0 || st.Cursor > len(st.Records) {
		return nil, fmt.Errorf("restore %s: cursor %d outside [0,%d]", st.Name, st.Cursor, len(st.Records))
	}

	records := make([]Record, len(st.Records))
	copy(records, st.Records)
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	for i, rec := range records {
		if rec.Index != i {
			return nil, fmt.Errorf("restore %s: record indices are not contiguous at %d", st.Name, i)
		}
		if _, dup := l.index[rec.RequestID]; dup {
			return nil, fmt.Errorf("restore %s: duplicate request_id %q", st.Name, rec.RequestID)
		}
		if i < st.Cursor && !rec.Status.Terminal() {
			return nil, fmt.Errorf("restore %s: record %d below cursor is %s", st.Name, i, rec.Status)
		}
		l.index[rec.RequestID] = i
		l.records = append(l.records, rec.clone())
	}
	for _, acct := range st.Recorders {
		l.recorders[acct] = struct{}{}
	}
	l.cursor = st.Cursor
	if !st.CreatedAt.IsZero() {
		l.createdAt = st.CreatedAt
	}
	l.MarkPersisted()
	return l, nil
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
}

package openfinance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/transaction"
	ofclient "finlink/internal/infrastructure/openfinance"
)

// MockClient implements ofclient.ClientInterface
type MockClient struct {
	GetConnectorFunc     func(ctx context.Context, connectorID int) (*ofclient.Connector, error)
	CreateItemFunc       func(ctx context.Context, req ofclient.CreateItemRequest) (*ofclient.Item, error)
	GetItemFunc          func(ctx context.Context, itemID string) (*ofclient.Item, error)
	PollItemFunc         func(ctx context.Context, itemID string) (*ofclient.Item, error)
	SubmitMFAFunc        func(ctx context.Context, itemID string, values map[string]string) (*ofclient.Item, error)
	DeleteItemFunc       func(ctx context.Context, itemID string) error
	ListAccountsFunc     func(ctx context.Context, itemID string) ([]ofclient.Account, error)
	ListTransactionsFunc func(ctx context.Context, accountID string, from, to time.Time) ([]ofclient.Transaction, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *MockClient) count(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[name]++
}

func (m *MockClient) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *MockClient) GetConnector(ctx context.Context, connectorID int) (*ofclient.Connector, error) {
	m.count("GetConnector")
	if m.GetConnectorFunc != nil {
		return m.GetConnectorFunc(ctx, connectorID)
	}
	return &ofclient.Connector{ID: connectorID}, nil
}

func (m *MockClient) CreateItem(ctx context.Context, req ofclient.CreateItemRequest) (*ofclient.Item, error) {
	m.count("CreateItem")
	if m.CreateItemFunc != nil {
		return m.CreateItemFunc(ctx, req)
	}
	return &ofclient.Item{ID: "item-1", Status: "UPDATING"}, nil
}

func (m *MockClient) GetItem(ctx context.Context, itemID string) (*ofclient.Item, error) {
	m.count("GetItem")
	if m.GetItemFunc != nil {
		return m.GetItemFunc(ctx, itemID)
	}
	return &ofclient.Item{ID: itemID, Status: "UPDATED"}, nil
}

func (m *MockClient) PollItem(ctx context.Context, itemID string) (*ofclient.Item, error) {
	m.count("PollItem")
	if m.PollItemFunc != nil {
		return m.PollItemFunc(ctx, itemID)
	}
	return &ofclient.Item{ID: itemID, Status: "UPDATED"}, nil
}

func (m *MockClient) SubmitMFA(ctx context.Context, itemID string, values map[string]string) (*ofclient.Item, error) {
	m.count("SubmitMFA")
	if m.SubmitMFAFunc != nil {
		return m.SubmitMFAFunc(ctx, itemID, values)
	}
	return &ofclient.Item{ID: itemID, Status: "UPDATING"}, nil
}

func (m *MockClient) DeleteItem(ctx context.Context, itemID string) error {
	m.count("DeleteItem")
	if m.DeleteItemFunc != nil {
		return m.DeleteItemFunc(ctx, itemID)
	}
	return nil
}

func (m *MockClient) ListAccounts(ctx context.Context, itemID string) ([]ofclient.Account, error) {
	m.count("ListAccounts")
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx, itemID)
	}
	return nil, nil
}

func (m *MockClient) ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]ofclient.Transaction, error) {
	m.count("ListTransactions")
	if m.ListTransactionsFunc != nil {
		return m.ListTransactionsFunc(ctx, accountID, from, to)
	}
	return nil, nil
}

// fakeRegistry keeps connections in memory and copies on every read and
// write, like a real store would.
type fakeRegistry struct {
	mu        sync.Mutex
	byLocalID map[string]connection.Connection
	upserts   int
	history   []connection.Status
	UpsertErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{byLocalID: map[string]connection.Connection{}}
}

func (r *fakeRegistry) Upsert(ctx context.Context, c *connection.Connection) error {
	if r.UpsertErr != nil {
		return r.UpsertErr
	}
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLocalID[c.LocalID] = *c
	r.upserts++
	if n := len(r.history); n == 0 || r.history[n-1] != c.Status {
		r.history = append(r.history, c.Status)
	}
	return nil
}

func (r *fakeRegistry) Get(ctx context.Context, localID string) (*connection.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byLocalID[localID]
	if !ok {
		return nil, connection.ErrNotFound
	}
	return &c, nil
}

func (r *fakeRegistry) GetByConnectionID(ctx context.Context, connectionID string) (*connection.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byLocalID {
		if c.ConnectionID == connectionID {
			return &c, nil
		}
	}
	return nil, connection.ErrNotFound
}

func (r *fakeRegistry) Delete(ctx context.Context, localID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byLocalID[localID]; !ok {
		return connection.ErrNotFound
	}
	delete(r.byLocalID, localID)
	return nil
}

func (r *fakeRegistry) put(c *connection.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLocalID[c.LocalID] = *c
}

// statuses returns every distinct status written, in order.
func (r *fakeRegistry) statuses() []connection.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]connection.Status(nil), r.history...)
}

func (r *fakeRegistry) only() *connection.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byLocalID {
		return &c
	}
	return nil
}

// fakeAccounts upserts by (connection, external id).
type fakeAccounts struct {
	mu        sync.Mutex
	rows      map[string]*account.Account
	UpsertErr map[string]error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{rows: map[string]*account.Account{}}
}

func (f *fakeAccounts) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error) {
	if err := f.UpsertErr[params.ExternalID]; err != nil {
		return nil, false, err
	}
	if err := params.Validate(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := params.ConnectionLocalID + "/" + params.ExternalID
	acc, ok := f.rows[key]
	if !ok {
		acc = &account.Account{ID: uuid.NewString(), ConnectionLocalID: params.ConnectionLocalID, ExternalID: params.ExternalID}
		f.rows[key] = acc
	}
	acc.Name = params.Name
	acc.Kind = params.Kind
	acc.Balance = params.Balance
	acc.CreditLimit = params.CreditLimit
	acc.AvailableCreditLimit = params.AvailableCreditLimit
	acc.Currency = params.Currency
	cp := *acc
	return &cp, !ok, nil
}

func (f *fakeAccounts) byExternalID(id string) *account.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.rows {
		if a.ExternalID == id {
			cp := *a
			return &cp
		}
	}
	return nil
}

func (f *fakeAccounts) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeTransactions enforces the (account, external id) uniqueness.
type fakeTransactions struct {
	mu   sync.Mutex
	rows map[string]transaction.InsertParams
}

func newFakeTransactions() *fakeTransactions {
	return &fakeTransactions{rows: map[string]transaction.InsertParams{}}
}

func (f *fakeTransactions) InsertIfAbsent(ctx context.Context, params transaction.InsertParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := params.AccountID + "/" + params.ExternalID
	if existing, ok := f.rows[key]; ok {
		existing.Status = params.Status
		f.rows[key] = existing
		return false, nil
	}
	f.rows[key] = params
	return true, nil
}

func (f *fakeTransactions) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// memoryResumeStore is a map-backed ResumeStore.
type memoryResumeStore struct {
	mu      sync.Mutex
	slots   map[string]ResumeContext
	SaveErr error
}

func newMemoryResumeStore() *memoryResumeStore {
	return &memoryResumeStore{slots: map[string]ResumeContext{}}
}

func (s *memoryResumeStore) Save(ctx context.Context, key string, rc *ResumeContext) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = *rc
	return nil
}

func (s *memoryResumeStore) Load(ctx context.Context, key string) (*ResumeContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.slots[key]
	if !ok {
		return nil, nil
	}
	return &rc, nil
}

func (s *memoryResumeStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
	return nil
}

// recordingOpener remembers every URL it was asked to open.
type recordingOpener struct {
	mu     sync.Mutex
	opened []string
	err    error
}

func (o *recordingOpener) Open(ctx context.Context, connectionID, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, url)
	return o.err
}

// itemSequence returns a PollItemFunc that replays statuses in order and
// sticks on the last one.
func itemSequence(items ...*ofclient.Item) func(ctx context.Context, itemID string) (*ofclient.Item, error) {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context, itemID string) (*ofclient.Item, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(items) == 0 {
			return nil, fmt.Errorf("no items")
		}
		it := items[i]
		if i < len(items)-1 {
			i++
		}
		if it == nil {
			return nil, fmt.Errorf("transient failure")
		}
		cp := *it
		cp.ID = itemID
		return &cp, nil
	}
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestService(client *MockClient, reg *fakeRegistry, accs *fakeAccounts, txs *fakeTransactions, store *memoryResumeStore, opener Opener) *Service {
	svc := NewService(client, reg, accs, txs, store, opener, Config{
		PollAttempts:    5,
		PollInterval:    0,
		SyncConcurrency: 2,
	}, zap.NewNop(), nil)
	svc.poller.sleep = noSleep
	return svc
}

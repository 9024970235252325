//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"trading-edu-billing/internal/domain"
	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/domain/ports/adapter"
	"trading-edu-billing/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// fakeClock is a settable clock shared by the use case and the test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ---- TransactionManager ----

type MockTxManager struct{}

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

// ---- SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]*model.Subscription

	UpdateFunc func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	FindFunc   func(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error)
	Locked     []string
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{subs: make(map[string]*model.Subscription)}
}

func cloneSub(s *model.Subscription) *model.Subscription {
	cp := *s
	return &cp
}

func (m *MockSubscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID]; ok {
		return domain.ErrDuplicateSubscription
	}
	s.Version = 1
	m.subs[s.ID] = cloneSub(s)
	return nil
}

func (m *MockSubscriptionRepo) Update(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, tx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.subs[s.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != s.Version {
		return domain.ErrConcurrentUpdate
	}
	s.Version++
	m.subs[s.ID] = cloneSub(s)
	return nil
}

func (m *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	if m.FindFunc != nil {
		return m.FindFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSub(s), nil
}

func (m *MockSubscriptionRepo) FindByUserAndStatuses(ctx context.Context, tx repository.Tx, userID string, statuses []model.SubscriptionStatus) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.UserID == userID && hasStatus(statuses, s.Status) {
			out = append(out, cloneSub(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockSubscriptionRepo) FindMany(ctx context.Context, tx repository.Tx, f repository.SubscriptionFilter) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, s.Status) {
			continue
		}
		if f.PeriodEndBefore != nil && s.CurrentPeriodEnd.After(*f.PeriodEndBefore) {
			continue
		}
		if f.GraceEndsBefore != nil && s.GraceEndsAt != nil && s.GraceEndsAt.After(*f.GraceEndsBefore) {
			continue
		}
		if f.WithoutRetrySchedule && s.NextRetryAt != nil {
			continue
		}
		out = append(out, cloneSub(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentPeriodEnd.Before(out[j].CurrentPeriodEnd) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MockSubscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	m.mu.Lock()
	m.Locked = append(m.Locked, userID)
	m.mu.Unlock()
	return nil
}

func (m *MockSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.SubscriptionStatus]int)
	for _, s := range m.subs {
		out[s.Status]++
	}
	return out, nil
}

// put stores s as-is (test setup).
func (m *MockSubscriptionRepo) put(s *model.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.ID] = cloneSub(s)
}

func (m *MockSubscriptionRepo) get(id string) *model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[id]; ok {
		return cloneSub(s)
	}
	return nil
}

func hasStatus(list []model.SubscriptionStatus, s model.SubscriptionStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// ---- BillingRepository ----

type MockBillingRepo struct {
	mu   sync.Mutex
	recs map[string]*model.BillingRecord
	seq  []string // insertion order

	CreateFunc func(ctx context.Context, tx repository.Tx, r *model.BillingRecord) error
	UpdateFunc func(ctx context.Context, tx repository.Tx, r *model.BillingRecord) error
}

var _ repository.BillingRepository = (*MockBillingRepo)(nil)

func NewMockBillingRepo() *MockBillingRepo {
	return &MockBillingRepo{recs: make(map[string]*model.BillingRecord)}
}

func (m *MockBillingRepo) Create(ctx context.Context, tx repository.Tx, r *model.BillingRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.recs[r.ID] = &cp
	m.seq = append(m.seq, r.ID)
	return nil
}

func (m *MockBillingRepo) Update(ctx context.Context, tx repository.Tx, r *model.BillingRecord) error {
	if m.UpdateFunc != nil {
		if err := m.UpdateFunc(ctx, tx, r); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[r.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *r
	m.recs[r.ID] = &cp
	return nil
}

func (m *MockBillingRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BillingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockBillingRepo) FindByStatus(ctx context.Context, tx repository.Tx, status model.BillingStatus, dueBefore *time.Time, limit int) ([]*model.BillingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.BillingRecord
	for _, id := range m.seq {
		r := m.recs[id]
		if r.Status != status {
			continue
		}
		if dueBefore != nil && (r.NextRetryAt == nil || r.NextRetryAt.After(*dueBefore)) {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockBillingRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from, to model.BillingStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (m *MockBillingRepo) SupersedeRetrying(ctx context.Context, tx repository.Tx, subscriptionID, exceptID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.recs {
		if r.SubscriptionID == subscriptionID && r.ID != exceptID && r.Status == model.BillingStatusRetrying {
			r.Status = model.BillingStatusFailed
			n++
		}
	}
	return n, nil
}

func (m *MockBillingRepo) FindStalePending(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.BillingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.BillingRecord
	for _, id := range m.seq {
		r := m.recs[id]
		if r.Status != model.BillingStatusPending || r.UpdatedAt.After(cutoff) {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockBillingRepo) put(r *model.BillingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.recs[r.ID] = &cp
	m.seq = append(m.seq, r.ID)
}

// forSubscription returns the records of a subscription in creation order.
func (m *MockBillingRepo) forSubscription(subID string) []*model.BillingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.BillingRecord
	for _, id := range m.seq {
		if r := m.recs[id]; r.SubscriptionID == subID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

// ---- UserRepository ----

type MockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo(users ...*model.User) *MockUserRepo {
	m := &MockUserRepo{users: make(map[string]*model.User)}
	for _, u := range users {
		cp := *u
		m.users[u.ID] = &cp
	}
	return m
}

func (m *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepo) UpdateRole(ctx context.Context, tx repository.Tx, id string, role model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Role = role
	return nil
}

func (m *MockUserRepo) role(id string) model.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u.Role
	}
	return ""
}

// ---- PaymentGateway ----

type MockGateway struct {
	mu sync.Mutex

	CreateFunc  func(ctx context.Context, amount int64, currency string, meta map[string]string) (*adapter.PaymentIntent, error)
	ConfirmFunc func(ctx context.Context, intentID, pm string) error
	GetFunc     func(ctx context.Context, intentID string) (*adapter.PaymentIntent, error)

	Confirms int
	seq      int
	intents  map[string]string // id -> status
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) CreatePaymentIntent(ctx context.Context, amount int64, currency string, meta map[string]string) (*adapter.PaymentIntent, error) {
	if g.CreateFunc != nil {
		return g.CreateFunc(ctx, amount, currency, meta)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("pi_%d", g.seq)
	g.setStatus(id, adapter.IntentRequiresConfirmation)
	return &adapter.PaymentIntent{ID: id, AmountCents: amount, Currency: currency, Status: adapter.IntentRequiresConfirmation}, nil
}

func (g *MockGateway) ConfirmPayment(ctx context.Context, intentID, pm string) error {
	g.mu.Lock()
	g.Confirms++
	g.mu.Unlock()
	var err error
	if g.ConfirmFunc != nil {
		err = g.ConfirmFunc(ctx, intentID, pm)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.setStatus(intentID, adapter.IntentDeclined)
		return err
	}
	g.setStatus(intentID, adapter.IntentSucceeded)
	return nil
}

func (g *MockGateway) GetPaymentIntent(ctx context.Context, intentID string) (*adapter.PaymentIntent, error) {
	if g.GetFunc != nil {
		return g.GetFunc(ctx, intentID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("intent %s not found", intentID)
	}
	return &adapter.PaymentIntent{ID: intentID, Status: st}, nil
}

// setStatus must be called with g.mu held.
func (g *MockGateway) setStatus(id, status string) {
	if g.intents == nil {
		g.intents = make(map[string]string)
	}
	g.intents[id] = status
}

func decliningGateway() *MockGateway {
	return &MockGateway{ConfirmFunc: func(ctx context.Context, intentID, pm string) error {
		return adapter.ErrPaymentDeclined
	}}
}

// ---- BillingNotifier ----

type MockNotifier struct {
	mu       sync.Mutex
	Failed   []string
	Canceled []string
}

var _ adapter.BillingNotifier = (*MockNotifier)(nil)

func (n *MockNotifier) PaymentFailed(ctx context.Context, sub *model.Subscription, rec *model.BillingRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Failed = append(n.Failed, sub.ID)
	return nil
}

func (n *MockNotifier) SubscriptionCanceled(ctx context.Context, sub *model.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Canceled = append(n.Canceled, sub.ID)
	return nil
}

// ---- Locker ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string

	// failNext makes the next n TryLock calls return failErr.
	failNext int
	failErr  error
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker { return &MockLocker{held: make(map[string]string)} }

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext > 0 {
		l.failNext--
		return "", l.failErr
	}
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLockNotAcquired
	}
	l.held[key] = "tok-" + key
	return l.held[key], nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

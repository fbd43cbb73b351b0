package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/fjod/go_cart/store-service/internal/notify"
	"github.com/fjod/go_cart/store-service/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway implements PaymentGateway for testing
type fakeGateway struct {
	mu        sync.Mutex
	requests  []domain.PaymentRequest
	createErr error
	remote    map[string]string // payment id -> remote status
	getErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{remote: map[string]string{}}
}

func (g *fakeGateway) CreatePayment(_ context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	id := fmt.Sprintf("pay-%d", len(g.requests))
	g.remote[id] = domain.RemoteStatusPending
	return &domain.PaymentResult{
		ID:              id,
		Status:          domain.RemoteStatusPending,
		ConfirmationURL: "https://pay.test/confirm/" + id,
	}, nil
}

func (g *fakeGateway) GetPayment(_ context.Context, paymentID string) (*domain.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	status, ok := g.remote[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s unknown", domain.ErrGatewayUnavailable, paymentID)
	}
	return &domain.PaymentResult{ID: paymentID, Status: status}, nil
}

func (g *fakeGateway) setCreateErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErr = err
}

func (g *fakeGateway) setRemote(paymentID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remote[paymentID] = status
}

func (g *fakeGateway) createCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// recordingNotifier implements Notifier for testing
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(msg notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) all() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.sent...)
}

type testEnv struct {
	svc      *CheckoutServiceImpl
	repo     *repository.Repository
	gateway  *fakeGateway
	notifier *recordingNotifier
}

func setupTestEnv(t *testing.T, opts ...func(*CheckoutServiceImpl)) *testEnv {
	creds := &repository.Credentials{
		Driver:            repository.DriverSQLite,
		Path:              ":memory:",
		MigrationsDirPath: "../repository/migrations",
	}
	repo, err := repository.NewRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))
	t.Cleanup(func() { repo.Close() })

	env := &testEnv{
		repo:     repo,
		gateway:  newFakeGateway(),
		notifier: &recordingNotifier{},
	}
	env.svc = NewCheckoutService(repo, env.gateway, env.notifier, nil, nil, zap.NewNop(), nil, "RUB")
	for _, o := range opts {
		o(env.svc)
	}
	return env
}

func (e *testEnv) product(t *testing.T, id int64, price string, stock int) {
	t.Helper()
	p := &domain.Product{ID: id, Name: fmt.Sprintf("product %d", id), Stock: stock, Active: true}
	if price != "" {
		p.Price = decimal.NewNullDecimal(decimal.RequireFromString(price))
	}
	require.NoError(t, e.repo.UpsertProduct(context.Background(), p))
}

func (e *testEnv) addToCart(t *testing.T, buyerID, productID int64, qty int) {
	t.Helper()
	_, err := e.repo.AddCartItem(context.Background(), buyerID, productID, qty)
	require.NoError(t, err)
}

func (e *testEnv) stock(t *testing.T, productID int64) (int, bool) {
	t.Helper()
	p, err := e.repo.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock, p.Active
}

func (e *testEnv) cartLines(t *testing.T, buyerID int64) int {
	t.Helper()
	s, err := e.repo.GetCartSnapshot(context.Background(), buyerID)
	require.NoError(t, err)
	return len(s.Lines)
}

var alice = domain.Buyer{ID: 7, Email: "alice@example.com"}

package commerce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bindery/internal/notify"
	"bindery/pkg/domain"
	"bindery/pkg/store"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   []ChargeRequest
	fail    bool
	receipt string
}

func (g *fakeGateway) Charge(_ context.Context, req ChargeRequest) (Receipt, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	if g.fail {
		return Receipt{}, errors.New("card declined")
	}
	if g.receipt == "" {
		g.receipt = "ch_test"
	}
	return Receipt{ID: g.receipt}, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeNotifier struct {
	failAll    bool
	emails     chan notify.Message
	subscribes chan notify.Subscription
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		emails:     make(chan notify.Message, 4),
		subscribes: make(chan notify.Subscription, 4),
	}
}

func (n *fakeNotifier) Email(_ context.Context, msg notify.Message) error {
	n.emails <- msg
	if n.failAll {
		return errors.New("smtp down")
	}
	return nil
}

func (n *fakeNotifier) Subscribe(_ context.Context, sub notify.Subscription) error {
	n.subscribes <- sub
	if n.failAll {
		return errors.New("list service down")
	}
	return nil
}

func seedProduct(t *testing.T, s *store.MemoryStore, preorder bool) domain.Product {
	t.Helper()
	preorderPrice := int64(12)
	product := domain.Product{
		ID:    "prod-1",
		Slug:  "practical-indexing",
		Title: "Practical Indexing",
		Repo:  "acme/practical-indexing",
		Price: 20,
	}
	if preorder {
		product.InPreorder = true
		product.PreorderPrice = &preorderPrice
	}
	if err := s.SaveProduct(product); err != nil {
		t.Fatalf("save product: %v", err)
	}
	return product
}

func testUser() domain.User {
	return domain.User{ID: "user-1", Email: "reader@example.com"}
}

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestPurchaseRegularPricing(t *testing.T) {
	memStore := store.NewMemoryStore()
	product := seedProduct(t, memStore, false)
	gateway := &fakeGateway{receipt: "ch_1"}
	notifier := newFakeNotifier()
	orch := New(memStore, memStore, memStore, gateway, notifier, Config{
		SenderAddress: "books@example.com",
		MailingList:   "readers",
	})

	purchase, err := orch.Purchase(context.Background(), product.ID, testUser(), "tok_visa")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if purchase.AmountCents != 2000 {
		t.Fatalf("amount = %d, want 2000", purchase.AmountCents)
	}
	if purchase.Preorder {
		t.Fatalf("purchase should not be marked preorder")
	}
	if purchase.Receipt != "ch_1" {
		t.Fatalf("receipt = %q", purchase.Receipt)
	}
	if gateway.chargeCount() != 1 {
		t.Fatalf("charge count = %d, want 1", gateway.chargeCount())
	}
	if gateway.calls[0].AmountCents != 2000 {
		t.Fatalf("charged %d, want 2000", gateway.calls[0].AmountCents)
	}

	msg := waitFor(t, notifier.emails, "confirmation email")
	if msg.To != "reader@example.com" || !strings.Contains(msg.Subject, "Practical Indexing") {
		t.Fatalf("unexpected email: %+v", msg)
	}
	sub := waitFor(t, notifier.subscribes, "mailing list subscription")
	if sub.List != "readers" || sub.Metadata["product"] != product.Slug {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
}

func TestPurchasePreorderPricing(t *testing.T) {
	memStore := store.NewMemoryStore()
	product := seedProduct(t, memStore, true)
	gateway := &fakeGateway{}
	orch := New(memStore, memStore, memStore, gateway, nil, Config{})

	purchase, err := orch.Purchase(context.Background(), product.ID, testUser(), "tok_visa")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if purchase.AmountCents != 1200 {
		t.Fatalf("amount = %d, want 1200", purchase.AmountCents)
	}
	if !purchase.Preorder {
		t.Fatalf("purchase should be marked preorder")
	}
	if gateway.calls[0].AmountCents != 1200 {
		t.Fatalf("charged %d, want 1200", gateway.calls[0].AmountCents)
	}
}

func TestPurchaseProductNotFound(t *testing.T) {
	memStore := store.NewMemoryStore()
	orch := New(memStore, memStore, memStore, &fakeGateway{}, nil, Config{})

	if _, err := orch.Purchase(context.Background(), "missing", testUser(), "tok"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected product not found, got: %v", err)
	}
}

func TestPurchaseUnauthenticated(t *testing.T) {
	memStore := store.NewMemoryStore()
	product := seedProduct(t, memStore, false)
	gateway := &fakeGateway{}
	orch := New(memStore, memStore, memStore, gateway, nil, Config{})

	if _, err := orch.Purchase(context.Background(), product.ID, domain.User{}, "tok"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got: %v", err)
	}
	if gateway.chargeCount() != 0 {
		t.Fatalf("gateway must not be called for anonymous users")
	}
}

func TestPurchaseDuplicateNeverCharges(t *testing.T) {
	memStore := store.NewMemoryStore()
	product := seedProduct(t, memStore, false)
	user := testUser()
	if _, err := memStore.CreatePurchase(domain.Purchase{
		ID:        "existing",
		UserID:    user.ID,
		ProductID: product.ID,
	}); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	gateway := &fakeGateway{}
	orch := New(memStore, memStore, memStore, gateway, nil, Config{})

	if _, err := orch.Purchase(context.Background(), product.ID, user, "tok"); !errors.Is(err, ErrAlreadyPurchased) {
		t.Fatalf("expected ErrAlreadyPurchased, got: %v", err)
	}
	if gateway.chargeCount() != 0 {
		t.Fatalf("duplicate attempt must never reach the gateway, got %d charges", gateway.chargeCount())
	}
}

func TestPurchasePaymentFailed(t *testing.T) {
	memStore := store.NewMemoryStore()
	product := seedProduct(t, memStore, false)
	user := testUser()
	orch := New(memStore, memStore, memStore, &fakeGateway{fail: true}, nil, Config{})

	if _, err := orch.Purchase(context.Background(), product.ID, user, "tok"); !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got: %v", err)
	}
	if _, exists, err := memStore.FindPurchase(user.ID, product.ID); err != nil {
		t.Fatalf("find purchase: %v", err)
	} else if exists {
		t.Fatalf("no purchase record should exist after a failed charge")
	}
}

func TestPurchaseConcurrentAttemptsRecordOnce(t *testing.T) {
	memStore := store.NewMemoryStore()
	product := seedProduct(t, memStore, false)
	user := testUser()
	gateway := &fakeGateway{}
	orch := New(memStore, memStore, memStore, gateway, nil, Config{})

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orch.Purchase(context.Background(), product.ID, user, "tok")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, duplicates int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyPurchased):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("succeeded = %d, want exactly 1", succeeded)
	}
	if duplicates != attempts-1 {
		t.Fatalf("duplicates = %d, want %d", duplicates, attempts-1)
	}

	records, err := memStore.ListPurchasesByUser(user.ID)
	if err != nil {
		t.Fatalf("list purchases: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ledger holds %d records, want 1", len(records))
	}
}

func TestPurchaseNotificationFailureDoesNotAffectResult(t *testing.T) {
	memStore := store.NewMemoryStore()
	product := seedProduct(t, memStore, false)
	user := testUser()
	notifier := newFakeNotifier()
	notifier.failAll = true
	orch := New(memStore, memStore, memStore, &fakeGateway{}, notifier, Config{
		SenderAddress: "books@example.com",
		MailingList:   "readers",
	})

	purchase, err := orch.Purchase(context.Background(), product.ID, user, "tok")
	if err != nil {
		t.Fatalf("purchase must succeed even when notifications fail: %v", err)
	}
	if purchase.ID == "" {
		t.Fatalf("purchase record missing")
	}

	// Both side effects are still attempted despite failing.
	waitFor(t, notifier.emails, "confirmation email attempt")
	waitFor(t, notifier.subscribes, "subscription attempt")

	if _, exists, err := memStore.FindPurchase(user.ID, product.ID); err != nil || !exists {
		t.Fatalf("purchase record should be durable (exists=%v, err=%v)", exists, err)
	}
}

// Package commerce implements the one-time purchase workflow: price
// resolution, idempotency guard, payment capture, ledger record, and
// best-effort follow-up notifications.
package commerce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bindery/internal/notify"
	"bindery/pkg/domain"
)

var (
	// ErrUnauthenticated indicates the purchase request carried no user.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrAlreadyPurchased indicates the user already owns the product; the
	// gateway is never invoked for such an attempt.
	ErrAlreadyPurchased = errors.New("product already purchased")
	// ErrPaymentFailed indicates the gateway rejected the charge. No
	// purchase record is created.
	ErrPaymentFailed = errors.New("payment failed")
)

// Catalog is the slice of the product store the purchase workflow needs.
type Catalog interface {
	GetProduct(id string) (domain.Product, bool, error)
}

// Ledger is the durable store of completed purchases.
type Ledger interface {
	FindPurchase(userID, productID string) (domain.Purchase, bool, error)
	CreatePurchase(domain.Purchase) (domain.Purchase, error)
}

// OwnedProducts tracks the best-effort owned-products set.
type OwnedProducts interface {
	AddOwnedProduct(userID, productID string) error
}

// Gateway captures charges against a payment token.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Receipt, error)
}

// ChargeRequest is a single capture attempt in minor currency units.
type ChargeRequest struct {
	AmountCents int64
	Token       string
	Description string
}

// Receipt is the gateway's opaque confirmation of a captured charge.
type Receipt struct {
	ID string
}

// Notifier enqueues post-purchase notifications.
type Notifier interface {
	Email(ctx context.Context, msg notify.Message) error
	Subscribe(ctx context.Context, sub notify.Subscription) error
}

// Config carries injected process configuration for the purchase workflow.
type Config struct {
	SenderAddress string
	MailingList   string
}

// Orchestrator runs the end-to-end purchase workflow.
type Orchestrator struct {
	catalog  Catalog
	ledger   Ledger
	owned    OwnedProducts
	gateway  Gateway
	notifier Notifier
	cfg      Config
}

// New constructs the purchase orchestrator. owned and notifier may be nil;
// their side effects are skipped.
func New(catalog Catalog, ledger Ledger, owned OwnedProducts, gateway Gateway, notifier Notifier, cfg Config) *Orchestrator {
	return &Orchestrator{
		catalog:  catalog,
		ledger:   ledger,
		owned:    owned,
		gateway:  gateway,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Purchase charges the user for the product and records the purchase. Each
// step gates the next; notifications and the owned-products update run in the
// background and never affect the returned result.
func (o *Orchestrator) Purchase(ctx context.Context, productID string, user domain.User, cardToken string) (domain.Purchase, error) {
	product, ok, err := o.catalog.GetProduct(productID)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("load product: %w", err)
	}
	if !ok {
		return domain.Purchase{}, domain.ErrProductNotFound
	}

	price := product.Price
	preorder := false
	if product.InPreorder && product.PreorderPrice != nil {
		price = *product.PreorderPrice
		preorder = true
	}

	if user.ID == "" {
		return domain.Purchase{}, ErrUnauthenticated
	}

	// Pre-check the ledger so a duplicate attempt never reaches the
	// gateway. The store's uniqueness constraint is the source of truth.
	if _, exists, err := o.ledger.FindPurchase(user.ID, product.ID); err != nil {
		return domain.Purchase{}, fmt.Errorf("check ledger: %w", err)
	} else if exists {
		return domain.Purchase{}, ErrAlreadyPurchased
	}

	receipt, err := o.gateway.Charge(ctx, ChargeRequest{
		AmountCents: price * 100,
		Token:       cardToken,
		Description: fmt.Sprintf("%s (%s)", product.Title, product.Slug),
	})
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	record := domain.Purchase{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		ProductID:   product.ID,
		AmountCents: price * 100,
		Receipt:     receipt.ID,
		Preorder:    preorder,
		CreatedAt:   time.Now().UTC(),
	}
	created, err := o.ledger.CreatePurchase(record)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicatePurchase) {
			return domain.Purchase{}, ErrAlreadyPurchased
		}
		return domain.Purchase{}, fmt.Errorf("record purchase: %w", err)
	}

	go o.afterPurchase(user, product, preorder)

	return created, nil
}

// afterPurchase runs the fire-and-forget side effects on a detached context.
// Failures are logged, never surfaced.
func (o *Orchestrator) afterPurchase(user domain.User, product domain.Product, preorder bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if o.owned != nil {
		if err := o.owned.AddOwnedProduct(user.ID, product.ID); err != nil {
			slog.Error("owned-products update failed", "user", user.ID, "product", product.ID, "err", err)
		}
	}
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Email(ctx, confirmationEmail(o.cfg.SenderAddress, user, product, preorder)); err != nil {
		slog.Error("confirmation email enqueue failed", "user", user.ID, "product", product.ID, "err", err)
	}
	if err := o.notifier.Subscribe(ctx, notify.Subscription{
		Email: user.Email,
		List:  o.cfg.MailingList,
		Metadata: map[string]string{
			"product": product.Slug,
		},
	}); err != nil {
		slog.Error("mailing list enqueue failed", "user", user.ID, "list", o.cfg.MailingList, "err", err)
	}
}

func confirmationEmail(from string, user domain.User, product domain.Product, preorder bool) notify.Message {
	if preorder {
		return notify.Message{
			From:    from,
			To:      user.Email,
			Subject: fmt.Sprintf("Your preorder of %s", product.Title),
			Body: fmt.Sprintf(
				"Thanks for preordering %s. You have access to every chapter published so far, and you'll be notified as new chapters arrive.",
				product.Title,
			),
		}
	}
	return notify.Message{
		From:    from,
		To:      user.Email,
		Subject: fmt.Sprintf("Your copy of %s", product.Title),
		Body: fmt.Sprintf(
			"Thanks for buying %s. The full book is now available in your library.",
			product.Title,
		),
	}
}

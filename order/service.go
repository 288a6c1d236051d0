package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/broker"
	"github.com/polarsource/polar-sub002/discount"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/scope"
	"github.com/polarsource/polar-sub002/transaction"
	"github.com/polarsource/polar-sub002/webhook"
)

// Actor names.
const (
	TaskCreated = "order.created"
	TaskBalance = "order.balance"
)

// Payload is the job payload of TaskCreated and TaskBalance.
type Payload struct {
	OrderID id.OrderID `json:"order_id"`
}

// CreateParams describes a new order.
type CreateParams struct {
	OrganizationID  id.OrganizationID
	CustomerID      id.CustomerID
	ProductID       id.ProductID
	SubscriptionID  id.SubscriptionID
	BillingReason   BillingReason
	Items           []Item
	Currency        string
	Discount        *discount.Discount
	Tax             int64
	StripeInvoiceID string
	IdempotencyKey  string
}

// Service creates orders and runs the post-creation chain.
type Service struct {
	store        Store
	transactions *transaction.Service
	logger       *slog.Logger
}

// NewService creates an order service.
func NewService(store Store, transactions *transaction.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, transactions: transactions, logger: logger}
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// Create inserts an order and buffers TaskCreated. When the Stripe invoice
// or idempotency key was already used, the existing order is returned and
// TaskCreated is buffered again; the chain is idempotent, and a previous
// attempt may have failed after inserting the order.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Order, error) {
	if existing, err := s.lookup(ctx, p); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, s.enqueueCreated(ctx, existing)
	}

	var subtotal int64
	for _, it := range p.Items {
		subtotal += it.Amount
	}
	o := &Order{
		Entity:          polar.NewEntity(),
		ID:              id.NewOrderID(),
		OrganizationID:  p.OrganizationID,
		CustomerID:      p.CustomerID,
		ProductID:       p.ProductID,
		SubscriptionID:  p.SubscriptionID,
		BillingReason:   p.BillingReason,
		Subtotal:        subtotal,
		Tax:             p.Tax,
		Currency:        p.Currency,
		Items:           p.Items,
		StripeInvoiceID: p.StripeInvoiceID,
		IdempotencyKey:  p.IdempotencyKey,
	}
	if p.Discount != nil {
		o.DiscountID = p.Discount.ID
		o.Discount = p.Discount.Apply(subtotal)
	}
	o.Total = o.Subtotal - o.Discount + o.Tax

	if err := s.store.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, polar.ErrAlreadyExists) {
			// Lost a race with a concurrent create.
			existing, lerr := s.lookup(ctx, p)
			if lerr == nil && existing != nil {
				return existing, s.enqueueCreated(ctx, existing)
			}
		}
		return nil, fmt.Errorf("polar/order: create: %w", err)
	}

	s.logger.Info("order created",
		slog.String("order_id", o.ID.String()),
		slog.String("billing_reason", string(o.BillingReason)),
		slog.Int64("total", o.Total),
	)
	return o, s.enqueueCreated(ctx, o)
}

func (s *Service) lookup(ctx context.Context, p CreateParams) (*Order, error) {
	var (
		o   *Order
		err error
	)
	switch {
	case p.StripeInvoiceID != "":
		o, err = s.store.GetOrderByStripeInvoiceID(ctx, p.StripeInvoiceID)
	case p.IdempotencyKey != "":
		o, err = s.store.GetOrderByIdempotencyKey(ctx, p.IdempotencyKey)
	default:
		return nil, nil
	}
	if errors.Is(err, polar.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("polar/order: lookup: %w", err)
	}
	return o, nil
}

func (s *Service) enqueueCreated(ctx context.Context, o *Order) error {
	ctx = scope.WithOrganization(ctx, o.OrganizationID.String())
	return jobqueue.Enqueue(ctx, TaskCreated, Payload{OrderID: o.ID}, job.WithPriority(job.PriorityHigh))
}

func source(o *Order) transaction.Source {
	return transaction.Source{
		OrderID:        o.ID,
		OrganizationID: o.OrganizationID,
		Amount:         o.Total,
		Currency:       o.Currency,
	}
}

// HandleCreated records the payment, buffers the balance step and, the
// first time only, notifies webhooks and the event broker.
func (s *Service) HandleCreated(ctx context.Context, p Payload) error {
	o, err := s.store.GetOrder(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("polar/order: created: %w", err)
	}

	_, created, err := s.transactions.CreatePayment(ctx, source(o))
	if err != nil {
		return err
	}

	if err := jobqueue.Enqueue(ctx, TaskBalance, Payload{OrderID: o.ID}, job.WithPriority(job.PriorityHigh)); err != nil {
		return err
	}
	if !created {
		return nil
	}

	return errors.Join(
		webhook.Enqueue(ctx, webhook.EventOrderCreated, o.OrganizationID, o),
		webhook.Enqueue(ctx, webhook.EventOrderPaid, o.OrganizationID, o),
		broker.Enqueue(ctx, "order.created", o.OrganizationID.String(), o),
	)
}

// HandleBalance credits the seller for the order.
func (s *Service) HandleBalance(ctx context.Context, p Payload) error {
	o, err := s.store.GetOrder(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("polar/order: balance: %w", err)
	}
	return s.transactions.CreateBalance(ctx, source(o))
}

// CreatedActor returns the TaskCreated actor.
func (s *Service) CreatedActor() *job.Actor[Payload] {
	return job.NewActor(TaskCreated, s.HandleCreated, job.WithPriority(job.PriorityHigh))
}

// BalanceActor returns the TaskBalance actor.
func (s *Service) BalanceActor() *job.Actor[Payload] {
	return job.NewActor(TaskBalance, s.HandleBalance, job.WithPriority(job.PriorityHigh))
}

// Package transaction is the ledger. Every order produces one payment
// transaction and, once the seller can be paid, one balance transaction
// crediting the seller's account. Funds earned before an account exists
// accumulate as held balances and are converted when the account is
// linked.
package transaction

import (
	"context"
	"time"

	"github.com/polarsource/polar-sub002/id"
)

// Kind classifies a ledger row.
type Kind string

const (
	KindPayment Kind = "payment"
	KindBalance Kind = "balance"
	KindPayout  Kind = "payout"
)

// Transaction is an immutable ledger row. (Kind, OrderID) is unique for
// payment and balance rows.
type Transaction struct {
	ID             id.TransactionID  `json:"id"`
	Kind           Kind              `json:"kind"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	AccountID      id.AccountID      `json:"account_id,omitempty"`
	OrderID        id.OrderID        `json:"order_id"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	CreatedAt      time.Time         `json:"created_at"`
}

// HeldBalance is money owed to an organization that has no payout account
// yet. OrderID is unique.
type HeldBalance struct {
	ID             id.HeldBalanceID  `json:"id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	OrderID        id.OrderID        `json:"order_id"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Source is the part of an order the ledger needs.
type Source struct {
	OrderID        id.OrderID
	OrganizationID id.OrganizationID
	Amount         int64
	Currency       string
}

// Store defines the persistence contract for the ledger.
type Store interface {
	// InsertTransaction returns polar.ErrAlreadyExists when a row of the
	// same kind already exists for the order.
	InsertTransaction(ctx context.Context, t *Transaction) error

	// GetTransaction returns the row of the given kind for an order.
	GetTransaction(ctx context.Context, kind Kind, orderID id.OrderID) (*Transaction, error)

	// ListTransactions returns an organization's rows, oldest first.
	ListTransactions(ctx context.Context, orgID id.OrganizationID) ([]*Transaction, error)

	// InsertHeldBalance returns polar.ErrAlreadyExists when the order
	// already has a held balance.
	InsertHeldBalance(ctx context.Context, h *HeldBalance) error

	// GetHeldBalance returns the held balance for an order.
	GetHeldBalance(ctx context.Context, orderID id.OrderID) (*HeldBalance, error)

	// ListHeldBalances returns an organization's held balances, oldest first.
	ListHeldBalances(ctx context.Context, orgID id.OrganizationID) ([]*HeldBalance, error)

	// DeleteHeldBalance removes a held balance.
	DeleteHeldBalance(ctx context.Context, heldID id.HeldBalanceID) error
}

package bunstore

import (
	"context"
	"fmt"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/transaction"
)

// InsertTransaction persists a ledger row. Only one row of each kind may
// exist per order.
func (s *Store) InsertTransaction(ctx context.Context, t *transaction.Transaction) error {
	return s.insert(ctx, "transaction", toTransactionModel(t))
}

// GetTransaction returns the row of the given kind for an order.
func (s *Store) GetTransaction(ctx context.Context, kind transaction.Kind, orderID id.OrderID) (*transaction.Transaction, error) {
	m := new(transactionModel)
	err := s.selectOne(ctx, "transaction", m, polar.ErrTransactionNotFound,
		"kind = ? AND order_id = ?", string(kind), orderID.String())
	if err != nil {
		return nil, err
	}
	return fromTransactionModel(m)
}

// ListTransactions returns an organization's rows, oldest first.
func (s *Store) ListTransactions(ctx context.Context, orgID id.OrganizationID) ([]*transaction.Transaction, error) {
	var rows []transactionModel
	err := s.db.NewSelect().Model(&rows).
		Where("organization_id = ?", orgID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("polar/bun: list transactions: %w", err)
	}
	out := make([]*transaction.Transaction, 0, len(rows))
	for i := range rows {
		t, convErr := fromTransactionModel(&rows[i])
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, t)
	}
	return out, nil
}

// InsertHeldBalance persists a held balance. One per order.
func (s *Store) InsertHeldBalance(ctx context.Context, h *transaction.HeldBalance) error {
	return s.insert(ctx, "held balance", toHeldBalanceModel(h))
}

// GetHeldBalance returns the held balance for an order.
func (s *Store) GetHeldBalance(ctx context.Context, orderID id.OrderID) (*transaction.HeldBalance, error) {
	m := new(heldBalanceModel)
	if err := s.selectOne(ctx, "held balance", m, polar.ErrHeldBalanceNotFound, "order_id = ?", orderID.String()); err != nil {
		return nil, err
	}
	return fromHeldBalanceModel(m)
}

// ListHeldBalances returns an organization's held balances, oldest first.
func (s *Store) ListHeldBalances(ctx context.Context, orgID id.OrganizationID) ([]*transaction.HeldBalance, error) {
	var rows []heldBalanceModel
	err := s.db.NewSelect().Model(&rows).
		Where("organization_id = ?", orgID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("polar/bun: list held balances: %w", err)
	}
	out := make([]*transaction.HeldBalance, 0, len(rows))
	for i := range rows {
		h, convErr := fromHeldBalanceModel(&rows[i])
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, h)
	}
	return out, nil
}

// DeleteHeldBalance removes a held balance.
func (s *Store) DeleteHeldBalance(ctx context.Context, heldID id.HeldBalanceID) error {
	res, err := s.db.NewDelete().Model((*heldBalanceModel)(nil)).
		Where("id = ?", heldID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("polar/bun: delete held balance: %w", err)
	}
	if affected(res) == 0 {
		return polar.ErrHeldBalanceNotFound
	}
	return nil
}

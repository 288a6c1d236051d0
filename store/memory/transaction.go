package memory

import (
	"context"
	"sort"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/transaction"
)

func transactionKey(kind transaction.Kind, orderID id.OrderID) string {
	return string(kind) + ":" + orderID.String()
}

// InsertTransaction persists a ledger row. Only one row of each kind may
// exist per order.
func (m *Store) InsertTransaction(_ context.Context, t *transaction.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := transactionKey(t.Kind, t.OrderID)
	if _, ok := m.transactions[key]; ok {
		return polar.ErrAlreadyExists
	}
	cp := *t
	m.transactions[key] = &cp
	return nil
}

// GetTransaction returns the row of the given kind for an order.
func (m *Store) GetTransaction(_ context.Context, kind transaction.Kind, orderID id.OrderID) (*transaction.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transactions[transactionKey(kind, orderID)]
	if !ok {
		return nil, polar.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTransactions returns an organization's rows, oldest first.
func (m *Store) ListTransactions(_ context.Context, orgID id.OrganizationID) ([]*transaction.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*transaction.Transaction
	for _, t := range m.transactions {
		if t.OrganizationID.String() == orgID.String() {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// InsertHeldBalance persists a held balance. One per order.
func (m *Store) InsertHeldBalance(_ context.Context, h *transaction.HeldBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.heldBalances {
		if existing.OrderID.String() == h.OrderID.String() {
			return polar.ErrAlreadyExists
		}
	}
	cp := *h
	m.heldBalances[h.ID.String()] = &cp
	return nil
}

// GetHeldBalance returns the held balance for an order.
func (m *Store) GetHeldBalance(_ context.Context, orderID id.OrderID) (*transaction.HeldBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.heldBalances {
		if h.OrderID.String() == orderID.String() {
			cp := *h
			return &cp, nil
		}
	}
	return nil, polar.ErrHeldBalanceNotFound
}

// ListHeldBalances returns an organization's held balances, oldest first.
func (m *Store) ListHeldBalances(_ context.Context, orgID id.OrganizationID) ([]*transaction.HeldBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*transaction.HeldBalance
	for _, h := range m.heldBalances {
		if h.OrganizationID.String() == orgID.String() {
			cp := *h
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// DeleteHeldBalance removes a held balance.
func (m *Store) DeleteHeldBalance(_ context.Context, heldID id.HeldBalanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := heldID.String()
	if _, ok := m.heldBalances[key]; !ok {
		return polar.ErrHeldBalanceNotFound
	}
	delete(m.heldBalances, key)
	return nil
}

package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/account"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/lock"
)

const (
	lockTTL  = 30 * time.Second
	lockWait = 10 * time.Second
)

// Service writes ledger rows exactly once per order.
type Service struct {
	store    Store
	accounts account.Store
	locker   lock.Locker
	logger   *slog.Logger
}

// NewService creates a ledger service.
func NewService(store Store, accounts account.Store, locker lock.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, accounts: accounts, locker: locker, logger: logger}
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// balanceLockKey serializes balance crediting with held balance release
// for one organization.
func balanceLockKey(orgID id.OrganizationID) string {
	return "transaction:balance:" + orgID.String()
}

// CreatePayment records the customer's payment for an order. Calling it
// again for the same order returns the existing row and created == false.
func (s *Service) CreatePayment(ctx context.Context, src Source) (t *Transaction, created bool, err error) {
	return s.insertOnce(ctx, &Transaction{
		ID:             id.NewTransactionID(),
		Kind:           KindPayment,
		OrganizationID: src.OrganizationID,
		OrderID:        src.OrderID,
		Amount:         src.Amount,
		Currency:       src.Currency,
		CreatedAt:      time.Now().UTC(),
	})
}

// CreateBalance credits the seller for an order. When the organization has
// a payout account a balance transaction is written; otherwise the amount
// is held. Either way at most one row exists per order.
func (s *Service) CreateBalance(ctx context.Context, src Source) error {
	return lock.Do(ctx, s.locker, balanceLockKey(src.OrganizationID), lockTTL, lockWait, func(ctx context.Context) error {
		org, err := s.accounts.GetOrganization(ctx, src.OrganizationID)
		if err != nil {
			return fmt.Errorf("polar/transaction: create balance: %w", err)
		}

		if _, err := s.store.GetTransaction(ctx, KindBalance, src.OrderID); err == nil {
			return nil
		} else if !errors.Is(err, polar.ErrTransactionNotFound) {
			return fmt.Errorf("polar/transaction: create balance: %w", err)
		}

		if !org.HasAccount() {
			err := s.store.InsertHeldBalance(ctx, &HeldBalance{
				ID:             id.NewHeldBalanceID(),
				OrganizationID: src.OrganizationID,
				OrderID:        src.OrderID,
				Amount:         src.Amount,
				Currency:       src.Currency,
				CreatedAt:      time.Now().UTC(),
			})
			if err != nil && !errors.Is(err, polar.ErrAlreadyExists) {
				return fmt.Errorf("polar/transaction: hold balance: %w", err)
			}
			return nil
		}

		// A held balance that survived a link race is converted here.
		if held, err := s.store.GetHeldBalance(ctx, src.OrderID); err == nil {
			return s.release(ctx, org, held)
		} else if !errors.Is(err, polar.ErrHeldBalanceNotFound) {
			return fmt.Errorf("polar/transaction: create balance: %w", err)
		}

		_, _, err = s.insertOnce(ctx, &Transaction{
			ID:             id.NewTransactionID(),
			Kind:           KindBalance,
			OrganizationID: src.OrganizationID,
			AccountID:      org.AccountID,
			OrderID:        src.OrderID,
			Amount:         src.Amount,
			Currency:       src.Currency,
			CreatedAt:      time.Now().UTC(),
		})
		return err
	})
}

// ReleaseHeldBalances converts every held balance of an organization into a
// balance transaction on its linked account. It returns how many were
// released.
func (s *Service) ReleaseHeldBalances(ctx context.Context, orgID id.OrganizationID) (int, error) {
	released := 0
	err := lock.Do(ctx, s.locker, balanceLockKey(orgID), lockTTL, lockWait, func(ctx context.Context) error {
		org, err := s.accounts.GetOrganization(ctx, orgID)
		if err != nil {
			return fmt.Errorf("polar/transaction: release: %w", err)
		}
		if !org.HasAccount() {
			return fmt.Errorf("polar/transaction: release: organization %s has no account: %w", orgID, polar.ErrInvalidState)
		}

		held, err := s.store.ListHeldBalances(ctx, orgID)
		if err != nil {
			return fmt.Errorf("polar/transaction: release: %w", err)
		}
		for _, h := range held {
			if err := s.release(ctx, org, h); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return released, err
	}
	if released > 0 {
		s.logger.Info("held balances released",
			slog.String("organization_id", orgID.String()),
			slog.Int("count", released),
		)
	}
	return released, nil
}

// release writes the balance row before deleting the held row. A crash in
// between leaves a held row whose balance already exists; the next release
// sees ErrAlreadyExists and only deletes.
func (s *Service) release(ctx context.Context, org *account.Organization, h *HeldBalance) error {
	_, _, err := s.insertOnce(ctx, &Transaction{
		ID:             id.NewTransactionID(),
		Kind:           KindBalance,
		OrganizationID: h.OrganizationID,
		AccountID:      org.AccountID,
		OrderID:        h.OrderID,
		Amount:         h.Amount,
		Currency:       h.Currency,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.store.DeleteHeldBalance(ctx, h.ID); err != nil && !errors.Is(err, polar.ErrHeldBalanceNotFound) {
		return fmt.Errorf("polar/transaction: delete held balance %s: %w", h.ID, err)
	}
	return nil
}

func (s *Service) insertOnce(ctx context.Context, t *Transaction) (*Transaction, bool, error) {
	err := s.store.InsertTransaction(ctx, t)
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, polar.ErrAlreadyExists) {
		return nil, false, fmt.Errorf("polar/transaction: insert %s: %w", t.Kind, err)
	}
	existing, err := s.store.GetTransaction(ctx, t.Kind, t.OrderID)
	if err != nil {
		return nil, false, fmt.Errorf("polar/transaction: load existing %s: %w", t.Kind, err)
	}
	return existing, false, nil
}

// ReleaseActor returns the account.TaskReleaseHeldBalances actor.
func (s *Service) ReleaseActor() *job.Actor[account.OrganizationPayload] {
	return job.NewActor(account.TaskReleaseHeldBalances, func(ctx context.Context, p account.OrganizationPayload) error {
		_, err := s.ReleaseHeldBalances(ctx, p.OrganizationID)
		return err
	}, job.WithPriority(job.PriorityHigh))
}

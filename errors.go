package polar

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("polar: no store configured")
	ErrStoreClosed     = errors.New("polar: store closed")
	ErrMigrationFailed = errors.New("polar: migration failed")

	// Runtime not found errors.
	ErrJobNotFound    = errors.New("polar: job not found")
	ErrCronNotFound   = errors.New("polar: cron entry not found")
	ErrDLQNotFound    = errors.New("polar: dlq entry not found")
	ErrWorkerNotFound = errors.New("polar: worker not found")

	// Billing not found errors.
	ErrOrganizationNotFound  = errors.New("polar: organization not found")
	ErrAccountNotFound       = errors.New("polar: account not found")
	ErrProductNotFound       = errors.New("polar: product not found")
	ErrSubscriptionNotFound  = errors.New("polar: subscription not found")
	ErrOrderNotFound         = errors.New("polar: order not found")
	ErrDiscountNotFound      = errors.New("polar: discount not found")
	ErrMeterNotFound         = errors.New("polar: meter not found")
	ErrExternalEventNotFound = errors.New("polar: external event not found")
	ErrTransactionNotFound   = errors.New("polar: transaction not found")
	ErrHeldBalanceNotFound   = errors.New("polar: held balance not found")
	ErrBenefitNotFound       = errors.New("polar: benefit not found")
	ErrBenefitGrantNotFound  = errors.New("polar: benefit grant not found")
	ErrBillingEntryNotFound  = errors.New("polar: billing entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("polar: job already exists")
	ErrDuplicateCron    = errors.New("polar: duplicate cron entry")
	ErrAlreadyExists    = errors.New("polar: record already exists")

	// Runtime errors.
	ErrUnknownActor       = errors.New("polar: unknown actor")
	ErrInvalidState       = errors.New("polar: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("polar: max retries exceeded")
	ErrLockNotAcquired    = errors.New("polar: lock not acquired")

	// Cluster errors.
	ErrLeadershipLost = errors.New("polar: leadership lost")
	ErrNotLeader      = errors.New("polar: not the leader")
)

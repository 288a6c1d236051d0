// Package id defines TypeID-based identity types for all Polar entities.
//
// Every entity uses a single ID struct with a prefix that identifies the
// entity type. IDs are K-sortable (UUIDv7-based), globally unique and
// URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Runtime prefixes.
const (
	PrefixJob    Prefix = "job"
	PrefixCron   Prefix = "cron"
	PrefixDLQ    Prefix = "dlq"
	PrefixWorker Prefix = "wkr"
)

// Billing prefixes.
const (
	PrefixOrganization  Prefix = "org"
	PrefixAccount       Prefix = "acct"
	PrefixCustomer      Prefix = "cus"
	PrefixProduct       Prefix = "prod"
	PrefixBenefit       Prefix = "ben"
	PrefixBenefitGrant  Prefix = "bgrant"
	PrefixSubscription  Prefix = "sub"
	PrefixOrder         Prefix = "ord"
	PrefixTransaction   Prefix = "txn"
	PrefixHeldBalance   Prefix = "hbal"
	PrefixDiscount      Prefix = "disc"
	PrefixMeter         Prefix = "mtr"
	PrefixMeterEvent    Prefix = "mevt"
	PrefixBillingEntry  Prefix = "bent"
	PrefixExternalEvent Prefix = "xevt"
)

// ID is the primary identifier type for all Polar entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g. "sub_01h2xcejqtf2nbrexx3vqjhp41").
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates its prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// Type aliases document which prefix a field is expected to carry.
type (
	JobID           = ID
	CronID          = ID
	DLQID           = ID
	WorkerID        = ID
	OrganizationID  = ID
	AccountID       = ID
	CustomerID      = ID
	ProductID       = ID
	BenefitID       = ID
	BenefitGrantID  = ID
	SubscriptionID  = ID
	OrderID         = ID
	TransactionID   = ID
	HeldBalanceID   = ID
	DiscountID      = ID
	MeterID         = ID
	MeterEventID    = ID
	BillingEntryID  = ID
	ExternalEventID = ID
)

func NewJobID() ID           { return New(PrefixJob) }
func NewCronID() ID          { return New(PrefixCron) }
func NewDLQID() ID           { return New(PrefixDLQ) }
func NewWorkerID() ID        { return New(PrefixWorker) }
func NewOrganizationID() ID  { return New(PrefixOrganization) }
func NewAccountID() ID       { return New(PrefixAccount) }
func NewCustomerID() ID      { return New(PrefixCustomer) }
func NewProductID() ID       { return New(PrefixProduct) }
func NewBenefitID() ID       { return New(PrefixBenefit) }
func NewBenefitGrantID() ID  { return New(PrefixBenefitGrant) }
func NewSubscriptionID() ID  { return New(PrefixSubscription) }
func NewOrderID() ID         { return New(PrefixOrder) }
func NewTransactionID() ID   { return New(PrefixTransaction) }
func NewHeldBalanceID() ID   { return New(PrefixHeldBalance) }
func NewDiscountID() ID      { return New(PrefixDiscount) }
func NewMeterID() ID         { return New(PrefixMeter) }
func NewMeterEventID() ID    { return New(PrefixMeterEvent) }
func NewBillingEntryID() ID  { return New(PrefixBillingEntry) }
func NewExternalEventID() ID { return New(PrefixExternalEvent) }

// ParseJobID parses a string and validates the "job" prefix.
func ParseJobID(s string) (ID, error) { return ParseWithPrefix(s, PrefixJob) }

// ParseCronID parses a string and validates the "cron" prefix.
func ParseCronID(s string) (ID, error) { return ParseWithPrefix(s, PrefixCron) }

// ParseWorkerID parses a string and validates the "wkr" prefix.
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// ParseDLQID parses a string and validates the "dlq" prefix.
func ParseDLQID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDLQ) }

// ParseSubscriptionID parses a string and validates the "sub" prefix.
func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }

// ParseOrderID parses a string and validates the "ord" prefix.
func ParseOrderID(s string) (ID, error) { return ParseWithPrefix(s, PrefixOrder) }

// ParseOrganizationID parses a string and validates the "org" prefix.
func ParseOrganizationID(s string) (ID, error) { return ParseWithPrefix(s, PrefixOrganization) }

// ParseAccountID parses a string and validates the "acct" prefix.
func ParseAccountID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAccount) }

// String returns the full TypeID string. Empty for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. The Nil ID is stored as NULL so optional
// foreign keys stay unset.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}

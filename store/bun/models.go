package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/account"
	"github.com/polarsource/polar-sub002/benefit"
	"github.com/polarsource/polar-sub002/discount"
	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/meter"
	"github.com/polarsource/polar-sub002/order"
	"github.com/polarsource/polar-sub002/product"
	"github.com/polarsource/polar-sub002/subscription"
	"github.com/polarsource/polar-sub002/transaction"
)

// parseOptional parses s with prefix, mapping "" to id.Nil.
func parseOptional(s string, prefix id.Prefix) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.ParseWithPrefix(s, prefix)
}

// parser collects the first parse error so converters stay linear.
type parser struct{ err error }

func (p *parser) id(s string, prefix id.Prefix) id.ID {
	v, err := parseOptional(s, prefix)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("polar/bun: parse %s id %q: %w", prefix, s, err)
	}
	return v
}

// ── Organization / Account ───────────────────────────────────────

type organizationModel struct {
	bun.BaseModel `bun:"table:polar_organizations"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	Slug      string    `bun:"slug,notnull,unique"`
	AccountID string    `bun:"account_id,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func toOrganizationModel(o *account.Organization) *organizationModel {
	return &organizationModel{
		ID: o.ID.String(), Name: o.Name, Slug: o.Slug, AccountID: o.AccountID.String(),
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

func fromOrganizationModel(m *organizationModel) (*account.Organization, error) {
	var p parser
	o := &account.Organization{
		Entity:    polar.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        p.id(m.ID, id.PrefixOrganization),
		Name:      m.Name,
		Slug:      m.Slug,
		AccountID: p.id(m.AccountID, id.PrefixAccount),
	}
	return o, p.err
}

type accountModel struct {
	bun.BaseModel `bun:"table:polar_accounts"`

	ID              string    `bun:"id,pk"`
	StripeAccountID string    `bun:"stripe_account_id,notnull"`
	Country         string    `bun:"country,notnull"`
	Currency        string    `bun:"currency,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID: a.ID.String(), StripeAccountID: a.StripeAccountID, Country: a.Country, Currency: a.Currency,
		CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	var p parser
	a := &account.Account{
		Entity:          polar.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:              p.id(m.ID, id.PrefixAccount),
		StripeAccountID: m.StripeAccountID,
		Country:         m.Country,
		Currency:        m.Currency,
	}
	return a, p.err
}

// ── Product / Discount / Benefit ─────────────────────────────────

type productModel struct {
	bun.BaseModel `bun:"table:polar_products"`

	ID                string        `bun:"id,pk"`
	OrganizationID    string        `bun:"organization_id,notnull"`
	Name              string        `bun:"name,notnull"`
	Amount            int64         `bun:"amount,notnull"`
	Currency          string        `bun:"currency,notnull"`
	RecurringInterval string        `bun:"recurring_interval,notnull"`
	IntervalCount     int           `bun:"interval_count,notnull"`
	MeterPrices       []meter.Price `bun:"meter_prices"`
	BenefitIDs        []string      `bun:"benefit_ids"`
	StripeProductID   string        `bun:"stripe_product_id,notnull"`
	IsArchived        bool          `bun:"is_archived,notnull"`
	CreatedAt         time.Time     `bun:"created_at,notnull"`
	UpdatedAt         time.Time     `bun:"updated_at,notnull"`
}

func toProductModel(p *product.Product) *productModel {
	benefits := make([]string, len(p.BenefitIDs))
	for i, b := range p.BenefitIDs {
		benefits[i] = b.String()
	}
	return &productModel{
		ID: p.ID.String(), OrganizationID: p.OrganizationID.String(), Name: p.Name,
		Amount: p.Amount, Currency: p.Currency,
		RecurringInterval: string(p.RecurringInterval), IntervalCount: p.IntervalCount,
		MeterPrices: p.MeterPrices, BenefitIDs: benefits,
		StripeProductID: p.StripeProductID, IsArchived: p.IsArchived,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func fromProductModel(m *productModel) (*product.Product, error) {
	var p parser
	out := &product.Product{
		Entity:            polar.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                p.id(m.ID, id.PrefixProduct),
		OrganizationID:    p.id(m.OrganizationID, id.PrefixOrganization),
		Name:              m.Name,
		Amount:            m.Amount,
		Currency:          m.Currency,
		RecurringInterval: product.Interval(m.RecurringInterval),
		IntervalCount:     m.IntervalCount,
		MeterPrices:       m.MeterPrices,
		StripeProductID:   m.StripeProductID,
		IsArchived:        m.IsArchived,
	}
	for _, b := range m.BenefitIDs {
		out.BenefitIDs = append(out.BenefitIDs, p.id(b, id.PrefixBenefit))
	}
	return out, p.err
}

type discountModel struct {
	bun.BaseModel `bun:"table:polar_discounts"`

	ID               string    `bun:"id,pk"`
	OrganizationID   string    `bun:"organization_id,notnull"`
	Name             string    `bun:"name,notnull"`
	Code             string    `bun:"code,notnull"`
	Type             string    `bun:"type,notnull"`
	BasisPoints      int       `bun:"basis_points,notnull"`
	Amount           int64     `bun:"amount,notnull"`
	Currency         string    `bun:"currency,notnull"`
	Duration         string    `bun:"duration,notnull"`
	DurationInMonths int       `bun:"duration_in_months,notnull"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
	UpdatedAt        time.Time `bun:"updated_at,notnull"`
}

func toDiscountModel(d *discount.Discount) *discountModel {
	return &discountModel{
		ID: d.ID.String(), OrganizationID: d.OrganizationID.String(), Name: d.Name, Code: d.Code,
		Type: string(d.Type), BasisPoints: d.BasisPoints, Amount: d.Amount, Currency: d.Currency,
		Duration: string(d.Duration), DurationInMonths: d.DurationInMonths,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

func fromDiscountModel(m *discountModel) (*discount.Discount, error) {
	var p parser
	d := &discount.Discount{
		Entity:           polar.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:               p.id(m.ID, id.PrefixDiscount),
		OrganizationID:   p.id(m.OrganizationID, id.PrefixOrganization),
		Name:             m.Name,
		Code:             m.Code,
		Type:             discount.Type(m.Type),
		BasisPoints:      m.BasisPoints,
		Amount:           m.Amount,
		Currency:         m.Currency,
		Duration:         discount.Duration(m.Duration),
		DurationInMonths: m.DurationInMonths,
	}
	return d, p.err
}

type benefitModel struct {
	bun.BaseModel `bun:"table:polar_benefits"`

	ID             string    `bun:"id,pk"`
	OrganizationID string    `bun:"organization_id,notnull"`
	Type           string    `bun:"type,notnull"`
	Description    string    `bun:"description,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

func toBenefitModel(b *benefit.Benefit) *benefitModel {
	return &benefitModel{
		ID: b.ID.String(), OrganizationID: b.OrganizationID.String(), Type: b.Type, Description: b.Description,
		CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt,
	}
}

func fromBenefitModel(m *benefitModel) (*benefit.Benefit, error) {
	var p parser
	b := &benefit.Benefit{
		Entity:         polar.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             p.id(m.ID, id.PrefixBenefit),
		OrganizationID: p.id(m.OrganizationID, id.PrefixOrganization),
		Type:           m.Type,
		Description:    m.Description,
	}
	return b, p.err
}

type grantModel struct {
	bun.BaseModel `bun:"table:polar_benefit_grants"`

	ID             string     `bun:"id,pk"`
	SubscriptionID string     `bun:"subscription_id,notnull"`
	CustomerID     string     `bun:"customer_id,notnull"`
	BenefitID      string     `bun:"benefit_id,notnull"`
	GrantedAt      *time.Time `bun:"granted_at"`
	RevokedAt      *time.Time `bun:"revoked_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

func toGrantModel(g *benefit.Grant) *grantModel {
	return &grantModel{
		ID: g.ID.String(), SubscriptionID: g.SubscriptionID.String(), CustomerID: g.CustomerID.String(),
		BenefitID: g.BenefitID.String(), GrantedAt: g.GrantedAt, RevokedAt: g.RevokedAt,
		CreatedAt: g.CreatedAt, UpdatedAt: g.UpdatedAt,
	}
}

func fromGrantModel(m *grantModel) (*benefit.Grant, error) {
	var p parser
	g := &benefit.Grant{
		Entity:         polar.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             p.id(m.ID, id.PrefixBenefitGrant),
		SubscriptionID: p.id(m.SubscriptionID, id.PrefixSubscription),
		CustomerID:     p.id(m.CustomerID, id.PrefixCustomer),
		BenefitID:      p.id(m.BenefitID, id.PrefixBenefit),
		GrantedAt:      m.GrantedAt,
		RevokedAt:      m.RevokedAt,
	}
	return g, p.err
}

// ── Subscription / Order ─────────────────────────────────────────

type subscriptionModel struct {
	bun.BaseModel `bun:"table:polar_subscriptions"`

	ID                   string            `bun:"id,pk"`
	OrganizationID       string            `bun:"organization_id,notnull"`
	CustomerID           string            `bun:"customer_id,notnull"`
	ProductID            string            `bun:"product_id,notnull"`
	DiscountID           string            `bun:"discount_id,notnull"`
	Status               string            `bun:"status,notnull"`
	Amount               int64             `bun:"amount,notnull"`
	Currency             string            `bun:"currency,notnull"`
	RecurringInterval    string            `bun:"recurring_interval,notnull"`
	IntervalCount        int               `bun:"interval_count,notnull"`
	Meters               []meter.Price     `bun:"meters"`
	StartedAt            time.Time         `bun:"started_at,notnull"`
	CurrentPeriodStart   time.Time         `bun:"current_period_start,notnull"`
	CurrentPeriodEnd     time.Time         `bun:"current_period_end,notnull"`
	TrialEnd             *time.Time        `bun:"trial_end"`
	CancelAtPeriodEnd    bool              `bun:"cancel_at_period_end,notnull"`
	CanceledAt           *time.Time        `bun:"canceled_at"`
	EndsAt               *time.Time        `bun:"ends_at"`
	EndedAt              *time.Time        `bun:"ended_at"`
	StripeSubscriptionID string            `bun:"stripe_subscription_id,notnull"`
	PendingEffects       []jobqueue.Record `bun:"pending_effects"`
	CreatedAt            time.Time         `bun:"created_at,notnull"`
	UpdatedAt            time.Time         `bun:"updated_at,notnull"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID: s.ID.String(), OrganizationID: s.OrganizationID.String(), CustomerID: s.CustomerID.String(),
		ProductID: s.ProductID.String(), DiscountID: s.DiscountID.String(), Status: string(s.Status),
		Amount: s.Amount, Currency: s.Currency,
		RecurringInterval: string(s.RecurringInterval), IntervalCount: s.IntervalCount, Meters: s.Meters,
		StartedAt: s.StartedAt, CurrentPeriodStart: s.CurrentPeriodStart, CurrentPeriodEnd: s.CurrentPeriodEnd,
		TrialEnd: s.TrialEnd, CancelAtPeriodEnd: s.CancelAtPeriodEnd, CanceledAt: s.CanceledAt,
		EndsAt: s.EndsAt, EndedAt: s.EndedAt, StripeSubscriptionID: s.StripeSubscriptionID,
		PendingEffects: s.PendingEffects,
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	var p parser
	s := &subscription.Subscription{
		Entity:               polar.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                   p.id(m.ID, id.PrefixSubscription),
		OrganizationID:       p.id(m.OrganizationID, id.PrefixOrganization),
		CustomerID:           p.id(m.CustomerID, id.PrefixCustomer),
		ProductID:            p.id(m.ProductID, id.PrefixProduct),
		DiscountID:           p.id(m.DiscountID, id.PrefixDiscount),
		Status:               subscription.Status(m.Status),
		Amount:               m.Amount,
		Currency:             m.Currency,
		RecurringInterval:    product.Interval(m.RecurringInterval),
		IntervalCount:        m.IntervalCount,
		Meters:               m.Meters,
		StartedAt:            m.StartedAt,
		CurrentPeriodStart:   m.CurrentPeriodStart,
		CurrentPeriodEnd:     m.CurrentPeriodEnd,
		TrialEnd:             m.TrialEnd,
		CancelAtPeriodEnd:    m.CancelAtPeriodEnd,
		CanceledAt:           m.CanceledAt,
		EndsAt:               m.EndsAt,
		EndedAt:              m.EndedAt,
		StripeSubscriptionID: m.StripeSubscriptionID,
		PendingEffects:       m.PendingEffects,
	}
	return s, p.err
}

type orderModel struct {
	bun.BaseModel `bun:"table:polar_orders"`

	ID              string       `bun:"id,pk"`
	OrganizationID  string       `bun:"organization_id,notnull"`
	CustomerID      string       `bun:"customer_id,notnull"`
	ProductID       string       `bun:"product_id,notnull"`
	SubscriptionID  string       `bun:"subscription_id,notnull"`
	DiscountID      string       `bun:"discount_id,notnull"`
	BillingReason   string       `bun:"billing_reason,notnull"`
	Subtotal        int64        `bun:"subtotal,notnull"`
	Discount        int64        `bun:"discount,notnull"`
	Tax             int64        `bun:"tax,notnull"`
	Total           int64        `bun:"total,notnull"`
	Currency        string       `bun:"currency,notnull"`
	Items           []order.Item `bun:"items"`
	StripeInvoiceID string       `bun:"stripe_invoice_id,notnull"`
	IdempotencyKey  string       `bun:"idempotency_key,notnull"`
	CreatedAt       time.Time    `bun:"created_at,notnull"`
	UpdatedAt       time.Time    `bun:"updated_at,notnull"`
}

func toOrderModel(o *order.Order) *orderModel {
	return &orderModel{
		ID: o.ID.String(), OrganizationID: o.OrganizationID.String(), CustomerID: o.CustomerID.String(),
		ProductID: o.ProductID.String(), SubscriptionID: o.SubscriptionID.String(),
		DiscountID: o.DiscountID.String(), BillingReason: string(o.BillingReason),
		Subtotal: o.Subtotal, Discount: o.Discount, Tax: o.Tax, Total: o.Total, Currency: o.Currency,
		Items: o.Items, StripeInvoiceID: o.StripeInvoiceID, IdempotencyKey: o.IdempotencyKey,
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

func fromOrderModel(m *orderModel) (*order.Order, error) {
	var p parser
	o := &order.Order{
		Entity:          polar.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:              p.id(m.ID, id.PrefixOrder),
		OrganizationID:  p.id(m.OrganizationID, id.PrefixOrganization),
		CustomerID:      p.id(m.CustomerID, id.PrefixCustomer),
		ProductID:       p.id(m.ProductID, id.PrefixProduct),
		SubscriptionID:  p.id(m.SubscriptionID, id.PrefixSubscription),
		DiscountID:      p.id(m.DiscountID, id.PrefixDiscount),
		BillingReason:   order.BillingReason(m.BillingReason),
		Subtotal:        m.Subtotal,
		Discount:        m.Discount,
		Tax:             m.Tax,
		Total:           m.Total,
		Currency:        m.Currency,
		Items:           m.Items,
		StripeInvoiceID: m.StripeInvoiceID,
		IdempotencyKey:  m.IdempotencyKey,
	}
	return o, p.err
}

// ── Ledger ───────────────────────────────────────────────────────

type transactionModel struct {
	bun.BaseModel `bun:"table:polar_transactions"`

	ID             string    `bun:"id,pk"`
	Kind           string    `bun:"kind,notnull"`
	OrganizationID string    `bun:"organization_id,notnull"`
	AccountID      string    `bun:"account_id,notnull"`
	OrderID        string    `bun:"order_id,notnull"`
	Amount         int64     `bun:"amount,notnull"`
	Currency       string    `bun:"currency,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func toTransactionModel(t *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID: t.ID.String(), Kind: string(t.Kind), OrganizationID: t.OrganizationID.String(),
		AccountID: t.AccountID.String(), OrderID: t.OrderID.String(),
		Amount: t.Amount, Currency: t.Currency, CreatedAt: t.CreatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	var p parser
	t := &transaction.Transaction{
		ID:             p.id(m.ID, id.PrefixTransaction),
		Kind:           transaction.Kind(m.Kind),
		OrganizationID: p.id(m.OrganizationID, id.PrefixOrganization),
		AccountID:      p.id(m.AccountID, id.PrefixAccount),
		OrderID:        p.id(m.OrderID, id.PrefixOrder),
		Amount:         m.Amount,
		Currency:       m.Currency,
		CreatedAt:      m.CreatedAt,
	}
	return t, p.err
}

type heldBalanceModel struct {
	bun.BaseModel `bun:"table:polar_held_balances"`

	ID             string    `bun:"id,pk"`
	OrganizationID string    `bun:"organization_id,notnull"`
	OrderID        string    `bun:"order_id,notnull,unique"`
	Amount         int64     `bun:"amount,notnull"`
	Currency       string    `bun:"currency,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func toHeldBalanceModel(h *transaction.HeldBalance) *heldBalanceModel {
	return &heldBalanceModel{
		ID: h.ID.String(), OrganizationID: h.OrganizationID.String(), OrderID: h.OrderID.String(),
		Amount: h.Amount, Currency: h.Currency, CreatedAt: h.CreatedAt,
	}
}

func fromHeldBalanceModel(m *heldBalanceModel) (*transaction.HeldBalance, error) {
	var p parser
	h := &transaction.HeldBalance{
		ID:             p.id(m.ID, id.PrefixHeldBalance),
		OrganizationID: p.id(m.OrganizationID, id.PrefixOrganization),
		OrderID:        p.id(m.OrderID, id.PrefixOrder),
		Amount:         m.Amount,
		Currency:       m.Currency,
		CreatedAt:      m.CreatedAt,
	}
	return h, p.err
}

// ── Meter / External event ───────────────────────────────────────

type meterModel struct {
	bun.BaseModel `bun:"table:polar_meters"`

	ID             string    `bun:"id,pk"`
	OrganizationID string    `bun:"organization_id,notnull"`
	Name           string    `bun:"name,notnull"`
	EventName      string    `bun:"event_name,notnull"`
	Aggregation    string    `bun:"aggregation,notnull"`
	Property       string    `bun:"property,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

func toMeterModel(mt *meter.Meter) *meterModel {
	return &meterModel{
		ID: mt.ID.String(), OrganizationID: mt.OrganizationID.String(), Name: mt.Name,
		EventName: mt.EventName, Aggregation: string(mt.Aggregation), Property: mt.Property,
		CreatedAt: mt.CreatedAt, UpdatedAt: mt.UpdatedAt,
	}
}

func fromMeterModel(m *meterModel) (*meter.Meter, error) {
	var p parser
	mt := &meter.Meter{
		Entity:         polar.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             p.id(m.ID, id.PrefixMeter),
		OrganizationID: p.id(m.OrganizationID, id.PrefixOrganization),
		Name:           m.Name,
		EventName:      m.EventName,
		Aggregation:    meter.Aggregation(m.Aggregation),
		Property:       m.Property,
	}
	return mt, p.err
}

type billingEntryModel struct {
	bun.BaseModel `bun:"table:polar_billing_entries"`

	ID             string    `bun:"id,pk"`
	SubscriptionID string    `bun:"subscription_id,notnull"`
	CustomerID     string    `bun:"customer_id,notnull"`
	MeterID        string    `bun:"meter_id,notnull"`
	PeriodStart    time.Time `bun:"period_start,notnull"`
	PeriodEnd      time.Time `bun:"period_end,notnull"`
	Units          float64   `bun:"units,notnull"`
	UnitAmount     int64     `bun:"unit_amount,notnull"`
	Amount         int64     `bun:"amount,notnull"`
	Currency       string    `bun:"currency,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func toBillingEntryModel(e *meter.BillingEntry) *billingEntryModel {
	return &billingEntryModel{
		ID: e.ID.String(), SubscriptionID: e.SubscriptionID.String(), CustomerID: e.CustomerID.String(),
		MeterID: e.MeterID.String(), PeriodStart: e.PeriodStart.UTC(), PeriodEnd: e.PeriodEnd.UTC(),
		Units: e.Units, UnitAmount: e.UnitAmount, Amount: e.Amount, Currency: e.Currency,
		CreatedAt: e.CreatedAt,
	}
}

func fromBillingEntryModel(m *billingEntryModel) (*meter.BillingEntry, error) {
	var p parser
	e := &meter.BillingEntry{
		ID:             p.id(m.ID, id.PrefixBillingEntry),
		SubscriptionID: p.id(m.SubscriptionID, id.PrefixSubscription),
		CustomerID:     p.id(m.CustomerID, id.PrefixCustomer),
		MeterID:        p.id(m.MeterID, id.PrefixMeter),
		PeriodStart:    m.PeriodStart,
		PeriodEnd:      m.PeriodEnd,
		Units:          m.Units,
		UnitAmount:     m.UnitAmount,
		Amount:         m.Amount,
		Currency:       m.Currency,
		CreatedAt:      m.CreatedAt,
	}
	return e, p.err
}

type externalEventModel struct {
	bun.BaseModel `bun:"table:polar_external_events"`

	ID         string     `bun:"id,pk"`
	Source     string     `bun:"source,notnull"`
	Task       string     `bun:"task,notnull"`
	ExternalID string     `bun:"external_id,notnull"`
	Data       []byte     `bun:"data"`
	HandledAt  *time.Time `bun:"handled_at"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
}

func toExternalEventModel(e *externalevent.Event) *externalEventModel {
	return &externalEventModel{
		ID: e.ID.String(), Source: string(e.Source), Task: e.Task, ExternalID: e.ExternalID,
		Data: []byte(e.Data), HandledAt: e.HandledAt, CreatedAt: e.CreatedAt,
	}
}

func fromExternalEventModel(m *externalEventModel) (*externalevent.Event, error) {
	var p parser
	e := &externalevent.Event{
		ID:         p.id(m.ID, id.PrefixExternalEvent),
		Source:     externalevent.Source(m.Source),
		Task:       m.Task,
		ExternalID: m.ExternalID,
		Data:       json.RawMessage(m.Data),
		HandledAt:  m.HandledAt,
		CreatedAt:  m.CreatedAt,
	}
	return e, p.err
}

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-edu-billing/internal/domain"
)

// PlanCode identifies a billing tier.
type PlanCode string

const (
	PlanMonthly PlanCode = "MONTHLY"
	PlanYearly  PlanCode = "YEARLY"
	PlanPremium PlanCode = "PREMIUM"
)

// ParsePlanCode accepts any casing ("monthly", "Monthly", ...).
func ParsePlanCode(s string) (PlanCode, error) {
	switch c := PlanCode(strings.ToUpper(strings.TrimSpace(s))); c {
	case PlanMonthly, PlanYearly, PlanPremium:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown plan %q", domain.ErrInvalidArgument, s)
	}
}

// Plan represents a billing tier with a fixed interval and price.
type Plan struct {
	Code           PlanCode
	IntervalMonths int
	AmountCents    int64
	Currency       string
	Role           Role // role granted while the subscription is live
}

func (p *Plan) IsZero() bool { return p == nil || p.Code == "" }

// AddInterval returns t advanced by one billing interval.
func (p *Plan) AddInterval(t time.Time) time.Time {
	return t.AddDate(0, p.IntervalMonths, 0)
}

// NewPlan validates and constructs a plan. price is a decimal string in major
// units, e.g. "29.99".
func NewPlan(code PlanCode, intervalMonths int, price, currency string, role Role) (*Plan, error) {
	if code == "" || intervalMonths <= 0 || currency == "" || role == "" {
		return nil, domain.ErrInvalidArgument
	}
	amount, err := PriceToCents(price)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: plan %s price must be positive", domain.ErrInvalidArgument, code)
	}
	return &Plan{
		Code:           code,
		IntervalMonths: intervalMonths,
		AmountCents:    amount,
		Currency:       strings.ToUpper(currency),
		Role:           role,
	}, nil
}

// PriceToCents converts a decimal price string into integer minor units.
func PriceToCents(price string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid price %q", domain.ErrInvalidArgument, price)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// FormatCents renders minor units as a decimal string ("2999" -> "29.99").
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// PlanCatalog is the fixed set of plans the billing service can charge for.
type PlanCatalog struct {
	plans map[PlanCode]*Plan
}

func NewPlanCatalog(plans ...*Plan) *PlanCatalog {
	c := &PlanCatalog{plans: make(map[PlanCode]*Plan, len(plans))}
	for _, p := range plans {
		if !p.IsZero() {
			c.plans[p.Code] = p
		}
	}
	return c
}

func (c *PlanCatalog) Get(code PlanCode) (*Plan, error) {
	p, ok := c.plans[code]
	if !ok {
		return nil, fmt.Errorf("%w: plan %s not configured", domain.ErrInvalidArgument, code)
	}
	return p, nil
}

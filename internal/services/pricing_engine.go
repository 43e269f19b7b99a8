package services

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/digital-play/api/internal/domain"
	"github.com/digital-play/api/internal/platform/textutil"
)

var (
	// ErrPricingInvalidInput indicates the engine was invoked with malformed arguments.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingValidation indicates the supplied options fail the category rule.
	ErrPricingValidation = errors.New("pricing: validation failed")
)

// FieldError names the option field that failed validation so handlers can
// return actionable feedback instead of a generic failure.
type FieldError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Message)
}

// Unwrap ties field errors into the validation sentinel.
func (e *FieldError) Unwrap() error {
	return ErrPricingValidation
}

func newFieldError(field, message string) error {
	return &FieldError{Field: field, Message: message}
}

// PriceQuote is the pricing engine output: the unit price in minor units and
// the normalized option payload that will be snapshotted onto the cart line.
type PriceQuote struct {
	UnitPrice int64
	Options   map[string]string
}

// PricingRule validates customer-supplied options and computes the unit price
// for one category kind. Rules are pure: no side effects, no I/O.
type PricingRule interface {
	RequiredFields() []string
	OptionFields() []string
	UnitPrice(product Product, options map[string]string) (int64, error)
}

// Option field names shared between the rules and the HTTP payloads.
const (
	OptionDuration        = "duration"
	OptionTier            = "tier"
	OptionAmount          = "amount"
	OptionAccountEmail    = "accountEmail"
	OptionAccountPassword = "accountPassword"
	OptionPlayerID        = "playerId"
	OptionRecipientEmail  = "recipientEmail"
	OptionDeliveryAddress = "deliveryAddress"
	OptionPhoneNumber     = "phoneNumber"
	OptionColor           = "color"
	OptionNotes           = "notes"
)

// defaultDurationMultipliers maps subscription duration values to base-price
// multipliers. Values mirror the storefront's published subscription offers.
var defaultDurationMultipliers = map[string]float64{
	"1-month":   1,
	"3-months":  2.7,
	"6-months":  5,
	"12-months": 9,
}

// defaultTopUpTiers maps in-game currency tiers to fixed prices in minor
// units. Tier prices are not derived from the product base price.
var defaultTopUpTiers = map[string]int64{
	"100":  5000,
	"300":  14000,
	"500":  22000,
	"1000": 40000,
	"2000": 75000,
}

// defaultGiftCardRate converts one face-value unit into minor currency units.
const defaultGiftCardRate int64 = 700

// SubscriptionRule prices streaming subscriptions: base price scaled by the
// selected duration, account credentials required so the operator can renew on
// the customer's behalf.
type SubscriptionRule struct {
	Multipliers map[string]float64
}

func (r SubscriptionRule) RequiredFields() []string {
	return []string{OptionAccountEmail, OptionAccountPassword}
}

func (r SubscriptionRule) OptionFields() []string {
	return []string{OptionDuration, OptionAccountEmail, OptionAccountPassword, OptionNotes}
}

func (r SubscriptionRule) UnitPrice(product Product, options map[string]string) (int64, error) {
	multipliers := r.Multipliers
	if multipliers == nil {
		multipliers = defaultDurationMultipliers
	}
	duration := options[OptionDuration]
	if duration == "" {
		duration = "1-month"
	}
	multiplier, ok := multipliers[duration]
	if !ok {
		return 0, newFieldError(OptionDuration, fmt.Sprintf("unknown duration %q", duration))
	}
	return int64(math.Round(float64(product.BasePrice) * multiplier)), nil
}

// TopUpRule prices in-game wallet top-ups from a fixed tier table keyed by the
// selected tier; a player identifier is required for delivery.
type TopUpRule struct {
	Tiers map[string]int64
}

func (r TopUpRule) RequiredFields() []string {
	return []string{OptionPlayerID}
}

func (r TopUpRule) OptionFields() []string {
	return []string{OptionTier, OptionPlayerID, OptionNotes}
}

func (r TopUpRule) UnitPrice(product Product, options map[string]string) (int64, error) {
	tiers := r.Tiers
	if tiers == nil {
		tiers = defaultTopUpTiers
	}
	tier := options[OptionTier]
	if tier == "" {
		return product.BasePrice, nil
	}
	price, ok := tiers[tier]
	if !ok {
		return 0, newFieldError(OptionTier, fmt.Sprintf("unknown tier %q", tier))
	}
	return price, nil
}

// GiftCardRule prices gift cards as face value times a fixed conversion rate;
// the recipient contact is required for delivery.
type GiftCardRule struct {
	Rate int64
}

func (r GiftCardRule) RequiredFields() []string {
	return []string{OptionRecipientEmail}
}

func (r GiftCardRule) OptionFields() []string {
	return []string{OptionAmount, OptionRecipientEmail, OptionNotes}
}

func (r GiftCardRule) UnitPrice(product Product, options map[string]string) (int64, error) {
	rate := r.Rate
	if rate <= 0 {
		rate = defaultGiftCardRate
	}
	raw := options[OptionAmount]
	if raw == "" {
		return 0, newFieldError(OptionAmount, "face amount is required")
	}
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || amount <= 0 {
		return 0, newFieldError(OptionAmount, fmt.Sprintf("invalid face amount %q", raw))
	}
	return amount * rate, nil
}

// PhysicalRule prices physical goods at the flat base price and requires
// delivery coordinates.
type PhysicalRule struct{}

func (PhysicalRule) RequiredFields() []string {
	return []string{OptionDeliveryAddress, OptionPhoneNumber}
}

func (PhysicalRule) OptionFields() []string {
	return []string{OptionDeliveryAddress, OptionPhoneNumber, OptionColor, OptionNotes}
}

func (PhysicalRule) UnitPrice(product Product, options map[string]string) (int64, error) {
	return product.BasePrice, nil
}

// PassThroughRule is the default: base price, no required fields.
type PassThroughRule struct{}

func (PassThroughRule) RequiredFields() []string { return nil }

func (PassThroughRule) OptionFields() []string { return []string{OptionNotes} }

func (PassThroughRule) UnitPrice(product Product, options map[string]string) (int64, error) {
	return product.BasePrice, nil
}

// PricingEngineDeps configures the rule table. Zero values fall back to the
// built-in defaults.
type PricingEngineDeps struct {
	// Rules overrides the per-kind rule table.
	Rules map[domain.CategoryKind]PricingRule
	// ProductOverrides binds an explicit product ID to a rule, taking
	// precedence over its category kind.
	ProductOverrides map[string]PricingRule
	// Sanitizer strips markup from free-text option values. Defaults to the
	// strict policy.
	Sanitizer *bluemonday.Policy
}

// PricingEngine maps (product, category, options) to a validated quote via a
// rule table keyed by category kind. Adding a product type means adding a rule
// entry, not a new conditional branch.
type PricingEngine struct {
	rules     map[domain.CategoryKind]PricingRule
	overrides map[string]PricingRule
	sanitizer *bluemonday.Policy
}

// NewPricingEngine builds the engine with defaults for any rule not supplied.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	rules := map[domain.CategoryKind]PricingRule{
		domain.CategoryKindSubscription: SubscriptionRule{},
		domain.CategoryKindTopUp:        TopUpRule{},
		domain.CategoryKindGiftCard:     GiftCardRule{},
		domain.CategoryKindPhysical:     PhysicalRule{},
		domain.CategoryKindStandard:     PassThroughRule{},
	}
	for kind, rule := range deps.Rules {
		if rule == nil {
			return nil, fmt.Errorf("%w: nil rule for kind %q", ErrPricingInvalidInput, kind)
		}
		rules[kind] = rule
	}
	overrides := make(map[string]PricingRule, len(deps.ProductOverrides))
	for productID, rule := range deps.ProductOverrides {
		if rule == nil {
			return nil, fmt.Errorf("%w: nil rule for product %q", ErrPricingInvalidInput, productID)
		}
		overrides[productID] = rule
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.StrictPolicy()
	}
	return &PricingEngine{rules: rules, overrides: overrides, sanitizer: sanitizer}, nil
}

// Quote validates the selected options against the product's rule and returns
// the unit price plus the normalized option payload. Unknown option fields are
// dropped, never rejected.
func (e *PricingEngine) Quote(product Product, category Category, selectedOptions map[string]string) (PriceQuote, error) {
	if product.ID == "" {
		return PriceQuote{}, fmt.Errorf("%w: product is required", ErrPricingInvalidInput)
	}

	rule := e.ruleFor(product, category)
	normalized := e.normalizeOptions(rule, selectedOptions)

	for _, field := range rule.RequiredFields() {
		if normalized[field] == "" {
			return PriceQuote{}, newFieldError(field, "value is required")
		}
	}

	price, err := rule.UnitPrice(product, normalized)
	if err != nil {
		return PriceQuote{}, err
	}
	if price < 0 {
		return PriceQuote{}, fmt.Errorf("%w: rule produced negative price for product %s", ErrPricingInvalidInput, product.ID)
	}
	return PriceQuote{UnitPrice: price, Options: normalized}, nil
}

func (e *PricingEngine) ruleFor(product Product, category Category) PricingRule {
	if rule, ok := e.overrides[product.ID]; ok {
		return rule
	}
	if rule, ok := e.rules[category.Kind]; ok {
		return rule
	}
	return e.rules[domain.CategoryKindStandard]
}

func (e *PricingEngine) normalizeOptions(rule PricingRule, selected map[string]string) map[string]string {
	selected = textutil.NormalizeStringMap(selected)
	normalized := make(map[string]string, len(selected))
	for _, field := range rule.OptionFields() {
		value := selected[field]
		if value == "" {
			continue
		}
		if field == OptionNotes || field == OptionDeliveryAddress {
			value = strings.TrimSpace(e.sanitizer.Sanitize(value))
		}
		normalized[field] = value
	}
	return normalized
}

// optionsEqual reports whether two normalized option payloads match exactly.
// Used by the cart to decide whether to merge lines.
func optionsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	keys := make([]string, 0, len(a))
	for key := range a {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		other, ok := b[key]
		if !ok || other != a[key] {
			return false
		}
	}
	return true
}

// Package billing implements the Sapar entitlement ledger: the plan/product
// catalog, the transaction and credit ledgers, the entitlement resolver, and
// the mutation orchestrator that gives every mutating endpoint exactly-once
// semantics.
package billing

import (
	"sort"

	"sapar/internal/types"
)

// defaultCurrency is the platform billing currency (tenge minor units).
const defaultCurrency = "KZT"

// Catalog is the authoritative read-only reference data for plans and
// products. This is the single source of truth for what each plan allows and
// what each product costs and grants.
type Catalog struct {
	plans    map[types.PlanCode]types.Plan
	products map[types.ProductCode]types.Product
}

// planDefaults defines the hardcoded plan limits.
// Zero limit values mean unlimited -- enforcement code treats 0 as no limit.
var planDefaults = map[types.PlanCode]types.Plan{
	types.PlanFree: {
		Code: types.PlanFree,
		Limits: types.PlanLimits{
			MaxMembers:           50,
			MaxEventParticipants: 50,
			AllowPaidEvents:      false,
			AllowCsvExport:       false,
		},
		PriceMinorUnits: 0,
		CurrencyCode:    defaultCurrency,
	},
	types.PlanClubPlus: {
		Code: types.PlanClubPlus,
		Limits: types.PlanLimits{
			MaxMembers:           500,
			MaxEventParticipants: 200,
			AllowPaidEvents:      true,
			AllowCsvExport:       true,
		},
		PriceMinorUnits: 990000,
		CurrencyCode:    defaultCurrency,
		PeriodDays:      30,
	},
	types.PlanClubPro: {
		Code: types.PlanClubPro,
		Limits: types.PlanLimits{
			MaxMembers:           0, // Unlimited
			MaxEventParticipants: 0, // Unlimited
			AllowPaidEvents:      true,
			AllowCsvExport:       true,
		},
		PriceMinorUnits: 2490000,
		CurrencyCode:    defaultCurrency,
		PeriodDays:      30,
	},
}

// productDefaults defines the purchasable catalog. One-off products issue
// GrantCount credits of CreditCode on settlement; club-plan products activate
// PlanCode for PeriodDays.
var productDefaults = map[types.ProductCode]types.Product{
	types.ProductEventUpgrade500: {
		Code:             types.ProductEventUpgrade500,
		Kind:             types.KindOneOff,
		PriceMinorUnits:  1000,
		CurrencyCode:     defaultCurrency,
		CreditCode:       types.CreditEventUpgrade500,
		BonusPlaces:      500,
		GrantCount:       1,
		CreditExpiryDays: 365,
	},
	types.ProductEventUpgrade1000: {
		Code:             types.ProductEventUpgrade1000,
		Kind:             types.KindOneOff,
		PriceMinorUnits:  1900,
		CurrencyCode:     defaultCurrency,
		CreditCode:       types.CreditEventUpgrade1000,
		BonusPlaces:      1000,
		GrantCount:       1,
		CreditExpiryDays: 365,
	},
	types.ProductEventUpgrade500Pack3: {
		Code:             types.ProductEventUpgrade500Pack3,
		Kind:             types.KindOneOff,
		PriceMinorUnits:  2500,
		CurrencyCode:     defaultCurrency,
		CreditCode:       types.CreditEventUpgrade500,
		BonusPlaces:      500,
		GrantCount:       3,
		CreditExpiryDays: 365,
	},
	types.ProductClubPlus30D: {
		Code:            types.ProductClubPlus30D,
		Kind:            types.KindClubPlan,
		PriceMinorUnits: 990000,
		CurrencyCode:    defaultCurrency,
		PlanCode:        types.PlanClubPlus,
		PeriodDays:      30,
	},
	types.ProductClubPro30D: {
		Code:            types.ProductClubPro30D,
		Kind:            types.KindClubPlan,
		PriceMinorUnits: 2490000,
		CurrencyCode:    defaultCurrency,
		PlanCode:        types.PlanClubPro,
		PeriodDays:      30,
	},
	types.ProductSystemGrant: {
		Code:            types.ProductSystemGrant,
		Kind:            types.KindSystem,
		PriceMinorUnits: 0,
		CurrencyCode:    defaultCurrency,
	},
}

// NewStaticCatalog returns the standard production catalog backed by the
// hardcoded reference data. No database or external service is required.
func NewStaticCatalog() *Catalog {
	// Copy the defaults so callers cannot mutate the package-level maps.
	plans := make(map[types.PlanCode]types.Plan, len(planDefaults))
	for k, v := range planDefaults {
		plans[k] = v
	}
	products := make(map[types.ProductCode]types.Product, len(productDefaults))
	for k, v := range productDefaults {
		products[k] = v
	}
	return &Catalog{plans: plans, products: products}
}

// Plan returns the catalog row for the given plan code.
func (c *Catalog) Plan(code types.PlanCode) (types.Plan, bool) {
	p, ok := c.plans[code]
	return p, ok
}

// PlanLimits returns the limits for the given plan code. Unknown codes return
// the most restrictive (Free) limits to fail safely.
func (c *Catalog) PlanLimits(code types.PlanCode) types.PlanLimits {
	if p, ok := c.plans[code]; ok {
		return p.Limits
	}
	return c.plans[types.PlanFree].Limits
}

// Product returns the catalog row for the given product code.
func (c *Catalog) Product(code types.ProductCode) (types.Product, bool) {
	p, ok := c.products[code]
	return p, ok
}

// CreditBonus returns the participant bonus a credit of the given code
// confers, or 0 for unknown codes.
func (c *Catalog) CreditBonus(code types.CreditCode) int {
	for _, p := range c.products {
		if p.Kind == types.KindOneOff && p.CreditCode == code {
			return p.BonusPlaces
		}
	}
	return 0
}

// KnownCredit reports whether any product issues credits of the given code.
func (c *Catalog) KnownCredit(code types.CreditCode) bool {
	return c.CreditBonus(code) > 0
}

// CreditTier pairs a credit code with the bonus it confers.
type CreditTier struct {
	Code  types.CreditCode
	Bonus int
}

// CreditTiers returns the distinct credit codes ordered by ascending bonus,
// so callers can pick the smallest credit that satisfies a request.
func (c *Catalog) CreditTiers() []CreditTier {
	seen := make(map[types.CreditCode]int)
	for _, p := range c.products {
		if p.Kind == types.KindOneOff && p.CreditCode != "" {
			seen[p.CreditCode] = p.BonusPlaces
		}
	}
	tiers := make([]CreditTier, 0, len(seen))
	for code, bonus := range seen {
		tiers = append(tiers, CreditTier{Code: code, Bonus: bonus})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Bonus < tiers[j].Bonus })
	return tiers
}

// CheapestParticipantUpsell returns the cheapest catalog item (one-off
// product or plan) that would satisfy the requested participant count, or
// nil when nothing in the catalog does.
func (c *Catalog) CheapestParticipantUpsell(requested int) *types.UpsellOption {
	var best *types.UpsellOption
	consider := func(opt types.UpsellOption) {
		if best == nil || opt.PriceMinorUnits < best.PriceMinorUnits {
			o := opt
			best = &o
		}
	}
	for _, p := range c.products {
		if p.Kind == types.KindOneOff && p.BonusPlaces >= requested {
			consider(types.UpsellOption{
				ProductCode:     p.Code,
				PriceMinorUnits: p.PriceMinorUnits,
				CurrencyCode:    p.CurrencyCode,
			})
		}
	}
	for _, pl := range c.plans {
		if pl.PriceMinorUnits == 0 {
			continue
		}
		if pl.Limits.MaxEventParticipants == 0 || pl.Limits.MaxEventParticipants >= requested {
			consider(types.UpsellOption{
				PlanCode:        pl.Code,
				PriceMinorUnits: pl.PriceMinorUnits,
				CurrencyCode:    pl.CurrencyCode,
			})
		}
	}
	return best
}

// CheapestPlanUpsell returns the cheapest paid plan satisfying the predicate,
// or nil when none does. Used for boolean feature gates and member limits.
func (c *Catalog) CheapestPlanUpsell(satisfies func(types.Plan) bool) *types.UpsellOption {
	var best *types.UpsellOption
	for _, pl := range c.plans {
		if pl.PriceMinorUnits == 0 || !satisfies(pl) {
			continue
		}
		if best == nil || pl.PriceMinorUnits < best.PriceMinorUnits {
			best = &types.UpsellOption{
				PlanCode:        pl.Code,
				PriceMinorUnits: pl.PriceMinorUnits,
				CurrencyCode:    pl.CurrencyCode,
			}
		}
	}
	return best
}

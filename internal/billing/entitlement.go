package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sapar/internal/types"
)

// Entitlements answers "what may this user/club do right now". The answer is
// always derived from the latest committed ledger state and never persisted,
// so there is no cache to invalidate when a settlement lands.
//
// Reads run against the pool, not inside a storage transaction: entitlement
// checks are advisory snapshots and an in-flight settlement may legitimately
// change the answer a moment later.
type Entitlements struct {
	store   types.Store
	catalog *Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewEntitlements creates an Entitlements resolver over the given store and
// catalog.
func NewEntitlements(store types.Store, catalog *Catalog, logger *slog.Logger) *Entitlements {
	return &Entitlements{store: store, catalog: catalog, logger: logger, now: time.Now}
}

// ActionRequest describes an action a caller wants to perform. EventID and
// Participants only apply to event-scoped actions.
type ActionRequest struct {
	Action       types.ActionCode
	ClubID       string
	UserID       string
	EventID      string
	Participants int
}

// Resolve computes the effective entitlement for the club, including any
// participant bonus from credits the user already consumed for the event.
// Passing empty userID/eventID yields the plan-only entitlement.
func (e *Entitlements) Resolve(ctx context.Context, clubID, userID, eventID string) (*types.EffectiveEntitlement, error) {
	plan, err := e.currentPlan(ctx, clubID)
	if err != nil {
		return nil, err
	}
	limits := e.catalog.PlanLimits(plan)

	eff := &types.EffectiveEntitlement{
		Plan:            plan,
		MaxParticipants: limits.MaxEventParticipants,
		MaxMembers:      limits.MaxMembers,
		AllowPaidEvents: limits.AllowPaidEvents,
		AllowCsvExport:  limits.AllowCsvExport,
	}

	if userID == "" || eventID == "" || eff.MaxParticipants == 0 {
		// Nothing to merge, or the plan is already unlimited.
		return eff, nil
	}

	consumed, err := e.store.Credits().ListConsumedForEvent(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	for _, c := range consumed {
		if bonus := e.catalog.CreditBonus(c.CreditCode); bonus > eff.MaxParticipants {
			eff.MaxParticipants = bonus
		}
	}
	return eff, nil
}

// CheckAction evaluates the three-way decision for the requested action.
// Deny and RequireConfirmation are values, not errors: the only error returns
// are validation failures and storage faults.
func (e *Entitlements) CheckAction(ctx context.Context, req ActionRequest) (*types.Decision, error) {
	if !req.Action.IsValid() {
		return nil, types.NewAppError(types.ErrCodeValidationUnknownAction,
			fmt.Sprintf("unknown action code: %s", req.Action), nil)
	}

	switch req.Action {
	case types.ActionCreateEvent:
		return e.checkEventCreate(ctx, req)
	case types.ActionAddMember:
		return e.checkMemberAdd(ctx, req)
	case types.ActionCreatePaidEvent:
		return e.checkPlanGate(ctx, req.ClubID, "paid events require an upgraded plan",
			func(l types.PlanLimits) bool { return l.AllowPaidEvents },
			func(p types.Plan) bool { return p.Limits.AllowPaidEvents })
	case types.ActionExportLedgerCSV:
		return e.checkPlanGate(ctx, req.ClubID, "ledger export requires an upgraded plan",
			func(l types.PlanLimits) bool { return l.AllowCsvExport },
			func(p types.Plan) bool { return p.Limits.AllowCsvExport })
	default:
		return nil, types.NewAppError(types.ErrCodeValidationUnknownAction,
			fmt.Sprintf("unhandled action code: %s", req.Action), nil)
	}
}

// checkEventCreate applies the participant ladder: within plan limit (or an
// already-consumed bonus) allows outright; an available credit big enough asks
// for explicit confirmation; otherwise deny with the cheapest upsell.
func (e *Entitlements) checkEventCreate(ctx context.Context, req ActionRequest) (*types.Decision, error) {
	if req.Participants <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationParticipants,
			"participants must be a positive number", nil)
	}

	eff, err := e.Resolve(ctx, req.ClubID, req.UserID, req.EventID)
	if err != nil {
		return nil, err
	}

	if eff.MaxParticipants == 0 || req.Participants <= eff.MaxParticipants {
		return &types.Decision{Outcome: types.DecisionAllow}, nil
	}

	// The plan alone does not cover it. Offer the smallest available credit
	// that would: consuming a credit is spending, so it never happens
	// implicitly.
	for _, tier := range e.catalog.CreditTiers() {
		if tier.Bonus < req.Participants {
			continue
		}
		count, err := e.store.Credits().CountAvailable(ctx, req.UserID, tier.Code)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return &types.Decision{
				Outcome:    types.DecisionRequireConfirmation,
				Reason:     "participant count exceeds the plan limit; a credit can cover it",
				CreditCode: tier.Code,
			}, nil
		}
	}

	return &types.Decision{
		Outcome: types.DecisionDeny,
		Reason:  fmt.Sprintf("participant count %d exceeds the plan limit of %d", req.Participants, eff.MaxParticipants),
		Upsell:  e.catalog.CheapestParticipantUpsell(req.Participants),
	}, nil
}

// checkMemberAdd is plan-only: credits never raise the member limit.
func (e *Entitlements) checkMemberAdd(ctx context.Context, req ActionRequest) (*types.Decision, error) {
	if req.Participants <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationParticipants,
			"member count must be a positive number", nil)
	}

	plan, err := e.currentPlan(ctx, req.ClubID)
	if err != nil {
		return nil, err
	}
	limits := e.catalog.PlanLimits(plan)

	if limits.MaxMembers == 0 || req.Participants <= limits.MaxMembers {
		return &types.Decision{Outcome: types.DecisionAllow}, nil
	}

	return &types.Decision{
		Outcome: types.DecisionDeny,
		Reason:  fmt.Sprintf("member count %d exceeds the plan limit of %d", req.Participants, limits.MaxMembers),
		Upsell: e.catalog.CheapestPlanUpsell(func(p types.Plan) bool {
			return p.Limits.MaxMembers == 0 || p.Limits.MaxMembers >= req.Participants
		}),
	}, nil
}

// checkPlanGate evaluates a boolean plan feature. There is no credit that
// unlocks these, so the decision is a straight allow/deny.
func (e *Entitlements) checkPlanGate(ctx context.Context, clubID, denyReason string, allowed func(types.PlanLimits) bool, satisfies func(types.Plan) bool) (*types.Decision, error) {
	plan, err := e.currentPlan(ctx, clubID)
	if err != nil {
		return nil, err
	}
	if allowed(e.catalog.PlanLimits(plan)) {
		return &types.Decision{Outcome: types.DecisionAllow}, nil
	}
	return &types.Decision{
		Outcome: types.DecisionDeny,
		Reason:  denyReason,
		Upsell:  e.catalog.CheapestPlanUpsell(satisfies),
	}, nil
}

// currentPlan returns the plan the club's subscription confers right now.
// No subscription row, an expired period or a lapsed grace window all mean
// the free tier.
func (e *Entitlements) currentPlan(ctx context.Context, clubID string) (types.PlanCode, error) {
	sub, err := e.store.Subscriptions().GetActive(ctx, clubID)
	if err != nil {
		return "", err
	}
	if !sub.CurrentAt(e.now()) {
		return types.PlanFree, nil
	}
	return sub.PlanID, nil
}

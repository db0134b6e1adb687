package billing

import (
	"context"
	"log/slog"

	"sapar/internal/types"
)

// UnitOfWork is a mutating ledger operation executed inside a single storage
// transaction. It receives transaction-bound repositories and returns the
// response to capture on the idempotency record.
type UnitOfWork func(ctx context.Context, r types.Repos) (*types.MutationOutcome, error)

/// Orchestrator wraps every mutating endpoint with exactly-once semantics:
// claim the idempotency key, run the unit of work and the key completion in
// one storage transaction, and replay the stored response on retries.
//
// Because Complete commits or rolls back together with the domain mutation,
// there is no window where the mutation applied but the key did not (or the
// reverse). A crash mid-work leaves the key in_progress; the row is never
// reaped automatically, which is a deliberate trade: a stuck key needs
// operator attention rather than risking a double execution.
type Orchestrator struct {
	store  types.Store
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator on the given store.
func NewOrchestrator(store types.Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, logger: logger}
}

// Run executes work under the idempotency key (actorID, routeName, key).
// The returned bool is true when the response was replayed from a previous
// completed attempt rather than produced by this call.
func (o *Orchestrator) Run(ctx context.Context, actorID, routeName, key string, work UnitOfWork) (*types.MutationOutcome, bool, error) {
	rec, fresh, err := o.store.Idempotency().Begin(ctx, actorID, routeName, key)
	if err != nil {
		return nil, false, err
	}

	if !fresh {
		switch rec.Status {
		case types.IdemCompleted:
			o.logger.InfoContext(ctx, "replaying stored response for idempotency key",
				"route", routeName, "record_id", rec.ID)
			return &types.MutationOutcome{Status: rec.ResponseStatus, Body: rec.ResponseBody}, true, nil
		default:
			// Another request holds the key right now.
			return nil, false, types.NewAppError(types.ErrCodeConflictRequestInProgress,
				"a request with this idempotency key is already in progress", nil)
		}
	}

	var out *types.MutationOutcome
	err = o.store.RunInTx(ctx, func(ctx context.Context, r types.Repos) error {
		var workErr error
		out, workErr = work(ctx, r)
		if workErr != nil {
			return workErr
		}
		return r.Idempotency().Complete(ctx, rec.ID, out.Status, out.Body)
	})
	if err != nil {
		// The mutation rolled back; release the key so the client can retry.
		// Fail runs outside the rolled-back transaction and is best effort.
		if failErr := o.store.Idempotency().Fail(ctx, rec.ID); failErr != nil {
			o.logger.ErrorContext(ctx, "failed to release idempotency key after rollback",
				"route", routeName, "record_id", rec.ID, "error", failErr)
		}
		return nil, false, err
	}

	return out, false, nil
}

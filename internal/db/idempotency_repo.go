package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sapar/internal/types"
)

// IdempotencyRepo manages the idempotency_keys table: the durable map from
// (actor_id, route_name, key) to an in-flight or completed outcome.
//
// Key invariants:
//   - The triple is unique; Begin relies on INSERT .. ON CONFLICT DO NOTHING
//     so two racing first attempts produce exactly one in_progress row.
//   - Completed rows never change again; their stored response is replayed
//     verbatim on every retry.
//   - Failed rows are retaken with a conditional UPDATE, so of two callers
//     retrying a failed key only one proceeds.
type IdempotencyRepo struct {
	db DBTX
}

// NewIdempotencyRepo creates a new IdempotencyRepo backed by the given
// database connection (pool or transaction).
func NewIdempotencyRepo(db DBTX) *IdempotencyRepo {
	return &IdempotencyRepo{db: db}
}

const idemColumns = `id, actor_id, route_name, key, status,
	response_status, response_body, created_at, updated_at`

// scanIdemRecord scans a single idempotency row. The columns must match the
// order defined in idemColumns.
func scanIdemRecord(row pgx.Row) (*types.IdempotencyRecord, error) {
	var rec types.IdempotencyRecord
	var responseStatus *int
	var responseBody []byte

	err := row.Scan(
		&rec.ID,
		&rec.ActorID,
		&rec.RouteName,
		&rec.Key,
		&rec.Status,
		&responseStatus,
		&responseBody,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if responseStatus != nil {
		rec.ResponseStatus = *responseStatus
	}
	rec.ResponseBody = responseBody
	return &rec, nil
}

// Begin records the first attempt for the triple, or returns the existing
// record. See types.IdempotencyRepository for the full contract.
func (r *IdempotencyRepo) Begin(ctx context.Context, actorID, routeName, key string) (*types.IdempotencyRecord, bool, error) {
	id := "idem_" + uuid.New().String()

	tag, err := r.db.Exec(ctx,
		`INSERT INTO idempotency_keys (id, actor_id, route_name, key, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (actor_id, route_name, key) DO NOTHING`,
		id, actorID, routeName, key, types.IdemInProgress,
	)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert idempotency record", err)
	}

	if tag.RowsAffected() == 1 {
		// First attempt for this key; the caller owns it.
		rec, err := r.get(ctx, actorID, routeName, key)
		if err != nil {
			return nil, false, err
		}
		return rec, true, nil
	}

	// A record already exists for the triple.
	rec, err := r.get(ctx, actorID, routeName, key)
	if err != nil {
		return nil, false, err
	}

	if rec.Status != types.IdemFailed {
		// Completed (replay) or InProgress (concurrent duplicate); the
		// orchestrator decides which.
		return rec, false, nil
	}

	// Failed attempts are retryable: retake the record. The WHERE clause on
	// status makes the retake atomic -- a concurrent retry that wins the race
	// leaves zero rows for us, and we report the key as in progress.
	retake, err := r.db.Exec(ctx,
		`UPDATE idempotency_keys
		 SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		types.IdemInProgress, rec.ID, types.IdemFailed,
	)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to retake failed idempotency record", err)
	}
	if retake.RowsAffected() == 0 {
		rec.Status = types.IdemInProgress
		return rec, false, nil
	}

	rec.Status = types.IdemInProgress
	return rec, true, nil
}

// get fetches the record for the triple.
func (r *IdempotencyRepo) get(ctx context.Context, actorID, routeName, key string) (*types.IdempotencyRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+idemColumns+`
		 FROM idempotency_keys
		 WHERE actor_id = $1 AND route_name = $2 AND key = $3`,
		actorID, routeName, key,
	)
	rec, err := scanIdemRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The row we just inserted (or observed) is gone; idempotency
			// rows are never deleted, so this is a storage-level anomaly.
			return nil, types.NewAppError(types.ErrCodeInternalDB, "idempotency record disappeared", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read idempotency record", err)
	}
	return rec, nil
}

// Complete marks the record Completed with the captured response. It must run
// in the same transaction as the domain mutation it records. The status guard
// means a record never leaves Completed.
func (r *IdempotencyRepo) Complete(ctx context.Context, id string, responseStatus int, responseBody []byte) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE idempotency_keys
		 SET status = $1, response_status = $2, response_body = $3, updated_at = NOW()
		 WHERE id = $4 AND status = $5`,
		types.IdemCompleted, responseStatus, responseBody, id, types.IdemInProgress,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete idempotency record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "idempotency record is not in progress", nil)
	}
	return nil
}

// Fail marks the record Failed so the key becomes retryable.
func (r *IdempotencyRepo) Fail(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE idempotency_keys
		 SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		types.IdemFailed, id, types.IdemInProgress,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark idempotency record failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "idempotency record is not in progress", nil)
	}
	return nil
}

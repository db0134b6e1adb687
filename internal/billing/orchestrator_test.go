package billing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapar/internal/types"
)

func TestOrchestrator_Run_FreshKeyExecutesWork(t *testing.T) {
	store := newFakeStore()
	o := NewOrchestrator(store, discardLogger())

	workCalls := 0
	out, replayed, err := o.Run(context.Background(), "user_1", "billing.purchases", "key-1",
		func(ctx context.Context, r types.Repos) (*types.MutationOutcome, error) {
			workCalls++
			return &types.MutationOutcome{Status: http.StatusCreated, Body: []byte(`{"ok":true}`)}, nil
		})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 1, workCalls)
	assert.Equal(t, http.StatusCreated, out.Status)

	// The key completes in the same transaction as the work.
	require.Len(t, store.idem.completedIDs, 1)
	assert.Equal(t, "idem_1", store.idem.completedIDs[0])
	assert.Empty(t, store.idem.failedIDs)
}

func TestOrchestrator_Run_ReplaysCompletedRecord(t *testing.T) {
	store := newFakeStore()
	store.idem.beginFn = func(ctx context.Context, actorID, routeName, key string) (*types.IdempotencyRecord, bool, error) {
		return &types.IdempotencyRecord{
			ID:             "idem_done",
			Status:         types.IdemCompleted,
			ResponseStatus: http.StatusCreated,
			ResponseBody:   []byte(`{"id":"txn_1"}`),
		}, false, nil
	}
	o := NewOrchestrator(store, discardLogger())

	out, replayed, err := o.Run(context.Background(), "user_1", "billing.purchases", "key-1",
		func(ctx context.Context, r types.Repos) (*types.MutationOutcome, error) {
			t.Fatal("work must not run on replay")
			return nil, nil
		})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, http.StatusCreated, out.Status)
	assert.JSONEq(t, `{"id":"txn_1"}`, string(out.Body))
}

func TestOrchestrator_Run_ConcurrentDuplicateConflicts(t *testing.T) {
	store := newFakeStore()
	store.idem.beginFn = func(ctx context.Context, actorID, routeName, key string) (*types.IdempotencyRecord, bool, error) {
		return &types.IdempotencyRecord{ID: "idem_busy", Status: types.IdemInProgress}, false, nil
	}
	o := NewOrchestrator(store, discardLogger())

	_, _, err := o.Run(context.Background(), "user_1", "billing.purchases", "key-1",
		func(ctx context.Context, r types.Repos) (*types.MutationOutcome, error) {
			t.Fatal("work must not run while another request holds the key")
			return nil, nil
		})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictRequestInProgress, appErr.Code)
}

func TestOrchestrator_Run_WorkErrorReleasesKey(t *testing.T) {
	store := newFakeStore()
	o := NewOrchestrator(store, discardLogger())

	workErr := types.NewAppError(types.ErrCodeCreditUnavailable, "no available credit of this code", nil)
	out, replayed, err := o.Run(context.Background(), "user_1", "credits.consume", "key-1",
		func(ctx context.Context, r types.Repos) (*types.MutationOutcome, error) {
			return nil, workErr
		})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.False(t, replayed)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeCreditUnavailable, appErr.Code)

	// The rolled-back mutation must not strand the key in progress.
	assert.Empty(t, store.idem.completedIDs)
	require.Len(t, store.idem.failedIDs, 1)
	assert.Equal(t, "idem_1", store.idem.failedIDs[0])
}

func TestOrchestrator_Run_CompleteErrorReleasesKey(t *testing.T) {
	store := newFakeStore()
	store.idem.completeFn = func(ctx context.Context, id string, responseStatus int, responseBody []byte) error {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete idempotency record", nil)
	}
	o := NewOrchestrator(store, discardLogger())

	_, _, err := o.Run(context.Background(), "user_1", "billing.purchases", "key-1",
		func(ctx context.Context, r types.Repos) (*types.MutationOutcome, error) {
			return &types.MutationOutcome{Status: http.StatusCreated, Body: []byte(`{}`)}, nil
		})
	require.Error(t, err)
	require.Len(t, store.idem.failedIDs, 1)
}

func TestOrchestrator_Run_BeginErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.idem.beginFn = func(ctx context.Context, actorID, routeName, key string) (*types.IdempotencyRecord, bool, error) {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert idempotency record", nil)
	}
	o := NewOrchestrator(store, discardLogger())

	_, _, err := o.Run(context.Background(), "user_1", "billing.purchases", "key-1",
		func(ctx context.Context, r types.Repos) (*types.MutationOutcome, error) {
			t.Fatal("work must not run when the key cannot be claimed")
			return nil, nil
		})
	require.Error(t, err)
}

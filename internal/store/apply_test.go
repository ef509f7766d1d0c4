package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventq/internal/engine"
	"github.com/roach88/eventq/internal/ir"
)

func TestApplyBatch_CreateUpdateDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyBatch(ctx, testBatch("b1", "g1",
		ev(ir.OperationCreate, "", "e1"),
		ev(ir.OperationCreate, "L1", "e2"),
	)))
	require.NoError(t, s.ApplyBatch(ctx, testBatch("b2", "g1",
		ev(ir.OperationUpdate, "", "e1"),
		ev(ir.OperationDelete, "L1", "e2"),
	)))

	e1, err := s.ReadEntity(ctx, ir.GlobalKey("e1"))
	require.NoError(t, err)
	assert.Equal(t, Entity{Key: ir.GlobalKey("e1"), GroupID: "g1", Version: 2, LastBatch: "b2"}, e1)

	_, err = s.ReadEntity(ctx, ir.ScopedKey("L1", "e2"))
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestApplyBatch_UpdateOfUnknownEntityInserts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyBatch(ctx, testBatch("b1", "g1", ev(ir.OperationUpdate, "L1", "e1"))))

	e, err := s.ReadEntity(ctx, ir.ScopedKey("L1", "e1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Version)
}

func TestApplyBatch_RecreateResetsVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyBatch(ctx, testBatch("b1", "g1", ev(ir.OperationCreate, "", "e1"))))
	require.NoError(t, s.ApplyBatch(ctx, testBatch("b2", "g1", ev(ir.OperationUpdate, "", "e1"))))
	require.NoError(t, s.ApplyBatch(ctx, testBatch("b3", "g1", ev(ir.OperationCreate, "", "e1"))))

	e, err := s.ReadEntity(ctx, ir.GlobalKey("e1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Version)
	assert.Equal(t, "b3", e.LastBatch)
}

func TestApplyBatch_DeleteMissingIsNoError(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.ApplyBatch(context.Background(), testBatch("b1", "g1", ev(ir.OperationDelete, "", "nope"))))
}

func TestApplyBatch_ScopedAndGlobalAreDistinct(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyBatch(ctx, testBatch("b1", "g1",
		ev(ir.OperationCreate, "", "a/b"),
		ev(ir.OperationCreate, "a", "b"),
	)))

	entities, err := s.ListEntities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, ir.GlobalKey("a/b"), entities[0].Key)
	assert.Equal(t, ir.ScopedKey("a", "b"), entities[1].Key)
}

func TestApplyBatch_RedeliveryIsNoop(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	b := testBatch("b1", "g1", ev(ir.OperationUpdate, "", "e1"))

	require.NoError(t, s.ApplyBatch(ctx, b))
	require.NoError(t, s.ApplyBatch(ctx, b))

	e, err := s.ReadEntity(ctx, ir.GlobalKey("e1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Version, "second delivery changed nothing")

	applied, err := s.AppliedBatches(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 1)
}

func TestApplyBatch_ConflictingRedelivery(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyBatch(ctx, testBatch("b1", "g1", ev(ir.OperationCreate, "", "e1"))))
	err := s.ApplyBatch(ctx, testBatch("b1", "g1", ev(ir.OperationDelete, "", "e1")))

	assert.ErrorIs(t, err, ErrBatchConflict)
	assert.False(t, engine.IsTransient(err))
	_, err = s.ReadEntity(ctx, ir.GlobalKey("e1"))
	assert.NoError(t, err, "conflicting batch was not applied")
}

func TestApplyBatch_InvalidBatchRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.ApplyBatch(ctx, testBatch("b1", "g1", ev("PATCH", "", "e1")))
	assert.ErrorIs(t, err, ir.ErrUnknownOperation)

	err = s.ApplyBatch(ctx, testBatch("b2", "", ev(ir.OperationCreate, "", "e1")))
	assert.Error(t, err)

	applied, err := s.AppliedBatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestApplyBatch_RecordsProgress(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyBatch(ctx, testBatch("b1", "g1", ev(ir.OperationCreate, "", "e1"))))
	require.NoError(t, s.ApplyBatch(ctx, testBatch("b2", "g2", ev(ir.OperationCreate, "", "e2"))))
	require.NoError(t, s.ApplyBatch(ctx, testBatch("b3", "g1", ev(ir.OperationUpdate, "", "e1"), ev(ir.OperationCreate, "", "e3"))))

	last, err := s.LastBatch(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "b3", last)

	_, err = s.LastBatch(ctx, "unknown")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	applied, err := s.AppliedBatches(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 3)
	assert.Equal(t, []string{"b1", "b2", "b3"}, []string{applied[0].BatchID, applied[1].BatchID, applied[2].BatchID})
	assert.Equal(t, int64(3), applied[2].Seq)
	assert.Equal(t, 2, applied[2].EventCount)

	fp, err := ir.Fingerprint(testBatch("b1", "g1", ev(ir.OperationCreate, "", "e1")))
	require.NoError(t, err)
	assert.Equal(t, fp, applied[0].Fingerprint)

	seq, err := s.GetLastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
}

func TestApplyBatch_CancelledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.ApplyBatch(ctx, testBatch("b1", "g1", ev(ir.OperationCreate, "", "e1")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListEntities_Empty(t *testing.T) {
	s := createTestStore(t)

	entities, err := s.ListEntities(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, entities)
	assert.Empty(t, entities)
}

// The store is the production queue action: the queue's merged output
// applied in order yields the same state as applying every batch verbatim.
func TestApplyBatch_AsQueueAction(t *testing.T) {
	feed := []ir.Batch{
		testBatch("b1", "g1", ev(ir.OperationCreate, "", "e1"), ev(ir.OperationCreate, "L1", "e2")),
		testBatch("b2", "g1", ev(ir.OperationUpdate, "", "e1")),
		testBatch("b3", "g1", ev(ir.OperationDelete, "L1", "e2"), ev(ir.OperationCreate, "L1", "e3")),
		testBatch("b4", "g2", ev(ir.OperationUpdate, "", "e4")),
		testBatch("b5", "g1", ev(ir.OperationUpdate, "", "e1")),
	}

	run := func(optimize bool) []ir.EntityKey {
		s := createTestStore(t)
		q := engine.New(s.ApplyBatch, engine.WithOptimization(optimize))
		q.Pause()
		require.NoError(t, q.AddBatches(feed))
		q.Resume()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, q.WaitIdle(ctx))
		require.Equal(t, 0, q.QueueSize())

		entities, err := s.ListEntities(context.Background())
		require.NoError(t, err)
		keys := make([]ir.EntityKey, len(entities))
		for i, e := range entities {
			keys[i] = e.Key
		}
		return keys
	}

	want := []ir.EntityKey{ir.GlobalKey("e1"), ir.GlobalKey("e4"), ir.ScopedKey("L1", "e3")}
	assert.Equal(t, want, run(false))
	assert.Equal(t, want, run(true))
}

func TestApplyBatch_RecordsQueueSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyBatch(engine.ContextWithSeq(ctx, 5), testBatch("b1", "g1", ev(ir.OperationCreate, "", "e1"))))
	require.NoError(t, s.ApplyBatch(ctx, testBatch("b2", "g1", ev(ir.OperationCreate, "", "e2"))))
	// Behind the store: falls back to the next free seq.
	require.NoError(t, s.ApplyBatch(engine.ContextWithSeq(ctx, 3), testBatch("b3", "g1", ev(ir.OperationCreate, "", "e3"))))

	applied, err := s.AppliedBatches(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 3)
	assert.Equal(t, []int64{5, 6, 7}, []int64{applied[0].Seq, applied[1].Seq, applied[2].Seq})

	last, err := s.GetLastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), last)
}

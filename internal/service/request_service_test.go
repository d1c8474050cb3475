package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"stockroom/internal/apperror"
	"stockroom/internal/model"
	ws "stockroom/internal/websocket"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approve(notes string) ProcessRequestDTO {
	return ProcessRequestDTO{Status: string(model.RequestApproved), AdminNotes: notes}
}

func reject(notes string) ProcessRequestDTO {
	return ProcessRequestDTO{Status: string(model.RequestRejected), AdminNotes: notes}
}

func TestRequestService_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	glue := env.createMaterial(t, "Glue", 10)

	t.Run("inserts a pending request without touching stock", func(t *testing.T) {
		res, err := env.requests.Create(ctx, env.alice, CreateRequestDTO{
			MaterialID:        glue.ID.String(),
			RequestedQuantity: 4,
			Notes:             "art class",
		})
		require.NoError(t, err)

		assert.Equal(t, string(model.RequestPending), res.Status)
		assert.Equal(t, 4, res.RequestedQuantity)
		assert.Equal(t, "alice", res.RequesterUsername)
		assert.Equal(t, "Glue", res.MaterialName)
		assert.Equal(t, 10, res.CurrentQuantity)
		assert.Nil(t, res.ProcessedBy)
		assert.Nil(t, res.ProcessedAt)
		assert.Equal(t, 10, env.quantityOf(t, glue.ID))
		assert.Contains(t, env.events.Events(), ws.EventRequestCreated)
		owner, ok := env.events.OwnerOf(ws.EventRequestCreated)
		require.True(t, ok, "request events are addressed to the requester")
		assert.Equal(t, env.alice.ID, owner)
		assert.EqualValues(t, 1, env.countAudit(t, model.ActionCreateRequest))
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.RequestsCreated))
	})

	t.Run("rejects non-positive quantities", func(t *testing.T) {
		for _, qty := range []int{0, -3} {
			_, err := env.requests.Create(ctx, env.alice, CreateRequestDTO{MaterialID: glue.ID.String(), RequestedQuantity: qty})
			assert.ErrorIs(t, err, apperror.ErrValidation)
		}
	})

	t.Run("unknown material", func(t *testing.T) {
		_, err := env.requests.Create(ctx, env.alice, CreateRequestDTO{MaterialID: uuid.NewString(), RequestedQuantity: 1})
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("malformed material id resolves to nothing", func(t *testing.T) {
		_, err := env.requests.Create(ctx, env.alice, CreateRequestDTO{MaterialID: "glue", RequestedQuantity: 1})
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("quantity above current stock is still accepted", func(t *testing.T) {
		_, err := env.requests.Create(ctx, env.bob, CreateRequestDTO{MaterialID: glue.ID.String(), RequestedQuantity: 500})
		assert.NoError(t, err)
	})
}

func TestRequestService_ProcessApproveDeductsStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paper := env.createMaterial(t, "Paper", 20)
	req := env.request(t, env.alice, paper, 7)

	res, err := env.requests.Process(ctx, env.admin, req.ID, approve("enjoy"))
	require.NoError(t, err)

	assert.Equal(t, string(model.RequestApproved), res.Status)
	assert.Equal(t, "enjoy", res.AdminNotes)
	require.NotNil(t, res.ProcessedBy)
	assert.Equal(t, env.admin.ID.String(), *res.ProcessedBy)
	assert.Equal(t, "admin full", res.ProcessorName)
	assert.NotNil(t, res.ProcessedAt)
	assert.Equal(t, 13, res.CurrentQuantity)
	assert.Equal(t, 13, env.quantityOf(t, paper.ID))

	assert.EqualValues(t, 1, env.countAudit(t, model.ActionApproveRequest))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.RequestsProcessed.WithLabelValues("approved")))
	assert.Equal(t, float64(7), testutil.ToFloat64(env.metrics.StockDeducted))
	assert.Contains(t, env.events.Events(), ws.EventMaterialStockMoved)
	_, scoped := env.events.OwnerOf(ws.EventMaterialStockMoved)
	assert.False(t, scoped, "stock events go to everyone")
	owner, ok := env.events.OwnerOf(ws.EventRequestProcessed)
	require.True(t, ok)
	assert.Equal(t, env.alice.ID, owner)

	t.Run("second process is a conflict and leaves stock alone", func(t *testing.T) {
		_, err := env.requests.Process(ctx, env.admin, req.ID, approve(""))
		assert.ErrorIs(t, err, apperror.ErrConflict)

		_, err = env.requests.Process(ctx, env.admin, req.ID, reject(""))
		assert.ErrorIs(t, err, apperror.ErrConflict)

		assert.Equal(t, 13, env.quantityOf(t, paper.ID))
		assert.Equal(t, model.RequestApproved, env.statusOf(t, req.ID))
		assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.RequestsRejected.WithLabelValues("conflict")))
	})
}

func TestRequestService_ProcessExactStockDrainsToZero(t *testing.T) {
	env := newTestEnv(t)
	tape := env.createMaterial(t, "Tape", 5)
	req := env.request(t, env.alice, tape, 5)

	_, err := env.requests.Process(context.Background(), env.admin, req.ID, approve(""))
	require.NoError(t, err)
	assert.Equal(t, 0, env.quantityOf(t, tape.ID))
}

func TestRequestService_ProcessInsufficientStockChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	markers := env.createMaterial(t, "Markers", 3)
	req := env.request(t, env.alice, markers, 4)

	_, err := env.requests.Process(ctx, env.admin, req.ID, approve("sorry"))
	require.ErrorIs(t, err, apperror.ErrInsufficientStock)

	assert.Equal(t, 3, env.quantityOf(t, markers.ID))

	var stored model.MaterialRequest
	require.NoError(t, env.db.First(&stored, "id = ?", req.ID).Error)
	assert.Equal(t, model.RequestPending, stored.Status)
	assert.Nil(t, stored.ProcessedBy)
	assert.Nil(t, stored.ProcessedAt)
	assert.Empty(t, stored.AdminNotes)
	assert.EqualValues(t, 0, env.countAudit(t, model.ActionApproveRequest))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.RequestsRejected.WithLabelValues("insufficient_stock")))
}

func TestRequestService_ProcessDeletedMaterial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chalk := env.createMaterial(t, "Chalk", 30)
	req := env.request(t, env.alice, chalk, 2)

	require.NoError(t, env.materials.Delete(ctx, env.admin, chalk.ID.String()))

	_, err := env.requests.Process(ctx, env.admin, req.ID, approve(""))
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, model.RequestPending, env.statusOf(t, req.ID))

	// Rejecting still works and the listing still shows the material name
	res, err := env.requests.Process(ctx, env.admin, req.ID, reject("discontinued"))
	require.NoError(t, err)
	assert.Equal(t, "Chalk", res.MaterialName)
}

func TestRequestService_ProcessValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	glue := env.createMaterial(t, "Glue", 10)
	req := env.request(t, env.alice, glue, 1)

	_, err := env.requests.Process(ctx, env.admin, req.ID, ProcessRequestDTO{Status: "pending"})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = env.requests.Process(ctx, env.admin, req.ID, ProcessRequestDTO{Status: "maybe"})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = env.requests.Process(ctx, env.admin, uuid.NewString(), approve(""))
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = env.requests.Process(ctx, env.alice, req.ID, approve(""))
	assert.ErrorIs(t, err, apperror.ErrPermission)

	assert.Equal(t, model.RequestPending, env.statusOf(t, req.ID))
}

func TestRequestService_Edit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	glue := env.createMaterial(t, "Glue", 10)
	req := env.request(t, env.alice, glue, 2)

	t.Run("requester edits a pending request", func(t *testing.T) {
		res, err := env.requests.Edit(ctx, env.alice, req.ID, EditRequestDTO{RequestedQuantity: 3, Notes: "one more"})
		require.NoError(t, err)
		assert.Equal(t, 3, res.RequestedQuantity)
		assert.Equal(t, "one more", res.Notes)
		assert.Equal(t, string(model.RequestPending), res.Status)
	})

	t.Run("someone else cannot edit", func(t *testing.T) {
		_, err := env.requests.Edit(ctx, env.bob, req.ID, EditRequestDTO{RequestedQuantity: 9})
		assert.ErrorIs(t, err, apperror.ErrPermission)
	})

	t.Run("quantity must stay positive", func(t *testing.T) {
		_, err := env.requests.Edit(ctx, env.alice, req.ID, EditRequestDTO{RequestedQuantity: 0})
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("edit after process is a conflict", func(t *testing.T) {
		_, err := env.requests.Process(ctx, env.admin, req.ID, reject("no"))
		require.NoError(t, err)

		_, err = env.requests.Edit(ctx, env.alice, req.ID, EditRequestDTO{RequestedQuantity: 1})
		assert.ErrorIs(t, err, apperror.ErrConflict)

		var stored model.MaterialRequest
		require.NoError(t, env.db.First(&stored, "id = ?", req.ID).Error)
		assert.Equal(t, 3, stored.RequestedQuantity)
	})

	t.Run("missing request", func(t *testing.T) {
		_, err := env.requests.Edit(ctx, env.alice, uuid.NewString(), EditRequestDTO{RequestedQuantity: 1})
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})
}

func TestRequestService_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	glue := env.createMaterial(t, "Glue", 10)

	t.Run("non-owner is refused whatever the status", func(t *testing.T) {
		pending := env.request(t, env.alice, glue, 1)
		err := env.requests.Delete(ctx, env.bob, pending.ID)
		assert.ErrorIs(t, err, apperror.ErrPermission)

		approved := env.request(t, env.alice, glue, 1)
		_, err = env.requests.Process(ctx, env.admin, approved.ID, approve(""))
		require.NoError(t, err)
		err = env.requests.Delete(ctx, env.bob, approved.ID)
		assert.ErrorIs(t, err, apperror.ErrPermission)
	})

	t.Run("admin deletes any status and stock is not restored", func(t *testing.T) {
		req := env.request(t, env.alice, glue, 2)
		_, err := env.requests.Process(ctx, env.admin, req.ID, approve(""))
		require.NoError(t, err)
		before := env.quantityOf(t, glue.ID)

		require.NoError(t, env.requests.Delete(ctx, env.admin, req.ID))

		assert.Equal(t, before, env.quantityOf(t, glue.ID))
		var n int64
		env.db.Model(&model.MaterialRequest{}).Where("id = ?", req.ID).Count(&n)
		assert.Zero(t, n)
	})

	t.Run("missing request", func(t *testing.T) {
		err := env.requests.Delete(ctx, env.admin, uuid.NewString())
		assert.ErrorIs(t, err, apperror.ErrNotFound)

		err = env.requests.Delete(ctx, env.admin, "42")
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	assert.Contains(t, env.events.Events(), ws.EventRequestDeleted)
	owner, ok := env.events.OwnerOf(ws.EventRequestDeleted)
	require.True(t, ok)
	assert.Equal(t, env.alice.ID, owner)
}

// Material "Glue" walk-through: approve, insufficient stock, reject
func TestRequestService_GlueScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	glue := env.createMaterial(t, "Glue", 10)

	first := env.request(t, env.alice, glue, 4)
	_, err := env.requests.Process(ctx, env.admin, first.ID, approve(""))
	require.NoError(t, err)
	assert.Equal(t, 6, env.quantityOf(t, glue.ID))
	assert.Equal(t, model.RequestApproved, env.statusOf(t, first.ID))

	second := env.request(t, env.alice, glue, 10)
	_, err = env.requests.Process(ctx, env.admin, second.ID, approve(""))
	require.ErrorIs(t, err, apperror.ErrInsufficientStock)
	assert.Equal(t, 6, env.quantityOf(t, glue.ID))
	assert.Equal(t, model.RequestPending, env.statusOf(t, second.ID))

	_, err = env.requests.Process(ctx, env.admin, second.ID, reject("not enough glue"))
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, env.statusOf(t, second.ID))
	assert.Equal(t, 6, env.quantityOf(t, glue.ID))
}

// User B removes their own pending request but cannot remove one that is already resolved
func TestRequestService_UserBScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	glue := env.createMaterial(t, "Glue", 10)

	resolved := env.request(t, env.bob, glue, 4)
	_, err := env.requests.Process(ctx, env.admin, resolved.ID, approve(""))
	require.NoError(t, err)

	pending := env.request(t, env.bob, glue, 1)
	require.NoError(t, env.requests.Delete(ctx, env.bob, pending.ID))
	assert.Equal(t, 6, env.quantityOf(t, glue.ID))

	err = env.requests.Delete(ctx, env.bob, resolved.ID)
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, model.RequestApproved, env.statusOf(t, resolved.ID))
}

func TestRequestService_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	glue := env.createMaterial(t, "Glue", 100)

	a1 := env.request(t, env.alice, glue, 1) // will be approved
	b1 := env.request(t, env.bob, glue, 1)   // will be rejected
	a2 := env.request(t, env.alice, glue, 1) // pending
	b2 := env.request(t, env.bob, glue, 1)   // pending
	a3 := env.request(t, env.alice, glue, 1) // will be approved

	_, err := env.requests.Process(ctx, env.admin, a1.ID, approve(""))
	require.NoError(t, err)
	_, err = env.requests.Process(ctx, env.admin, b1.ID, reject(""))
	require.NoError(t, err)
	_, err = env.requests.Process(ctx, env.admin, a3.ID, approve(""))
	require.NoError(t, err)

	t.Run("admin sees pending first then approved then rejected, newest first", func(t *testing.T) {
		all, err := env.requests.List(ctx, env.admin)
		require.NoError(t, err)

		ids := make([]string, 0, len(all))
		for _, r := range all {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{b2.ID, a2.ID, a3.ID, a1.ID, b1.ID}, ids)
	})

	t.Run("user sees only their own, newest first", func(t *testing.T) {
		mine, err := env.requests.List(ctx, env.alice)
		require.NoError(t, err)

		ids := make([]string, 0, len(mine))
		for _, r := range mine {
			assert.Equal(t, env.alice.ID.String(), r.RequesterID)
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{a3.ID, a2.ID, a1.ID}, ids)
	})

	t.Run("history holds approved requests, latest decision first", func(t *testing.T) {
		history, err := env.requests.History(ctx, env.alice, env.alice.ID.String())
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, a3.ID, history[0].ID)
		assert.Equal(t, a1.ID, history[1].ID)

		adminView, err := env.requests.History(ctx, env.admin, env.alice.ID.String())
		require.NoError(t, err)
		assert.Len(t, adminView, 2)

		_, err = env.requests.History(ctx, env.bob, env.alice.ID.String())
		assert.ErrorIs(t, err, apperror.ErrPermission)
	})

	t.Run("stats are admin only", func(t *testing.T) {
		stats, err := env.requests.Stats(ctx, env.admin)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStats{Pending: 2, Approved: 2, Rejected: 1, Total: 5}, stats)

		_, err = env.requests.Stats(ctx, env.bob)
		assert.ErrorIs(t, err, apperror.ErrPermission)
	})
}

func TestRequestService_ConcurrentApprovalsOfOneRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paper := env.createMaterial(t, "Paper", 50)
	req := env.request(t, env.alice, paper, 10)

	const workers = 8
	var (
		wg        sync.WaitGroup
		succeeded int32
		conflicts int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.requests.Process(ctx, env.admin, req.ID, approve(""))
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case isConflict(err):
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, succeeded)
	assert.EqualValues(t, workers-1, conflicts)
	assert.Equal(t, 40, env.quantityOf(t, paper.ID))
}

func TestRequestService_ConcurrentApprovalsNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paper := env.createMaterial(t, "Paper", 25)

	const workers = 10
	ids := make([]string, 0, workers)
	for i := 0; i < workers; i++ {
		ids = append(ids, env.request(t, env.alice, paper, 4).ID)
	}

	var (
		wg       sync.WaitGroup
		approved int32
		short    int32
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.requests.Process(ctx, env.admin, id, approve(""))
			if err == nil {
				atomic.AddInt32(&approved, 1)
				return
			}
			if isInsufficient(err) {
				atomic.AddInt32(&short, 1)
			}
		}(id)
	}
	wg.Wait()

	assert.EqualValues(t, 6, approved)
	assert.EqualValues(t, 4, short)
	assert.Equal(t, 1, env.quantityOf(t, paper.ID))
}

func isConflict(err error) bool {
	status, code := apperror.HTTPStatus(err)
	return status == 409 && code == apperror.CodeConflict
}

func isInsufficient(err error) bool {
	_, code := apperror.HTTPStatus(err)
	return code == apperror.CodeInsufficientStock
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/yadokani389/taiyaq/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records published events for assertions.
type captureSink struct {
	created   []*models.OrderCreatedEvent
	ready     []*models.OrderReadyEvent
	completed []*models.OrderCompletedEvent
	cancelled []*models.OrderCancelledEvent
}

func (s *captureSink) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	s.created = append(s.created, e)
	return nil
}

func (s *captureSink) PublishOrderReady(_ context.Context, e *models.OrderReadyEvent) error {
	s.ready = append(s.ready, e)
	return nil
}

func (s *captureSink) PublishOrderCompleted(_ context.Context, e *models.OrderCompletedEvent) error {
	s.completed = append(s.completed, e)
	return nil
}

func (s *captureSink) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	s.cancelled = append(s.cancelled, e)
	return nil
}

func TestCreateOrderAssignsMonotonicIDs(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	first := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 1)}, false)
	second := r.CreateOrder(ctx, []models.Item{item(models.FlavorCustard, 1)}, false)

	assert.Equal(t, uint32(1), first.ID)
	assert.Equal(t, uint32(2), second.ID)

	// Terminal orders are never deleted, so ids keep growing past them.
	r.CancelOrder(ctx, second.ID)
	third := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 1)}, false)
	assert.Equal(t, uint32(3), third.ID)
}

func TestCreateOrderReturnsPostReconciliationState(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	r.RecordProduction(ctx, []models.Item{item(models.FlavorTsubuan, 5)})

	order := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 2)}, false)
	assert.Equal(t, models.OrderStatusReady, order.Status)
	assert.NotNil(t, order.ReadyAt)
}

func TestCancelReadyOrderRefundsStock(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	r.RecordProduction(ctx, []models.Item{item(models.FlavorTsubuan, 3)})
	ready := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 3)}, false)
	require.Equal(t, models.OrderStatusReady, ready.Status)
	require.Empty(t, r.Stock())

	// The refund can promote another waiting order.
	waiting := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 3)}, false)
	require.Equal(t, models.OrderStatusCooking, waiting.Status)

	cancelled := r.CancelOrder(ctx, ready.ID)
	require.NotNil(t, cancelled)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	promoted := r.Order(waiting.ID)
	assert.Equal(t, models.OrderStatusReady, promoted.Status)
	assert.Empty(t, r.Stock())
}

func TestCancelWaitingOrderNoRefund(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	order := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 15)}, false)
	require.Equal(t, models.OrderStatusWaiting, order.Status)

	cancelled := r.CancelOrder(ctx, order.ID)
	require.NotNil(t, cancelled)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Empty(t, r.Stock())
}

func TestCancelUnknownOrder(t *testing.T) {
	r := newTestRegistry()
	assert.Nil(t, r.CancelOrder(context.Background(), 42))
}

func TestCompleteFromAnyState(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	// Completion has no status precondition: a Waiting order can be
	// completed directly, with no stock implication.
	order := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 15)}, false)
	require.Equal(t, models.OrderStatusWaiting, order.Status)

	completed := r.CompleteOrder(ctx, order.ID)
	require.NotNil(t, completed)
	assert.Equal(t, models.OrderStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
	assert.Empty(t, r.Stock())
}

func TestCompleteUnknownOrder(t *testing.T) {
	r := newTestRegistry()
	assert.Nil(t, r.CompleteOrder(context.Background(), 42))
}

func TestSetPriorityNoOp(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	order := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 2)}, false)

	same := r.SetPriority(ctx, order.ID, false)
	require.NotNil(t, same)
	assert.Equal(t, order.Status, same.Status)
	assert.False(t, same.IsPriority)
}

func TestSetPriorityReordersFulfillment(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	first := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 5)}, false)
	second := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 5)}, false)

	// Stock for one order only; the promotion happens inside SetPriority's
	// reconciliation, after the flag flips.
	r.mu.Lock()
	r.stock[models.FlavorTsubuan] = 5
	r.mu.Unlock()

	updated := r.SetPriority(ctx, second.ID, true)
	require.NotNil(t, updated)
	assert.Equal(t, models.OrderStatusReady, updated.Status)
	// The earlier order lost the stock but fits the next batch.
	assert.Equal(t, models.OrderStatusCooking, r.Order(first.ID).Status)
}

func TestNotifyTargetSetSemantics(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	order := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 1)}, false)
	target := models.NotifyTarget{Channel: models.NotifyChannelDiscord, Target: "12345"}

	withTarget := r.AddNotifyTarget(ctx, order.ID, target)
	require.NotNil(t, withTarget)
	require.Len(t, withTarget.Notify, 1)

	// Duplicate add is a no-op.
	withTarget = r.AddNotifyTarget(ctx, order.ID, target)
	require.Len(t, withTarget.Notify, 1)

	removed := r.RemoveNotifyTarget(ctx, order.ID, target)
	require.NotNil(t, removed)
	assert.Empty(t, removed.Notify)

	assert.Nil(t, r.AddNotifyTarget(ctx, 42, target))
	assert.Nil(t, r.RemoveNotifyTarget(ctx, 42, target))
}

func TestReadyEventCarriesTargets(t *testing.T) {
	sink := &captureSink{}
	r := NewRegistry(sink, nil)
	ctx := context.Background()

	order := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 2)}, false)
	target := models.NotifyTarget{Channel: models.NotifyChannelLine, Target: "U123"}
	r.AddNotifyTarget(ctx, order.ID, target)

	r.RecordProduction(ctx, []models.Item{item(models.FlavorTsubuan, 9)})

	require.Len(t, sink.ready, 1)
	event := sink.ready[0]
	assert.Equal(t, order.ID, event.OrderID)
	assert.Equal(t, []models.NotifyTarget{target}, event.Targets)
	assert.Contains(t, event.Message, "ready")
	assert.Equal(t, models.EventTypeOrderReady, event.EventType)
	assert.NotEmpty(t, event.EventID)
}

func TestNoReadyEventWithoutTargets(t *testing.T) {
	sink := &captureSink{}
	r := NewRegistry(sink, nil)
	ctx := context.Background()

	r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 2)}, false)
	r.RecordProduction(ctx, []models.Item{item(models.FlavorTsubuan, 9)})

	assert.Len(t, sink.created, 1)
	assert.Empty(t, sink.ready)
}

func TestLifecycleEventsPublished(t *testing.T) {
	sink := &captureSink{}
	r := NewRegistry(sink, nil)
	ctx := context.Background()

	order := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 1)}, true)
	r.CompleteOrder(ctx, order.ID)

	other := r.CreateOrder(ctx, []models.Item{item(models.FlavorCustard, 1)}, false)
	r.CancelOrder(ctx, other.ID)

	require.Len(t, sink.created, 2)
	assert.True(t, sink.created[0].IsPriority)
	require.Len(t, sink.completed, 1)
	assert.Equal(t, order.ID, sink.completed[0].OrderID)
	require.Len(t, sink.cancelled, 1)
	assert.False(t, sink.cancelled[0].Refunded)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	r.RecordProduction(ctx, []models.Item{item(models.FlavorTsubuan, 4)})
	order := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 2)}, true)
	r.SetFlavorConfig(ctx, models.FlavorCustard, models.FlavorConfig{CookingTimeMinutes: 20, QuantityPerBatch: 6})

	snap := r.Snapshot()

	restored := NewRegistry(nil, nil)
	restored.Restore(snap)

	got := restored.Order(order.ID)
	require.NotNil(t, got)
	assert.Equal(t, order.Status, got.Status)
	assert.True(t, got.IsPriority)
	assert.Equal(t, r.Stock(), restored.Stock())

	config, ok := restored.FlavorConfig(models.FlavorCustard)
	require.True(t, ok)
	assert.Equal(t, 20, config.CookingTimeMinutes)
	assert.Equal(t, 6, config.QuantityPerBatch)
}

func TestOrdersStatusFilter(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	r.RecordProduction(ctx, []models.Item{item(models.FlavorTsubuan, 2)})
	ready := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 2)}, false)
	waiting := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 20)}, false)

	all := r.Orders()
	assert.Len(t, all, 2)

	onlyReady := r.Orders(models.OrderStatusReady)
	require.Len(t, onlyReady, 1)
	assert.Equal(t, ready.ID, onlyReady[0].ID)

	both := r.Orders(models.OrderStatusReady, models.OrderStatusWaiting)
	assert.Len(t, both, 2)
	_ = waiting
}

func TestRegistryClonesOrdersOnRead(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	order := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 1)}, false)
	order.Items[0].Quantity = 99
	order.Status = models.OrderStatusCompleted

	fresh := r.Order(order.ID)
	assert.Equal(t, 1, fresh.Items[0].Quantity)
	assert.NotEqual(t, models.OrderStatusCompleted, fresh.Status)
}

func TestDefaultConfigsCoverAllFlavors(t *testing.T) {
	r := NewRegistry(nil, nil)
	configs := r.FlavorConfigs()
	require.Len(t, configs, len(models.AllFlavors))
	for _, f := range models.AllFlavors {
		assert.Contains(t, configs, f)
	}
}

func TestSetFlavorConfigDoesNotReconcile(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	order := r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 2)}, false)
	require.Equal(t, models.OrderStatusCooking, order.Status)

	// Making the flavor unproduceable leaves the stale Cooking
	// classification in place until the next mutating event.
	r.SetFlavorConfig(ctx, models.FlavorTsubuan, models.FlavorConfig{CookingTimeMinutes: 15, QuantityPerBatch: 0})
	assert.Equal(t, models.OrderStatusCooking, r.Order(order.ID).Status)

	r.CreateOrder(ctx, []models.Item{item(models.FlavorCustard, 1)}, false)
	assert.Equal(t, models.OrderStatusWaiting, r.Order(order.ID).Status)
}

func TestConcurrentMutations(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 25; j++ {
				r.CreateOrder(ctx, []models.Item{item(models.FlavorTsubuan, 1)}, false)
				r.RecordProduction(ctx, []models.Item{item(models.FlavorTsubuan, 1)})
			}
		}()
	}
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for mutations")
		}
	}

	orders := r.Orders()
	assert.Len(t, orders, 100)

	seen := make(map[uint32]bool, len(orders))
	for _, o := range orders {
		assert.False(t, seen[o.ID], "duplicate id %d", o.ID)
		seen[o.ID] = true
	}
}

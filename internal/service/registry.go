package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yadokani389/taiyaq/internal/models"
	"github.com/yadokani389/taiyaq/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventSink receives lifecycle events captured during a mutation. Events are
// collected inside the critical section and published after the lock is
// released, so a slow broker never blocks other mutations. Publish errors are
// logged and swallowed.
type EventSink interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderReady(ctx context.Context, event *models.OrderReadyEvent) error
	PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// SnapshotStore persists the aggregate after a mutation. Saves are
// best-effort: a failure leaves the in-memory state authoritative and is
// only logged.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
}

// Registry owns the shared aggregate {orders, stock ledger, flavor configs}
// behind a single RWMutex. Every mutation takes the exclusive path, mutates,
// re-runs reconciliation in the same critical section, and hands collected
// events and a snapshot off after release. Queries take the shared path and
// never reconcile.
type Registry struct {
	mu      sync.RWMutex
	orders  []*models.Order
	stock   map[models.Flavor]int
	configs map[models.Flavor]models.FlavorConfig

	events    EventSink
	snapshots SnapshotStore
	logger    *zap.Logger
	now       func() time.Time
}

// DefaultFlavorConfig is applied to every flavor until staff override it.
var DefaultFlavorConfig = models.FlavorConfig{
	CookingTimeMinutes: 15,
	QuantityPerBatch:   9,
}

// NewRegistry creates a registry with default flavor configs and empty stock.
// events and snapshots may be nil.
func NewRegistry(events EventSink, snapshots SnapshotStore) *Registry {
	configs := make(map[models.Flavor]models.FlavorConfig, len(models.AllFlavors))
	for _, f := range models.AllFlavors {
		configs[f] = DefaultFlavorConfig
	}

	return &Registry{
		stock:     make(map[models.Flavor]int),
		configs:   configs,
		events:    events,
		snapshots: snapshots,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CreateOrder assigns the next id, stores the order as Waiting, reconciles,
// and returns the order's state after reconciliation (it may already be
// Ready or Cooking).
func (r *Registry) CreateOrder(ctx context.Context, items []models.Item, isPriority bool) *models.Order {
	ctx, span := util.StartSpan(ctx, "Registry.CreateOrder")
	defer span.End()

	r.mu.Lock()

	var maxID uint32
	for _, o := range r.orders {
		if o.ID > maxID {
			maxID = o.ID
		}
	}

	order := &models.Order{
		ID:         maxID + 1,
		Items:      append([]models.Item(nil), items...),
		Status:     models.OrderStatusWaiting,
		OrderedAt:  r.now(),
		IsPriority: isPriority,
		Notify:     []models.NotifyTarget{},
	}
	r.orders = append(r.orders, order)

	outbox := []pendingEvent{createdEvent(order)}
	_, readyEvents := r.reconcile()
	outbox = append(outbox, readyEvents...)

	result := order.Clone()
	r.mu.Unlock()

	util.OrdersCreatedTotal.Inc()
	r.logger.Info("Order created",
		zap.Uint32("order_id", result.ID),
		zap.Bool("priority", result.IsPriority),
		zap.String("status", string(result.Status)))

	r.publish(ctx, outbox)
	r.persist(ctx)
	return result
}

// RecordProduction adds a finished batch to the stock ledger, reconciles,
// and returns the ids promoted to Ready plus the remaining non-zero stock.
func (r *Registry) RecordProduction(ctx context.Context, items []models.Item) ([]uint32, []models.Item) {
	ctx, span := util.StartSpan(ctx, "Registry.RecordProduction")
	defer span.End()

	r.mu.Lock()

	for _, item := range items {
		r.stock[item.Flavor] += item.Quantity
	}

	promoted, outbox := r.reconcile()
	remaining := r.stockItemsLocked()
	r.mu.Unlock()

	r.logger.Info("Production recorded",
		zap.Int("batches", len(items)),
		zap.Int("orders_ready", len(promoted)))

	r.publish(ctx, outbox)
	r.persist(ctx)
	return promoted, remaining
}

// CompleteOrder marks an order Completed and stamps completedAt. Any prior
// state is accepted; completion never returns stock and never reconciles.
// Returns nil if the id is unknown.
func (r *Registry) CompleteOrder(ctx context.Context, id uint32) *models.Order {
	ctx, span := util.StartSpan(ctx, "Registry.CompleteOrder")
	defer span.End()

	r.mu.Lock()
	order := r.findLocked(id)
	if order == nil {
		r.mu.Unlock()
		return nil
	}

	order.Status = models.OrderStatusCompleted
	completedAt := r.now()
	order.CompletedAt = &completedAt

	outbox := []pendingEvent{completedEvent(order)}
	result := order.Clone()
	r.mu.Unlock()

	util.OrdersCompletedTotal.Inc()
	r.logger.Info("Order completed", zap.Uint32("order_id", id))

	r.publish(ctx, outbox)
	r.persist(ctx)
	return result
}

// CancelOrder marks an order Cancelled. If the order was Ready its items are
// refunded into the stock ledger and reconciliation runs, since the freed
// stock may unblock other orders. Returns nil if the id is unknown.
func (r *Registry) CancelOrder(ctx context.Context, id uint32) *models.Order {
	ctx, span := util.StartSpan(ctx, "Registry.CancelOrder")
	defer span.End()

	r.mu.Lock()
	order := r.findLocked(id)
	if order == nil {
		r.mu.Unlock()
		return nil
	}

	refund := order.Status == models.OrderStatusReady
	order.Status = models.OrderStatusCancelled

	outbox := []pendingEvent{cancelledEvent(order, refund)}
	if refund {
		for _, item := range order.Items {
			r.stock[item.Flavor] += item.Quantity
		}
		_, readyEvents := r.reconcile()
		outbox = append(outbox, readyEvents...)
	}

	result := order.Clone()
	r.mu.Unlock()

	util.OrdersCancelledTotal.Inc()
	r.logger.Info("Order cancelled",
		zap.Uint32("order_id", id),
		zap.Bool("stock_refunded", refund))

	r.publish(ctx, outbox)
	r.persist(ctx)
	return result
}

// SetPriority updates an order's priority flag and reconciles, since the
// fulfillment order changes. Setting the current value is a no-op that
// returns the order untouched. Returns nil if the id is unknown.
func (r *Registry) SetPriority(ctx context.Context, id uint32, isPriority bool) *models.Order {
	ctx, span := util.StartSpan(ctx, "Registry.SetPriority")
	defer span.End()

	r.mu.Lock()
	order := r.findLocked(id)
	if order == nil {
		r.mu.Unlock()
		return nil
	}

	if order.IsPriority == isPriority {
		result := order.Clone()
		r.mu.Unlock()
		return result
	}

	order.IsPriority = isPriority
	_, outbox := r.reconcile()

	result := order.Clone()
	r.mu.Unlock()

	r.logger.Info("Order priority updated",
		zap.Uint32("order_id", id),
		zap.Bool("priority", isPriority))

	r.publish(ctx, outbox)
	r.persist(ctx)
	return result
}

// AddNotifyTarget registers a notification destination on an order. Adding a
// target that is already registered is a no-op. No reconciliation runs.
func (r *Registry) AddNotifyTarget(ctx context.Context, id uint32, target models.NotifyTarget) *models.Order {
	ctx, span := util.StartSpan(ctx, "Registry.AddNotifyTarget")
	defer span.End()

	r.mu.Lock()
	order := r.findLocked(id)
	if order == nil {
		r.mu.Unlock()
		return nil
	}

	exists := false
	for _, t := range order.Notify {
		if t == target {
			exists = true
			break
		}
	}
	if !exists {
		order.Notify = append(order.Notify, target)
	}

	result := order.Clone()
	r.mu.Unlock()

	r.persist(ctx)
	return result
}

// RemoveNotifyTarget removes a notification destination from an order.
func (r *Registry) RemoveNotifyTarget(ctx context.Context, id uint32, target models.NotifyTarget) *models.Order {
	ctx, span := util.StartSpan(ctx, "Registry.RemoveNotifyTarget")
	defer span.End()

	r.mu.Lock()
	order := r.findLocked(id)
	if order == nil {
		r.mu.Unlock()
		return nil
	}

	kept := order.Notify[:0]
	for _, t := range order.Notify {
		if t != target {
			kept = append(kept, t)
		}
	}
	order.Notify = kept

	result := order.Clone()
	r.mu.Unlock()

	r.persist(ctx)
	return result
}

// SetFlavorConfig replaces a flavor's production parameters. It does not
// reconcile: Cooking classifications computed under the old config stand
// until the next mutating event.
func (r *Registry) SetFlavorConfig(ctx context.Context, flavor models.Flavor, config models.FlavorConfig) {
	ctx, span := util.StartSpan(ctx, "Registry.SetFlavorConfig")
	defer span.End()

	r.mu.Lock()
	r.configs[flavor] = config
	r.mu.Unlock()

	r.logger.Info("Flavor config updated",
		zap.String("flavor", string(flavor)),
		zap.Int("cooking_time_minutes", config.CookingTimeMinutes),
		zap.Int("quantity_per_batch", config.QuantityPerBatch))

	r.persist(ctx)
}

// Order returns a copy of one order, or nil if the id is unknown.
func (r *Registry) Order(id uint32) *models.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order := r.findLocked(id)
	if order == nil {
		return nil
	}
	return order.Clone()
}

// Orders returns copies of all orders, optionally filtered by status.
func (r *Registry) Orders(statuses ...models.OrderStatus) []models.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if o.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		result = append(result, *o.Clone())
	}
	return result
}

// Stock returns the non-zero stock ledger entries in flavor order.
func (r *Registry) Stock() []models.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stockItemsLocked()
}

// FlavorConfigs returns a copy of all flavor production parameters.
func (r *Registry) FlavorConfigs() map[models.Flavor]models.FlavorConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make(map[models.Flavor]models.FlavorConfig, len(r.configs))
	for f, c := range r.configs {
		configs[f] = c
	}
	return configs
}

// FlavorConfig returns the production parameters for one flavor.
func (r *Registry) FlavorConfig(flavor models.Flavor) (models.FlavorConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[flavor]
	return config, ok
}

// Snapshot captures the aggregate for persistence.
func (r *Registry) Snapshot() *models.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &models.Snapshot{
		Orders:        make([]models.Order, 0, len(r.orders)),
		Stock:         make(map[models.Flavor]int, len(r.stock)),
		FlavorConfigs: make(map[models.Flavor]models.FlavorConfig, len(r.configs)),
	}
	for _, o := range r.orders {
		snap.Orders = append(snap.Orders, *o.Clone())
	}
	for f, q := range r.stock {
		snap.Stock[f] = q
	}
	for f, c := range r.configs {
		snap.FlavorConfigs[f] = c
	}
	return snap
}

// Restore replaces the aggregate with a previously saved snapshot.
func (r *Registry) Restore(snap *models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.orders = make([]*models.Order, 0, len(snap.Orders))
	for i := range snap.Orders {
		r.orders = append(r.orders, snap.Orders[i].Clone())
	}

	r.stock = make(map[models.Flavor]int, len(snap.Stock))
	for f, q := range snap.Stock {
		r.stock[f] = q
	}

	if len(snap.FlavorConfigs) > 0 {
		r.configs = make(map[models.Flavor]models.FlavorConfig, len(snap.FlavorConfigs))
		for f, c := range snap.FlavorConfigs {
			r.configs[f] = c
		}
	}
}

// findLocked returns the order with the given id. Caller holds the lock.
func (r *Registry) findLocked(id uint32) *models.Order {
	for _, o := range r.orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// stockItemsLocked returns non-zero ledger entries in a stable flavor order.
// Caller holds the lock.
func (r *Registry) stockItemsLocked() []models.Item {
	items := make([]models.Item, 0, len(r.stock))
	for flavor, quantity := range r.stock {
		if quantity > 0 {
			items = append(items, models.Item{Flavor: flavor, Quantity: quantity})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Flavor < items[j].Flavor
	})
	return items
}

// pendingEvent defers a publish call until after the lock is released.
type pendingEvent func(ctx context.Context, sink EventSink) error

func createdEvent(order *models.Order) pendingEvent {
	event := &models.OrderCreatedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderCreated),
		OrderID:    order.ID,
		Items:      append([]models.Item(nil), order.Items...),
		IsPriority: order.IsPriority,
	}
	return func(ctx context.Context, sink EventSink) error {
		return sink.PublishOrderCreated(ctx, event)
	}
}

func completedEvent(order *models.Order) pendingEvent {
	event := &models.OrderCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCompleted),
		OrderID:   order.ID,
	}
	return func(ctx context.Context, sink EventSink) error {
		return sink.PublishOrderCompleted(ctx, event)
	}
}

func cancelledEvent(order *models.Order, refunded bool) pendingEvent {
	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   order.ID,
		Refunded:  refunded,
	}
	return func(ctx context.Context, sink EventSink) error {
		return sink.PublishOrderCancelled(ctx, event)
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// publish drains the outbox collected inside the critical section. Failures
// are logged and never surface to the mutation's caller.
func (r *Registry) publish(ctx context.Context, outbox []pendingEvent) {
	if r.events == nil {
		return
	}
	for _, send := range outbox {
		if err := send(ctx, r.events); err != nil {
			util.EventPublishFailures.Inc()
			r.logger.Error("Failed to publish event", zap.Error(err))
		}
	}
}

// persist saves a snapshot outside the critical section, best-effort.
func (r *Registry) persist(ctx context.Context) {
	if r.snapshots == nil {
		return
	}
	if err := r.snapshots.SaveSnapshot(ctx, r.Snapshot()); err != nil {
		util.SnapshotSaveFailures.Inc()
		r.logger.Error("Failed to save snapshot", zap.Error(err))
	}
}

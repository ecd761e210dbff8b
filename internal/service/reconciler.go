package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/yadokani389/taiyaq/internal/models"
	"github.com/yadokani389/taiyaq/internal/util"
)

// reconcile recomputes every order's status from the current stock ledger
// and flavor configs. It is a pure function of the aggregate at the moment
// it runs: calling it twice with no intervening mutation yields identical
// statuses and an identical ledger.
//
// Three passes:
//  1. Demote every Cooking order back to Waiting. Cooking is derived state
//     and carries no meaning between runs.
//  2. Walk the Waiting orders in fulfillment order (priority first, then
//     orderedAt, then id) against a working copy of the ledger. An order is
//     fulfillable only if stock covers every item; fulfillable orders deduct
//     their items, become Ready, and get readyAt stamped. The working copy
//     is committed back afterwards.
//  3. Re-walk the orders still Waiting in the same order, accumulating
//     per-flavor demand. An order is Cooking only if every shortfall beyond
//     leftover stock fits inside a single next batch of its flavor. Only one
//     batch of lead time is ever credited: orders further out stay Waiting
//     no matter how many future batches would cover them.
//
// Returns the ids promoted to Ready and their notification events. Cooking
// transitions are a side effect and are not reported. Caller holds the
// write lock.
func (r *Registry) reconcile() ([]uint32, []pendingEvent) {
	start := time.Now()
	defer func() {
		util.ReconcileRunsTotal.Inc()
		util.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	for _, order := range r.orders {
		if order.Status == models.OrderStatusCooking {
			order.Status = models.OrderStatusWaiting
		}
	}

	promoted, events := r.fulfillLocked()
	r.classifyCookingLocked()
	return promoted, events
}

// fulfillLocked promotes every fulfillable Waiting order to Ready, deducting
// its items from a working copy of the ledger before committing the copy
// back. Deduction only happens after the fulfillability check succeeds, so
// the ledger can never go negative.
func (r *Registry) fulfillLocked() ([]uint32, []pendingEvent) {
	working := make(map[models.Flavor]int, len(r.stock))
	for flavor, quantity := range r.stock {
		working[flavor] = quantity
	}

	var promoted []uint32
	var events []pendingEvent

	for _, order := range r.waitingInFulfillmentOrder() {
		if !canFulfill(order, working) {
			continue
		}

		for _, item := range order.Items {
			working[item.Flavor] -= item.Quantity
		}

		order.Status = models.OrderStatusReady
		if order.ReadyAt == nil {
			readyAt := r.now()
			order.ReadyAt = &readyAt
		}
		promoted = append(promoted, order.ID)
		util.OrdersReadyTotal.Inc()

		if len(order.Notify) > 0 {
			events = append(events, readyEvent(order))
		}
	}

	r.stock = working
	return promoted, events
}

// classifyCookingLocked marks Waiting orders whose entire shortfall is
// covered by the very next batch of each flavor as Cooking.
func (r *Registry) classifyCookingLocked() {
	runningDemand := make(map[models.Flavor]int)

	for _, order := range r.waitingInFulfillmentOrder() {
		cooking := len(order.Items) > 0

		for _, item := range order.Items {
			needed := runningDemand[item.Flavor] + item.Quantity - r.stock[item.Flavor]
			if needed <= 0 {
				// Covered by leftover stock.
				continue
			}
			if needed > r.configs[item.Flavor].QuantityPerBatch {
				cooking = false
				break
			}
		}

		if cooking {
			order.Status = models.OrderStatusCooking
		}

		// Demand counts toward later orders whether or not this one cooks.
		for _, item := range order.Items {
			runningDemand[item.Flavor] += item.Quantity
		}
	}
}

// waitingInFulfillmentOrder returns the Waiting orders sorted by priority
// flag descending, then orderedAt ascending, then id ascending. Timestamps
// are not guaranteed unique; the id is the deterministic tiebreak.
func (r *Registry) waitingInFulfillmentOrder() []*models.Order {
	waiting := make([]*models.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if order.Status == models.OrderStatusWaiting {
			waiting = append(waiting, order)
		}
	}

	sort.Slice(waiting, func(i, j int) bool {
		a, b := waiting[i], waiting[j]
		if a.IsPriority != b.IsPriority {
			return a.IsPriority
		}
		if !a.OrderedAt.Equal(b.OrderedAt) {
			return a.OrderedAt.Before(b.OrderedAt)
		}
		return a.ID < b.ID
	})
	return waiting
}

func canFulfill(order *models.Order, stock map[models.Flavor]int) bool {
	for _, item := range order.Items {
		if stock[item.Flavor] < item.Quantity {
			return false
		}
	}
	return true
}

func readyEvent(order *models.Order) pendingEvent {
	event := &models.OrderReadyEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderReady),
		OrderID:   order.ID,
		ReadyAt:   *order.ReadyAt,
		Targets:   append([]models.NotifyTarget(nil), order.Notify...),
		Message:   fmt.Sprintf("Order #%d is ready for pickup!", order.ID),
	}
	return func(ctx context.Context, sink EventSink) error {
		return sink.PublishOrderReady(ctx, event)
	}
}

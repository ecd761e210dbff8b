package service

import (
	"github.com/yadokani389/taiyaq/internal/models"
)

// Wait estimation is read-only: both projections run under the shared lock,
// never mutate state, and never trigger reconciliation.

// EstimateOrderWait projects how many minutes until the given order can be
// fulfilled. The estimate is only meaningful for Waiting orders; ok is false
// for unknown ids and for any other status.
//
// For each flavor in the order, demand ahead is the total quantity of that
// flavor across all Waiting orders placed at or before this one (the order's
// own items included). Whatever stock does not cover must come from
// production, in whole batches. Flavors are assumed to be produced in
// parallel, so the order's wait is the maximum across its flavors, not the
// sum. A flavor with quantity_per_batch == 0 contributes 0.
func (r *Registry) EstimateOrderWait(id uint32) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order := r.findLocked(id)
	if order == nil || order.Status != models.OrderStatusWaiting {
		return 0, false
	}

	var maxWait int64
	for _, item := range order.Items {
		demandAhead := 0
		for _, o := range r.orders {
			if o.Status != models.OrderStatusWaiting || o.OrderedAt.After(order.OrderedAt) {
				continue
			}
			for _, oi := range o.Items {
				if oi.Flavor == item.Flavor {
					demandAhead += oi.Quantity
				}
			}
		}

		needed := demandAhead - r.stock[item.Flavor]
		if needed <= 0 {
			continue
		}

		config := r.configs[item.Flavor]
		if config.QuantityPerBatch <= 0 {
			continue
		}

		batches := (needed + config.QuantityPerBatch - 1) / config.QuantityPerBatch
		wait := int64(batches) * int64(config.CookingTimeMinutes)
		if wait > maxWait {
			maxWait = wait
		}
	}

	return maxWait, true
}

// EstimateWalkInWait projects the wait in minutes for a hypothetical new
// single-unit order of the given flavor placed right now, behind all demand
// currently Waiting or Cooking. ok is false when the flavor is not currently
// produceable (quantity_per_batch == 0) and stock does not already cover it.
func (r *Registry) EstimateWalkInWait(flavor models.Flavor) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.walkInWaitLocked(flavor)
}

// WalkInWaits returns the walk-in estimate for every flavor. A nil entry
// means the flavor is currently unavailable.
func (r *Registry) WalkInWaits() map[models.Flavor]*int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	waits := make(map[models.Flavor]*int64, len(models.AllFlavors))
	for _, flavor := range models.AllFlavors {
		if wait, ok := r.walkInWaitLocked(flavor); ok {
			w := wait
			waits[flavor] = &w
		} else {
			waits[flavor] = nil
		}
	}
	return waits
}

func (r *Registry) walkInWaitLocked(flavor models.Flavor) (int64, bool) {
	demandAhead := 0
	for _, o := range r.orders {
		if o.Status != models.OrderStatusWaiting && o.Status != models.OrderStatusCooking {
			continue
		}
		for _, item := range o.Items {
			if item.Flavor == flavor {
				demandAhead += item.Quantity
			}
		}
	}

	total := demandAhead + 1
	if total <= r.stock[flavor] {
		return 0, true
	}

	config := r.configs[flavor]
	if config.QuantityPerBatch <= 0 {
		return 0, false
	}

	needed := total - r.stock[flavor]
	batches := (needed + config.QuantityPerBatch - 1) / config.QuantityPerBatch
	return int64(batches) * int64(config.CookingTimeMinutes), true
}

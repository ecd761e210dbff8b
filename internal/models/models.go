package models

import "time"

// Flavor is a fixed product variant. The set is known at compile time and
// not user-extensible.
type Flavor string

const (
	FlavorTsubuan    Flavor = "tsubuan"
	FlavorCustard    Flavor = "custard"
	FlavorKurikinton Flavor = "kurikinton"
)

// AllFlavors lists every flavor in display order.
var AllFlavors = []Flavor{FlavorTsubuan, FlavorCustard, FlavorKurikinton}

// IsValid reports whether f is one of the known flavors.
func (f Flavor) IsValid() bool {
	switch f {
	case FlavorTsubuan, FlavorCustard, FlavorKurikinton:
		return true
	}
	return false
}

// FlavorConfig holds the production parameters for one flavor.
// QuantityPerBatch == 0 means the flavor is not currently produceable.
type FlavorConfig struct {
	CookingTimeMinutes int `json:"cooking_time_minutes"`
	QuantityPerBatch   int `json:"quantity_per_batch"`
}

// Item is a quantity of one flavor. Quantity > 0 by construction; the API
// layer rejects zero-quantity items before they reach the registry.
type Item struct {
	Flavor   Flavor `json:"flavor"`
	Quantity int    `json:"quantity"`
}

// OrderStatus is the order state machine. Cooking is derived and ephemeral:
// it is recomputed on every reconciliation pass and carries no meaning
// between passes. Completed and Cancelled are terminal.
type OrderStatus string

const (
	OrderStatusWaiting   OrderStatus = "waiting"
	OrderStatusCooking   OrderStatus = "cooking"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus parses the lowercase wire form of a status.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch OrderStatus(s) {
	case OrderStatusWaiting, OrderStatusCooking, OrderStatusReady,
		OrderStatusCompleted, OrderStatusCancelled:
		return OrderStatus(s), true
	}
	return "", false
}

// NotifyChannel identifies an outbound notification channel.
type NotifyChannel string

const (
	NotifyChannelDiscord NotifyChannel = "discord"
	NotifyChannelLine    NotifyChannel = "line"
	NotifyChannelEmail   NotifyChannel = "email"
)

// NotifyTarget is one registered notification destination for an order.
type NotifyTarget struct {
	Channel NotifyChannel `json:"channel"`
	Target  string        `json:"target"`
}

// Order is a customer order. ReadyAt is stamped exactly once, at the Ready
// promotion, and never cleared afterwards, even if the order is later
// cancelled.
type Order struct {
	ID          uint32         `json:"id"`
	Items       []Item         `json:"items"`
	Status      OrderStatus    `json:"status"`
	OrderedAt   time.Time      `json:"ordered_at"`
	ReadyAt     *time.Time     `json:"ready_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	IsPriority  bool           `json:"is_priority"`
	Notify      []NotifyTarget `json:"notify"`
}

// Clone returns a deep copy safe to hand out past the registry lock.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	c.Notify = append([]NotifyTarget(nil), o.Notify...)
	if o.ReadyAt != nil {
		t := *o.ReadyAt
		c.ReadyAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Snapshot is the serialized form of the whole aggregate, persisted
// best-effort after each mutation and restored on boot.
type Snapshot struct {
	Orders        []Order                 `json:"orders"`
	Stock         map[Flavor]int          `json:"unallocated_stock"`
	FlavorConfigs map[Flavor]FlavorConfig `json:"flavor_configs"`
}

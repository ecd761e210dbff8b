package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yadokani389/taiyaq/internal/models"
	"github.com/yadokani389/taiyaq/internal/redisclient"
	"github.com/yadokani389/taiyaq/internal/service"
	"github.com/yadokani389/taiyaq/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const idempotencyTTL = 24 * time.Hour

// Handler contains HTTP handlers
type Handler struct {
	registry   *service.Registry
	redis      *redisclient.Client
	staffToken string
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. redis may be nil; idempotent order
// creation is then disabled.
func NewHandler(registry *service.Registry, redis *redisclient.Client, staffToken string) *Handler {
	return &Handler{
		registry:   registry,
		redis:      redis,
		staffToken: staffToken,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/orders/display", h.getDisplayOrders)
		api.GET("/orders/:id", h.getOrderDetails)
		api.GET("/wait-times", h.getWaitTimes)
		api.PUT("/orders/:id/notification", h.addNotification)
		api.DELETE("/orders/:id/notification", h.removeNotification)

		staff := api.Group("/staff", h.staffAuth())
		{
			staff.GET("/orders", h.getStaffOrders)
			staff.POST("/orders", h.createOrder)
			staff.POST("/production", h.recordProduction)
			staff.POST("/orders/:id/complete", h.completeOrder)
			staff.POST("/orders/:id/cancel", h.cancelOrder)
			staff.PUT("/orders/:id/priority", h.setPriority)
			staff.GET("/stock", h.getStock)
			staff.GET("/flavors", h.getFlavorConfigs)
			staff.PUT("/flavors/:flavor", h.setFlavorConfig)
		}
	}
}

// staffAuth guards staff routes with a static bearer token. An empty
// configured token disables the check for local development.
func (h *Handler) staffAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.staffToken == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth != "Bearer "+h.staffToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid staff token",
			})
			return
		}
		c.Next()
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// ItemRequest is one flavor/quantity pair in a request body.
type ItemRequest struct {
	Flavor   string `json:"flavor" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// CreateOrderRequest is the body of POST /api/staff/orders.
type CreateOrderRequest struct {
	Items          []ItemRequest `json:"items" binding:"required,min=1,dive"`
	IsPriority     bool          `json:"is_priority"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	items, ok := parseItems(req.Items)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown flavor"})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	ctx := c.Request.Context()

	if h.redis != nil && req.IdempotencyKey != "" {
		if id, seen, err := h.redis.LookupIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
			h.logger.Warn("Idempotency lookup failed", zap.Error(err))
		} else if seen {
			if existing := h.registry.Order(id); existing != nil {
				c.JSON(http.StatusOK, existing)
				return
			}
		}
	}

	order := h.registry.CreateOrder(ctx, items, req.IsPriority)

	if h.redis != nil && req.IdempotencyKey != "" {
		if _, err := h.redis.RememberIdempotencyKey(ctx, req.IdempotencyKey, order.ID, idempotencyTTL); err != nil {
			h.logger.Warn("Failed to record idempotency key", zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, order)
}

// getStaffOrders lists all orders, optionally filtered by a comma-separated
// status query (?status=waiting,ready).
func (h *Handler) getStaffOrders(c *gin.Context) {
	var statuses []models.OrderStatus
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := models.ParseOrderStatus(part)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid order status: " + part,
				})
				return
			}
			statuses = append(statuses, status)
		}
	}

	c.JSON(http.StatusOK, h.registry.Orders(statuses...))
}

// ProductionRequest is the body of POST /api/staff/production.
type ProductionRequest struct {
	Items []ItemRequest `json:"items" binding:"required,min=1,dive"`
}

// ProductionResponse reports promotions and leftover stock after a batch.
type ProductionResponse struct {
	NewlyReadyOrders []uint32      `json:"newly_ready_orders"`
	UnallocatedItems []models.Item `json:"unallocated_items"`
}

// recordProduction adds a finished batch to stock
func (h *Handler) recordProduction(c *gin.Context) {
	var req ProductionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	items, ok := parseItems(req.Items)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown flavor"})
		return
	}

	ready, remaining := h.registry.RecordProduction(c.Request.Context(), items)
	if ready == nil {
		ready = []uint32{}
	}

	c.JSON(http.StatusOK, ProductionResponse{
		NewlyReadyOrders: ready,
		UnallocatedItems: remaining,
	})
}

// completeOrder marks an order as handed over
func (h *Handler) completeOrder(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	order := h.registry.CompleteOrder(c.Request.Context(), id)
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// cancelOrder cancels an order
func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	order := h.registry.CancelOrder(c.Request.Context(), id)
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// PriorityRequest is the body of PUT /api/staff/orders/:id/priority.
type PriorityRequest struct {
	IsPriority *bool `json:"is_priority" binding:"required"`
}

// setPriority updates an order's priority flag
func (h *Handler) setPriority(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req PriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order := h.registry.SetPriority(c.Request.Context(), id, *req.IsPriority)
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// NotificationRequest identifies one notification target.
type NotificationRequest struct {
	Channel string `json:"channel" binding:"required"`
	Target  string `json:"target" binding:"required"`
}

func (r *NotificationRequest) toTarget() (models.NotifyTarget, bool) {
	switch models.NotifyChannel(r.Channel) {
	case models.NotifyChannelDiscord, models.NotifyChannelLine, models.NotifyChannelEmail:
		return models.NotifyTarget{
			Channel: models.NotifyChannel(r.Channel),
			Target:  r.Target,
		}, true
	}
	return models.NotifyTarget{}, false
}

// addNotification registers a notification target on an order
func (h *Handler) addNotification(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	target, valid := req.toTarget()
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown notification channel"})
		return
	}

	order := h.registry.AddNotifyTarget(c.Request.Context(), id, target)
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// removeNotification removes a notification target from an order
func (h *Handler) removeNotification(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	target, valid := req.toTarget()
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown notification channel"})
		return
	}

	order := h.registry.RemoveNotifyTarget(c.Request.Context(), id, target)
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// DisplayOrder is one entry on the pickup display board.
type DisplayOrder struct {
	ID uint32 `json:"id"`
}

// DisplayOrdersResponse buckets order ids by current status.
type DisplayOrdersResponse struct {
	Ready   []DisplayOrder `json:"ready"`
	Cooking []DisplayOrder `json:"cooking"`
	Waiting []DisplayOrder `json:"waiting"`
}

// getDisplayOrders returns the pickup display board
func (h *Handler) getDisplayOrders(c *gin.Context) {
	resp := DisplayOrdersResponse{
		Ready:   []DisplayOrder{},
		Cooking: []DisplayOrder{},
		Waiting: []DisplayOrder{},
	}

	for _, order := range h.registry.Orders() {
		entry := DisplayOrder{ID: order.ID}
		switch order.Status {
		case models.OrderStatusReady:
			resp.Ready = append(resp.Ready, entry)
		case models.OrderStatusCooking:
			resp.Cooking = append(resp.Cooking, entry)
		case models.OrderStatusWaiting:
			resp.Waiting = append(resp.Waiting, entry)
		}
	}

	c.JSON(http.StatusOK, resp)
}

// OrderDetailsResponse is the customer-facing view of one order.
type OrderDetailsResponse struct {
	ID                   uint32             `json:"id"`
	Status               models.OrderStatus `json:"status"`
	EstimatedWaitMinutes *int64             `json:"estimated_wait_minutes"`
}

// getOrderDetails returns an order's status and estimated wait
func (h *Handler) getOrderDetails(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	order := h.registry.Order(id)
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	resp := OrderDetailsResponse{ID: order.ID, Status: order.Status}
	if wait, hasWait := h.registry.EstimateOrderWait(id); hasWait {
		resp.EstimatedWaitMinutes = &wait
	}

	c.JSON(http.StatusOK, resp)
}

// WaitTimesResponse maps flavor to walk-in wait. A null entry means the
// flavor is currently unavailable.
type WaitTimesResponse struct {
	WaitTimes map[models.Flavor]*int64 `json:"wait_times"`
}

// getWaitTimes returns the walk-in wait estimate per flavor
func (h *Handler) getWaitTimes(c *gin.Context) {
	c.JSON(http.StatusOK, WaitTimesResponse{WaitTimes: h.registry.WalkInWaits()})
}

// getStock returns the non-zero unallocated stock
func (h *Handler) getStock(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.registry.Stock()})
}

// getFlavorConfigs returns production parameters for all flavors
func (h *Handler) getFlavorConfigs(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.FlavorConfigs())
}

// FlavorConfigRequest is the body of PUT /api/staff/flavors/:flavor.
type FlavorConfigRequest struct {
	CookingTimeMinutes int `json:"cooking_time_minutes" binding:"min=0"`
	QuantityPerBatch   int `json:"quantity_per_batch" binding:"min=0"`
}

// setFlavorConfig replaces a flavor's production parameters
func (h *Handler) setFlavorConfig(c *gin.Context) {
	flavor := models.Flavor(c.Param("flavor"))
	if !flavor.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown flavor"})
		return
	}

	var req FlavorConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	h.registry.SetFlavorConfig(c.Request.Context(), flavor, models.FlavorConfig{
		CookingTimeMinutes: req.CookingTimeMinutes,
		QuantityPerBatch:   req.QuantityPerBatch,
	})

	c.JSON(http.StatusOK, gin.H{"flavor": flavor})
}

// parseItems validates flavors and converts request items to domain items.
func parseItems(reqItems []ItemRequest) ([]models.Item, bool) {
	items := make([]models.Item, 0, len(reqItems))
	for _, item := range reqItems {
		flavor := models.Flavor(item.Flavor)
		if !flavor.IsValid() {
			return nil, false
		}
		items = append(items, models.Item{Flavor: flavor, Quantity: item.Quantity})
	}
	return items, true
}

// orderIDParam parses the :id path parameter, writing a 400 on failure.
func orderIDParam(c *gin.Context) (uint32, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return 0, false
	}
	return uint32(id), true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yadokani389/taiyaq/internal/models"
	"github.com/yadokani389/taiyaq/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(staffToken string) (*gin.Engine, *service.Registry) {
	gin.SetMode(gin.TestMode)

	registry := service.NewRegistry(nil, nil)
	handler := NewHandler(registry, nil, staffToken)

	router := gin.New()
	handler.SetupRoutes(router)
	return router, registry
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateOrderEndpoint(t *testing.T) {
	router, _ := newTestRouter("")

	w := doJSON(t, router, http.MethodPost, "/api/staff/orders", gin.H{
		"items":       []gin.H{{"flavor": "tsubuan", "quantity": 2}},
		"is_priority": true,
	}, nil)

	require.Equal(t, http.StatusCreated, w.Code)

	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, uint32(1), order.ID)
	assert.True(t, order.IsPriority)
	// Empty stock, within one batch: already classified as cooking.
	assert.Equal(t, models.OrderStatusCooking, order.Status)
}

func TestCreateOrderRejectsBadBodies(t *testing.T) {
	router, _ := newTestRouter("")

	w := doJSON(t, router, http.MethodPost, "/api/staff/orders", gin.H{
		"items": []gin.H{},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/staff/orders", gin.H{
		"items": []gin.H{{"flavor": "chocolate", "quantity": 1}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/staff/orders", gin.H{
		"items": []gin.H{{"flavor": "tsubuan", "quantity": 0}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStaffAuthRequired(t *testing.T) {
	router, _ := newTestRouter("sekrit")

	w := doJSON(t, router, http.MethodGet, "/api/staff/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/staff/orders", nil, map[string]string{
		"Authorization": "Bearer sekrit",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStaffOrdersStatusFilter(t *testing.T) {
	router, registry := newTestRouter("")
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	registry.RecordProduction(ctx, []models.Item{{Flavor: models.FlavorTsubuan, Quantity: 2}})
	registry.CreateOrder(ctx, []models.Item{{Flavor: models.FlavorTsubuan, Quantity: 2}}, false)
	registry.CreateOrder(ctx, []models.Item{{Flavor: models.FlavorTsubuan, Quantity: 20}}, false)

	w := doJSON(t, router, http.MethodGet, "/api/staff/orders?status=ready", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var orders []models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusReady, orders[0].Status)

	w = doJSON(t, router, http.MethodGet, "/api/staff/orders?status=ready,waiting", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	assert.Len(t, orders, 2)

	w = doJSON(t, router, http.MethodGet, "/api/staff/orders?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisplayBoardBuckets(t *testing.T) {
	router, registry := newTestRouter("")
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	registry.RecordProduction(ctx, []models.Item{{Flavor: models.FlavorTsubuan, Quantity: 2}})
	registry.CreateOrder(ctx, []models.Item{{Flavor: models.FlavorTsubuan, Quantity: 2}}, false)
	registry.CreateOrder(ctx, []models.Item{{Flavor: models.FlavorTsubuan, Quantity: 3}}, false)
	registry.CreateOrder(ctx, []models.Item{{Flavor: models.FlavorTsubuan, Quantity: 30}}, false)

	w := doJSON(t, router, http.MethodGet, "/api/orders/display", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp DisplayOrdersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Ready, 1)
	assert.Len(t, resp.Cooking, 1)
	assert.Len(t, resp.Waiting, 1)
}

func TestOrderDetailsAndWait(t *testing.T) {
	router, registry := newTestRouter("")
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	order := registry.CreateOrder(ctx, []models.Item{{Flavor: models.FlavorTsubuan, Quantity: 20}}, false)

	w := doJSON(t, router, http.MethodGet, "/api/orders/1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp OrderDetailsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, order.ID, resp.ID)
	assert.Equal(t, models.OrderStatusWaiting, resp.Status)
	require.NotNil(t, resp.EstimatedWaitMinutes)
	// 20 units, batches of 9: three 15-minute batches.
	assert.Equal(t, int64(45), *resp.EstimatedWaitMinutes)

	w = doJSON(t, router, http.MethodGet, "/api/orders/99", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/orders/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationLifecycle(t *testing.T) {
	router, registry := newTestRouter("")
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	registry.CreateOrder(ctx, []models.Item{{Flavor: models.FlavorTsubuan, Quantity: 1}}, false)

	w := doJSON(t, router, http.MethodPut, "/api/orders/1/notification", gin.H{
		"channel": "line",
		"target":  "U123",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	require.Len(t, order.Notify, 1)

	w = doJSON(t, router, http.MethodDelete, "/api/orders/1/notification", gin.H{
		"channel": "line",
		"target":  "U123",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Empty(t, order.Notify)

	w = doJSON(t, router, http.MethodPut, "/api/orders/1/notification", gin.H{
		"channel": "pigeon",
		"target":  "coo",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProductionEndpoint(t *testing.T) {
	router, registry := newTestRouter("")
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	registry.CreateOrder(ctx, []models.Item{{Flavor: models.FlavorTsubuan, Quantity: 2}}, false)

	w := doJSON(t, router, http.MethodPost, "/api/staff/production", gin.H{
		"items": []gin.H{{"flavor": "tsubuan", "quantity": 9}},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ProductionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []uint32{1}, resp.NewlyReadyOrders)
	require.Len(t, resp.UnallocatedItems, 1)
	assert.Equal(t, 7, resp.UnallocatedItems[0].Quantity)
}

func TestFlavorConfigEndpoints(t *testing.T) {
	router, _ := newTestRouter("")

	w := doJSON(t, router, http.MethodPut, "/api/staff/flavors/custard", gin.H{
		"cooking_time_minutes": 20,
		"quantity_per_batch":   6,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/staff/flavors", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var configs map[models.Flavor]models.FlavorConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &configs))
	assert.Equal(t, 20, configs[models.FlavorCustard].CookingTimeMinutes)
	assert.Equal(t, 6, configs[models.FlavorCustard].QuantityPerBatch)

	w = doJSON(t, router, http.MethodPut, "/api/staff/flavors/chocolate", gin.H{
		"cooking_time_minutes": 20,
		"quantity_per_batch":   6,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWaitTimesEndpoint(t *testing.T) {
	router, _ := newTestRouter("")

	w := doJSON(t, router, http.MethodGet, "/api/wait-times", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp WaitTimesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.WaitTimes, len(models.AllFlavors))
}

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orders      *service.OrderService
	webhooks    *service.WebhookProcessor
	pairing     *service.PairingService
	ledger      *service.StockLedger
	diagnostics *service.StockDiagnostics
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	webhooks *service.WebhookProcessor,
	pairing *service.PairingService,
	ledger *service.StockLedger,
	diagnostics *service.StockDiagnostics,
) *Handler {
	return &Handler{
		orders:      orders,
		webhooks:    webhooks,
		pairing:     pairing,
		ledger:      ledger,
		diagnostics: diagnostics,
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

	router.POST("/webhooks/payment", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.checkout)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/refund", h.refundOrder)
		v1.POST("/orders/:id/ship", h.shipOrder)
		v1.POST("/orders/:id/deliver", h.deliverOrder)

		v1.PUT("/products/:id", h.updateProduct)
		v1.GET("/products/:id/stock-summary", h.stockSummary)
		v1.POST("/pairings/:id/break", h.breakPairing)

		v1.PUT("/stock/:optionID", h.setOptionStock)
		v1.POST("/stock/:optionID/adjust", h.adjustOptionStock)
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

// paymentWebhook receives gateway deliveries. Only verification failures get
// a non-2xx; recorded conflicts and duplicates are acknowledged so the
// gateway stops redelivering what we already have on file.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	signature := c.GetHeader("X-Gateway-Signature")
	timestamp := c.GetHeader("X-Gateway-Timestamp")

	outcome, err := h.webhooks.HandleDelivery(c.Request.Context(), signature, timestamp, body)
	if err != nil {
		if errors.Is(err, models.ErrSignatureVerification) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Signature verification failed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// checkout handles order creation
func (h *Handler) checkout(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		status, msg := errorStatus(err, "Failed to create order")
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		status, msg := errorStatus(err, "Failed to load order")
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// cancelOrder releases the order's reservation and moves it to cancelled,
// when its current state still allows a customer cancellation.
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.orders.Cancel(c.Request.Context(), orderID); err != nil {
		status, msg := errorStatus(err, "Failed to cancel order")
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(models.OrderStatusCancelled)})
}

// refundOrder runs a manually triggered refund through the same pipeline as
// a gateway refund event.
func (h *Handler) refundOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	outcome, err := h.webhooks.TriggerRefund(c.Request.Context(), orderID, req.Amount, req.Reason)
	if err != nil {
		status, msg := errorStatus(err, "Failed to refund order")
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// shipOrder marks a paid order as shipped (fulfillment tooling).
func (h *Handler) shipOrder(c *gin.Context) {
	h.applyFulfillment(c, service.TransitionMarkShipped, models.OrderStatusShipped)
}

// deliverOrder marks a shipped order as delivered.
func (h *Handler) deliverOrder(c *gin.Context) {
	h.applyFulfillment(c, service.TransitionMarkDelivered, models.OrderStatusDelivered)
}

func (h *Handler) applyFulfillment(c *gin.Context, event service.TransitionEvent, to models.OrderStatus) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.orders.ApplyFulfillment(c.Request.Context(), orderID, event); err != nil {
		status, msg := errorStatus(err, "Failed to update fulfillment")
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(to)})
}

// updateProduct applies a partial update and synchronizes shared fields to
// the product's pairing twin in the same transaction.
func (h *Handler) updateProduct(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var patch store.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.pairing.UpdateProduct(c.Request.Context(), productID, patch); err != nil {
		status, msg := errorStatus(err, "Failed to update product")
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// stockSummary reports per-option stock alongside the product total and
// flags a mismatch between the two.
func (h *Handler) stockSummary(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	summary, err := h.diagnostics.StockSummary(c.Request.Context(), productID)
	if err != nil {
		status, msg := errorStatus(err, "Failed to summarize stock")
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// breakPairing detaches both products of a pairing from each other.
func (h *Handler) breakPairing(c *gin.Context) {
	pairingID := c.Param("id")
	if pairingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing pairing ID"})
		return
	}

	if err := h.pairing.BreakPairing(c.Request.Context(), pairingID); err != nil {
		status, msg := errorStatus(err, "Failed to break pairing")
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unpaired"})
}

// setOptionStock replaces an option's absolute stock level.
func (h *Handler) setOptionStock(c *gin.Context) {
	optionID, ok := pathID(c, "optionID")
	if !ok {
		return
	}

	var req struct {
		StockQuantity     int `json:"stock_quantity" binding:"min=0"`
		LowStockThreshold int `json:"low_stock_threshold" binding:"min=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.ledger.SetOptionStock(c.Request.Context(), optionID, req.StockQuantity, req.LowStockThreshold); err != nil {
		status, msg := errorStatus(err, "Failed to set stock")
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// adjustOptionStock applies a signed correction and records it for audit.
func (h *Handler) adjustOptionStock(c *gin.Context) {
	optionID, ok := pathID(c, "optionID")
	if !ok {
		return
	}

	var req struct {
		Delta  int    `json:"delta" binding:"required"`
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.ledger.AdjustManual(c.Request.Context(), optionID, req.Delta, req.Reason); err != nil {
		status, msg := errorStatus(err, "Failed to adjust stock")
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "adjusted"})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

// errorStatus maps service errors onto HTTP statuses.
func errorStatus(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, models.ErrOutOfStock):
		return http.StatusConflict, "Insufficient stock"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "Order state does not allow this operation"
	case errors.Is(err, models.ErrConcurrencyConflict):
		return http.StatusConflict, "Concurrent update, retry"
	case errors.Is(err, models.ErrDuplicateEvent):
		return http.StatusConflict, "Already processed"
	default:
		return http.StatusInternalServerError, fallback
	}
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

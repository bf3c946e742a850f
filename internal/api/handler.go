package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UserIDHeader carries the authenticated shopper. Pricing decides discount
// eligibility from it, never from the request body.
const UserIDHeader = "X-User-ID"

// Pricer prices a cart for a shopper.
type Pricer interface {
	CalculateTotal(ctx context.Context, userID string, req models.PricingRequest) (models.PricingResult, error)
}

// Authorizer is the payment gateway.
type Authorizer interface {
	Authorize(ctx context.Context, userID string, req models.AuthorizeRequest) (models.AuthorizeResponse, error)
}

// Orders commits and reads orders.
type Orders interface {
	CreateOrder(ctx context.Context, userID string, req models.CreateOrderRequest) (int64, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error)
}

// Failures is the reconciliation log.
type Failures interface {
	Record(ctx context.Context, req models.FailedOrderRequest) (int64, error)
	List(ctx context.Context, includeResolved bool, limit int) ([]models.FailedOrderRecord, error)
	Resolve(ctx context.Context, id int64) error
}

// Confirmations queues order confirmation e-mails.
type Confirmations interface {
	RequestOrderConfirmation(ctx context.Context, req models.ConfirmationEmailRequest) error
}

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	pricing       Pricer
	payments      Authorizer
	orders        Orders
	failures      Failures
	confirmations Confirmations
	dependencies  map[string]Pinger
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler. dependencies are pinged by /ready.
func NewHandler(pricing Pricer, payments Authorizer, orders Orders, failures Failures, confirmations Confirmations, dependencies map[string]Pinger) *Handler {
	return &Handler{
		pricing:       pricing,
		payments:      payments,
		orders:        orders,
		failures:      failures,
		confirmations: confirmations,
		dependencies:  dependencies,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(PrometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/pricing/calculate-total", h.calculateTotal)
		v1.POST("/payment/authorize", h.authorize)
		v1.POST("/orders/create", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/failed", h.recordFailure)
		v1.GET("/orders/failed", h.listFailures)
		v1.POST("/orders/failed/:id/resolve", h.resolveFailure)
		v1.POST("/email/order-confirmation", h.orderConfirmation)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports not ready while any dependency fails its ping
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) calculateTotal(c *gin.Context) {
	var req models.PricingRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.pricing.CalculateTotal(c.Request.Context(), c.GetHeader(UserIDHeader), req)
	if err != nil {
		h.fail(c, "Failed to calculate total", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// authorize answers declines with 402 and the usual {success:false, error}
// body so the storefront can tell a decline from a broken gateway.
func (h *Handler) authorize(c *gin.Context) {
	var req models.AuthorizeRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.payments.Authorize(c.Request.Context(), c.GetHeader(UserIDHeader), req)
	if errors.Is(err, apperr.ErrAuthorizationDeclined) {
		c.JSON(http.StatusPaymentRequired, resp)
		return
	}
	if err != nil {
		h.fail(c, "Failed to authorize payment", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) createOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	id, err := h.orders.CreateOrder(c.Request.Context(), c.GetHeader(UserIDHeader), req)
	if err != nil {
		h.fail(c, "Failed to create order", err)
		return
	}
	c.JSON(http.StatusCreated, models.CreateOrderResponse{ID: id})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.fail(c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

func (h *Handler) recordFailure(c *gin.Context) {
	var req models.FailedOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	id, err := h.failures.Record(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to record failure", err)
		return
	}
	c.JSON(http.StatusCreated, models.IDResponse{ID: id})
}

func (h *Handler) listFailures(c *gin.Context) {
	includeResolved, _ := strconv.ParseBool(c.DefaultQuery("includeResolved", "false"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	records, err := h.failures.List(c.Request.Context(), includeResolved, limit)
	if err != nil {
		h.fail(c, "Failed to list failures", err)
		return
	}
	if records == nil {
		records = []models.FailedOrderRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"failures": records})
}

func (h *Handler) resolveFailure(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.failures.Resolve(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to resolve failure", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) orderConfirmation(c *gin.Context) {
	var req models.ConfirmationEmailRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.confirmations.RequestOrderConfirmation(c.Request.Context(), req); err != nil {
		h.fail(c, "Failed to queue confirmation", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// fail writes the {error, details} body the storefront client parses.
func (h *Handler) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUnknownTransaction):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPaymentNotAuthorized), errors.Is(err, service.ErrCommitInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrTotalMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrAuthorizationDeclined):
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// PrometheusMiddleware collects HTTP metrics
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}

package storefront

import (
	"context"
	"errors"
	"net/http"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/checkout"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

const (
	userIDHeader   = "X-User-ID"
	maxStatusWait  = 10 * time.Second
	defaultLangTag = "en-US"
)

var supportedLanguages = language.NewMatcher([]language.Tag{
	language.AmericanEnglish,
	language.BritishEnglish,
	language.German,
	language.French,
	language.Japanese,
})

// Handler exposes storefront sessions over HTTP
type Handler struct {
	sessions *Manager
	flow     *checkout.Flow
	currency string
	logger   *zap.Logger
}

// NewHandler creates a new storefront handler
func NewHandler(sessions *Manager, flow *checkout.Flow, currency string) *Handler {
	return &Handler{
		sessions: sessions,
		flow:     flow,
		currency: currency,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes registers the session routes on router.
func (h *Handler) SetupRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/sessions", h.createSession)
		v1.GET("/sessions/:id", h.status)
		v1.PUT("/sessions/:id/cart", h.setCart)
		v1.PUT("/sessions/:id/delivery", h.setDelivery)
		v1.PUT("/sessions/:id/contact", h.setContact)
		v1.POST("/sessions/:id/checkout", h.checkout)
	}
}

type cartRequest struct {
	Items []models.CartItem `json:"items"`
}

type deliveryRequest struct {
	DeliveryType string          `json:"deliveryType" binding:"required"`
	Address      *models.Address `json:"address"`
}

type contactRequest struct {
	Email         string `json:"email"`
	PaymentMethod string `json:"paymentMethod"`
}

func (h *Handler) createSession(c *gin.Context) {
	s := h.sessions.Create(c.GetHeader(userIDHeader))
	h.logger.Info("Session created", zap.String("session_id", s.ID), zap.String("user_id", s.UserID))
	c.JSON(http.StatusCreated, gin.H{"sessionId": s.ID})
}

// status returns the session view. With ?wait=true it first waits for the
// latest pricing request to settle.
func (h *Handler) status(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	if c.Query("wait") == "true" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), maxStatusWait)
		defer cancel()
		_ = s.Wait(ctx)
	}

	c.JSON(http.StatusOK, h.render(c, s))
}

func (h *Handler) setCart(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req cartRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := s.SetItems(c.Request.Context(), req.Items); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.render(c, s))
}

func (h *Handler) setDelivery(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req deliveryRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := s.SetDelivery(c.Request.Context(), req.DeliveryType, req.Address); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.render(c, s))
}

func (h *Handler) setContact(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req contactRequest
	if !bindJSON(c, &req) {
		return
	}

	s.SetContact(req.Email, req.PaymentMethod)
	c.JSON(http.StatusOK, h.render(c, s))
}

func (h *Handler) checkout(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	receipt, err := s.Checkout(c.Request.Context(), h.flow)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func (h *Handler) session(c *gin.Context) (*Session, bool) {
	s, err := h.sessions.Get(c.Param("id"), c.GetHeader(userIDHeader))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) render(c *gin.Context, s *Session) Status {
	tag := languageTag(c)
	return s.Status(func(snap checkout.Snapshot) (string, bool) {
		return checkout.ButtonLabel(snap, h.currency, tag)
	})
}

// fail answers with the customer-facing message for err. Checkout failures
// after payment also carry the kind so support can find the record.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	case errors.Is(err, ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Checkout already in progress"})
		return
	case errors.Is(err, ErrSessionLocked):
		c.JSON(http.StatusConflict, gin.H{
			"error": apperr.UserMessage(apperr.ErrCommitFailedAfterPayment),
			"kind":  apperr.KindCommitFailedAfterPayment,
		})
		return
	}

	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Checkout request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   apperr.UserMessage(err),
		"kind":    apperr.KindOf(err),
		"details": err.Error(),
	})
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

func languageTag(c *gin.Context) language.Tag {
	accept := c.GetHeader("Accept-Language")
	if accept == "" {
		accept = defaultLangTag
	}
	tag, _ := language.MatchStrings(supportedLanguages, accept)
	return tag
}

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Stripe rejects webhook payloads above this size
const maxWebhookBody = 65536

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	carts      *service.CartService
	orders     *service.OrderService
	users      *service.UserService
	payments   *service.PaymentService
	cookieName string
	checks     map[string]Pinger
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. checks are pinged by /ready.
func NewHandler(
	carts *service.CartService,
	orders *service.OrderService,
	users *service.UserService,
	payments *service.PaymentService,
	cookieName string,
	checks map[string]Pinger,
) *Handler {
	return &Handler{
		carts:      carts,
		orders:     orders,
		users:      users,
		payments:   payments,
		cookieName: cookieName,
		checks:     checks,
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

	v1 := router.Group("/api/v1")

	// the processor calls this one; it carries no session
	v1.POST("/webhooks/stripe", h.stripeWebhook)

	browser := v1.Group("", identityMiddleware(h.cookieName))
	{
		browser.GET("/cart", h.getCart)
		browser.POST("/cart/items", h.addCartItem)
		browser.DELETE("/cart/items/:productId", h.removeCartItem)

		browser.POST("/auth/signed-in", h.signedIn)

		browser.PUT("/me/address", h.saveAddress)
		browser.PUT("/me/payment-method", h.savePaymentMethod)
		browser.GET("/me/orders", h.listMyOrders)

		browser.POST("/orders", h.createOrder)
		browser.GET("/orders/:id", h.getOrder)
		browser.POST("/orders/:id/paypal", h.createPaypalOrder)
		browser.POST("/orders/:id/paypal/approve", h.approvePaypalOrder)

		admin := browser.Group("/admin", requireAdmin())
		{
			admin.POST("/orders/:id/pay", h.markCodOrderPaid)
			admin.POST("/orders/:id/deliver", h.markOrderDelivered)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings the store and cache
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.carts.GetCurrentCart(c.Request.Context(), identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cart": cart})
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), identity(c), req.ProductID)
	if err != nil {
		h.fail(c, err)
		return
	}

	message := "Item added to cart"
	if idx := cart.Items.Find(req.ProductID); idx >= 0 {
		message = cart.Items[idx].Name + " added to cart"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "cart": cart})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	cart, err := h.carts.RemoveItem(c.Request.Context(), identity(c), c.Param("productId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Item removed from cart", "cart": cart})
}

// signedIn is called by the auth gateway right after a session signs in
func (h *Handler) signedIn(c *gin.Context) {
	id := identity(c)
	if !id.Authenticated() {
		h.fail(c, models.ErrUnauthorized)
		return
	}

	merged, err := h.carts.MergeCartOnSignIn(c.Request.Context(), id.SessionCartID, id.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "merged": merged})
}

func (h *Handler) saveAddress(c *gin.Context) {
	var address models.ShippingAddress
	if err := c.ShouldBindJSON(&address); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.users.SaveAddress(c.Request.Context(), identity(c), address); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Shipping address saved"})
}

func (h *Handler) savePaymentMethod(c *gin.Context) {
	var req service.PaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.users.SavePaymentMethod(c.Request.Context(), identity(c), req.Type); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Payment method saved"})
}

func (h *Handler) listMyOrders(c *gin.Context) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid page"})
			return
		}
		page = n
	}

	result, err := h.orders.ListMyOrders(c.Request.Context(), identity(c), page)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// createOrder answers 201 on success, 200 with redirectTo when a checkout step is missing
func (h *Handler) createOrder(c *gin.Context) {
	result, err := h.orders.CreateOrder(c.Request.Context(), identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	switch {
	case result.Success:
		c.JSON(http.StatusCreated, result)
	case result.IsRedirect():
		c.JSON(http.StatusOK, result)
	default:
		c.JSON(http.StatusConflict, result)
	}
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (h *Handler) createPaypalOrder(c *gin.Context) {
	remoteID, err := h.payments.CreatePaypalOrder(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "PayPal order created", "data": remoteID})
}

func (h *Handler) approvePaypalOrder(c *gin.Context) {
	var req service.ApprovePaypalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.payments.ApprovePaypalOrder(c.Request.Context(), identity(c), c.Param("id"), req.OrderID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Your order has been paid", "order": order})
}

// stripeWebhook reads the raw body: the signature covers the exact bytes sent
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "Payload too large"})
		return
	}

	outcome, err := h.payments.HandleStripeWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}

func (h *Handler) markCodOrderPaid(c *gin.Context) {
	order, err := h.payments.MarkCodOrderPaid(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Order marked as paid", "order": order})
}

func (h *Handler) markOrderDelivered(c *gin.Context) {
	order, err := h.payments.MarkOrderDelivered(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Order marked as delivered", "order": order})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"message": "Invalid request body",
		"details": err.Error(),
	})
}

// fail maps domain errors to a status and a {success:false, message} body.
// Unexpected errors are logged and hidden from the client.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(identity(c), err)
	message := err.Error()

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", util.TraceID(c.Request.Context())),
			zap.Error(err))
		message = "Internal server error"
	} else if errors.Is(err, models.ErrInvalidSignature) {
		h.logger.Warn("Webhook signature rejected", zap.String("path", c.FullPath()))
	}

	c.JSON(status, gin.H{"success": false, "message": message})
}

func statusFor(id models.Identity, err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		if id.Authenticated() {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrNoCartSession),
		errors.Is(err, models.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrPaymentValidation):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrAlreadyPaid),
		errors.Is(err, models.ErrNotPaid),
		errors.Is(err, models.ErrAlreadyDelivered),
		errors.Is(err, models.ErrEmptyCart):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

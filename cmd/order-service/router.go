package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/cart"
	"github.com/MikeMC777/storefront/internal/httpx"
	"github.com/MikeMC777/storefront/internal/order"
)

// Sentinel resources guarding the payment endpoints.
const (
	resVerifyPayment = "orders.verify_payment"
	resCheckout      = "orders.checkout"
	resInitPayment   = "payments.initialize"
)

type routerDeps struct {
	Orders      *order.Service
	Carts       *cart.Service
	Webhooks    webhookSource
	Auth        gin.HandlerFunc
	Logger      *zap.Logger
	CORSOrigins []string
	// RateLimit enables the sentinel guards; InitRateLimit must have run.
	RateLimit bool
	Swagger   bool
}

func newRouter(d routerDeps) *gin.Engine {
	log := d.Logger
	limit := func(res string) gin.HandlerFunc {
		if !d.RateLimit {
			return func(c *gin.Context) { c.Next() }
		}
		return httpx.RateLimit(res)
	}

	r := gin.New()
	r.Use(httpx.RequestID(), httpx.Logger(log), httpx.Recovery(log), httpx.CORS(d.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	if d.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.POST("/payments/paystack/webhook", paystackWebhookHandler(d.Webhooks, d.Orders, log))

	authed := r.Group("/", d.Auth)

	authed.GET("/cart", getCartHandler(d.Carts, log))
	authed.DELETE("/cart", clearCartHandler(d.Carts, log))
	authed.POST("/cart/items", addCartItemHandler(d.Carts, log))
	authed.PUT("/cart/items/:id", updateCartItemHandler(d.Carts, log))
	authed.DELETE("/cart/items/:id", removeCartItemHandler(d.Carts, log))

	authed.POST("/orders/verify-payment", limit(resVerifyPayment), verifyPaymentHandler(d.Orders, log))
	authed.POST("/orders", limit(resCheckout), createOrderHandler(d.Orders, log))
	authed.POST("/orders/legacy", createManualOrderHandler(d.Orders, log))
	authed.GET("/orders", listOrdersHandler(d.Orders, log))
	authed.GET("/orders/:id", getOrderHandler(d.Orders, log))
	authed.PUT("/orders/:id/cancel", cancelOrderHandler(d.Orders, log))

	authed.POST("/payments/initialize", limit(resInitPayment), initializePaymentHandler(d.Orders, log))

	return r
}

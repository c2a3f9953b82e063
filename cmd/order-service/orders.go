package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/auth"
	"github.com/MikeMC777/storefront/internal/order"
)

// verifyPaymentHandler godoc
// @Summary      Create an order from a verified payment
// @Description  Verifies the Paystack reference and turns the caller's cart into an order. Replays return the existing order.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      order.VerifyPaymentRequest  true  "payment reference"
// @Success      200   {object}  order.Order
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /orders/verify-payment [post]
func verifyPaymentHandler(svc *order.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in order.VerifyPaymentRequest
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequest(c, err)
			return
		}
		o, err := svc.VerifyAndCreate(c.Request.Context(), auth.UserID(c), in.Reference)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// createOrderHandler godoc
// @Summary      Checkout with a Paystack reference
// @Description  Totals are recomputed on the server from the cart, shipping method and tax rate.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      order.CreateOrderRequest  true  "checkout payload"
// @Success      201   {object}  order.Order
// @Failure      400   {object}  map[string]string
// @Router       /orders [post]
func createOrderHandler(svc *order.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in order.CreateOrderRequest
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequest(c, err)
			return
		}
		o, err := svc.CreateWithPayment(c.Request.Context(), auth.UserID(c), in)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

// createManualOrderHandler godoc
// @Summary      Create an order for offline payment
// @Tags         orders
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      order.ManualOrderRequest  true  "saved address ids"
// @Success      201   {object}  order.Order
// @Failure      400   {object}  map[string]string
// @Router       /orders/legacy [post]
func createManualOrderHandler(svc *order.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in order.ManualOrderRequest
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequest(c, err)
			return
		}
		o, err := svc.CreateManual(c.Request.Context(), auth.UserID(c), in)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

// listOrdersHandler godoc
// @Summary  List the caller's orders, newest first
// @Tags     orders
// @Produce  json
// @Security BearerAuth
// @Success  200  {array}  order.Order
// @Router   /orders [get]
func listOrdersHandler(svc *order.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.List(c.Request.Context(), auth.UserID(c))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// getOrderHandler godoc
// @Summary  Get one of the caller's orders
// @Tags     orders
// @Produce  json
// @Security BearerAuth
// @Param    id   path      string  true  "order id"
// @Success  200  {object}  order.Order
// @Failure  400  {object}  map[string]string
// @Router   /orders/{id} [get]
func getOrderHandler(svc *order.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.Get(c.Request.Context(), auth.UserID(c), c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// cancelOrderHandler godoc
// @Summary  Cancel a pending or processing order
// @Tags     orders
// @Produce  json
// @Security BearerAuth
// @Param    id   path      string  true  "order id"
// @Success  200  {object}  order.Order
// @Failure  400  {object}  map[string]string
// @Router   /orders/{id}/cancel [put]
func cancelOrderHandler(svc *order.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.Cancel(c.Request.Context(), auth.UserID(c), c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/auth"
	"github.com/MikeMC777/storefront/internal/cart"
)

// getCartHandler godoc
// @Summary  Current cart with live prices
// @Tags     cart
// @Produce  json
// @Security BearerAuth
// @Success  200  {object}  cart.Cart
// @Router   /cart [get]
func getCartHandler(svc *cart.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.Get(c.Request.Context(), auth.UserID(c))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// addCartItemHandler godoc
// @Summary  Add a product or variant to the cart
// @Tags     cart
// @Accept   json
// @Produce  json
// @Security BearerAuth
// @Param    body  body      cart.AddItemRequest  true  "item"
// @Success  201   {object}  cart.Item
// @Failure  400   {object}  map[string]string
// @Router   /cart/items [post]
func addCartItemHandler(svc *cart.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in cart.AddItemRequest
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequest(c, err)
			return
		}
		it, err := svc.Add(c.Request.Context(), auth.UserID(c), in)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, it)
	}
}

// updateCartItemHandler godoc
// @Summary  Change a line quantity; zero or less removes it
// @Tags     cart
// @Accept   json
// @Produce  json
// @Security BearerAuth
// @Param    id    path      string                  true  "cart item id"
// @Param    body  body      cart.UpdateItemRequest  true  "quantity"
// @Success  200   {object}  cart.Item
// @Success  204
// @Failure  400   {object}  map[string]string
// @Router   /cart/items/{id} [put]
func updateCartItemHandler(svc *cart.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in cart.UpdateItemRequest
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequest(c, err)
			return
		}
		it, err := svc.UpdateQuantity(c.Request.Context(), auth.UserID(c), c.Param("id"), *in.Quantity)
		if err != nil {
			writeError(c, log, err)
			return
		}
		if it == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, it)
	}
}

// removeCartItemHandler godoc
// @Summary  Remove a line
// @Tags     cart
// @Security BearerAuth
// @Param    id   path  string  true  "cart item id"
// @Success  204
// @Failure  400  {object}  map[string]string
// @Router   /cart/items/{id} [delete]
func removeCartItemHandler(svc *cart.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Remove(c.Request.Context(), auth.UserID(c), c.Param("id")); err != nil {
			writeError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// clearCartHandler godoc
// @Summary  Empty the cart
// @Tags     cart
// @Security BearerAuth
// @Success  204
// @Router   /cart [delete]
func clearCartHandler(svc *cart.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Clear(c.Request.Context(), auth.UserID(c)); err != nil {
			writeError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

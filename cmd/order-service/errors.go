package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/address"
	"github.com/MikeMC777/storefront/internal/cart"
	"github.com/MikeMC777/storefront/internal/httpx"
	"github.com/MikeMC777/storefront/internal/order"
	"github.com/MikeMC777/storefront/internal/payment"
)

type errorKind struct {
	target error
	status int
	code   string
	// detailed responses echo err.Error(); the rest answer with the sentinel text only.
	detailed bool
}

// Not-found answers 400, matching the storefront client's expectations.
var errorKinds = []errorKind{
	{order.ErrEmptyCart, http.StatusBadRequest, "empty_cart", false},
	{order.ErrNotCancellable, http.StatusBadRequest, "order_not_cancellable", false},
	{payment.ErrVerificationFailed, http.StatusBadRequest, "payment_verification_failed", false},
	{payment.ErrInitializationFailed, http.StatusBadRequest, "payment_verification_failed", false},
	{order.ErrNotFound, http.StatusBadRequest, "not_found", false},
	{cart.ErrItemNotFound, http.StatusBadRequest, "not_found", false},
	{cart.ErrProductNotFound, http.StatusBadRequest, "not_found", false},
	{cart.ErrVariantNotFound, http.StatusBadRequest, "not_found", false},
	{address.ErrNotFound, http.StatusBadRequest, "not_found", false},
	{order.ErrValidation, http.StatusBadRequest, "invalid_request", true},
	{cart.ErrInvalidQuantity, http.StatusBadRequest, "invalid_request", false},
}

// writeError maps domain errors to responses. Anything unrecognised is logged and answered with 500.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			msg := k.target.Error()
			if k.detailed {
				msg = err.Error()
			}
			if k.target == payment.ErrVerificationFailed || k.target == payment.ErrInitializationFailed {
				log.Info("payment rejected", zap.String("rid", httpx.RID(c)), zap.Error(err))
			}
			httpx.Error(c, k.status, k.code, msg)
			return
		}
	}
	log.Error("request failed", zap.String("rid", httpx.RID(c)), zap.String("path", c.FullPath()), zap.Error(err))
	httpx.Error(c, http.StatusInternalServerError, "internal_error", "internal server error")
}

func badRequest(c *gin.Context, err error) {
	httpx.Error(c, http.StatusBadRequest, "invalid_request", err.Error())
}

package main

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/auth"
	"github.com/MikeMC777/storefront/internal/httpx"
	"github.com/MikeMC777/storefront/internal/order"
	"github.com/MikeMC777/storefront/internal/payment"
)

const maxWebhookBody = 1 << 20

type webhookSource interface {
	ParseWebhook(body []byte, signature string) (*payment.WebhookEvent, error)
	ChargeRecord(ev *payment.WebhookEvent) (*payment.Record, error)
}

// initializePaymentHandler godoc
// @Summary      Open a Paystack transaction for the cart
// @Description  The amount is computed on the server; shipping, tax and the user id travel in the transaction metadata.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      order.InitializePaymentRequest  true  "payer"
// @Success      200   {object}  payment.Initialization
// @Failure      400   {object}  map[string]string
// @Failure      429   {object}  map[string]string
// @Router       /payments/initialize [post]
func initializePaymentHandler(svc *order.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in order.InitializePaymentRequest
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequest(c, err)
			return
		}
		out, err := svc.InitializePayment(c.Request.Context(), auth.UserID(c), in)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// paystackWebhookHandler godoc
// @Summary      Paystack webhook
// @Description  Signed with HMAC-SHA512 in x-paystack-signature. charge.success events are reconciled into orders.
// @Tags         payments
// @Accept       json
// @Success      200
// @Failure      401  {object}  map[string]string
// @Router       /payments/paystack/webhook [post]
func paystackWebhookHandler(src webhookSource, svc *order.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			badRequest(c, err)
			return
		}
		ev, err := src.ParseWebhook(body, c.GetHeader(payment.SignatureHeader))
		if err != nil {
			if errors.Is(err, payment.ErrBadSignature) {
				httpx.Error(c, http.StatusUnauthorized, "unauthenticated", "invalid signature")
				return
			}
			badRequest(c, err)
			return
		}

		// Paystack retries anything but 200, so every authenticated delivery is acknowledged.
		if ev.Event != payment.EventChargeSuccess {
			c.Status(http.StatusOK)
			return
		}
		ref, uid := ev.Reference()
		rec, err := src.ChargeRecord(ev)
		if err != nil {
			log.Warn("webhook charge rejected", zap.String("reference", ref), zap.Error(err))
			c.Status(http.StatusOK)
			return
		}
		o, err := svc.ReconcileVerified(c.Request.Context(), uid, rec)
		if err != nil {
			log.Warn("webhook reconciliation failed", zap.String("reference", ref), zap.String("user_id", uid), zap.Error(err))
			c.Status(http.StatusOK)
			return
		}
		log.Info("webhook reconciled", zap.String("reference", ref), zap.String("order_id", o.ID))
		c.Status(http.StatusOK)
	}
}

package handler

import (
	"errors"
	"io"
	"net/http"

	billingapp "github.com/billing/backend/internal/application/billing"
	"github.com/billing/backend/internal/domain/billing"
	"github.com/gin-gonic/gin"
)

// Maximum webhook payload size (64KB - provider webhooks are typically small)
const maxWebhookPayloadSize = 65536

// WebhookHandler receives payment provider webhook deliveries. These
// endpoints are called by the provider and do not carry tenant auth; the
// signature over the raw body is the only trust anchor.
type WebhookHandler struct {
	BaseHandler
	reconciler *billingapp.Reconciler
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(reconciler *billingapp.Reconciler) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
	}
}

// WebhookResponse represents the response for a provider webhook delivery
//
//	@Description	Payment provider webhook response
type WebhookResponse struct {
	Received bool   `json:"received" example:"true"`
	Outcome  string `json:"outcome,omitempty" example:"applied"`
	Message  string `json:"message,omitempty"`
}

// HandlePaymentWebhook godoc
//
//	@ID				handlePaymentWebhook
//	@Summary		Handle payment provider webhook
//	@Description	Verify and reconcile asynchronous payment events from the provider
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			Stripe-Signature	header		string			true	"Webhook signature"
//	@Success		200					{object}	WebhookResponse	"Event reconciled (or terminal no-op)"
//	@Failure		400					{object}	WebhookResponse	"Invalid request or signature"
//	@Failure		413					{object}	WebhookResponse	"Payload too large"
//	@Failure		500					{object}	WebhookResponse	"Transient failure, provider should redeliver"
//	@Router			/webhooks/payment [post]
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	// The raw body is required for signature verification
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, WebhookResponse{
			Received: false,
			Message:  "Failed to read request body",
		})
		return
	}

	if len(payload) > maxWebhookPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{
			Received: false,
			Message:  "Payload too large",
		})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		c.JSON(http.StatusBadRequest, WebhookResponse{
			Received: false,
			Message:  "Missing signature header",
		})
		return
	}

	result, err := h.reconciler.ProcessWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billingapp.ErrWebhookVerificationFailed),
			errors.Is(err, billingapp.ErrWebhookInvalidPayload):
			// Unverifiable or malformed: redelivery of the same bytes can
			// never succeed, reject it outright
			c.JSON(http.StatusBadRequest, WebhookResponse{
				Received: false,
				Message:  "Webhook verification failed",
			})
		case errors.Is(err, billing.ErrRetryable):
			// Transient: a non-2xx tells the provider to redeliver
			c.JSON(http.StatusInternalServerError, WebhookResponse{
				Received: false,
				Message:  "Transient failure, please redeliver",
			})
		default:
			c.JSON(http.StatusInternalServerError, WebhookResponse{
				Received: false,
				Message:  "Webhook processing failed",
			})
		}
		return
	}

	// Terminal outcomes acknowledge the delivery regardless of whether the
	// event mutated anything
	c.JSON(http.StatusOK, WebhookResponse{
		Received: true,
		Outcome:  string(result.Outcome),
		Message:  result.Reason,
	})
}

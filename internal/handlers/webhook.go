// internal/handlers/webhook.go
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/keyhaven/licensing-backend/internal/models"
	"github.com/keyhaven/licensing-backend/internal/services"
	"github.com/keyhaven/licensing-backend/internal/store"
	"github.com/keyhaven/licensing-backend/internal/utils"
)

// WebhookHandler is the provider-facing ingress. Acknowledgement policy:
// any business outcome, including unknown correlation ids and unrecognized
// event kinds, is acknowledged with 200 so the provider stops retrying.
// Only infrastructure failures return 500 and trigger a provider retry.
type WebhookHandler struct {
	normalizer *services.ProviderNormalizer
	router     *services.EventRouter
	store      store.EntityStore
	archive    *services.ArchiveService
}

func NewWebhookHandler(normalizer *services.ProviderNormalizer, router *services.EventRouter, entityStore store.EntityStore, archive *services.ArchiveService) *WebhookHandler {
	return &WebhookHandler{
		normalizer: normalizer,
		router:     router,
		store:      entityStore,
		archive:    archive,
	}
}

// POST /webhooks/:provider
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	provider, ok := parseProvider(c.Param("provider"))
	if !ok {
		utils.BadRequestResponse(c, "Unknown payment provider", nil)
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		utils.BadRequestResponse(c, "Failed to read request body", nil)
		return
	}

	event, err := h.normalizer.Normalize(provider, payload)
	if err != nil {
		var unrecognized *services.UnrecognizedPayloadError
		if errors.As(err, &unrecognized) {
			// Malformed or unmappable payloads are acknowledged, not retried.
			logrus.WithFields(logrus.Fields{
				"provider":   provider,
				"event_type": unrecognized.EventType,
			}).Warn("Unrecognized webhook payload")

			h.recordAudit(c, &services.NormalizedEvent{
				Provider:  provider,
				EventType: unrecognized.EventType,
			}, payload, &services.ProcessResult{Message: "unrecognized payload"})

			utils.SuccessResponse(c, gin.H{
				"processed": false,
				"message":   "ignored",
			})
			return
		}
		utils.BadRequestResponse(c, "Malformed webhook payload", nil)
		return
	}

	if h.archive != nil {
		go func(provider models.PaymentProvider, eventID string, payload []byte) {
			if err := h.archive.ArchivePayload(provider, eventID, payload); err != nil {
				logrus.WithError(err).Warn("Failed to archive webhook payload")
			}
		}(provider, event.EventID, payload)
	}

	result, err := h.router.Route(c.Request.Context(), event)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"provider":   provider,
			"event_id":   event.EventID,
			"event_type": event.EventType,
		}).Error("Webhook processing failed")
		utils.InternalErrorResponse(c, "Webhook processing failed")
		return
	}

	h.recordAudit(c, event, payload, result)

	c.JSON(http.StatusOK, gin.H{
		"success": result.Success,
		"data":    result,
	})
}

func (h *WebhookHandler) recordAudit(c *gin.Context, event *services.NormalizedEvent, payload []byte, result *services.ProcessResult) {
	var raw models.JSONB
	_ = raw.Scan(payload)

	audit := &models.WebhookEvent{
		Provider:        event.Provider,
		ProviderEventID: event.EventID,
		EventType:       event.EventType,
		Payload:         raw,
		Processed:       result.Processed,
		ResultMessage:   result.Message,
	}
	if err := h.store.RecordWebhookEvent(c.Request.Context(), audit); err != nil {
		logrus.WithError(err).Warn("Failed to record webhook audit entry")
	}
}

func parseProvider(raw string) (models.PaymentProvider, bool) {
	switch models.PaymentProvider(raw) {
	case models.ProviderStripe:
		return models.ProviderStripe, true
	case models.ProviderPayPal:
		return models.ProviderPayPal, true
	default:
		return "", false
	}
}

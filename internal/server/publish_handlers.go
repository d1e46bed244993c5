package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/footprint/internal/content"
	"github.com/MarcoPoloResearchLab/footprint/internal/footprints"
	"github.com/MarcoPoloResearchLab/footprint/internal/payments"
	"github.com/MarcoPoloResearchLab/footprint/internal/publish"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBytes = 64 << 10

type checkoutRequestPayload struct {
	Slug string `json:"slug"`
}

type checkoutResponsePayload struct {
	TransactionID string `json:"transaction_id"`
	CheckoutURL   string `json:"checkout_url"`
}

func (h *httpHandler) handleCheckout(c *gin.Context) {
	if h.checkout == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "checkout_unavailable"})
		return
	}
	var request checkoutRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	slug, err := footprints.NewSlug(request.Slug)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug"})
		return
	}
	available, err := h.pages.SlugAvailable(c.Request.Context(), slug)
	if err != nil {
		h.respondServiceError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if !available {
		c.JSON(http.StatusConflict, gin.H{"error": string(publish.ReasonSlugTaken)})
		return
	}

	session, err := h.checkout.CreateCheckout(c.Request.Context(), payments.CheckoutRequest{
		Slug:        slug.String(),
		AmountCents: h.checkoutSettings.PriceCents,
		Currency:    h.checkoutSettings.Currency,
		SuccessURL:  h.checkoutSettings.SuccessURL,
		CancelURL:   h.checkoutSettings.CancelURL,
	})
	if err != nil {
		h.logger.Error("checkout creation failed", zap.String("slug", slug.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "checkout_failed"})
		return
	}
	c.JSON(http.StatusCreated, checkoutResponsePayload{
		TransactionID: session.TransactionID.String(),
		CheckoutURL:   session.URL,
	})
}

func (h *httpHandler) handlePaymentWebhook(c *gin.Context) {
	if h.verifier == nil || h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhooks_unavailable"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes+1))
	if err != nil || len(body) == 0 || len(body) > maxWebhookBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	event, err := h.verifier.Verify(string(body))
	if err != nil {
		h.logger.Warn("payment notification rejected", zap.Error(err))
		status := http.StatusUnauthorized
		if errors.Is(err, payments.ErrInvalidEvent) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "invalid_notification"})
		return
	}

	stored, err := h.events.Save(c.Request.Context(), event)
	if err != nil {
		h.respondServiceError(c, http.StatusInternalServerError, "event_store_failed", err)
		return
	}
	h.logger.Info("payment notification processed",
		zap.String("transaction_id", stored.TransactionID.String()),
		zap.String("status", stored.Status.String()))
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": stored.TransactionID.String(),
		"status":         stored.Status.String(),
	})
}

type publishRequestPayload struct {
	TransactionID string        `json:"transaction_id"`
	Slug          string        `json:"slug"`
	Draft         publish.Draft `json:"draft"`
}

type publishResponsePayload struct {
	SerialNumber int64          `json:"serial_number"`
	Slug         string         `json:"slug"`
	OwnerToken   string         `json:"owner_token"`
	ExpiresIn    int64          `json:"expires_in"`
	FirstPublish bool           `json:"first_publish"`
	Tiles        []content.Tile `json:"tiles"`
}

func (h *httpHandler) handlePublish(c *gin.Context) {
	var request publishRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(publish.ReasonInvalidDraft), "message": publish.ReasonInvalidDraft.Message()})
		return
	}

	result, err := h.publisher.Publish(c.Request.Context(), publish.Request{
		TransactionID: strings.TrimSpace(request.TransactionID),
		Slug:          request.Slug,
		Draft:         request.Draft,
	})
	if err != nil {
		h.respondPublishError(c, err)
		return
	}

	token, expiresIn, err := h.tokens.IssueOwnerToken(result.SerialNumber.Int64(), result.Slug.String())
	if err != nil {
		h.logger.Error("owner token issuance failed", zap.String("slug", result.Slug.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	h.realtime.Publish(RealtimeMessage{
		Slug:         result.Slug.String(),
		EventType:    RealtimeEventTilesChanged,
		SerialNumber: result.SerialNumber.Int64(),
		TileIDs:      tileIDs(result.Tiles),
		Timestamp:    time.Now().UTC(),
	})

	status := http.StatusOK
	if result.FirstPublish {
		status = http.StatusCreated
	}
	c.JSON(status, publishResponsePayload{
		SerialNumber: result.SerialNumber.Int64(),
		Slug:         result.Slug.String(),
		OwnerToken:   token,
		ExpiresIn:    expiresIn,
		FirstPublish: result.FirstPublish,
		Tiles:        nonNilTiles(result.Tiles),
	})
}

func (h *httpHandler) respondPublishError(c *gin.Context, err error) {
	var abortErr *publish.AbortError
	if !errors.As(err, &abortErr) {
		h.respondServiceError(c, http.StatusInternalServerError, string(publish.ReasonStoreWriteFailure), err)
		return
	}
	payload := gin.H{
		"error":     string(abortErr.Reason),
		"message":   abortErr.Reason.Message(),
		"retryable": abortErr.Retryable(),
	}
	var coded serviceCoder
	if errors.As(abortErr.Err, &coded) {
		payload["code"] = coded.Code()
	}
	c.JSON(abortErr.Reason.HTTPStatus(), payload)
}

func tileIDs(tiles []content.Tile) []string {
	if len(tiles) == 0 {
		return nil
	}
	ids := make([]string, 0, len(tiles))
	for _, tile := range tiles {
		ids = append(ids, tile.ID)
	}
	return ids
}

func nonNilTiles(tiles []content.Tile) []content.Tile {
	if tiles == nil {
		return []content.Tile{}
	}
	return tiles
}

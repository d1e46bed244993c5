package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/footprint/internal/auth"
	"github.com/MarcoPoloResearchLab/footprint/internal/content"
	"github.com/MarcoPoloResearchLab/footprint/internal/footprints"
	"github.com/MarcoPoloResearchLab/footprint/internal/media"
	"github.com/MarcoPoloResearchLab/footprint/internal/payments"
	"github.com/MarcoPoloResearchLab/footprint/internal/publish"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ownerContextKey     = "footprint_owner"
	footprintContextKey = "footprint_page"
)

var (
	errMissingPublisher   = errors.New("publish coordinator dependency required")
	errMissingPages       = errors.New("footprint repository dependency required")
	errMissingTiles       = errors.New("content store dependency required")
	errMissingOwnerTokens = errors.New("owner token dependency required")
)

// Publisher runs the publish pipeline.
type Publisher interface {
	Publish(ctx context.Context, request publish.Request) (publish.Result, error)
}

// PageStore reads published pages.
type PageStore interface {
	FindBySlug(ctx context.Context, slug footprints.Slug) (footprints.Footprint, bool, error)
	SlugAvailable(ctx context.Context, slug footprints.Slug) (bool, error)
}

// TileStore edits the tiles of a published page.
type TileStore interface {
	List(ctx context.Context, footprintID int64) ([]content.Tile, error)
	Add(ctx context.Context, footprintID int64, descriptor content.Descriptor) (content.Tile, error)
	Delete(ctx context.Context, footprintID int64, tileID string) error
	Move(ctx context.Context, footprintID int64, tileID string, newIndex int) ([]content.Tile, error)
}

// OwnerTokens issues and checks owner edit tokens.
type OwnerTokens interface {
	IssueOwnerToken(serialNumber int64, slug string) (string, int64, error)
	Authorize(tokenString, slug string) (auth.Owner, error)
}

// CheckoutGateway opens processor checkout sessions.
type CheckoutGateway interface {
	CreateCheckout(ctx context.Context, checkout payments.CheckoutRequest) (payments.Checkout, error)
}

// EventVerifier authenticates processor notifications.
type EventVerifier interface {
	Verify(rawToken string) (payments.Event, error)
}

// EventRecorder stores verified notifications.
type EventRecorder interface {
	Save(ctx context.Context, event payments.Event) (payments.Event, error)
}

// MediaUploader stores uploaded media files.
type MediaUploader interface {
	Store(ctx context.Context, slug string, declaredSize int64, body io.Reader) (media.Upload, error)
	MaxUploadBytes() int64
}

// CheckoutSettings is the fixed price offered at checkout.
type CheckoutSettings struct {
	PriceCents int64
	Currency   string
	SuccessURL string
	CancelURL  string
}

// Dependencies wires the HTTP surface. Checkout, EventVerifier with EventRecorder, and
// Uploader are optional; their routes answer 503 when unset.
type Dependencies struct {
	Publisher         Publisher
	Pages             PageStore
	Tiles             TileStore
	OwnerTokens       OwnerTokens
	Checkout          CheckoutGateway
	CheckoutSettings  CheckoutSettings
	EventVerifier     EventVerifier
	EventRecorder     EventRecorder
	Uploader          MediaUploader
	Realtime          *RealtimeDispatcher
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Publisher == nil {
		return nil, errMissingPublisher
	}
	if deps.Pages == nil {
		return nil, errMissingPages
	}
	if deps.Tiles == nil {
		return nil, errMissingTiles
	}
	if deps.OwnerTokens == nil {
		return nil, errMissingOwnerTokens
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		publisher:         deps.Publisher,
		pages:             deps.Pages,
		tiles:             deps.Tiles,
		tokens:            deps.OwnerTokens,
		checkout:          deps.Checkout,
		checkoutSettings:  deps.CheckoutSettings,
		verifier:          deps.EventVerifier,
		events:            deps.EventRecorder,
		uploader:          deps.Uploader,
		realtime:          realtime,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.POST("/classify", handler.handleClassify)
	router.GET("/slugs/:slug", handler.handleSlugAvailability)
	router.POST("/checkout", handler.handleCheckout)
	router.POST("/webhooks/payments", handler.handlePaymentWebhook)
	router.POST("/publish", handler.handlePublish)
	router.GET("/footprints/:slug", handler.handleGetFootprint)
	router.GET("/footprints/:slug/events", handler.handleFootprintEvents)

	owned := router.Group("/footprints/:slug")
	owned.Use(handler.authorizeOwner)
	owned.POST("/tiles", handler.handleAddTile)
	owned.DELETE("/tiles/:tileID", handler.handleDeleteTile)
	owned.POST("/tiles/:tileID/move", handler.handleMoveTile)
	owned.POST("/media", handler.handleUploadMedia)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	publisher         Publisher
	pages             PageStore
	tiles             TileStore
	tokens            OwnerTokens
	checkout          CheckoutGateway
	checkoutSettings  CheckoutSettings
	verifier          EventVerifier
	events            EventRecorder
	uploader          MediaUploader
	realtime          *RealtimeDispatcher
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func (h *httpHandler) authorizeOwner(c *gin.Context) {
	slug, err := footprints.NewSlug(c.Param("slug"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "footprint_not_found"})
		return
	}
	owner, err := h.tokens.Authorize(auth.BearerToken(c.GetHeader("Authorization")), slug.String())
	switch {
	case errors.Is(err, auth.ErrSlugNotOwned):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	case err != nil:
		h.logger.Warn("owner token validation failed", zap.String("slug", slug.String()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	page, found, err := h.pages.FindBySlug(c.Request.Context(), slug)
	if err != nil {
		h.respondServiceError(c, http.StatusInternalServerError, "lookup_failed", err)
		c.Abort()
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "footprint_not_found"})
		return
	}
	if page.SerialNumber != owner.SerialNumber {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Set(ownerContextKey, owner)
	c.Set(footprintContextKey, page)
	c.Next()
}

// serviceCoder is implemented by the ServiceError types of the domain packages.
type serviceCoder interface {
	Code() string
}

func (h *httpHandler) respondServiceError(c *gin.Context, status int, reason string, err error) {
	payload := gin.H{"error": reason}
	var coded serviceCoder
	if errors.As(err, &coded) {
		payload["code"] = coded.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("reason", reason), zap.Error(err))
	}
	c.JSON(status, payload)
}

func pageFromContext(c *gin.Context) footprints.Footprint {
	value, _ := c.Get(footprintContextKey)
	page, _ := value.(footprints.Footprint)
	return page
}

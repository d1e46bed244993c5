package server

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/footprint/internal/content"
	"github.com/MarcoPoloResearchLab/footprint/internal/footprints"
	"github.com/MarcoPoloResearchLab/footprint/internal/media"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxClassifyInputLength = 4096
	maxTileTitleLength     = 200
	multipartOverhead      = 1 << 20
)

type classifyRequestPayload struct {
	Input string `json:"input"`
}

func (h *httpHandler) handleClassify(c *gin.Context) {
	var request classifyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Input) > maxClassifyInputLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	c.JSON(http.StatusOK, content.Classify(request.Input))
}

func (h *httpHandler) handleSlugAvailability(c *gin.Context) {
	slug, err := footprints.NewSlug(c.Param("slug"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug", "available": false})
		return
	}
	available, err := h.pages.SlugAvailable(c.Request.Context(), slug)
	if err != nil {
		h.respondServiceError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slug": slug.String(), "available": available})
}

type footprintResponsePayload struct {
	SerialNumber int64              `json:"serial_number"`
	Slug         string             `json:"slug"`
	Primary      bool               `json:"primary"`
	Profile      footprints.Profile `json:"profile"`
	Tiles        []content.Tile     `json:"tiles"`
	UpdatedAt    int64              `json:"updated_at_s"`
}

func (h *httpHandler) handleGetFootprint(c *gin.Context) {
	slug, err := footprints.NewSlug(c.Param("slug"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "footprint_not_found"})
		return
	}
	page, found, err := h.pages.FindBySlug(c.Request.Context(), slug)
	if err != nil {
		h.respondServiceError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if !found || !page.Published {
		c.JSON(http.StatusNotFound, gin.H{"error": "footprint_not_found"})
		return
	}
	tiles, err := h.tiles.List(c.Request.Context(), page.ID)
	if err != nil {
		h.respondServiceError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	c.JSON(http.StatusOK, footprintResponsePayload{
		SerialNumber: page.SerialNumber,
		Slug:         page.Slug,
		Primary:      page.IsPrimary(),
		Profile:      page.Profile(),
		Tiles:        nonNilTiles(tiles),
		UpdatedAt:    page.UpdatedAtSeconds,
	})
}

type addTileRequestPayload struct {
	Input string `json:"input"`
	Title string `json:"title"`
}

func (h *httpHandler) handleAddTile(c *gin.Context) {
	page := pageFromContext(c)
	var request addTileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		len(request.Input) > maxClassifyInputLength ||
		utf8.RuneCountInString(request.Title) > maxTileTitleLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	descriptor := content.Classify(request.Input).WithTitle(request.Title)
	h.addTile(c, page, descriptor)
}

func (h *httpHandler) handleUploadMedia(c *gin.Context) {
	if h.uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media_unavailable"})
		return
	}
	page := pageFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploader.MaxUploadBytes()+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	defer file.Close()

	upload, err := h.uploader.Store(c.Request.Context(), page.Slug, fileHeader.Size, file)
	switch {
	case errors.Is(err, media.ErrUploadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload_too_large"})
		return
	case errors.Is(err, media.ErrUnsupportedMedia), errors.Is(err, media.ErrEmptyUpload):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported_media"})
		return
	case err != nil:
		h.logger.Error("media upload failed", zap.String("slug", page.Slug), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload_failed"})
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if utf8.RuneCountInString(title) > maxTileTitleLength {
		title = ""
	}
	h.addTile(c, page, content.Classify(upload.URL).WithTitle(title))
}

func (h *httpHandler) addTile(c *gin.Context, page footprints.Footprint, descriptor content.Descriptor) {
	tile, err := h.tiles.Add(c.Request.Context(), page.ID, descriptor)
	switch {
	case errors.Is(err, content.ErrTooManyTiles):
		h.respondServiceError(c, http.StatusConflict, "tile_limit", err)
		return
	case err != nil:
		h.respondServiceError(c, http.StatusInternalServerError, "add_failed", err)
		return
	}
	h.broadcastTiles(page, []string{tile.ID})
	c.JSON(http.StatusCreated, tile)
}

func (h *httpHandler) handleDeleteTile(c *gin.Context) {
	page := pageFromContext(c)
	tileID := c.Param("tileID")
	err := h.tiles.Delete(c.Request.Context(), page.ID, tileID)
	switch {
	case errors.Is(err, content.ErrTileNotFound):
		h.respondServiceError(c, http.StatusNotFound, "tile_not_found", err)
		return
	case err != nil:
		h.respondServiceError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	h.broadcastTiles(page, []string{tileID})
	c.Status(http.StatusNoContent)
}

type moveTileRequestPayload struct {
	Index *int `json:"index"`
}

func (h *httpHandler) handleMoveTile(c *gin.Context) {
	page := pageFromContext(c)
	var request moveTileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Index == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tiles, err := h.tiles.Move(c.Request.Context(), page.ID, c.Param("tileID"), *request.Index)
	switch {
	case errors.Is(err, content.ErrTileNotFound):
		h.respondServiceError(c, http.StatusNotFound, "tile_not_found", err)
		return
	case err != nil:
		h.respondServiceError(c, http.StatusInternalServerError, "move_failed", err)
		return
	}
	h.broadcastTiles(page, tileIDs(tiles))
	c.JSON(http.StatusOK, gin.H{"tiles": nonNilTiles(tiles)})
}

func (h *httpHandler) broadcastTiles(page footprints.Footprint, ids []string) {
	h.realtime.Publish(RealtimeMessage{
		Slug:         page.Slug,
		EventType:    RealtimeEventTilesChanged,
		SerialNumber: page.SerialNumber,
		TileIDs:      ids,
		Timestamp:    time.Now().UTC(),
	})
}

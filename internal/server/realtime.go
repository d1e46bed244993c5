package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/footprint/internal/footprints"
	"github.com/MarcoPoloResearchLab/footprint/internal/publish"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	RealtimeEventFootprintPublished = "footprint-published"
	RealtimeEventTilesChanged       = "tiles-changed"
	realtimeEventHeartbeat          = "heartbeat"
	realtimeSourceBackend           = "footprint-api"

	defaultHeartbeatInterval = 25 * time.Second
)

// RealtimeMessage is one page event. Slug addresses the subscribers.
type RealtimeMessage struct {
	Slug         string
	EventType    string
	SerialNumber int64
	TileIDs      []string
	Timestamp    time.Time
}

// RealtimeDispatcher fans page events out to in-process subscribers. Slow subscribers drop
// messages instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers for events of slug until ctx ends or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, slug string) (<-chan RealtimeMessage, func()) {
	if slug == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(slug, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(slug, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Slug == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Slug]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the active subscribers of slug.
func (d *RealtimeDispatcher) SubscriberCount(slug string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[slug])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(slug string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[slug]; !ok {
		d.subscribers[slug] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[slug][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(slug string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[slug]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, slug)
		}
	}
	d.mu.Unlock()
}

// PublishNotifier forwards first publishes to the dispatcher.
type PublishNotifier struct {
	dispatcher *RealtimeDispatcher
	logger     *zap.Logger
}

// NewPublishNotifier adapts the dispatcher to publish.Notifier.
func NewPublishNotifier(dispatcher *RealtimeDispatcher, logger *zap.Logger) *PublishNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishNotifier{dispatcher: dispatcher, logger: logger}
}

// FootprintPublished implements publish.Notifier.
func (n *PublishNotifier) FootprintPublished(_ context.Context, result publish.Result) {
	n.logger.Info("welcome notice sent",
		zap.Int64("serial_number", result.SerialNumber.Int64()),
		zap.String("slug", result.Slug.String()))
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Publish(RealtimeMessage{
		Slug:         result.Slug.String(),
		EventType:    RealtimeEventFootprintPublished,
		SerialNumber: result.SerialNumber.Int64(),
		TileIDs:      tileIDs(result.Tiles),
		Timestamp:    time.Now().UTC(),
	})
}

type realtimeEventPayload struct {
	Slug         string   `json:"slug"`
	SerialNumber int64    `json:"serialNumber,omitempty"`
	TileIDs      []string `json:"tileIds,omitempty"`
	Timestamp    string   `json:"timestamp"`
	Source       string   `json:"source"`
}

func (h *httpHandler) handleFootprintEvents(c *gin.Context) {
	slug, err := footprints.NewSlug(c.Param("slug"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "footprint_not_found"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, slug.String())
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				Slug:         message.Slug,
				SerialNumber: message.SerialNumber,
				TileIDs:      message.TileIDs,
				Timestamp:    message.Timestamp.UTC().Format(time.RFC3339),
				Source:       realtimeSourceBackend,
			})
			c.Writer.Flush()
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{
				Slug:      slug.String(),
				Timestamp: tick.UTC().Format(time.RFC3339),
				Source:    realtimeSourceBackend,
			})
			c.Writer.Flush()
		}
	}
}

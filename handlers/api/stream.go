package api

import (
	"bufio"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp"

	"rentmail/relay"
	"rentmail/utils"
)

// StreamHandler attaches live connections to the relay
type StreamHandler struct {
	relay     *relay.Relay
	keepAlive time.Duration
	queueSize int
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(r *relay.Relay, keepAlive time.Duration) *StreamHandler {
	return &StreamHandler{
		relay:     r,
		keepAlive: keepAlive,
		queueSize: relay.DefaultQueueSize,
	}
}

// subscription ties one connection to one thread; release is safe to call
// from every exit path
type subscription struct {
	threadID string
	stream   *relay.Stream
	once     sync.Once
	relay    *relay.Relay
}

func (h *StreamHandler) subscribe(threadID string) (*subscription, error) {
	stream := relay.NewStream(h.queueSize)
	if err := h.relay.Subscribe(threadID, stream); err != nil {
		return nil, utils.NewAppError(fiber.StatusServiceUnavailable, "Server is shutting down", err).
			WithContext("thread", threadID)
	}
	return &subscription{threadID: threadID, stream: stream, relay: h.relay}, nil
}

func (s *subscription) release() {
	s.once.Do(func() {
		s.relay.Unsubscribe(s.threadID, s.stream)
		s.stream.Close()
	})
}

// HandleSSE streams a thread's live events as Server-Sent Events
func (h *StreamHandler) HandleSSE(c *fiber.Ctx) error {
	// The id outlives the handler inside the stream writer
	threadID := fiberutils.CopyString(c.Query("threadId"))
	if threadID == "" {
		return utils.BadRequestError("Missing threadId", nil)
	}

	sub, err := h.subscribe(threadID)
	if err != nil {
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache, no-transform")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	utils.Log.Info("SSE subscriber connected: %s (thread %s)", sub.stream.ID(), threadID)

	shutdown := c.Context().Done()
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.release()

		if err := sub.stream.ServeSSE(w, h.keepAlive, shutdown); err != nil {
			utils.Log.Debug("SSE write to %s failed: %v", sub.stream.ID(), err)
		}
		utils.Log.Info("SSE subscriber disconnected: %s (thread %s)", sub.stream.ID(), threadID)
	}))

	return nil
}

// UpgradeWebSocket rejects plain requests and requests without a thread id
func (h *StreamHandler) UpgradeWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if c.Query("threadId") == "" {
		return utils.BadRequestError("Missing threadId", nil)
	}
	return c.Next()
}

// HandleWebSocket streams a thread's live events as {"event", "data"} frames
func (h *StreamHandler) HandleWebSocket(c *websocket.Conn) {
	threadID := c.Query("threadId")

	sub, err := h.subscribe(threadID)
	if err != nil {
		_ = c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		return
	}
	defer sub.release()

	utils.Log.Info("WebSocket subscriber connected: %s (thread %s)", sub.stream.ID(), threadID)

	// The reader only watches for the client going away
	go func() {
		defer sub.release()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	keepAlive := h.keepAlive
	if keepAlive <= 0 {
		keepAlive = relay.DefaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case e := <-sub.stream.Events():
			if err := c.WriteJSON(e); err != nil {
				utils.Log.Error("Failed to send WebSocket event: %v", err)
				return
			}
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-sub.stream.Done():
			utils.Log.Info("WebSocket subscriber disconnected: %s (thread %s)", sub.stream.ID(), threadID)
			return
		}
	}
}

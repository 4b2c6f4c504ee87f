package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"TPMForge/internal/service/metrics"
	"TPMForge/internal/usecase"
	xlogger "TPMForge/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// FrameStreamHandler pushes every new frame to websocket clients on /ws.
type FrameStreamHandler struct {
	logger   *xlogger.Logger
	cycle    *usecase.ForgeCycle
	hub      *usecase.FrameHub
	upgrader websocket.Upgrader
}

func NewFrameStreamHandler(logger *xlogger.Logger, cycle *usecase.ForgeCycle, hub *usecase.FrameHub) *FrameStreamHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	metrics.Register()
	return &FrameStreamHandler{
		logger: logger,
		cycle:  cycle,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *FrameStreamHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Stream)
}

// Stream sends the current frame, then each new one until the client leaves.
func (h *FrameStreamHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	frames, cancel := h.hub.Subscribe()
	defer cancel()
	metrics.WSClients.Inc()
	defer metrics.WSClients.Dec()

	// the read loop only services control frames and notices the close
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request().Context()
	if err := h.write(conn, h.cycle.Latest(ctx)); err != nil {
		return nil
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return nil
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return nil
			}
			if err := h.write(conn, f); err != nil {
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func (h *FrameStreamHandler) write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(v); err != nil {
		metrics.WSDropped.Inc()
		h.logger.Debug("ws write failed", xlogger.Error(err))
		return err
	}
	return nil
}

package api

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/victornm/eplay/internal/channel"
	"github.com/victornm/eplay/internal/telemetry"
)

// FrameChannel is the websocket endpoint a sandboxed frame connects to.
// The frame's origin is checked against the allow-list at upgrade; an
// unlisted origin never gets a channel at all.
func (a *API) FrameChannel(c *gin.Context) {
	s, err := a.registry.Get(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if a.origins.Allow(origin) {
				return true
			}
			telemetry.ChannelDropped.WithLabelValues("origin").Inc()
			slog.Warn("api: frame origin rejected",
				"attempt", c.Param("id"),
				"origin", origin,
			)
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		return
	}
	defer conn.Close()

	origin := c.Request.Header.Get("Origin")
	frame := &wsFrame{conn: conn}
	s.SetFrame(frame)

	// A connected frame is loaded content: the shell leaves Loading and
	// the back control becomes visible.
	s.ContentLoaded()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("api: frame channel closed",
					"attempt", s.AttemptID(),
					"error", err,
				)
			}
			return
		}

		m, err := channel.Decode(data)
		if err != nil {
			if stderrors.Is(err, channel.ErrUnknownMessage) {
				// Forward compatibility: drop without effect.
				telemetry.ChannelDropped.WithLabelValues("unknown").Inc()
				continue
			}
			continue
		}

		m.Origin = origin
		s.HandleFrameMessage(c.Request.Context(), m)
	}
}

// wsFrame is the shell's sending side of one websocket channel.
type wsFrame struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (f *wsFrame) Send(_ context.Context, m channel.Message) error {
	b, err := channel.Encode(m)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.conn.WriteMessage(websocket.TextMessage, b)
}

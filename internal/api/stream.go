package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// streamUpgrader upgrades the session list view's read-only terminal
// relay, grounded on the teacher's TerminalHandler WS pattern: no JSON
// framing, each snapshot sent as one text frame of the rendered screen
// lines joined by newlines, larger buffers for TUI redraws.
var streamUpgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkWebSocketOrigin,
}

// checkWebSocketOrigin allows same-origin and localhost connections,
// rejecting everything else to prevent cross-site WebSocket hijacking.
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := originURL.Hostname()
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	return host == strings.Split(r.Host, ":")[0]
}

// streamTerminal relays CaptureEngine snapshots of a session's main pane to
// a read-only WebSocket client, for the web UI's session list view (the
// spec's Non-goal is replacing the full terminal viewer; this is a thin
// status-glance feed, not interactive input).
func (s *Server) streamTerminal(c *gin.Context) {
	sessionID := c.Param("id")
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondErr(c, err)
		return
	}

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("sessionId", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := s.engine.Capture(ctx, s.driver, sess.Main.MuxPaneID, 200)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(gorillaws.TextMessage, []byte(strings.Join(state.RawLines, "\n"))); err != nil {
				return
			}
		}
	}
}

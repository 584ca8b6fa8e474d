// ABOUTME: WebSocket endpoint binding live client connections to the presence registry
// ABOUTME: Read pump keeps the socket alive; write pump drains the connection outbox as JSON frames

package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/huddle-gateway/internal/presence"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingInterval   = (wsPongWait * 9) / 10
	wsMaxMessageSize = 64 * 1024
)

// makeUpgrader creates the WebSocket upgrader. Clients authenticate with a
// bearer JWT, so cross-origin handshakes carry no ambient credentials.
func makeUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// socketSet tracks open sockets so Shutdown can close them.
type socketSet struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func (s *socketSet) add(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[*websocket.Conn]struct{})
	}
	s.conns[c] = struct{}{}
}

func (s *socketSet) remove(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// closeSockets closes every tracked socket, which unblocks their read pumps.
func (g *Gateway) closeSockets() {
	g.sockets.mu.Lock()
	defer g.sockets.mu.Unlock()
	for c := range g.sockets.conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
}

// handleWebSocket handles GET /ws. The connection is registered with the
// presence registry and joined to its rooms, then lives until either side
// closes it.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity := identityOf(r)

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "identity", identity, "error", err)
		return
	}
	g.sockets.add(ws)
	defer g.sockets.remove(ws)
	defer ws.Close()

	conn := presence.NewConnection(identity)
	if err := g.conversation.Connect(r.Context(), conn); err != nil {
		g.logger.Error("failed to connect client", "identity", identity, "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "could not join conversations"),
			time.Now().Add(wsWriteWait))
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writePump(ws, conn)
	}()

	g.readPump(ws, conn)

	g.conversation.Disconnect(conn)
	conn.Close()
	<-writerDone
}

// readPump consumes inbound frames until the socket fails. Clients send
// through the REST API, so inbound payloads are discarded; reading keeps
// pong handling and close detection working.
func (g *Gateway) readPump(ws *websocket.Conn, conn *presence.Connection) {
	ws.SetReadLimit(wsMaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket read error", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

// writePump sends outbox events as JSON frames and pings on an interval.
// It returns when the outbox is closed or a write fails; a failed write
// closes the socket so the read pump exits too.
func (g *Gateway) writePump(ws *websocket.Conn, conn *presence.Connection) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-conn.Outbox():
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				g.logger.Debug("websocket write failed", "conn_id", conn.ID(), "error", err)
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/studiocore/control-plane/pkg/auth"
	"github.com/studiocore/control-plane/pkg/config"
)

// clientFrame is the only inbound shape the hub understands; every
// other inbound text frame (malformed JSON, an unrecognized type) is
// ignored rather than closing the connection.
type clientFrame struct {
	Type string `json:"type"`
}

// clientConn is one accepted client WebSocket connection. A single
// user may hold several (multiple tabs/devices), so fan-out always
// walks a slice.
type clientConn struct {
	userID int64
	conn   *websocket.Conn
	sendMu sync.Mutex
}

func (c *clientConn) send(ctx context.Context, v any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return wsjson.Write(ctx, c.conn, v)
}

// Hub implements notify.ClientPusher: it accepts inbound client
// WebSocket connections at /ws, tracks them per user, and fans out
// pushes the notification router hands it. It also answers broadcast
// and shutdown from operational code (a system.maintenance event, for
// instance, reaches every connected client regardless of per-user
// targeting).
type Hub struct {
	auth *auth.Service
	cfg  config.WorkerHubConfig
	log  *slog.Logger

	mu     sync.RWMutex
	byUser map[int64][]*clientConn

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewHub(authSvc *auth.Service, cfg config.WorkerHubConfig) *Hub {
	return &Hub{
		auth:   authSvc,
		cfg:    cfg,
		log:    slog.With("component", "client_hub"),
		byUser: make(map[int64][]*clientConn),
		stopCh: make(chan struct{}),
	}
}

// Serve handles the /ws upgrade: it authenticates with a bearer access
// token (Authorization header, or the access_token query parameter),
// accepts the socket, and runs the connection's lifetime (heartbeat +
// read loop) until it closes. API keys are not accepted here.
func (h *Hub) Serve(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("access_token")
	}
	if token == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	principal, err := h.auth.VerifyAccessToken(token)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cc := &clientConn{userID: principal.UserID, conn: conn}

	h.add(cc)
	defer h.remove(cc)

	h.run(c.Request.Context(), cc)
}

func (h *Hub) add(cc *clientConn) {
	h.mu.Lock()
	h.byUser[cc.userID] = append(h.byUser[cc.userID], cc)
	h.mu.Unlock()
}

func (h *Hub) remove(cc *clientConn) {
	h.mu.Lock()
	conns := h.byUser[cc.userID]
	for i, existing := range conns {
		if existing == cc {
			h.byUser[cc.userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.byUser[cc.userID]) == 0 {
		delete(h.byUser, cc.userID)
	}
	h.mu.Unlock()
	_ = cc.conn.Close(websocket.StatusNormalClosure, "connection closed")
}

// run reads frames until the socket closes. Every inbound frame is
// ignored except {"type":"ping"}, which is answered with
// {"type":"pong"}; malformed or unrecognized frames are dropped
// without closing the connection. A ping ticker at
// cfg.HeartbeatInterval keeps intermediate proxies from idling the
// connection out.
func (h *Hub) run(ctx context.Context, cc *clientConn) {
	h.wg.Add(1)
	defer h.wg.Done()

	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	readErrCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := cc.conn.Read(ctx)
			if err != nil {
				readErrCh <- err
				return
			}
			var frame clientFrame
			if json.Unmarshal(data, &frame) != nil {
				continue
			}
			if frame.Type == "ping" {
				if err := cc.send(ctx, clientFrame{Type: "pong"}); err != nil {
					h.log.Warn("pong reply failed", "user_id", cc.userID, "error", err)
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			_ = cc.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-readErrCh:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := cc.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// PushToUser implements notify.ClientPusher: it fans message out to
// every connection the user currently holds. A send failure on one
// connection never blocks delivery to the others.
func (h *Hub) PushToUser(ctx context.Context, userID int64, message any) error {
	h.mu.RLock()
	conns := append([]*clientConn(nil), h.byUser[userID]...)
	h.mu.RUnlock()

	for _, cc := range conns {
		if err := cc.send(ctx, message); err != nil {
			h.log.Warn("push to client failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

// Broadcast sends message to every connected client regardless of
// user, for system-wide notices.
func (h *Hub) Broadcast(ctx context.Context, message any) {
	h.mu.RLock()
	var all []*clientConn
	for _, conns := range h.byUser {
		all = append(all, conns...)
	}
	h.mu.RUnlock()

	for _, cc := range all {
		if err := cc.send(ctx, message); err != nil {
			h.log.Warn("broadcast to client failed", "user_id", cc.userID, "error", err)
		}
	}
}

// ConnectionCount reports how many client sockets are currently open,
// for the health endpoint.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.byUser {
		n += len(conns)
	}
	return n
}

// Shutdown closes every connection and waits for their goroutines to
// observe the stop signal.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

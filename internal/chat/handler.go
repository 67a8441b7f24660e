package chat

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	myMiddleware "go-livechat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the widget is embedded on arbitrary storefront origins
	},
}

// HandlerConfig controls per-socket policy.
type HandlerConfig struct {
	// RequireAdminAuth rejects init{role:admin} unless the upgrade request
	// carried a valid token.
	RequireAdminAuth bool
	RateLimit        rate.Limit
	RateBurst        int
	Logger           *slog.Logger
}

type Handler struct {
	hub *Hub
	cfg HandlerConfig
	log *slog.Logger
}

func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{hub: hub, cfg: cfg, log: log}
}

// ServeWs upgrades the request; the socket's role is decided by its first frame.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	_, authenticated := r.Context().Value(myMiddleware.AgentKey).(string)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:          h.hub,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		id:           uuid.NewString(),
		adminAllowed: authenticated || !h.cfg.RequireAdminAuth,
		log:          h.log.With("conn", conn.RemoteAddr().String()),
	}
	if h.cfg.RateLimit > 0 {
		client.limiter = rate.NewLimiter(h.cfg.RateLimit, max(h.cfg.RateBurst, 1))
	}

	go client.WritePump()
	go client.ReadPump()
}

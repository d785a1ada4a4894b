package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// LAN clients connect from file:// shells and device-local origins;
	// authentication happens on the channel, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewRouter wires the websocket endpoint plus the small HTTP surface around
// it: health and metrics. Address identity comes from the TCP peer, so no
// RealIP middleware here.
func NewRouter(hub *Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	// Connection churn limiter; the per-event ceiling lives in the reader.
	r.Use(httprate.LimitByIP(60, 1*time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", hub.serveWS)

	return r
}

// serveWS upgrades the request and hands the connection to the hub. The
// reader and writer goroutines live for the life of the socket.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}
	c := newClient(h, conn, r.RemoteAddr)
	h.register <- c
	go c.writeLoop()
	go c.readLoop()
}

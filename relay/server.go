// Package relay is the rendezvous point for shadow sessions: a websocket
// fan-out where every message a peer sends is forwarded, unchanged and in
// order, to the other peers joined to the same room.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/shadow/idgen"
	"github.com/hazyhaar/shadow/kit"
	"github.com/hazyhaar/shadow/shield"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Config configures a Server.
type Config struct {
	Listen     string
	QueueDepth int   // per-connection send queue, default 256
	MaxMessage int64 // read limit per frame, default 16 MiB
	// JoinLimit caps websocket joins per client IP. Zero disables it.
	JoinLimit shield.RateLimitConfig
	// Audit receives join and leave events when set.
	Audit *Audit
	// CheckOrigin overrides the upgrader's origin check. Nil accepts all.
	CheckOrigin func(*http.Request) bool
	Logger      *slog.Logger
}

// Server routes websocket peers into rooms.
type Server struct {
	cfg      Config
	hub      *Hub
	upgrader websocket.Upgrader
	limiter  *shield.RateLimiter
	router   chi.Router
	newID    idgen.Generator
	logger   *slog.Logger
}

// New builds a Server and its routes.
func New(cfg Config) *Server {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.MaxMessage <= 0 {
		cfg.MaxMessage = 16 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	check := cfg.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	s := &Server{
		cfg:      cfg,
		hub:      NewHub(),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: check},
		newID:    idgen.Prefixed("conn_", idgen.Default),
		logger:   cfg.Logger.With("component", "relay"),
	}
	if cfg.JoinLimit.MaxRequests > 0 {
		s.limiter = shield.NewRateLimiter(map[string]shield.RateLimitConfig{"/ws/": cfg.JoinLimit})
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.RelayStack(s.limiter) {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/rooms", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.hub.Rooms())
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/{room}", s.serveWS)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the room registry.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then closes
// every peer with a going-away frame.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.StartGC(time.Minute, ctx.Done())
	}
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", s.cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("relay: %w", err)
	case <-ctx.Done():
	}

	s.hub.closeAll(ReasonShutdown)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay: shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

// Close disconnects every peer.
func (s *Server) Close() {
	s.hub.closeAll(ReasonShutdown)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if err := validRoom(room); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		shield.GetLogger(r.Context()).Warn("relay: upgrade failed", "error", err)
		return
	}

	ctx := kit.WithRoom(r.Context(), room)
	ctx = kit.WithRole(ctx, r.URL.Query().Get("role"))

	c := newClient(conn, s.cfg.QueueDepth)
	c.id = s.newID()
	c.room = room
	c.role = kit.GetRole(ctx)
	c.remote = kit.GetRemoteAddr(ctx)
	c.trace = kit.GetTraceID(ctx)
	log := s.logger.With("room", room, "conn_id", c.id, "trace_id", c.trace)

	s.hub.join(c)
	s.record(c, EventJoin, "")
	log.Info("peer joined", "role", c.role, "members", s.hub.Members(room))

	go s.writeLoop(c)
	reason := s.readLoop(c)
	c.close(reason)
	reason = c.closeReason()

	observeDisconnect(reason)
	s.record(c, EventLeave, reason)
	s.hub.leave(c)
	log.Info("peer left", "reason", reason, "members", s.hub.Members(room))
}

func (s *Server) readLoop(c *client) string {
	c.conn.SetReadLimit(s.cfg.MaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ReasonClosed
			}
			select {
			case <-c.done:
				return c.closeReason()
			default:
			}
			s.logger.Debug("relay: read", "conn_id", c.id, "error", err)
			return ReasonError
		}
		kind := "text"
		if typ == websocket.BinaryMessage {
			kind = "binary"
		}
		observeMessage(kind, len(data))
		s.hub.broadcast(c, frame{typ: typ, data: data})
	}
}

func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(f.typ, f.data); err != nil {
				c.close(ReasonWrite)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(ReasonWrite)
				return
			}
		}
	}
}

func (s *Server) record(c *client, event, detail string) {
	if s.cfg.Audit == nil {
		return
	}
	s.cfg.Audit.Record(&Event{
		Room:       c.room,
		ConnID:     c.id,
		Event:      event,
		Role:       c.role,
		RemoteAddr: c.remote,
		TraceID:    c.trace,
		Detail:     detail,
	})
}

// validRoom accepts 1 to 128 characters of [A-Za-z0-9_.-].
func validRoom(name string) error {
	if name == "" || len(name) > 128 {
		return errors.New("room name must be 1 to 128 characters")
	}
	for _, r := range name {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
		if !ok {
			return fmt.Errorf("invalid character %q in room name", r)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

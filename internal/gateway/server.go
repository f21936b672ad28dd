package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/httpx"
	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/metrics"
	"github.com/prudhvinik1/nebula/internal/models"
	"github.com/prudhvinik1/nebula/internal/ratelimit"
)

const OpSocketConnect = "socket.connect"

var ErrUnauthorized = errors.New("unauthorized")

// Presence records which instances hold connections for a user.
type Presence interface {
	SetOnline(ctx context.Context, userID, instanceID string) error
	SetOffline(ctx context.Context, userID, instanceID string) error
	GetBulkPresence(ctx context.Context, userIDs []string) map[string]models.Presence
}

// HealthChecker reports whether the shared broker is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Config struct {
	InstanceID        string
	AllowedOrigins    []string
	TypingMinInterval time.Duration
	ConnectLimit      int
}

// Server authenticates socket handshakes and attaches connections to the hub.
type Server struct {
	ctx      context.Context
	cfg      Config
	hub      *Hub
	verifier httpx.TokenVerifier
	limiter  *ratelimit.Limiter
	presence Presence
	health   HealthChecker
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer builds a gateway server. ctx bounds every connection's lifetime.
func NewServer(ctx context.Context, cfg Config, hub *Hub, verifier httpx.TokenVerifier) *Server {
	s := &Server{
		ctx:      ctx,
		cfg:      cfg,
		hub:      hub,
		verifier: verifier,
		logger:   log.WithInstance("gateway", cfg.InstanceID),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) WithLimiter(l *ratelimit.Limiter) *Server { s.limiter = l; return s }
func (s *Server) WithPresence(p Presence) *Server { s.presence = p; return s }
func (s *Server) WithHealth(h HealthChecker) *Server { s.health = h; return s }

func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/health", s.handleHealth)
	router.Handle("/metrics", metrics.Handler())
	router.Get("/ws", s.ServeWS)

	router.Group(func(r chi.Router) {
		r.Use(httpx.RequestLogger("gateway-http"))
		r.Use(httpx.AuthMiddleware(s.verifier))
		r.Method(http.MethodGet, "/v1/presence", httpx.Wrap(s.handlePresence))
	})
	return router
}

// ServeWS runs the handshake: rate limit, authenticate, upgrade, join the
// caller's room and start the connection loops.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	addr := clientAddr(r)
	life := newConnLifecycle(s.logger.With().Str("remote_addr", addr).Logger())

	if s.limiter != nil && s.cfg.ConnectLimit > 0 &&
		!s.limiter.Allow(r.Context(), OpSocketConnect, addr, s.cfg.ConnectLimit, time.Minute) {
		life.advance(StateDisconnected)
		metrics.GatewayHandshakes.WithLabelValues("rate_limited").Inc()
		httpx.WriteError(w, http.StatusTooManyRequests, errors.New("too many connection attempts"), "rate_limited")
		return
	}

	life.advance(StateAuthenticating)
	principal, err := s.authenticate(r)
	if err != nil {
		life.advance(StateDisconnected)
		metrics.GatewayHandshakes.WithLabelValues("unauthorized").Inc()
		s.logger.Debug().Err(err).Str("remote_addr", addr).Msg("handshake rejected")
		httpx.WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "")
		return
	}
	life.with("user_id", principal.UserID)
	life.advance(StateAuthenticated)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the request
		life.advance(StateDisconnected)
		metrics.GatewayHandshakes.WithLabelValues("upgrade_failed").Inc()
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	metrics.GatewayHandshakes.WithLabelValues("ok").Inc()
	metrics.GatewayConnections.Inc()

	logger := s.logger.With().Str("user_id", principal.UserID).Logger()
	c := newClient(s.ctx, s.hub, conn, *principal, life, logger)
	s.hub.Join(c.room, c)
	life.advance(StateJoinedRoom)

	c.sendFrame(EventReady, ReadyPayload{
		UserID:              principal.UserID,
		TypingMinIntervalMs: s.cfg.TypingMinInterval.Milliseconds(),
	})
	s.markOnline(c)
	life.advance(StateActive)

	go c.writePump()
	go func() {
		c.readPump()
		s.markOffline(c)
	}()
}

// authenticate reads the token from the Authorization header, the token
// query parameter or the access_token cookie, in that order.
func (s *Server) authenticate(r *http.Request) (*models.Principal, error) {
	tok := httpx.BearerToken(r)
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		if cookie, err := r.Cookie("access_token"); err == nil {
			tok = cookie.Value
		}
	}
	if tok == "" {
		return nil, errors.New("no token presented")
	}
	return s.verifier.VerifyToken(tok)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	s.logger.Warn().Str("origin", origin).Msg("rejecting cross-origin handshake")
	return false
}

func (s *Server) markOnline(c *Client) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetOnline(c.ctx, c.principal.UserID, s.cfg.InstanceID); err != nil {
		c.logger.Warn().Err(err).Msg("failed to record presence")
	}
}

// markOffline clears this instance's presence entry once its last
// connection for the user is gone. A connection that joined while the entry
// was being cleared restores it.
func (s *Server) markOffline(c *Client) {
	if s.presence == nil || s.hub.RoomSize(c.room) > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.presence.SetOffline(ctx, c.principal.UserID, s.cfg.InstanceID); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear presence")
		return
	}
	if s.hub.RoomSize(c.room) > 0 {
		if err := s.presence.SetOnline(ctx, c.principal.UserID, s.cfg.InstanceID); err != nil {
			c.logger.Warn().Err(err).Msg("failed to restore presence")
		}
	}
}

// Heartbeat refreshes presence for every locally connected user until ctx
// is done.
func (s *Server) Heartbeat(ctx context.Context, every time.Duration) {
	if s.presence == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userID := range s.hub.users() {
				if err := s.presence.SetOnline(ctx, userID, s.cfg.InstanceID); err != nil {
					s.logger.Warn().Err(err).Msg("presence heartbeat failed")
					break
				}
			}
		}
	}
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) error {
	if s.presence == nil {
		return &httpx.StatusError{Status: http.StatusServiceUnavailable, Err: errors.New("presence is disabled")}
	}
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("userIds"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 || len(ids) > 100 {
		return httpx.BadRequest(errors.New("userIds must list between 1 and 100 ids"), "invalid_userIds")
	}
	httpx.WriteJSON(w, map[string]any{"data": s.presence.GetBulkPresence(r.Context(), ids)}, http.StatusOK)
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code, broker := "ok", http.StatusOK, "healthy"
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.HealthCheck(ctx); err != nil {
			status, code, broker = "degraded", http.StatusServiceUnavailable, "unhealthy"
		}
	}
	httpx.WriteJSON(w, map[string]any{
		"status":      status,
		"instanceId":  s.cfg.InstanceID,
		"connections": s.hub.Connections(),
		"services":    map[string]string{"redis": broker},
	}, code)
}

// Shutdown disconnects every client.
func (s *Server) Shutdown() {
	s.hub.CloseAll()
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

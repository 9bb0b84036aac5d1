// Package ws serves the push channel: a websocket per client carrying the
// JSON frames defined in package event.
//
// A connection starts Anonymous. It becomes Identified after a valid session
// token arrives, either as ?access_token= on the upgrade request or in an
// identify frame. Identified connections are bound in the presence registry,
// may send messages, and receive new_message and presence_changed pushes.
// A read error, client close or server shutdown moves it to Closed.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/event"
	"github.com/tbourn/go-dm-backend/internal/http/handlers"
	"github.com/tbourn/go-dm-backend/internal/observability"
	"github.com/tbourn/go-dm-backend/internal/presence"
)

const (
	writeWait     = 10 * time.Second
	readLimit     = 1 << 20
	closeDeadline = time.Second
)

// Authenticator resolves a session token to a username.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// MessageSender is the delivery entry point shared with the HTTP API.
type MessageSender interface {
	Send(ctx context.Context, sender, recipient string, content *string, md *domain.MediaDescriptor) (*domain.Message, error)
}

// Presence binds and releases identified connections.
type Presence interface {
	Connect(username string, c presence.Conn) presence.Conn
	Disconnect(username string, c presence.Conn) bool
}

// Options tunes the gateway.
type Options struct {
	PingInterval   time.Duration
	SendBuffer     int
	AllowedOrigins []string // empty allows any origin
}

// Gateway upgrades requests and runs one read loop and one write loop per
// connection.
type Gateway struct {
	upgrader websocket.Upgrader
	auth     Authenticator
	msgs     MessageSender
	presence Presence
	opts     Options

	mu       sync.Mutex
	conns    map[*conn]struct{}
	draining bool
	wg       sync.WaitGroup
}

// NewGateway constructs a Gateway.
func NewGateway(authn Authenticator, msgs MessageSender, p Presence, opts Options) *Gateway {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	g := &Gateway{
		auth:     authn,
		msgs:     msgs,
		presence: p,
		opts:     opts,
		conns:    make(map[*conn]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin.
		return true
	}
	for _, o := range g.opts.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// session is the per-connection protocol state.
type session struct {
	c        *conn
	username string
	lg       zerolog.Logger
}

func (s *session) identified() bool { return s.username != "" }

// Handle upgrades the request and serves the connection until it closes.
func (g *Gateway) Handle(gc *gin.Context) {
	ws, err := g.upgrader.Upgrade(gc.Writer, gc.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn().Err(err).Str("remote_ip", gc.ClientIP()).Msg("ws upgrade failed")
		return
	}

	c := newConn(ws, g.opts.SendBuffer)
	if !g.track(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	defer g.untrack(c)

	s := &session{
		c:  c,
		lg: log.With().Str("component", "ws").Str("conn_id", c.id).Logger(),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(c, s.lg)
	}()

	ctx := gc.Request.Context()
	if tok := strings.TrimSpace(gc.Query("access_token")); tok != "" {
		g.identify(ctx, s, tok)
	}

	g.readLoop(ctx, s)

	c.close()
	if s.identified() {
		g.presence.Disconnect(s.username, c)
	}
	<-writerDone
	_ = ws.Close()
	s.lg.Debug().Str("user", s.username).Msg("ws closed")
}

func (g *Gateway) readLoop(ctx context.Context, s *session) {
	ws := s.c.ws
	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(2 * g.opts.PingInterval))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * g.opts.PingInterval))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !s.c.isClosed() {
				s.lg.Debug().Err(err).Msg("ws read")
			}
			return
		}
		if s.c.isClosed() {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(2 * g.opts.PingInterval))

		var in event.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			inboundEvents.WithLabelValues("invalid", "rejected").Inc()
			g.reply(s, event.Error(handlers.ErrCodeBadRequest, "malformed frame"))
			continue
		}
		fctx, span := observability.Tracer().Start(ctx, "ws."+in.Type, trace.WithSpanKind(trace.SpanKindServer))
		if s.identified() {
			span.SetAttributes(attribute.String("enduser.id", s.username))
		}
		g.dispatch(fctx, s, in)
		span.End()
	}
}

func (g *Gateway) dispatch(ctx context.Context, s *session, in event.Inbound) {
	switch in.Type {
	case event.TypeIdentify:
		if s.identified() {
			g.reject(s, in.Type, handlers.ErrCodeAlreadyIdentified, "connection already identified")
			return
		}
		var p event.IdentifyPayload
		if err := in.Decode(&p); err != nil || strings.TrimSpace(p.Token) == "" {
			g.reject(s, in.Type, handlers.ErrCodeNotAuthenticated, "token required")
			return
		}
		g.identify(ctx, s, p.Token)

	case event.TypeSendMessage:
		if !s.identified() {
			g.reject(s, in.Type, handlers.ErrCodeNotAuthenticated, "identify first")
			return
		}
		var p event.SendMessagePayload
		if err := in.Decode(&p); err != nil {
			g.reject(s, in.Type, handlers.ErrCodeBadRequest, "invalid send_message payload")
			return
		}
		if _, err := g.msgs.Send(ctx, s.username, p.Recipient, p.Content, p.Media); err != nil {
			status, code := handlers.ErrorFor(err)
			msg := err.Error()
			if status >= http.StatusInternalServerError {
				s.lg.Error().Err(err).Str("user", s.username).Msg("ws send_message")
				msg = http.StatusText(status)
			}
			g.reject(s, in.Type, code, msg)
			return
		}
		inboundEvents.WithLabelValues(in.Type, "ok").Inc()

	case event.TypePing:
		if !s.identified() {
			g.reject(s, in.Type, handlers.ErrCodeNotAuthenticated, "identify first")
			return
		}
		inboundEvents.WithLabelValues(in.Type, "ok").Inc()
		g.reply(s, event.Pong())

	default:
		if !s.identified() {
			g.reject(s, "unknown", handlers.ErrCodeNotAuthenticated, "identify first")
			return
		}
		g.reject(s, "unknown", handlers.ErrCodeUnknownEvent, "unknown event type")
	}
}

// identify moves s to Identified on a valid token. A bad token leaves the
// connection Anonymous.
func (g *Gateway) identify(ctx context.Context, s *session, token string) {
	user, err := g.auth.Authenticate(ctx, token)
	if err != nil || user == "" {
		g.reject(s, event.TypeIdentify, handlers.ErrCodeNotAuthenticated, "invalid or expired token")
		return
	}
	s.username = user
	s.lg = s.lg.With().Str("user", user).Logger()
	inboundEvents.WithLabelValues(event.TypeIdentify, "ok").Inc()

	// Acknowledge before the presence broadcast so the client sees
	// identified first.
	g.reply(s, event.Identified(user))
	if prev := g.presence.Connect(user, s.c); prev != nil {
		s.lg.Info().Str("replaced_conn", prev.ID()).Msg("ws connection superseded")
	}
}

func (g *Gateway) reject(s *session, typ, code, msg string) {
	inboundEvents.WithLabelValues(typ, "rejected").Inc()
	g.reply(s, event.Error(code, msg))
}

func (g *Gateway) reply(s *session, ev event.Event) {
	if err := s.c.Send(ev); err != nil && !errors.Is(err, presence.ErrClosed) {
		s.lg.Debug().Err(err).Str("type", ev.Type).Msg("ws reply dropped")
	}
}

func (g *Gateway) writeLoop(c *conn, lg zerolog.Logger) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				lg.Debug().Err(err).Msg("ws write")
				g.abort(c)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				lg.Debug().Err(err).Msg("ws ping")
				g.abort(c)
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// abort closes c and unblocks its read loop.
func (g *Gateway) abort(c *conn) {
	c.close()
	_ = c.ws.SetReadDeadline(time.Now())
}

func (g *Gateway) track(c *conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return false
	}
	g.conns[c] = struct{}{}
	g.wg.Add(1)
	connections.Inc()
	return true
}

func (g *Gateway) untrack(c *conn) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
	connections.Dec()
	g.wg.Done()
}

// Shutdown closes every connection, which announces each departure, and
// waits for their loops to finish or ctx to expire. New upgrades are
// refused afterwards.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.draining = true
	open := make([]*conn, 0, len(g.conns))
	for c := range g.conns {
		open = append(open, c)
	}
	g.mu.Unlock()

	for _, c := range open {
		c.close()
		// Give the close frame a moment, then unblock the reader.
		_ = c.ws.SetReadDeadline(time.Now().Add(closeDeadline))
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

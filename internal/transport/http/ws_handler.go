package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin/render"
	"github.com/rs/zerolog"

	"github.com/tg11/boundless/internal/auth"
	"github.com/tg11/boundless/internal/config"
	"github.com/tg11/boundless/internal/core"
	"github.com/tg11/boundless/internal/metrics"
	"github.com/tg11/boundless/internal/proto"
	"github.com/tg11/boundless/internal/store"
)

// wsRoute is the channel socket pattern on the ServeMux in front of gin.
const (
	wsRoute      = "GET /ws/servers/{server_id}/{category_id}/{channel_id}"
	wsRouteLabel = "/ws/servers/:server_id/:category_id/:channel_id"
)

var (
	errIdleTimeout   = errors.New("idle timeout")
	errSessionClosed = errors.New("session closed")
)

// WSHandler upgrades channel routes and bridges the socket to a core.Session.
type WSHandler struct {
	hub     *core.Hub
	auth    *auth.Service
	metrics *metrics.Metrics
	cfg     *config.Config
	log     *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. m may be nil.
func NewWSHandler(hub *core.Hub, authService *auth.Service, m *metrics.Metrics, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, auth: authService, metrics: m, cfg: cfg, log: logger}
}

// ServeHTTP serves GET /ws/servers/{server_id}/{category_id}/{channel_id}.
// Every rejection is answered before the upgrade.
func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	who, err := authenticate(h.auth, r, true)
	if err != nil {
		h.reject(w, r, stdhttp.StatusUnauthorized, err.Error())
		return
	}
	identity := who.Identity

	resume, err := parseResume(r.URL.Query())
	if err != nil {
		h.reject(w, r, stdhttp.StatusBadRequest, err.Error())
		return
	}

	ref := core.ChannelRef{
		ServerID:   r.PathValue("server_id"),
		CategoryID: r.PathValue("category_id"),
		ChannelID:  r.PathValue("channel_id"),
	}

	ctx := r.Context()
	session, err := h.hub.Connect(ctx, identity, ref)
	if err != nil {
		status := statusFor(err)
		if status >= stdhttp.StatusInternalServerError {
			h.log.Error().Err(err).Str("channel", ref.ChannelID).Msg("connect failed")
		}
		h.reject(w, r, status, core.ToCoreError(err).Message)
		return
	}

	after, err := resume.cursor(ctx, h.hub, identity, session.ChannelID)
	if err != nil {
		h.hub.Disconnect(session, "bad resume point")
		h.reject(w, r, statusFor(err), core.ToCoreError(err).Message)
		return
	}

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.hub.Disconnect(session, "accept failed")
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	h.record(r, stdhttp.StatusSwitchingProtocols)
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = h.serve(ctx, cancel, conn, session, after)

	// Unregister before the connection is released.
	h.hub.Disconnect(session, core.CloseReasonClient)

	status, reason := closeStatus(err, session)
	if status == websocket.StatusInternalError {
		h.log.Warn().Err(err).Str("session", session.ID).Msg("ws connection closed with error")
	}
	conn.Close(status, reason)
}

func (h *WSHandler) reject(w stdhttp.ResponseWriter, r *stdhttp.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := (render.JSON{Data: ErrorResponse{Error: msg}}).Render(w); err != nil {
		h.log.Debug().Err(err).Msg("write ws rejection")
	}
	h.record(r, status)
}

func (h *WSHandler) record(r *stdhttp.Request, status int) {
	h.log.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("http request")
	if h.metrics != nil {
		h.metrics.HTTPRequest(wsRouteLabel, status)
	}
}

// liveness tracks the last sign of life from the peer: an inbound frame or
// a pong.
type liveness struct {
	last atomic.Int64
}

func (l *liveness) touch() {
	l.last.Store(time.Now().UnixNano())
}

func (l *liveness) idleFor() time.Duration {
	return time.Since(time.Unix(0, l.last.Load()))
}

func (h *WSHandler) serve(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, session *core.Session, after *store.Cursor) error {
	history, err := h.hub.Backfill(ctx, session, after, 0)
	if err != nil {
		return err
	}
	if err := h.write(ctx, conn, historyOutbound(session.ChannelID, history)); err != nil {
		return err
	}

	alive := &liveness{}
	alive.touch()

	loops := []func() error{
		func() error { return h.readLoop(ctx, conn, session, alive) },
		func() error { return h.writeLoop(ctx, conn, session) },
	}
	if h.cfg.IdleTimeout > 0 {
		loops = append(loops, func() error { return h.heartbeat(ctx, conn, alive) })
	}

	errCh := make(chan error, len(loops))
	for _, loop := range loops {
		go func() {
			errCh <- loop()
		}()
	}

	err = <-errCh
	cancel() // stop the others
	for range len(loops) - 1 {
		<-errCh
	}
	return err
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	if len(h.cfg.AllowedOrigins) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.cfg.AllowedOrigins}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, alive *liveness) error {
	limiter := newRateLimiter(h.cfg.MessagesPerMinute)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		alive.touch()
		if typ != websocket.MessageText {
			h.hub.Notify(session, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "text frames only"})
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.hub.Notify(session, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "malformed frame"})
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			h.hub.Notify(session, &core.CoreError{Code: protoErr.Code, Message: protoErr.Msg})
			continue
		}
		if !limiter.allow() {
			h.hub.Notify(session, &core.CoreError{Code: core.ErrCodeRateLimited, Message: "too many messages"})
			continue
		}

		if err := h.hub.Handle(ctx, session, cmd); err != nil {
			h.log.Debug().Err(err).Str("session", session.ID).Msg("command failed")
		}
	}
}

// heartbeat pings the peer every half idle timeout. The connection is idle
// once neither a frame nor a pong has arrived for a whole idle timeout;
// outbound traffic does not count.
func (h *WSHandler) heartbeat(ctx context.Context, conn *websocket.Conn, alive *liveness) error {
	interval := h.cfg.IdleTimeout / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if alive.idleFor() >= h.cfg.IdleTimeout {
			return errIdleTimeout
		}

		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := conn.Ping(pingCtx)
		cancel()
		switch {
		case err == nil:
			alive.touch()
		case ctx.Err() != nil:
			return ctx.Err()
		case alive.idleFor() >= h.cfg.IdleTimeout:
			return errIdleTimeout
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	for {
		select {
		case event := <-session.Events():
			if !session.Deliverable(event) {
				continue
			}
			if err := h.write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Debug().Err(err).Str("session", session.ID).Msg("write ws event")
				return err
			}
		case <-session.Done():
			return errSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, v proto.Outbound) error {
	if h.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.WriteTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, conn, v)
}

func closeStatus(err error, session *core.Session) (websocket.StatusCode, string) {
	switch {
	case errors.Is(err, errSessionClosed) && session.CloseReason() == core.CloseReasonSlowConsumer:
		return websocket.StatusPolicyViolation, core.CloseReasonSlowConsumer
	case errors.Is(err, errSessionClosed):
		return websocket.StatusGoingAway, session.CloseReason()
	case errors.Is(err, errIdleTimeout):
		return websocket.StatusPolicyViolation, errIdleTimeout.Error()
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	}

	if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
		return websocket.StatusNormalClosure, "closing"
	}
	var ce *core.CoreError
	if errors.As(err, &ce) || errors.Is(err, store.ErrUnavailable) {
		return websocket.StatusInternalError, core.ToCoreError(err).Message
	}
	return websocket.StatusInternalError, "internal error"
}

// resumeQuery is the optional ?after_id=<message id> / ?after_ts=<unix ms>
// starting point of a history listing. after_id wins when both are set.
type resumeQuery struct {
	afterID int64
	afterTS int64
	hasID   bool
	hasTS   bool
}

func parseResume(query url.Values) (resumeQuery, error) {
	var (
		q   resumeQuery
		err error
	)
	if raw := query.Get("after_id"); raw != "" {
		q.afterID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || q.afterID <= 0 {
			return q, errors.New("after_id must be a message id")
		}
		q.hasID = true
	}
	if raw := query.Get("after_ts"); raw != "" {
		q.afterTS, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, errors.New("after_ts must be unix milliseconds")
		}
		q.hasTS = true
	}
	return q, nil
}

func (q resumeQuery) cursor(ctx context.Context, hub *core.Hub, actor core.Identity, channelID string) (*store.Cursor, error) {
	switch {
	case q.hasID:
		return hub.CursorAt(ctx, actor, channelID, q.afterID)
	case q.hasTS:
		// Everything after the given millisecond.
		last := time.UnixMilli(q.afterTS).Add(time.Millisecond - time.Nanosecond)
		return &store.Cursor{CreatedAt: last, ID: math.MaxInt64}, nil
	default:
		return nil, nil
	}
}

// Package session binds a verified actor identity to one WebSocket
// connection and drives the dispatch engine. Lifecycle: Connecting →
// Authenticated (credential verified, before any registry mutation) →
// Active (registered, relaying events) → Closed (unregistered with the
// stale-handle guard, all per-connection state discarded).
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/dispatch"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/protocol"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/utils"
)

const writeWait = 10 * time.Second

// Options tunes per-connection behavior. Zero values fall back to
// workable defaults.
type Options struct {
	OutboundBuffer int
	SendRPS        float64
	SendBurst      int
	PingInterval   time.Duration
	ReadLimit      int64
}

func (o Options) withDefaults() Options {
	if o.OutboundBuffer <= 0 {
		o.OutboundBuffer = 64
	}
	if o.SendRPS <= 0 {
		o.SendRPS = 10
	}
	if o.SendBurst <= 0 {
		o.SendBurst = 20
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	return o
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin is not checked here: cross-origin access is governed by the
	// bearer credential, which browsers cannot forge across origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Session is one live connection. It implements presence.Conn.
type Session struct {
	actor    models.ActorRef
	ws       *websocket.Conn
	engine   *dispatch.Engine
	registry *presence.Registry
	limiter  *rate.Limiter

	out       chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once

	pingInterval time.Duration
}

// Handler returns the WebSocket endpoint. The credential is verified
// before the upgrade; a bad token is refused with 401 and never touches
// the registry.
func Handler(engine *dispatch.Engine, registry *presence.Registry, opts Options) http.HandlerFunc {
	opts = opts.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := auth.Verify(auth.BearerToken(r))
		if err != nil {
			logger.Warn("ws_auth_failed", "remote", r.RemoteAddr, "error", err)
			utils.JSONError(w, http.StatusUnauthorized, "invalid credential")
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error
			logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		s := &Session{
			actor:        actor,
			ws:           ws,
			engine:       engine,
			registry:     registry,
			limiter:      rate.NewLimiter(rate.Limit(opts.SendRPS), opts.SendBurst),
			out:          make(chan protocol.Envelope, opts.OutboundBuffer),
			done:         make(chan struct{}),
			pingInterval: opts.PingInterval,
		}
		ws.SetReadLimit(opts.ReadLimit)

		// Last writer wins: a reconnect replaces the old handle without
		// notifying or closing it; the superseded socket times out on
		// its own.
		if prev := registry.Register(actor, s); prev != nil {
			logger.Info("presence_superseded", "actor", actor)
		}
		logger.Info("session_active", "actor", actor, "remote", r.RemoteAddr)

		go s.writeLoop()
		s.readLoop()
		s.close()
	}
}

// Send enqueues one outbound event without blocking. A full buffer or a
// closed session drops the event (best-effort contract); the caller
// counts the drop.
func (s *Session) Send(env protocol.Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- env:
		return true
	default:
		return false
	}
}

// close tears the session down exactly once: unregister (guarded so a
// stale disconnect never evicts a newer registration), stop the writer,
// close the transport.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.registry.Unregister(s.actor, s)
		close(s.done)
		_ = s.ws.Close()
		logger.Info("session_closed", "actor", s.actor)
	})
}

// readLoop processes inbound events strictly in arrival order; no two
// events from the same connection are ever in flight together.
func (s *Session) readLoop() {
	pongWait := s.pingInterval * 2
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var env protocol.Envelope
		if err := s.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("ws_read_failed", "actor", s.actor, "error", err)
			}
			return
		}
		s.handle(env)
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case env := <-s.out:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteJSON(env); err != nil {
				logger.Warn("ws_write_failed", "actor", s.actor, "error", err)
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// handle runs one inbound event through the engine and emits the
// acknowledgment or error back on this connection. Every taxonomy error
// becomes an `error` event; none of them close the connection.
func (s *Session) handle(env protocol.Envelope) {
	ctx := context.Background()
	err := s.dispatch(ctx, env)
	if err != nil {
		telemetry.EventsTotal.WithLabelValues(string(env.Type), string(protocol.CodeOf(err))).Inc()
		if protocol.CodeOf(err) == protocol.CodeInternal {
			logger.Error("event_failed", "actor", s.actor, "type", env.Type, "error", err)
		}
		s.reply(protocol.ErrorEnvelope(env.Ref, err))
		return
	}
	telemetry.EventsTotal.WithLabelValues(string(env.Type), "ok").Inc()
}

func (s *Session) dispatch(ctx context.Context, env protocol.Envelope) error {
	switch env.Type {
	case protocol.EvSend:
		if !s.limiter.Allow() {
			return protocol.E(protocol.CodeRateLimited, "send rate exceeded")
		}
		var p protocol.SendPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		msg, err := s.engine.Send(ctx, s.actor, p)
		if err != nil {
			return err
		}
		ack, err := protocol.Outbound(protocol.EvMessageSent, env.Ref, msg)
		if err != nil {
			return err
		}
		s.reply(ack)
		return nil
	case protocol.EvMarkRead:
		var p protocol.MessagePayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		_, err := s.engine.MarkRead(ctx, s.actor, p.MessageID)
		return err
	case protocol.EvDelete:
		var p protocol.MessagePayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		_, err := s.engine.Delete(ctx, s.actor, p.MessageID)
		return err
	case protocol.EvArchive, protocol.EvUnarchive:
		var p protocol.ConversationPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		_, err := s.engine.Archive(ctx, s.actor, p.ConversationID, env.Type == protocol.EvArchive)
		return err
	case protocol.EvBlock:
		var p protocol.ActorPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		return s.engine.BlockActor(ctx, s.actor, p.Actor)
	case protocol.EvUnblock:
		var p protocol.ActorPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		return s.engine.UnblockActor(ctx, s.actor, p.Actor)
	default:
		return protocol.E(protocol.CodeValidation, "unknown event type %q", env.Type)
	}
}

// reply emits to this connection, bypassing the registry so the
// originating socket always gets its own acks and errors even when a
// reconnect has superseded it in the registry.
func (s *Session) reply(env protocol.Envelope) {
	if !s.Send(env) {
		telemetry.DroppedOutboundTotal.Inc()
		logger.Warn("reply_dropped", "actor", s.actor, "type", env.Type)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return protocol.E(protocol.CodeValidation, "missing event payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return protocol.E(protocol.CodeValidation, "malformed event payload")
	}
	return nil
}

// ABOUTME: Websocket endpoints for agents and users and the per-connection event dispatch
// ABOUTME: Connect/disconnect go through the presence reconciler; events through the relay

package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/supportdesk/internal/auth"
	"github.com/2389/supportdesk/internal/metrics"
	"github.com/2389/supportdesk/internal/presence"
	"github.com/2389/supportdesk/internal/relay"
	"github.com/2389/supportdesk/internal/store"
)

// AgentDirectory is what the socket layer reads from the identity store.
type AgentDirectory interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	ListAgents(ctx context.Context) ([]*store.Agent, error)
}

// Options tunes the websocket server.
type Options struct {
	EventTimeout   time.Duration
	SendQueueSize  int
	AllowedOrigins []string // empty or "*" allows any origin
}

// Server owns the /ws/agent and /ws/user endpoints.
type Server struct {
	verifier    auth.TokenVerifier
	agents      AgentDirectory
	registry    *presence.Registry
	reconciler  *presence.Reconciler
	broadcaster *presence.Broadcaster
	router      *relay.Router
	assembler   *relay.Assembler
	typing      *relay.TypingRelay
	upgrader    websocket.Upgrader
	opts        Options
	logger      *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
	wg    sync.WaitGroup
}

// Deps groups the collaborators a Server needs.
type Deps struct {
	Verifier    auth.TokenVerifier
	Agents      AgentDirectory
	Registry    *presence.Registry
	Reconciler  *presence.Reconciler
	Broadcaster *presence.Broadcaster
	Router      *relay.Router
	Assembler   *relay.Assembler
	Typing      *relay.TypingRelay
}

// NewServer creates a websocket server. Pass nil logger for default.
func NewServer(d Deps, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 10 * time.Second
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 256
	}
	return &Server{
		verifier:    d.Verifier,
		agents:      d.Agents,
		registry:    d.Registry,
		reconciler:  d.Reconciler,
		broadcaster: d.Broadcaster,
		router:      d.Router,
		assembler:   d.Assembler,
		typing:      d.Typing,
		upgrader:    newUpgrader(opts.AllowedOrigins),
		opts:        opts,
		logger:      logger.With("component", "socket"),
		conns:       make(map[string]*Conn),
	}
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// HandleAgent authenticates the agent token, upgrades, reconciles presence,
// sends the inbox snapshot and serves events until the socket closes.
func (s *Server) HandleAgent(w http.ResponseWriter, r *http.Request) {
	authCtx, errMsg := auth.Authenticate(r, s.verifier)
	if errMsg != "" {
		auth.WriteJSONError(w, http.StatusUnauthorized, errMsg)
		return
	}

	agent, err := s.agents.GetAgent(r.Context(), authCtx.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			auth.WriteJSONError(w, http.StatusUnauthorized, "agent not found")
			return
		}
		s.logger.Error("agent lookup failed", "agent_id", authCtx.AgentID, "error", err)
		auth.WriteJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("agent upgrade failed", "error", err)
		return
	}

	c := s.open(ws, store.ClassAgent)
	defer s.finish(c)
	c.bindIdentity(agent.Username)

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.forwardPresence(subCtx, c, store.ClassAgent, relay.EventUserStatusChanged)

	if err := s.connectAgent(c, agent.Username); err != nil {
		c.logger.Warn("agent connect failed", "agent", agent.Username, "error", err)
		_ = c.Emit(relay.EventError, &relay.ErrorData{Message: relay.ClientMessage(err)})
		c.Close()
		return
	}
	defer s.disconnect(c, store.ClassAgent)

	c.readLoop(func(f Frame) { s.dispatch(c, f, s.handleAgentEvent) })
}

func (s *Server) connectAgent(c *Conn, username string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.EventTimeout)
	defer cancel()

	if err := s.reconciler.OnConnect(ctx, store.ClassAgent, username, c); err != nil {
		if errors.Is(err, presence.ErrUnknownAgent) {
			return &relay.Error{Kind: relay.ErrAuthentication, Message: relay.MsgAuthFailed, Err: err}
		}
		return relay.Persistence(relay.MsgInternal, err)
	}

	inbox, err := s.assembler.BuildInbox(ctx, username)
	if err != nil {
		// Presence was recorded; undo it before dropping the connection.
		_ = s.reconciler.OnDisconnect(ctx, store.ClassAgent, username, c)
		return err
	}
	if err := c.Emit(relay.EventInitialUserList, &relay.InitialUserList{Users: inbox}); err != nil {
		c.logger.Warn("inbox snapshot not queued", "agent", username, "error", err)
	}
	return nil
}

// HandleUser upgrades an anonymous user connection. The user identifies
// with ?username= or an identifyUser event.
func (s *Server) HandleUser(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("user upgrade failed", "error", err)
		return
	}

	c := s.open(ws, store.ClassUser)
	defer s.finish(c)

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.forwardPresence(subCtx, c, store.ClassUser, relay.EventAgentStatusChanged)

	defer func() {
		if c.Identity() != "" {
			s.disconnect(c, store.ClassUser)
		}
	}()

	if name := r.URL.Query().Get("username"); name != "" {
		s.dispatch(c, Frame{Event: relay.EventIdentifyUser}, func(ctx context.Context, c *Conn, _ Frame) error {
			return s.identifyUser(ctx, c, name)
		})
	}

	c.readLoop(func(f Frame) { s.dispatch(c, f, s.handleUserEvent) })
}

func (s *Server) handleAgentEvent(ctx context.Context, c *Conn, f Frame) error {
	switch f.Event {
	case relay.EventSendMessage:
		var d relay.SendMessageData
		if err := decode(f, &d); err != nil {
			return err
		}
		_, err := s.router.Send(ctx, c, relay.SendRequest{
			SenderClass: store.ClassAgent,
			Sender:      c.Identity(),
			Receiver:    d.ReceiverUsername,
			Content:     d.Content,
		})
		return err

	case relay.EventTyping:
		var d relay.TypingData
		if err := decode(f, &d); err != nil {
			return err
		}
		s.typing.RelayTyping(store.ClassAgent, c.Identity(), d.ReceiverUsername, d.IsTyping)
		return nil

	default:
		return relay.Invalid(relay.MsgUnknownEvent)
	}
}

func (s *Server) handleUserEvent(ctx context.Context, c *Conn, f Frame) error {
	switch f.Event {
	case relay.EventIdentifyUser:
		var d relay.IdentifyUserData
		if err := decode(f, &d); err != nil {
			return relay.Invalid(relay.MsgUsernameRequired)
		}
		return s.identifyUser(ctx, c, d.Username)

	case relay.EventSendMessage:
		var d relay.SendMessageData
		if err := decode(f, &d); err != nil {
			return err
		}
		_, err := s.router.Send(ctx, c, relay.SendRequest{
			SenderClass: store.ClassUser,
			Sender:      c.Identity(),
			Receiver:    d.ReceiverUsername,
			Content:     d.Content,
		})
		return err

	case relay.EventTyping:
		var d relay.TypingData
		if err := decode(f, &d); err != nil {
			return err
		}
		// unidentified users are ignored
		s.typing.RelayTyping(store.ClassUser, c.Identity(), d.ReceiverUsername, d.IsTyping)
		return nil

	default:
		return relay.Invalid(relay.MsgUnknownEvent)
	}
}

// identifyUser binds the connection to username, records presence and
// replies with the agent list.
func (s *Server) identifyUser(ctx context.Context, c *Conn, raw string) error {
	username, err := relay.NormalizeUsername(raw)
	if err != nil {
		return err
	}

	switch cur := c.Identity(); {
	case cur == "":
		if err := s.reconciler.OnConnect(ctx, store.ClassUser, username, c); err != nil {
			return relay.Persistence(relay.MsgIdentifyFailed, err)
		}
		c.bindIdentity(username)
	case cur != username:
		return relay.Invalid(relay.MsgReidentify)
	}

	agents, err := s.agents.ListAgents(ctx)
	if err != nil {
		return relay.Persistence(relay.MsgIdentifyFailed, err)
	}

	summaries := make([]relay.AgentSummary, 0, len(agents))
	for _, a := range agents {
		_, live := s.registry.Resolve(store.ClassAgent, a.Username)
		status := presence.StatusOffline
		if live {
			status = presence.StatusLive
		}
		summaries = append(summaries, relay.AgentSummary{
			ID:       a.ID,
			Username: a.Username,
			IsOnline: live,
			Status:   status,
			LastSeen: a.LastSeen,
		})
	}

	c.logger.Info("user identified", "user", username)
	return c.Emit(relay.EventUserIdentified, &relay.UserIdentified{Username: username, Agents: summaries})
}

type eventHandler func(ctx context.Context, c *Conn, f Frame) error

// dispatch runs one inbound event with a timeout, converting errors and
// panics into an error event. The connection stays open.
func (s *Server) dispatch(c *Conn, f Frame, h eventHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.EventTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked",
				"event", f.Event,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			metrics.EventFailures.WithLabelValues(string(c.class), f.Event, "panic").Inc()
			_ = c.Emit(relay.EventError, &relay.ErrorData{Message: relay.MsgInternal})
		}
	}()

	if err := h(ctx, c, f); err != nil {
		kind := relay.Kind(err)
		if kind == "persistence" || kind == "internal" {
			c.logger.Error("event failed", "event", f.Event, "identity", c.Identity(), "error", err)
		} else {
			c.logger.Debug("event rejected", "event", f.Event, "identity", c.Identity(), "error", err)
		}
		metrics.EventFailures.WithLabelValues(string(c.class), f.Event, kind).Inc()
		_ = c.Emit(relay.EventError, &relay.ErrorData{Message: relay.ClientMessage(err)})
	}
}

func decode(f Frame, v any) error {
	if len(f.Data) == 0 {
		return relay.Invalid(relay.MsgInvalidMessage)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return relay.Invalid(relay.MsgInvalidMessage)
	}
	return nil
}

// forwardPresence relays status events from topic to c until ctx ends.
func (s *Server) forwardPresence(ctx context.Context, c *Conn, topic store.Class, event string) {
	ch, _ := s.broadcaster.Subscribe(ctx, topic)
	go func() {
		for ev := range ch {
			_ = c.Emit(event, &relay.StatusChanged{
				Username: ev.Identity,
				IsOnline: ev.IsOnline,
				Status:   ev.Status,
				LastSeen: ev.At,
			})
		}
	}()
}

func (s *Server) disconnect(c *Conn, class store.Class) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.EventTimeout)
	defer cancel()
	if err := s.reconciler.OnDisconnect(ctx, class, c.Identity(), c); err != nil {
		c.logger.Error("disconnect not recorded", "identity", c.Identity(), "error", err)
	}
}

func (s *Server) open(ws *websocket.Conn, class store.Class) *Conn {
	c := newConn(ws, class, s.opts.SendQueueSize, s.logger)

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.wg.Add(1)

	metrics.LiveConnections.WithLabelValues(string(class)).Inc()
	go c.writePump()
	return c
}

func (s *Server) finish(c *Conn) {
	c.Close()

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	metrics.LiveConnections.WithLabelValues(string(c.class)).Dec()
	s.wg.Done()
}

// Shutdown closes every open connection and waits for their disconnects to
// be reconciled, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ABOUTME: HTTP API for agent accounts, chat history and health probes
// ABOUTME: Routes are mounted on a chi router alongside the websocket endpoints

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/supportdesk/internal/auth"
	"github.com/2389/supportdesk/internal/relay"
	"github.com/2389/supportdesk/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// routes builds the HTTP handler tree.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   g.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.Handler())
	}

	r.Get("/ws/agent", g.socket.HandleAgent)
	r.Get("/ws/user", g.socket.HandleUser)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth/agent", func(r chi.Router) {
			r.Post("/register", g.handleRegister)
			r.Post("/login", g.handleLogin)
			r.Get("/status", g.handleAgentStatus)
			r.With(auth.HTTPAuthMiddleware(g.verifier)).Get("/me", g.handleMe)
		})
		r.Get("/messages/history", g.handleHistory)
		r.Post("/messages/mark-read", g.handleMarkRead)
	})

	return r
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type agentInfo struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type registerResponse struct {
	Message string    `json:"message"`
	Agent   agentInfo `json:"agent"`
}

type loginResponse struct {
	Token string    `json:"token"`
	Agent agentInfo `json:"agent"`
}

type agentStatus struct {
	Username string    `json:"username"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

type statusResponse struct {
	Agents []agentStatus `json:"agents"`
}

type historyMessage struct {
	ID           string    `json:"id"`
	Sender       string    `json:"sender"`
	SenderType   string    `json:"senderType"`
	Receiver     string    `json:"receiver"`
	ReceiverType string    `json:"receiverType"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	IsRead       bool      `json:"isRead"`
}

type historyResponse struct {
	Messages []historyMessage `json:"messages"`
}

type markReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

type markReadResponse struct {
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}

type readyResponse struct {
	Status       string   `json:"status"`
	AgentsOnline int      `json:"agentsOnline"`
	UsersOnline  int      `json:"usersOnline"`
	OnlineAgents []string `json:"onlineAgents"`
	Uptime       string   `json:"uptime"`
}

// handleRegister creates a new agent account.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		sendJSONError(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		sendJSONError(w, http.StatusBadRequest, "Password must be at least 6 characters long")
		return
	}
	username, err := relay.NormalizeUsername(username)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, relay.ClientMessage(err))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		g.logger.Error("hashing password", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}

	agent := &store.Agent{Username: username, PasswordHash: hash}
	if err := g.store.CreateAgent(r.Context(), agent); err != nil {
		if errors.Is(err, store.ErrUsernameExists) {
			sendJSONError(w, http.StatusBadRequest, "Agent already exists")
			return
		}
		g.logger.Error("creating agent", "username", username, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}

	g.logger.Info("agent registered", "agent_id", agent.ID, "username", agent.Username)
	writeJSON(w, http.StatusCreated, registerResponse{
		Message: "Agent registered successfully",
		Agent:   agentInfo{ID: agent.ID, Username: agent.Username},
	})
}

// handleLogin exchanges agent credentials for a signed token.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		sendJSONError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	agent, err := g.store.GetAgentByUsername(r.Context(), username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		g.logger.Error("looking up agent", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if agent == nil || !auth.CheckPassword(agent.PasswordHash, req.Password) {
		sendJSONError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := g.verifier.Generate(agent.ID, agent.Username, g.config.Auth.TokenTTL)
	if err != nil {
		g.logger.Error("signing token", "agent_id", agent.ID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: token,
		Agent: agentInfo{ID: agent.ID, Username: agent.Username, IsOnline: agent.IsOnline},
	})
}

// handleMe returns the authenticated agent.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	agent, err := g.store.GetAgent(r.Context(), authCtx.AgentID)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "Agent not found")
		return
	}
	if err != nil {
		g.logger.Error("getting agent", "agent_id", authCtx.AgentID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}

	lastSeen := agent.LastSeen
	writeJSON(w, http.StatusOK, agentInfo{
		ID:       agent.ID,
		Username: agent.Username,
		IsOnline: agent.IsOnline,
		LastSeen: &lastSeen,
	})
}

// handleAgentStatus lists every registered agent with its presence.
func (g *Gateway) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	agents, err := g.store.ListAgents(r.Context())
	if err != nil {
		g.logger.Error("listing agents", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}

	resp := statusResponse{Agents: make([]agentStatus, 0, len(agents))}
	for _, a := range agents {
		resp.Agents = append(resp.Agents, agentStatus{
			Username: a.Username,
			IsOnline: a.IsOnline,
			LastSeen: a.LastSeen,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHistory returns the conversation between a user and an agent, oldest first.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	agent := strings.TrimSpace(r.URL.Query().Get("agent"))
	if user == "" || agent == "" {
		sendJSONError(w, http.StatusBadRequest, "User and agent parameters are required")
		return
	}

	msgs, err := g.store.ListConversation(r.Context(), user, agent)
	if err != nil {
		g.logger.Error("listing conversation", "user", user, "agent", agent, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}

	resp := historyResponse{Messages: make([]historyMessage, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, historyMessage{
			ID:           m.ID,
			Sender:       m.Sender,
			SenderType:   string(m.SenderClass),
			Receiver:     m.Receiver,
			ReceiverType: string(m.ReceiverClass),
			Content:      m.Content,
			Timestamp:    m.Timestamp,
			IsRead:       m.IsRead,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMarkRead flags the listed messages as read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.MessageIDs) == 0 {
		sendJSONError(w, http.StatusBadRequest, "Message IDs array is required")
		return
	}

	n, err := g.store.MarkMessagesRead(r.Context(), req.MessageIDs)
	if err != nil {
		g.logger.Error("marking messages read", "count", len(req.MessageIDs), "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{Message: "Messages marked as read", Updated: n})
}

// handleHealth is the liveness check.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Server is running"})
}

// handleReady reports whether the store is reachable, with live connection counts.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "unavailable"})
		return
	}

	online := g.registry.Online(store.ClassAgent)
	writeJSON(w, http.StatusOK, readyResponse{
		Status:       "ready",
		AgentsOnline: len(online),
		UsersOnline:  g.registry.Count(store.ClassUser),
		OnlineAgents: online,
		Uptime:       time.Since(g.startedAt).Round(time.Second).String(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes {"error": msg}.
func sendJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

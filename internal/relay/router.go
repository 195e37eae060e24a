// ABOUTME: Message router: validate, persist, resolve the receiver's live connection, deliver, ack
// ABOUTME: Persistence always precedes delivery and delivery never blocks on the receiver

package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/supportdesk/internal/metrics"
	"github.com/2389/supportdesk/internal/presence"
	"github.com/2389/supportdesk/internal/store"
)

// MaxContentLength is the maximum message length in runes after trimming.
const MaxContentLength = 1000

// Resolver finds the live connection for an identity.
type Resolver interface {
	Resolve(class store.Class, identity string) (presence.Handle, bool)
}

// RouterStore is what the router needs from persistence.
type RouterStore interface {
	GetAgentByUsername(ctx context.Context, username string) (*store.Agent, error)
	SaveMessage(ctx context.Context, msg *store.Message) error
}

// SendRequest is one inbound sendMessage.
type SendRequest struct {
	SenderClass store.Class
	Sender      string
	Receiver    string
	Content     string
}

// SendResult reports what happened to a send.
type SendResult struct {
	Message *store.Message
	// Delivered is true when the receiver had a live connection that
	// accepted the messageReceived event.
	Delivered bool
}

// Router routes point-to-point messages between agents and users.
type Router struct {
	store    RouterStore
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter creates a router. Pass nil logger for default.
func NewRouter(s RouterStore, resolver Resolver, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:    s,
		resolver: resolver,
		logger:   logger.With("component", "router"),
		now:      time.Now,
	}
}

// Send persists req, hands it to the receiver's live connection if there is
// one and acks origin with messageSent. Validation and lookup failures
// persist nothing.
func (r *Router) Send(ctx context.Context, origin presence.Handle, req SendRequest) (*SendResult, error) {
	msg, err := r.validate(req)
	if err != nil {
		return nil, err
	}

	if req.SenderClass == store.ClassUser {
		if _, err := r.store.GetAgentByUsername(ctx, msg.Receiver); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, NotFound(MsgAgentNotFound)
			}
			return nil, Persistence(MsgSendFailed, err)
		}
	}

	start := time.Now()
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return nil, Persistence(MsgSendFailed, err)
	}
	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesPersisted.WithLabelValues(string(msg.SenderClass)).Inc()

	delivered := r.deliver(msg)

	ack := &MessageSent{
		ID:        msg.ID,
		Receiver:  msg.Receiver,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
	if msg.SenderClass == store.ClassUser {
		ack.Delivered = &delivered
	}
	if origin != nil {
		if err := origin.Emit(EventMessageSent, ack); err != nil {
			r.logger.Warn("ack not queued", "conn_id", origin.ID(), "message_id", msg.ID, "error", err)
		}
	}

	r.logger.Debug("message routed",
		"message_id", msg.ID,
		"sender", msg.Sender,
		"receiver", msg.Receiver,
		"delivered", delivered)

	return &SendResult{Message: msg, Delivered: delivered}, nil
}

func (r *Router) validate(req SendRequest) (*store.Message, error) {
	if !req.SenderClass.Valid() {
		return nil, Invalid(MsgInvalidMessage)
	}
	sender := strings.TrimSpace(req.Sender)
	if sender == "" {
		if req.SenderClass == store.ClassUser {
			return nil, Invalid(MsgNotIdentified)
		}
		return nil, Invalid(MsgInvalidMessage)
	}
	receiver := strings.TrimSpace(req.Receiver)
	content := strings.TrimSpace(req.Content)
	if receiver == "" || content == "" || utf8.RuneCountInString(content) > MaxContentLength {
		return nil, Invalid(MsgInvalidMessage)
	}

	return &store.Message{
		ID:            uuid.New().String(),
		Sender:        sender,
		SenderClass:   req.SenderClass,
		Receiver:      receiver,
		ReceiverClass: req.SenderClass.Opposite(),
		Content:       content,
		Timestamp:     r.now().UTC(),
	}, nil
}

func (r *Router) deliver(msg *store.Message) bool {
	h, ok := r.resolver.Resolve(msg.ReceiverClass, msg.Receiver)
	if !ok {
		return false
	}

	err := h.Emit(EventMessageReceived, &MessageReceived{
		ID:         msg.ID,
		Sender:     msg.Sender,
		SenderType: string(msg.SenderClass),
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
	})
	if err != nil {
		r.logger.Warn("delivery not queued", "conn_id", h.ID(), "message_id", msg.ID, "error", err)
		return false
	}

	if msg.ReceiverClass == store.ClassAgent {
		if err := h.Emit(EventNewUserMessage, &NewUserMessage{
			Username:    msg.Sender,
			LastMessage: msg.Content,
			Timestamp:   msg.Timestamp,
		}); err != nil {
			r.logger.Warn("inbox update not queued", "conn_id", h.ID(), "error", err)
		}
	}

	metrics.MessagesDelivered.WithLabelValues(string(msg.ReceiverClass)).Inc()
	return true
}

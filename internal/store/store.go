// ABOUTME: Store interfaces and data types for supportdesk persistence
// ABOUTME: Defines Agent, User, Message records and the endpoint Class enum

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUsernameExists is returned when trying to create an agent with a taken username.
var ErrUsernameExists = errors.New("username already exists")

// Class identifies which side of the relay an endpoint belongs to.
type Class string

const (
	ClassAgent Class = "agent"
	ClassUser  Class = "user"
)

// Valid reports whether c is one of the two endpoint classes.
func (c Class) Valid() bool {
	return c == ClassAgent || c == ClassUser
}

// Opposite returns the complementary class. Messages always flow agent<->user.
func (c Class) Opposite() Class {
	if c == ClassAgent {
		return ClassUser
	}
	return ClassAgent
}

// Agent is a registered member of support staff.
type Agent struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt
	IsOnline     bool
	LastSeen     time.Time
	ConnectionID string // empty when no live connection is bound
	CreatedAt    time.Time
}

// User is an anonymous customer, created on first identify.
type User struct {
	ID           string
	Username     string
	IsOnline     bool
	LastSeen     time.Time
	ConnectionID string
	CreatedAt    time.Time
}

// Message is a single agent<->user chat message. Only IsRead changes after insert.
type Message struct {
	ID            string
	Sender        string
	SenderClass   Class
	Receiver      string
	ReceiverClass Class
	Content       string
	Timestamp     time.Time
	IsRead        bool
}

// IdentityStore persists agent and user presence records.
type IdentityStore interface {
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByUsername(ctx context.Context, username string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)

	// SetAgentOnline returns ErrNotFound when the agent is not registered.
	SetAgentOnline(ctx context.Context, username, connectionID string, at time.Time) error
	// SetAgentOffline only clears presence if connectionID is still the bound
	// connection. The returned bool reports whether a row changed.
	SetAgentOffline(ctx context.Context, username, connectionID string, at time.Time) (bool, error)

	UpsertUserOnline(ctx context.Context, username, connectionID string, at time.Time) error
	SetUserOffline(ctx context.Context, username, connectionID string, at time.Time) (bool, error)
	GetUser(ctx context.Context, username string) (*User, error)

	// ResetPresence clears every presence record and reports how many changed.
	ResetPresence(ctx context.Context, at time.Time) (int64, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error
	// ListAgentMessages returns every message the agent sent or received,
	// newest first.
	ListAgentMessages(ctx context.Context, agent string) ([]*Message, error)
	// ListConversation returns the messages exchanged between a user and an
	// agent, oldest first.
	ListConversation(ctx context.Context, user, agent string) ([]*Message, error)
	MarkMessagesRead(ctx context.Context, ids []string) (int64, error)
}

// Store is everything the relay persists.
type Store interface {
	IdentityStore
	MessageStore

	// Close releases any resources held by the store
	Close() error
}

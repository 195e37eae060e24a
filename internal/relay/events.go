// ABOUTME: Websocket event names and payload shapes exchanged with agents and users
// ABOUTME: Every frame is {"event": name, "data": payload}

package relay

import "time"

// Inbound events.
const (
	EventIdentifyUser = "identifyUser"
	EventSendMessage  = "sendMessage"
	EventTyping       = "typing"
)

// Outbound events.
const (
	EventInitialUserList    = "initialUserList"
	EventAgentStatusChanged = "agentStatusChanged"
	EventUserStatusChanged  = "userStatusChanged"
	EventUserIdentified     = "userIdentified"
	EventMessageSent        = "messageSent"
	EventMessageReceived    = "messageReceived"
	EventNewUserMessage     = "newUserMessage"
	EventAgentTyping        = "agentTyping"
	EventUserTyping         = "userTyping"
	EventError              = "error"
)

// IdentifyUserData is the identifyUser payload.
type IdentifyUserData struct {
	Username string `json:"username"`
}

// SendMessageData is the sendMessage payload from either class.
type SendMessageData struct {
	ReceiverUsername string `json:"receiverUsername"`
	Content          string `json:"content"`
}

// TypingData is the typing payload from either class.
type TypingData struct {
	ReceiverUsername string `json:"receiverUsername"`
	IsTyping         bool   `json:"isTyping"`
}

type MessageReceived struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	SenderType string    `json:"senderType"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

type NewUserMessage struct {
	Username    string    `json:"username"`
	LastMessage string    `json:"lastMessage"`
	Timestamp   time.Time `json:"timestamp"`
}

// MessageSent acknowledges a send to its origin. Delivered is only set for
// user senders.
type MessageSent struct {
	ID        string    `json:"id"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Delivered *bool     `json:"delivered,omitempty"`
}

type AgentTyping struct {
	AgentUsername string `json:"agentUsername"`
	IsTyping      bool   `json:"isTyping"`
}

type UserTyping struct {
	UserUsername string `json:"userUsername"`
	IsTyping     bool   `json:"isTyping"`
}

// InboxEntry is one counterpart user in an agent's inbox.
type InboxEntry struct {
	Username    string    `json:"username"`
	LastMessage string    `json:"lastMessage"`
	Timestamp   time.Time `json:"timestamp"`
}

type InitialUserList struct {
	Users []InboxEntry `json:"users"`
}

// StatusChanged is sent as agentStatusChanged or userStatusChanged.
type StatusChanged struct {
	Username string    `json:"username"`
	IsOnline bool      `json:"isOnline"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// AgentSummary describes an agent in userIdentified.
type AgentSummary struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	IsOnline bool      `json:"isOnline"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

type UserIdentified struct {
	Username string         `json:"username"`
	Agents   []AgentSummary `json:"agents"`
}

type ErrorData struct {
	Message string `json:"message"`
}

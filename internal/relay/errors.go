// ABOUTME: Error taxonomy for relay operations and its mapping to client-facing text
// ABOUTME: Handlers wrap failures in *Error so the socket layer can answer with an error event

package relay

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Failure kinds. Match them with errors.Is.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrPersistence    = errors.New("persistence failure")
)

// Error is a classified relay failure carrying the text shown to clients.
type Error struct {
	Kind    error  // one of the Err* sentinels
	Message string // client-facing
	Err     error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Invalid returns an ErrInvalidRequest failure with the given client text.
func Invalid(msg string) error {
	return &Error{Kind: ErrInvalidRequest, Message: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

// Persistence returns an ErrPersistence failure wrapping cause.
func Persistence(msg string, cause error) error {
	return &Error{Kind: ErrPersistence, Message: msg, Err: cause}
}

// Client-facing messages.
const (
	MsgInvalidMessage   = "Invalid message data"
	MsgUsernameRequired = "Username is required"
	MsgUsernameLength   = "Username must be between 3 and 30 characters"
	MsgNotIdentified    = "User not identified"
	MsgReidentify       = "Connection is already identified as another user"
	MsgUnknownEvent     = "Unknown event"
	MsgAgentNotFound    = "Agent not found"
	MsgSendFailed       = "Failed to send message"
	MsgIdentifyFailed   = "Failed to identify user"
	MsgAuthFailed       = "Authentication error"
	MsgInternal         = "Internal server error"
)

// ClientMessage returns the text to put in an error event for err.
func ClientMessage(err error) string {
	var re *Error
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return MsgInvalidMessage
	case errors.Is(err, ErrNotFound):
		return MsgAgentNotFound
	case errors.Is(err, ErrPersistence):
		return MsgSendFailed
	case errors.Is(err, ErrAuthentication):
		return MsgAuthFailed
	default:
		return MsgInternal
	}
}

// Kind returns a short label for metrics.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	default:
		return "internal"
	}
}

const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// NormalizeUsername trims name and checks its length.
func NormalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Invalid(MsgUsernameRequired)
	}
	if n := utf8.RuneCountInString(name); n < MinUsernameLength || n > MaxUsernameLength {
		return "", Invalid(MsgUsernameLength)
	}
	return name, nil
}

// ABOUTME: Forwards ephemeral typing signals to the counterpart's live connection
// ABOUTME: Nothing is persisted; offline receivers are silently skipped

package relay

import (
	"log/slog"
	"strings"

	"github.com/2389/supportdesk/internal/metrics"
	"github.com/2389/supportdesk/internal/store"
)

type TypingRelay struct {
	resolver Resolver
	logger   *slog.Logger
}

func NewTypingRelay(resolver Resolver, logger *slog.Logger) *TypingRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &TypingRelay{resolver: resolver, logger: logger.With("component", "typing")}
}

// RelayTyping reports whether the signal was handed to a live connection.
func (t *TypingRelay) RelayTyping(senderClass store.Class, sender, receiver string, isTyping bool) bool {
	if !senderClass.Valid() || sender == "" {
		return false
	}
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return false
	}

	h, ok := t.resolver.Resolve(senderClass.Opposite(), receiver)
	if !ok {
		return false
	}

	var err error
	if senderClass == store.ClassAgent {
		err = h.Emit(EventAgentTyping, &AgentTyping{AgentUsername: sender, IsTyping: isTyping})
	} else {
		err = h.Emit(EventUserTyping, &UserTyping{UserUsername: sender, IsTyping: isTyping})
	}
	if err != nil {
		t.logger.Debug("typing signal dropped", "conn_id", h.ID(), "error", err)
		return false
	}

	metrics.TypingRelayed.WithLabelValues(string(senderClass)).Inc()
	return true
}

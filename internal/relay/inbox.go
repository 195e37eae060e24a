// ABOUTME: Builds an agent's inbox: one entry per counterpart user, most recent message first
// ABOUTME: Sent once as initialUserList when the agent connects

package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/supportdesk/internal/store"
)

// InboxStore lists an agent's messages newest first.
type InboxStore interface {
	ListAgentMessages(ctx context.Context, agent string) ([]*store.Message, error)
}

// Assembler builds inbox snapshots.
type Assembler struct {
	store  InboxStore
	logger *slog.Logger
}

func NewAssembler(s InboxStore, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{store: s, logger: logger.With("component", "assembler")}
}

// BuildInbox folds the agent's history to the latest message per user.
// Entries are ordered by that message's timestamp, newest first.
func (a *Assembler) BuildInbox(ctx context.Context, agent string) ([]InboxEntry, error) {
	msgs, err := a.store.ListAgentMessages(ctx, agent)
	if err != nil {
		return nil, Persistence(MsgInternal, fmt.Errorf("listing messages for %s: %w", agent, err))
	}

	entries := make([]InboxEntry, 0)
	seen := make(map[string]struct{})
	for _, m := range msgs {
		user := m.Receiver
		if m.SenderClass == store.ClassUser {
			user = m.Sender
		}
		if _, ok := seen[user]; ok {
			continue
		}
		seen[user] = struct{}{}
		entries = append(entries, InboxEntry{
			Username:    user,
			LastMessage: m.Content,
			Timestamp:   m.Timestamp,
		})
	}

	a.logger.Debug("inbox built", "agent", agent, "users", len(entries), "messages", len(msgs))
	return entries, nil
}

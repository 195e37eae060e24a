// ABOUTME: Message persistence methods on SQLiteStore
// ABOUTME: Covers save, agent inbox scan, per-pair history and batch mark-read

package store

import (
	"context"
	"fmt"
	"strings"
)

const messageColumns = `id, sender, sender_class, receiver, receiver_class, content, timestamp, is_read`

// SaveMessage inserts a message. The id and timestamp must already be set.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if !msg.SenderClass.Valid() || msg.ReceiverClass != msg.SenderClass.Opposite() {
		return fmt.Errorf("invalid message classes %q -> %q", msg.SenderClass, msg.ReceiverClass)
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Sender,
		string(msg.SenderClass),
		msg.Receiver,
		string(msg.ReceiverClass),
		msg.Content,
		formatTime(msg.Timestamp),
		msg.IsRead,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "sender", msg.Sender, "receiver", msg.Receiver)
	return nil
}

// ListAgentMessages returns every message the agent sent or received, newest first.
// Messages sharing a timestamp keep reverse insertion order.
func (s *SQLiteStore) ListAgentMessages(ctx context.Context, agent string) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (receiver = ? AND receiver_class = 'agent')
		   OR (sender = ? AND sender_class = 'agent')
		ORDER BY timestamp DESC, seq DESC
	`
	return s.queryMessages(ctx, query, agent, agent)
}

// ListConversation returns the messages between user and agent, oldest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, user, agent string) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender = ? AND receiver = ?)
		   OR (sender = ? AND receiver = ?)
		ORDER BY timestamp ASC, seq ASC
	`
	return s.queryMessages(ctx, query, user, agent, agent, user)
}

// MarkMessagesRead flags the given messages as read and reports how many changed.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var senderClass, receiverClass, ts string
		var read int

		if err := rows.Scan(&m.ID, &m.Sender, &senderClass, &m.Receiver, &receiverClass, &m.Content, &ts, &read); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		m.SenderClass = Class(senderClass)
		m.ReceiverClass = Class(receiverClass)
		m.IsRead = read != 0
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

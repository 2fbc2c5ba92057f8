package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
)

func messageIndexes(m *model.ChatMessage) map[string]any {
	return map[string]any{
		"status":     string(m.Status),
		"room_id":    m.RoomID,
		"created_at": m.CreatedAt,
	}
}

// PutMessage stores a chat message. Missing status defaults to pending and
// missing timestamps are filled in.
func (s *Store) PutMessage(ctx context.Context, m *model.ChatMessage) error {
	if m == nil || m.ID == "" {
		return errors.NewInvalidRequest("message id is required")
	}
	if m.RoomID == "" {
		return errors.NewInvalidRequest("room_id is required")
	}
	if m.Kind == "" {
		m.Kind = model.KindText
	}
	if !m.Kind.Valid() {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid message kind %q", m.Kind))
	}
	if m.Status == "" {
		m.Status = model.MessagePending
	}

	now := s.nowMillis()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	return s.Put(ctx, ChatMessages, m.ID, m, messageIndexes(m))
}

// GetMessage returns the message with id, or nil when absent.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.ChatMessage, error) {
	var m model.ChatMessage
	found, err := s.Get(ctx, ChatMessages, id, &m)
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns every queued message.
func (s *Store) ListMessages(ctx context.Context) ([]*model.ChatMessage, error) {
	raws, err := s.GetAll(ctx, ChatMessages)
	if err != nil {
		return nil, err
	}
	return decodeAll[model.ChatMessage](raws)
}

// MessagesByStatus returns the messages in status.
func (s *Store) MessagesByStatus(ctx context.Context, status model.MessageStatus) ([]*model.ChatMessage, error) {
	raws, err := s.QueryByIndex(ctx, ChatMessages, "status", string(status))
	if err != nil {
		return nil, err
	}
	return decodeAll[model.ChatMessage](raws)
}

// MessagesByRoom returns the messages queued for roomID.
func (s *Store) MessagesByRoom(ctx context.Context, roomID string) ([]*model.ChatMessage, error) {
	raws, err := s.QueryByIndex(ctx, ChatMessages, "room_id", roomID)
	if err != nil {
		return nil, err
	}
	return decodeAll[model.ChatMessage](raws)
}

// MarkMessageSent moves the message to sent. It returns nil, nil when the
// message no longer exists.
func (s *Store) MarkMessageSent(ctx context.Context, id string) (*model.ChatMessage, error) {
	return s.updateMessage(ctx, id, func(m *model.ChatMessage) {
		m.Status = model.MessageSent
		m.LastError = ""
	})
}

// RecordMessageFailure counts one more failed send. The message becomes
// failed once it reaches maxRetries attempts.
func (s *Store) RecordMessageFailure(ctx context.Context, id, reason string, maxRetries int) (*model.ChatMessage, error) {
	return s.updateMessage(ctx, id, func(m *model.ChatMessage) {
		m.Status, m.RetryCount = m.AfterFailure(maxRetries)
		m.LastError = reason
	})
}

// ResetMessage puts a failed message back into the pending queue with a
// fresh retry budget.
func (s *Store) ResetMessage(ctx context.Context, id string) (*model.ChatMessage, error) {
	return s.updateMessage(ctx, id, func(m *model.ChatMessage) {
		m.Status = model.MessagePending
		m.RetryCount = 0
		m.LastError = ""
	})
}

func (s *Store) updateMessage(ctx context.Context, id string, mutate func(*model.ChatMessage)) (*model.ChatMessage, error) {
	var out *model.ChatMessage
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var m model.ChatMessage
		found, err := getRecord(ctx, tx, ChatMessages, id, &m)
		if err != nil || !found {
			return err
		}
		mutate(&m)
		m.UpdatedAt = s.nowMillis()
		if err := putRecord(ctx, tx, ChatMessages, id, &m, messageIndexes(&m)); err != nil {
			return err
		}
		out = &m
		return nil
	})
	return out, err
}

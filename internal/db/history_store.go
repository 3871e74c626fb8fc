package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// HistoryStore is the per-(user, workflow) conversation log. All messages
// live in one chat_messages table; isolation comes from tagging each row
// with the active_workflow value in force at write time and filtering loads
// by the value in force at read time. Both are live reads of the profile
// row, not values cached at the start of the request.
type HistoryStore struct {
	client *Client
	logger *zap.Logger
}

func NewHistoryStore(client *Client, logger *zap.Logger) *HistoryStore {
	return &HistoryStore{client: client, logger: logger}
}

// activeWorkflow resolves the user's current workflow tag. A missing
// profile row means no workflow.
func (s *HistoryStore) activeWorkflow(ctx context.Context, userID string) (*string, error) {
	var tag sql.NullString
	err := s.client.DB().GetContext(ctx, &tag,
		`SELECT active_workflow FROM user_profiles WHERE user_id = $1`, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active workflow: %w", err)
	}
	if !tag.Valid || tag.String == "" {
		return nil, nil
	}
	return &tag.String, nil
}

// Load returns the user's history scoped to the currently active workflow,
// oldest first. Untagged rows belong to no workflow and are only visible
// when no workflow is active.
func (s *HistoryStore) Load(ctx context.Context, userID string) ([]models.ChatMessage, error) {
	tag, err := s.activeWorkflow(ctx, userID)
	if err != nil {
		return nil, err
	}

	var msgs []models.ChatMessage
	if tag != nil {
		err = s.client.DB().SelectContext(ctx, &msgs,
			`SELECT id, user_id, sender, content, workflow, created_at
			 FROM chat_messages WHERE user_id = $1 AND workflow = $2
			 ORDER BY created_at ASC`, userID, *tag)
	} else {
		err = s.client.DB().SelectContext(ctx, &msgs,
			`SELECT id, user_id, sender, content, workflow, created_at
			 FROM chat_messages WHERE user_id = $1 AND workflow IS NULL
			 ORDER BY created_at ASC`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return msgs, nil
}

// Append persists messages produced by the normal load/save cycle, tagging
// each with the live active_workflow value.
func (s *HistoryStore) Append(ctx context.Context, userID string, msgs []models.ChatMessage) error {
	return s.insert(ctx, userID, msgs)
}

// InsertExplicit persists a turn assembled outside the incremental flow,
// typically the (user message, assembled response) pair written after the
// event stream has already been forwarded. One statement, so the pair
// lands atomically.
func (s *HistoryStore) InsertExplicit(ctx context.Context, userID string, msgs []models.ChatMessage) error {
	return s.insert(ctx, userID, msgs)
}

func (s *HistoryStore) insert(ctx context.Context, userID string, msgs []models.ChatMessage) error {
	kept := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		return nil
	}

	tag, err := s.activeWorkflow(ctx, userID)
	if err != nil {
		return err
	}

	placeholders := make([]string, 0, len(kept))
	args := make([]interface{}, 0, len(kept)*4)
	for i, m := range kept {
		base := i * 4
		placeholders = append(placeholders,
			fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, userID, m.Sender, m.Content, tag)
	}

	query := "INSERT INTO chat_messages (user_id, sender, content, workflow) VALUES " +
		strings.Join(placeholders, ", ")
	if _, err := s.client.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}

	s.logger.Debug("Persisted chat messages",
		zap.String("user_id", userID),
		zap.Int("count", len(kept)),
	)
	return nil
}

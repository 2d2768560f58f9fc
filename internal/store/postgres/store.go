// Package postgres implements store.Store on pgx/v5. Message sequence
// allocation relies on the UNIQUE(conversation_id, sequence) constraint with
// a bounded retry, so concurrent appenders to the same conversation can never
// observe the same sequence.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexusvoice/backend/internal/model/conversation"
	"github.com/nexusvoice/backend/internal/model/role"
	"github.com/nexusvoice/backend/internal/model/user"
	"github.com/nexusvoice/backend/internal/store"
)

// Compile-time check to ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)

const uniqueViolation = "23505"

// appendRetries bounds the unique-violation retry loop for sequence
// allocation. Two retries cover bursts far beyond anything a single
// conversation produces in practice.
const appendRetries = 3

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) CreateConversation(ctx context.Context, arg store.CreateConversationParams) (*conversation.Conversation, error) {
	conv := conversation.Conversation{
		ID:           uuid.NewString(),
		UserID:       arg.UserID,
		RoleID:       arg.RoleID,
		Title:        arg.Title,
		ModelName:    arg.ModelName,
		SystemPrompt: arg.SystemPrompt,
		Status:       conversation.StatusActive,
	}

	query := `
		INSERT INTO conversations (id, user_id, role_id, title, model_name, system_prompt, status)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		RETURNING last_active_at, created_at`

	err := s.db.QueryRow(ctx, query,
		conv.ID, conv.UserID, conv.RoleID, conv.Title, conv.ModelName, conv.SystemPrompt, conv.Status,
	).Scan(&conv.LastActiveAt, &conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

const conversationColumns = `id, user_id, COALESCE(role_id::text, ''), title, model_name, system_prompt, status, deleted, last_active_at, created_at`

func scanConversation(row pgx.Row) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	err := row.Scan(&conv.ID, &conv.UserID, &conv.RoleID, &conv.Title, &conv.ModelName,
		&conv.SystemPrompt, &conv.Status, &conv.Deleted, &conv.LastActiveAt, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1 AND NOT deleted`
	return scanConversation(s.db.QueryRow(ctx, query, id))
}

func (s *Store) GetConversationForUser(ctx context.Context, id, userID string) (*conversation.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1 AND user_id = $2 AND NOT deleted`
	return scanConversation(s.db.QueryRow(ctx, query, id, userID))
}

func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]store.ConversationPreview, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ` + conversationColumns + `,
		       COALESCE((SELECT m.content FROM conversation_messages m
		                 WHERE m.conversation_id = c.id
		                 ORDER BY m.sequence DESC LIMIT 1), ''),
		       (SELECT COUNT(*) FROM conversation_messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE user_id = $1 AND NOT deleted
		ORDER BY last_active_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	previews := make([]store.ConversationPreview, 0, limit)
	for rows.Next() {
		var p store.ConversationPreview
		conv := &p.Conversation
		err := rows.Scan(&conv.ID, &conv.UserID, &conv.RoleID, &conv.Title, &conv.ModelName,
			&conv.SystemPrompt, &conv.Status, &conv.Deleted, &conv.LastActiveAt, &conv.CreatedAt,
			&p.LastMessage, &p.MessageCount)
		if err != nil {
			return nil, fmt.Errorf("scan conversation preview: %w", err)
		}
		if runes := []rune(p.LastMessage); len(runes) > 100 {
			p.LastMessage = string(runes[:100]) + "..."
		}
		previews = append(previews, p)
	}
	return previews, rows.Err()
}

func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	tag, err := s.db.Exec(ctx, `UPDATE conversations SET title = $2 WHERE id = $1 AND NOT deleted`, id, title)
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SoftDeleteConversation(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE conversations SET deleted = TRUE WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return fmt.Errorf("soft delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AppendMessage inserts with sequence = COALESCE(MAX(sequence), 0)+1 and
// bumps last_active_at inside one transaction. A concurrent appender that
// grabbed the same sequence trips the unique constraint and we retry.
func (s *Store) AppendMessage(ctx context.Context, msg conversation.Message) (*conversation.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = conversation.MessageSent
	}

	for attempt := 0; attempt < appendRetries; attempt++ {
		seq, err := s.tryAppend(ctx, &msg)
		if err == nil {
			msg.Sequence = seq
			copied := msg
			return &copied, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			continue
		}
		return nil, err
	}
	return nil, store.ErrSequenceConflict
}

func (s *Store) tryAppend(ctx context.Context, msg *conversation.Message) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO conversation_messages
			(id, conversation_id, role, content, sequence, token_count, status, metadata, audio_url, sent_at)
		SELECT $1, $2, $3, $4, COALESCE(MAX(sequence), 0) + 1, $5, $6, $7, NULLIF($8, ''), $9
		FROM conversation_messages WHERE conversation_id = $2
		RETURNING sequence`

	var seq int
	err = tx.QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.Role, msg.Content,
		msg.TokenCount, msg.Status, msg.Metadata, msg.AudioURL, msg.SentAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET last_active_at = NOW() WHERE id = $1 AND NOT deleted`,
		msg.ConversationID)
	if err != nil {
		return 0, fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, store.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append tx: %w", err)
	}
	return seq, nil
}

func (s *Store) History(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, sequence, token_count, status,
		       COALESCE(metadata, ''), COALESCE(audio_url, ''), sent_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY sequence`

	rows, err := s.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var m conversation.Message
		err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Sequence,
			&m.TokenCount, &m.Status, &m.Metadata, &m.AudioURL, &m.SentAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = $1`,
		conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (s *Store) SumTokenCount(ctx context.Context, conversationID string) (int, error) {
	var total int
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(token_count), 0) FROM conversation_messages WHERE conversation_id = $1`,
		conversationID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum token count: %w", err)
	}
	return total, nil
}

func (s *Store) CreateRole(ctx context.Context, r role.Role) (*role.Role, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	query := `
		INSERT INTO roles (id, user_id, name, description, persona_prompt, greeting_message,
		                   greeting_audio_url, avatar_url, voice_type)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query,
		r.ID, r.UserID, r.Name, r.Description, r.PersonaPrompt, r.GreetingMessage,
		r.GreetingAudioURL, r.AvatarURL, r.VoiceType,
	).Scan(&r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	return &r, nil
}

func (s *Store) GetRoleForChat(ctx context.Context, id, userID string) (*role.Role, error) {
	query := `
		SELECT id, COALESCE(user_id::text, ''), name, description, persona_prompt, greeting_message,
		       COALESCE(greeting_audio_url, ''), COALESCE(avatar_url, ''), voice_type, created_at
		FROM roles
		WHERE id = $1 AND (user_id IS NULL OR user_id = $2)`

	var r role.Role
	err := s.db.QueryRow(ctx, query, id, userID).Scan(&r.ID, &r.UserID, &r.Name, &r.Description,
		&r.PersonaPrompt, &r.GreetingMessage, &r.GreetingAudioURL, &r.AvatarURL, &r.VoiceType, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	return &r, nil
}

func (s *Store) UpdateRoleGreetingAudio(ctx context.Context, id, userID, audioURL, voiceType string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE roles SET greeting_audio_url = $3, voice_type = COALESCE(NULLIF($4, ''), voice_type)
		WHERE id = $1 AND (user_id IS NULL OR user_id = $2)`,
		id, userID, audioURL, voiceType)
	if err != nil {
		return fmt.Errorf("update role greeting audio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u user.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, hashed_password) VALUES ($1, $2, $3)`,
		u.ID, u.Email, u.HashedPassword)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	var u user.User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, hashed_password, created_at FROM users WHERE email = $1`,
		email).Scan(&u.ID, &u.Email, &u.HashedPassword, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

func (s *Store) GetSystemConfig(ctx context.Context, key string) (*store.SystemConfig, error) {
	var cfg store.SystemConfig
	err := s.db.QueryRow(ctx,
		`SELECT config_key, config_value, enabled FROM system_configs WHERE config_key = $1`,
		key).Scan(&cfg.Key, &cfg.Value, &cfg.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get system config: %w", err)
	}
	return &cfg, nil
}

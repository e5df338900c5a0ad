package sessionctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"docchat/src/core/docchat"
)

type sessionModel struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	Title      string `gorm:"type:varchar(255);not null"`
	Filename   string `gorm:"type:varchar(255);not null"`
	Format     string `gorm:"type:varchar(16);not null"`
	Size       int64  `gorm:"not null"`
	ObjectKey  string `gorm:"type:varchar(255);not null"`
	ChunkCount int    `gorm:"not null;default:0"`
	Status     string `gorm:"type:varchar(16);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (sessionModel) TableName() string {
	return "sessions"
}

type messageModel struct {
	ID         int64  `gorm:"primaryKey"`
	SessionID  string `gorm:"type:varchar(36);not null;index"`
	Role       string `gorm:"type:varchar(16);not null"`
	Content    string `gorm:"type:text;not null"`
	Incomplete bool   `gorm:"not null;default:false"`
	CreatedAt  time.Time
}

func (messageModel) TableName() string {
	return "messages"
}

// SessionRepository persists sessions and their chat history in postgres.
type SessionRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewSessionRepository(db *gorm.DB, node *snowflake.Node) (*SessionRepository, error) {
	if err := db.AutoMigrate(&sessionModel{}, &messageModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session tables: %v", err)
	}

	return &SessionRepository{
		db:   db,
		node: node,
	}, nil
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *docchat.Session) error {
	model := toSessionModel(session)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create session: %v", err)
	}

	session.CreatedAt = model.CreatedAt
	session.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*docchat.Session, error) {
	var model sessionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, docchat.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %v", err)
	}

	return toDomainSession(&model), nil
}

func (r *SessionRepository) ListSessions(ctx context.Context) ([]docchat.Session, error) {
	var models []sessionModel
	err := r.db.WithContext(ctx).Order("updated_at DESC").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %v", err)
	}

	sessions := make([]docchat.Session, 0, len(models))
	for i := range models {
		sessions = append(sessions, *toDomainSession(&models[i]))
	}
	return sessions, nil
}

func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, sessionID string, status docchat.SessionStatus, chunkCount int) error {
	result := r.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":      string(status),
			"chunk_count": chunkCount,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update session status: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return docchat.ErrSessionNotFound
	}

	return nil
}

func (r *SessionRepository) UpdateSessionTitle(ctx context.Context, sessionID string, title string) error {
	result := r.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ?", sessionID).
		Update("title", title)
	if result.Error != nil {
		return fmt.Errorf("failed to update session title: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return docchat.ErrSessionNotFound
	}

	return nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&messageModel{}, "session_id = ?", sessionID).Error; err != nil {
			return fmt.Errorf("failed to delete session messages: %v", err)
		}

		result := tx.Delete(&sessionModel{}, "id = ?", sessionID)
		if result.Error != nil {
			return fmt.Errorf("failed to delete session: %v", result.Error)
		}
		if result.RowsAffected == 0 {
			return docchat.ErrSessionNotFound
		}

		return nil
	})

	return err
}

func (r *SessionRepository) AppendMessage(ctx context.Context, message *docchat.Message) error {
	if message.ID == 0 {
		message.ID = r.node.Generate().Int64()
	}

	model := toMessageModel(message)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to append message: %v", err)
	}

	message.CreatedAt = model.CreatedAt
	return nil
}

func (r *SessionRepository) ListMessages(ctx context.Context, sessionID string) ([]docchat.Message, error) {
	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %v", err)
	}

	messages := make([]docchat.Message, 0, len(models))
	for i := range models {
		messages = append(messages, *toDomainMessage(&models[i]))
	}
	return messages, nil
}

// ListRecentMessages returns the latest n messages in chronological order.
func (r *SessionRepository) ListRecentMessages(ctx context.Context, sessionID string, n int) ([]docchat.Message, error) {
	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(n).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %v", err)
	}

	messages := make([]docchat.Message, len(models))
	for i := range models {
		messages[len(models)-1-i] = *toDomainMessage(&models[i])
	}
	return messages, nil
}

func (r *SessionRepository) CountUserMessages(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("session_id = ? AND role = ?", sessionID, docchat.RoleUser).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count user messages: %v", err)
	}

	return count, nil
}

func toSessionModel(s *docchat.Session) *sessionModel {
	return &sessionModel{
		ID:         s.ID,
		Title:      s.Title,
		Filename:   s.Filename,
		Format:     s.Format,
		Size:       s.Size,
		ObjectKey:  s.ObjectKey,
		ChunkCount: s.ChunkCount,
		Status:     string(s.Status),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func toDomainSession(m *sessionModel) *docchat.Session {
	return &docchat.Session{
		ID:         m.ID,
		Title:      m.Title,
		Filename:   m.Filename,
		Format:     m.Format,
		Size:       m.Size,
		ObjectKey:  m.ObjectKey,
		ChunkCount: m.ChunkCount,
		Status:     docchat.SessionStatus(m.Status),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func toMessageModel(m *docchat.Message) *messageModel {
	return &messageModel{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Role:       m.Role,
		Content:    m.Content,
		Incomplete: m.Incomplete,
		CreatedAt:  m.CreatedAt,
	}
}

func toDomainMessage(m *messageModel) *docchat.Message {
	return &docchat.Message{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Role:       m.Role,
		Content:    m.Content,
		Incomplete: m.Incomplete,
		CreatedAt:  m.CreatedAt,
	}
}

package docchat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionNotReady = errors.New("session index is not built yet")
	ErrEmptyDocument   = errors.New("document produced no text to index")
	ErrInvalidRequest  = errors.New("invalid request")
)

// SessionStatus tracks the ingestion lifecycle of a session. A session is
// only queryable once its index build has completed.
type SessionStatus string

const (
	StatusBuilding SessionStatus = "building"
	StatusReady    SessionStatus = "ready"
	StatusFailed   SessionStatus = "failed"
)

// Session groups one uploaded document, its index and its message log.
type Session struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Filename   string        `json:"filename"`
	Format     string        `json:"format"`
	Size       int64         `json:"size"`
	ObjectKey  string        `json:"objectKey"`
	ChunkCount int           `json:"chunkCount"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// Message is one turn in a session's conversation. Incomplete marks an
// assistant answer whose generation was cancelled or failed mid-stream.
type Message struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Incomplete bool      `json:"incomplete,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MetadataStore persists sessions and their append-only message logs.
type MetadataStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, chunkCount int) error
	UpdateSessionTitle(ctx context.Context, id string, title string) error
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	ListRecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error)
	CountUserMessages(ctx context.Context, sessionID string) (int64, error)
}

// ObjectStore keeps the raw uploaded file and its extracted text.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

// LLMProvider defines operations against the hosted model API: one call
// shape for embeddings and one for streamed generation. GenerateStream
// invokes onFragment for every fragment as it arrives and returns once the
// stream is done; an onFragment error aborts the upstream call.
type LLMProvider interface {
	GetEmbedding(ctx context.Context, model string, input string) ([]float32, error)
	GenerateStream(ctx context.Context, model, system, prompt string, onFragment func(fragment string) error) error
}

// JobQueue enqueues background work; nil-able, in which case ingestion
// builds the index inline.
type JobQueue interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}) error
}

// ProviderError describes an upstream embedding/generation failure in a
// caller-presentable way. Retryable tells the caller whether trying again
// later can help; the core itself never retries.
type ProviderError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %s", e.Op, e.Message)
}

// Config is the tuning surface of the core pipeline.
type Config struct {
	ChunkSize         int
	ChunkOverlap      int
	TopK              int
	HistoryWindow     int
	MaxContextTokens  int
	GenerationTimeout time.Duration
	EmbeddingModel    string
	GenerationModel   string
}

// DefaultConfig returns the shipped pipeline defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:         1000,
		ChunkOverlap:      200,
		TopK:              4,
		HistoryWindow:     10,
		MaxContextTokens:  4000,
		GenerationTimeout: 60 * time.Second,
		EmbeddingModel:    "nomic-embed-text",
		GenerationModel:   "llama3",
	}
}

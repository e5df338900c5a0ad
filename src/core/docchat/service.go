package docchat

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docchat/src/core/chunker"
	"docchat/src/core/extract"
	"docchat/src/core/index"
	"docchat/src/core/taskctrl"
	"docchat/src/fsutil"
	"docchat/src/infrastructure/log"
)

// Service drives the whole document chat pipeline: ingestion, index
// builds, retrieval-backed answering and session lifecycle.
type Service struct {
	meta     MetadataStore
	objects  ObjectStore
	provider LLMProvider
	queue    JobQueue
	files    fsutil.FileStore
	tasks    *taskctrl.Controller
	cfg      Config
	dataRoot string
	tok      tokenizer

	mu      sync.RWMutex
	indexes map[string]*index.Index
}

// NewService wires the pipeline. A nil queue makes Ingest build the index
// inline before returning, which is what the CLI ingest path wants.
func NewService(
	meta MetadataStore,
	objects ObjectStore,
	provider LLMProvider,
	queue JobQueue,
	files fsutil.FileStore,
	dataRoot string,
	cfg Config,
) *Service {
	return &Service{
		meta:     meta,
		objects:  objects,
		provider: provider,
		queue:    queue,
		files:    files,
		tasks:    taskctrl.NewController(),
		cfg:      cfg,
		dataRoot: dataRoot,
		indexes:  make(map[string]*index.Index),
	}
}

// SetQueue attaches the background queue after construction. The queue
// implementation calls back into BuildSessionIndex, so the two sides are
// built one after the other.
func (s *Service) SetQueue(queue JobQueue) {
	s.queue = queue
}

func (s *Service) tokenizer() (tokenizer, error) {
	if s.tok != nil {
		return s.tok, nil
	}
	return defaultTokenizer()
}

// Ingest stores the uploaded document, creates its session and kicks off
// the index build. The returned session is in StatusBuilding unless the
// build ran inline.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte) (*Session, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidRequest)
	}

	format, err := extract.FormatFromFilename(filename)
	if err != nil {
		return nil, err
	}

	// Extract up front so a broken file fails the request instead of the
	// background job.
	text, err := extract.Extract(ctx, data, format)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	sessionID := uuid.NewString()
	rawKey := rawObjectKey(sessionID, filename)
	textKey := textObjectKey(sessionID)

	if err := s.objects.PutObject(ctx, rawKey, data, contentTypeFor(format)); err != nil {
		return nil, fmt.Errorf("failed to store uploaded file: %w", err)
	}
	if err := s.objects.PutObject(ctx, textKey, []byte(text), "text/plain; charset=utf-8"); err != nil {
		return nil, fmt.Errorf("failed to store extracted text: %w", err)
	}

	session := &Session{
		ID:        sessionID,
		Title:     filename,
		Filename:  filename,
		Format:    string(format),
		Size:      int64(len(data)),
		ObjectKey: rawKey,
		Status:    StatusBuilding,
	}
	if err := s.meta.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	if s.queue != nil {
		payload := map[string]string{"session_id": sessionID}
		if err := s.queue.Enqueue(ctx, "index_build", payload); err != nil {
			// The session row already exists; without the job it would
			// sit in building forever, so mark it failed.
			if statusErr := s.meta.UpdateSessionStatus(ctx, sessionID, StatusFailed, 0); statusErr != nil {
				log.Error(statusErr, "failed to mark session failed", "session_id", sessionID)
			}
			return nil, fmt.Errorf("failed to enqueue index build: %w", err)
		}
		return session, nil
	}

	if err := s.BuildSessionIndex(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.meta.GetSession(ctx, sessionID)
}

// BuildSessionIndex chunks the session's extracted text, embeds every
// chunk and persists the finished index. It is the worker entry point and
// also runs inline when no queue is configured.
func (s *Service) BuildSessionIndex(ctx context.Context, sessionID string) error {
	return s.buildSessionIndex(ctx, sessionID, nil)
}

// BuildSessionIndexWithProgress is BuildSessionIndex with an embedding
// progress callback for interactive use.
func (s *Service) BuildSessionIndexWithProgress(ctx context.Context, sessionID string, progress func(done, total int)) error {
	return s.buildSessionIndex(ctx, sessionID, progress)
}

func (s *Service) buildSessionIndex(ctx context.Context, sessionID string, progress func(done, total int)) error {
	session, err := s.meta.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	idx, err := s.buildIndex(ctx, session, progress)
	if err != nil {
		if statusErr := s.meta.UpdateSessionStatus(ctx, sessionID, StatusFailed, 0); statusErr != nil {
			log.Error(statusErr, "failed to mark session failed", "session_id", sessionID)
		}
		return err
	}

	s.mu.Lock()
	s.indexes[sessionID] = idx
	s.mu.Unlock()

	if err := s.meta.UpdateSessionStatus(ctx, sessionID, StatusReady, idx.Len()); err != nil {
		return err
	}

	greeting := fmt.Sprintf(
		"I've processed your document %q into %d searchable sections. Ask me anything about it.",
		session.Filename, idx.Len(),
	)
	msg := &Message{
		SessionID: sessionID,
		Role:      RoleAssistant,
		Content:   greeting,
	}
	if err := s.meta.AppendMessage(ctx, msg); err != nil {
		return err
	}

	log.Info("session index built", "session_id", sessionID, "chunks", idx.Len())
	return nil
}

func (s *Service) buildIndex(ctx context.Context, session *Session, progress func(done, total int)) (*index.Index, error) {
	text, err := s.objects.GetObject(ctx, textObjectKey(session.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load extracted text: %w", err)
	}

	ck, err := chunker.New(s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	chunks, err := ck.Chunk(session.ID, string(text))
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	var opts []index.BuildOption
	if progress != nil {
		opts = append(opts, index.WithProgress(progress))
	}

	embedder := &providerEmbedder{provider: s.provider, model: s.cfg.EmbeddingModel}
	idx, err := index.Build(ctx, embedder, session.ID, chunks, opts...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := idx.Encode(&buf); err != nil {
		return nil, err
	}
	if err := s.files.WriteFile(s.indexPath(session.ID), buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to persist index: %w", err)
	}

	return idx, nil
}

// sessionIndex returns the cached index, restoring it from disk after a
// restart. The serialized index is recreated from the stored text when the
// file is gone, so a wiped data directory degrades gracefully.
func (s *Service) sessionIndex(ctx context.Context, session *Session) (*index.Index, error) {
	s.mu.RLock()
	idx, ok := s.indexes[session.ID]
	s.mu.RUnlock()
	if ok {
		return idx, nil
	}

	path := s.indexPath(session.ID)
	if s.files.Exists(path) {
		data, err := s.files.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read index file: %w", err)
		}
		idx, err = index.Decode(bytes.NewReader(data))
		if err == nil {
			s.mu.Lock()
			s.indexes[session.ID] = idx
			s.mu.Unlock()
			return idx, nil
		}
		log.Error(err, "stored index unusable, rebuilding", "session_id", session.ID)
	}

	idx, err := s.buildIndex(ctx, session, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.indexes[session.ID] = idx
	s.mu.Unlock()
	return idx, nil
}

// Stop cancels the session's in-flight generation, if any. Stopping an
// idle session is a no-op.
func (s *Service) Stop(sessionID string) {
	s.tasks.Cancel(sessionID)
}

// Active reports whether the session has a generation in flight.
func (s *Service) Active(sessionID string) bool {
	return s.tasks.Active(sessionID)
}

// GetSession returns session metadata.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return s.meta.GetSession(ctx, sessionID)
}

// ListSessions returns all sessions, most recently touched first.
func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	return s.meta.ListSessions(ctx)
}

// History returns the session's full message log in order.
func (s *Service) History(ctx context.Context, sessionID string) ([]Message, error) {
	if _, err := s.meta.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.meta.ListMessages(ctx, sessionID)
}

// DeleteSession cancels any running generation and removes the session's
// metadata, stored objects and index.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := s.meta.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	s.tasks.Cancel(sessionID)

	if err := s.meta.DeleteSession(ctx, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.indexes, sessionID)
	s.mu.Unlock()

	keys := []string{session.ObjectKey, textObjectKey(sessionID)}
	if err := s.objects.DeleteObjects(ctx, keys); err != nil {
		log.Error(err, "failed to delete session objects", "session_id", sessionID)
	}
	if err := s.files.RemoveAll(filepath.Join(s.dataRoot, sessionID)); err != nil {
		log.Error(err, "failed to delete session index file", "session_id", sessionID)
	}

	return nil
}

// CleanupSessions deletes every session created more than olderThan ago,
// cascading through DeleteSession, and returns the number removed. Meant
// for periodic maintenance; a delete failure stops the sweep so the
// remainder is retried on the next run.
func (s *Service) CleanupSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: cleanup age must be positive", ErrInvalidRequest)
	}

	sessions, err := s.meta.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for _, session := range sessions {
		if !session.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.DeleteSession(ctx, session.ID); err != nil {
			return deleted, err
		}
		deleted++
	}

	if deleted > 0 {
		log.Info("cleaned up old sessions", "deleted", deleted)
	}
	return deleted, nil
}

// Health reports liveness of the metadata store.
func (s *Service) Health(ctx context.Context) error {
	_, err := s.meta.ListSessions(ctx)
	return err
}

func (s *Service) indexPath(sessionID string) string {
	return filepath.Join(s.dataRoot, sessionID, "index.gob")
}

func rawObjectKey(sessionID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return sessionID + "/raw" + ext
}

func textObjectKey(sessionID string) string {
	return sessionID + "/extracted.txt"
}

func contentTypeFor(format extract.Format) string {
	switch format {
	case extract.FormatPDF:
		return "application/pdf"
	case extract.FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/plain; charset=utf-8"
	}
}

// providerEmbedder adapts the provider client to the index embedder.
type providerEmbedder struct {
	provider LLMProvider
	model    string
}

func (e *providerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.provider.GetEmbedding(ctx, e.model, text)
}

package docchat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"docchat/src/core/taskctrl"
	"docchat/src/infrastructure/log"
)

// StreamStatus is the terminal state of one answer stream.
type StreamStatus string

const (
	StreamCompleted StreamStatus = "completed"
	StreamCancelled StreamStatus = "cancelled"
	StreamFailed    StreamStatus = "failed"
)

// Stream delivers one generated answer fragment by fragment. Fragments()
// is closed when generation ends; Status, Err and Answer are valid only
// after that.
type Stream struct {
	fragments chan string

	mu     sync.Mutex
	status StreamStatus
	err    error
	answer strings.Builder
}

// Fragments yields answer fragments in order. The channel is closed on
// completion, cancellation or failure.
func (st *Stream) Fragments() <-chan string {
	return st.fragments
}

// Status reports how the stream ended.
func (st *Stream) Status() StreamStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}

// Err returns the failure cause, nil unless Status is StreamFailed.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Answer returns the concatenation of all fragments delivered so far.
func (st *Stream) Answer() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.answer.String()
}

// Wait blocks until generation ends, discarding undelivered fragments, and
// returns the failure cause if any. For callers that only want the final
// Answer.
func (st *Stream) Wait(ctx context.Context) error {
	for {
		select {
		case _, ok := <-st.fragments:
			if !ok {
				return st.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// push records the fragment and hands it to the consumer. A consumer that
// went away would block the send forever, so the send races the task
// context and reports cancellation upward instead.
func (st *Stream) push(ctx context.Context, fragment string) error {
	st.mu.Lock()
	st.answer.WriteString(fragment)
	st.mu.Unlock()

	select {
	case st.fragments <- fragment:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *Stream) finish(status StreamStatus, err error) {
	st.mu.Lock()
	st.status = status
	st.err = err
	st.mu.Unlock()
	close(st.fragments)
}

// Ask answers a question about the session's document. Retrieval and
// prompt assembly happen synchronously so parameter problems surface as a
// direct error; generation then streams on the returned Stream. Only one
// generation per session may run at a time.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (*Stream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrInvalidRequest
	}

	session, err := s.meta.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusReady {
		return nil, ErrSessionNotReady
	}

	task, err := s.tasks.Register(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stream, err := s.startGeneration(ctx, task, session, question)
	if err != nil {
		s.tasks.Unregister(task)
		return nil, err
	}
	return stream, nil
}

func (s *Service) startGeneration(ctx context.Context, task *taskctrl.Task, session *Session, question string) (*Stream, error) {
	idx, err := s.sessionIndex(ctx, session)
	if err != nil {
		return nil, err
	}

	embedder := &providerEmbedder{provider: s.provider, model: s.cfg.EmbeddingModel}
	results, err := idx.Search(ctx, embedder, question, s.cfg.TopK)
	if err != nil {
		return nil, err
	}

	history, err := s.meta.ListRecentMessages(ctx, session.ID, s.cfg.HistoryWindow)
	if err != nil {
		return nil, err
	}

	tok, err := s.tokenizer()
	if err != nil {
		return nil, err
	}
	system, prompt := buildPrompt(tok, results, history, question, s.cfg.MaxContextTokens)

	stream := &Stream{fragments: make(chan string)}
	go s.generate(task, session, question, system, prompt, stream)
	return stream, nil
}

func (s *Service) generate(task *taskctrl.Task, session *Session, question, system, prompt string, stream *Stream) {
	defer s.tasks.Unregister(task)

	// Inactivity watchdog: each fragment rearms the timer, a stall past
	// GenerationTimeout cancels the upstream call. The watchdog cancels
	// its own task handle, never the session id: a timer firing just as
	// the stream completes must not hit a successor task registered for
	// the same session in the meantime.
	timer := time.NewTimer(s.cfg.GenerationTimeout)
	defer timer.Stop()
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	timedOut := make(chan struct{})
	go func() {
		select {
		case <-timer.C:
			close(timedOut)
			s.tasks.CancelTask(task)
		case <-watchCtx.Done():
		}
	}()

	genErr := s.provider.GenerateStream(task.Context(), s.cfg.GenerationModel, system, prompt, func(fragment string) error {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.cfg.GenerationTimeout)
		return stream.push(task.Context(), fragment)
	})
	cancelWatch()

	ctx := context.Background()

	var status StreamStatus
	var streamErr error
	switch {
	case genErr == nil:
		s.persistTurn(ctx, session, question, stream.Answer(), false)
		status = StreamCompleted

	case isTimeout(genErr, timedOut):
		if stream.Answer() != "" {
			s.persistTurn(ctx, session, question, stream.Answer(), true)
		}
		status = StreamFailed
		streamErr = errors.New("generation stalled past the configured timeout")

	case errors.Is(genErr, context.Canceled):
		if stream.Answer() != "" {
			s.persistTurn(ctx, session, question, stream.Answer(), true)
		}
		status = StreamCancelled

	default:
		if stream.Answer() != "" {
			s.persistTurn(ctx, session, question, stream.Answer(), true)
		}
		status = StreamFailed
		streamErr = genErr
	}

	// Release the session before the channel closes so a caller observing
	// the closed stream can immediately ask again.
	s.tasks.Unregister(task)
	stream.finish(status, streamErr)
}

func isTimeout(genErr error, timedOut chan struct{}) bool {
	select {
	case <-timedOut:
		return errors.Is(genErr, context.Canceled) || errors.Is(genErr, context.DeadlineExceeded)
	default:
		return false
	}
}

// persistTurn appends the question and the (possibly partial) answer to
// the session log and retitles the session after its first question. A
// generation that produced no text leaves the log untouched, so the
// question can simply be asked again.
func (s *Service) persistTurn(ctx context.Context, session *Session, question, answer string, incomplete bool) {
	userMsg := &Message{
		SessionID: session.ID,
		Role:      RoleUser,
		Content:   question,
	}
	if err := s.meta.AppendMessage(ctx, userMsg); err != nil {
		log.Error(err, "failed to persist user message", "session_id", session.ID)
		return
	}

	assistantMsg := &Message{
		SessionID:  session.ID,
		Role:       RoleAssistant,
		Content:    answer,
		Incomplete: incomplete,
	}
	if err := s.meta.AppendMessage(ctx, assistantMsg); err != nil {
		log.Error(err, "failed to persist assistant message", "session_id", session.ID)
	}

	count, err := s.meta.CountUserMessages(ctx, session.ID)
	if err != nil {
		log.Error(err, "failed to count user messages", "session_id", session.ID)
		return
	}
	if count == 1 {
		if err := s.meta.UpdateSessionTitle(ctx, session.ID, truncateRunes(question, 50)); err != nil {
			log.Error(err, "failed to update session title", "session_id", session.ID)
		}
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

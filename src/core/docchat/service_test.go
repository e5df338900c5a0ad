package docchat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"docchat/src/fsutil"
)

// stubMeta is an in-memory MetadataStore.
type stubMeta struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages []Message
	nextID   int64
}

func newStubMeta() *stubMeta {
	return &stubMeta{sessions: make(map[string]*Session)}
}

func (m *stubMeta) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *stubMeta) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *stubMeta) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (m *stubMeta) UpdateSessionStatus(_ context.Context, id string, status SessionStatus, chunkCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = status
	s.ChunkCount = chunkCount
	return nil
}

func (m *stubMeta) UpdateSessionTitle(_ context.Context, id string, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Title = title
	return nil
}

func (m *stubMeta) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.SessionID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *stubMeta) AppendMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	msg.CreatedAt = time.Now()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *stubMeta) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *stubMeta) ListRecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error) {
	all, err := m.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *stubMeta) CountUserMessages(ctx context.Context, sessionID string) (int64, error) {
	all, err := m.ListMessages(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, msg := range all {
		if msg.Role == RoleUser {
			count++
		}
	}
	return count, nil
}

// stubObjects is an in-memory ObjectStore.
type stubObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newStubObjects() *stubObjects {
	return &stubObjects{objects: make(map[string][]byte)}
}

func (o *stubObjects) PutObject(_ context.Context, key string, data []byte, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	o.objects[key] = cp
	return nil
}

func (o *stubObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (o *stubObjects) DeleteObjects(_ context.Context, keys []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, key := range keys {
		delete(o.objects, key)
	}
	return nil
}

func (o *stubObjects) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

// stubProvider answers embeddings deterministically and plays a scripted
// generation.
type stubProvider struct {
	generate func(ctx context.Context, onFragment func(string) error) error
}

func (p *stubProvider) GetEmbedding(_ context.Context, _ string, input string) ([]float32, error) {
	// Cheap deterministic embedding: character histogram folded into three
	// dimensions.
	var v [3]float32
	for i, r := range input {
		v[i%3] += float32(r % 97)
	}
	return []float32{v[0] + 1, v[1] + 1, v[2] + 1}, nil
}

func (p *stubProvider) GenerateStream(ctx context.Context, _, _, _ string, onFragment func(string) error) error {
	if p.generate == nil {
		return nil
	}
	return p.generate(ctx, onFragment)
}

// runeTokenizer counts one token per rune, which keeps budget math obvious
// in tests.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) []int {
	runes := []rune(text)
	tokens := make([]int, len(runes))
	for i, r := range runes {
		tokens[i] = int(r)
	}
	return tokens
}

func (runeTokenizer) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes)
}

func newTestService(t *testing.T, provider *stubProvider) (*Service, *stubMeta, *stubObjects) {
	t.Helper()

	meta := newStubMeta()
	objects := newStubObjects()

	cfg := DefaultConfig()
	cfg.ChunkSize = 200
	cfg.ChunkOverlap = 40
	cfg.TopK = 2
	cfg.GenerationTimeout = 2 * time.Second

	svc := NewService(meta, objects, provider, nil, fsutil.NewLocalFileStore(), t.TempDir(), cfg)
	svc.tok = runeTokenizer{}
	return svc, meta, objects
}

const testDocument = `The capital of France is Paris. Paris sits on the Seine.

The capital of Japan is Tokyo. Tokyo is the largest city in the world.

The capital of Peru is Lima. Lima lies on the Pacific coast.`

func TestIngestBuildsSessionInline(t *testing.T) {
	svc, meta, objects := newTestService(t, &stubProvider{})
	ctx := context.Background()

	session, err := svc.Ingest(ctx, "capitals.txt", []byte(testDocument))
	if err != nil {
		t.Fatal(err)
	}

	if session.Status != StatusReady {
		t.Errorf("session status = %q, want ready", session.Status)
	}
	if session.ChunkCount < 1 {
		t.Errorf("chunk count = %d, want >= 1", session.ChunkCount)
	}
	if session.Title != "capitals.txt" {
		t.Errorf("initial title = %q, want the filename", session.Title)
	}
	if objects.len() != 2 {
		t.Errorf("stored %d objects, want raw file and extracted text", objects.len())
	}

	messages, err := meta.ListMessages(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || messages[0].Role != RoleAssistant {
		t.Fatalf("expected exactly one assistant greeting, got %d messages", len(messages))
	}
}

func TestIngestRejectsBadUploads(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{})
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		data     []byte
		wantErr  error
	}{
		{name: "empty body", filename: "a.txt", data: nil, wantErr: ErrInvalidRequest},
		{name: "whitespace only", filename: "a.txt", data: []byte("   \n\n  "), wantErr: ErrEmptyDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(ctx, tt.filename, tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := svc.Ingest(ctx, "slides.pptx", []byte("data")); err == nil {
		t.Error("unsupported extension accepted")
	}
}

func TestDeleteSessionRemovesEverything(t *testing.T) {
	svc, meta, objects := newTestService(t, &stubProvider{})
	ctx := context.Background()

	session, err := svc.Ingest(ctx, "capitals.txt", []byte(testDocument))
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteSession(ctx, session.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := meta.GetSession(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session still present after delete: %v", err)
	}
	if objects.len() != 0 {
		t.Errorf("%d objects remain after delete", objects.len())
	}

	if err := svc.DeleteSession(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second delete returned %v, want ErrSessionNotFound", err)
	}
}

func TestSessionIndexRestoredFromDisk(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{})
	ctx := context.Background()

	session, err := svc.Ingest(ctx, "capitals.txt", []byte(testDocument))
	if err != nil {
		t.Fatal(err)
	}

	// Drop the cached index to simulate a restart.
	svc.mu.Lock()
	delete(svc.indexes, session.ID)
	svc.mu.Unlock()

	idx, err := svc.sessionIndex(ctx, session)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != session.ChunkCount {
		t.Errorf("restored index has %d records, want %d", idx.Len(), session.ChunkCount)
	}
}

// failingQueue rejects every enqueue.
type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, string, interface{}) error {
	return errors.New("broker unavailable")
}

func TestIngestEnqueueFailureMarksSessionFailed(t *testing.T) {
	svc, meta, _ := newTestService(t, &stubProvider{})
	svc.SetQueue(failingQueue{})
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "capitals.txt", []byte(testDocument)); err == nil {
		t.Fatal("Ingest succeeded despite the enqueue failure")
	}

	sessions, err := meta.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want the one created before the enqueue", len(sessions))
	}
	if sessions[0].Status != StatusFailed {
		t.Errorf("session status = %q, want failed", sessions[0].Status)
	}
}

func TestCleanupSessionsDeletesOnlyOldOnes(t *testing.T) {
	svc, meta, objects := newTestService(t, &stubProvider{})
	ctx := context.Background()

	old, err := svc.Ingest(ctx, "old.txt", []byte(testDocument))
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := svc.Ingest(ctx, "fresh.txt", []byte(testDocument))
	if err != nil {
		t.Fatal(err)
	}

	// Age the first session past the retention window.
	meta.mu.Lock()
	meta.sessions[old.ID].CreatedAt = time.Now().Add(-40 * 24 * time.Hour)
	meta.mu.Unlock()

	deleted, err := svc.CleanupSessions(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := meta.GetSession(ctx, old.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("old session still present after cleanup: %v", err)
	}
	if _, err := meta.GetSession(ctx, fresh.ID); err != nil {
		t.Errorf("fresh session removed by cleanup: %v", err)
	}
	if objects.len() != 2 {
		t.Errorf("%d objects remain, want only the fresh session's pair", objects.len())
	}
}

func TestCleanupSessionsRejectsNonPositiveAge(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{})

	if _, err := svc.CleanupSessions(context.Background(), 0); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("got %v, want ErrInvalidRequest", err)
	}
}

func TestHealth(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{})
	if err := svc.Health(context.Background()); err != nil {
		t.Errorf("Health reported %v", err)
	}
}

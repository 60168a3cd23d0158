package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/eleven-am/voice-bridge/internal/session"
	"github.com/eleven-am/voice-bridge/internal/shared"
	"github.com/eleven-am/voice-bridge/internal/transcript"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type testRemote struct {
	mu     sync.Mutex
	sent   []live.Media
	msgs   chan *live.ServerMessage
	closed chan struct{}
	once   sync.Once
}

func newTestRemote() *testRemote {
	return &testRemote{
		msgs:   make(chan *live.ServerMessage),
		closed: make(chan struct{}),
	}
}

func (r *testRemote) Send(m live.Media) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

func (r *testRemote) Receive() (*live.ServerMessage, error) {
	select {
	case msg := <-r.msgs:
		return msg, nil
	case <-r.closed:
		return nil, io.EOF
	}
}

func (r *testRemote) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func (r *testRemote) deliver(t *testing.T, msg *live.ServerMessage) {
	t.Helper()
	select {
	case r.msgs <- msg:
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not pick up message")
	}
}

func (r *testRemote) sentMedia() []live.Media {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]live.Media(nil), r.sent...)
}

type testDialer struct {
	mu      sync.Mutex
	remotes []*testRemote
	configs []live.ConnectConfig
}

func (d *testDialer) Connect(_ context.Context, cfg live.ConnectConfig) (live.Remote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := newTestRemote()
	d.configs = append(d.configs, cfg)
	d.remotes = append(d.remotes, r)
	return r, nil
}

func (d *testDialer) remote(i int) *testRemote {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remotes[i]
}

func (d *testDialer) config(i int) live.ConnectConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configs[i]
}

func (d *testDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.configs)
}

type stateUpdate struct {
	id    string
	state string
	text  string
}

type fakeSessionStore struct {
	mu      sync.Mutex
	created []*session.Session
	updates []stateUpdate
}

func (s *fakeSessionStore) CreateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, sess)
	return nil
}

func (s *fakeSessionStore) UpdateState(_ context.Context, id, state, text string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, stateUpdate{id: id, state: state, text: text})
	return &session.Session{ID: id, State: state, StatusText: text}, nil
}

func (s *fakeSessionStore) states() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.updates))
	for _, u := range s.updates {
		out = append(out, u.state)
	}
	return out
}

func (s *fakeSessionStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type fakeTranscriptStore struct {
	mu      sync.Mutex
	entries []*transcript.Entry
	err     error
}

func (s *fakeTranscriptStore) Append(_ context.Context, sessionID, userID string, entries ...live.Entry) ([]*transcript.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var saved []*transcript.Entry
	for _, e := range entries {
		te := &transcript.Entry{
			ID:        shared.NewID("tr_"),
			SessionID: sessionID,
			Seq:       int64(len(s.entries) + 1),
			UserID:    userID,
			Role:      string(e.Role),
			Text:      e.Text,
			SpokenAt:  e.Timestamp,
			CreatedAt: time.Now(),
		}
		s.entries = append(s.entries, te)
		saved = append(saved, te)
	}
	return saved, nil
}

func (s *fakeTranscriptStore) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]*transcript.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []*transcript.Entry
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeTranscriptStore) CountBySession(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var n int64
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (s *fakeTranscriptStore) DeleteBySession(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	kept := s.entries[:0]
	var n int64
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return n, nil
}

func (s *fakeTranscriptStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type testEnv struct {
	server      *httptest.Server
	dialer      *testDialer
	manager     *live.Manager
	sessions    *fakeSessionStore
	transcripts *fakeTranscriptStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		dialer:      &testDialer{},
		sessions:    &fakeSessionStore{},
		transcripts: &fakeTranscriptStore{},
	}
	env.manager = live.NewManager(live.ManagerConfig{Dialer: env.dialer, Log: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	recorder := NewRecorder(env.sessions, env.transcripts, nil, testLogger())
	go recorder.Run(ctx)

	h := NewHandler(env.manager, recorder, env.transcripts, nil, testLogger())
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1/voice"))
	env.server = httptest.NewServer(e)

	t.Cleanup(func() {
		env.server.Close()
		_ = env.manager.Close()
		cancel()
	})
	return env
}

// testClient is the browser side of the socket.
type testClient struct {
	t         *testing.T
	ws        *websocket.Conn
	sessionID string
}

func (env *testEnv) connect(t *testing.T) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/voice/ws?user_id=user_1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	c := &testClient{t: t, ws: ws}
	var ready SessionReadyPayload
	c.expect(MessageTypeSessionReady, &ready)
	c.sessionID = ready.SessionID
	c.expect(MessageTypeStatus, nil)
	return c
}

func (c *testClient) send(t MessageType, payload any) {
	c.t.Helper()
	msg, err := NewMessage(t, payload)
	if err != nil {
		c.t.Fatalf("encode %s: %v", t, err)
	}
	if err := c.ws.WriteJSON(msg); err != nil {
		c.t.Fatalf("write %s: %v", t, err)
	}
}

func (c *testClient) sendAudio(data []byte) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.t.Fatalf("write audio: %v", err)
	}
}

func (c *testClient) read() *Message {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := c.ws.ReadJSON(&msg); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return &msg
}

// expect reads until a message of the given type arrives and decodes its
// payload into v.
func (c *testClient) expect(t MessageType, v any) *Message {
	c.t.Helper()
	for {
		msg := c.read()
		if msg.Type != t {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(msg.Payload, v); err != nil {
				c.t.Fatalf("decode %s: %v", t, err)
			}
		}
		return msg
	}
}

func (c *testClient) expectStatus(state live.State) live.Status {
	c.t.Helper()
	for {
		var st live.Status
		c.expect(MessageTypeStatus, &st)
		if st.State == state {
			return st
		}
	}
}

func (c *testClient) start(p SessionStartPayload) {
	c.t.Helper()
	if p.CurrentTime == nil {
		p.CurrentTime = clockAt(0)
	}
	c.send(MessageTypeSessionStart, p)
	c.expectStatus(live.StateActive)
}

func clockAt(seconds float64) *float64 {
	return &seconds
}

func silentChunk(seconds float64) []byte {
	return make([]byte, int(seconds*24000)*2)
}

package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/tutor"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTutor struct {
	mu     sync.Mutex
	msgs   []tutor.Message
	err    error
	result *tutor.Result
}

func (f *fakeTutor) HandleMessage(_ context.Context, msg tutor.Message) (*tutor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &tutor.Result{
		Reply:          "Machine learning finds patterns in data.",
		Level:          domain.LevelBeginner,
		Progress:       15,
		TopicsDetected: []domain.TopicID{domain.TopicMachineLearning},
		ToolsUsed:      []string{},
	}, nil
}

func (f *fakeTutor) messages() []tutor.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tutor.Message(nil), f.msgs...)
}

func newChatServer(t *testing.T, ft *fakeTutor, allowedOrigin string, isDev bool) (*httptest.Server, *ConnManager) {
	t.Helper()
	cm := NewConnManager()
	r := chi.NewRouter()
	NewHandler(ft, cm, allowedOrigin, isDev).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, cm
}

func dial(t *testing.T, srv *httptest.Server, learnerID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/" + learnerID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f ClientFrame) {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

type rawFrame struct {
	Type string          `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

func recv(t *testing.T, conn *websocket.Conn) rawFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f rawFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestChatMessageAndProgressFrames(t *testing.T) {
	ft := &fakeTutor{}
	srv, _ := newChatServer(t, ft, "", true)
	conn := dial(t, srv, "learner-1")

	off := false
	send(t, conn, ClientFrame{Type: FrameMessage, Text: "What is machine learning?", AllowWebLookup: &off})

	msg := recv(t, conn)
	require.Equal(t, FrameMessage, msg.Type)
	assert.Contains(t, string(msg.Data), `"replyText":`)
	var res tutor.Result
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	assert.Equal(t, "Machine learning finds patterns in data.", res.Reply)

	prog := recv(t, conn)
	require.Equal(t, FrameProgress, prog.Type)
	var p Progress
	require.NoError(t, json.Unmarshal(prog.Data, &p))
	assert.Equal(t, Progress{Level: domain.LevelBeginner, Progress: 15, Topics: []domain.TopicID{domain.TopicMachineLearning}}, p)

	got := ft.messages()
	require.Len(t, got, 1)
	assert.Equal(t, "learner-1", got[0].LearnerID)
	require.NotNil(t, got[0].AllowWebLookup)
	assert.False(t, *got[0].AllowWebLookup)
}

func TestChatSkipsProgressWithoutProfile(t *testing.T) {
	ft := &fakeTutor{result: &tutor.Result{
		Reply:              "Computer vision teaches machines to see.",
		TopicsDetected:     []domain.TopicID{domain.TopicComputerVision},
		ToolsUsed:          []string{},
		Degraded:           true,
		ProfileUnavailable: true,
	}}
	srv, _ := newChatServer(t, ft, "", true)
	conn := dial(t, srv, "learner-1")

	send(t, conn, ClientFrame{Type: FrameMessage, Text: "computer vision"})
	msg := recv(t, conn)
	require.Equal(t, FrameMessage, msg.Type)
	assert.Contains(t, string(msg.Data), `"profileUnavailable":true`)

	send(t, conn, ClientFrame{Type: FramePing})
	assert.Equal(t, FramePong, recv(t, conn).Type, "no progress frame for an unknown profile")
}

func TestChatPingAndEmptyMessages(t *testing.T) {
	ft := &fakeTutor{}
	srv, _ := newChatServer(t, ft, "", true)
	conn := dial(t, srv, "learner-1")

	send(t, conn, ClientFrame{Type: FrameMessage, Text: "   "})
	send(t, conn, ClientFrame{Type: FramePing})

	assert.Equal(t, FramePong, recv(t, conn).Type)
	assert.Empty(t, ft.messages(), "blank messages are ignored")
}

func TestChatErrorFrames(t *testing.T) {
	ft := &fakeTutor{err: errors.New("sqlite: database is locked")}
	srv, _ := newChatServer(t, ft, "", true)
	conn := dial(t, srv, "learner-1")

	send(t, conn, ClientFrame{Type: FrameMessage, Text: "hello"})
	f := recv(t, conn)
	require.Equal(t, FrameError, f.Type)
	assert.NotContains(t, string(f.Data), "sqlite")

	send(t, conn, ClientFrame{Type: "resize"})
	f = recv(t, conn)
	require.Equal(t, FrameError, f.Type)
	assert.Contains(t, string(f.Data), "unknown frame type")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	assert.Equal(t, FrameError, recv(t, conn).Type)
}

func TestCloseLearnerEndsConnections(t *testing.T) {
	srv, cm := newChatServer(t, &fakeTutor{}, "", true)
	conn := dial(t, srv, "learner-1")

	require.Eventually(t, func() bool { return cm.Count("learner-1") == 1 }, 5*time.Second, 10*time.Millisecond)

	go cm.CloseLearner("learner-1", "session expired")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	require.Eventually(t, func() bool { return cm.Count("learner-1") == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestChatRejectsForeignOrigin(t *testing.T) {
	srv, _ := newChatServer(t, &fakeTutor{}, "https://tutor.example", false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/learner-1"
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

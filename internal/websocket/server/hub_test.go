package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentflow-go/internal/domain/progress"
	"github.com/agentflow-go/pkg/events"
	"github.com/agentflow-go/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	open     bool
	messages [][]byte
	err      error
}

func newFakeConn() *fakeConn { return &fakeConn{open: true} }

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, message)
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.messages...)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, msg events.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

func TestHub_NotifyReachesEveryConnectionOfOwner(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil)
	first, second, other := newFakeConn(), newFakeConn(), newFakeConn()

	hub.Register("user-1", first)
	hub.Register("user-1", second)
	hub.Register("user-2", other)

	delivered := hub.Notify(context.Background(), "user-1", progress.Event{
		Type:        progress.NodeCompleted,
		WorkflowID:  "wf-1",
		ExecutionID: "run-1",
		NodeID:      "a",
	})

	assert.Equal(t, 2, delivered)
	require.Len(t, first.received(), 1)
	require.Len(t, second.received(), 1)
	assert.Empty(t, other.received())
	assert.Equal(t, first.received()[0], second.received()[0])

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(first.received()[0], &decoded))
	assert.Equal(t, "node_completed", decoded["type"])
	assert.Equal(t, "a", decoded["nodeId"])
	assert.NotEmpty(t, decoded["timestamp"])
	assert.NotContains(t, decoded, "agentId")
}

func TestHub_UnregisterPrunesOwner(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil)
	first, second := newFakeConn(), newFakeConn()

	hub.Register("user-1", first)
	hub.Register("user-1", second)
	assert.Equal(t, 2, hub.ConnectionCount())

	hub.Unregister("user-1", first)
	assert.True(t, hub.HasOwner("user-1"))

	hub.Unregister("user-1", second)
	assert.False(t, hub.HasOwner("user-1"))
	assert.Zero(t, hub.OwnerCount())
	assert.Zero(t, hub.ConnectionCount())

	// Unknown pairs are ignored.
	hub.Unregister("user-1", second)
	hub.Unregister("nobody", first)
}

func TestHub_SkipsClosedAndFailingConnections(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil)
	closed, failing, healthy := newFakeConn(), newFakeConn(), newFakeConn()
	closed.open = false
	failing.err = errors.New("buffer full")

	hub.Register("user-1", closed)
	hub.Register("user-1", failing)
	hub.Register("user-1", healthy)

	delivered := hub.Notify(context.Background(), "user-1", progress.Event{Type: progress.WorkflowStarted})
	assert.Equal(t, 1, delivered)
	assert.Empty(t, closed.received())
	assert.Len(t, healthy.received(), 1)

	assert.Zero(t, hub.Notify(context.Background(), "nobody", progress.Event{Type: progress.WorkflowStarted}))
}

func TestHub_MirrorsEvents(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(msg events.Message) bool {
		return msg.Key == "run-1" && msg.Type == "workflow_completed" && msg.Headers["owner-id"] == "user-1"
	})).Return(nil).Once()

	hub := NewHub(logger.NewNop(), pub)
	hub.Notify(context.Background(), "user-1", progress.Event{Type: progress.WorkflowCompleted, ExecutionID: "run-1"})
	hub.Close()

	pub.AssertExpectations(t)
}

type gatedPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	keys    []string
}

func (p *gatedPublisher) Publish(_ context.Context, msg events.Message) error {
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, msg.Key)
	return nil
}

func (p *gatedPublisher) Close() error { return nil }

func TestHub_SlowMirrorDoesNotDelayDelivery(t *testing.T) {
	pub := &gatedPublisher{release: make(chan struct{})}
	hub := NewHub(logger.NewNop(), pub)
	conn := newFakeConn()
	hub.Register("user-1", conn)

	start := time.Now()
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, hub.Notify(context.Background(), "user-1", progress.Event{Type: progress.NodeStarted, ExecutionID: "run-1"}))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, conn.received(), 3)

	close(pub.release)
	hub.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, []string{"run-1", "run-1", "run-1"}, pub.keys)
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	pub := &MockPublisher{}
	hub := NewHub(logger.NewNop(), pub)
	hub.Close()
	hub.Close()

	assert.Zero(t, hub.Notify(context.Background(), "user-1", progress.Event{Type: progress.NodeStarted}))
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestHub_MirrorFailureDoesNotBlockDelivery(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("kafka down"))

	hub := NewHub(logger.NewNop(), pub)
	conn := newFakeConn()
	hub.Register("user-1", conn)

	assert.Equal(t, 1, hub.Notify(context.Background(), "user-1", progress.Event{Type: progress.AgentUpdate, AgentID: "agent-1"}))
	hub.Close()
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestHub_ConcurrentUse(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := newFakeConn()
			hub.Register("user-1", conn)
			hub.Notify(context.Background(), "user-1", progress.Event{Type: progress.NodeStarted})
			hub.Unregister("user-1", conn)
		}()
	}
	wg.Wait()

	assert.False(t, hub.HasOwner("user-1"))
}

func signToken(t *testing.T, secret, subject string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "agentflow",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestWebSocket_EndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(logger.NewNop(), nil)
	handler := NewHandler(hub, NewTokenValidator("secret", "agentflow"), logger.NewNop())

	router := gin.New()
	router.GET("/ws", handler.ServeWS)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + signToken(t, "secret", "user-1")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.HasOwner("user-1") }, time.Second, 10*time.Millisecond)

	hub.Notify(context.Background(), "user-1", progress.Event{Type: progress.WorkflowStarted, WorkflowID: "wf-1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event progress.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, progress.WorkflowStarted, event.Type)
	assert.Equal(t, "wf-1", event.WorkflowID)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !hub.HasOwner("user-1") }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(logger.NewNop(), nil)
	handler := NewHandler(hub, NewTokenValidator("secret", ""), logger.NewNop())

	router := gin.New()
	router.GET("/ws", handler.ServeWS)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + signToken(t, "wrong", "user-1")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
	assert.Zero(t, hub.OwnerCount())
}

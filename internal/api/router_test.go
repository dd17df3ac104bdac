package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/connectnow/config"
	"github.com/d60-Lab/connectnow/internal/ai"
	"github.com/d60-Lab/connectnow/internal/api/handler"
	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/internal/relcache"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/internal/service"
	"github.com/d60-Lab/connectnow/pkg/database"
)

type testServer struct {
	router   *gin.Engine
	services handler.Services
	worker   *service.NotificationWorker
	mr       *miniredis.Miniredis
}

func newTestServer(t *testing.T, tweak func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	cfg.Server.EnableSwagger = false
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ":memory:"
	cfg.Database.LogLevel = "silent"
	cfg.RateLimit.RPS = 1000
	cfg.RateLimit.Burst = 1000
	cfg.JWT.Secret = "router-test"
	cfg.AI.APIKey = ""
	if tweak != nil {
		tweak(cfg)
	}

	db, err := database.InitDB(cfg)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	live := realtime.NewBroadcaster(rdb, "test:live:", 256)
	stop := live.Start(1)
	t.Cleanup(func() { _ = stop(context.Background()) })

	users := repository.NewUserRepository(db)
	follows := repository.NewFollowRepository(db)
	posts := repository.NewPostRepository(db)
	notifs := repository.NewNotificationRepository(db)
	outbox := repository.NewOutboxRepository(db)
	graphCache := relcache.New(rdb, follows, users, time.Minute)

	messaging := service.NewMessagingService(db, repository.NewConversationRepository(db), repository.NewMessageRepository(db), users, live)
	services := handler.Services{
		Session:      service.NewSessionService(db, users, rdb, graphCache, service.NewCascader(db, graphCache, live), cfg.JWT),
		Relationship: service.NewRelationshipService(db, follows, users, graphCache),
		Feed:         service.NewFeedService(db, posts, repository.NewLikeRepository(db), repository.NewCommentRepository(db), users, live),
		Messaging:    messaging,
		Notification: service.NewNotificationService(notifs, users, posts, live),
		Assistant:    service.NewAssistantService(ai.NewClient(cfg.AI), messaging, users, cfg.AI.HistoryLimit),
		Live:         live,
		DB:           db,
		Redis:        rdb,
	}
	return &testServer{
		router:   SetupRouter(cfg, handler.New(services), services.Session),
		services: services,
		worker:   service.NewNotificationWorker(outbox, notifs, live, 1, 100, time.Hour),
		mr:       mr,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

type account struct {
	ID    string
	Token string
}

func (s *testServer) signup(t *testing.T, handle string) account {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/auth/signup", "", gin.H{
		"name": strings.ToUpper(handle), "username": handle, "email": handle + "@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var data struct {
		User  struct{ ID string } `json:"user"`
		Token string              `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return account{ID: data.User.ID, Token: data.Token}
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice")

	code, _ := s.do(t, http.MethodPost, "/api/v1/auth/signup", "", gin.H{
		"name": "Alice", "username": "alice", "email": "other@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/signup", "", gin.H{
		"name": "Bad", "username": "a!", "email": "bad@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := s.do(t, http.MethodGet, "/api/v1/auth/me", alice.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, alice.ID, decode[struct{ ID string }](t, env).ID)

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/logout", alice.Token, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/auth/me", alice.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSocialFlow(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	carol := s.signup(t, "carol")

	code, _ := s.do(t, http.MethodPost, "/api/v1/relations/follow", alice.Token, gin.H{"to_user_id": bob.ID})
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/relations/follow", alice.Token, gin.H{"to_user_id": alice.ID})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/relations/follow", alice.Token, gin.H{"to_user_id": "missing"})
	assert.Equal(t, http.StatusNotFound, code)

	code, env := s.do(t, http.MethodPost, "/api/v1/posts", bob.Token, gin.H{"content": "hello world"})
	require.Equal(t, http.StatusCreated, code)
	postID := decode[struct{ ID string }](t, env).ID

	code, _ = s.do(t, http.MethodPost, "/api/v1/posts", bob.Token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/posts/"+postID+"/like", alice.Token, nil)
	require.Equal(t, http.StatusOK, code)
	like := decode[service.LikeResult](t, env)
	assert.True(t, like.Liked)
	assert.Equal(t, int64(1), like.LikeCount)

	code, _ = s.do(t, http.MethodPost, "/api/v1/posts/missing/like", alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, code)

	n, err := s.worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	code, env = s.do(t, http.MethodGet, "/api/v1/notifications/unread-count", bob.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(2), decode[struct{ Unread int64 }](t, env).Unread)

	code, env = s.do(t, http.MethodPost, "/api/v1/conversations", alice.Token, gin.H{"user_id": bob.ID})
	require.Equal(t, http.StatusOK, code)
	convID := decode[struct{ ID string }](t, env).ID
	assert.Equal(t, service.ConversationID(alice.ID, bob.ID), convID)

	code, _ = s.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", alice.Token, gin.H{"text": "hi bob"})
	require.Equal(t, http.StatusCreated, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/conversations/"+convID+"/messages", bob.Token, nil)
	require.Equal(t, http.StatusOK, code)
	msgs := decode[[]struct{ Text string }](t, env)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi bob", msgs[0].Text)

	code, _ = s.do(t, http.MethodGet, "/api/v1/conversations/"+convID+"/messages", carol.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAssistantFailureIsNotServerError(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")

	_, env := s.do(t, http.MethodPost, "/api/v1/conversations", alice.Token, gin.H{"user_id": bob.ID})
	convID := decode[struct{ ID string }](t, env).ID

	code, env := s.do(t, http.MethodPost, "/api/v1/ai/chat", alice.Token, gin.H{"conversation_id": convID, "message": "hello"})
	require.Equal(t, http.StatusOK, code)
	res := decode[service.Result[*ai.Reply]](t, env)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	code, env = s.do(t, http.MethodPost, "/api/v1/ai/reels", alice.Token, gin.H{"prompt": "a cat surfing"})
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decode[service.Result[string]](t, env).Success)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RPS = 0.001
		cfg.RateLimit.Burst = 2
	})
	for i := 0; i < 2; i++ {
		code, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{})
		assert.Equal(t, http.StatusBadRequest, code)
	}
	code, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{})
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	code, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)

	s.mr.Close()
	code, _ = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestLiveNotificationsSendsSnapshot(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/live/notifications?access_token="+alice.Token, nil).WithContext(ctx)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event:snapshot")
}

func TestLiveMessagesSnapshotHoldsNewestWindow(t *testing.T) {
	s := newTestServer(t, nil)
	alice, bob := s.signup(t, "alice"), s.signup(t, "bob")
	ctx := context.Background()

	conv, err := s.services.Messaging.OpenOrCreate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	for i := 0; i < 510; i++ {
		_, err := s.services.Messaging.SendMessage(ctx, conv.ID, alice.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/live/conversations/"+conv.ID+"/messages?access_token="+bob.Token, nil).WithContext(reqCtx)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	body := w.Body.String()
	require.Contains(t, body, "event:snapshot")
	assert.Contains(t, body, `"text":"m509"`)
	assert.Contains(t, body, `"text":"m10"`)
	assert.NotContains(t, body, `"text":"m0"`)
	assert.NotContains(t, body, `"text":"m9"`)
}

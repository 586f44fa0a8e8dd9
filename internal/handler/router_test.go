package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"storyhub/config"
	"storyhub/internal/model"
	"storyhub/internal/repository"
	"storyhub/internal/service"
	"storyhub/pkg/db"
	"storyhub/pkg/events"
	"storyhub/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const adminToken = "admin-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	orm    *gorm.DB
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	orm, err := db.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "storyhub.db"),
		MaxIdle:  1,
	})
	require.NoError(t, err)
	require.NoError(t, orm.AutoMigrate(model.AllModels()...))
	t.Cleanup(func() {
		if sqlDB, err := orm.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	consistency := config.ConsistencyConfig{CounterStrategy: config.CounterStrategyIncremental, MaxAttempts: 3}
	jwtSvc := jwt.NewJWTService(config.JWTConfig{Secret: "test-secret", ExpireTime: time.Hour, Issuer: "storyhub-test"})
	counters := service.NewCounterAggregator(repository.NewCounterRepository(orm), consistency)
	userRepo := repository.NewUserRepository(orm)
	reactions := service.NewReactionService(repository.NewReactionRepository(orm), counters, nil, events.Nop{}, 3)
	friends := service.NewFriendService(repository.NewFriendshipRepository(orm), userRepo, counters, events.Nop{}, 3)

	router := NewRouter(Routes{
		JWT:       jwtSvc,
		Users:     NewUserHandler(service.NewUserService(userRepo, jwtSvc)),
		Friends:   NewFriendHandler(friends),
		Reactions: NewReactionHandler(reactions),
		Admin:     NewAdminHandler(reactions, counters, adminToken),
	})
	return &testServer{t: t, orm: orm, router: router}
}

func (s *testServer) do(method, path, token string, body interface{}, header ...string) envelope {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(s.t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func (s *testServer) register(name string) (uint, string) {
	s.t.Helper()
	env := s.do(http.MethodPost, "/api/v1/users/register", "", gin.H{
		"username": name,
		"email":    name + "@example.com",
		"password": "secret123",
	})
	require.Equal(s.t, 0, env.Code, env.Message)
	var data struct {
		User struct {
			ID uint `json:"id"`
		} `json:"user"`
		AccessToken string `json:"access_token"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &data))
	return data.User.ID, data.AccessToken
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/users/me", "/api/v1/friends", "/api/v1/reactions/story/1"} {
		env := s.do(http.MethodGet, path, "", nil)
		assert.Equal(t, 401, env.Code, path)
	}
	env := s.do(http.MethodGet, "/api/v1/users/me", "garbage", nil)
	assert.Equal(t, 401, env.Code)
}

func TestRegisterLoginProfile(t *testing.T) {
	s := newTestServer(t)
	id, token := s.register("alice")

	env := s.do(http.MethodPost, "/api/v1/users/register", "", gin.H{
		"username": "alice", "email": "alice2@example.com", "password": "secret123",
	})
	assert.Equal(t, 409, env.Code)

	env = s.do(http.MethodPost, "/api/v1/users/register", "", gin.H{"username": "bob", "password": "secret123"})
	assert.Equal(t, 400, env.Code)

	env = s.do(http.MethodPost, "/api/v1/users/login", "", gin.H{"usernameOrEmail": "alice", "password": "nope-nope"})
	assert.Equal(t, 401, env.Code)

	env = s.do(http.MethodPost, "/api/v1/users/login", "", gin.H{"usernameOrEmail": "alice@example.com", "password": "secret123"})
	assert.Equal(t, 0, env.Code)

	env = s.do(http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, 0, env.Code)
	var me struct {
		ID       uint   `json:"id"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, id, me.ID)
	assert.Equal(t, "alice", me.Username)
}

func TestFriendFlow(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.register("alice")
	bobID, bob := s.register("bob")

	env := s.do(http.MethodPost, "/api/v1/friends/requests", alice, gin.H{"to": bobID})
	require.Equal(t, 0, env.Code, env.Message)

	env = s.do(http.MethodPost, "/api/v1/friends/requests", alice, gin.H{"to": aliceID})
	assert.Equal(t, 400, env.Code)

	env = s.do(http.MethodGet, "/api/v1/friends/requests/incoming", bob, nil)
	require.Equal(t, 0, env.Code)
	assert.Contains(t, string(env.Data), `"friend_status":"request_received"`)

	env = s.do(http.MethodPut, fmt.Sprintf("/api/v1/friends/requests/%d", bobID), alice, gin.H{"status": "accepted"})
	assert.Equal(t, 403, env.Code)

	env = s.do(http.MethodPut, fmt.Sprintf("/api/v1/friends/requests/%d", aliceID), bob, gin.H{"status": "maybe"})
	assert.Equal(t, 400, env.Code)

	env = s.do(http.MethodPut, fmt.Sprintf("/api/v1/friends/requests/%d", aliceID), bob, gin.H{"status": "accepted"})
	require.Equal(t, 0, env.Code, env.Message)

	env = s.do(http.MethodGet, fmt.Sprintf("/api/v1/friends/%d/status", bobID), alice, nil)
	require.Equal(t, 0, env.Code)
	assert.Contains(t, string(env.Data), `"friends"`)

	env = s.do(http.MethodGet, "/api/v1/friends", alice, nil)
	require.Equal(t, 0, env.Code)
	assert.Contains(t, string(env.Data), `"count":1`)

	env = s.do(http.MethodDelete, fmt.Sprintf("/api/v1/friends/%d", aliceID), bob, nil)
	require.Equal(t, 0, env.Code)
	env = s.do(http.MethodDelete, fmt.Sprintf("/api/v1/friends/%d", aliceID), bob, nil)
	assert.Equal(t, 404, env.Code)

	env = s.do(http.MethodDelete, "/api/v1/friends/abc", bob, nil)
	assert.Equal(t, 400, env.Code)
}

func TestReactionFlow(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.register("alice")
	story := model.Story{AuthorID: aliceID, Title: "hello"}
	require.NoError(t, s.orm.Create(&story).Error)

	env := s.do(http.MethodPost, "/api/v1/reactions", alice, gin.H{
		"target_type": "story", "target_id": story.ID, "emoji": "like",
	})
	require.Equal(t, 0, env.Code, env.Message)
	var toggled service.ToggleResult
	require.NoError(t, json.Unmarshal(env.Data, &toggled))
	assert.Equal(t, model.ReactionCounts{Like: 1}, toggled.Counts)
	assert.Equal(t, model.EmojiLike, toggled.Emoji)

	env = s.do(http.MethodPost, "/api/v1/reactions", alice, gin.H{
		"target_type": "video", "target_id": story.ID, "emoji": "like",
	})
	assert.Equal(t, 400, env.Code)

	env = s.do(http.MethodPost, "/api/v1/reactions", alice, gin.H{
		"target_type": "post", "target_id": 999, "emoji": "like",
	})
	assert.Equal(t, 404, env.Code)

	env = s.do(http.MethodGet, fmt.Sprintf("/api/v1/reactions/story/%d", story.ID), alice, nil)
	require.Equal(t, 0, env.Code)
	var summary service.ReactionSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, model.ReactionCounts{Like: 1}, summary.Counts)
	assert.Equal(t, model.EmojiLike, summary.Mine)
}

func TestAdminReconcile(t *testing.T) {
	s := newTestServer(t)
	aliceID, _ := s.register("alice")
	story := model.Story{AuthorID: aliceID, Title: "hello", LikeCount: 3}
	require.NoError(t, s.orm.Create(&story).Error)
	path := fmt.Sprintf("/api/v1/admin/reconcile/story/%d", story.ID)

	env := s.do(http.MethodPost, path, "", nil)
	assert.Equal(t, 403, env.Code)
	env = s.do(http.MethodPost, path, "", nil, "X-Admin-Token", "wrong")
	assert.Equal(t, 403, env.Code)

	env = s.do(http.MethodPost, path, "", nil, "X-Admin-Token", adminToken)
	require.Equal(t, 0, env.Code, env.Message)
	var res struct {
		Before    model.ReactionCounts `json:"before"`
		Reactions model.ReactionCounts `json:"reactions"`
		Drifted   bool                 `json:"drifted"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Drifted)
	assert.Equal(t, int64(3), res.Before.Like)
	assert.Equal(t, model.ReactionCounts{}, res.Reactions)

	env = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/reconcile/users/%d", aliceID), "", nil, "X-Admin-Token", adminToken)
	assert.Equal(t, 0, env.Code)
	env = s.do(http.MethodPost, "/api/v1/admin/reconcile/comment/5", "", nil, "X-Admin-Token", adminToken)
	assert.Equal(t, 404, env.Code)
}

func TestRespondErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: bad", service.ErrValidation), 400},
		{service.ErrInvalidCredentials, 401},
		{fmt.Errorf("%w: no", service.ErrForbidden), 403},
		{fmt.Errorf("%w: gone", service.ErrNotFound), 404},
		{fmt.Errorf("%w: busy", service.ErrConflict), 409},
		{fmt.Errorf("%w: orphan", service.ErrConsistency), 500},
		{errors.New("boom"), 500},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		respondError(c, tc.err)

		var env envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		assert.Equal(t, tc.code, env.Code, tc.err.Error())
		assert.Equal(t, tc.code, c.GetInt("biz_code"))
	}
}

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketai-go/internal/config"
	"marketai-go/internal/handler"
	"marketai-go/internal/model"
	"marketai-go/internal/repository"
	"marketai-go/internal/service"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/database"
	"marketai-go/pkg/llm"
	"marketai-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "Passw0rdX"

func init() {
	gin.SetMode(gin.TestMode)
}

type memTokens struct {
	mu     sync.Mutex
	black  map[string]bool
	counts map[string]int64
}

func (m *memTokens) Blacklist(_ context.Context, tok string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.black[tok] = true
	return nil
}

func (m *memTokens) IsBlacklisted(_ context.Context, tok string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.black[tok], nil
}

func (m *memTokens) ClaimToken(_ context.Context, tok string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.black[tok] {
		return false, nil
	}
	m.black[tok] = true
	return true, nil
}

func (m *memTokens) IncrLoginAttempts(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memTokens) SaveResetToken(context.Context, string, uint, time.Duration) error { return nil }

func (m *memTokens) ConsumeResetToken(context.Context, string) (uint, error) {
	return 0, repository.ErrNotFound
}

type stubLLM struct{ reply string }

func (s *stubLLM) Complete(context.Context, []llm.Message, *llm.GenerationParams) (string, error) {
	return s.reply, nil
}

// saveHold 让 POST /api/v1/history 在 release 关闭前挂起。
type saveHold struct {
	entered chan struct{}
	release chan struct{}
}

// fixture 在 httptest 上跑完整路由；failing 置位时所有请求返回 500。
type fixture struct {
	server   *httptest.Server
	llm      *stubLLM
	failing  atomic.Bool
	hold     atomic.Pointer[saveHold]
	api      *API
	sessions *SessionStore
	history  *HistoryStore
	stateDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "client.db")},
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, &model.User{}, &model.HistoryItem{}))

	jwtManager := token.NewJWTManager("client-secret", 1, 1)
	tokens := &memTokens{black: map[string]bool{}, counts: map[string]int64{}}
	stub := &stubLLM{}
	router := handler.NewRouter(handler.Services{
		JWT:        jwtManager,
		Users:      service.NewUserService(repository.NewUserRepository(db), tokens, jwtManager, nil, service.AuthPolicy{}),
		History:    service.NewHistoryService(repository.NewHistoryRepository(db), nil),
		Generation: service.NewGenerationService(stub, nil),
	})

	f := &fixture{llm: stub, stateDir: filepath.Join(t.TempDir(), "state")}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failing.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code":500,"message":"Internal server error","kind":"internal"}`))
			return
		}
		if hold := f.hold.Load(); hold != nil && r.Method == http.MethodPost && r.URL.Path == "/api/v1/history" {
			close(hold.entered)
			<-hold.release
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		f.server.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	f.api = NewAPI(f.server.URL, 5*time.Second)
	f.sessions = NewSessionStore(f.api, f.stateDir)
	f.history = NewHistoryStore(f.api, f.sessions)
	t.Cleanup(f.history.Close)
	return f
}

func (f *fixture) signUp(t *testing.T, email string) *Session {
	t.Helper()
	sess, err := f.sessions.Register(context.Background(), email, testPassword, "")
	require.NoError(t, err)
	return sess
}

func TestRegisterLoginLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.sessions.IsAuthenticated())
	sess := f.signUp(t, "ann@example.com")
	assert.Equal(t, "ann@example.com", sess.User.Email)
	assert.Equal(t, "ann", sess.User.DisplayName)
	assert.True(t, f.sessions.IsAuthenticated())

	me, err := f.api.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, me.ID)

	oldToken := f.sessions.AccessToken()
	f.sessions.Logout(ctx)
	assert.False(t, f.sessions.IsAuthenticated())
	assert.Nil(t, f.sessions.Current())

	_, err = os.Stat(filepath.Join(f.stateDir, SessionFileName))
	assert.True(t, os.IsNotExist(err))

	// 注销后的 token 被服务端拉黑
	f.api.setTokenSource(func() string { return oldToken })
	_, err = f.api.Me(ctx)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	f.api.setTokenSource(f.sessions.AccessToken)
	_, err = f.sessions.Login(ctx, "ann@example.com", testPassword)
	require.NoError(t, err)
	assert.True(t, f.sessions.IsAuthenticated())
}

func TestRegisterRejectsWeakPasswordLocally(t *testing.T) {
	f := newFixture(t)
	f.failing.Store(true)

	_, err := f.sessions.Register(context.Background(), "bob@example.com", "short", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.False(t, f.sessions.IsAuthenticated())
}

func TestLoginErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signUp(t, "cat@example.com")
	f.sessions.Logout(ctx)

	_, err := f.sessions.Login(ctx, "cat@example.com", "WrongPass1")
	assert.True(t, apperr.Is(err, apperr.KindInvalidCredentials))
	assert.False(t, f.sessions.IsAuthenticated())

	_, err = f.sessions.Register(ctx, "cat@example.com", testPassword, "")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestTransportFailureIsUpstream(t *testing.T) {
	api := NewAPI("http://127.0.0.1:1", time.Second)
	_, err := api.Login(context.Background(), "a@example.com", testPassword)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestLogoutNeverFails(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "dan@example.com")

	f.failing.Store(true)
	f.sessions.Logout(context.Background())
	assert.False(t, f.sessions.IsAuthenticated())
}

func TestSubscribersNotified(t *testing.T) {
	f := newFixture(t)
	var seen []bool
	unsubscribe := f.sessions.Subscribe(func(s *Session) {
		seen = append(seen, s != nil)
	})

	f.signUp(t, "eve@example.com")
	f.sessions.Logout(context.Background())
	unsubscribe()
	_, err := f.sessions.Login(context.Background(), "eve@example.com", testPassword)
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false}, seen)
}

func TestSessionPersistence(t *testing.T) {
	f := newFixture(t)
	sess := f.signUp(t, "fay@example.com")

	info, err := os.Stat(filepath.Join(f.stateDir, SessionFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	restored := NewSessionStore(NewAPI(f.server.URL, time.Second), f.stateDir)
	require.NoError(t, restored.Load(context.Background()))
	cur := restored.Current()
	require.NotNil(t, cur)
	assert.Equal(t, sess.Token, cur.Token)
	assert.Equal(t, sess.User.Email, cur.User.Email)
}

func TestLoadRefreshesExpiredToken(t *testing.T) {
	f := newFixture(t)
	sess := f.signUp(t, "gus@example.com")

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("whatever"))
	require.NoError(t, err)

	store := NewSessionStore(NewAPI(f.server.URL, time.Second), f.stateDir)
	require.NoError(t, store.persist(&Session{Token: expired, RefreshToken: sess.RefreshToken, User: sess.User}))
	require.NoError(t, store.Load(context.Background()))

	cur := store.Current()
	require.NotNil(t, cur)
	assert.NotEqual(t, expired, cur.Token)
	assert.NotEqual(t, sess.RefreshToken, cur.RefreshToken)
	assert.Equal(t, sess.User.Email, cur.User.Email)

	// 刷新令牌只能用一次，再次加载同样的过期会话会被清空
	require.NoError(t, store.persist(&Session{Token: expired, RefreshToken: sess.RefreshToken, User: sess.User}))
	require.NoError(t, store.Load(context.Background()))
	assert.Nil(t, store.Current())
}

func TestHistoryRequiresSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.history.Add(context.Background(), model.ToolAds, "in", "out", nil)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	assert.True(t, apperr.Is(f.history.Refresh(context.Background()), apperr.KindUnauthorized))
	assert.Equal(t, StateIdle, f.history.State())
}

func TestHistoryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signUp(t, "hal@example.com")
	assert.Equal(t, StateReady, f.history.State())
	assert.Empty(t, f.history.List(FilterAll))

	tone := "casual"
	first, err := f.history.Add(ctx, model.ToolSocial, "launch post", "Caption one", &tone)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	second, err := f.history.Add(ctx, model.ToolAds, "crm tool", "HEADLINES:\nFast CRM", nil)
	require.NoError(t, err)

	all := f.history.List(FilterAll)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Len(t, f.history.List(model.ToolSocial), 1)
	assert.Len(t, Search(all, "fast crm"), 1)
	assert.Len(t, Search(all, ""), 2)

	updated, err := f.history.Update(ctx, first.ID, "Caption edited")
	require.NoError(t, err)
	assert.Equal(t, "Caption edited", f.history.List(model.ToolSocial)[0].Output)
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))

	require.NoError(t, f.history.Delete(ctx, second.ID))
	assert.Len(t, f.history.List(FilterAll), 1)

	err = f.history.Delete(ctx, second.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.history.Update(ctx, "missing-id", "x")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// 重新拉取后与本地缓存一致
	require.NoError(t, f.history.Refresh(ctx))
	assert.Len(t, f.history.List(FilterAll), 1)

	f.sessions.Logout(ctx)
	assert.Empty(t, f.history.List(FilterAll))
	assert.Equal(t, StateIdle, f.history.State())
}

func TestHistoryFailedRefreshKeepsStaleItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signUp(t, "ivy@example.com")
	_, err := f.history.Add(ctx, model.ToolSEO, "running shoes", "shoes (Volume: High, Difficulty: Hard)", nil)
	require.NoError(t, err)

	f.failing.Store(true)
	err = f.history.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Equal(t, StateReady, f.history.State())
	assert.Len(t, f.history.List(FilterAll), 1)

	// 服务端未确认时缓存不变
	_, err = f.history.Add(ctx, model.ToolSEO, "x", "y", nil)
	require.Error(t, err)
	assert.Len(t, f.history.List(FilterAll), 1)
}

func TestHistoryIsolatedPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signUp(t, "jon@example.com")
	item, err := f.history.Add(ctx, model.ToolAds, "a", "b", nil)
	require.NoError(t, err)
	f.sessions.Logout(ctx)

	f.signUp(t, "kim@example.com")
	assert.Empty(t, f.history.List(FilterAll))
	err = f.history.Delete(ctx, item.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestHistorySaveConfirmedAfterSessionChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signUp(t, "ada@example.com")

	hold := &saveHold{entered: make(chan struct{}), release: make(chan struct{})}
	f.hold.Store(hold)
	saved := make(chan error, 1)
	go func() {
		_, err := f.history.Add(ctx, model.ToolAds, "private input", "ada secret output", nil)
		saved <- err
	}()

	<-hold.entered
	f.hold.Store(nil)
	f.sessions.Logout(ctx)
	f.signUp(t, "ben@example.com")
	close(hold.release)
	require.NoError(t, <-saved)

	assert.Empty(t, f.history.List(FilterAll))
	require.NoError(t, f.history.Refresh(ctx))
	assert.Empty(t, f.history.List(FilterAll))
}

func TestGenerateAndExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.api.GenerateAds(ctx, model.AdsRequest{ProductDescription: "crm"})
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	f.signUp(t, "lee@example.com")
	f.llm.reply = "HEADLINES:\n1. One\n2. Two\n3. Three\n\nDESCRIPTIONS:\n1. D1\n2. D2"
	ads, err := f.api.GenerateAds(ctx, model.AdsRequest{ProductDescription: "crm", Tone: "sales"})
	require.NoError(t, err)
	assert.Equal(t, []string{"One", "Two", "Three"}, ads.Headlines)

	_, err = f.api.GenerateSEO(ctx, model.SEORequest{Topic: "  "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	f.llm.reply = `[{"keyword":"crm","volume":"High","difficulty":"Hard"}]`
	seo, err := f.api.GenerateSEO(ctx, model.SEORequest{Topic: "crm"})
	require.NoError(t, err)
	require.Len(t, seo.Keywords, 1)

	f.llm.reply = "CAPTIONS:\n1. a\n2. b\n3. c"
	social, err := f.api.GenerateSocial(ctx, model.SocialRequest{Description: "launch"})
	require.NoError(t, err)
	assert.Len(t, social.CaptionList, 3)

	item, err := f.history.Add(ctx, model.ToolSocial, "launch", social.Captions, nil)
	require.NoError(t, err)
	data, filename, err := f.api.ExportHistory(ctx, item.ID, "md")
	require.NoError(t, err)
	assert.Equal(t, "social-"+item.ID[:8]+".md", filename)
	assert.Contains(t, string(data), "launch")

	_, _, err = f.api.ExportHistory(ctx, item.ID, "pdf")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestTokenExpired(t *testing.T) {
	sign := func(exp time.Time) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		}).SignedString([]byte("k"))
		require.NoError(t, err)
		return s
	}
	assert.True(t, tokenExpired(sign(time.Now().Add(-time.Minute))))
	assert.True(t, tokenExpired(sign(time.Now().Add(10*time.Second))))
	assert.False(t, tokenExpired(sign(time.Now().Add(time.Hour))))
	assert.False(t, tokenExpired("opaque-token"))
}

func TestHistoryIDIsEscaped(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"message":"ok","data":{}}`))
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	api := NewAPI(srv.URL, time.Second)
	const id = "a/b c?"
	_, err := api.UpdateHistory(ctx, id, "x")
	require.NoError(t, err)
	require.NoError(t, api.DeleteHistory(ctx, id))
	_, _, err = api.ExportHistory(ctx, id, "txt")
	require.NoError(t, err)
	_, err = api.ShareHistory(ctx, id, "md")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"PUT /api/v1/history/a%2Fb%20c%3F",
		"DELETE /api/v1/history/a%2Fb%20c%3F",
		"GET /api/v1/history/a%2Fb%20c%3F/export",
		"POST /api/v1/history/a%2Fb%20c%3F/share",
	}, paths)
}

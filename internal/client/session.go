package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"marketai-go/internal/model"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/log"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"
)

// SessionFileName 是状态目录下保存会话的文件名。
const SessionFileName = "session.yaml"

// expirySkew 提前视为过期，避免请求途中令牌失效。
const expirySkew = 30 * time.Second

// Session 是当前登录用户及其令牌。
type Session struct {
	Token        string
	RefreshToken string
	User         model.User
}

type sessionFile struct {
	Token        string    `yaml:"token"`
	RefreshToken string    `yaml:"refresh_token"`
	UserID       uint      `yaml:"user_id"`
	Email        string    `yaml:"email"`
	DisplayName  string    `yaml:"display_name"`
	CreatedAt    time.Time `yaml:"created_at"`
}

// SessionStore 持有当前会话，并在会话变化时同步通知订阅者。
// 不变式：IsAuthenticated() == (Current() != nil)。
type SessionStore struct {
	api      *API
	stateDir string

	mu          sync.RWMutex
	session     *Session
	subscribers map[int]func(*Session)
	nextSubID   int
}

// NewSessionStore creates a store persisting to stateDir. An empty stateDir
// keeps the session in memory only.
func NewSessionStore(api *API, stateDir string) *SessionStore {
	s := &SessionStore{
		api:         api,
		stateDir:    stateDir,
		subscribers: make(map[int]func(*Session)),
	}
	api.setTokenSource(s.AccessToken)
	return s
}

// Current returns a copy of the session, or nil when logged out.
func (s *SessionStore) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

func (s *SessionStore) IsAuthenticated() bool {
	return s.Current() != nil
}

// AccessToken returns the current access token or "".
func (s *SessionStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.Token
}

// Subscribe registers fn for session changes and returns an unsubscribe func.
func (s *SessionStore) Subscribe(fn func(*Session)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Login authenticates and replaces the current session.
func (s *SessionStore) Login(ctx context.Context, email, password string) (*Session, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.adopt(res)
}

// Register checks the password policy locally, creates the account and logs in.
func (s *SessionStore) Register(ctx context.Context, email, password, displayName string) (*Session, error) {
	if err := model.ValidateEmail(email); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	if err := model.ValidatePassword(password); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	res, err := s.api.Register(ctx, email, password, displayName)
	if err != nil {
		return nil, err
	}
	return s.adopt(res)
}

// Logout revokes the token on the server when possible, then always clears
// the local session.
func (s *SessionStore) Logout(ctx context.Context) {
	if s.IsAuthenticated() {
		if err := s.api.Logout(ctx); err != nil {
			log.Warnf("server logout failed, clearing local session anyway: %v", err)
		}
	}
	s.set(nil)
}

// Load restores the persisted session. An expired access token is refreshed
// once; when that fails the session is cleared.
func (s *SessionStore) Load(ctx context.Context) error {
	sess, err := s.readFile()
	if err != nil {
		return err
	}
	if sess == nil {
		s.set(nil)
		return nil
	}

	if tokenExpired(sess.Token) {
		res, err := s.api.Refresh(ctx, sess.RefreshToken)
		if err != nil {
			if apperr.Is(err, apperr.KindUpstream) {
				// 服务不可达，保留会话等待下次
				s.setWithoutPersist(sess)
				return err
			}
			log.Infof("stored session expired: %v", err)
			s.set(nil)
			return nil
		}
		sess.Token = res.Token
		sess.RefreshToken = res.RefreshToken
		s.set(sess)
		return nil
	}
	s.setWithoutPersist(sess)
	return nil
}

func (s *SessionStore) adopt(res *AuthPayload) (*Session, error) {
	sess := &Session{Token: res.Token, RefreshToken: res.RefreshToken, User: res.User}
	s.set(sess)
	return s.Current(), nil
}

func (s *SessionStore) set(sess *Session) {
	if err := s.persist(sess); err != nil {
		log.Warnf("failed to persist session: %v", err)
	}
	s.setWithoutPersist(sess)
}

func (s *SessionStore) setWithoutPersist(sess *Session) {
	s.mu.Lock()
	s.session = sess
	subs := make([]func(*Session), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	// 在锁外通知，订阅者可以回调 Current()
	for _, fn := range subs {
		if sess == nil {
			fn(nil)
			continue
		}
		cp := *sess
		fn(&cp)
	}
}

func (s *SessionStore) path() string {
	return filepath.Join(s.stateDir, SessionFileName)
}

func (s *SessionStore) persist(sess *Session) error {
	if s.stateDir == "" {
		return nil
	}
	if sess == nil {
		if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	if err := os.MkdirAll(s.stateDir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(sessionFile{
		Token:        sess.Token,
		RefreshToken: sess.RefreshToken,
		UserID:       sess.User.ID,
		Email:        sess.User.Email,
		DisplayName:  sess.User.DisplayName,
		CreatedAt:    sess.User.CreatedAt,
	})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.stateDir, ".session-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path())
}

func (s *SessionStore) readFile() (*Session, error) {
	if s.stateDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Cannot read session file", err)
	}
	var f sessionFile
	if err := yaml.Unmarshal(data, &f); err != nil || f.Token == "" {
		log.Warnf("ignoring unreadable session file %s", s.path())
		return nil, nil
	}
	return &Session{
		Token:        f.Token,
		RefreshToken: f.RefreshToken,
		User: model.User{
			ID:          f.UserID,
			Email:       f.Email,
			DisplayName: f.DisplayName,
			CreatedAt:   f.CreatedAt,
		},
	}, nil
}

// tokenExpired 只读取 exp，不校验签名；无法解析的令牌交给服务端判断。
func tokenExpired(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Now().Add(expirySkew).After(claims.ExpiresAt.Time)
}

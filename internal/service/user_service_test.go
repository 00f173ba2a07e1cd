package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"marketai-go/internal/model"
	"marketai-go/internal/repository"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodPassword = "Sup3rSecret"

type captureNotifier struct {
	user  *model.User
	token string
}

func (c *captureNotifier) NotifyPasswordReset(_ context.Context, user *model.User, resetToken string) error {
	c.user, c.token = user, resetToken
	return nil
}

type userFixture struct {
	svc      UserService
	tokens   *memTokenRepo
	notifier *captureNotifier
	jwt      *token.JWTManager
}

func newUserFixture(t *testing.T, policy AuthPolicy) *userFixture {
	t.Helper()
	f := &userFixture{
		tokens:   newMemTokenRepo(),
		notifier: &captureNotifier{},
		jwt:      token.NewJWTManager("test-secret", 1, 1),
	}
	f.svc = NewUserService(repository.NewUserRepository(newTestDB(t)), f.tokens, f.jwt, f.notifier, policy)
	return f
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{})

	res, err := f.svc.Register(ctx, "  Ada@Example.com ", goodPassword, "")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.Equal(t, "ada", res.User.DisplayName)
	assert.NotEmpty(t, res.Token)
	assert.NotEqual(t, goodPassword, res.User.Password)

	claims, err := f.jwt.VerifyTokenOfType(res.Token, token.TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)

	login, err := f.svc.Login(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, login.User.ID)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{})

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"bad email", "not-an-email", goodPassword, model.ErrInvalidEmail},
		{"too short", "a@example.com", "Ab1", model.ErrPasswordTooShort},
		{"no uppercase", "a@example.com", "lowercase1", model.ErrPasswordNoUpper},
		{"no digit", "a@example.com", "NoDigitsHere", model.ErrPasswordNoDigit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.email, tt.password, "")
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{})

	_, err := f.svc.Register(ctx, "dup@example.com", goodPassword, "Dup")
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "DUP@example.com", goodPassword, "Dup")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{})
	_, err := f.svc.Register(ctx, "bob@example.com", goodPassword, "")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "bob@example.com", "Wrong1234")
	assert.Equal(t, apperr.KindInvalidCredentials, apperr.KindOf(err))

	_, err = f.svc.Login(ctx, "nobody@example.com", goodPassword)
	assert.Equal(t, apperr.KindInvalidCredentials, apperr.KindOf(err))
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{})
	res, err := f.svc.Register(ctx, "r@example.com", goodPassword, "")
	require.NoError(t, err)

	_, err = f.svc.RefreshToken(ctx, res.Token)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), "access token must not refresh")

	pair, err := f.svc.RefreshToken(ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.RefreshToken, pair.RefreshToken)

	_, err = f.svc.RefreshToken(ctx, res.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestRefreshTokenConcurrentUse(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{})
	res, err := f.svc.Register(ctx, "race@example.com", goodPassword, "")
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.RefreshToken(ctx, res.RefreshToken); err == nil {
				succeeded.Add(1)
			} else {
				assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), succeeded.Load())
}

func TestLogoutBlacklistsToken(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{})
	res, err := f.svc.Register(ctx, "l@example.com", goodPassword, "")
	require.NoError(t, err)

	revoked, err := f.svc.IsTokenRevoked(ctx, res.Token)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, f.svc.Logout(ctx, res.Token))
	revoked, err = f.svc.IsTokenRevoked(ctx, res.Token)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Positive(t, f.tokens.blacklist[res.Token])

	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(f.svc.Logout(ctx, "garbage")))
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{})
	res, err := f.svc.Register(ctx, "p@example.com", goodPassword, "")
	require.NoError(t, err)

	u, err := f.svc.UpdateProfile(ctx, res.User.ID, "  New Name ")
	require.NoError(t, err)
	assert.Equal(t, "New Name", u.DisplayName)

	_, err = f.svc.UpdateProfile(ctx, res.User.ID, "   ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.UpdateProfile(ctx, 9999, "x")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{})
	res, err := f.svc.Register(ctx, "c@example.com", goodPassword, "")
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, res.User.ID, "Wrong1234", "NewPassw0rd")
	assert.Equal(t, apperr.KindInvalidCredentials, apperr.KindOf(err))

	err = f.svc.ChangePassword(ctx, res.User.ID, goodPassword, "weak")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, f.svc.ChangePassword(ctx, res.User.ID, goodPassword, "NewPassw0rd"))
	_, err = f.svc.Login(ctx, "c@example.com", "NewPassw0rd")
	assert.NoError(t, err)
	_, err = f.svc.Login(ctx, "c@example.com", goodPassword)
	assert.Error(t, err)
}

func TestForgotAndResetPassword(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{})
	res, err := f.svc.Register(ctx, "f@example.com", goodPassword, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, "nobody@example.com"))
	assert.Empty(t, f.notifier.token)

	require.NoError(t, f.svc.ForgotPassword(ctx, "F@example.com"))
	require.NotEmpty(t, f.notifier.token)
	assert.Equal(t, res.User.ID, f.notifier.user.ID)

	err = f.svc.ResetPassword(ctx, f.notifier.token, "short")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, f.svc.ResetPassword(ctx, f.notifier.token, "Reset12345"))
	_, err = f.svc.Login(ctx, "f@example.com", "Reset12345")
	assert.NoError(t, err)

	err = f.svc.ResetPassword(ctx, f.notifier.token, "Again12345")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAllowLogin(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t, AuthPolicy{LoginRateLimit: 2})

	assert.NoError(t, f.svc.AllowLogin(ctx, "1.2.3.4"))
	assert.NoError(t, f.svc.AllowLogin(ctx, "1.2.3.4"))
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(f.svc.AllowLogin(ctx, "1.2.3.4")))
	assert.NoError(t, f.svc.AllowLogin(ctx, "5.6.7.8"))

	f.tokens.failIncr = errors.New("redis down")
	assert.NoError(t, f.svc.AllowLogin(ctx, "1.2.3.4"))

	unlimited := newUserFixture(t, AuthPolicy{})
	for i := 0; i < 20; i++ {
		require.NoError(t, unlimited.svc.AllowLogin(ctx, "1.2.3.4"))
	}
}

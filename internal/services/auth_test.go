package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/auth"
	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/stretchr/testify/require"
)

type authFixture struct {
	svc      *AuthService
	db       *memDB
	notifier *captureNotifier
	jwt      *auth.Manager
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	db := newMemDB()
	n := newCaptureNotifier()
	jm := auth.NewManager("test-secret-test-secret-test-secret", 15*time.Minute, 7*24*time.Hour)

	svc := NewAuthService(AuthDeps{
		Users:         memUsers{db},
		RefreshTokens: memRefresh{db},
		AuthTokens:    memTokens{db},
		Tx:            db,
		JWT:           jm,
		Notifier:      n,
	}, AuthConfig{MaxLoginAttempts: 3, LockoutDuration: 15 * time.Minute})

	return authFixture{svc: svc, db: db, notifier: n, jwt: jm}
}

func (f authFixture) register(t *testing.T, email, username string) AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Email:     email,
		Username:  username,
		Password:  "correct-horse",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	return res
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae), "expected *apperr.Error, got %T", err)
	require.Equal(t, code, ae.Code)
}

func TestRegister_IssuesSessionAndVerificationLink(t *testing.T) {
	f := newAuthFixture(t)

	res := f.register(t, "ada@example.com", "ada")

	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.Equal(t, int64(900), res.ExpiresIn)
	require.Equal(t, []string{user.RoleUser}, res.User.Roles)
	require.True(t, res.User.IsActive)
	require.False(t, res.User.EmailVerified)
	require.NotEmpty(t, f.notifier.token(user.PurposeVerifyEmail))
	require.Equal(t, 1, f.db.activeRefresh(res.User.ID))
}

func TestRegister_DuplicateEmailAndUsername(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "ada@example.com", "ada")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "ADA@example.com", Username: "other", Password: "correct-horse"})
	requireCode(t, err, apperr.CodeEmailExists)

	_, err = f.svc.Register(context.Background(), RegisterInput{Email: "new@example.com", Username: "Ada", Password: "correct-horse"})
	requireCode(t, err, apperr.CodeUsernameExists)
}

func TestLogin_ByEmailOrUsername(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "ada@example.com", "ada")

	for _, login := range []string{"ada@example.com", "ADA"} {
		res, err := f.svc.Login(context.Background(), LoginInput{Login: login, Password: "correct-horse"})
		require.NoError(t, err, login)
		require.Equal(t, "ada@example.com", res.User.Email)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "ada@example.com", "ada")

	_, err := f.svc.Login(context.Background(), LoginInput{Login: "ada", Password: "nope"})
	requireCode(t, err, apperr.CodeInvalidCredentials)

	_, err = f.svc.Login(context.Background(), LoginInput{Login: "ghost", Password: "nope"})
	requireCode(t, err, apperr.CodeInvalidCredentials)
}

func TestLogin_LocksAfterRepeatedFailuresAndUnlockLinkWorks(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "ada@example.com", "ada")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Login: "ada", Password: "wrong"})
		requireCode(t, err, apperr.CodeInvalidCredentials)
	}

	// correct password is refused while locked
	_, err := f.svc.Login(ctx, LoginInput{Login: "ada", Password: "correct-horse"})
	requireCode(t, err, apperr.CodeAccountLocked)

	token := f.notifier.token(user.PurposeUnlockAccount)
	require.NotEmpty(t, token)
	require.NoError(t, f.svc.UnlockAccount(ctx, token))

	_, err = f.svc.Login(ctx, LoginInput{Login: "ada", Password: "correct-horse"})
	require.NoError(t, err)

	// one-time
	requireCode(t, f.svc.UnlockAccount(ctx, token), apperr.CodeValidation)
}

func TestLogin_ExpiredLockRestartsFailureCount(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "ada@example.com", "ada")
	ctx := context.Background()

	clock := time.Now()
	now := func() time.Time { return clock }
	f.svc.now, f.db.now = now, now

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Login: "ada", Password: "wrong"})
		requireCode(t, err, apperr.CodeInvalidCredentials)
	}
	first := f.notifier.token(user.PurposeUnlockAccount)
	require.NotEmpty(t, first)

	clock = clock.Add(20 * time.Minute)

	// a single miss after expiry must not re-lock
	_, err := f.svc.Login(ctx, LoginInput{Login: "ada", Password: "wrong"})
	requireCode(t, err, apperr.CodeInvalidCredentials)

	u, err := memUsers{f.db}.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, u.FailedLoginAttempts)
	require.Nil(t, u.LockedUntil)

	_, err = f.svc.Login(ctx, LoginInput{Login: "ada", Password: "correct-horse"})
	require.NoError(t, err)

	// a fresh lockout sends a fresh unlock link
	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Login: "ada", Password: "wrong"})
		requireCode(t, err, apperr.CodeInvalidCredentials)
	}
	_, err = f.svc.Login(ctx, LoginInput{Login: "ada", Password: "correct-horse"})
	requireCode(t, err, apperr.CodeAccountLocked)

	second := f.notifier.token(user.PurposeUnlockAccount)
	require.NotEmpty(t, second)
	require.NotEqual(t, first, second)
	require.NoError(t, f.svc.UnlockAccount(ctx, second))
}

func TestLogin_DisabledAccount(t *testing.T) {
	f := newAuthFixture(t)
	res := f.register(t, "ada@example.com", "ada")
	require.NoError(t, memUsers{f.db}.update(res.User.ID, func(u *user.User) { u.IsActive = false }))

	_, err := f.svc.Login(context.Background(), LoginInput{Login: "ada", Password: "correct-horse"})
	requireCode(t, err, apperr.CodeAccountDisabled)
}

func TestRefresh_RotatesToken(t *testing.T) {
	f := newAuthFixture(t)
	first := f.register(t, "ada@example.com", "ada")
	ctx := context.Background()

	second, err := f.svc.Refresh(ctx, first.RefreshToken, "ua", "127.0.0.1")
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, 1, f.db.activeRefresh(first.User.ID))

	claims, err := f.jwt.VerifyAccessToken(second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, first.User.ID, claims.UserID)
}

func TestRefresh_ReuseRevokesAllSessions(t *testing.T) {
	f := newAuthFixture(t)
	first := f.register(t, "ada@example.com", "ada")
	ctx := context.Background()

	second, err := f.svc.Refresh(ctx, first.RefreshToken, "", "")
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, first.RefreshToken, "", "")
	requireCode(t, err, apperr.CodeInvalidRefresh)
	require.Equal(t, 0, f.db.activeRefresh(first.User.ID))

	_, err = f.svc.Refresh(ctx, second.RefreshToken, "", "")
	requireCode(t, err, apperr.CodeInvalidRefresh)
}

func TestRefresh_Errors(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, "", "", "")
	requireCode(t, err, apperr.CodeRefreshNotFound)

	_, err = f.svc.Refresh(ctx, "garbage", "", "")
	requireCode(t, err, apperr.CodeInvalidRefresh)

	// an access token is not a refresh token
	res := f.register(t, "ada@example.com", "ada")
	_, err = f.svc.Refresh(ctx, res.AccessToken, "", "")
	requireCode(t, err, apperr.CodeInvalidRefresh)
}

func TestLogout_IsIdempotent(t *testing.T) {
	f := newAuthFixture(t)
	res := f.register(t, "ada@example.com", "ada")
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, res.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, res.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, ""))
	require.Equal(t, 0, f.db.activeRefresh(res.User.ID))

	_, err := f.svc.Refresh(ctx, res.RefreshToken, "", "")
	requireCode(t, err, apperr.CodeInvalidRefresh)
}

func TestVerifyEmail(t *testing.T) {
	f := newAuthFixture(t)
	res := f.register(t, "ada@example.com", "ada")
	ctx := context.Background()

	require.NoError(t, f.svc.VerifyEmail(ctx, f.notifier.token(user.PurposeVerifyEmail)))

	me, err := f.svc.Me(ctx, res.User.ID)
	require.NoError(t, err)
	require.True(t, me.EmailVerified)

	requireCode(t, f.svc.VerifyEmail(ctx, "bogus"), apperr.CodeValidation)
}

func TestPasswordReset_Flow(t *testing.T) {
	f := newAuthFixture(t)
	res := f.register(t, "ada@example.com", "ada")
	ctx := context.Background()

	// unknown addresses look the same to the caller
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com"))
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ada@example.com"))

	token := f.notifier.token(user.PurposePasswordReset)
	_, err := f.svc.VerifyResetToken(ctx, token)
	require.NoError(t, err)

	requireCode(t, f.svc.ResetPassword(ctx, token, "short"), apperr.CodeValidation)
	require.NoError(t, f.svc.ResetPassword(ctx, token, "brand-new-password"))
	require.Equal(t, 0, f.db.activeRefresh(res.User.ID))

	_, err = f.svc.VerifyResetToken(ctx, token)
	requireCode(t, err, apperr.CodeValidation)

	_, err = f.svc.Login(ctx, LoginInput{Login: "ada", Password: "brand-new-password"})
	require.NoError(t, err)
}

func TestPasswordReset_NewRequestInvalidatesOldLink(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "ada@example.com", "ada")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ada@example.com"))
	old := f.notifier.token(user.PurposePasswordReset)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ada@example.com"))

	requireCode(t, f.svc.ResetPassword(ctx, old, "brand-new-password"), apperr.CodeValidation)
}

func TestPermissions_CombinesRoles(t *testing.T) {
	f := newAuthFixture(t)
	res := f.register(t, "ada@example.com", "ada")
	f.db.roles[res.User.ID] = []string{"pharmacist"}

	ps, err := f.svc.Permissions(context.Background(), res.User.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{user.RoleUser, "pharmacist"}, ps.Roles)
	require.Contains(t, ps.Permissions, "inventory:manage")
}

func TestUpdateProfile(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "taken@example.com", "taken")
	res := f.register(t, "ada@example.com", "ada")
	ctx := context.Background()

	_, err := f.svc.UpdateProfile(ctx, res.User.ID, ProfileInput{Username: "taken"})
	requireCode(t, err, apperr.CodeUsernameExists)

	u, err := f.svc.UpdateProfile(ctx, res.User.ID, ProfileInput{FirstName: "Augusta"})
	require.NoError(t, err)
	require.Equal(t, "Augusta", u.FirstName)
	require.Equal(t, "ada", u.Username)
}

package integration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
	"github.com/geocoder89/aegisapi/internal/security"
	"github.com/geocoder89/aegisapi/internal/services"
	"github.com/google/uuid"
)

func (e authEnv) failLogins(t *testing.T, login string, n int) {
	t.Helper()
	for range n {
		_, err := e.svc.Login(context.Background(), services.LoginInput{Login: login, Password: "wrong-password"})
		expectCode(t, err, apperr.CodeInvalidCredentials)
	}
}

func TestLockout_ExpiredLockRestartsCountAndUnlockTokenIsSingleUse(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	ada := env.register(t, "ada@example.com", "ada")
	id := ada.User.ID

	env.failLogins(t, "ada", 3)

	u, err := env.store.Users().GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.FailedLoginAttempts != 3 || u.LockedUntil == nil {
		t.Fatalf("expected locked account after 3 failures, got attempts=%d locked=%v", u.FailedLoginAttempts, u.LockedUntil)
	}

	_, err = env.svc.Login(ctx, services.LoginInput{Login: "ada", Password: "correct-horse"})
	expectCode(t, err, apperr.CodeAccountLocked)
	firstUnlock := env.links.token(t, user.PurposeUnlockAccount)

	// let the lock run out on the database clock
	env.exec(t, `UPDATE users SET locked_until = NOW() - INTERVAL '1 minute' WHERE id = $1`, id)

	env.failLogins(t, "ada", 1)
	u, err = env.store.Users().GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.FailedLoginAttempts != 1 {
		t.Fatalf("expected failure count to restart at 1, got %d", u.FailedLoginAttempts)
	}
	if u.LockedUntil != nil {
		t.Fatalf("expected expired lock to be cleared, got %v", *u.LockedUntil)
	}

	if _, err := env.svc.Login(ctx, services.LoginInput{Login: "ada", Password: "correct-horse"}); err != nil {
		t.Fatalf("login after expired lock: %v", err)
	}

	// lock again: the new unlock link supersedes the first one
	env.failLogins(t, "ada", 3)
	secondUnlock := env.links.token(t, user.PurposeUnlockAccount)
	if secondUnlock == firstUnlock {
		t.Fatalf("expected a fresh unlock token")
	}

	expectCode(t, env.svc.UnlockAccount(ctx, firstUnlock), apperr.CodeInvalidToken)

	if err := env.svc.UnlockAccount(ctx, secondUnlock); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	expectCode(t, env.svc.UnlockAccount(ctx, secondUnlock), apperr.CodeInvalidToken)

	if _, err := env.svc.Login(ctx, services.LoginInput{Login: "ada", Password: "correct-horse"}); err != nil {
		t.Fatalf("login after unlock: %v", err)
	}
	u, err = env.store.Users().GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.FailedLoginAttempts != 0 || u.LockedUntil != nil || u.LastLoginAt == nil {
		t.Fatalf("expected clean login state, got attempts=%d locked=%v last=%v", u.FailedLoginAttempts, u.LockedUntil, u.LastLoginAt)
	}
}

func TestAuthTokens_ConsumeOnlyMatchesLiveTokenOfSamePurpose(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	ada := env.register(t, "ada@example.com", "ada")
	tokens := env.store.AuthTokens()

	insert := func(purpose string, expiresAt time.Time) string {
		t.Helper()
		raw, hash, err := security.NewOneTimeToken()
		if err != nil {
			t.Fatalf("new token: %v", err)
		}
		err = tokens.Create(ctx, user.OneTimeToken{
			ID:        uuid.NewString(),
			UserID:    ada.User.ID,
			Purpose:   purpose,
			TokenHash: hash,
			ExpiresAt: expiresAt,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("create token: %v", err)
		}
		return raw
	}

	live := insert(user.PurposePasswordReset, time.Now().Add(time.Hour))
	expired := insert(user.PurposePasswordReset, time.Now().Add(-time.Minute))

	if _, err := tokens.Consume(ctx, user.PurposeVerifyEmail, security.HashOneTimeToken(live)); !errors.Is(err, postgres.ErrTokenInvalid) {
		t.Fatalf("expected wrong purpose to be rejected, got %v", err)
	}
	if _, err := tokens.Consume(ctx, user.PurposePasswordReset, security.HashOneTimeToken(expired)); !errors.Is(err, postgres.ErrTokenInvalid) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	userID, err := tokens.Consume(ctx, user.PurposePasswordReset, security.HashOneTimeToken(live))
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if userID != ada.User.ID {
		t.Fatalf("expected owner %s, got %s", ada.User.ID, userID)
	}
	if _, err := tokens.Consume(ctx, user.PurposePasswordReset, security.HashOneTimeToken(live)); !errors.Is(err, postgres.ErrTokenInvalid) {
		t.Fatalf("expected second consume to be rejected, got %v", err)
	}
}

func TestRefresh_RotatesAndReuseRevokesEverySession(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	ada := env.register(t, "ada@example.com", "ada")
	id := ada.User.ID

	rotated, err := env.svc.Refresh(ctx, ada.RefreshToken, "test-agent", "127.0.0.1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == ada.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}

	if n := env.count(t, `SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND revoked_at IS NOT NULL AND replaced_by IS NOT NULL`, id); n != 1 {
		t.Fatalf("expected the old token to point at its replacement, got %d rows", n)
	}
	if n := env.activeSessions(t, id); n != 1 {
		t.Fatalf("expected 1 live session, got %d", n)
	}

	// a second login is a separate session that reuse must also kill
	if _, err := env.svc.Login(ctx, services.LoginInput{Login: "ada", Password: "correct-horse"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if n := env.activeSessions(t, id); n != 2 {
		t.Fatalf("expected 2 live sessions, got %d", n)
	}

	_, err = env.svc.Refresh(ctx, ada.RefreshToken, "", "")
	expectCode(t, err, apperr.CodeInvalidRefresh)
	if n := env.activeSessions(t, id); n != 0 {
		t.Fatalf("expected reuse to revoke every session, got %d live", n)
	}

	_, err = env.svc.Refresh(ctx, rotated.RefreshToken, "", "")
	expectCode(t, err, apperr.CodeInvalidRefresh)
}

func TestUserAdmin_DeactivateRolesAndPasswordChange(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	root := env.register(t, "root@example.com", "root")
	env.exec(t, `UPDATE users SET role = 'admin' WHERE id = $1`, root.User.ID)
	ada := env.register(t, "ada@example.com", "ada")
	env.register(t, "bob@example.com", "bob")

	if _, err := env.svc.AssignRoles(ctx, root.User.ID, ada.User.ID, []string{"finance", "user"}); err != nil {
		t.Fatalf("assign roles: %v", err)
	}
	page, err := env.svc.ListUsers(ctx, services.UserListInput{Role: "finance"})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if page.Total != 1 || len(page.Users) != 1 || page.Users[0].ID != ada.User.ID {
		t.Fatalf("expected only ada in finance, got total=%d users=%v", page.Total, page.Users)
	}
	page, err = env.svc.ListUsers(ctx, services.UserListInput{Search: "EXAMPLE.COM", Limit: 2})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if page.Total != 3 || len(page.Users) != 2 {
		t.Fatalf("expected 3 matches paged to 2, got total=%d len=%d", page.Total, len(page.Users))
	}

	if _, err := env.svc.RemoveRole(ctx, root.User.ID, ada.User.ID, "finance"); err != nil {
		t.Fatalf("remove role: %v", err)
	}
	_, err = env.svc.RemoveRole(ctx, root.User.ID, ada.User.ID, "finance")
	expectCode(t, err, services.CodeRoleNotFound)

	res, err := env.svc.SetUsersActive(ctx, root.User.ID, []string{ada.User.ID, root.User.ID}, false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if res.Succeeded != 1 || res.Results[1].Code != services.CodeCannotDeactivateSelf {
		t.Fatalf("unexpected bulk result: %+v", res)
	}
	if n := env.activeSessions(t, ada.User.ID); n != 0 {
		t.Fatalf("expected deactivation to revoke sessions, got %d live", n)
	}
	_, err = env.svc.Login(ctx, services.LoginInput{Login: "ada", Password: "correct-horse"})
	expectCode(t, err, apperr.CodeAccountDisabled)

	if _, err := env.svc.SetUsersActive(ctx, root.User.ID, []string{ada.User.ID}, true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := env.svc.Login(ctx, services.LoginInput{Login: "ada", Password: "correct-horse"}); err != nil {
		t.Fatalf("login after activation: %v", err)
	}

	err = env.svc.ChangePassword(ctx, ada.User.ID, services.ChangePasswordInput{
		CurrentPassword: "nope-nope", NewPassword: "battery-staple", ConfirmPassword: "battery-staple",
	})
	expectCode(t, err, services.CodeInvalidCurrentPassword)

	err = env.svc.ChangePassword(ctx, ada.User.ID, services.ChangePasswordInput{
		CurrentPassword: "correct-horse", NewPassword: "battery-staple", ConfirmPassword: "battery-staple",
	})
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if n := env.activeSessions(t, ada.User.ID); n != 0 {
		t.Fatalf("expected password change to revoke sessions, got %d live", n)
	}
	if _, err := env.svc.Login(ctx, services.LoginInput{Login: "ada", Password: "battery-staple"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

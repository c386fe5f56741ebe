package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/auth"
	"github.com/geocoder89/aegisapi/internal/cache"
	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/notifications"
	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
	"github.com/geocoder89/aegisapi/internal/security"
	"github.com/geocoder89/aegisapi/internal/session"
	"github.com/google/uuid"
)

const MinPasswordLength = 8

type AuthConfig struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	VerifyTokenTTL   time.Duration
	ResetTokenTTL    time.Duration
	UnlockTokenTTL   time.Duration
}

func (c *AuthConfig) defaults() {
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = 5
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	if c.VerifyTokenTTL <= 0 {
		c.VerifyTokenTTL = 24 * time.Hour
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = time.Hour
	}
	if c.UnlockTokenTTL <= 0 {
		c.UnlockTokenTTL = time.Hour
	}
}

type AuthDeps struct {
	Users         UserStore
	RefreshTokens RefreshTokenStore
	AuthTokens    OneTimeTokenStore
	Tx            Transactor
	JWT           *auth.Manager
	Notifier      notifications.Notifier
	Prom          *observability.Prom
	Log           *slog.Logger
}

type AuthService struct {
	users    UserStore
	refresh  RefreshTokenStore
	tokens   OneTimeTokenStore
	tx       Transactor
	jwt      *auth.Manager
	notifier notifications.Notifier
	perms    *cache.Cache[PermissionSet]
	prom     *observability.Prom
	log      *slog.Logger
	cfg      AuthConfig
	now      func() time.Time
}

func NewAuthService(deps AuthDeps, cfg AuthConfig) *AuthService {
	cfg.defaults()
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &AuthService{
		users:    deps.Users,
		refresh:  deps.RefreshTokens,
		tokens:   deps.AuthTokens,
		tx:       deps.Tx,
		jwt:      deps.JWT,
		notifier: deps.Notifier,
		perms:    cache.New[PermissionSet](30 * time.Second),
		prom:     deps.Prom,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
	UserAgent string
	IP        string
}

type LoginInput struct {
	Login     string // email or username
	Password  string
	UserAgent string
	IP        string
}

// AuthResult is returned by register, login and refresh.
type AuthResult struct {
	User             user.User
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64 // access token lifetime in seconds
	RefreshExpiresAt time.Time
}

var (
	errInvalidCredentials = apperr.Unauthorized(apperr.CodeInvalidCredentials, "Invalid credentials")
	errAccountDisabled    = apperr.Unauthorized(apperr.CodeAccountDisabled, "Account is disabled")
	errAccountLocked      = apperr.Unauthorized(apperr.CodeAccountLocked, "Account is temporarily locked due to repeated failed logins")
	errRefreshNotFound    = apperr.Unauthorized(apperr.CodeRefreshNotFound, "Refresh token not provided")
	errInvalidRefresh     = apperr.Unauthorized(apperr.CodeInvalidRefresh, "Invalid refresh token")
	errRefreshExpired     = apperr.Unauthorized(apperr.CodeRefreshExpired, "Refresh token expired")
)

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)

	taken, err := s.users.EmailTaken(ctx, in.Email, "")
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}
	if taken {
		s.prom.ObserveAuth("register", apperr.CodeEmailExists)
		return AuthResult{}, apperr.Conflict(apperr.CodeEmailExists, "Email is already registered")
	}

	taken, err = s.users.UsernameTaken(ctx, in.Username, "")
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}
	if taken {
		s.prom.ObserveAuth("register", apperr.CodeUsernameExists)
		return AuthResult{}, apperr.Conflict(apperr.CodeUsernameExists, "Username is already taken")
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	now := s.now().UTC()
	u := user.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: hash,
		Role:         user.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, u); err != nil {
		// lost a race with a concurrent signup
		if postgres.IsUniqueViolation(err) {
			if strings.Contains(postgres.UniqueConstraint(err), "username") {
				return AuthResult{}, apperr.Conflict(apperr.CodeUsernameExists, "Username is already taken")
			}
			return AuthResult{}, apperr.Conflict(apperr.CodeEmailExists, "Email is already registered")
		}
		return AuthResult{}, apperr.Internal(err)
	}

	if err := s.sendLink(ctx, s.tokens, u, user.PurposeVerifyEmail, s.cfg.VerifyTokenTTL); err != nil {
		s.log.WarnContext(ctx, "verification email not sent", "user_id", u.ID, "err", err)
	}

	res, err := s.issueSession(ctx, u, in.UserAgent, in.IP)
	if err != nil {
		return AuthResult{}, err
	}

	s.prom.ObserveAuth("register", "ok")
	s.log.InfoContext(ctx, "user registered", "user_id", u.ID)
	return res, nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnPasswordCheck keeps unknown-user logins as slow as wrong-password ones.
func burnPasswordCheck(plain string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = security.HashPassword("not-a-real-password")
	})
	_ = security.CheckPassword(dummyHash, plain)
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	u, err := s.users.GetByLogin(ctx, strings.TrimSpace(in.Login))
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			burnPasswordCheck(in.Password)
			s.prom.ObserveAuth("login", apperr.CodeInvalidCredentials)
			return AuthResult{}, errInvalidCredentials
		}
		return AuthResult{}, apperr.Internal(err)
	}

	now := s.now()
	if u.IsLocked(now) {
		s.prom.ObserveAuth("login", apperr.CodeAccountLocked)
		return AuthResult{}, errAccountLocked.WithDetails(map[string]any{"lockedUntil": u.LockedUntil})
	}

	if err := security.CheckPassword(u.PasswordHash, in.Password); err != nil {
		s.recordFailure(ctx, u)
		s.prom.ObserveAuth("login", apperr.CodeInvalidCredentials)
		return AuthResult{}, errInvalidCredentials
	}

	if !u.IsActive {
		s.prom.ObserveAuth("login", apperr.CodeAccountDisabled)
		return AuthResult{}, errAccountDisabled
	}

	if err := s.users.RecordLoginSuccess(ctx, u.ID); err != nil {
		return AuthResult{}, apperr.Internal(err)
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now

	res, err := s.issueSession(ctx, u, in.UserAgent, in.IP)
	if err != nil {
		return AuthResult{}, err
	}

	s.prom.ObserveAuth("login", "ok")
	return res, nil
}

func (s *AuthService) recordFailure(ctx context.Context, u user.User) {
	attempts, lockedUntil, err := s.users.RecordLoginFailure(ctx, u.ID, s.cfg.MaxLoginAttempts, s.cfg.LockoutDuration)
	if err != nil {
		s.log.ErrorContext(ctx, "record login failure", "user_id", u.ID, "err", err)
		return
	}

	if lockedUntil != nil && attempts == s.cfg.MaxLoginAttempts {
		s.log.WarnContext(ctx, "account locked", "user_id", u.ID, "until", lockedUntil)
		if err := s.sendLink(ctx, s.tokens, u, user.PurposeUnlockAccount, s.cfg.UnlockTokenTTL); err != nil {
			s.log.WarnContext(ctx, "unlock email not sent", "user_id", u.ID, "err", err)
		}
	}
}

// issueSession mints an access/refresh pair and records the refresh token.
func (s *AuthService) issueSession(ctx context.Context, u user.User, userAgent, ip string) (AuthResult, error) {
	if err := s.loadRoles(ctx, &u); err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	id := identityOf(u)

	access, err := s.jwt.GenerateAccessToken(id)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	raw, jti, exp, err := s.jwt.GenerateRefreshToken(id)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	err = s.refresh.Create(ctx, postgres.RefreshTokenRow{
		ID:        jti,
		UserID:    u.ID,
		TokenHash: s.jwt.HashRefreshToken(raw),
		UserAgent: userAgent,
		IPAddress: ip,
		ExpiresAt: exp,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	return AuthResult{
		User:             u,
		AccessToken:      access,
		RefreshToken:     raw,
		ExpiresIn:        int64(s.jwt.AccessTTL().Seconds()),
		RefreshExpiresAt: exp,
	}, nil
}

func (s *AuthService) loadRoles(ctx context.Context, u *user.User) error {
	roles, err := s.users.Roles(ctx, u.ID)
	if err != nil {
		return err
	}
	u.Roles = roles
	u.Roles = u.AllRoles() // fold the primary role in
	return nil
}

func identityOf(u user.User) auth.Identity {
	return auth.Identity{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		Role:     u.Role,
		Roles:    u.AllRoles(),
	}
}

// Refresh rotates the refresh token: the presented one is revoked and
// replaced inside a transaction holding its row lock, so two concurrent
// refreshes with the same token cannot both succeed.
func (s *AuthService) Refresh(ctx context.Context, raw, userAgent, ip string) (AuthResult, error) {
	if strings.TrimSpace(raw) == "" {
		s.prom.ObserveAuth("refresh", apperr.CodeRefreshNotFound)
		return AuthResult{}, errRefreshNotFound
	}

	claims, err := s.jwt.VerifyRefreshToken(raw)
	if err != nil {
		if auth.IsExpired(err) {
			s.prom.ObserveAuth("refresh", apperr.CodeRefreshExpired)
			return AuthResult{}, errRefreshExpired
		}
		s.prom.ObserveAuth("refresh", apperr.CodeInvalidRefresh)
		return AuthResult{}, errInvalidRefresh
	}

	var (
		res    AuthResult
		reused bool
	)

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx TxStores) error {
		row, err := tx.RefreshTokens.GetForUpdate(ctx, claims.JTI)
		if err != nil {
			if errors.Is(err, postgres.ErrRefreshTokenNotFound) {
				return errInvalidRefresh
			}
			return err
		}

		state := session.StateOf(session.Record{RevokedAt: row.RevokedAt, ExpiresAt: row.ExpiresAt}, s.now())
		if _, err := session.Next(state, session.EventRefresh); err != nil {
			switch state {
			case session.Expired:
				return errRefreshExpired
			case session.Revoked:
				if row.ReplacedBy != nil {
					// a rotated token came back: someone else holds a copy
					if err := tx.RefreshTokens.RevokeAllForUser(ctx, row.UserID); err != nil {
						return err
					}
					reused = true
					return nil
				}
			}
			return errInvalidRefresh
		}

		if row.TokenHash != s.jwt.HashRefreshToken(raw) || row.UserID != claims.UserID {
			return errInvalidRefresh
		}

		u, err := tx.Users.GetByID(ctx, row.UserID)
		if err != nil {
			if errors.Is(err, postgres.ErrUserNotFound) {
				return errInvalidRefresh
			}
			return err
		}
		if !u.IsActive {
			return errAccountDisabled
		}

		roles, err := tx.Users.Roles(ctx, u.ID)
		if err != nil {
			return err
		}
		u.Roles = roles
		u.Roles = u.AllRoles()
		id := identityOf(u)

		newRaw, newJTI, newExp, err := s.jwt.GenerateRefreshToken(id)
		if err != nil {
			return err
		}

		if err := tx.RefreshTokens.Revoke(ctx, row.ID, &newJTI); err != nil {
			return err
		}

		if userAgent == "" {
			userAgent = row.UserAgent
		}
		if ip == "" {
			ip = row.IPAddress
		}

		if err := tx.RefreshTokens.Create(ctx, postgres.RefreshTokenRow{
			ID:        newJTI,
			UserID:    u.ID,
			TokenHash: s.jwt.HashRefreshToken(newRaw),
			UserAgent: userAgent,
			IPAddress: ip,
			ExpiresAt: newExp,
			CreatedAt: s.now().UTC(),
		}); err != nil {
			return err
		}

		access, err := s.jwt.GenerateAccessToken(id)
		if err != nil {
			return err
		}

		res = AuthResult{
			User:             u,
			AccessToken:      access,
			RefreshToken:     newRaw,
			ExpiresIn:        int64(s.jwt.AccessTTL().Seconds()),
			RefreshExpiresAt: newExp,
		}
		return nil
	})

	if reused {
		s.log.WarnContext(ctx, "refresh token reuse detected, sessions revoked", "user_id", claims.UserID)
		s.prom.ObserveAuth("refresh", "reuse_detected")
		return AuthResult{}, errInvalidRefresh
	}

	if err != nil {
		ae := apperr.From(err)
		s.prom.ObserveAuth("refresh", ae.Code)
		return AuthResult{}, ae
	}

	s.prom.ObserveAuth("refresh", "ok")
	return res, nil
}

// Logout revokes the refresh token if it still verifies. Missing or invalid
// tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	claims, err := s.jwt.VerifyRefreshToken(raw)
	if err != nil {
		return nil
	}

	if err := s.refresh.Revoke(ctx, claims.JTI, nil); err != nil {
		return apperr.Internal(err)
	}

	s.perms.Delete(permsKey(claims.UserID))
	s.prom.ObserveAuth("logout", "ok")
	return nil
}

// Me returns the user with roles and departments resolved.
func (s *AuthService) Me(ctx context.Context, userID string) (user.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			return user.User{}, apperr.NotFound("User not found")
		}
		return user.User{}, apperr.Internal(err)
	}

	if err := s.loadRoles(ctx, &u); err != nil {
		return user.User{}, apperr.Internal(err)
	}

	deps, err := s.users.Departments(ctx, userID)
	if err != nil {
		return user.User{}, apperr.Internal(err)
	}
	u.Departments = deps
	return u, nil
}

type PermissionSet struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func permsKey(userID string) string { return "perms:" + userID }

// Permissions resolves the user's permission set, cached briefly per user.
func (s *AuthService) Permissions(ctx context.Context, userID string) (PermissionSet, error) {
	if v, ok := s.perms.Get(permsKey(userID)); ok {
		return v, nil
	}

	u, err := s.Me(ctx, userID)
	if err != nil {
		return PermissionSet{}, err
	}

	ps := PermissionSet{Roles: u.Roles, Permissions: rbac.PermissionsFor(u.Roles)}
	s.perms.Set(permsKey(userID), ps)
	return ps, nil
}

type ProfileInput struct {
	Username  string
	FirstName string
	LastName  string
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (user.User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return user.User{}, err
	}

	if in.Username != "" && !strings.EqualFold(in.Username, u.Username) {
		taken, err := s.users.UsernameTaken(ctx, in.Username, userID)
		if err != nil {
			return user.User{}, apperr.Internal(err)
		}
		if taken {
			return user.User{}, apperr.Conflict(apperr.CodeUsernameExists, "Username is already taken")
		}
		u.Username = in.Username
	}
	if in.FirstName != "" {
		u.FirstName = in.FirstName
	}
	if in.LastName != "" {
		u.LastName = in.LastName
	}

	if err := s.users.UpdateProfile(ctx, userID, u.Username, u.FirstName, u.LastName); err != nil {
		if postgres.IsUniqueViolation(err) {
			return user.User{}, apperr.Conflict(apperr.CodeUsernameExists, "Username is already taken")
		}
		return user.User{}, apperr.Internal(err)
	}
	u.UpdatedAt = s.now().UTC()
	return u, nil
}

func invalidToken(kind string) *apperr.Error {
	return apperr.Field("token", apperr.CodeInvalidToken, fmt.Sprintf("Invalid or expired %s token", kind))
}

// consume runs fn for the owner of a one-time token inside one transaction.
func (s *AuthService) consume(ctx context.Context, purpose, kind, raw string, fn func(ctx context.Context, tx TxStores, userID string) error) error {
	if strings.TrimSpace(raw) == "" {
		return invalidToken(kind)
	}
	hash := security.HashOneTimeToken(raw)

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx TxStores) error {
		userID, err := tx.AuthTokens.Consume(ctx, purpose, hash)
		if err != nil {
			if errors.Is(err, postgres.ErrTokenInvalid) {
				return invalidToken(kind)
			}
			return err
		}
		return fn(ctx, tx, userID)
	})

	result := "ok"
	if err != nil {
		result = apperr.From(err).Code
	}
	s.prom.ObserveAuth(purpose, result)
	if err != nil {
		return apperr.From(err)
	}
	return nil
}

func (s *AuthService) UnlockAccount(ctx context.Context, token string) error {
	return s.consume(ctx, user.PurposeUnlockAccount, "unlock", token, func(ctx context.Context, tx TxStores, userID string) error {
		return tx.Users.Unlock(ctx, userID)
	})
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	return s.consume(ctx, user.PurposeVerifyEmail, "verification", token, func(ctx context.Context, tx TxStores, userID string) error {
		return tx.Users.MarkEmailVerified(ctx, userID)
	})
}

// ResendVerification answers the same way whether or not the email exists.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			return nil
		}
		return apperr.Internal(err)
	}
	if u.EmailVerified || !u.IsActive {
		return nil
	}

	if err := s.sendLink(ctx, s.tokens, u, user.PurposeVerifyEmail, s.cfg.VerifyTokenTTL); err != nil {
		s.log.WarnContext(ctx, "verification email not sent", "user_id", u.ID, "err", err)
	}
	return nil
}

// RequestPasswordReset answers the same way whether or not the email exists.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			s.prom.ObserveAuth("password_reset_request", "unknown_email")
			return nil
		}
		return apperr.Internal(err)
	}
	if !u.IsActive {
		return nil
	}

	if err := s.sendLink(ctx, s.tokens, u, user.PurposePasswordReset, s.cfg.ResetTokenTTL); err != nil {
		s.log.WarnContext(ctx, "password reset email not sent", "user_id", u.ID, "err", err)
	}
	s.prom.ObserveAuth("password_reset_request", "ok")
	return nil
}

// VerifyResetToken checks a reset token without consuming it.
func (s *AuthService) VerifyResetToken(ctx context.Context, token string) (time.Time, error) {
	if strings.TrimSpace(token) == "" {
		return time.Time{}, invalidToken("reset")
	}

	t, err := s.tokens.Peek(ctx, user.PurposePasswordReset, security.HashOneTimeToken(token))
	if err != nil {
		if errors.Is(err, postgres.ErrTokenInvalid) {
			return time.Time{}, invalidToken("reset")
		}
		return time.Time{}, apperr.Internal(err)
	}
	return t.ExpiresAt, nil
}

// ResetPassword sets a new password and revokes every session of the user.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return apperr.Field("newPassword", "PASSWORD_TOO_SHORT",
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return apperr.Internal(err)
	}

	var uid string
	err = s.consume(ctx, user.PurposePasswordReset, "reset", token, func(ctx context.Context, tx TxStores, userID string) error {
		uid = userID
		if err := tx.Users.UpdatePassword(ctx, userID, hash); err != nil {
			return err
		}
		return tx.RefreshTokens.RevokeAllForUser(ctx, userID)
	})
	if err != nil {
		return err
	}

	s.perms.Delete(permsKey(uid))
	s.log.InfoContext(ctx, "password reset", "user_id", uid)
	return nil
}

// sendLink issues a fresh one-time token (invalidating older ones of the same
// purpose) and hands it to the notifier.
func (s *AuthService) sendLink(ctx context.Context, store OneTimeTokenStore, u user.User, purpose string, ttl time.Duration) error {
	if err := store.InvalidateForUser(ctx, u.ID, purpose); err != nil {
		return err
	}

	raw, hash, err := security.NewOneTimeToken()
	if err != nil {
		return err
	}

	now := s.now().UTC()
	t := user.OneTimeToken{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Purpose:   purpose,
		TokenHash: hash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := store.Create(ctx, t); err != nil {
		return err
	}

	if s.notifier == nil {
		return nil
	}
	return s.notifier.SendAuthLink(ctx, notifications.AuthLinkInput{
		Email:     u.Email,
		Name:      strings.TrimSpace(u.FirstName + " " + u.LastName),
		Purpose:   purpose,
		Token:     raw,
		ExpiresAt: t.ExpiresAt,
	})
}

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
	"github.com/geocoder89/aegisapi/internal/security"
)

// User administration codes.
const (
	CodeUserNotFound           = "USER_NOT_FOUND"
	CodeRoleNotFound           = "ROLE_NOT_FOUND"
	CodeCannotDeactivateSelf   = "CANNOT_DEACTIVATE_SELF"
	CodeCannotChangeOwnRole    = "CANNOT_CHANGE_OWN_ROLE"
	CodeCannotRemovePrimary    = "CANNOT_REMOVE_PRIMARY_ROLE"
	CodeUserAlreadyActive      = "USER_ALREADY_ACTIVE"
	CodeUserAlreadyInactive    = "USER_ALREADY_INACTIVE"
	CodeOperationFailed        = "OPERATION_FAILED"
	CodePasswordMismatch       = "PASSWORD_MISMATCH"
	CodeInvalidCurrentPassword = "INVALID_CURRENT_PASSWORD"
	CodeSamePassword           = "SAME_PASSWORD"
)

const (
	MaxBulkUsers         = 100
	defaultUserPageLimit = 20
	maxUserPageLimit     = 100
)

var (
	errUserNotFound    = apperr.New(apperr.KindNotFound, CodeUserNotFound, "User not found")
	errChangeOwnRole   = apperr.New(apperr.KindForbidden, CodeCannotChangeOwnRole, "You cannot change your own roles")
	errCurrentPassword = apperr.New(apperr.KindValidation, CodeInvalidCurrentPassword, "Current password is incorrect")
)

type UserListInput struct {
	Search string
	Role   string
	Active *bool
	Page   int
	Limit  int
}

type UserPage struct {
	Users []user.User
	Total int
	Page  int
	Limit int
}

// ListUsers pages through users with their roles resolved.
func (s *AuthService) ListUsers(ctx context.Context, in UserListInput) (UserPage, error) {
	if in.Page < 1 {
		in.Page = 1
	}
	if in.Limit < 1 {
		in.Limit = defaultUserPageLimit
	}
	in.Limit = min(in.Limit, maxUserPageLimit)

	users, total, err := s.users.List(ctx, postgres.UserFilter{
		Search: in.Search,
		Role:   in.Role,
		Active: in.Active,
		Limit:  in.Limit,
		Offset: (in.Page - 1) * in.Limit,
	})
	if err != nil {
		return UserPage{}, apperr.Internal(err)
	}

	for i := range users {
		if err := s.loadRoles(ctx, &users[i]); err != nil {
			return UserPage{}, apperr.Internal(err)
		}
	}
	if users == nil {
		users = []user.User{}
	}
	return UserPage{Users: users, Total: total, Page: in.Page, Limit: in.Limit}, nil
}

// GetUser is Me for administrators: a missing user is USER_NOT_FOUND.
func (s *AuthService) GetUser(ctx context.Context, id string) (user.User, error) {
	u, err := s.Me(ctx, id)
	if err != nil && apperr.From(err).Kind == apperr.KindNotFound {
		return user.User{}, errUserNotFound
	}
	return u, err
}

type BulkUserItem struct {
	UserID string `json:"userId"`
	OK     bool   `json:"success"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

type BulkUserResult struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []BulkUserItem `json:"results"`
}

func (b *BulkUserResult) fail(id, code, msg string) {
	b.Total++
	b.Failed++
	b.Results = append(b.Results, BulkUserItem{UserID: id, Code: code, Error: msg})
}

func (b *BulkUserResult) ok(id string) {
	b.Total++
	b.Succeeded++
	b.Results = append(b.Results, BulkUserItem{UserID: id, OK: true})
}

// SetUsersActive activates or deactivates each user independently.
// Deactivation revokes every refresh token of the user in the same
// transaction. actorID may not deactivate itself.
func (s *AuthService) SetUsersActive(ctx context.Context, actorID string, ids []string, active bool) (BulkUserResult, error) {
	ids = uniqueStrings(ids)
	if len(ids) == 0 || len(ids) > MaxBulkUsers {
		return BulkUserResult{}, apperr.Field("userIds", "len", fmt.Sprintf("must contain 1 to %d ids", MaxBulkUsers))
	}

	op := "deactivate_users"
	if active {
		op = "activate_users"
	}

	res := BulkUserResult{Results: make([]BulkUserItem, 0, len(ids))}
	for _, id := range ids {
		u, err := s.users.GetByID(ctx, id)
		switch {
		case errors.Is(err, postgres.ErrUserNotFound):
			res.fail(id, CodeUserNotFound, "User not found")
			continue
		case err != nil:
			s.log.ErrorContext(ctx, "bulk user lookup", "user_id", id, "err", err)
			res.fail(id, CodeOperationFailed, "Operation failed")
			continue
		}

		if !active && id == actorID {
			res.fail(id, CodeCannotDeactivateSelf, "You cannot deactivate your own account")
			continue
		}
		if u.IsActive == active {
			if active {
				res.fail(id, CodeUserAlreadyActive, "User is already active")
			} else {
				res.fail(id, CodeUserAlreadyInactive, "User is already inactive")
			}
			continue
		}

		if err := s.setActive(ctx, id, active); err != nil {
			s.log.ErrorContext(ctx, "bulk user update", "user_id", id, "active", active, "err", err)
			res.fail(id, CodeOperationFailed, "Operation failed")
			continue
		}
		s.perms.Delete(permsKey(id))
		res.ok(id)
	}

	s.prom.ObserveAuth(op, "ok")
	s.log.InfoContext(ctx, "bulk user status change", "actor_id", actorID, "active", active,
		"succeeded", res.Succeeded, "failed", res.Failed)
	return res, nil
}

func (s *AuthService) setActive(ctx context.Context, id string, active bool) error {
	if active {
		return s.users.SetActive(ctx, id, true)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context, tx TxStores) error {
		if err := tx.Users.SetActive(ctx, id, false); err != nil {
			return err
		}
		return tx.RefreshTokens.RevokeAllForUser(ctx, id)
	})
}

// AssignRoles grants extra roles. The primary role and existing grants are
// skipped. New roles show up in tokens issued after the change.
func (s *AuthService) AssignRoles(ctx context.Context, actorID, userID string, roles []string) (user.User, error) {
	roles = uniqueStrings(roles)
	if len(roles) == 0 {
		return user.User{}, apperr.Field("roles", "required", "at least one role is required")
	}
	for _, r := range roles {
		if !rbac.KnownRole(r) {
			return user.User{}, apperr.New(apperr.KindValidation, CodeRoleNotFound, fmt.Sprintf("Role %q not found", r))
		}
	}
	if userID == actorID {
		return user.User{}, errChangeOwnRole
	}

	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx TxStores) error {
		for _, r := range roles {
			if r == u.Role {
				continue
			}
			if err := tx.Users.AddRole(ctx, userID, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return user.User{}, apperr.Internal(err)
	}

	s.perms.Delete(permsKey(userID))
	s.log.InfoContext(ctx, "roles assigned", "actor_id", actorID, "user_id", userID, "roles", roles)
	return s.GetUser(ctx, userID)
}

// RemoveRole revokes an extra grant. The primary role stays.
func (s *AuthService) RemoveRole(ctx context.Context, actorID, userID, role string) (user.User, error) {
	if userID == actorID {
		return user.User{}, errChangeOwnRole
	}

	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	if role == u.Role {
		return user.User{}, apperr.Unprocessable(CodeCannotRemovePrimary, "The primary role cannot be removed", nil)
	}

	removed, err := s.users.RemoveRole(ctx, userID, role)
	if err != nil {
		return user.User{}, apperr.Internal(err)
	}
	if !removed {
		return user.User{}, apperr.New(apperr.KindNotFound, CodeRoleNotFound, fmt.Sprintf("User does not have role %q", role))
	}

	s.perms.Delete(permsKey(userID))
	s.log.InfoContext(ctx, "role removed", "actor_id", actorID, "user_id", userID, "role", role)
	return s.GetUser(ctx, userID)
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// ChangePassword replaces the caller's password after checking the current
// one, then revokes all of the caller's refresh tokens.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	if in.NewPassword != in.ConfirmPassword {
		return apperr.New(apperr.KindValidation, CodePasswordMismatch, "New password and confirmation do not match")
	}
	if len(in.NewPassword) < MinPasswordLength {
		return apperr.Field("newPassword", "PASSWORD_TOO_SHORT",
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			return errUserNotFound
		}
		return apperr.Internal(err)
	}

	if err := security.CheckPassword(u.PasswordHash, in.CurrentPassword); err != nil {
		s.prom.ObserveAuth("change_password", CodeInvalidCurrentPassword)
		return errCurrentPassword
	}
	if security.CheckPassword(u.PasswordHash, in.NewPassword) == nil {
		return apperr.New(apperr.KindValidation, CodeSamePassword, "New password must differ from the current one")
	}

	hash, err := security.HashPassword(in.NewPassword)
	if err != nil {
		return apperr.Internal(err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx TxStores) error {
		if err := tx.Users.UpdatePassword(ctx, userID, hash); err != nil {
			return err
		}
		return tx.RefreshTokens.RevokeAllForUser(ctx, userID)
	})
	if err != nil {
		return apperr.Internal(err)
	}

	s.perms.Delete(permsKey(userID))
	s.prom.ObserveAuth("change_password", "ok")
	s.log.InfoContext(ctx, "password changed", "user_id", userID)
	return nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

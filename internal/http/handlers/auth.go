package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/aegisapi/internal/actorctx"
	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/services"
	"github.com/gin-gonic/gin"
)

const RefreshCookieName = "refreshToken"

// AuthService is what the auth routes need from services.AuthService.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (services.AuthResult, error)
	Login(ctx context.Context, in services.LoginInput) (services.AuthResult, error)
	Refresh(ctx context.Context, raw, userAgent, ip string) (services.AuthResult, error)
	Logout(ctx context.Context, raw string) error
	Me(ctx context.Context, userID string) (user.User, error)
	Permissions(ctx context.Context, userID string) (services.PermissionSet, error)
	UpdateProfile(ctx context.Context, userID string, in services.ProfileInput) (user.User, error)
	UnlockAccount(ctx context.Context, token string) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyResetToken(ctx context.Context, token string) (time.Time, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID string, in services.ChangePasswordInput) error
}

type AuthHandler struct {
	svc          AuthService
	secureCookie bool
	cookieTTL    time.Duration
}

func NewAuthHandler(svc AuthService, secureCookie bool, cookieTTL time.Duration) *AuthHandler {
	if cookieTTL <= 0 {
		cookieTTL = 7 * 24 * time.Hour
	}
	return &AuthHandler{svc: svc, secureCookie: secureCookie, cookieTTL: cookieTTL}
}

type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email,max=255"`
	Username  string `json:"username" binding:"required,username"`
	Password  string `json:"password" binding:"required,min=8,max=128"`
	FirstName string `json:"firstName" binding:"required,max=100"`
	LastName  string `json:"lastName" binding:"required,max=100"`
}

type LoginRequest struct {
	// Login accepts either the email or the username.
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type EmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required,min=8,max=128"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type UpdateProfileRequest struct {
	Username  string `json:"username" binding:"omitempty,username"`
	FirstName string `json:"firstName" binding:"omitempty,max=100"`
	LastName  string `json:"lastName" binding:"omitempty,max=100"`
}

type authResponse struct {
	User         user.User `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int64     `json:"expiresIn"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	res, err := h.svc.Register(cctx, services.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		UserAgent: ctx.Request.UserAgent(),
		IP:        ctx.ClientIP(),
	})
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	h.setRefreshCookie(ctx, res.RefreshToken)
	Created(ctx, toAuthResponse(res), "Registration successful")
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	res, err := h.svc.Login(cctx, services.LoginInput{
		Login:     req.Login,
		Password:  req.Password,
		UserAgent: ctx.Request.UserAgent(),
		IP:        ctx.ClientIP(),
	})
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	h.setRefreshCookie(ctx, res.RefreshToken)
	OK(ctx, toAuthResponse(res), "Login successful")
}

// Refresh takes the token from the cookie, falling back to the JSON body.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw, _ := ctx.Cookie(RefreshCookieName)
	if raw == "" {
		var body RefreshRequest
		// an empty or non-JSON body just means no token
		_ = ctx.ShouldBindJSON(&body)
		raw = body.RefreshToken
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	res, err := h.svc.Refresh(cctx, raw, ctx.Request.UserAgent(), ctx.ClientIP())
	if err != nil {
		if ae := apperr.From(err); ae.Kind == apperr.KindUnauthorized {
			h.clearRefreshCookie(ctx)
		}
		RespondErr(ctx, err)
		return
	}

	h.setRefreshCookie(ctx, res.RefreshToken)
	OK(ctx, toAuthResponse(res), "Token refreshed")
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw, _ := ctx.Cookie(RefreshCookieName)
	if raw == "" {
		var body RefreshRequest
		_ = ctx.ShouldBindJSON(&body)
		raw = body.RefreshToken
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	err := h.svc.Logout(cctx, raw)
	h.clearRefreshCookie(ctx)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	OK(ctx, nil, "Logged out")
}

func (h *AuthHandler) Me(ctx *gin.Context) {
	userID, ok := actorctx.UserIDFrom(ctx.Request.Context())
	if !ok {
		RespondErr(ctx, apperr.Unauthorized(apperr.CodeUnauthorized, "Authentication required"))
		return
	}

	u, err := h.svc.Me(ctx.Request.Context(), userID)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	OK(ctx, u, "")
}

func (h *AuthHandler) UpdateMe(ctx *gin.Context) {
	userID, ok := actorctx.UserIDFrom(ctx.Request.Context())
	if !ok {
		RespondErr(ctx, apperr.Unauthorized(apperr.CodeUnauthorized, "Authentication required"))
		return
	}

	var req UpdateProfileRequest
	if !BindJSON(ctx, &req) {
		return
	}

	u, err := h.svc.UpdateProfile(ctx.Request.Context(), userID, services.ProfileInput{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	OK(ctx, u, "Profile updated")
}

// ChangePassword ends every session of the caller, this one included.
func (h *AuthHandler) ChangePassword(ctx *gin.Context) {
	userID, ok := actorctx.UserIDFrom(ctx.Request.Context())
	if !ok {
		RespondErr(ctx, apperr.Unauthorized(apperr.CodeUnauthorized, "Authentication required"))
		return
	}

	var req ChangePasswordRequest
	if !BindJSON(ctx, &req) {
		return
	}

	err := h.svc.ChangePassword(ctx.Request.Context(), userID, services.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	h.clearRefreshCookie(ctx)
	OK(ctx, nil, "Password changed")
}

func (h *AuthHandler) Permissions(ctx *gin.Context) {
	userID, ok := actorctx.UserIDFrom(ctx.Request.Context())
	if !ok {
		RespondErr(ctx, apperr.Unauthorized(apperr.CodeUnauthorized, "Authentication required"))
		return
	}

	ps, err := h.svc.Permissions(ctx.Request.Context(), userID)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	OK(ctx, ps, "")
}

func (h *AuthHandler) UnlockAccount(ctx *gin.Context) {
	h.withToken(ctx, h.svc.UnlockAccount, "Account unlocked")
}

func (h *AuthHandler) VerifyEmail(ctx *gin.Context) {
	h.withToken(ctx, h.svc.VerifyEmail, "Email verified")
}

func (h *AuthHandler) withToken(ctx *gin.Context, fn func(context.Context, string) error, msg string) {
	var req TokenRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if err := fn(ctx.Request.Context(), req.Token); err != nil {
		RespondErr(ctx, err)
		return
	}

	OK(ctx, nil, msg)
}

const linkSentMessage = "If the account exists, an email has been sent"

func (h *AuthHandler) ResendVerification(ctx *gin.Context) {
	var req EmailRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if err := h.svc.ResendVerification(ctx.Request.Context(), req.Email); err != nil {
		RespondErr(ctx, err)
		return
	}

	OK(ctx, nil, linkSentMessage)
}

func (h *AuthHandler) RequestPasswordReset(ctx *gin.Context) {
	var req EmailRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if err := h.svc.RequestPasswordReset(ctx.Request.Context(), req.Email); err != nil {
		RespondErr(ctx, err)
		return
	}

	OK(ctx, nil, linkSentMessage)
}

func (h *AuthHandler) VerifyResetToken(ctx *gin.Context) {
	var req TokenRequest
	if !BindJSON(ctx, &req) {
		return
	}

	exp, err := h.svc.VerifyResetToken(ctx.Request.Context(), req.Token)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	OK(ctx, gin.H{"valid": true, "expiresAt": exp}, "")
}

func (h *AuthHandler) ResetPassword(ctx *gin.Context) {
	var req ResetPasswordRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if err := h.svc.ResetPassword(ctx.Request.Context(), req.Token, req.NewPassword); err != nil {
		RespondErr(ctx, err)
		return
	}

	h.clearRefreshCookie(ctx)
	OK(ctx, nil, "Password has been reset")
}

func toAuthResponse(res services.AuthResult) authResponse {
	return authResponse{
		User:         res.User,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
	}
}

func (h *AuthHandler) setRefreshCookie(ctx *gin.Context, raw string) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(
		RefreshCookieName,
		raw,
		int(h.cookieTTL.Seconds()),
		"/",
		"",
		h.secureCookie,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearRefreshCookie(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(RefreshCookieName, "", -1, "/", "", h.secureCookie, true)
}

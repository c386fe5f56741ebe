package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/geocoder89/aegisapi/internal/actorctx"
	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserAdminService is what the /users routes need from services.AuthService.
type UserAdminService interface {
	ListUsers(ctx context.Context, in services.UserListInput) (services.UserPage, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	SetUsersActive(ctx context.Context, actorID string, ids []string, active bool) (services.BulkUserResult, error)
	AssignRoles(ctx context.Context, actorID, userID string, roles []string) (user.User, error)
	RemoveRole(ctx context.Context, actorID, userID, role string) (user.User, error)
}

type UsersHandler struct {
	svc UserAdminService
}

func NewUsersHandler(svc UserAdminService) *UsersHandler {
	return &UsersHandler{svc: svc}
}

type BulkUsersRequest struct {
	UserIDs []string `json:"userIds" binding:"required,min=1,max=100,dive,uuid"`
}

type AssignRolesRequest struct {
	Roles []string `json:"roles" binding:"required,min=1,max=20,dive,required,max=50"`
}

// List accepts search, role, isActive, page and limit.
func (h *UsersHandler) List(ctx *gin.Context) {
	in := services.UserListInput{
		Search: strings.TrimSpace(ctx.Query("search")),
		Role:   strings.TrimSpace(ctx.Query("role")),
	}

	var bad []apperr.FieldError
	if raw := ctx.Query("isActive"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			bad = append(bad, apperr.FieldError{Field: "isActive", Code: "boolean", Message: "must be true or false"})
		} else {
			in.Active = &b
		}
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &in.Page}, {"limit", &in.Limit}} {
		raw := ctx.Query(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			bad = append(bad, apperr.FieldError{Field: p.name, Code: "min", Message: "must be a positive integer"})
			continue
		}
		*p.dst = n
	}
	if len(bad) > 0 {
		RespondBadRequest(ctx, "Invalid query parameters", bad)
		return
	}

	page, err := h.svc.ListUsers(ctx.Request.Context(), in)
	if err != nil {
		RespondErr(ctx, err)
		return
	}
	OKPage(ctx, page.Users, NewPagination(page.Page, page.Limit, page.Total))
}

func (h *UsersHandler) Get(ctx *gin.Context) {
	id, ok := userIDParam(ctx)
	if !ok {
		return
	}

	u, err := h.svc.GetUser(ctx.Request.Context(), id)
	if err != nil {
		RespondErr(ctx, err)
		return
	}
	OK(ctx, u, "")
}

func (h *UsersHandler) BulkActivate(ctx *gin.Context) {
	h.bulkSetActive(ctx, true, "Bulk activate finished")
}

func (h *UsersHandler) BulkDeactivate(ctx *gin.Context) {
	h.bulkSetActive(ctx, false, "Bulk deactivate finished")
}

func (h *UsersHandler) bulkSetActive(ctx *gin.Context, active bool, msg string) {
	actorID, ok := requireActor(ctx)
	if !ok {
		return
	}

	var req BulkUsersRequest
	if !BindJSON(ctx, &req) {
		return
	}

	res, err := h.svc.SetUsersActive(ctx.Request.Context(), actorID, req.UserIDs, active)
	if err != nil {
		RespondErr(ctx, err)
		return
	}
	OK(ctx, res, msg)
}

func (h *UsersHandler) AssignRoles(ctx *gin.Context) {
	actorID, ok := requireActor(ctx)
	if !ok {
		return
	}
	id, ok := userIDParam(ctx)
	if !ok {
		return
	}

	var req AssignRolesRequest
	if !BindJSON(ctx, &req) {
		return
	}

	u, err := h.svc.AssignRoles(ctx.Request.Context(), actorID, id, req.Roles)
	if err != nil {
		RespondErr(ctx, err)
		return
	}
	OK(ctx, u, "Roles assigned")
}

func (h *UsersHandler) RemoveRole(ctx *gin.Context) {
	actorID, ok := requireActor(ctx)
	if !ok {
		return
	}
	id, ok := userIDParam(ctx)
	if !ok {
		return
	}

	u, err := h.svc.RemoveRole(ctx.Request.Context(), actorID, id, ctx.Param("role"))
	if err != nil {
		RespondErr(ctx, err)
		return
	}
	OK(ctx, u, "Role removed")
}

func requireActor(ctx *gin.Context) (string, bool) {
	id, ok := actorctx.UserIDFrom(ctx.Request.Context())
	if !ok {
		RespondErr(ctx, apperr.Unauthorized(apperr.CodeUnauthorized, "Authentication required"))
	}
	return id, ok
}

func userIDParam(ctx *gin.Context) (string, bool) {
	id := ctx.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		RespondErr(ctx, apperr.Field("id", "INVALID_ID", "id must be a UUID"))
		return "", false
	}
	return id, true
}

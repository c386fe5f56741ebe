package crud

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"github.com/geocoder89/aegisapi/internal/actorctx"
	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/http/handlers"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/gin-gonic/gin"
)

// Entity is a row type served by Handler.
type Entity interface {
	RecordID() int64
}

const requestTimeout = 5 * time.Second

// Handler mounts the HTTP routes for one entity. C and U are the create and
// update request bodies.
type Handler[T Entity, C Input, U Input] struct {
	svc *Service[T]
}

func NewHandler[T Entity, C Input, U Input](svc *Service[T]) *Handler[T, C, U] {
	return &Handler[T, C, U]{svc: svc}
}

// Mount registers the routes on rg. guard returns the permission check for
// an rbac action.
func (h *Handler[T, C, U]) Mount(rg *gin.RouterGroup, guard func(action string) gin.HandlerFunc) {
	read := guard(rbac.ActionRead)
	create := guard(rbac.ActionCreate)
	update := guard(rbac.ActionUpdate)
	del := guard(rbac.ActionDelete)

	rg.GET("/stats", read, h.Stats)
	rg.GET("/dropdown", read, h.Dropdown)
	rg.POST("/bulk", create, h.BulkCreate)
	rg.DELETE("/bulk", del, h.BulkDelete)

	rg.POST("", create, h.Create)
	rg.GET("", read, h.List)
	rg.GET("/:id", read, h.Get)
	rg.PUT("/:id", update, h.Update)
	rg.DELETE("/:id", del, h.Delete)
}

func (h *Handler[T, C, U]) label() string { return h.svc.Schema().Label }

func (h *Handler[T, C, U]) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		handlers.RespondErr(c, apperr.Field("id", "INVALID_ID", "id must be a positive integer"))
		return 0, false
	}
	return id, true
}

// visibleFields intersects the requested fields with what the caller's
// roles may read. nil means every field.
func (h *Handler[T, C, U]) visibleFields(c *gin.Context, requested []string) []string {
	var roles []string
	if a, ok := actorctx.From(c.Request.Context()); ok {
		roles = a.Roles
	}
	allowed := h.svc.Schema().AllowedFields(roles)

	switch {
	case allowed == nil:
		return requested
	case len(requested) == 0:
		return allowed
	}

	out := make([]string, 0, len(requested))
	for _, f := range requested {
		if slices.Contains(allowed, f) {
			out = append(out, f)
		}
	}
	if !slices.Contains(out, "id") {
		out = append(out, "id")
	}
	return out
}

// project keeps only fields of v's JSON object. Entity json tags match
// column names.
func project(v any, fields []string) (any, error) {
	if fields == nil {
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		if raw, ok := m[f]; ok {
			out[f] = raw
		}
	}
	return out, nil
}

func (h *Handler[T, C, U]) Create(c *gin.Context) {
	var req C
	if !handlers.BindJSON(c, &req) {
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	out, err := h.svc.Create(ctx, req)
	if err != nil {
		handlers.RespondErr(c, err)
		return
	}
	handlers.Created(c, out, h.label()+" created")
}

func (h *Handler[T, C, U]) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	out, err := h.svc.Get(ctx, id)
	if err != nil {
		handlers.RespondErr(c, err)
		return
	}

	data, err := project(out, h.visibleFields(c, nil))
	if err != nil {
		handlers.RespondErr(c, apperr.Internal(err))
		return
	}
	handlers.OKWithETag(c, data)
}

func (h *Handler[T, C, U]) List(c *gin.Context) {
	q, err := ParseQuery(c.Request.URL.Query(), h.svc.Schema())
	if err != nil {
		handlers.RespondErr(c, err)
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	page, err := h.svc.List(ctx, q)
	if err != nil {
		handlers.RespondErr(c, err)
		return
	}

	fields := h.visibleFields(c, q.Fields)
	items := make([]any, 0, len(page.Items))
	for _, it := range page.Items {
		v, err := project(it, fields)
		if err != nil {
			handlers.RespondErr(c, apperr.Internal(err))
			return
		}
		items = append(items, v)
	}

	handlers.OKPage(c, items, handlers.NewPagination(page.Page, page.Limit, page.Total))
}

func (h *Handler[T, C, U]) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req U
	if !handlers.BindJSON(c, &req) {
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	out, err := h.svc.Update(ctx, id, req)
	if err != nil {
		handlers.RespondErr(c, err)
		return
	}
	handlers.OK(c, out, h.label()+" updated")
}

func (h *Handler[T, C, U]) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.svc.Delete(ctx, id); err != nil {
		handlers.RespondErr(c, err)
		return
	}
	handlers.OK(c, gin.H{"id": id}, h.label()+" deleted")
}

func (h *Handler[T, C, U]) Stats(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	st, err := h.svc.Stats(ctx)
	if err != nil {
		handlers.RespondErr(c, err)
		return
	}
	handlers.OK(c, st, "")
}

func (h *Handler[T, C, U]) Dropdown(c *gin.Context) {
	limit := MaxLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			handlers.RespondErr(c, apperr.Field("limit", "min", "must be a positive integer"))
			return
		}
		limit = n
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	opts, err := h.svc.Dropdown(ctx, c.Query("search"), limit)
	if err != nil {
		handlers.RespondErr(c, err)
		return
	}
	handlers.OK(c, opts, "")
}

type bulkCreateRequest[C any] struct {
	Items []C `json:"items" binding:"required,min=1,max=100,dive"`
}

type BulkDeleteRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1,max=100,dive,gt=0"`
}

func (h *Handler[T, C, U]) BulkCreate(c *gin.Context) {
	var req bulkCreateRequest[C]
	if !handlers.BindJSON(c, &req) {
		return
	}

	inputs := make([]Input, len(req.Items))
	for i, it := range req.Items {
		inputs[i] = it
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 4*requestTimeout)
	defer cancel()

	res, err := h.svc.BulkCreate(ctx, inputs, func(v T) int64 { return v.RecordID() })
	if err != nil {
		handlers.RespondErr(c, err)
		return
	}
	handlers.OK(c, res, "Bulk create finished")
}

func (h *Handler[T, C, U]) BulkDelete(c *gin.Context) {
	var req BulkDeleteRequest
	if !handlers.BindJSON(c, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 4*requestTimeout)
	defer cancel()

	res, err := h.svc.BulkDelete(ctx, req.IDs)
	if err != nil {
		handlers.RespondErr(c, err)
		return
	}
	handlers.OK(c, res, "Bulk delete finished")
}

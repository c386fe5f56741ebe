package handlers

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/domain/file"
	"github.com/geocoder89/aegisapi/internal/services"
	"github.com/gin-gonic/gin"
)

type FileService interface {
	Upload(ctx context.Context, in services.UploadInput) (file.StoredFile, error)
	Download(ctx context.Context, id string) (services.Download, error)
	Metadata(ctx context.Context, id string) (services.MetadataView, error)
	Delete(ctx context.Context, id string) error
}

type FilesHandler struct {
	svc      FileService
	maxBytes int64
}

func NewFilesHandler(svc FileService, maxBytes int64) *FilesHandler {
	return &FilesHandler{svc: svc, maxBytes: maxBytes}
}

// Upload takes multipart field "file" plus optional "encrypt" and "category".
func (h *FilesHandler) Upload(ctx *gin.Context) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		RespondErr(ctx, apperr.Field("file", "required", "file is required"))
		return
	}
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		RespondErr(ctx, apperr.Field("file", "FILE_TOO_LARGE", "File exceeds the upload limit"))
		return
	}

	f, err := fh.Open()
	if err != nil {
		RespondErr(ctx, apperr.Internal(err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		RespondErr(ctx, apperr.Internal(err))
		return
	}

	encrypt, _ := strconv.ParseBool(ctx.PostForm("encrypt"))

	stored, err := h.svc.Upload(ctx.Request.Context(), services.UploadInput{
		FileName: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Category: ctx.PostForm("category"),
		Encrypt:  encrypt,
		Data:     data,
	})
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	Created(ctx, stored, "File uploaded")
}

func (h *FilesHandler) Download(ctx *gin.Context) {
	dl, err := h.svc.Download(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	ctx.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))
	ctx.Header("Cache-Control", "no-store")
	ctx.Data(http.StatusOK, dl.File.MimeType, dl.Data)
}

func (h *FilesHandler) Metadata(ctx *gin.Context) {
	view, err := h.svc.Metadata(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	OK(ctx, view, "")
}

func (h *FilesHandler) Delete(ctx *gin.Context) {
	if err := h.svc.Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		RespondErr(ctx, err)
		return
	}

	OK(ctx, nil, "File deleted")
}

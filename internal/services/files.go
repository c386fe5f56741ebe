package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/geocoder89/aegisapi/internal/actorctx"
	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/domain/file"
	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/filecrypt"
	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
	"github.com/geocoder89/aegisapi/internal/storage"
	"github.com/google/uuid"
)

// Metadata fields that are encrypted one by one for encrypted uploads.
var sensitiveMetadataFields = []string{"originalName", "uploadedBy"}

type FileStore interface {
	Create(ctx context.Context, f file.StoredFile) error
	GetByID(ctx context.Context, id string) (file.StoredFile, error)
	SoftDelete(ctx context.Context, id string) error
}

type FileService struct {
	files    FileStore
	blobs    storage.BlobStore
	crypt    *filecrypt.Service
	prom     *observability.Prom
	log      *slog.Logger
	maxBytes int64
	now      func() time.Time
}

func NewFileService(files FileStore, blobs storage.BlobStore, crypt *filecrypt.Service, prom *observability.Prom, log *slog.Logger, maxBytes int64) *FileService {
	if log == nil {
		log = slog.Default()
	}
	return &FileService{
		files:    files,
		blobs:    blobs,
		crypt:    crypt,
		prom:     prom,
		log:      log,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

type UploadInput struct {
	FileName string
	MimeType string
	Category string
	Encrypt  bool
	Data     []byte
}

type Download struct {
	File file.StoredFile
	Name string
	Data []byte
}

// MetadataView is the decrypted metadata with a status per encrypted field.
type MetadataView struct {
	ID        string                           `json:"id"`
	Encrypted bool                             `json:"encrypted"`
	Metadata  map[string]any                   `json:"metadata"`
	Fields    map[string]filecrypt.FieldStatus `json:"fieldStatus,omitempty"`
}

var (
	errFileNotFound     = apperr.NotFound("File not found")
	errDecryptionFailed = apperr.New(apperr.KindInternal, apperr.CodeDecryptionFailed, "File could not be decrypted")
)

func (s *FileService) Upload(ctx context.Context, in UploadInput) (file.StoredFile, error) {
	actor, ok := actorctx.From(ctx)
	if !ok {
		return file.StoredFile{}, apperr.Unauthorized(apperr.CodeUnauthorized, "Authentication required")
	}
	if len(in.Data) == 0 {
		return file.StoredFile{}, apperr.Field("file", "EMPTY_FILE", "File is empty")
	}
	if s.maxBytes > 0 && int64(len(in.Data)) > s.maxBytes {
		return file.StoredFile{}, apperr.Field("file", "FILE_TOO_LARGE", "File exceeds the upload limit")
	}

	category := strings.ToLower(strings.TrimSpace(in.Category))
	if category == "" {
		category = file.CategoryGeneral
	}
	if in.MimeType == "" {
		in.MimeType = "application/octet-stream"
	}

	now := s.now().UTC()
	f := file.StoredFile{
		ID:         uuid.NewString(),
		OwnerID:    actor.UserID,
		StorageKey: storage.NewKey(actor.UserID, now),
		MimeType:   in.MimeType,
		Size:       int64(len(in.Data)),
		Category:   category,
		Encrypted:  file.MustEncrypt(category, in.Encrypt),
		CreatedAt:  now,
	}

	meta := file.Metadata{
		OriginalName: in.FileName,
		Category:     category,
		UploadedBy:   actor.UserID,
		MimeType:     in.MimeType,
	}.Map()

	payload := in.Data
	if f.Encrypted {
		enc, err := s.crypt.EncryptFile(in.Data)
		s.prom.ObserveCrypto("encrypt_file", err)
		if err != nil {
			return file.StoredFile{}, apperr.Internal(err)
		}
		payload, f.IV, f.AuthTag = enc.Encrypted, enc.IV, enc.AuthTag

		meta, _, err = s.crypt.EncryptMetadataFields(meta, sensitiveMetadataFields)
		s.prom.ObserveCrypto("encrypt_metadata", err)
		if err != nil {
			return file.StoredFile{}, apperr.Internal(err)
		}
	}

	b, err := json.Marshal(meta)
	if err != nil {
		return file.StoredFile{}, apperr.Internal(err)
	}
	f.Metadata = string(b)

	if err := s.blobs.Put(ctx, f.StorageKey, payload, "application/octet-stream"); err != nil {
		return file.StoredFile{}, apperr.Internal(err)
	}

	if err := s.files.Create(ctx, f); err != nil {
		// row failed, do not leave an orphan blob behind
		if derr := s.blobs.Delete(ctx, f.StorageKey); derr != nil {
			s.log.WarnContext(ctx, "orphan blob left after failed insert", "key", f.StorageKey, "err", derr)
		}
		return file.StoredFile{}, apperr.Internal(err)
	}

	s.log.InfoContext(ctx, "file stored", "file_id", f.ID, "encrypted", f.Encrypted, "size", f.Size)
	return f, nil
}

// load fetches a file the caller may access: its owner or an admin.
func (s *FileService) load(ctx context.Context, id string) (file.StoredFile, error) {
	actor, ok := actorctx.From(ctx)
	if !ok {
		return file.StoredFile{}, apperr.Unauthorized(apperr.CodeUnauthorized, "Authentication required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return file.StoredFile{}, errFileNotFound
	}

	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrFileNotFound) {
			return file.StoredFile{}, errFileNotFound
		}
		return file.StoredFile{}, apperr.Internal(err)
	}

	if f.OwnerID != actor.UserID && !rbac.HasRole(actor.Roles, user.RoleAdmin) {
		// not found rather than forbidden, so ids of other users' files do not leak
		return file.StoredFile{}, errFileNotFound
	}
	return f, nil
}

func (s *FileService) Download(ctx context.Context, id string) (Download, error) {
	f, err := s.load(ctx, id)
	if err != nil {
		return Download{}, err
	}

	data, err := s.blobs.Get(ctx, f.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Download{}, errFileNotFound
		}
		return Download{}, apperr.Internal(err)
	}

	if f.Encrypted {
		data, err = s.crypt.DecryptFile(data, f.IV, f.AuthTag)
		s.prom.ObserveCrypto("decrypt_file", err)
		if err != nil {
			s.log.ErrorContext(ctx, "file decryption failed", "file_id", f.ID)
			return Download{}, errDecryptionFailed
		}
	}

	view := s.decodeMetadata(ctx, f)
	name, _ := view.Metadata["originalName"].(string)
	if view.Fields["originalName"] == filecrypt.FieldFailed || name == "" {
		name = f.ID
	}

	return Download{File: f, Name: name, Data: data}, nil
}

func (s *FileService) Metadata(ctx context.Context, id string) (MetadataView, error) {
	f, err := s.load(ctx, id)
	if err != nil {
		return MetadataView{}, err
	}
	return s.decodeMetadata(ctx, f), nil
}

// decodeMetadata never fails the request: fields that do not decrypt keep
// their stored value and are reported as failed.
func (s *FileService) decodeMetadata(ctx context.Context, f file.StoredFile) MetadataView {
	view := MetadataView{ID: f.ID, Encrypted: f.Encrypted, Metadata: map[string]any{}}
	if f.Metadata == "" {
		return view
	}

	if err := json.Unmarshal([]byte(f.Metadata), &view.Metadata); err != nil {
		s.log.WarnContext(ctx, "stored metadata is not valid JSON", "file_id", f.ID)
		view.Metadata = map[string]any{}
		return view
	}

	if f.Encrypted {
		view.Metadata, view.Fields = s.crypt.DecryptMetadataFields(view.Metadata, sensitiveMetadataFields)
		for field, st := range view.Fields {
			if st == filecrypt.FieldFailed {
				s.prom.ObserveCrypto("decrypt_metadata", filecrypt.ErrDecryption)
				s.log.WarnContext(ctx, "metadata field failed to decrypt", "file_id", f.ID, "field", field)
			}
		}
	}
	return view
}

// Delete soft-deletes; the maintenance job removes the blob after retention.
func (s *FileService) Delete(ctx context.Context, id string) error {
	f, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := s.files.SoftDelete(ctx, f.ID); err != nil {
		if errors.Is(err, postgres.ErrFileNotFound) {
			return errFileNotFound
		}
		return apperr.Internal(err)
	}
	return nil
}

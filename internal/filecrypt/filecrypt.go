// Package filecrypt encrypts file contents and metadata with AES-256-GCM.
//
// Every call draws a fresh 12-byte IV. The 16-byte GCM tag is kept apart from
// the ciphertext for files so it can be stored in its own column, and packed
// as iv‖tag‖ciphertext for metadata blobs.
package filecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	KeySize = 32
	IVSize  = 12
	TagSize = 16
)

var (
	ErrInvalidKey = errors.New("encryption key must be 32 bytes (base64 encoded)")
	// ErrDecryption is returned for every decrypt failure; callers get no detail about why.
	ErrDecryption = errors.New("decryption failed: data is corrupted or tampered")
)

type EncryptedData struct {
	Encrypted []byte
	IV        []byte
	AuthTag   []byte
}

type Service struct {
	aead cipher.AEAD
}

func New(base64Key string) (*Service, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return NewFromBytes(key)
}

func NewFromBytes(key []byte) (*Service, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	return &Service{aead: aead}, nil
}

func (s *Service) EncryptFile(plaintext []byte) (*EncryptedData, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	sealed := s.aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - TagSize

	return &EncryptedData{
		Encrypted: sealed[:split],
		IV:        iv,
		AuthTag:   sealed[split:],
	}, nil
}

func (s *Service) DecryptFile(encrypted, iv, authTag []byte) ([]byte, error) {
	if len(iv) != IVSize || len(authTag) != TagSize {
		return nil, ErrDecryption
	}

	sealed := make([]byte, 0, len(encrypted)+TagSize)
	sealed = append(sealed, encrypted...)
	sealed = append(sealed, authTag...)

	plain, err := s.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}

// EncryptMetadata JSON-encodes v and returns base64(iv‖tag‖ciphertext).
func (s *Service) EncryptMetadata(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	ed, err := s.EncryptFile(raw)
	if err != nil {
		return "", err
	}

	packed := make([]byte, 0, IVSize+TagSize+len(ed.Encrypted))
	packed = append(packed, ed.IV...)
	packed = append(packed, ed.AuthTag...)
	packed = append(packed, ed.Encrypted...)

	return base64.StdEncoding.EncodeToString(packed), nil
}

// DecryptMetadata reverses EncryptMetadata into out.
func (s *Service) DecryptMetadata(blob string, out any) error {
	packed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(packed) < IVSize+TagSize {
		return ErrDecryption
	}

	plain, err := s.DecryptFile(packed[IVSize+TagSize:], packed[:IVSize], packed[IVSize:IVSize+TagSize])
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plain, out); err != nil {
		return ErrDecryption
	}
	return nil
}

type FieldStatus string

const (
	FieldEncrypted FieldStatus = "encrypted"
	FieldDecrypted FieldStatus = "decrypted"
	FieldFailed    FieldStatus = "failed"
	FieldMissing   FieldStatus = "missing"
)

// EncryptMetadataFields returns a copy of data with the named fields replaced
// by EncryptMetadata blobs. Fields absent from data are reported as missing.
func (s *Service) EncryptMetadataFields(data map[string]any, fields []string) (map[string]any, map[string]FieldStatus, error) {
	out := cloneMap(data)
	status := make(map[string]FieldStatus, len(fields))

	for _, f := range fields {
		v, ok := data[f]
		if !ok || v == nil {
			status[f] = FieldMissing
			continue
		}
		blob, err := s.EncryptMetadata(v)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt field %s: %w", f, err)
		}
		out[f] = blob
		status[f] = FieldEncrypted
	}

	return out, status, nil
}

// DecryptMetadataFields decrypts each named field independently. A field that
// fails keeps its stored value and is marked FieldFailed; the rest still decrypt.
func (s *Service) DecryptMetadataFields(data map[string]any, fields []string) (map[string]any, map[string]FieldStatus) {
	out := cloneMap(data)
	status := make(map[string]FieldStatus, len(fields))

	for _, f := range fields {
		v, ok := data[f]
		if !ok || v == nil {
			status[f] = FieldMissing
			continue
		}
		blob, ok := v.(string)
		if !ok {
			status[f] = FieldFailed
			continue
		}

		var plain any
		if err := s.DecryptMetadata(blob, &plain); err != nil {
			status[f] = FieldFailed
			continue
		}
		out[f] = plain
		status[f] = FieldDecrypted
	}

	return out, status
}

func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func ValidateKey(base64Key string) bool {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	return err == nil && len(key) == KeySize
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime/multipart"
	"optifocus/internal/entity"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNoFile        = errors.New("no file uploaded")
	ErrFileTooLarge  = errors.New("file size exceeds limit")
	ErrNotAnImage    = errors.New("uploaded file is not an image")
	ErrInvalidBase64 = errors.New("invalid base64 image data")
	ErrUnknownFormat = errors.New("cannot identify image file")
)

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	ValidateImageFile(file *multipart.FileHeader) error
	ReadImageFile(file multipart.File) ([]byte, error)
	DecodeBase64Image(b64 string) ([]byte, error)
	DecodeFrame(raw []byte) (*entity.Frame, error)
	HashImage(raw []byte) string
}

type utils struct {
	maxFileSize int64
}

// MaxImageSize matches the request body limit of the API.
const MaxImageSize = 6 * 1024 * 1024

func New() IUtils {
	return &utils{
		maxFileSize: MaxImageSize,
	}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	ms := ulid.Timestamp(t)
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func (u *utils) ValidateImageFile(file *multipart.FileHeader) error {
	if file == nil {
		return ErrNoFile
	}

	if file.Size > u.maxFileSize {
		return ErrFileTooLarge
	}

	contentType := file.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && contentType != "application/octet-stream" {
		return ErrNotAnImage
	}

	return nil
}

func (u *utils) ReadImageFile(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(file, u.maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > u.maxFileSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func (u *utils) HashImage(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

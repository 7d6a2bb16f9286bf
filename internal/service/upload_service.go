package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/model"
)

var (
	ErrNoFile           = errors.New("no file uploaded")
	ErrUnsupportedMedia = errors.New("only audio files are allowed")
	ErrFileTooLarge     = errors.New("file too large")
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// SanitizeFilename replaces everything outside [a-zA-Z0-9.-] with '_'.
func SanitizeFilename(name string) string {
	return unsafeNameChars.ReplaceAllString(filepath.Base(name), "_")
}

// UploadService stores incoming audio files in the upload directory.
type UploadService struct {
	dir      string
	maxBytes int64
}

func NewUploadService(dir string, maxBytes int64) *UploadService {
	return &UploadService{dir: dir, maxBytes: maxBytes}
}

func (s *UploadService) MaxBytes() int64 {
	return s.maxBytes
}

// Save writes src under <uuid>-<sanitized name>. The stored name is also the file id.
func (s *UploadService) Save(ctx context.Context, originalName, mimeType string, size int64, src io.Reader) (*model.UploadedFile, error) {
	if strings.TrimSpace(originalName) == "" {
		return nil, ErrNoFile
	}
	if !strings.HasPrefix(strings.ToLower(mimeType), "audio/") {
		return nil, ErrUnsupportedMedia
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	name := uuid.New().String() + "-" + SanitizeFilename(originalName)
	dst := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer os.Remove(tmp.Name())

	reader := src
	if s.maxBytes > 0 {
		// one extra byte tells an oversized body apart from an exact fit
		reader = io.LimitReader(src, s.maxBytes+1)
	}
	written, err := io.Copy(tmp, reader)
	closeErr := tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to write upload: %w", closeErr)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	log.Info().Str("file_id", name).Int64("size", written).Msg("audio uploaded")
	return &model.UploadedFile{
		ID:           name,
		OriginalName: originalName,
		Filename:     name,
		Size:         written,
		MimeType:     mimeType,
		UploadedAt:   time.Now().UTC(),
	}, nil
}

// Remove deletes a stored upload. Missing files are not an error.
func (s *UploadService) Remove(fileID string) error {
	if err := ValidateFileID(fileID); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, fileID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

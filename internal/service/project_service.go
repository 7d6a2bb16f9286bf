package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/projectstore"
	"github.com/stemsplit/api/internal/storage"
)

var ErrUnknownStem = errors.New("unknown stem")

// ProjectService exposes stored projects and cleans up their files.
type ProjectService struct {
	projects     projectstore.Store
	uploads      *UploadService
	separatedDir string
	namespace    string
	mirror       *storage.StemMirror
}

func NewProjectService(projects projectstore.Store, uploads *UploadService, separatedDir, namespace string, mirror *storage.StemMirror) *ProjectService {
	return &ProjectService{
		projects:     projects,
		uploads:      uploads,
		separatedDir: separatedDir,
		namespace:    namespace,
		mirror:       mirror,
	}
}

func (s *ProjectService) List(ctx context.Context) ([]*model.Project, error) {
	return s.projects.List(ctx)
}

func (s *ProjectService) Get(ctx context.Context, id string) (*model.Project, error) {
	return s.projects.Get(ctx, id)
}

// Delete removes the record, the separated output and the original upload.
// File removal failures are logged and do not fail the call.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	p, err := s.projects.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := ValidateFileID(p.OriginalFileID); err != nil {
		log.Warn().Err(err).Str("project_id", id).Msg("refusing to remove files of project")
	} else {
		if err := os.RemoveAll(filepath.Join(s.separatedDir, p.OriginalFileID)); err != nil {
			log.Warn().Err(err).Str("project_id", id).Msg("could not remove separated files")
		}
		if err := s.uploads.Remove(p.OriginalFileID); err != nil {
			log.Warn().Err(err).Str("project_id", id).Msg("could not remove upload")
		}
		s.mirror.Purge(ctx, p.OriginalFileID)
	}

	if err := s.projects.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	log.Info().Str("project_id", id).Msg("project deleted")
	return nil
}

// StemDownload returns where a client can fetch one stem. With a mirror it
// is a presigned object URL, otherwise the static locator.
func (s *ProjectService) StemDownload(ctx context.Context, id string, stem model.Stem) (*model.StemDownloadResponse, error) {
	p, err := s.projects.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.StemDownloadFor(ctx, p, stem)
}

func (s *ProjectService) StemDownloadFor(ctx context.Context, p *model.Project, stem model.Stem) (*model.StemDownloadResponse, error) {
	locator, ok := p.StemURLs.URL(stem)
	if !ok {
		return nil, ErrUnknownStem
	}

	resp := &model.StemDownloadResponse{
		Stem:     stem,
		URL:      locator,
		Filename: downloadName(p.Name, stem, path.Ext(locator)),
	}

	if s.mirror.Enabled() {
		modelDir, name, ok := splitLocator(locator, p.OriginalFileID, s.namespace)
		if ok {
			signed, err := s.mirror.SignedURL(ctx, p.OriginalFileID, s.namespace, modelDir, name)
			if err != nil {
				log.Warn().Err(err).Str("project_id", p.ID).Msg("signed url failed, using static locator")
			} else {
				resp.URL = signed
			}
		}
	}
	return resp, nil
}

// splitLocator extracts modelDir and file name from
// /separated/<fileId>/<namespace>/<modelDir>/<name>.
func splitLocator(locator, fileID, namespace string) (string, string, bool) {
	prefix := path.Join(SeparatedRoute, fileID, namespace) + "/"
	if !strings.HasPrefix(locator, prefix) {
		return "", "", false
	}
	rest := strings.Split(strings.TrimPrefix(locator, prefix), "/")
	if len(rest) != 2 {
		return "", "", false
	}
	return rest[0], rest[1], true
}

func downloadName(projectName string, stem model.Stem, ext string) string {
	base := strings.Trim(SanitizeFilename(projectName), "_")
	if base == "" {
		base = "project"
	}
	return fmt.Sprintf("%s-%s%s", base, stem, ext)
}

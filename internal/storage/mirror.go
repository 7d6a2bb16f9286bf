package storage

import (
	"context"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/model"
)

// StemMirror copies produced stems to object storage and hands out
// time-limited download links for them. A nil store disables it.
type StemMirror struct {
	store  ObjectStore
	expiry time.Duration
}

func NewStemMirror(store ObjectStore, expiry time.Duration) *StemMirror {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &StemMirror{store: store, expiry: expiry}
}

func (m *StemMirror) Enabled() bool {
	return m != nil && m.store != nil
}

// Key is stems/<fileId>/<namespace>/<modelDir>/<name>.
func Key(fileID, namespace, modelDir, name string) string {
	return path.Join("stems", fileID, namespace, modelDir, name)
}

// MirrorStems uploads every file in stems. Failures are logged and counted,
// never returned: the local copy stays authoritative.
func (m *StemMirror) MirrorStems(ctx context.Context, fileID, namespace, modelDir string, stems map[model.Stem]string) int {
	if !m.Enabled() {
		return 0
	}
	uploaded := 0
	for stem, p := range stems {
		key := Key(fileID, namespace, modelDir, filepath.Base(p))
		if _, err := UploadFile(ctx, m.store, key, p); err != nil {
			log.Warn().Err(err).Str("file_id", fileID).Str("stem", string(stem)).Msg("stem mirror upload failed")
			continue
		}
		uploaded++
	}
	return uploaded
}

// SignedURL returns a presigned download link for a mirrored stem file.
func (m *StemMirror) SignedURL(ctx context.Context, fileID, namespace, modelDir, name string) (string, error) {
	return m.store.GetSignedURL(ctx, Key(fileID, namespace, modelDir, name), m.expiry)
}

// Purge removes everything mirrored for fileID.
func (m *StemMirror) Purge(ctx context.Context, fileID string) {
	if !m.Enabled() {
		return
	}
	n, err := m.store.DeletePrefix(ctx, path.Join("stems", fileID)+"/")
	if err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("stem mirror purge failed")
		return
	}
	log.Debug().Str("file_id", fileID).Int("objects", n).Msg("stem mirror purged")
}

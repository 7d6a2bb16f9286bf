package separator

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stemsplit/api/internal/model"
)

var (
	ErrNoOutputDir   = errors.New("Separation failed - no output directory")
	ErrNoModelDir    = errors.New("Separation failed - model directory not found")
	ErrMissingTracks = errors.New("missing tracks")
)

// MissingStemsError names every expected stem file that was not produced.
type MissingStemsError struct {
	Files []string
}

func (e *MissingStemsError) Error() string {
	return "Missing tracks: " + strings.Join(e.Files, ", ")
}

func (e *MissingStemsError) Unwrap() error {
	return ErrMissingTracks
}

var audioExtensions = []string{".mp3", ".wav", ".flac", ".m4a", ".ogg", ".aac"}

// BaseID strips a known audio extension from an upload id.
func BaseID(fileID string) string {
	ext := strings.ToLower(filepath.Ext(fileID))
	for _, known := range audioExtensions {
		if ext == known {
			return strings.TrimSuffix(fileID, filepath.Ext(fileID))
		}
	}
	return fileID
}

// Artifacts locates the stems of one finished run.
type Artifacts struct {
	// ModelDir is the directory name under the namespace, e.g. "<uuid>-song".
	ModelDir string
	// Dir is the absolute directory holding the stem files.
	Dir   string
	Stems map[model.Stem]string
}

// ValidateArtifacts checks the layout <outputDir>/<namespace>/<modelDir>/<stem>.<ext>
// for the four produced stems.
func ValidateArtifacts(outputDir, namespace, fileID, ext string) (*Artifacts, error) {
	nsDir := filepath.Join(outputDir, namespace)
	if info, err := os.Stat(nsDir); err != nil || !info.IsDir() {
		return nil, ErrNoOutputDir
	}

	modelDir, err := findModelDir(nsDir, BaseID(fileID))
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(nsDir, modelDir)
	stems := make(map[model.Stem]string, len(model.SeparatedStems))
	var missing []string
	for _, stem := range model.SeparatedStems {
		name := string(stem) + "." + ext
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			missing = append(missing, name)
			continue
		}
		stems[stem] = p
	}
	if len(missing) > 0 {
		return nil, &MissingStemsError{Files: missing}
	}

	return &Artifacts{ModelDir: modelDir, Dir: dir, Stems: stems}, nil
}

// findModelDir prefers an exact name match, then the first directory in
// lexical order whose name contains baseID.
func findModelDir(nsDir, baseID string) (string, error) {
	entries, err := os.ReadDir(nsDir)
	if err != nil {
		return "", ErrNoOutputDir
	}

	var candidates []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if e.Name() == baseID {
			return baseID, nil
		}
		if strings.Contains(e.Name(), baseID) {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return "", ErrNoModelDir
	}
	sort.Strings(candidates)
	return candidates[0], nil
}

// StemLocator builds the public static path for a produced stem.
func StemLocator(prefix, fileID, namespace, modelDir string, stem model.Stem, ext string) string {
	return strings.Join([]string{prefix, fileID, namespace, modelDir, string(stem) + "." + ext}, "/")
}

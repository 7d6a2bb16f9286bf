package playback

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stemsplit/api/internal/model"
)

var ErrInvalidLocator = errors.New("invalid stem locator")

// LoadError reports the stem whose audio could not be fetched or decoded.
// Loading is all-or-nothing and may be retried.
type LoadError struct {
	Stem model.Stem
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("Failed to load %s audio", e.Stem)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Decoder turns an audio file into 48kHz stereo s16 PCM.
type Decoder interface {
	Decode(ctx context.Context, path string) (*Buffer, error)
}

// Resolver maps a public stem locator to something the decoder can open.
type Resolver interface {
	Resolve(locator string) (string, error)
}

// FFmpegDecoder decodes with an ffmpeg binary.
type FFmpegDecoder struct {
	Binary string
}

func NewFFmpegDecoder(binary string) *FFmpegDecoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegDecoder{Binary: binary}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, path string) (*Buffer, error) {
	cmd := exec.CommandContext(ctx, d.Binary,
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "error",
		"pipe:1",
	)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg decode %s: no audio", path)
	}
	return NewBuffer(BytesToSamples(out)), nil
}

// DirResolver serves locators like "/separated/<rel>" from local directories.
// Absolute http(s) URLs are passed through to the decoder.
type DirResolver struct {
	routes map[string]string
}

// NewDirResolver maps URL route prefixes to directories.
func NewDirResolver(routes map[string]string) *DirResolver {
	r := &DirResolver{routes: make(map[string]string, len(routes))}
	for route, dir := range routes {
		r.routes[strings.TrimSuffix(route, "/")] = dir
	}
	return r
}

func (r *DirResolver) Resolve(locator string) (string, error) {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return locator, nil
	}
	for route, dir := range r.routes {
		if !strings.HasPrefix(locator, route+"/") {
			continue
		}
		rel := filepath.FromSlash(strings.TrimPrefix(locator, route+"/"))
		path := filepath.Join(dir, rel)
		inside, err := filepath.Rel(dir, path)
		if err != nil || inside == "." || strings.HasPrefix(inside, "..") {
			return "", fmt.Errorf("%w: %s", ErrInvalidLocator, locator)
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidLocator, locator)
}

// Stems are the decoded buffers of one project. Stems sharing a locator
// (guitar and other) share the same Buffer.
type Stems struct {
	Buffers  map[model.Stem]*Buffer
	Duration time.Duration
}

// Loader decodes a project's stems concurrently. Concurrent loads of the
// same project are collapsed into one.
type Loader struct {
	decoder  Decoder
	resolver Resolver
	group    singleflight.Group
}

func NewLoader(decoder Decoder, resolver Resolver) *Loader {
	return &Loader{decoder: decoder, resolver: resolver}
}

func (l *Loader) Load(ctx context.Context, project *model.Project) (*Stems, error) {
	v, err, shared := l.group.Do(project.ID, func() (interface{}, error) {
		return l.load(ctx, project)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Str("project_id", project.ID).Msg("stem load shared")
	}
	return v.(*Stems), nil
}

func (l *Loader) load(ctx context.Context, project *model.Project) (*Stems, error) {
	// first stem (in channel order) naming each locator
	owners := make(map[string]model.Stem)
	var order []string
	for _, stem := range model.AllStems {
		loc, ok := project.StemURLs.URL(stem)
		if !ok || loc == "" {
			return nil, &LoadError{Stem: stem, Err: ErrInvalidLocator}
		}
		if _, seen := owners[loc]; !seen {
			owners[loc] = stem
			order = append(order, loc)
		}
	}

	decoded := make([]*Buffer, len(order))
	g, gctx := errgroup.WithContext(ctx)
	for i, loc := range order {
		i, loc := i, loc
		g.Go(func() error {
			stem := owners[loc]
			path, err := l.resolver.Resolve(loc)
			if err != nil {
				return &LoadError{Stem: stem, Err: err}
			}
			buf, err := l.decoder.Decode(gctx, path)
			if err != nil {
				return &LoadError{Stem: stem, Err: err}
			}
			decoded[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("project_id", project.ID).Msg("stem load failed")
		return nil, err
	}

	byLocator := make(map[string]*Buffer, len(order))
	for i, loc := range order {
		byLocator[loc] = decoded[i]
	}

	stems := &Stems{Buffers: make(map[model.Stem]*Buffer, len(model.AllStems))}
	for _, stem := range model.AllStems {
		loc, _ := project.StemURLs.URL(stem)
		stems.Buffers[stem] = byLocator[loc]
	}

	// the first channel defines the timeline
	stems.Duration = stems.Buffers[model.AllStems[0]].Duration()
	if stems.Duration <= 0 && project.Duration > 0 {
		stems.Duration = time.Duration(project.Duration) * time.Second
	}
	return stems, nil
}

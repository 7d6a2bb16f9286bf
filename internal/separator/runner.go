// Package separator drives the external stem separation tool and inspects
// what it leaves on disk.
package separator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrBinaryNotFound is returned when none of the candidate executables resolve.
var ErrBinaryNotFound = errors.New("separation tool not found")

// LineFunc receives every line the tool prints on stdout or stderr.
type LineFunc func(line string)

// Runner executes one separation run and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, inputPath, outputDir string, onLine LineFunc) error
}

// DemucsConfig controls the demucs invocation.
type DemucsConfig struct {
	// Candidates are tried in order; bare names are looked up on PATH.
	Candidates []string
	MP3        bool
	MP3Bitrate string
	ExtraArgs  []string
}

var defaultCandidates = []string{
	"/usr/local/bin/demucs",
	"/usr/bin/demucs",
	"demucs",
	"/app/.local/bin/demucs",
}

// DemucsRunner runs demucs as a child process.
type DemucsRunner struct {
	cfg DemucsConfig
}

func NewDemucsRunner(cfg DemucsConfig) *DemucsRunner {
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = defaultCandidates
	}
	if cfg.MP3Bitrate == "" {
		cfg.MP3Bitrate = "320"
	}
	return &DemucsRunner{cfg: cfg}
}

// Binary resolves the first usable executable.
func (r *DemucsRunner) Binary() (string, error) {
	for _, c := range r.cfg.Candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrBinaryNotFound, strings.Join(r.cfg.Candidates, ", "))
}

func (r *DemucsRunner) args(inputPath, outputDir string) []string {
	var args []string
	if r.cfg.MP3 {
		args = append(args, "--mp3", "--mp3-bitrate", r.cfg.MP3Bitrate)
	}
	args = append(args, r.cfg.ExtraArgs...)
	return append(args, inputPath, "-o", outputDir)
}

func (r *DemucsRunner) Run(ctx context.Context, inputPath, outputDir string, onLine LineFunc) error {
	binary, err := r.Binary()
	if err != nil {
		return err
	}

	args := r.args(inputPath, outputDir)
	log.Info().Str("binary", binary).Strs("args", args).Msg("starting separation")

	cmd := exec.CommandContext(ctx, binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	scanLines(stdout, func(line string) {
		log.Debug().Str("demucs", line).Msg("separation output")
		if onLine != nil {
			onLine(line)
		}
	})

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("exit: %w", err)
	}
	return nil
}

// scanLines splits on both \n and \r; progress bars redraw with carriage returns.
func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitCRLF)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	// drain so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

func splitCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

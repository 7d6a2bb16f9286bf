package separator

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultDuration is used when the duration probe fails.
const DefaultDuration = 180

// Prober reports the duration of an audio file in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// FFProbe shells out to ffprobe.
type FFProbe struct {
	Binary  string
	Timeout time.Duration
}

func NewFFProbe(binary string) *FFProbe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFProbe{Binary: binary, Timeout: 30 * time.Second}
}

func probeArgs(path string) []string {
	return []string{"-v", "quiet", "-show_entries", "format=duration", "-of", "csv=p=0", path}
}

func (p *FFProbe) Duration(ctx context.Context, path string) (float64, error) {
	cmdPath, err := exec.LookPath(p.Binary)
	if err != nil {
		return 0, fmt.Errorf("ffprobe not found: %w", err)
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	out, err := exec.CommandContext(ctx, cmdPath, probeArgs(path)...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("invalid duration %v", d)
	}
	return d, nil
}

// RoundDuration converts a probed duration into whole seconds.
func RoundDuration(seconds float64) int {
	return int(math.Round(seconds))
}

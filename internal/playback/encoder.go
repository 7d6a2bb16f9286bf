package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog/log"
)

// DefaultStreamBitrate is used when no bitrate is configured.
const DefaultStreamBitrate = "192k"

type flusher interface {
	Flush() error
}

// EncodeMP3 pipes the listener's PCM frames through ffmpeg and writes MP3 to w
// until ctx is cancelled, the listener is detached or w fails. When w can be
// flushed it is flushed after every chunk.
func EncodeMP3(ctx context.Context, ffmpeg, bitrate string, l *Listener, w io.Writer) error {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if bitrate == "" {
		bitrate = DefaultStreamBitrate
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.Done():
				return
			case frame := <-l.C:
				if _, err := stdin.Write(SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	var copyErr error
	f, canFlush := w.(flusher)
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				copyErr = werr
				break
			}
			if canFlush {
				if ferr := f.Flush(); ferr != nil {
					copyErr = ferr
					break
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				copyErr = err
			}
			break
		}
	}

	cancel()
	if err := cmd.Wait(); err != nil && copyErr == nil && ctx.Err() == nil {
		log.Debug().Err(err).Msg("mp3 encoder exited")
	}
	return copyErr
}

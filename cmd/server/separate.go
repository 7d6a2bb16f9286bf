package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/stemsplit/api/internal/config"
	"github.com/stemsplit/api/internal/model"
)

const pollInterval = 500 * time.Millisecond

func separateCommand() *cli.Command {
	return &cli.Command{
		Name:      "separate",
		Usage:     "Separate a local audio file and store the project",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Project name; defaults to the file name",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("an audio file is required")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			name := cmd.String("name")
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			return ignoreCancel(ctx, separateFile(ctx, cfg, path, name))
		},
	}
}

// separateFile runs one separation in-process, bypassing any queue.
func separateFile(ctx context.Context, cfg *config.Config, path, name string) error {
	cfg.Queue.Mode = config.QueueModeLocal
	cfg.JobStore.Backend = config.BackendMemory

	c, err := buildComponents(ctx, cfg, nil, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(mimeType, "audio/") {
		mimeType = "audio/mpeg"
	}
	uploaded, err := c.uploads.Save(ctx, filepath.Base(path), mimeType, info.Size(), f)
	if err != nil {
		return err
	}

	if _, err := c.separation.Start(ctx, &model.SeparationStartRequest{
		FileID:      uploaded.ID,
		ProjectName: name,
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		p, err := c.separation.Progress(ctx, uploaded.ID)
		if err != nil {
			return err
		}
		if p.Progress != lastProgress {
			lastProgress = p.Progress
			log.Info().Int("progress", p.Progress).Str("message", p.Message).Msg("separating")
		}
		switch p.Status {
		case model.JobStatusCompleted:
			out, err := json.MarshalIndent(p.Project, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		case model.JobStatusError:
			return fmt.Errorf("separation failed: %s", p.Message)
		}
	}
}

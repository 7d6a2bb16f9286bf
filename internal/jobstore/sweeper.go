package jobstore

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically drops terminal jobs that no client came back for.
type Sweeper struct {
	store  Store
	maxAge time.Duration
	cron   *cron.Cron
}

// NewSweeper schedules Sweep on the given cron spec, e.g. "@every 1m".
func NewSweeper(store Store, spec string, maxAge time.Duration) (*Sweeper, error) {
	s := &Sweeper{
		store:  store,
		maxAge: maxAge,
		cron:   cron.New(),
	}
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.store.Sweep(ctx, s.maxAge)
	if err != nil {
		log.Warn().Err(err).Msg("job sweep failed")
		return
	}
	if n > 0 {
		log.Debug().Int("removed", n).Msg("swept finished jobs")
	}
}

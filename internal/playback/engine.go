package playback

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/model"
)

const (
	DefaultSettleDelay    = 50 * time.Millisecond
	DefaultSampleInterval = 100 * time.Millisecond
)

var (
	ErrEngineClosed = errors.New("player session closed")
	ErrUnknownStem  = errors.New("unknown stem")
)

// StateNotifier receives sampled and changed player states.
type StateNotifier interface {
	BroadcastPlayback(state model.PlaybackState)
}

type noopNotifier struct{}

func (noopNotifier) BroadcastPlayback(model.PlaybackState) {}

// EngineOptions tunes an Engine. Zero values fall back to defaults.
type EngineOptions struct {
	SettleDelay    time.Duration
	SampleInterval time.Duration
	// Volume is the initial master and stem volume; nil means DefaultVolume.
	Volume   *int
	Notifier StateNotifier
}

func (o EngineOptions) withDefaults() EngineOptions {
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = DefaultSampleInterval
	}
	if o.Volume == nil {
		v := DefaultVolume
		o.Volume = &v
	}
	if o.Notifier == nil {
		o.Notifier = noopNotifier{}
	}
	return o
}

type command struct {
	fn   func()
	done chan struct{}
}

// Engine plays the stems of one project in lockstep. Every command and state
// read is applied by a single goroutine (Run) in the order it was issued.
type Engine struct {
	id      string
	project *model.Project
	graph   Graph
	stems   *Stems
	opts    EngineOptions

	cmds chan command
	done chan struct{}

	lastUsed atomic.Int64

	// owned by Run
	clock   *Clock
	mixer   *Mixer
	paths   map[model.Stem]Path
	playing bool
	settle  *time.Timer
	settleC <-chan time.Time
}

func NewEngine(id string, project *model.Project, graph Graph, stems *Stems, opts EngineOptions) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		id:      id,
		project: project,
		graph:   graph,
		stems:   stems,
		opts:    opts,
		cmds:    make(chan command),
		done:    make(chan struct{}),
		clock:   NewClock(graph.Now),
		mixer:   NewMixer(model.AllStems, *opts.Volume),
		paths:   make(map[model.Stem]Path),
	}
	e.touch()
	return e
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Project() *model.Project {
	return e.project
}

// LastUsed is the time of the most recent command.
func (e *Engine) LastUsed() time.Time {
	return time.Unix(0, e.lastUsed.Load())
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Run processes commands, samples the clock and fires pending seek restarts
// until ctx is cancelled. All paths are stopped on return.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.opts.SampleInterval)
	defer ticker.Stop()
	defer e.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmds:
			cmd.fn()
			close(cmd.done)
		case <-ticker.C:
			e.sample()
		case <-e.settleC:
			e.settle, e.settleC = nil, nil
			if e.playing {
				e.clock.Start()
				e.startPaths()
			}
		}
	}
}

func (e *Engine) Play(ctx context.Context) (model.PlaybackState, error) {
	return e.apply(ctx, func() error {
		if e.playing {
			return nil
		}
		if e.clock.Position() >= e.stems.Duration {
			e.clock.Set(0)
		}
		e.playing = true
		e.clock.Start()
		e.startPaths()
		return nil
	})
}

// Pause stops all paths and freezes the clock. A pending seek restart is dropped.
func (e *Engine) Pause(ctx context.Context) (model.PlaybackState, error) {
	return e.apply(ctx, func() error {
		e.cancelSettle()
		if !e.playing {
			return nil
		}
		e.stopPaths()
		e.clock.Stop()
		e.playing = false
		return nil
	})
}

// Seek moves the playhead to position seconds, clamped to [0, duration].
// While playing, sources restart after the settle delay; a later seek or
// pause cancels that restart.
func (e *Engine) Seek(ctx context.Context, position float64) (model.PlaybackState, error) {
	return e.apply(ctx, func() error {
		t := e.clampPosition(position)
		if !e.playing {
			e.clock.Set(t)
			return nil
		}
		e.cancelSettle()
		e.stopPaths()
		e.clock.Set(t)
		e.settle = time.NewTimer(e.opts.SettleDelay)
		e.settleC = e.settle.C
		return nil
	})
}

func (e *Engine) SetStemVolume(ctx context.Context, stem model.Stem, volume int) (model.PlaybackState, error) {
	return e.apply(ctx, func() error {
		if !e.mixer.Has(stem) {
			return ErrUnknownStem
		}
		e.mixer.SetVolume(stem, volume)
		if p, ok := e.paths[stem]; ok {
			p.SetGain(e.mixer.Gain(stem))
		}
		return nil
	})
}

func (e *Engine) SetMasterVolume(ctx context.Context, volume int) (model.PlaybackState, error) {
	return e.apply(ctx, func() error {
		e.mixer.SetMaster(volume)
		for stem, p := range e.paths {
			p.SetGain(e.mixer.Gain(stem))
		}
		return nil
	})
}

// ToggleMute flips one stem. While audio is running only that stem's path is
// created or destroyed; the others are untouched.
func (e *Engine) ToggleMute(ctx context.Context, stem model.Stem) (model.PlaybackState, error) {
	return e.apply(ctx, func() error {
		if !e.mixer.Has(stem) {
			return ErrUnknownStem
		}
		muted := e.mixer.ToggleMute(stem)
		if !e.playing || e.settleC != nil {
			return nil
		}
		if muted {
			e.stopPath(stem)
		} else {
			e.startPath(stem, e.clock.Position())
		}
		return nil
	})
}

// Download returns the stem's locator. It does not touch playback state.
func (e *Engine) Download(stem model.Stem) (string, error) {
	loc, ok := e.project.StemURLs.URL(stem)
	if !ok {
		return "", ErrUnknownStem
	}
	return loc, nil
}

func (e *Engine) State(ctx context.Context) (model.PlaybackState, error) {
	var state model.PlaybackState
	err := e.exec(ctx, func() { state = e.snapshot() })
	return state, err
}

// apply runs fn on the engine goroutine and publishes the resulting state.
func (e *Engine) apply(ctx context.Context, fn func() error) (model.PlaybackState, error) {
	var (
		state model.PlaybackState
		ferr  error
	)
	err := e.exec(ctx, func() {
		ferr = fn()
		state = e.snapshot()
		if ferr == nil {
			e.opts.Notifier.BroadcastPlayback(state)
		}
	})
	if err != nil {
		return model.PlaybackState{}, err
	}
	return state, ferr
}

// exec hands fn to Run and waits for it. Once accepted, fn always completes,
// so the wait ignores ctx.
func (e *Engine) exec(ctx context.Context, fn func()) error {
	e.touch()
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-e.done:
		return ErrEngineClosed
	}
}

func (e *Engine) touch() {
	e.lastUsed.Store(time.Now().UnixNano())
}

// sample publishes the position while playing and handles end of track.
func (e *Engine) sample() {
	if !e.playing {
		return
	}
	if e.settleC == nil && e.clock.Position() >= e.stems.Duration {
		e.stopPaths()
		e.clock.Set(0)
		e.playing = false
		log.Debug().Str("session_id", e.id).Msg("playback reached end of track")
	}
	e.opts.Notifier.BroadcastPlayback(e.snapshot())
}

func (e *Engine) snapshot() model.PlaybackState {
	pos := e.clock.Position()
	if pos > e.stems.Duration {
		pos = e.stems.Duration
	}
	state := model.PlaybackState{
		SessionID:    e.id,
		ProjectID:    e.project.ID,
		IsPlaying:    e.playing,
		Position:     seconds(pos),
		Duration:     seconds(e.stems.Duration),
		MasterVolume: e.mixer.Master(),
		Stems:        make(map[model.Stem]model.ChannelState, len(model.AllStems)),
	}
	for _, stem := range model.AllStems {
		_, active := e.paths[stem]
		state.Stems[stem] = model.ChannelState{
			Volume: e.mixer.Volume(stem),
			Muted:  e.mixer.Muted(stem),
			Active: active,
		}
	}
	return state
}

func (e *Engine) clampPosition(position float64) time.Duration {
	if math.IsNaN(position) || position <= 0 {
		return 0
	}
	t := time.Duration(position * float64(time.Second))
	if t > e.stems.Duration {
		return e.stems.Duration
	}
	return t
}

func (e *Engine) startPaths() {
	pos := e.clock.Position()
	for _, stem := range model.AllStems {
		if !e.mixer.Muted(stem) {
			e.startPath(stem, pos)
		}
	}
}

func (e *Engine) startPath(stem model.Stem, pos time.Duration) {
	buf := e.stems.Buffers[stem]
	if buf == nil {
		return
	}
	e.stopPath(stem)
	e.paths[stem] = e.graph.Start(buf, pos, e.mixer.Gain(stem))
}

func (e *Engine) stopPath(stem model.Stem) {
	if p, ok := e.paths[stem]; ok {
		p.Stop()
		delete(e.paths, stem)
	}
}

func (e *Engine) stopPaths() {
	for stem := range e.paths {
		e.stopPath(stem)
	}
}

func (e *Engine) cancelSettle() {
	if e.settle != nil {
		e.settle.Stop()
	}
	e.settle, e.settleC = nil, nil
}

func (e *Engine) shutdown() {
	e.cancelSettle()
	e.stopPaths()
	e.playing = false
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsplit/api/internal/model"
)

// fakeGraph is a Graph with a hand-driven clock that records every path.
type fakeGraph struct {
	mu    sync.Mutex
	now   time.Duration
	paths []*fakePath
}

type fakePath struct {
	g       *fakeGraph
	buf     *Buffer
	offset  time.Duration
	gain    float64
	stopped bool
}

func (g *fakeGraph) Now() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now
}

func (g *fakeGraph) advance(d time.Duration) {
	g.mu.Lock()
	g.now += d
	g.mu.Unlock()
}

func (g *fakeGraph) Start(buf *Buffer, offset time.Duration, gain float64) Path {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := &fakePath{g: g, buf: buf, offset: offset, gain: gain}
	g.paths = append(g.paths, p)
	return p
}

func (p *fakePath) SetGain(gain float64) {
	p.g.mu.Lock()
	p.gain = gain
	p.g.mu.Unlock()
}

func (p *fakePath) Stop() {
	p.g.mu.Lock()
	p.stopped = true
	p.g.mu.Unlock()
}

// started returns copies of every path ever started.
func (g *fakeGraph) started() []fakePath {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]fakePath, len(g.paths))
	for i, p := range g.paths {
		out[i] = *p
	}
	return out
}

func (g *fakeGraph) live() []fakePath {
	var out []fakePath
	for _, p := range g.started() {
		if !p.stopped {
			out = append(out, p)
		}
	}
	return out
}

type stateRecorder struct {
	mu     sync.Mutex
	states []model.PlaybackState
}

func (r *stateRecorder) BroadcastPlayback(s model.PlaybackState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

type engineFixture struct {
	engine   *Engine
	graph    *fakeGraph
	stems    *Stems
	notifier *stateRecorder
}

func newEngineFixture(t *testing.T, duration time.Duration, opts EngineOptions) *engineFixture {
	t.Helper()
	other := constBuffer(1, 4)
	stems := &Stems{
		Buffers: map[model.Stem]*Buffer{
			model.StemVocals: constBuffer(1, 1),
			model.StemDrums:  constBuffer(1, 2),
			model.StemBass:   constBuffer(1, 3),
			model.StemGuitar: other,
			model.StemOther:  other,
		},
		Duration: duration,
	}
	if opts.SampleInterval == 0 {
		opts.SampleInterval = time.Hour
	}
	rec := &stateRecorder{}
	opts.Notifier = rec
	g := &fakeGraph{}
	e := NewEngine("s1", testProject(), g, stems, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return &engineFixture{engine: e, graph: g, stems: stems, notifier: rec}
}

func TestEngine_PlayStartsEveryUnmutedStem(t *testing.T) {
	f := newEngineFixture(t, time.Minute, EngineOptions{})
	ctx := context.Background()

	state, err := f.engine.Play(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsPlaying)
	assert.Equal(t, "s1", state.SessionID)
	assert.Equal(t, "p1", state.ProjectID)
	assert.Equal(t, 60.0, state.Duration)
	assert.Equal(t, 75, state.MasterVolume)

	live := f.graph.live()
	require.Len(t, live, len(model.AllStems))
	for _, p := range live {
		assert.InDelta(t, 0.5625, p.gain, 1e-9)
		assert.Equal(t, time.Duration(0), p.offset)
	}
	for _, stem := range model.AllStems {
		assert.True(t, state.Stems[stem].Active, stem)
		assert.Equal(t, 75, state.Stems[stem].Volume)
	}

	// playing twice does not duplicate paths
	_, err = f.engine.Play(ctx)
	require.NoError(t, err)
	assert.Len(t, f.graph.started(), len(model.AllStems))
	assert.GreaterOrEqual(t, f.notifier.count(), 2)
}

func TestEngine_PositionTracksGraphClock(t *testing.T) {
	f := newEngineFixture(t, time.Minute, EngineOptions{})
	ctx := context.Background()

	f.graph.advance(5 * time.Second)
	_, err := f.engine.Play(ctx)
	require.NoError(t, err)

	f.graph.advance(2 * time.Second)
	state, err := f.engine.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, state.Position)

	state, err = f.engine.Pause(ctx)
	require.NoError(t, err)
	assert.False(t, state.IsPlaying)
	assert.Empty(t, f.graph.live())

	f.graph.advance(10 * time.Second)
	state, _ = f.engine.State(ctx)
	assert.Equal(t, 2.0, state.Position, "paused clock is frozen")

	_, err = f.engine.Play(ctx)
	require.NoError(t, err)
	for _, p := range f.graph.live() {
		assert.Equal(t, 2*time.Second, p.offset)
	}
	f.graph.advance(time.Second)
	state, _ = f.engine.State(ctx)
	assert.Equal(t, 3.0, state.Position)
}

func TestEngine_SeekWhilePausedMovesClock(t *testing.T) {
	f := newEngineFixture(t, time.Minute, EngineOptions{})
	ctx := context.Background()

	state, err := f.engine.Seek(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 30.0, state.Position)
	assert.False(t, state.IsPlaying)
	assert.Empty(t, f.graph.started())

	state, _ = f.engine.Seek(ctx, 1000)
	assert.Equal(t, 60.0, state.Position)

	state, _ = f.engine.Seek(ctx, -5)
	assert.Equal(t, 0.0, state.Position)
}

func TestEngine_SeekWhilePlayingRestartsAfterSettle(t *testing.T) {
	f := newEngineFixture(t, time.Minute, EngineOptions{SettleDelay: 20 * time.Millisecond})
	ctx := context.Background()

	_, err := f.engine.Play(ctx)
	require.NoError(t, err)

	state, err := f.engine.Seek(ctx, 30)
	require.NoError(t, err)
	assert.True(t, state.IsPlaying)
	assert.Equal(t, 30.0, state.Position)
	assert.Empty(t, f.graph.live(), "sources stop immediately")

	require.Eventually(t, func() bool {
		return len(f.graph.live()) == len(model.AllStems)
	}, time.Second, 5*time.Millisecond)
	for _, p := range f.graph.live() {
		assert.Equal(t, 30*time.Second, p.offset)
	}

	f.graph.advance(time.Second)
	state, _ = f.engine.State(ctx)
	assert.Equal(t, 31.0, state.Position)
}

func TestEngine_LaterSeekCancelsPendingRestart(t *testing.T) {
	f := newEngineFixture(t, time.Minute, EngineOptions{SettleDelay: 40 * time.Millisecond})
	ctx := context.Background()

	_, err := f.engine.Play(ctx)
	require.NoError(t, err)
	_, err = f.engine.Seek(ctx, 10)
	require.NoError(t, err)
	_, err = f.engine.Seek(ctx, 20)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.graph.live()) == len(model.AllStems)
	}, time.Second, 5*time.Millisecond)

	// let any stale timer fire
	time.Sleep(80 * time.Millisecond)
	started := f.graph.started()
	assert.Len(t, started, 2*len(model.AllStems))
	for _, p := range started[len(model.AllStems):] {
		assert.Equal(t, 20*time.Second, p.offset)
	}
}

func TestEngine_PauseCancelsPendingRestart(t *testing.T) {
	f := newEngineFixture(t, time.Minute, EngineOptions{SettleDelay: 30 * time.Millisecond})
	ctx := context.Background()

	_, err := f.engine.Play(ctx)
	require.NoError(t, err)
	_, err = f.engine.Seek(ctx, 10)
	require.NoError(t, err)
	state, err := f.engine.Pause(ctx)
	require.NoError(t, err)
	assert.False(t, state.IsPlaying)
	assert.Equal(t, 10.0, state.Position)

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, f.graph.live())
	assert.Len(t, f.graph.started(), len(model.AllStems))
}

func TestEngine_InitialVolume(t *testing.T) {
	ctx := context.Background()
	for _, tt := range []struct {
		name   string
		volume *int
		want   int
	}{
		{"unset", nil, DefaultVolume},
		{"zero", new(int), 0},
		{"clamped", intPtr(140), 100},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, time.Minute, EngineOptions{Volume: tt.volume})
			state, err := f.engine.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, state.MasterVolume)
			for _, stem := range model.AllStems {
				assert.Equal(t, tt.want, state.Stems[stem].Volume)
			}
		})
	}
}

func intPtr(v int) *int { return &v }

func TestEngine_Volumes(t *testing.T) {
	f := newEngineFixture(t, time.Minute, EngineOptions{})
	ctx := context.Background()

	_, err := f.engine.Play(ctx)
	require.NoError(t, err)

	state, err := f.engine.SetStemVolume(ctx, model.StemVocals, 150)
	require.NoError(t, err)
	assert.Equal(t, 100, state.Stems[model.StemVocals].Volume)

	state, err = f.engine.SetMasterVolume(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, state.MasterVolume)

	gains := map[*Buffer]float64{}
	for _, p := range f.graph.live() {
		gains[p.buf] = p.gain
	}
	assert.InDelta(t, 0.5, gains[f.stems.Buffers[model.StemVocals]], 1e-9)
	assert.InDelta(t, 0.375, gains[f.stems.Buffers[model.StemDrums]], 1e-9)

	state, _ = f.engine.SetMasterVolume(ctx, -10)
	assert.Equal(t, 0, state.MasterVolume)
	for _, p := range f.graph.live() {
		assert.Zero(t, p.gain)
	}
	assert.Len(t, f.graph.started(), len(model.AllStems), "gain changes happen in place")

	_, err = f.engine.SetStemVolume(ctx, model.Stem("kazoo"), 10)
	assert.ErrorIs(t, err, ErrUnknownStem)
}

func TestEngine_ToggleMuteIsolatesStem(t *testing.T) {
	f := newEngineFixture(t, time.Minute, EngineOptions{})
	ctx := context.Background()

	_, err := f.engine.Play(ctx)
	require.NoError(t, err)
	f.graph.advance(4 * time.Second)

	state, err := f.engine.ToggleMute(ctx, model.StemDrums)
	require.NoError(t, err)
	assert.True(t, state.Stems[model.StemDrums].Muted)
	assert.False(t, state.Stems[model.StemDrums].Active)
	assert.True(t, state.Stems[model.StemVocals].Active)

	live := f.graph.live()
	require.Len(t, live, len(model.AllStems)-1)
	for _, p := range live {
		assert.NotSame(t, f.stems.Buffers[model.StemDrums], p.buf)
	}
	assert.Len(t, f.graph.started(), len(model.AllStems), "other stems keep their paths")

	state, err = f.engine.ToggleMute(ctx, model.StemDrums)
	require.NoError(t, err)
	assert.False(t, state.Stems[model.StemDrums].Muted)
	started := f.graph.started()
	require.Len(t, started, len(model.AllStems)+1)
	last := started[len(started)-1]
	assert.Same(t, f.stems.Buffers[model.StemDrums], last.buf)
	assert.Equal(t, 4*time.Second, last.offset)
}

func TestEngine_MutedStemStaysSilentOnPlay(t *testing.T) {
	f := newEngineFixture(t, time.Minute, EngineOptions{})
	ctx := context.Background()

	_, err := f.engine.ToggleMute(ctx, model.StemBass)
	require.NoError(t, err)
	assert.Empty(t, f.graph.started())

	_, err = f.engine.Play(ctx)
	require.NoError(t, err)
	live := f.graph.live()
	assert.Len(t, live, len(model.AllStems)-1)
	for _, p := range live {
		assert.NotSame(t, f.stems.Buffers[model.StemBass], p.buf)
	}
}

func TestEngine_Download(t *testing.T) {
	f := newEngineFixture(t, time.Minute, EngineOptions{})

	loc, err := f.engine.Download(model.StemGuitar)
	require.NoError(t, err)
	assert.Equal(t, "/separated/f/htdemucs/f/other.mp3", loc)

	_, err = f.engine.Download(model.Stem("kazoo"))
	assert.ErrorIs(t, err, ErrUnknownStem)

	state, _ := f.engine.State(context.Background())
	assert.False(t, state.IsPlaying)
	assert.Empty(t, f.graph.started())
	assert.Zero(t, f.notifier.count())
}

func TestEngine_EndOfTrackStopsAndRewinds(t *testing.T) {
	f := newEngineFixture(t, time.Second, EngineOptions{SampleInterval: 10 * time.Millisecond})
	ctx := context.Background()

	_, err := f.engine.Play(ctx)
	require.NoError(t, err)
	f.graph.advance(1500 * time.Millisecond)

	require.Eventually(t, func() bool {
		state, err := f.engine.State(ctx)
		return err == nil && !state.IsPlaying && state.Position == 0
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, f.graph.live())
}

func TestEngine_ClosedEngineRejectsCommands(t *testing.T) {
	e := NewEngine("s1", testProject(), &fakeGraph{}, &Stems{Duration: time.Second}, EngineOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	cancel()
	<-e.Done()

	_, err := e.Play(context.Background())
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.State(context.Background())
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestMixer(t *testing.T) {
	m := NewMixer(model.AllStems, 200)
	assert.Equal(t, 100, m.Master())
	assert.Equal(t, 100, m.Volume(model.StemVocals))
	assert.InDelta(t, 1.0, m.Gain(model.StemVocals), 1e-9)

	m.SetMaster(50)
	m.SetVolume(model.StemVocals, 50)
	assert.InDelta(t, 0.25, m.Gain(model.StemVocals), 1e-9)

	assert.True(t, m.ToggleMute(model.StemVocals))
	assert.True(t, m.Muted(model.StemVocals))
	assert.False(t, m.ToggleMute(model.StemVocals))

	assert.False(t, m.Has(model.Stem("kazoo")))
	assert.Zero(t, m.Gain(model.Stem("kazoo")))
	assert.Equal(t, 0, ClampVolume(-1))
	assert.Equal(t, 100, ClampVolume(101))
}

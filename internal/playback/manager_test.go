package playback

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsplit/api/internal/model"
)

type countingLoader struct {
	loads atomic.Int32
	err   error
}

func (l *countingLoader) Load(ctx context.Context, p *model.Project) (*Stems, error) {
	l.loads.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	buf := constBuffer(SampleRate, 1)
	stems := &Stems{Buffers: map[model.Stem]*Buffer{}, Duration: buf.Duration()}
	for _, stem := range model.AllStems {
		stems.Buffers[stem] = buf
	}
	return stems, nil
}

func newTestManager(t *testing.T, loader StemLoader, cfg ManagerConfig) *Manager {
	t.Helper()
	m := NewManager(loader, cfg)
	t.Cleanup(m.CloseAll)
	return m
}

func TestManager_OpenGetClose(t *testing.T) {
	loader := &countingLoader{}
	m := newTestManager(t, loader, ManagerConfig{})
	ctx := context.Background()

	s, err := m.Open(ctx, testProject())
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	state, err := s.Engine.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.ID, state.SessionID)
	assert.False(t, state.IsPlaying)
	assert.Equal(t, 1.0, state.Duration)

	require.NoError(t, m.Close(s.ID))
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(s.ID), ErrSessionNotFound)

	_, err = s.Engine.Play(ctx)
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestManager_ReusesStemsPerProject(t *testing.T) {
	loader := &countingLoader{}
	m := newTestManager(t, loader, ManagerConfig{})
	ctx := context.Background()

	a, err := m.Open(ctx, testProject())
	require.NoError(t, err)
	b, err := m.Open(ctx, testProject())
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, int32(1), loader.loads.Load())
	assert.Same(t, a.stems, b.stems)
	assert.Equal(t, 2, m.Len())

	assert.Equal(t, 2, m.CloseProject("p1"))
	assert.Equal(t, 0, m.Len())
}

func TestManager_LoadErrorPropagates(t *testing.T) {
	loadErr := &LoadError{Stem: model.StemVocals, Err: errors.New("boom")}
	m := newTestManager(t, &countingLoader{err: loadErr}, ManagerConfig{})

	_, err := m.Open(context.Background(), testProject())
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 0, m.Len())
}

func TestManager_MaxSessions(t *testing.T) {
	m := newTestManager(t, &countingLoader{}, ManagerConfig{MaxSessions: 1})
	ctx := context.Background()

	_, err := m.Open(ctx, testProject())
	require.NoError(t, err)
	_, err = m.Open(ctx, testProject())
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestManager_ReapIdle(t *testing.T) {
	m := newTestManager(t, &countingLoader{}, ManagerConfig{IdleTimeout: time.Minute})
	ctx := context.Background()

	idle, err := m.Open(ctx, testProject())
	require.NoError(t, err)
	listened, err := m.Open(ctx, testProject())
	require.NoError(t, err)
	l := listened.Output.Subscribe()
	defer listened.Output.Unsubscribe(l)

	assert.Equal(t, 0, m.ReapIdle(time.Now()))
	assert.Equal(t, 1, m.ReapIdle(time.Now().Add(2*time.Minute)))

	_, err = m.Get(idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(listened.ID)
	assert.NoError(t, err)
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager(&countingLoader{}, ManagerConfig{})
	ctx := context.Background()

	s, err := m.Open(ctx, testProject())
	require.NoError(t, err)
	m.CloseAll()

	<-s.Engine.Done()
	_, err = m.Open(ctx, testProject())
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_SessionRendersAudio(t *testing.T) {
	m := newTestManager(t, &countingLoader{}, ManagerConfig{})
	ctx := context.Background()

	s, err := m.Open(ctx, testProject())
	require.NoError(t, err)
	l := s.Output.Subscribe()
	defer s.Output.Unsubscribe(l)

	_, err = s.Engine.Play(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case frame := <-l.C:
			return frame[0] != 0
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

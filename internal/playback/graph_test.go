package playback

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

// constBuffer returns frames stereo frames of value v.
func constBuffer(frames int, v int16) *Buffer {
	s := make([]int16, frames*Channels)
	for i := range s {
		s[i] = v
	}
	return NewBuffer(s)
}

func TestBuffer_Duration(t *testing.T) {
	assert.Equal(t, time.Second, constBuffer(SampleRate, 0).Duration())
	assert.Equal(t, 20*time.Millisecond, constBuffer(FrameSize, 0).Duration())

	var nilBuf *Buffer
	assert.Equal(t, 0, nilBuf.Frames())
}

func TestSamplesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	assert.Equal(t, in, BytesToSamples(SamplesToBytes(in)))
	assert.Equal(t, []int16{1}, BytesToSamples([]byte{1, 0, 9}))
}

func TestClock(t *testing.T) {
	var now time.Duration
	c := NewClock(func() time.Duration { return now })

	assert.Equal(t, time.Duration(0), c.Position())

	c.Start()
	now = 3 * time.Second
	assert.Equal(t, 3*time.Second, c.Position())

	c.Stop()
	now = 10 * time.Second
	assert.Equal(t, 3*time.Second, c.Position())
	assert.False(t, c.Running())

	c.Start()
	now = 11 * time.Second
	assert.Equal(t, 4*time.Second, c.Position())

	c.Set(30 * time.Second)
	assert.False(t, c.Running())
	now = 20 * time.Second
	assert.Equal(t, 30*time.Second, c.Position())

	c.Start()
	now = 22 * time.Second
	assert.Equal(t, 32*time.Second, c.Position())

	c.Set(-time.Second)
	assert.Equal(t, time.Duration(0), c.Position())
}

func TestPCMGraph_ClockAdvancesPerFrame(t *testing.T) {
	g := NewPCMGraph(nil)
	assert.Equal(t, time.Duration(0), g.Now())
	for i := 0; i < 50; i++ {
		g.Render()
	}
	assert.Equal(t, time.Second, g.Now())
}

func TestPCMGraph_MixesWithGainAndClips(t *testing.T) {
	g := NewPCMGraph(nil)
	g.Start(constBuffer(FrameSize*2, 1000), 0, 0.5)
	g.Start(constBuffer(FrameSize*2, 3000), 0, 1)

	frame := g.Render()
	require.Len(t, frame, FrameSamples)
	assert.Equal(t, int16(3500), frame[0])
	assert.Equal(t, int16(3500), frame[FrameSamples-1])

	g2 := NewPCMGraph(nil)
	g2.Start(constBuffer(FrameSize, 30000), 0, 1)
	g2.Start(constBuffer(FrameSize, 30000), 0, 1)
	assert.Equal(t, int16(32767), g2.Render()[0])

	g3 := NewPCMGraph(nil)
	g3.Start(constBuffer(FrameSize, -30000), 0, 1)
	g3.Start(constBuffer(FrameSize, -30000), 0, 1)
	assert.Equal(t, int16(-32768), g3.Render()[0])
}

func TestPCMGraph_OffsetStopAndExhaustion(t *testing.T) {
	g := NewPCMGraph(nil)

	// second frame of this buffer is louder
	samples := make([]int16, FrameSamples*2)
	for i := FrameSamples; i < len(samples); i++ {
		samples[i] = 100
	}
	buf := NewBuffer(samples)

	g.Start(buf, FrameDuration, 1)
	assert.Equal(t, 1, g.Active())
	assert.Equal(t, int16(100), g.Render()[0])
	assert.Equal(t, 0, g.Active(), "exhausted source is dropped")
	assert.Equal(t, int16(0), g.Render()[0])

	p := g.Start(buf, 0, 1)
	assert.Equal(t, 1, g.Active())
	p.Stop()
	p.Stop()
	assert.Equal(t, 0, g.Active())

	// offset past the end never plays
	g.Start(buf, time.Hour, 1)
	assert.Equal(t, 0, g.Active())
}

func TestPCMGraph_SetGain(t *testing.T) {
	g := NewPCMGraph(nil)
	p := g.Start(constBuffer(FrameSize*4, 1000), 0, 1)
	assert.Equal(t, int16(1000), g.Render()[0])
	p.SetGain(0.25)
	assert.Equal(t, int16(250), g.Render()[0])
	p.SetGain(0)
	assert.Equal(t, int16(0), g.Render()[0])
}

func TestPCMGraph_RunPublishes(t *testing.T) {
	out := NewBroadcaster()
	l := out.Subscribe()
	g := NewPCMGraph(out)
	g.Start(constBuffer(SampleRate, 7), 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	select {
	case frame := <-l.C:
		assert.Equal(t, int16(7), frame[0])
	case <-time.After(2 * time.Second):
		t.Fatal("no frame published")
	}
	assert.Greater(t, g.Now(), time.Duration(0))
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	l1 := b.Subscribe()
	l2 := b.Subscribe()
	assert.Equal(t, 2, b.ListenerCount())

	b.Publish([]int16{1, 2})
	assert.Equal(t, []int16{1, 2}, <-l1.C)
	assert.Equal(t, []int16{1, 2}, <-l2.C)

	b.Unsubscribe(l1)
	b.Unsubscribe(l1)
	assert.Equal(t, 1, b.ListenerCount())
	select {
	case <-l1.Done():
	default:
		t.Fatal("unsubscribed listener not signalled")
	}

	// slow listener drops instead of blocking
	for i := 0; i < listenerBuffer+10; i++ {
		b.Publish([]int16{int16(i)})
	}
	assert.Len(t, l2.C, listenerBuffer)

	b.Close()
	assert.Equal(t, 0, b.ListenerCount())
	<-l2.Done()
}

type syncBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Flush() error {
	b.mu.Lock()
	b.flushes++
	b.mu.Unlock()
	return nil
}

func (b *syncBuffer) snapshot() ([]byte, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...), b.flushes
}

func TestEncodeMP3_PipesFramesThroughEncoder(t *testing.T) {
	// stand-in encoder echoes PCM back unchanged
	ffmpeg := writeScript(t, "ffmpeg", "exec cat\n")

	out := NewBroadcaster()
	l := out.Subscribe()
	w := &syncBuffer{}

	errCh := make(chan error, 1)
	go func() {
		errCh <- EncodeMP3(context.Background(), ffmpeg, "", l, w)
	}()

	frame := []int16{1, -1, 300, -300}
	out.Publish(frame)

	want := SamplesToBytes(frame)
	require.Eventually(t, func() bool {
		got, _ := w.snapshot()
		return bytes.Equal(got, want)
	}, 2*time.Second, 10*time.Millisecond)

	out.Unsubscribe(l)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("encoder did not stop after unsubscribe")
	}
	_, flushes := w.snapshot()
	assert.Greater(t, flushes, 0)
}

func TestEncodeMP3_MissingBinary(t *testing.T) {
	l := NewBroadcaster().Subscribe()
	err := EncodeMP3(context.Background(), "/does/not/exist/ffmpeg", "128k", l, &syncBuffer{})
	require.Error(t, err)
}

package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Path is one playing source with its own gain stage.
type Path interface {
	SetGain(gain float64)
	Stop()
}

// Graph is the host audio facility the engine schedules sources on.
type Graph interface {
	// Now is the monotonic audio clock.
	Now() time.Duration
	// Start plays buf from offset at gain until stopped or exhausted.
	Start(buf *Buffer, offset time.Duration, gain float64) Path
}

// PCMGraph mixes active sources into 20ms frames on a ticker and publishes
// them to a Broadcaster. Its clock advances by one frame per render, so
// sources and Now never drift apart.
type PCMGraph struct {
	out    *Broadcaster
	frames atomic.Int64

	mu      sync.Mutex
	sources map[*source]struct{}
}

type source struct {
	graph *PCMGraph
	buf   *Buffer
	pos   int
	gain  float64
}

func NewPCMGraph(out *Broadcaster) *PCMGraph {
	return &PCMGraph{
		out:     out,
		sources: make(map[*source]struct{}),
	}
}

func (g *PCMGraph) Now() time.Duration {
	return time.Duration(g.frames.Load()) * FrameDuration
}

func (g *PCMGraph) Start(buf *Buffer, offset time.Duration, gain float64) Path {
	s := &source{graph: g, buf: buf, pos: sampleIndex(offset), gain: gain}
	g.mu.Lock()
	if s.pos < len(buf.Samples) {
		g.sources[s] = struct{}{}
	}
	g.mu.Unlock()
	return s
}

// Active returns the number of sources still producing audio.
func (g *PCMGraph) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sources)
}

// Render mixes the next frame and advances the clock by FrameDuration.
func (g *PCMGraph) Render() []int16 {
	mix := make([]float64, FrameSamples)

	g.mu.Lock()
	for s := range g.sources {
		n := len(s.buf.Samples) - s.pos
		if n > FrameSamples {
			n = FrameSamples
		}
		for i := 0; i < n; i++ {
			mix[i] += float64(s.buf.Samples[s.pos+i]) * s.gain
		}
		s.pos += n
		if s.pos >= len(s.buf.Samples) {
			delete(g.sources, s)
		}
	}
	g.frames.Add(1)
	g.mu.Unlock()

	frame := make([]int16, FrameSamples)
	for i, v := range mix {
		// clip to int16 range
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		frame[i] = int16(v)
	}
	return frame
}

// Run renders at real-time rate until ctx is cancelled.
func (g *PCMGraph) Run(ctx context.Context) {
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := g.Render()
			if g.out != nil && g.out.ListenerCount() > 0 {
				g.out.Publish(frame)
			}
		}
	}
}

func (s *source) SetGain(gain float64) {
	s.graph.mu.Lock()
	s.gain = gain
	s.graph.mu.Unlock()
}

func (s *source) Stop() {
	s.graph.mu.Lock()
	delete(s.graph.sources, s)
	s.graph.mu.Unlock()
}

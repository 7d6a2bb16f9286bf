package playback

import "github.com/stemsplit/api/internal/model"

const (
	MinVolume     = 0
	MaxVolume     = 100
	DefaultVolume = 75
)

// ClampVolume limits v to [0,100].
func ClampVolume(v int) int {
	if v < MinVolume {
		return MinVolume
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

type channel struct {
	volume int
	muted  bool
}

// Mixer holds per-stem volume and mute plus the master volume.
// Owned by the engine goroutine.
type Mixer struct {
	master   int
	channels map[model.Stem]*channel
}

func NewMixer(stems []model.Stem, volume int) *Mixer {
	volume = ClampVolume(volume)
	m := &Mixer{master: volume, channels: make(map[model.Stem]*channel, len(stems))}
	for _, stem := range stems {
		m.channels[stem] = &channel{volume: volume}
	}
	return m
}

func (m *Mixer) Has(stem model.Stem) bool {
	_, ok := m.channels[stem]
	return ok
}

func (m *Mixer) SetVolume(stem model.Stem, v int) {
	if ch, ok := m.channels[stem]; ok {
		ch.volume = ClampVolume(v)
	}
}

func (m *Mixer) SetMaster(v int) {
	m.master = ClampVolume(v)
}

func (m *Mixer) Master() int {
	return m.master
}

// ToggleMute flips the mute flag and returns the new value.
func (m *Mixer) ToggleMute(stem model.Stem) bool {
	ch, ok := m.channels[stem]
	if !ok {
		return false
	}
	ch.muted = !ch.muted
	return ch.muted
}

func (m *Mixer) Muted(stem model.Stem) bool {
	ch, ok := m.channels[stem]
	return ok && ch.muted
}

func (m *Mixer) Volume(stem model.Stem) int {
	if ch, ok := m.channels[stem]; ok {
		return ch.volume
	}
	return 0
}

// Gain is (volume/100) * (master/100).
func (m *Mixer) Gain(stem model.Stem) float64 {
	return float64(m.Volume(stem)) / 100 * float64(m.master) / 100
}

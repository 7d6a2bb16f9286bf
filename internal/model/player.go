package model

// PlaybackState is the client-visible transport and mixer state of one player session.
type PlaybackState struct {
	SessionID    string                `json:"sessionId,omitempty"`
	ProjectID    string                `json:"projectId"`
	IsPlaying    bool                  `json:"isPlaying"`
	Position     float64               `json:"position"`
	Duration     float64               `json:"duration"`
	MasterVolume int                   `json:"masterVolume"`
	Stems        map[Stem]ChannelState `json:"stems"`
}

// ChannelState is the mixer state of one stem
type ChannelState struct {
	Volume int  `json:"volume"`
	Muted  bool `json:"muted"`
	Active bool `json:"active"`
}

// PlayerOpenRequest opens a player session for a project
type PlayerOpenRequest struct {
	ProjectID string `json:"projectId" validate:"required"`
}

// PlayerSeekRequest moves the playhead
type PlayerSeekRequest struct {
	Position *float64 `json:"position" validate:"required,min=0"`
}

// PlayerVolumeRequest sets master or stem volume
type PlayerVolumeRequest struct {
	Value *int `json:"value" validate:"required,min=0,max=100"`
}

// StemDownloadResponse exposes the locator of one stem
type StemDownloadResponse struct {
	Stem     Stem   `json:"stem"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

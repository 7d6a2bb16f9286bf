package model

import "time"

// Project is the immutable result of a completed separation.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OriginalFile   string    `json:"originalFile"`
	OriginalFileID string    `json:"originalFileId"`
	StemURLs       StemURLs  `json:"stemUrls"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	Duration       int       `json:"duration"`
}

// StemURLs maps every stem name to a static resource locator.
// Guitar and Other always point to the same artifact.
type StemURLs struct {
	Vocals string `json:"vocals"`
	Drums  string `json:"drums"`
	Bass   string `json:"bass"`
	Guitar string `json:"guitar"`
	Other  string `json:"other"`
}

// NewStemURLs builds the five-key map from the four separated artifacts.
func NewStemURLs(vocals, drums, bass, other string) StemURLs {
	return StemURLs{
		Vocals: vocals,
		Drums:  drums,
		Bass:   bass,
		Guitar: other,
		Other:  other,
	}
}

// URL returns the locator for a stem.
func (s StemURLs) URL(stem Stem) (string, bool) {
	var u string
	switch stem {
	case StemVocals:
		u = s.Vocals
	case StemDrums:
		u = s.Drums
	case StemBass:
		u = s.Bass
	case StemGuitar:
		u = s.Guitar
	case StemOther:
		u = s.Other
	default:
		return "", false
	}
	return u, u != ""
}

// Map returns the locators keyed by stem, in AllStems order when ranged via AllStems.
func (s StemURLs) Map() map[Stem]string {
	m := make(map[Stem]string, len(AllStems))
	for _, stem := range AllStems {
		u, _ := s.URL(stem)
		m[stem] = u
	}
	return m
}

package model

// Job status
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Stem names
type Stem string

const (
	StemVocals Stem = "vocals"
	StemDrums  Stem = "drums"
	StemBass   Stem = "bass"
	StemGuitar Stem = "guitar"
	StemOther  Stem = "other"
)

// AllStems is the fixed channel order exposed to players.
var AllStems = []Stem{StemVocals, StemDrums, StemBass, StemGuitar, StemOther}

// SeparatedStems are the files the separation tool actually produces.
// Guitar is not among them; it is served from the "other" artifact.
var SeparatedStems = []Stem{StemVocals, StemDrums, StemBass, StemOther}

// ParseStem validates a stem name from a request path.
func ParseStem(s string) (Stem, bool) {
	for _, stem := range AllStems {
		if string(stem) == s {
			return stem, true
		}
	}
	return "", false
}

// Project status
const ProjectStatusCompleted = "completed"

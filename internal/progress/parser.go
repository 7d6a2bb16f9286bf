// Package progress turns the line-oriented output of the separation tool into
// coarse progress events.
package progress

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Phase of a separation run as inferred from tool output.
type Phase string

const (
	PhaseLoadingModel       Phase = "loading model"
	PhaseStartingSeparation Phase = "starting separation"
	PhaseProcessing         Phase = "processing"
)

const (
	modelMarker      = "Selected model is"
	separationMarker = "Separating track"

	LoadingModelPercent       = 5
	StartingSeparationPercent = 10

	// Processing progress is mapped into [processingBase, processingBase+processingSpan].
	processingBase = 10.0
	processingSpan = 80.0
)

var percentPattern = regexp.MustCompile(`(\d+)%`)

// Event is one recognized progress signal.
type Event struct {
	Phase   Phase
	Raw     int // raw percent for PhaseProcessing, 0 otherwise
	Percent int // visible percent
	Message string
}

// Parse classifies a single line of tool output. Markers win over a percent
// token found on the same line.
func Parse(line string) (Event, bool) {
	switch {
	case strings.Contains(line, modelMarker):
		return Event{
			Phase:   PhaseLoadingModel,
			Percent: LoadingModelPercent,
			Message: "Loading AI model...",
		}, true
	case strings.Contains(line, separationMarker):
		return Event{
			Phase:   PhaseStartingSeparation,
			Percent: StartingSeparationPercent,
			Message: "Starting audio separation...",
		}, true
	}

	m := percentPattern.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	raw, err := strconv.Atoi(m[1])
	if err != nil {
		// digits overflowing int are not a percentage
		return Event{}, false
	}
	raw = clamp(raw)
	return Event{
		Phase:   PhaseProcessing,
		Raw:     raw,
		Percent: Scale(raw),
		Message: fmt.Sprintf("Processing audio... %d%%", raw),
	}, true
}

// Scale maps a raw tool percentage in [0,100] to the visible range [10,90].
func Scale(raw int) int {
	raw = clamp(raw)
	return int(math.Round(processingBase + float64(raw)*processingSpan/100))
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

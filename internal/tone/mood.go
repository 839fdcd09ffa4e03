package tone

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
)

// Mood is the conversational stance used for a call.
type Mood string

const (
	MoodEncouraging     Mood = "Encouraging"
	MoodConfrontational Mood = "Confrontational"
	MoodColdMirror      Mood = "ColdMirror"
)

// ladder orders moods from softest to harshest.
var ladder = [...]Mood{MoodEncouraging, MoodConfrontational, MoodColdMirror}

func (m Mood) String() string { return string(m) }

func (m Mood) IsValid() bool {
	return m.rank() >= 0
}

func (m Mood) rank() int {
	for i, candidate := range ladder {
		if candidate == m {
			return i
		}
	}
	return -1
}

func ParseMoodFromString(s string) (Mood, error) {
	trimmed := strings.TrimSpace(s)
	for _, candidate := range ladder {
		if strings.EqualFold(string(candidate), trimmed) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: invalid mood %q", domain.ErrValidation, s)
}

// DataQuality describes how much history backed an analysis.
type DataQuality string

const (
	DataQualityInsufficient DataQuality = "insufficient"
	DataQualityPartial      DataQuality = "partial"
	DataQualityRobust       DataQuality = "robust"
)

func (q DataQuality) String() string { return string(q) }

func (q DataQuality) IsValid() bool {
	switch q {
	case DataQualityInsufficient, DataQualityPartial, DataQualityRobust:
		return true
	}
	return false
}

// Multiplier scales the ladder confidence.
func (q DataQuality) Multiplier() float64 {
	switch q {
	case DataQualityRobust:
		return 1.0
	case DataQualityPartial:
		return 0.8
	default:
		return 0.6
	}
}

func ParseDataQualityFromString(s string) (DataQuality, error) {
	q := DataQuality(strings.ToLower(strings.TrimSpace(s)))
	if !q.IsValid() {
		return "", fmt.Errorf("%w: invalid data quality %q", domain.ErrValidation, s)
	}
	return q, nil
}

// CanOverride reports whether an in-progress tone may be replaced by proposed.
func CanOverride(current, proposed Mood, confidence float64, override bool) bool {
	if current == proposed {
		return true
	}
	if confidence < 0.6 {
		return false
	}

	from, to := current.rank(), proposed.rank()
	if from < 0 || to < 0 {
		return false
	}

	steps := to - from
	if steps < 0 {
		steps = -steps
	}

	if steps == 1 && confidence > 0.75 {
		return true
	}
	if proposed == MoodColdMirror && override && confidence > 0.85 {
		return true
	}
	if steps > 1 && override && confidence > 0.9 {
		return true
	}
	return false
}

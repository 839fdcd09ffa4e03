package tone

import (
	"math"
	"slices"
	"strconv"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
)

// Weights controls the score contributions. Values are copied into the scorer.
type Weights struct {
	Performance float64
	Streak      float64
	Collapse    float64
}

func DefaultWeights() Weights {
	return Weights{Performance: 40, Streak: 30, Collapse: 30}
}

// Factor is one (name, value) pair that explains a recommendation.
type Factor struct {
	Name  string
	Value string
}

// Analysis is the scored recommendation for a single call.
type Analysis struct {
	RecommendedMood  Mood
	Intensity        float64
	ReasoningFactors []Factor
	ConfidenceScore  float64
	DataQuality      DataQuality
	Score            float64

	SuccessRate         float64
	ConsecutiveFailures int
	Trend               Trend
	StreakStrength      StreakStrength
	Momentum            Momentum
	CollapseRisk        int
	CollapseLevel       CollapseLevel
	InterventionNeeded  bool
}

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

type StreakStrength string

const (
	StreakWeak     StreakStrength = "weak"
	StreakModerate StreakStrength = "moderate"
	StreakStrong   StreakStrength = "strong"
)

type Momentum string

const (
	MomentumAtRisk      Momentum = "at_risk"
	MomentumBuilding    Momentum = "building"
	MomentumMaintaining Momentum = "maintaining"
)

type CollapseLevel string

const (
	CollapseLow      CollapseLevel = "low"
	CollapseMedium   CollapseLevel = "medium"
	CollapseHigh     CollapseLevel = "high"
	CollapseCritical CollapseLevel = "critical"
)

// Scorer turns promise history into a recommended mood.
type Scorer struct {
	weights Weights
}

func NewScorer(weights Weights) Scorer {
	return Scorer{weights: weights}
}

func (s Scorer) Weights() Weights {
	return s.weights
}

func (s Scorer) Analyze(outcomes []domain.PromiseOutcome, streakDays int) Analysis {
	completed := completedNewestFirst(outcomes)

	var a Analysis
	a.SuccessRate = successRate(completed)
	a.ConsecutiveFailures = consecutiveFailures(completed)
	a.Trend = trend(completed)
	a.StreakStrength, a.Momentum = streakHealth(streakDays)
	a.CollapseRisk, a.CollapseLevel = collapseRisk(streakDays)
	a.InterventionNeeded = a.CollapseLevel == CollapseHigh || a.CollapseLevel == CollapseCritical
	a.Score = s.score(a)
	a.Intensity = intensity(a)
	a.ReasoningFactors = reasoningFactors(a)

	if len(completed) == 0 {
		a.RecommendedMood = MoodConfrontational
		a.ConfidenceScore = 0.5
		a.DataQuality = DataQualityInsufficient
		return a
	}

	mood, confidence := recommend(a)
	a.RecommendedMood = mood
	a.DataQuality = DataQualityPartial
	if len(a.ReasoningFactors) >= 3 {
		a.DataQuality = DataQualityRobust
	}
	a.ConfidenceScore = confidence * a.DataQuality.Multiplier()
	return a
}

func completedNewestFirst(outcomes []domain.PromiseOutcome) []domain.PromiseOutcome {
	completed := make([]domain.PromiseOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Status == domain.PromiseStatusKept || o.Status == domain.PromiseStatusBroken {
			completed = append(completed, o)
		}
	}
	slices.SortStableFunc(completed, func(a, b domain.PromiseOutcome) int {
		return b.Date.Compare(a.Date)
	})
	return completed
}

func keptRatio(outcomes []domain.PromiseOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	kept := 0
	for _, o := range outcomes {
		if o.Status == domain.PromiseStatusKept {
			kept++
		}
	}
	return float64(kept) / float64(len(outcomes))
}

func successRate(completed []domain.PromiseOutcome) float64 {
	return keptRatio(completed) * 100
}

func consecutiveFailures(completed []domain.PromiseOutcome) int {
	count := 0
	for _, o := range completed {
		if o.Status != domain.PromiseStatusBroken {
			break
		}
		count++
	}
	return count
}

func trend(completed []domain.PromiseOutcome) Trend {
	mid := len(completed) / 2
	if mid == 0 {
		return TrendStable
	}
	delta := keptRatio(completed[:mid]) - keptRatio(completed[mid:])
	switch {
	case delta > 0.2:
		return TrendImproving
	case delta < -0.2:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func streakHealth(days int) (StreakStrength, Momentum) {
	strength := StreakStrong
	switch {
	case days <= 3:
		strength = StreakWeak
	case days <= 14:
		strength = StreakModerate
	}

	momentum := MomentumMaintaining
	switch {
	case days <= 0:
		momentum = MomentumAtRisk
	case days <= 7:
		momentum = MomentumBuilding
	}
	return strength, momentum
}

func collapseRisk(days int) (int, CollapseLevel) {
	risk := 0
	switch {
	case days <= 0:
		risk = 100
	case days < 3:
		risk = 70
	case days < 7:
		risk = 30
	}

	switch {
	case risk <= 25:
		return risk, CollapseLow
	case risk <= 50:
		return risk, CollapseMedium
	case risk <= 75:
		return risk, CollapseHigh
	default:
		return risk, CollapseCritical
	}
}

func (s Scorer) score(a Analysis) float64 {
	w := s.weights
	total := 0.0

	switch {
	case a.SuccessRate >= 80:
		total += w.Performance
	case a.SuccessRate >= 60:
		total += w.Performance / 2
	case a.SuccessRate >= 40:
	default:
		total -= w.Performance / 2
	}

	total -= float64(a.ConsecutiveFailures) * 10

	switch a.Trend {
	case TrendImproving:
		total += 15
	case TrendDeclining:
		total -= 15
	}

	switch a.StreakStrength {
	case StreakStrong:
		total += w.Streak
	case StreakModerate:
		total += w.Streak / 2
	}
	if a.Momentum == MomentumAtRisk {
		total -= 20
	}

	switch a.CollapseLevel {
	case CollapseLow:
		total += w.Collapse
	case CollapseMedium:
		total += w.Collapse * 0.33
	case CollapseHigh:
		total -= w.Collapse * 0.33
	case CollapseCritical:
		total -= w.Collapse
	}

	return math.Max(-100, math.Min(100, total))
}

func intensity(a Analysis) float64 {
	v := math.Abs(a.Score) / 100
	if a.InterventionNeeded {
		v += 0.3
	}
	if a.ConsecutiveFailures >= 3 {
		v += 0.2
	}
	if a.ConsecutiveFailures >= 5 {
		v += 0.3
	}
	return math.Min(v, 1)
}

func reasoningFactors(a Analysis) []Factor {
	factors := []Factor{
		{Name: "success_rate", Value: strconv.FormatFloat(a.SuccessRate, 'f', 1, 64)},
		{Name: "streak_strength", Value: string(a.StreakStrength)},
	}
	if a.ConsecutiveFailures > 0 {
		factors = append(factors, Factor{Name: "consecutive_failures", Value: strconv.Itoa(a.ConsecutiveFailures)})
	}
	if a.Trend != TrendStable {
		factors = append(factors, Factor{Name: "trend", Value: string(a.Trend)})
	}
	if a.CollapseLevel != CollapseLow {
		factors = append(factors, Factor{Name: "collapse_risk", Value: string(a.CollapseLevel)})
	}
	return factors
}

func recommend(a Analysis) (Mood, float64) {
	switch {
	case a.InterventionNeeded || a.ConsecutiveFailures >= 5:
		return MoodColdMirror, 0.95
	case a.ConsecutiveFailures >= 3 || a.Score <= -20:
		return MoodConfrontational, 0.9
	case a.Score >= 30:
		return MoodEncouraging, 0.8
	default:
		return MoodConfrontational, 0.75
	}
}

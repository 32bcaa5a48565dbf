package decision

import (
	"fmt"
	"math"
)

type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Level is the per-class qualitative bucket shown next to each class probability.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

const (
	DefaultHigh   = 0.8
	DefaultMedium = 0.6

	levelHigh   = 0.7
	levelMedium = 0.5
)

type Thresholds struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{High: DefaultHigh, Medium: DefaultMedium}
}

func (t Thresholds) Validate() error {
	if t.Medium < 0 || t.High > 1 || t.Medium > t.High {
		return fmt.Errorf("invalid thresholds: need 0 <= medium (%v) <= high (%v) <= 1", t.Medium, t.High)
	}
	return nil
}

// Tier buckets a confidence. Both bounds are exclusive: a confidence equal
// to a threshold falls into the lower tier.
func (t Thresholds) Tier(confidence float64) Tier {
	switch {
	case confidence > t.High:
		return TierHigh
	case confidence > t.Medium:
		return TierMedium
	default:
		return TierLow
	}
}

func ClassLevel(probability float64) Level {
	switch {
	case probability > levelHigh:
		return LevelHigh
	case probability > levelMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

type Outcome struct {
	Index         int
	Probability   float64
	Confidence    float64
	Tier          Tier
	Probabilities []float64
}

// Binary applies the sigmoid decision rule: p > 0.5 selects class index 1,
// anything else (ties included) selects class index 0.
func Binary(p float64, t Thresholds) Outcome {
	probs := []float64{1 - p, p}
	out := Outcome{Probability: p, Probabilities: probs}
	if p > 0.5 {
		out.Index = 1
		out.Confidence = p
	} else {
		out.Index = 0
		out.Confidence = 1 - p
	}
	out.Tier = t.Tier(out.Confidence)
	return out
}

// Multi picks the highest score; the lowest index wins ties.
func Multi(scores []float64, softmax bool, t Thresholds) (Outcome, error) {
	if len(scores) == 0 {
		return Outcome{}, fmt.Errorf("no scores to decide on")
	}

	probs := scores
	if softmax {
		probs = Softmax(scores)
	}

	maxIdx := 0
	maxVal := probs[0]
	for i, val := range probs {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	return Outcome{
		Index:         maxIdx,
		Probability:   maxVal,
		Confidence:    maxVal,
		Tier:          t.Tier(maxVal),
		Probabilities: probs,
	}, nil
}

func Softmax(scores []float64) []float64 {
	maxVal := math.Inf(-1)
	for _, s := range scores {
		if s > maxVal {
			maxVal = s
		}
	}

	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

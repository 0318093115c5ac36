package compute

import "math"

// MeasurementWindowMs is the acquisition window the fatigue thresholds are
// calibrated for. The engine does not enforce it.
const MeasurementWindowMs = 15000

// Sub-score weights for the fatigue score. They sum to 1.0.
const (
	weightBlinkCount  = 0.40
	weightEyeOpen     = 0.35
	weightConsistency = 0.25
)

// Blink-count bands per measurement window.
const (
	minHealthyBlinks = 3
	maxHealthyBlinks = 8
	optimalBlinks    = 5
)

const (
	// defaultEyeOpenRatio stands in for the mean when no ratios were sampled.
	defaultEyeOpenRatio = 0.5

	// neutralConsistency is used when fewer than minIntervals are available.
	neutralConsistency = 50.0
	minIntervals       = 3
)

// blinkClosedRatio is the eye-open ratio below which the eye counts as closed.
const blinkClosedRatio = 0.3

// BlinkSample is one camera-frame reading of the eye-open ratio.
type BlinkSample struct {
	EyeOpenRatio float64
	TimestampMs  int64
}

// FatigueScore combines blink count, mean eye-open ratio and blink-interval
// consistency into a 0–100 score. Higher is more alert.
//
// Each entry in blinkIntervalsMs is one detected blink (the time since the
// previous one), so the blink count is len(blinkIntervalsMs).
func FatigueScore(blinkIntervalsMs []int64, eyeOpenRatios []float64) float64 {
	blink := blinkCountScore(len(blinkIntervalsMs))
	eyeOpen := eyeOpenScore(mean(eyeOpenRatios, defaultEyeOpenRatio))
	consistency := consistencyScore(blinkIntervalsMs)

	score := blink*weightBlinkCount +
		eyeOpen*weightEyeOpen +
		consistency*weightConsistency
	return clamp(score, 0, 100)
}

// blinkCountScore peaks at optimalBlinks. Too few blinks reads as over-focus
// or drowsiness, too many as eye strain.
func blinkCountScore(n int) float64 {
	switch {
	case n < minHealthyBlinks:
		return clamp(float64(n)/minHealthyBlinks*60, 0, 60)
	case n > maxHealthyBlinks:
		return clamp(100-float64(n-maxHealthyBlinks)*15, 40, 100)
	default:
		return clamp(100-math.Abs(float64(n-optimalBlinks))*8, 0, 100)
	}
}

// eyeOpenScore maps the mean eye-open ratio onto piecewise-linear bands.
func eyeOpenScore(avg float64) float64 {
	switch {
	case avg >= 0.85:
		return 100
	case avg >= 0.75:
		return 80 + (avg-0.75)*200
	case avg >= 0.65:
		return 60 + (avg-0.65)*200
	case avg >= 0.50:
		return 40 + (avg-0.50)*133
	default:
		return clamp(avg/0.5*40, 0, 40)
	}
}

// consistencyScore rewards regular blinking: a low population standard
// deviation of the intervals scores high.
func consistencyScore(intervals []int64) float64 {
	if len(intervals) < minIntervals {
		return neutralConsistency
	}

	sigma := stddev(intervals)
	switch {
	case sigma <= 800:
		return 100
	case sigma <= 1500:
		return 100 - (sigma-800)/7
	case sigma <= 3000:
		return 60 - (sigma-1500)/25
	default:
		return clamp(60-(sigma-3000)/50, 0, 60)
	}
}

// ExtractBlinkSeries derives blink intervals and the raw ratio series from a
// sample stream ordered by timestamp. A blink completes when the ratio climbs
// back to blinkClosedRatio or above after dropping below it. The first interval
// is measured from the first sample.
func ExtractBlinkSeries(samples []BlinkSample) (intervalsMs []int64, ratios []float64) {
	if len(samples) == 0 {
		return nil, nil
	}

	ratios = make([]float64, 0, len(samples))
	last := samples[0].TimestampMs
	closed := false
	for _, s := range samples {
		ratios = append(ratios, s.EyeOpenRatio)
		switch {
		case s.EyeOpenRatio < blinkClosedRatio:
			closed = true
		case closed:
			closed = false
			intervalsMs = append(intervalsMs, s.TimestampMs-last)
			last = s.TimestampMs
		}
	}
	return intervalsMs, ratios
}

func mean(vs []float64, fallback float64) float64 {
	if len(vs) == 0 {
		return fallback
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// stddev is the population standard deviation.
func stddev(vs []int64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += float64(v)
	}
	m := sum / float64(len(vs))

	var sq float64
	for _, v := range vs {
		d := float64(v) - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vs)))
}

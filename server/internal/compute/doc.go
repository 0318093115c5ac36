// Package compute is the safety-scoring engine.
//
// checklist.go turns weighted multiple-choice answers into a 0–100 checklist
// score. fatigue.go derives the pupil/fatigue score from blink intervals and
// eye-open ratios: blink_count(40%) + eye_open(35%) + interval_consistency(25%).
// score.go combines checklist, tremor, pupil and ppg scores into the final
// safety score and its level. recommend.go maps the level and sub-scores to
// advisory strings. Evaluate runs the whole chain in one call.
//
// Every function here is pure and never fails: empty or out-of-range input
// falls back to a defined default and results are clamped into [0, 100].
//
// Safety level thresholds: SAFE ≥70, CAUTION 50–69.99, DANGER <50.
package compute

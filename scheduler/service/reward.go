package service

import (
	"github.com/pulseplan/pulse/internal/config"
	"github.com/pulseplan/pulse/internal/util"
)

// neutral stands in for any outcome signal the feedback did not carry.
const (
	neutralRate         = 0.5
	neutralSatisfaction = 0.0
)

// Reward folds the outcome signals into the single scalar the bandit learns
// from, clamped to [0, 1].
func Reward(fb *FeedbackRequest, w config.RewardWeights) float64 {
	completion := neutralRate
	if fb.CompletionRate != nil {
		completion = util.ClampFloat(*fb.CompletionRate, 0, 1)
	}
	satisfaction := neutralSatisfaction
	if fb.SatisfactionScore != nil {
		satisfaction = util.ClampFloat(*fb.SatisfactionScore, 0, 1)
	}
	reschedule := neutralRate
	if fb.RescheduleRate != nil {
		reschedule = util.ClampFloat(*fb.RescheduleRate, 0, 1)
	}
	missed := neutralRate
	if fb.MissedRate != nil {
		missed = util.ClampFloat(*fb.MissedRate, 0, 1)
	}

	reward := w.Completion*completion + w.Satisfaction*satisfaction -
		w.Reschedule*reschedule - w.Missed*missed
	return util.ClampFloat(reward, 0, 1)
}

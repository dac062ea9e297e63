package ledger

import (
	"math"

	"voiceloom/internal/config"
)

// CostParams describes a job for estimation purposes.
type CostParams struct {
	DurationSeconds float64
	SpeakerCount    int
	Translated      bool
	HasVideo        bool
}

// EstimateCost converts media duration into whole credits. Multi-speaker
// jobs, translated jobs, and jobs that carry video each scale the base
// rate; the result is rounded up so partial credits always charge.
func EstimateCost(billing config.Billing, params CostParams) float64 {
	if params.DurationSeconds <= 0 {
		return 0
	}
	cost := params.DurationSeconds / float64(billing.SecondsPerCredit)
	if params.SpeakerCount > 1 {
		cost *= billing.MultiSpeakerMultiplier
	}
	if params.Translated {
		cost *= billing.TranslationMultiplier
	}
	if params.HasVideo {
		cost *= billing.VideoMultiplier
	}
	return math.Ceil(cost)
}

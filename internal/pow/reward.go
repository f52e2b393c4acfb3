package pow

import "time"

// Reward formula constants. The offline sync path must pay exactly what the
// online solo path pays, so both call into this file.
const (
	baseReward       = 0.0005
	perDifficulty    = 0.0005
	timeBonusPerSec  = 0.0001
	timeBonusCeiling = 5 * time.Second
)

// SoloReward returns the reward for one solo proof at the given difficulty.
func SoloReward(difficulty int) float64 {
	if difficulty <= 0 {
		return 0
	}
	return baseReward + float64(difficulty)*perDifficulty
}

// TimeBonus returns the extra reward for solving a timed online puzzle
// quickly. Zero once elapsed reaches the ceiling.
func TimeBonus(elapsed time.Duration) float64 {
	remaining := (timeBonusCeiling - elapsed).Seconds()
	if remaining <= 0 {
		return 0
	}
	return remaining * timeBonusPerSec
}

package app

import "time"

const (
	basePoints = 1000
	minPoints  = 100
)

// Score maps a submission outcome to points. Incorrect answers earn nothing;
// correct answers earn basePoints minus a linear time decay, never less than
// minPoints. Integer arithmetic keeps it deterministic.
func Score(correct bool, responseTime, timeLimit time.Duration) int {
	if !correct {
		return 0
	}
	if timeLimit <= 0 || responseTime <= 0 {
		return basePoints
	}
	if responseTime >= timeLimit {
		return minPoints
	}
	decay := int(int64(basePoints-minPoints) * responseTime.Milliseconds() / timeLimit.Milliseconds())
	return basePoints - decay
}

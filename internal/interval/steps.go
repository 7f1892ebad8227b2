package interval

import "math/rand"

// dummyStepMinutes stands in for a learning step list that is empty.
const dummyStepMinutes = 1

// DelayForGrade returns the delay in seconds of the step that left encodes.
// Out-of-range positions fall back to the first step.
func DelayForGrade(delays []float64, left int) int {
	left %= 1000
	idx := len(delays) - left
	var delay float64
	switch {
	case left > 0 && idx >= 0 && idx < len(delays):
		delay = delays[idx]
	case len(delays) > 0:
		delay = delays[0]
	default:
		delay = dummyStepMinutes
	}
	return int(delay * 60)
}

// DelayForRepeatingGrade is the delay for Hard during learning: halfway
// between the current step and the next one, or between the current step and
// twice its length when there is no next step.
func DelayForRepeatingGrade(delays []float64, left int) int {
	delay1 := DelayForGrade(delays, left)
	delay2 := delay1 * 2
	if len(delays) > 1 {
		delay2 = DelayForGrade(delays, left-1)
	}
	return (delay1 + max(delay1, delay2)) / 2
}

// LeftToday counts how many of the last `left` steps can be completed before
// cutoff when started at now. At least one step is always allowed.
func LeftToday(delays []float64, left int, now, cutoff int64) int {
	if left > 0 && left < len(delays) {
		delays = delays[len(delays)-left:]
	}
	ok := 0
	for i, d := range delays {
		now += int64(d * 60)
		if now > cutoff {
			break
		}
		ok = i
	}
	return ok + 1
}

// StartingLeft encodes the full step list as a fresh Left value.
func StartingLeft(delays []float64, now, cutoff int64) int {
	total := len(delays)
	return total + LeftToday(delays, total, now, cutoff)*1000
}

// StepFuzz returns extra seconds added to an intraday step: up to five
// minutes or a quarter of the delay, whichever is smaller.
func StepFuzz(delay int, rng *rand.Rand) int {
	if rng == nil {
		return 0
	}
	maxExtra := min(300, delay/4)
	return rng.Intn(max(1, maxExtra))
}

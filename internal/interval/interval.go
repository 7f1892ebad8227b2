// Package interval computes review intervals, learning-step delays and fuzz.
//
// Every function is pure apart from the optional *rand.Rand; passing nil
// disables fuzzing so that estimates and tests are deterministic.
package interval

import (
	"math"
	"math/rand"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// MinFactor is the lowest ease factor a card can reach, in permille.
const MinFactor = 1300

// factorDelta is the ease-factor change for Hard, Good and Easy.
var factorDelta = map[domain.Ease]int{
	domain.Hard: -150,
	domain.Good: 0,
	domain.Easy: 150,
}

// FuzzRange returns the inclusive range a target interval is fuzzed within.
// Intervals below two days are never fuzzed; two days may become three;
// above that the spread is 25% under a week, 15% (at least 2) under a month
// and 5% (at least 4) beyond.
func FuzzRange(ivl int) (lo, hi int) {
	if ivl < 2 {
		return 1, 1
	}
	if ivl == 2 {
		return 2, 3
	}
	var fuzz int
	switch {
	case ivl < 7:
		fuzz = int(float64(ivl) * 0.25)
	case ivl < 30:
		fuzz = max(2, int(float64(ivl)*0.15))
	default:
		fuzz = max(4, int(float64(ivl)*0.05))
	}
	fuzz = max(fuzz, 1)
	return ivl - fuzz, ivl + fuzz
}

// Fuzz draws uniformly from FuzzRange(ivl). A nil rng returns ivl unchanged.
func Fuzz(ivl int, rng *rand.Rand) int {
	if rng == nil {
		return ivl
	}
	lo, hi := FuzzRange(ivl)
	return lo + rng.Intn(hi-lo+1)
}

// Constrain scales x by the interval modifier, fuzzes it, then keeps it
// strictly above prev, at least one day, and at most the maximum interval.
// Fuzz happens before the floor so that a later button can never land on or
// below an earlier one.
func Constrain(x float64, conf domain.RevConfig, prev int, rng *rand.Rand) int {
	ivl := int(math.Round(x * conf.IvlFct))
	ivl = Fuzz(ivl, rng)
	ivl = max(ivl, prev+1, 1)
	return min(ivl, conf.MaxIvl)
}

// DaysLate is how many days after its due day a review card is answered.
// Cards borrowed by a filtered deck are measured against their original due.
func DaysLate(card *domain.Card, today int64) int {
	due := card.Due
	if card.IsFiltered() {
		due = card.OriginalDue
	}
	return int(max(0, today-due))
}

// Review returns the next interval for a review card answered on time or late.
func Review(card *domain.Card, ease domain.Ease, conf domain.RevConfig, today int64, rng *rand.Rand) int {
	late := DaysLate(card, today)
	fct := float64(card.Factor) / 1000
	hardMin := 0
	if conf.HardFactor > 1 {
		hardMin = card.Interval
	}
	hard := Constrain(float64(card.Interval)*conf.HardFactor, conf, hardMin, rng)
	if ease == domain.Hard {
		return hard
	}
	good := Constrain(float64(card.Interval+late/2)*fct, conf, hard, rng)
	if ease == domain.Good {
		return good
	}
	return Constrain(float64(card.Interval+late)*fct*conf.Ease4, conf, good, rng)
}

// EarlyReview returns the next interval for a review card studied ahead of
// schedule in a filtered deck. Elapsed time replaces lateness.
func EarlyReview(card *domain.Card, ease domain.Ease, conf domain.RevConfig, today int64) int {
	elapsed := float64(card.Interval) - float64(card.OriginalDue-today)
	easyBonus := 1.0
	minNewIvl := 1.0
	var factor float64
	switch ease {
	case domain.Hard:
		factor = conf.HardFactor
		minNewIvl = factor / 2
	case domain.Good:
		factor = float64(card.Factor) / 1000
	default:
		factor = float64(card.Factor) / 1000
		easyBonus = conf.Ease4 - (conf.Ease4-1)/2
	}
	ivl := math.Max(elapsed*factor, 1)
	ivl = math.Max(float64(card.Interval)*minNewIvl, ivl) * easyBonus
	return Constrain(ivl, conf, 0, nil)
}

// Lapse returns the interval a forgotten review card keeps.
func Lapse(ivl int, conf domain.LapseConfig) int {
	return max(1, conf.MinInt, int(float64(ivl)*conf.Mult))
}

// NextFactor applies the per-button ease-factor change, floored at MinFactor.
func NextFactor(factor int, ease domain.Ease) int {
	return max(MinFactor, factor+factorDelta[ease])
}

// LapseFactor is the ease factor after a lapse.
func LapseFactor(factor int) int {
	return max(MinFactor, factor-200)
}

// Graduating returns the interval a learning card graduates with. Relearning
// cards resume their post-lapse interval, plus a day when graduated early.
func Graduating(card *domain.Card, conf domain.NewConfig, early bool, rng *rand.Rand) int {
	if card.Type == domain.TypeReview || card.Type == domain.TypeRelearning {
		if early {
			return card.Interval + 1
		}
		return card.Interval
	}
	ideal := conf.Ints[0]
	if early {
		ideal = conf.Ints[1]
	}
	return Fuzz(ideal, rng)
}

// IsLeech reports whether a card that has just lapsed for the lapses-th time
// crosses the leech threshold: first at leechFails, then every
// max(leechFails/2, 1) lapses after that. A zero threshold disables detection.
func IsLeech(lapses, leechFails int) bool {
	if leechFails <= 0 || lapses < leechFails {
		return false
	}
	return (lapses-leechFails)%max(leechFails/2, 1) == 0
}

package domain

import (
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// LeechAction decides what happens to a card once it is detected as a leech.
type LeechAction int

const (
	LeechSuspend LeechAction = iota
	LeechTagOnly
)

// NewConfig holds the settings for cards that have never been reviewed.
type NewConfig struct {
	Delays        []float64 `json:"delays" validate:"dive,gt=0"` // minutes
	Ints          [2]int    `json:"ints" validate:"dive,min=1"`  // graduating good, easy
	InitialFactor int       `json:"initialFactor" validate:"min=1300"`
	PerDay        int       `json:"perDay" validate:"min=0"`
	Bury          bool      `json:"bury"`
}

// LapseConfig holds the settings for review cards that were forgotten.
type LapseConfig struct {
	Delays      []float64   `json:"delays" validate:"dive,gt=0"`
	Mult        float64     `json:"mult" validate:"min=0,max=1"`
	MinInt      int         `json:"minInt" validate:"min=1"`
	LeechFails  int         `json:"leechFails" validate:"min=0"`
	LeechAction LeechAction `json:"leechAction" validate:"oneof=0 1"`
}

// RevConfig holds the settings for graduated cards.
type RevConfig struct {
	PerDay     int     `json:"perDay" validate:"min=0"`
	Ease4      float64 `json:"ease4" validate:"min=1,max=5"`
	MaxIvl     int     `json:"maxIvl" validate:"min=1"`
	IvlFct     float64 `json:"ivlFct" validate:"gt=0,max=10"`
	HardFactor float64 `json:"hardFactor" validate:"gt=0,max=3"`
	Bury       bool    `json:"bury"`
}

// DeckConfig is an options group shared by one or more normal decks.
type DeckConfig struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	New              NewConfig   `json:"new"`
	Lapse            LapseConfig `json:"lapse"`
	Rev              RevConfig   `json:"rev"`
	MaxAnswerSeconds int         `json:"maxTaken" validate:"min=1"`
	Mod              int64       `json:"mod"`
}

// DefaultDeckConfig returns the options group every collection starts with.
func DefaultDeckConfig() *DeckConfig {
	return &DeckConfig{
		ID:   DefaultConfigID,
		Name: "Default",
		New: NewConfig{
			Delays:        []float64{1, 10},
			Ints:          [2]int{1, 4},
			InitialFactor: 2500,
			PerDay:        20,
		},
		Lapse: LapseConfig{
			Delays:      []float64{10},
			Mult:        0,
			MinInt:      1,
			LeechFails:  8,
			LeechAction: LeechTagOnly,
		},
		Rev: RevConfig{
			PerDay:     200,
			Ease4:      1.3,
			MaxIvl:     36500,
			IvlFct:     1,
			HardFactor: 1.2,
		},
		MaxAnswerSeconds: 60,
	}
}

// Clone returns a deep copy of the config.
func (c *DeckConfig) Clone() *DeckConfig {
	out := *c
	out.New.Delays = slices.Clone(c.New.Delays)
	out.Lapse.Delays = slices.Clone(c.Lapse.Delays)
	return &out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var indexSuffix = regexp.MustCompile(`\[\d+\]$`)

// fieldDefaults resets a single field to its default value.
var fieldDefaults = map[string]func(c, def *DeckConfig){
	"New.Delays":        func(c, def *DeckConfig) { c.New.Delays = def.New.Delays },
	"New.Ints":          func(c, def *DeckConfig) { c.New.Ints = def.New.Ints },
	"New.InitialFactor": func(c, def *DeckConfig) { c.New.InitialFactor = def.New.InitialFactor },
	"New.PerDay":        func(c, def *DeckConfig) { c.New.PerDay = def.New.PerDay },
	"Lapse.Delays":      func(c, def *DeckConfig) { c.Lapse.Delays = def.Lapse.Delays },
	"Lapse.Mult":        func(c, def *DeckConfig) { c.Lapse.Mult = def.Lapse.Mult },
	"Lapse.MinInt":      func(c, def *DeckConfig) { c.Lapse.MinInt = def.Lapse.MinInt },
	"Lapse.LeechFails":  func(c, def *DeckConfig) { c.Lapse.LeechFails = def.Lapse.LeechFails },
	"Lapse.LeechAction": func(c, def *DeckConfig) { c.Lapse.LeechAction = def.Lapse.LeechAction },
	"Rev.PerDay":        func(c, def *DeckConfig) { c.Rev.PerDay = def.Rev.PerDay },
	"Rev.Ease4":         func(c, def *DeckConfig) { c.Rev.Ease4 = def.Rev.Ease4 },
	"Rev.MaxIvl":        func(c, def *DeckConfig) { c.Rev.MaxIvl = def.Rev.MaxIvl },
	"Rev.IvlFct":        func(c, def *DeckConfig) { c.Rev.IvlFct = def.Rev.IvlFct },
	"Rev.HardFactor":    func(c, def *DeckConfig) { c.Rev.HardFactor = def.Rev.HardFactor },
	"MaxAnswerSeconds":  func(c, def *DeckConfig) { c.MaxAnswerSeconds = def.MaxAnswerSeconds },
}

// Validate checks every field against its allowed range.
func (c *DeckConfig) Validate() error {
	return validate.Struct(c)
}

// Sanitize replaces every invalid field with its default and returns the
// names of the fields it reset.
func (c *DeckConfig) Sanitize() []string {
	err := c.Validate()
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	def := DefaultDeckConfig()
	if !errors.As(err, &verrs) {
		*c = *def
		return []string{"*"}
	}
	var reset []string
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.StructNamespace(), "DeckConfig.")
		field = indexSuffix.ReplaceAllString(field, "")
		fix, ok := fieldDefaults[field]
		if !ok || slices.Contains(reset, field) {
			continue
		}
		fix(c, def)
		reset = append(reset, field)
	}
	return reset
}

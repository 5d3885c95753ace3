package liveness

import "math/rand"

// actions lists every issuable challenge action.
var actions = []Action{ActionBlink, ActionSmile, ActionTurnLeft, ActionTurnRight}

// Generator produces randomized challenges, never repeating the
// immediately preceding action, so a pre-recorded clip of one action
// cannot satisfy two prompts in a row.
type Generator struct {
	rng     *rand.Rand
	last    Action
	hasLast bool
}

// NewGenerator creates a generator seeded for reproducible sequences
// in tests; production callers seed from the clock.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Next returns the next challenge.
func (g *Generator) Next() Challenge {
	for {
		action := actions[g.rng.Intn(len(actions))]
		if g.hasLast && action == g.last {
			continue
		}
		g.last = action
		g.hasLast = true
		return Challenge{Action: action, Prompt: action.Prompt()}
	}
}

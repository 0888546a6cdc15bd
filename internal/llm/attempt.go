package llm

import (
	"fmt"

	"github.com/alan/changelog-gen/internal/prompt"
)

// State tracks where a generation attempt is in its lifecycle
type State string

const (
	// StateRequested means calls are being issued
	StateRequested State = "requested"
	// StateValidating means a raw response is being checked
	StateValidating State = "validating"
	// StateRepairing means the single repair re-prompt is in flight
	StateRepairing State = "repairing"
	// StateAccepted is terminal: a validated draft was produced
	StateAccepted State = "accepted"
	// StateFallbackUsed is terminal: the deterministic fallback was returned
	StateFallbackUsed State = "fallback-used"
)

var validTransitions = map[State][]State{
	StateRequested:  {StateValidating, StateFallbackUsed},
	StateValidating: {StateAccepted, StateRepairing, StateFallbackUsed},
	StateRepairing:  {StateValidating, StateFallbackUsed},
}

// Attempt records one generation attempt for observability
type Attempt struct {
	Strategy     prompt.Strategy `json:"strategy"`
	State        State           `json:"state"`
	Succeeded    bool            `json:"succeeded"`
	FallbackUsed bool            `json:"fallback_used"`
	CacheHit     bool            `json:"cache_hit"`
	Repaired     bool            `json:"repaired"`
	TokensIn     int             `json:"tokens_in"`
	TokensOut    int             `json:"tokens_out"`
	Error        string          `json:"error,omitempty"`
}

// newAttempt starts an attempt in the requested state
func newAttempt(strategy prompt.Strategy) *Attempt {
	return &Attempt{Strategy: strategy, State: StateRequested}
}

// transition moves the attempt to the next state, rejecting moves the
// state machine does not define.
func (a *Attempt) transition(next State) error {
	for _, allowed := range validTransitions[a.State] {
		if allowed == next {
			a.State = next
			switch next {
			case StateAccepted:
				a.Succeeded = true
			case StateFallbackUsed:
				a.FallbackUsed = true
			case StateRepairing:
				a.Repaired = true
			}
			return nil
		}
	}
	return fmt.Errorf("invalid attempt transition %s -> %s", a.State, next)
}

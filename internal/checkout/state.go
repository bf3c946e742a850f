package checkout

import (
	"fmt"
	"sync"

	"checkout-service/internal/apperr"
)

// Phase is a state of the checkout state machine.
type Phase string

const (
	PhaseIdle                     Phase = "IDLE"
	PhaseCalculating              Phase = "CALCULATING"
	PhaseReady                    Phase = "READY"
	PhaseCalculationError         Phase = "CALCULATION_ERROR"
	PhaseAuthorizing              Phase = "AUTHORIZING"
	PhaseAuthorized               Phase = "AUTHORIZED"
	PhaseAuthorizationFailed      Phase = "AUTHORIZATION_FAILED"
	PhaseCommitting               Phase = "COMMITTING"
	PhaseCommitted                Phase = "COMMITTED"
	PhaseCommitFailedAfterPayment Phase = "COMMIT_FAILED_AFTER_PAYMENT"
)

// validNext lists the allowed transitions. A priced quote can be
// recalculated at any time before authorization starts; a failed
// authorization returns to the quote it was attempted with.
var validNext = map[Phase][]Phase{
	PhaseIdle:                {PhaseCalculating},
	PhaseCalculating:         {PhaseCalculating, PhaseReady, PhaseCalculationError},
	PhaseReady:               {PhaseCalculating, PhaseAuthorizing},
	PhaseCalculationError:    {PhaseCalculating},
	PhaseAuthorizing:         {PhaseAuthorized, PhaseAuthorizationFailed},
	PhaseAuthorized:          {PhaseCommitting},
	PhaseAuthorizationFailed: {PhaseReady, PhaseCalculating},
	PhaseCommitting:          {PhaseCommitted, PhaseCommitFailedAfterPayment},
	PhaseCommitted:           {PhaseIdle},
	// Requires manual reconciliation; nothing leaves this state automatically.
	PhaseCommitFailedAfterPayment: {},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Phase) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether p ends a checkout attempt.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCommitted, PhaseCommitFailedAfterPayment, PhaseAuthorizationFailed, PhaseCalculationError:
		return true
	}
	return false
}

// Tracker records the phase of a single checkout attempt and rejects
// transitions the state machine does not allow.
type Tracker struct {
	mu      sync.Mutex
	phase   Phase
	history []Phase
}

func NewTracker(start Phase) *Tracker {
	return &Tracker{phase: start, history: []Phase{start}}
}

func (t *Tracker) Advance(to Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.phase, to) {
		return fmt.Errorf("invalid checkout transition %s -> %s", t.phase, to)
	}
	t.phase = to
	t.history = append(t.history, to)
	return nil
}

func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// History returns the phases visited, oldest first.
func (t *Tracker) History() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Phase, len(t.history))
	copy(out, t.history)
	return out
}

// PhaseOf maps the result of a checkout attempt to the phase it ended in.
func PhaseOf(err error) Phase {
	switch apperr.KindOf(err) {
	case apperr.KindNone:
		return PhaseCommitted
	case apperr.KindCommitFailedAfterPayment:
		return PhaseCommitFailedAfterPayment
	case apperr.KindStillCalculating:
		return PhaseCalculating
	case apperr.KindCalculation:
		return PhaseCalculationError
	case apperr.KindInvalidInput:
		return PhaseReady
	default:
		return PhaseAuthorizationFailed
	}
}

package nfc

import (
	"fmt"

	libnfc "github.com/clausecker/nfc/v2"
)

// OutcomeKind tags the result of a single poll call.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeOne
	OutcomeError
	OutcomeUnsupported
)

// PollOutcome is the classified result of one poll call.
type PollOutcome struct {
	Kind   OutcomeKind
	Target libnfc.Target // set for OutcomeOne
	Err    error         // set for OutcomeError
	Count  int           // set for OutcomeUnsupported
}

// NoTarget is the outcome of a poll that found nothing.
func NoTarget() PollOutcome {
	return PollOutcome{Kind: OutcomeNone}
}

// OneTarget is the outcome of a poll that found exactly one target.
func OneTarget(t libnfc.Target) PollOutcome {
	return PollOutcome{Kind: OutcomeOne, Target: t}
}

// PollError is the outcome of a poll that failed in the driver.
func PollError(err error) PollOutcome {
	return PollOutcome{Kind: OutcomeError, Err: err}
}

// UnsupportedCount is the outcome of a poll whose result count was out of range.
func UnsupportedCount(n int) PollOutcome {
	return PollOutcome{Kind: OutcomeUnsupported, Count: n}
}

// pollResult classifies the (count, target, error) triple returned by a
// libnfc poll.
func pollResult(n int, target libnfc.Target, err error) PollOutcome {
	switch {
	case err != nil:
		return PollError(err)
	case n == 0:
		return NoTarget()
	case n == 1 && target != nil:
		return OneTarget(target)
	case n == 1:
		// libnfc reported a target but filled nothing in.
		return NoTarget()
	default:
		return UnsupportedCount(n)
	}
}

func (o PollOutcome) String() string {
	switch o.Kind {
	case OutcomeNone:
		return "none"
	case OutcomeOne:
		return fmt.Sprintf("one(%v)", o.Target.Modulation())
	case OutcomeError:
		return fmt.Sprintf("error(%v)", o.Err)
	case OutcomeUnsupported:
		return fmt.Sprintf("unsupported(%d)", o.Count)
	default:
		return "invalid"
	}
}

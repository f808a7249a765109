package pending

import (
	"context"
	"errors"
)

// Outcome says how a bounded wait ended.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeRejected  Outcome = "rejected"
)

// Classify maps the error returned by Wait to an Outcome. A cancelled
// caller context counts as a timeout since the event may still arrive.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeConfirmed
	case errors.Is(err, ErrTimedOut), errors.Is(err, context.Canceled):
		return OutcomeTimedOut
	}
	return OutcomeRejected
}

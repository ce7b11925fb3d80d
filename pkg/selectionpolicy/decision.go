package selectionpolicy

import "fmt"

// Check names the policy check that produced a rejection.
type Check string

const (
	CheckWellFormed Check = "wellformed"
	CheckRuntime    Check = "runtime"
	CheckIdentity   Check = "identity"
	CheckPrecedence Check = "precedence"
	CheckFilter     Check = "filter"
)

// Decision is the outcome of a loader evaluation. Check and Reason are empty when Load is true.
type Decision struct {
	Load   bool
	Check  Check
	Reason error
}

func accept() Decision {
	return Decision{Load: true}
}

func reject(check Check, reason error) Decision {
	return Decision{Check: check, Reason: reason}
}

func (d Decision) String() string {
	if d.Load {
		return "load"
	}
	return fmt.Sprintf("skip (%s: %v)", d.Check, d.Reason)
}

// recoverDecision turns a panic inside an evaluation into a rejection.
func recoverDecision(d *Decision) {
	if r := recover(); r != nil {
		*d = reject(CheckWellFormed, fmt.Errorf("%w: %v", ErrEvaluation, r))
	}
}

package selectionpolicy

import "errors"

// Reasons attached to a rejecting Decision. They never escape ShouldLoadNewUpdate.
var (
	ErrNilCandidate     = errors.New("candidate update is missing")
	ErrMalformedRecord  = errors.New("malformed update record")
	ErrRuntimeMismatch  = errors.New("runtime version is not compatible")
	ErrAlreadyLaunched  = errors.New("candidate is the launched update")
	ErrNotPreferred     = errors.New("candidate does not take precedence over the launched update")
	ErrFilterMismatch   = errors.New("candidate does not satisfy filters")
	ErrUnknownDirective = errors.New("unknown filter directive")
	ErrEvaluation       = errors.New("policy evaluation failed")
)

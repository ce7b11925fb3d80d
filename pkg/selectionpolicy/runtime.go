package selectionpolicy

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// checkRuntime accepts an exact runtime version match, or, when the filters carry
// DirectiveRuntimeVersionRange, running and candidate versions that both fall in the range.
func checkRuntime(running, candidate string, filters FilterSet) error {
	expr, ranged := filters[DirectiveRuntimeVersionRange]
	if !ranged {
		if candidate == "" || candidate != running {
			return fmt.Errorf("%w: candidate %q, running %q", ErrRuntimeMismatch, candidate, running)
		}
		return nil
	}

	inRange, err := semver.ParseRange(strings.TrimSpace(expr))
	if err != nil {
		return fmt.Errorf("%w: unsupported range %q: %v", ErrRuntimeMismatch, expr, err)
	}

	for _, v := range []string{running, candidate} {
		sv, err := semver.ParseTolerant(v)
		if err != nil {
			return fmt.Errorf("%w: %q is not a semantic version", ErrRuntimeMismatch, v)
		}
		if !inRange(sv) {
			return fmt.Errorf("%w: %s is outside %q", ErrRuntimeMismatch, v, expr)
		}
	}

	return nil
}

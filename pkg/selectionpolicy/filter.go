package selectionpolicy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"k8s.io/utils/lru"
)

// Filter value encodings. A value without a prefix is matched exactly.
const (
	// PrefixExact forces exact matching, for literals that start with another prefix.
	PrefixExact = "eq:"

	// PrefixRegexp matches when the whole metadata value matches the RE2 pattern.
	PrefixRegexp = "re:"

	// PrefixCEL evaluates a boolean CEL expression over `value` and `metadata`.
	PrefixCEL = "cel:"
)

// celCostLimit bounds the work of one expression evaluation.
const celCostLimit = 10000

// compiledCacheSize caps each compiled filter cache. Filter values arrive with remote
// manifests, so the caches evict instead of growing with every distinct value.
const compiledCacheSize = 256

var (
	regexpCache     = lru.New(compiledCacheSize)
	celProgramCache = lru.New(compiledCacheSize)
)

var newCELEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("value", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
	)
})

// matchFilters requires every predicate key to be present in metadata and to satisfy its
// filter value.
func matchFilters(metadata map[string]string, filters FilterSet) error {
	if err := filters.checkDirectives(); err != nil {
		return err
	}

	for _, key := range filters.predicateKeys() {
		want := filters[key]
		got, ok := metadata[key]
		if !ok {
			return fmt.Errorf("%w: metadata has no %q", ErrFilterMismatch, key)
		}

		matched, err := matchValue(got, want, metadata)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrFilterMismatch, key, err)
		}
		if !matched {
			return fmt.Errorf("%w: %s=%q does not satisfy %q", ErrFilterMismatch, key, got, want)
		}
	}

	return nil
}

func matchValue(got, want string, metadata map[string]string) (bool, error) {
	switch {
	case strings.HasPrefix(want, PrefixExact):
		return got == strings.TrimPrefix(want, PrefixExact), nil
	case strings.HasPrefix(want, PrefixRegexp):
		re, err := loadOrCompileRegexp(strings.TrimPrefix(want, PrefixRegexp))
		if err != nil {
			return false, err
		}
		return re.MatchString(got), nil
	case strings.HasPrefix(want, PrefixCEL):
		return evalCEL(strings.TrimPrefix(want, PrefixCEL), got, metadata)
	default:
		return got == want, nil
	}
}

func loadOrCompileRegexp(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexpCache.Get(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	// The bare pattern must compile on its own, otherwise a stray ")" can close the
	// anchoring group and leave an unanchored alternative behind.
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, err
	}
	regexpCache.Add(pattern, re)
	return re, nil
}

func evalCEL(expr, value string, metadata map[string]string) (bool, error) {
	program, err := loadOrCompileProgram(expr)
	if err != nil {
		return false, err
	}

	if metadata == nil {
		metadata = map[string]string{}
	}

	out, _, err := program.Eval(map[string]any{
		"value":    value,
		"metadata": metadata,
	})
	if err != nil {
		return false, err
	}

	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("expression did not produce a bool")
	}
	return v, nil
}

func loadOrCompileProgram(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := celProgramCache.Get(expr); ok {
		return cached.(cel.Program), nil
	}

	env, err := newCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression output type is %s, want bool", ast.OutputType())
	}

	program, err := env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, err
	}
	celProgramCache.Add(expr, program)
	return program, nil
}

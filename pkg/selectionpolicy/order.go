package selectionpolicy

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/blang/semver/v4"
)

// compareRecords orders a against b: positive when a takes precedence.
//
// Without DirectiveOrderBy newer CreatedAt wins. With it, the named metadata values are
// compared numerically when both parse as numbers, as semantic versions when both parse as
// versions, and lexicographically otherwise. A key prefixed with OrderBySemver always compares
// as semantic versions. Both records must carry the key.
func compareRecords(a, b *UpdateRecord, filters FilterSet) (int, error) {
	key, ok := filters[DirectiveOrderBy]
	if !ok {
		return a.CreatedAt.Compare(b.CreatedAt), nil
	}

	av, err := orderingValue(a, key)
	if err != nil {
		return 0, err
	}
	bv, err := orderingValue(b, key)
	if err != nil {
		return 0, err
	}

	if strings.HasPrefix(key, OrderBySemver) {
		return semver.MustParse(av).Compare(semver.MustParse(bv)), nil
	}
	return compareValues(av, bv), nil
}

// orderingValue returns the ordering value of r for an @orderBy key. Values of an
// OrderBySemver key are returned normalized to a full semantic version.
func orderingValue(r *UpdateRecord, key string) (string, error) {
	key, asVersion := strings.CutPrefix(key, OrderBySemver)
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty %s", ErrMalformedRecord, DirectiveOrderBy)
	}
	v, ok := r.Metadata[key]
	if !ok {
		return "", fmt.Errorf("%w: %s has no ordering key %q", ErrMalformedRecord, r.ID, key)
	}
	if !asVersion {
		return v, nil
	}

	ver, err := semver.ParseTolerant(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s ordering key %q is not a version: %v", ErrMalformedRecord, r.ID, key, err)
	}
	return ver.String(), nil
}

func compareValues(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		return cmp.Compare(fa, fb)
	}

	va, errA := semver.ParseTolerant(a)
	vb, errB := semver.ParseTolerant(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}

	return strings.Compare(a, b)
}

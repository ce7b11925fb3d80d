package selectionpolicy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchFilters(t *testing.T) {
	meta := map[string]string{
		"channel": "beta",
		"branch":  "release/45",
		"rollout": "30",
		"literal": "re:abc",
	}

	tests := []struct {
		name    string
		filters FilterSet
		want    bool
	}{
		{"empty", FilterSet{}, true},
		{"nil", nil, true},
		{"exact", FilterSet{"channel": "beta"}, true},
		{"exact mismatch", FilterSet{"channel": "stable"}, false},
		{"missing key", FilterSet{"region": "eu"}, false},
		{"explicit exact literal", FilterSet{"literal": "eq:re:abc"}, true},
		{"regexp full match", FilterSet{"branch": "re:release/[0-9]+"}, true},
		{"regexp is anchored", FilterSet{"branch": "re:release"}, false},
		{"regexp alternation is anchored", FilterSet{"channel": "re:alpha|bet"}, false},
		{"invalid regexp", FilterSet{"branch": "re:(unclosed"}, false},
		{"unbalanced regexp cannot escape anchoring", FilterSet{"channel": "re:beta)|(x"}, false},
		{"cel on value", FilterSet{"rollout": "cel:int(value) < 50"}, true},
		{"cel false", FilterSet{"rollout": "cel:int(value) > 50"}, false},
		{"cel reads other metadata", FilterSet{"channel": `cel:value == "beta" && metadata["branch"].startsWith("release/")`}, true},
		{"cel non bool", FilterSet{"channel": "cel:value"}, false},
		{"cel compile error", FilterSet{"channel": "cel:value ==="}, false},
		{"cel runtime error", FilterSet{"channel": "cel:int(value) > 1"}, false},
		{"cel empty", FilterSet{"channel": "cel:  "}, false},
		{"directives are not predicates", FilterSet{DirectiveOrderBy: "rollout"}, true},
		{"unknown directive", FilterSet{"@shard": "3"}, false},
		{"all must match", FilterSet{"channel": "beta", "branch": "re:main"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := matchFilters(meta, tt.filters)
			assert.Equal(t, tt.want, err == nil, "err=%v", err)
		})
	}
}

func TestMatchFiltersNilMetadata(t *testing.T) {
	assert.NoError(t, matchFilters(nil, nil))
	assert.ErrorIs(t, matchFilters(nil, FilterSet{"channel": "beta"}), ErrFilterMismatch)
}

func TestMergeFilters(t *testing.T) {
	a := FilterSet{"channel": "beta", "branch": "main"}
	b := FilterSet{"channel": "stable"}

	got := MergeFilters(a, nil, b)
	assert.Equal(t, FilterSet{"channel": "stable", "branch": "main"}, got)
	assert.Equal(t, "beta", a["channel"])
}

func TestMatchFiltersUnbalancedRegexpRejectsLongerValue(t *testing.T) {
	err := matchFilters(map[string]string{"channel": "beta-nightly-unreviewed"}, FilterSet{"channel": "re:beta)|(x"})
	assert.ErrorIs(t, err, ErrFilterMismatch)
}

func TestCompiledFilterCachesAreBounded(t *testing.T) {
	meta := map[string]string{"build": "7"}
	for i := 0; i < compiledCacheSize*2; i++ {
		_ = matchFilters(meta, FilterSet{"build": fmt.Sprintf("re:%d|7", i)})
		_ = matchFilters(meta, FilterSet{"build": fmt.Sprintf("cel:value == %q", fmt.Sprint(i))})
	}

	assert.LessOrEqual(t, regexpCache.Len(), compiledCacheSize)
	assert.LessOrEqual(t, celProgramCache.Len(), compiledCacheSize)

	assert.NoError(t, matchFilters(meta, FilterSet{"build": "re:1|7"}))
}

package selectionpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ids(records []*UpdateRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestSelectUpdatesToDelete(t *testing.T) {
	u1 := rec("u1", 100, map[string]string{"build": "3"})
	u2 := rec("u2", 200, map[string]string{"build": "1"})
	u3 := rec("u3", 300, map[string]string{"build": "2"})
	launched := rec("u4", 400, map[string]string{"build": "4"})
	u5 := rec("u5", 500, map[string]string{"build": "5"})
	embedded := rec("e", 50, nil)
	embedded.IsEmbedded = true
	broken := &UpdateRecord{ID: "broken"}

	all := []*UpdateRecord{u1, u2, u3, launched, u5, embedded, broken, nil}

	tests := []struct {
		name     string
		updates  []*UpdateRecord
		launched *UpdateRecord
		filters  FilterSet
		want     []string
	}{
		{"keeps launched, newer and one older", all, launched, nil, []string{"u1", "u2"}},
		{"order by build", all, launched, FilterSet{DirectiveOrderBy: "build"}, []string{"u2", "u3"}},
		{"nothing launched", all, nil, nil, nil},
		{"only one older", []*UpdateRecord{u3, launched}, launched, nil, nil},
		{"launched is oldest", []*UpdateRecord{u1, u2}, rec("x", 10, nil), nil, nil},
	}

	var reaper KeepOneOlder
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reaper.SelectUpdatesToDelete(tt.updates, tt.launched, tt.filters)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

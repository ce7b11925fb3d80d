package selectionpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectUpdateToLaunch(t *testing.T) {
	p := NewNewestLaunchable(runtime45)

	embedded := rec("E", 10, map[string]string{"channel": "default"})
	embedded.IsEmbedded = true
	ready := rec("R", 100, map[string]string{"channel": "default", "build": "7"})
	newest := rec("N", 300, map[string]string{"channel": "beta", "build": "5"})
	pending := rec("P", 500, map[string]string{"channel": "default"})
	pending.Status = StatusPending
	failed := rec("F", 600, map[string]string{"channel": "default"})
	failed.Status = StatusFailed
	foreign := &UpdateRecord{ID: "X", CreatedAt: at(900), RuntimeVersion: "44.0", Status: StatusReady}
	broken := &UpdateRecord{ID: "Z", RuntimeVersion: runtime45, Status: StatusReady}

	all := []*UpdateRecord{embedded, ready, nil, newest, pending, failed, foreign, broken}

	tests := []struct {
		name    string
		updates []*UpdateRecord
		filters FilterSet
		want    *UpdateRecord
	}{
		{"newest ready wins", all, nil, newest},
		{"filters narrow the choice", all, FilterSet{"channel": "default"}, ready},
		{"order by build", all, FilterSet{DirectiveOrderBy: "build"}, ready},
		{"only embedded", []*UpdateRecord{embedded}, nil, embedded},
		{"nothing eligible", []*UpdateRecord{pending, failed, foreign, broken}, nil, nil},
		{"empty", nil, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.SelectUpdateToLaunch(tt.updates, tt.filters)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want.ID, got.ID)
		})
	}
}

func TestSelectionPolicyFacade(t *testing.T) {
	loader, err := New(StrategyNewest, Config{RuntimeVersion: runtime45})
	require.NoError(t, err)
	p := NewSelectionPolicy(runtime45, loader)

	a := rec("A", 100, nil)
	b := rec("B", 200, nil)

	assert.Equal(t, runtime45, p.RuntimeVersion())
	assert.True(t, p.ShouldLoadNewUpdate(b, a, nil))
	assert.Equal(t, CheckPrecedence, p.Evaluate(a, b, nil).Check)
	assert.Equal(t, "B", p.SelectUpdateToLaunch([]*UpdateRecord{a, b}, nil).ID)
	assert.Empty(t, p.SelectUpdatesToDelete([]*UpdateRecord{a, b}, b, nil))
}

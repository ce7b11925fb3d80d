package selectionpolicy

// LauncherSelectionPolicy picks which stored update to launch.
type LauncherSelectionPolicy interface {
	// SelectUpdateToLaunch returns nil when no update is eligible.
	SelectUpdateToLaunch(updates []*UpdateRecord, filters FilterSet) *UpdateRecord
}

var _ LauncherSelectionPolicy = (*NewestLaunchable)(nil)

// NewestLaunchable launches the most preferred ready update that is runtime-compatible and
// matches the filters. Ties keep the earlier entry.
type NewestLaunchable struct {
	runtimeVersion string
}

func NewNewestLaunchable(runtimeVersion string) *NewestLaunchable {
	return &NewestLaunchable{runtimeVersion: runtimeVersion}
}

func (p *NewestLaunchable) SelectUpdateToLaunch(updates []*UpdateRecord, filters FilterSet) (best *UpdateRecord) {
	defer func() {
		if recover() != nil {
			best = nil
		}
	}()

	for _, u := range updates {
		if !p.launchable(u, filters) {
			continue
		}
		if best == nil {
			best = u
			continue
		}
		if c, err := compareRecords(u, best, filters); err == nil && c > 0 {
			best = u
		}
	}

	return best
}

func (p *NewestLaunchable) launchable(u *UpdateRecord, filters FilterSet) bool {
	if u.validate() != nil || u.Status != StatusReady {
		return false
	}
	if checkRuntime(p.runtimeVersion, u.RuntimeVersion, filters) != nil {
		return false
	}
	if key, ok := filters[DirectiveOrderBy]; ok {
		if _, err := orderingValue(u, key); err != nil {
			return false
		}
	}
	return matchFilters(u.Metadata, filters) == nil
}

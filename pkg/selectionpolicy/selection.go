package selectionpolicy

// SelectionPolicy bundles the loader, launcher and reaper policies consumed by an update
// orchestrator.
type SelectionPolicy struct {
	Loader   Evaluator
	Launcher LauncherSelectionPolicy
	Reaper   ReaperSelectionPolicy

	runtimeVersion string
}

// NewSelectionPolicy pairs loader with the default launcher and reaper policies.
func NewSelectionPolicy(runtimeVersion string, loader Evaluator) *SelectionPolicy {
	return &SelectionPolicy{
		Loader:         loader,
		Launcher:       NewNewestLaunchable(runtimeVersion),
		Reaper:         KeepOneOlder{},
		runtimeVersion: runtimeVersion,
	}
}

// RuntimeVersion returns the runtime version the policies were built for.
func (p *SelectionPolicy) RuntimeVersion() string {
	return p.runtimeVersion
}

func (p *SelectionPolicy) ShouldLoadNewUpdate(candidate, launched *UpdateRecord, filters FilterSet) bool {
	return p.Loader.ShouldLoadNewUpdate(candidate, launched, filters)
}

func (p *SelectionPolicy) Evaluate(candidate, launched *UpdateRecord, filters FilterSet) Decision {
	return p.Loader.Evaluate(candidate, launched, filters)
}

func (p *SelectionPolicy) SelectUpdateToLaunch(updates []*UpdateRecord, filters FilterSet) *UpdateRecord {
	return p.Launcher.SelectUpdateToLaunch(updates, filters)
}

func (p *SelectionPolicy) SelectUpdatesToDelete(updates []*UpdateRecord, launched *UpdateRecord, filters FilterSet) []*UpdateRecord {
	return p.Reaper.SelectUpdatesToDelete(updates, launched, filters)
}

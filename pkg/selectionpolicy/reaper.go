package selectionpolicy

// ReaperSelectionPolicy picks stored updates that can be deleted.
type ReaperSelectionPolicy interface {
	SelectUpdatesToDelete(updates []*UpdateRecord, launched *UpdateRecord, filters FilterSet) []*UpdateRecord
}

var _ ReaperSelectionPolicy = (*KeepOneOlder)(nil)

// KeepOneOlder deletes every downloaded update that is older than the launched one, except
// the newest of them, which stays as a rollback target. Embedded updates and records that
// cannot be ordered are never selected.
type KeepOneOlder struct{}

func (KeepOneOlder) SelectUpdatesToDelete(updates []*UpdateRecord, launched *UpdateRecord, filters FilterSet) (doomed []*UpdateRecord) {
	defer func() {
		if recover() != nil {
			doomed = nil
		}
	}()

	if launched.validate() != nil {
		return nil
	}

	var older []*UpdateRecord
	var keep *UpdateRecord
	for _, u := range updates {
		if u.validate() != nil || u.ID == launched.ID || u.IsEmbedded {
			continue
		}
		c, err := compareRecords(u, launched, filters)
		if err != nil || c >= 0 {
			continue
		}
		older = append(older, u)
		if keep == nil {
			keep = u
		} else if c, err := compareRecords(u, keep, filters); err == nil && c > 0 {
			keep = u
		}
	}

	for _, u := range older {
		if u != keep {
			doomed = append(doomed, u)
		}
	}
	return doomed
}

// Package progress holds the pure parts of the engine: merging local and
// remote progress facts and deriving unit status from the merged view.
package progress

import "github.com/example/weekpath/pkg/models"

// Reconcile merges one local read and one remote read into a single state.
// Either side may be nil. The merge is a union: completion reported by any
// source survives, so a stale source can never un-complete a key.
func Reconcile(local, remote []models.ProgressRecord) models.MergedState {
	merged := make(models.MergedState, len(local)+len(remote))

	fold := func(recs []models.ProgressRecord, source models.Source, into models.MergedState) {
		for _, rec := range recs {
			rec.Source = source
			if cur, ok := into[rec.Key]; ok {
				into[rec.Key] = Merge(cur, rec)
				continue
			}
			into[rec.Key] = rec
		}
	}

	remoteState := make(models.MergedState, len(remote))
	fold(local, models.SourceLocal, merged)
	fold(remote, models.SourceRemote, remoteState)

	for key, r := range remoteState {
		if l, ok := merged[key]; ok {
			merged[key] = Merge(l, r)
			continue
		}
		merged[key] = r
	}
	return merged
}

// Merge picks the record that represents the key after seeing both a and b.
//
// Completed beats not completed. Between two records with the same
// completion, the later CompletedAt wins; on a tie the remote record wins,
// and on a full tie a is kept.
func Merge(a, b models.ProgressRecord) models.ProgressRecord {
	if a.Completed != b.Completed {
		if a.Completed {
			return a
		}
		return b
	}

	switch {
	case b.CompletedAt.After(a.CompletedAt):
		return b
	case a.CompletedAt.After(b.CompletedAt):
		return a
	}

	if b.Source == models.SourceRemote && a.Source != models.SourceRemote {
		return b
	}
	return a
}

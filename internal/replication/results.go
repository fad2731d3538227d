package replication

import "sort"

// SyncResult is the outcome of SyncPending.
type SyncResult struct {
	Failed    map[string]error
	Succeeded []string
	Retrying  []string // ключи, оставшиеся в очереди для следующей попытки
	Deferred  bool     // синхронизация отложена до завершения гидратации
}

// BackupResult is the outcome of SyncAll.
type BackupResult struct {
	Failed       map[string]error
	BackedUpKeys []string
	FailedKeys   []string
	SkippedKeys  []string
}

// Success reports whether no key failed.
func (r *BackupResult) Success() bool {
	return len(r.FailedKeys) == 0
}

// RestoreResult is the outcome of Restore.
type RestoreResult struct {
	Failed            map[string]error
	RestoredKeys      []string
	FailedKeys        []string
	SkippedKeys       []string
	IntegrityFailures []string
}

// Success reports whether no key failed.
func (r *RestoreResult) Success() bool {
	return len(r.FailedKeys) == 0
}

// HydrationResult is the outcome of Hydrate and ForceHydrate.
type HydrationResult struct {
	Failed            map[string]error
	HydratedKeys      []string
	UpToDateKeys      []string
	ConflictKeys      []string
	IntegrityFailures []string
}

// Success reports whether no key failed.
func (r *HydrationResult) Success() bool {
	return len(r.Failed) == 0
}

// FailedKeys returns the failed keys in sorted order.
func (r *HydrationResult) FailedKeys() []string {
	return sortedKeys(r.Failed)
}

type keyStatus int

const (
	statusUpToDate keyStatus = iota
	statusHydrated
	statusKeptLocal // конфликт разрешён в пользу локального значения
	statusFailed
)

// keyOutcome is the per-key result of hydration and restore.
type keyOutcome struct {
	err       error
	key       string
	status    keyStatus
	conflict  bool
	integrity bool
}

func newHydrationResult(outcomes []keyOutcome) *HydrationResult {
	res := &HydrationResult{Failed: make(map[string]error)}
	for _, o := range outcomes {
		switch o.status {
		case statusHydrated:
			res.HydratedKeys = append(res.HydratedKeys, o.key)
		case statusUpToDate, statusKeptLocal:
			res.UpToDateKeys = append(res.UpToDateKeys, o.key)
		case statusFailed:
			res.Failed[o.key] = o.err
		}
		if o.conflict {
			res.ConflictKeys = append(res.ConflictKeys, o.key)
		}
		if o.integrity {
			res.IntegrityFailures = append(res.IntegrityFailures, o.key)
		}
	}
	return res
}

func newRestoreResult(outcomes []keyOutcome) *RestoreResult {
	res := &RestoreResult{Failed: make(map[string]error)}
	for _, o := range outcomes {
		switch o.status {
		case statusHydrated:
			res.RestoredKeys = append(res.RestoredKeys, o.key)
		case statusFailed:
			res.FailedKeys = append(res.FailedKeys, o.key)
			res.Failed[o.key] = o.err
		default:
			res.SkippedKeys = append(res.SkippedKeys, o.key)
		}
		if o.integrity {
			res.IntegrityFailures = append(res.IntegrityFailures, o.key)
		}
	}
	return res
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

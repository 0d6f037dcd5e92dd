package scan

import "math"

// Progress summarizes how far a scan has advanced through its declared tasks.
type Progress struct {
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	Percentage     float64 `json:"percentage"`
}

// ComputeProgress derives progress from the declared task list and the
// activity ledger. It is a pure function: completed counts distinct step
// names that reached StepCompleted, so out-of-order or duplicate appends
// never decrease the result.
func ComputeProgress(declaredTasks []string, entries []*ActivityEntry) Progress {
	completed := make(map[string]struct{})
	for _, e := range entries {
		if e.Status == StepCompleted {
			completed[e.Name] = struct{}{}
		}
	}

	p := Progress{
		TotalTasks:     len(declaredTasks),
		CompletedTasks: len(completed),
	}
	if p.TotalTasks > 0 {
		pct := float64(p.CompletedTasks) / float64(p.TotalTasks) * 100
		p.Percentage = math.Round(pct*100) / 100
	}
	return p
}

// AllDeclaredTasksFinished reports whether every declared task has reached a
// terminal step status in the ledger. Scans with no declared tasks never
// auto-finish this way.
func AllDeclaredTasksFinished(declaredTasks []string, entries []*ActivityEntry) bool {
	if len(declaredTasks) == 0 {
		return false
	}

	finished := make(map[string]struct{})
	for _, e := range entries {
		if e.Status.IsTerminal() {
			finished[e.Name] = struct{}{}
		}
	}

	for _, task := range declaredTasks {
		if _, ok := finished[task]; !ok {
			return false
		}
	}
	return true
}

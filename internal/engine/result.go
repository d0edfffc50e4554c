package engine

import "time"

// Result is the full outcome of a check.
type Result struct {
	RunID      string         `json:"run_id"`
	OldRef     string         `json:"old_ref"`
	NewRef     string         `json:"new_ref"`
	Violations []Violation    `json:"violations"`
	Changes    []RegionChange `json:"changes"`
	Stats      Stats          `json:"stats"`
}

// RegionChange is a region of the new snapshot considered changed. Old is
// the content of the paired old region, nil when the region is new or could
// not be paired.
type RegionChange struct {
	Path    string   `json:"path"`
	Index   int      `json:"index"`
	Start   int      `json:"start"`
	End     int      `json:"end"`
	Targets []string `json:"targets"`
	Old     []byte   `json:"-"`
	New     []byte   `json:"-"`
}

// Stats summarizes the work done by a check.
type Stats struct {
	Files          int           `json:"files"`
	FilesRead      int           `json:"files_read"`
	Regions        int           `json:"regions"`
	ChangedRegions int           `json:"changed_regions"`
	EdgesChecked   int           `json:"edges_checked"`
	Duration       time.Duration `json:"duration_ns"`
}

// Count returns the number of violations per reason.
func (r *Result) Count() map[Reason]int {
	out := make(map[Reason]int, 4)
	for _, v := range r.Violations {
		out[v.Reason]++
	}
	return out
}

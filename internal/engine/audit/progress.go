package audit

// Progress reports pipeline advancement. Sends are best effort: a slow
// consumer misses events rather than stalling workers.
type Progress struct {
	Phase string `json:"phase"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
	Path  string `json:"path,omitempty"`
}

const (
	PhaseWalk   = "walk"
	PhaseIndex  = "index"
	PhaseDetect = "detect"
)

func notify(ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}

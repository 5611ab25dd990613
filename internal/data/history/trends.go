package history

import (
	"fmt"
	"math"
	"sort"
	"time"
)

type TrendPoint struct {
	RunID         string    `json:"run_id" yaml:"run_id"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	FindingCount  int       `json:"finding_count" yaml:"finding_count"`
	FilesModified int       `json:"files_modified" yaml:"files_modified"`
	EquityYield   float64   `json:"equity_yield" yaml:"equity_yield"`
	DeltaFindings int       `json:"delta_findings" yaml:"delta_findings"`
	DeltaYield    float64   `json:"delta_yield" yaml:"delta_yield"`
	AvgFindings   float64   `json:"avg_findings" yaml:"avg_findings"`
}

type TrendReport struct {
	Since    time.Time    `json:"since" yaml:"since"`
	Until    time.Time    `json:"until" yaml:"until"`
	Window   string       `json:"window" yaml:"window"`
	RunCount int          `json:"run_count" yaml:"run_count"`
	Points   []TrendPoint `json:"points" yaml:"points"`
}

// BuildTrend orders runs oldest first and computes per-run deltas plus a
// trailing average of finding counts over window.
func BuildTrend(runs []Run, window time.Duration) (TrendReport, error) {
	if len(runs) == 0 {
		return TrendReport{}, fmt.Errorf("no runs available")
	}
	ordered := append([]Run(nil), runs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].StartedAt.Before(ordered[j].StartedAt) })

	points := make([]TrendPoint, 0, len(ordered))
	for i, current := range ordered {
		point := TrendPoint{
			RunID:         current.ID,
			StartedAt:     current.StartedAt,
			FindingCount:  current.FindingCount,
			FilesModified: current.Report.FilesModified,
			EquityYield:   current.Report.EquityYield,
		}
		if i > 0 {
			prev := ordered[i-1]
			point.DeltaFindings = current.FindingCount - prev.FindingCount
			point.DeltaYield = round2(current.Report.EquityYield - prev.Report.EquityYield)
		}
		point.AvgFindings = round2(movingAverage(ordered, i, window))
		points = append(points, point)
	}

	return TrendReport{
		Since:    ordered[0].StartedAt,
		Until:    ordered[len(ordered)-1].StartedAt,
		Window:   window.String(),
		RunCount: len(points),
		Points:   points,
	}, nil
}

func movingAverage(runs []Run, index int, window time.Duration) float64 {
	if window <= 0 {
		return float64(runs[index].FindingCount)
	}
	cutoff := runs[index].StartedAt.Add(-window)
	total, count := 0, 0
	for i := index; i >= 0; i-- {
		if runs[i].StartedAt.Before(cutoff) {
			break
		}
		total += runs[i].FindingCount
		count++
	}
	return float64(total) / float64(count)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

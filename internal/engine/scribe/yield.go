package scribe

import "fmt"

const (
	FileYield  = 16.18
	AssetYield = 1618.0
)

// Report summarises one surgery run.
type Report struct {
	ActionsPerformed int     `json:"actions_performed" yaml:"actions_performed"`
	FilesModified    int     `json:"files_modified" yaml:"files_modified"`
	AssetsGenerated  int     `json:"assets_generated" yaml:"assets_generated"`
	EquityYield      float64 `json:"equity_yield" yaml:"equity_yield"`
}

func EquityYield(files, assets int) float64 {
	return float64(files)*FileYield + float64(assets)*AssetYield
}

func NewReport(files, assets int) Report {
	return Report{
		ActionsPerformed: files + assets,
		FilesModified:    files,
		AssetsGenerated:  assets,
		EquityYield:      EquityYield(files, assets),
	}
}

// Verify reports whether the derived fields agree with the counts.
func (r Report) Verify() error {
	want := NewReport(r.FilesModified, r.AssetsGenerated)
	if r != want {
		return fmt.Errorf("inconsistent report: got %+v, want %+v", r, want)
	}
	return nil
}

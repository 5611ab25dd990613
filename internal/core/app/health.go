package app

import (
	"context"
	"fmt"
	"time"

	"scribe/internal/shared/util"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	engine *Engine
}

func NewHealthService(engine *Engine) *HealthService {
	return &HealthService{engine: engine}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}

	cfg, auditor, scr := s.engine.components()
	if auditor == nil || scr == nil {
		status.Status = "degraded"
		status.Components["pipeline"] = "missing"
	} else {
		status.Components["pipeline"] = fmt.Sprintf("ok (%d roots, %d workers)", len(cfg.Scan.Roots), cfg.Scan.Workers)
	}

	if s.engine.store != nil {
		status.Components["history"] = "ok"
	} else if cfg.DB.Enabled {
		status.Status = "degraded"
		status.Components["history"] = "missing but enabled in config"
	} else {
		status.Components["history"] = "disabled"
	}

	if last := s.engine.LastAudit(); last != nil {
		status.Components["last_audit"] = fmt.Sprintf("ok (%d files, %d findings at %s)", last.Files, last.Findings, last.At.Format(time.RFC3339))
	} else {
		status.Components["last_audit"] = "never"
	}

	status.Components["memory"] = fmt.Sprintf("%d MB heap", util.GetHeapAllocMB())
	return status
}

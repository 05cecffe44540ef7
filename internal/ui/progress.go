package ui

import (
	"sync"
	"time"
)

// etaSmoothingFactor weights new ETA estimates against the previous one
// so per-item embedding variance does not make the ETA jump around.
const etaSmoothingFactor = 0.3

// ProgressTracker manages progress state across stages.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.Mutex
	now        func() time.Time
	stage      Stage
	current    int
	total      int
	contentID  string
	startTime  time.Time
	stageStart time.Time
	lastETA    time.Duration
	errors     int
	warnings   int
}

// ProgressStats contains a snapshot of current progress.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Progress   float64
	ETA        time.Duration
	Rate       float64 // items per second in the current stage
	ContentID  string
	ErrorCount int
	WarnCount  int
	Elapsed    time.Duration
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{now: now, stage: StageListing, startTime: t, stageStart: t}
}

// SetStage transitions to a new stage.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.contentID = ""
	p.stageStart = p.now()
	p.lastETA = 0
}

// Update updates progress within the current stage.
func (p *ProgressTracker) Update(current int, contentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if contentID != "" {
		p.contentID = contentID
	}
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Stats returns a snapshot. It advances the ETA smoothing.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	st := ProgressStats{
		Stage:      p.stage,
		Current:    p.current,
		Total:      p.total,
		ContentID:  p.contentID,
		ErrorCount: p.errors,
		WarnCount:  p.warnings,
		Elapsed:    now.Sub(p.startTime),
	}
	if p.total > 0 {
		st.Progress = min(float64(p.current)/float64(p.total), 1.0)
	}
	if elapsed := now.Sub(p.stageStart); elapsed > 0 && p.current > 0 {
		st.Rate = float64(p.current) / elapsed.Seconds()
	}
	st.ETA = p.eta(now, st.Progress)
	return st
}

// eta must be called with the lock held.
func (p *ProgressTracker) eta(now time.Time, progress float64) time.Duration {
	if progress <= 0 || progress >= 1.0 {
		return 0
	}
	elapsed := now.Sub(p.stageStart)
	remaining := time.Duration(float64(elapsed)/progress) - elapsed
	if remaining < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}
	p.lastETA = time.Duration(etaSmoothingFactor*float64(remaining) + (1-etaSmoothingFactor)*float64(p.lastETA))
	return p.lastETA
}

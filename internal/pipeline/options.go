package pipeline

import (
	"fmt"
	"time"

	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/internal/normalizer"
)

// Options controls which categories a database run extracts and how
type Options struct {
	// Categories to extract; empty means all six
	Categories []models.Category `json:"categories" mapstructure:"categories"`

	// Parallel extracts and normalizes categories concurrently
	Parallel       bool `json:"parallel" mapstructure:"parallel"`
	MaxConcurrency int  `json:"max_concurrency" mapstructure:"max_concurrency"`
}

// DefaultOptions returns sequential extraction of every category
func DefaultOptions() *Options {
	return &Options{
		Categories:     models.AllCategories(),
		MaxConcurrency: 4,
	}
}

// Validate validates the pipeline options
func (o *Options) Validate() error {
	if o.Parallel && o.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive when running in parallel, got %d", o.MaxConcurrency)
	}
	_, err := o.specs()
	return err
}

func (o *Options) specs() ([]*normalizer.CategorySpec, error) {
	categories := o.Categories
	if len(categories) == 0 {
		categories = models.AllCategories()
	}

	seen := make(map[models.Category]bool, len(categories))
	specs := make([]*normalizer.CategorySpec, 0, len(categories))
	for _, c := range categories {
		if seen[c] {
			return nil, fmt.Errorf("category %s listed more than once", c)
		}
		seen[c] = true

		spec, ok := normalizer.SpecFor(c)
		if !ok {
			return nil, fmt.Errorf("unknown category: %s", c)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Progress reports how far a run has advanced
type Progress struct {
	RunID           string        `json:"run_id"`
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called after every completed step. Callbacks may run
// on worker goroutines but never concurrently with each other.
type ProgressCallback func(*Progress)

func (p *Pipeline) initializeProgress(result *RunResult, steps int) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()

	p.progress = &Progress{
		RunID:      result.RunID,
		TotalSteps: steps,
		StartTime:  result.StartTime,
	}
}

func (p *Pipeline) advance(step string) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()

	p.progress.CompletedSteps++
	p.progress.CurrentStep = step
	p.progress.ElapsedTime = time.Since(p.progress.StartTime)
	p.progress.PercentComplete = float64(p.progress.CompletedSteps) / float64(p.progress.TotalSteps) * 100

	snapshot := *p.progress
	for _, callback := range p.progressCallbacks {
		callback(&snapshot)
	}
}

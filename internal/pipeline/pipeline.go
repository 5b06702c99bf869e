// Package pipeline runs the two anomaly workflows end to end.
//
// The database workflow extracts every configured category table,
// normalizes and deduplicates it, merges the batches into one ledger and
// runs the detector over the ledger's USD net amounts. The directory
// workflow loads a folder of spreadsheet exports and runs the detector over
// their rows. Both fail fast: the first error ends the run and no partial
// result is returned.
//
// Example usage:
//
//	p, err := pipeline.New(pipeline.Components{Source: src}, nil, log)
//	p.AddProgressCallback(func(progress *pipeline.Progress) {
//		fmt.Printf("%.0f%% %s\n", progress.PercentComplete, progress.CurrentStep)
//	})
//	result, err := p.RunDatabase(ctx)
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"transaction-anomaly-service/internal/anomaly"
	"transaction-anomaly-service/internal/extractor"
	"transaction-anomaly-service/internal/ledger"
	"transaction-anomaly-service/internal/loader"
	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/internal/normalizer"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

// Components are the stages a pipeline drives. Source is only needed by
// RunDatabase; the other stages get defaults when nil.
type Components struct {
	Source     extractor.Source
	Normalizer *normalizer.Normalizer
	Detector   *anomaly.Detector
	Loader     *loader.Loader
}

// Pipeline orchestrates extraction, normalization and detection
type Pipeline struct {
	source     extractor.Source
	normalizer *normalizer.Normalizer
	detector   *anomaly.Detector
	loader     *loader.Loader
	options    *Options
	logger     logger.Logger

	progressCallbacks []ProgressCallback
	progress          *Progress
	progressMutex     sync.Mutex
}

// Mode identifies which workflow produced a result
type Mode string

const (
	ModeDatabase  Mode = "database"
	ModeDirectory Mode = "directory"
)

// RunResult is the outcome of one pipeline run
type RunResult struct {
	RunID     string        `json:"run_id"`
	Mode      Mode          `json:"mode"`
	Source    string        `json:"source"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`

	Ledger        []*models.Transaction `json:"-"`
	Summary       *ledger.Summary       `json:"summary,omitempty"`
	CategoryStats []*normalizer.Stats   `json:"category_stats,omitempty"`
	LoaderStats   *loader.Stats         `json:"loader_stats,omitempty"`

	Observations        int                 `json:"observations"`
	SkippedObservations int                 `json:"skipped_observations"`
	Threshold           float64             `json:"threshold"`
	Aggregates          []*models.Aggregate `json:"-"`
	Anomalies           []*models.Aggregate `json:"anomalies"`
}

// New creates a pipeline
func New(components Components, options *Options, log logger.Logger) (*Pipeline, error) {
	if options == nil {
		options = DefaultOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "pipeline", options, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	detector := components.Detector
	if detector == nil {
		var err error
		detector, err = anomaly.NewDetector(nil, log)
		if err != nil {
			return nil, err
		}
	}
	norm := components.Normalizer
	if norm == nil {
		norm = normalizer.New(nil, log)
	}
	ld := components.Loader
	if ld == nil {
		ld = loader.New(log)
	}

	return &Pipeline{
		source:     components.Source,
		normalizer: norm,
		detector:   detector,
		loader:     ld,
		options:    options,
		logger:     log.WithComponent("pipeline"),
	}, nil
}

// AddProgressCallback adds a progress callback function
func (p *Pipeline) AddProgressCallback(callback ProgressCallback) {
	p.progressCallbacks = append(p.progressCallbacks, callback)
}

type categoryResult struct {
	records []*models.Transaction
	stats   *normalizer.Stats
}

// RunDatabase extracts, normalizes and merges the configured categories and
// detects anomalies in the merged ledger
func (p *Pipeline) RunDatabase(ctx context.Context) (*RunResult, error) {
	if p.source == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "source", nil,
			fmt.Errorf("no data source configured"))
	}

	specs, err := p.options.specs()
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "categories", p.options.Categories, err)
	}

	result := p.newResult(ModeDatabase, describeSource(p.source))
	log := p.logger.WithField("run_id", result.RunID)
	log.WithFields(logger.Fields{
		"categories": len(specs),
		"parallel":   p.options.Parallel,
	}).Info("Starting database run")

	p.initializeProgress(result, len(specs)+2)

	batches, err := p.extractAll(ctx, specs, log)
	if err != nil {
		log.WithError(err).Error("Database run failed")
		return nil, err
	}

	stage := logger.NewStageLogger("merge", log)
	records := make([][]*models.Transaction, len(batches))
	for i, b := range batches {
		records[i] = b.records
		result.CategoryStats = append(result.CategoryStats, b.stats)
	}
	result.Ledger = ledger.Merge(records...)
	result.Summary = ledger.Summarize(result.Ledger)
	stage.WithField("records", len(result.Ledger)).Success("Ledger merged")
	p.advance("Merged ledger")

	observations, skipped := ledger.Observations(result.Ledger)
	if err := p.detect(result, observations, skipped, log); err != nil {
		log.WithError(err).Error("Database run failed")
		return nil, err
	}

	return p.finish(result, log), nil
}

// RunDirectory loads every spreadsheet in dir and detects anomalies in the
// combined rows
func (p *Pipeline) RunDirectory(ctx context.Context, dir string) (*RunResult, error) {
	result := p.newResult(ModeDirectory, dir)
	log := p.logger.WithField("run_id", result.RunID)
	log.WithField("directory", dir).Info("Starting directory run")

	p.initializeProgress(result, 2)

	stage := logger.NewStageLogger("load", log).WithField("directory", dir)
	table, stats, err := p.loader.LoadDirectory(ctx, dir)
	if err != nil {
		stage.Fail(err, "Loading spreadsheets failed")
		return nil, err
	}
	result.LoaderStats = stats
	stage.WithField("rows", table.Len()).Success("Spreadsheets loaded")
	p.advance("Loaded spreadsheets")

	var (
		observations []models.Observation
		skipped      int
	)
	err = logger.TimedStage("observe", log, func() error {
		var err error
		observations, skipped, err = anomaly.ObservationsFromTable(table, p.detector.Config().Columns)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := p.detect(result, observations, skipped, log); err != nil {
		log.WithError(err).Error("Directory run failed")
		return nil, err
	}

	return p.finish(result, log), nil
}

func (p *Pipeline) extractAll(ctx context.Context, specs []*normalizer.CategorySpec, log logger.Logger) ([]categoryResult, error) {
	results := make([]categoryResult, len(specs))

	if !p.options.Parallel {
		for i, spec := range specs {
			if err := ctx.Err(); err != nil {
				return nil, errors.InternalError(errors.CodeCancelled, "extract", err)
			}
			r, err := p.extractCategory(ctx, spec, log)
			if err != nil {
				return nil, err
			}
			results[i] = r
			p.advance("Normalized " + spec.Category.String())
		}
		return results, nil
	}

	workers := pool.New().
		WithMaxGoroutines(p.options.MaxConcurrency).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for i, spec := range specs {
		i, spec := i, spec
		workers.Go(func(ctx context.Context) error {
			r, err := p.extractCategory(ctx, spec, log)
			if err != nil {
				return err
			}
			results[i] = r
			p.advance("Normalized " + spec.Category.String())
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.InternalError(errors.CodeCancelled, "extract", err)
	}
	return results, nil
}

func (p *Pipeline) extractCategory(ctx context.Context, spec *normalizer.CategorySpec, log logger.Logger) (categoryResult, error) {
	stage := logger.NewStageLogger("extract", log).WithFields(logger.Fields{
		"category": spec.Category.String(),
		"table":    spec.Table,
	})

	table, err := p.source.Fetch(ctx, spec.Table, spec.SourceColumns)
	if err != nil {
		stage.Fail(err, "Extraction failed")
		return categoryResult{}, errors.WrapIfNeeded(err, errors.CategoryConnection,
			errors.CodeQueryFailed, "failed to extract "+spec.Table)
	}
	stage.Step("extracted")

	records, stats, err := p.normalizer.Normalize(spec, table)
	if err != nil {
		stage.Fail(err, "Normalization failed")
		return categoryResult{}, err
	}

	stage.WithFields(logger.Fields{
		"rows":       stats.InputRows,
		"records":    stats.OutputRows,
		"duplicates": stats.DuplicatesRemoved,
	}).Success("Category processed")
	return categoryResult{records: records, stats: stats}, nil
}

func (p *Pipeline) detect(result *RunResult, observations []models.Observation, skipped int, log logger.Logger) error {
	stage := logger.NewStageLogger("detect", log)

	aggregates, anomalies, err := p.detector.Detect(observations)
	if err != nil {
		stage.Fail(err, "Detection failed")
		return err
	}

	result.Observations = len(observations)
	result.SkippedObservations = skipped
	result.Threshold = p.detector.Config().Threshold
	result.Aggregates = aggregates
	result.Anomalies = anomalies

	stage.WithFields(logger.Fields{
		"observations": len(observations),
		"skipped":      skipped,
		"aggregates":   len(aggregates),
		"anomalies":    len(result.Anomalies),
	}).Success("Anomalies detected")
	p.advance("Detected anomalies")
	return nil
}

func (p *Pipeline) newResult(mode Mode, source string) *RunResult {
	return &RunResult{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Source:    source,
		StartTime: time.Now(),
	}
}

func (p *Pipeline) finish(result *RunResult, log logger.Logger) *RunResult {
	result.Duration = time.Since(result.StartTime)
	log.WithFields(logger.Fields{
		"anomalies": len(result.Anomalies),
		"duration":  result.Duration.String(),
	}).Info("Run completed")
	return result
}

func describeSource(source extractor.Source) string {
	if s, ok := source.(interface{ Target() string }); ok {
		return s.Target()
	}
	return fmt.Sprintf("%T", source)
}

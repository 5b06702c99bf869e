package logger

import (
	"time"
)

// StageLogger logs the lifecycle of one pipeline stage with timing
type StageLogger struct {
	logger    Logger
	stage     string
	fields    Fields
	startTime time.Time
}

// NewStageLogger creates a stage logger and records the stage start
func NewStageLogger(stage string, logger Logger) *StageLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	sl := &StageLogger{
		logger:    logger.WithComponent("stage"),
		stage:     stage,
		fields:    make(Fields),
		startTime: time.Now(),
	}

	sl.logger.WithField("stage", stage).Debug("Starting stage")
	return sl
}

// WithField adds a field to every subsequent stage message
func (sl *StageLogger) WithField(key string, value interface{}) *StageLogger {
	sl.fields[key] = value
	return sl
}

// WithFields adds multiple fields to the stage context
func (sl *StageLogger) WithFields(fields Fields) *StageLogger {
	for k, v := range fields {
		sl.fields[k] = v
	}
	return sl
}

func (sl *StageLogger) merged(extra Fields) Fields {
	fields := Fields{"stage": sl.stage}
	for k, v := range sl.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// Step logs an intermediate step of the stage
func (sl *StageLogger) Step(step string) {
	sl.logger.WithFields(sl.merged(Fields{"step": step})).Debug("Stage step")
}

// Success completes the stage successfully
func (sl *StageLogger) Success(message string) {
	sl.logger.WithFields(sl.merged(Fields{
		"duration": time.Since(sl.startTime).String(),
		"status":   "success",
	})).Info(message)
}

// Fail completes the stage with an error
func (sl *StageLogger) Fail(err error, message string) {
	sl.logger.WithError(err).WithFields(sl.merged(Fields{
		"duration": time.Since(sl.startTime).String(),
		"status":   "error",
	})).Error(message)
}

// TimedStage runs fn as a named stage and logs its outcome
func TimedStage(stage string, logger Logger, fn func() error) error {
	sl := NewStageLogger(stage, logger)

	if err := fn(); err != nil {
		sl.Fail(err, "Stage failed")
		return err
	}

	sl.Success("Stage completed")
	return nil
}

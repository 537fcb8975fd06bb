// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

// Service is attached to every record as the "service" field.
const Service = "tracker-mirror"

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.InitialFields = map[string]any{"service": Service}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ForJob scopes logger to one queued job.
func ForJob(logger *zap.Logger, job catalog.Job) *zap.Logger {
	return logger.With(
		zap.String("job", job.Name),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
	)
}

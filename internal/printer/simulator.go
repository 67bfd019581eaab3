package printer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/logging"
)

// Simulator stands in for real printers during development. Each copy takes
// PerCopy to "print".
type Simulator struct {
	PerCopy time.Duration
	logger  *zap.Logger
}

func NewSimulator(perCopy time.Duration, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{PerCopy: perCopy, logger: logger.Named("printer-sim")}
}

func (s *Simulator) Execute(ctx context.Context, job *core.PrintJob) error {
	copies := job.PrintSpec.Copies
	if copies < 1 {
		copies = 1
	}

	timer := time.NewTimer(s.PerCopy * time.Duration(copies))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	s.logger.Info("simulated print finished", logging.JobID(job.ID), zap.Int("copies", copies))
	return nil
}

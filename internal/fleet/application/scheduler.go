package application

import (
	"context"
	"log"
	"time"
)

// Scheduler drives periodic global rule evaluation.
type Scheduler struct {
	evaluator *Evaluator
	interval  time.Duration
	logger    *log.Logger
}

// NewScheduler constructs a scheduler.
func NewScheduler(evaluator *Evaluator, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{evaluator: evaluator, interval: interval, logger: logger}
}

// Start begins the scheduler loop and blocks until the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.evaluator == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.evaluator.EvaluateDue(ctx); err != nil {
				s.logger.Printf("fleet: evaluation pass: %v", err)
			}
		}
	}
}

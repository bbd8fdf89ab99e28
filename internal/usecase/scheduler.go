package usecase

import (
	"context"

	"HydrophoneStreamer/internal/ports"
)

// Scheduler wires the polling driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
}

// NewScheduler returns a helper to start/stop the polling loop.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline}
}

// Start registers the pipeline cycle with the provided driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(ctx context.Context) (int, error) {
		result, err := s.pipeline.RunCycle(ctx)
		return len(result.Fetched), err
	}

	return s.driver.Start(ctx, job)
}

// Wait blocks until the driver stops on its own or is stopped.
func (s *Scheduler) Wait() error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Wait()
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

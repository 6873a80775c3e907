// Package background runs the periodic maintenance loops: calibration map
// rebuilds and response-cache cleanup.
package background

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Supervisor owns the maintenance goroutines and joins them at shutdown.
type Supervisor struct {
	tasks  []Task
	logger *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor over the given tasks.
func NewSupervisor(logger *logrus.Logger, tasks ...Task) *Supervisor {
	return &Supervisor{tasks: tasks, logger: logger}
}

// Start launches one goroutine per task.
func (s *Supervisor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
}

func (s *Supervisor) loop(ctx context.Context, task Task) {
	defer s.wg.Done()
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task.Run(ctx)
			if s.logger != nil {
				s.logger.WithField("task", task.Name).Debug("background task ran")
			}
		}
	}
}

// Stop cancels the loops and waits for them to exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

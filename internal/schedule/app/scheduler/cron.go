// Package scheduler fires configured workflows on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentflow-go/internal/domain/workflow"
	"github.com/agentflow-go/pkg/logger"
	"github.com/robfig/cron/v3"
)

// TriggeredBy is recorded on every execution started by a schedule.
const TriggeredBy = "schedule"

type WorkflowRunner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]interface{}, triggeredBy string) (*workflow.RunResult, error)
}

type Schedule struct {
	WorkflowID string
	Cron       string
	Input      map[string]interface{}
}

type CronScheduler struct {
	cron    *cron.Cron
	runner  WorkflowRunner
	logger  logger.Logger
	entries map[cron.EntryID]Schedule
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewCronScheduler accepts both five-field and six-field (with seconds)
// expressions, plus descriptors such as @hourly and @every 5m.
func NewCronScheduler(runner WorkflowRunner, log logger.Logger) *CronScheduler {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	ctx, cancel := context.WithCancel(context.Background())

	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		runner:  runner,
		logger:  log,
		entries: make(map[cron.EntryID]Schedule),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *CronScheduler) AddSchedule(sched Schedule) error {
	if sched.WorkflowID == "" {
		return errors.New("schedule has no workflow id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(sched.Cron, func() { s.fire(sched) })
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.Cron, err)
	}
	s.entries[id] = sched

	s.logger.Info("Schedule registered", "workflowId", sched.WorkflowID, "cron", sched.Cron)
	return nil
}

func (s *CronScheduler) Start() {
	s.logger.Info("Starting cron scheduler", "schedules", s.Len())
	s.cron.Start()
}

// Stop prevents new firings and waits for running ones to finish or ctx to
// expire.
func (s *CronScheduler) Stop(ctx context.Context) {
	s.logger.Info("Stopping cron scheduler")
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.cancel()
	}
}

func (s *CronScheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// NextRun returns the next firing time of every schedule of workflowID.
func (s *CronScheduler) NextRun(workflowID string) []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []time.Time
	for _, entry := range s.cron.Entries() {
		if sched, ok := s.entries[entry.ID]; ok && sched.WorkflowID == workflowID {
			out = append(out, entry.Next)
		}
	}
	return out
}

func (s *CronScheduler) fire(sched Schedule) {
	log := s.logger.With("workflowId", sched.WorkflowID, "cron", sched.Cron)

	result, err := s.runner.ExecuteWorkflow(s.ctx, sched.WorkflowID, copyInput(sched.Input), TriggeredBy)
	if err != nil {
		log.Error("Scheduled execution failed", "error", err)
		return
	}
	log.Info("Scheduled execution finished", "executionId", result.ExecutionID, "success", result.Success)
}

func copyInput(input map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

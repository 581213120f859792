package servicelifecycle

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dotmac/ispsaga/infrastructure/logging"
)

// Scheduler polls the service lifecycle orchestrator's due-date queries on
// a cron schedule using robfig/cron/v3.
type Scheduler struct {
	orch *Orchestrator
	cron *cron.Cron
	log  *logging.Logger
}

// NewScheduler builds a Scheduler around orch. Its cron parser takes a
// leading seconds field, so the specs passed to Start are six-field cron
// expressions or descriptors such as "@every 30s".
func NewScheduler(orch *Orchestrator, log *logging.Logger) *Scheduler {
	return &Scheduler{
		orch: orch,
		cron: cron.New(cron.WithSeconds()),
		log:  log,
	}
}

// Start registers the activation and termination sweeps and starts the
// underlying cron scheduler. ctx is used only for the sweep callbacks'
// own store calls, not for the cron scheduler's lifetime; call Stop to
// shut it down.
func (s *Scheduler) Start(ctx context.Context, activationSpec, terminationSpec string) error {
	if _, err := s.cron.AddFunc(activationSpec, func() { s.sweepActivations(ctx) }); err != nil {
		return fmt.Errorf("scheduler: register activation sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(terminationSpec, func() { s.sweepTerminations(ctx) }); err != nil {
		return fmt.Errorf("scheduler: register termination sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweepActivations(ctx context.Context) {
	due, err := s.orch.GetServicesDueForActivation(ctx)
	if err != nil {
		s.logWarn("activation sweep: query failed", err)
		return
	}
	for _, inst := range due {
		if _, err := s.orch.ActivateService(ctx, inst.ID, "scheduler"); err != nil {
			s.logWarn(fmt.Sprintf("activation sweep: service %s", inst.ID), err)
		}
	}
}

func (s *Scheduler) sweepTerminations(ctx context.Context) {
	due, err := s.orch.GetServicesDueForTermination(ctx)
	if err != nil {
		s.logWarn("termination sweep: query failed", err)
		return
	}
	for _, inst := range due {
		if _, err := s.orch.finalizeTermination(ctx, inst, "scheduled termination date reached", "scheduler"); err != nil {
			s.logWarn(fmt.Sprintf("termination sweep: service %s", inst.ID), err)
		}
	}
}

func (s *Scheduler) logWarn(msg string, err error) {
	if s.log == nil {
		return
	}
	s.log.WithField("error", err.Error()).Warn(msg)
}

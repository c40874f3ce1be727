package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/liamvmurphy/pokestock-sub001/config"
	"github.com/liamvmurphy/pokestock-sub001/models"
	"github.com/liamvmurphy/pokestock-sub001/monitor"
	"github.com/liamvmurphy/pokestock-sub001/storage"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Scheduler launches monitoring runs on a cron or interval schedule and
// polls the SQLite command queue so external tooling can drive the daemon
// without touching the HTTP API.
type Scheduler struct {
	cfg          *config.Config
	orchestrator *monitor.Orchestrator
	store        *storage.SQLiteStore
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}

	availabilityWorker Triggerable
	priceCheckWorker   Triggerable
	screenshotWorker   Triggerable
}

func New(cfg *config.Config, orchestrator *monitor.Orchestrator, store *storage.SQLiteStore) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
	}
}

// SetWorkers registers background workers for manual triggering
func (s *Scheduler) SetWorkers(availability, priceCheck, screenshots Triggerable) {
	s.availabilityWorker = availability
	s.priceCheckWorker = priceCheck
	s.screenshotWorker = screenshots
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.startRun(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.startRun(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// startRun kicks off a monitoring run. An overlapping schedule tick is
// dropped, not queued; the next tick will find the orchestrator idle.
func (s *Scheduler) startRun(ctx context.Context) {
	if err := s.orchestrator.Start(ctx); err != nil {
		if errors.Is(err, monitor.ErrAlreadyRunning) {
			log.Println("Scheduled run skipped: previous run still in progress")
			return
		}
		log.Printf("Scheduled run error: %v", err)
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.store.GetPendingCommands()
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.store.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdMonitorNow:
		return s.orchestrator.Start(ctx)
	case models.CmdStop:
		s.orchestrator.Stop()
		return nil
	case models.CmdSetTerms:
		params, err := s.store.ParseCommandParams(cmd)
		if err != nil {
			return err
		}
		if len(params.Terms) == 0 {
			return fmt.Errorf("set_terms command with no terms")
		}
		s.orchestrator.SetTerms(params.Terms)
		log.Printf("Search terms updated via command (%d terms)", len(params.Terms))
		return nil
	case models.CmdCheckAvailability:
		if s.availabilityWorker != nil {
			s.availabilityWorker.Trigger()
			log.Println("Availability worker triggered via command")
		}
		return nil
	case models.CmdCheckPrices:
		if s.priceCheckWorker != nil {
			s.priceCheckWorker.Trigger()
			log.Println("Price check worker triggered via command")
		}
		return nil
	case models.CmdUploadScreenshots:
		if s.screenshotWorker != nil {
			s.screenshotWorker.Trigger()
			log.Println("Screenshot worker triggered via command")
		}
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

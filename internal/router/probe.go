package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Prober runs Manager.Probe on a cron schedule.
type Prober struct {
	manager  *Manager
	schedule string
	cron     *cron.Cron
	running  bool
	mu       sync.Mutex
}

// NewProber creates a prober for the given cron expression.
func NewProber(m *Manager, schedule string) *Prober {
	return &Prober{
		manager:  m,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the probe job and starts the cron loop. ctx bounds each
// probe run.
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("health prober already running")
	}
	_, err := p.cron.AddFunc(p.schedule, func() {
		if err := p.manager.Probe(ctx); err != nil {
			log.Warn().Err(err).Msg("Scheduled model health probe failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid health probe schedule %q: %w", p.schedule, err)
	}

	p.cron.Start()
	p.running = true
	log.Info().Str("schedule", p.schedule).Msg("Model health prober started")
	return nil
}

// Stop halts the cron loop and waits for a running probe to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
	log.Info().Msg("Model health prober stopped")
}

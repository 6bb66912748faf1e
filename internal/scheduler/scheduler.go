// Package scheduler wires up the cron job that periodically looks for Active
// jobs past their deadline and notifies their clients that the deposit can
// be claimed back. Expiry itself stays lazy: the sweep never changes state.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobmate/escrow-service/internal/escrow"
)

// ExpiredJobSource lists Active jobs whose deadline has passed at now.
// *escrow.Engine implements it.
type ExpiredJobSource interface {
	ExpiredJobs(now time.Time) []escrow.Job
}

// Scheduler wraps robfig/cron and manages the expiry sweep.
type Scheduler struct {
	cron   *cron.Cron
	source ExpiredJobSource
	sink   escrow.EventSink
	clock  escrow.Clock
	spec   string // cron spec, e.g. "@every 5m"

	mu       sync.Mutex
	notified map[uint64]struct{}
}

// New creates a Scheduler that sweeps every intervalMinutes minutes.
func New(source ExpiredJobSource, sink escrow.EventSink, clock escrow.Clock, intervalMinutes int) *Scheduler {
	if clock == nil {
		clock = escrow.SystemClock
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cron.DefaultLogger), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		source:   source,
		sink:     sink,
		clock:    clock,
		spec:     fmt.Sprintf("@every %dm", intervalMinutes),
		notified: make(map[uint64]struct{}),
	}
}

// Start registers the sweep and starts the scheduler. Also runs one sweep
// immediately so jobs that expired while the service was down are reported.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started — spec: %s", s.spec)

	go s.Sweep(ctx)

	return nil
}

// Stop gracefully shuts down the scheduler and waits for a running sweep.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[scheduler] Cron stopped")
}

// Sweep publishes one EVENT_JOB_EXPIRED per newly expired job and returns
// how many were reported. Each job is reported once per process lifetime.
func (s *Scheduler) Sweep(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	jobs := s.source.ExpiredJobs(now)

	reported := 0
	for _, j := range jobs {
		if _, done := s.notified[j.ID]; done {
			continue
		}
		ev := escrow.Event{
			Type:   escrow.EventJobExpired,
			JobID:  j.ID,
			Actor:  j.Client,
			Amount: j.DepositAmount,
			At:     now,
		}
		if err := s.sink.Publish(ctx, ev); err != nil {
			log.Printf("[scheduler] publish expiry of job %d failed: %v", j.ID, err)
			continue
		}
		s.notified[j.ID] = struct{}{}
		reported++
	}

	if reported > 0 {
		log.Printf("[scheduler] Reported %d expired job(s)", reported)
	}
	return reported
}

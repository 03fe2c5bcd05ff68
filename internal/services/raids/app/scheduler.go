package app

import (
	"context"
	"errors"
	"log"
	"time"
)

// Sweep intervals and startup offsets. The offsets keep the jobs from
// colliding on the store right after boot, matching the staggered schedule
// the sweeps were designed for.
const (
	expireInterval      = time.Hour
	banInterval         = time.Hour
	autoApproveInterval = 10 * time.Minute

	expireStartDelay      = time.Minute
	banStartDelay         = 2 * time.Minute
	autoApproveStartDelay = 3 * time.Minute

	reminderInterval = 24 * time.Hour
	reminderHour     = 10
)

// reminderZone is the community's home timezone (West Africa Time). The
// daily reminder fires at 10:00 there; a fixed offset avoids depending on
// the host's tzdata.
var reminderZone = time.FixedZone("WAT", 60*60)

// nextReminderDelay reports how long until the next 10:00 WAT.
func nextReminderDelay(now time.Time) time.Duration {
	local := now.In(reminderZone)
	next := time.Date(local.Year(), local.Month(), local.Day(), reminderHour, 0, 0, 0, reminderZone)
	if !next.After(local) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(local)
}

type sweepJob struct {
	name     string
	delay    time.Duration
	interval time.Duration
	run      func(context.Context) error
}

// Scheduler drives the periodic maintenance sweeps. All jobs execute on one
// worker goroutine, so overlapping runs of the same sweep cannot happen even
// if a job outlasts its interval.
type Scheduler struct {
	service *Service
	jobs    []sweepJob
}

// NewScheduler creates a scheduler for the service's sweeps. A non-zero
// groupID adds the daily group reminder to the schedule.
func NewScheduler(service *Service, groupID int64) *Scheduler {
	scheduler := &Scheduler{
		service: service,
		jobs: []sweepJob{
			{
				name:     "expire-posts",
				delay:    expireStartDelay,
				interval: expireInterval,
				run: func(ctx context.Context) error {
					_, err := service.ExpirePosts(ctx)
					return err
				},
			},
			{
				name:     "ban-unresponsive-owners",
				delay:    banStartDelay,
				interval: banInterval,
				run: func(ctx context.Context) error {
					_, err := service.BanUnresponsiveOwners(ctx)
					return err
				},
			},
			{
				name:     "auto-approve-stale",
				delay:    autoApproveStartDelay,
				interval: autoApproveInterval,
				run: func(ctx context.Context) error {
					_, err := service.AutoApproveStalePosts(ctx)
					return err
				},
			},
		},
	}
	if groupID != 0 {
		scheduler.jobs = append(scheduler.jobs, sweepJob{
			name:     "daily-reminder",
			delay:    nextReminderDelay(service.now()),
			interval: reminderInterval,
			run: func(ctx context.Context) error {
				return service.RemindGroup(ctx, groupID)
			},
		})
	}
	return scheduler
}

// Run executes sweeps until the context is cancelled. Sweep errors are
// logged, not fatal; the next tick retries. Cancellation is the normal way
// to stop the scheduler and returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || len(s.jobs) == 0 {
		<-ctx.Done()
		return stopErr(ctx)
	}

	timers := make([]*time.Timer, len(s.jobs))
	for i, job := range s.jobs {
		timers[i] = time.NewTimer(job.delay)
	}
	defer func() {
		for _, timer := range timers {
			timer.Stop()
		}
	}()

	fired := make(chan int)
	for i := range timers {
		go func(idx int) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-timers[idx].C:
					select {
					case fired <- idx:
					case <-ctx.Done():
						return
					}
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			return stopErr(ctx)
		case idx := <-fired:
			job := s.jobs[idx]
			if err := job.run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("sweep %s: %v", job.name, err)
			}
			timers[idx].Reset(job.interval)
		}
	}
}

// stopErr maps plain cancellation to a clean shutdown; anything else, such
// as a deadline, is a real failure.
func stopErr(ctx context.Context) error {
	if err := ctx.Err(); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

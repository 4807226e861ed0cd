// Package schedule fires the daily summarization pass at a fixed time of
// day.
package schedule

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// PassFunc runs one summarization pass for a group over messages since the
// given time.
type PassFunc func(ctx context.Context, groupID string, since time.Time) error

// GroupLister lists the groups to summarize.
type GroupLister func() ([]string, error)

// Scheduler runs a pass for every group once a day.
type Scheduler struct {
	at       string
	schedule rcron.Schedule
	groups   GroupLister
	pass     PassFunc

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a scheduler firing daily at "HH:MM" local time.
func New(at string, groups GroupLister, pass PassFunc) (*Scheduler, error) {
	hour, minute, err := parseAt(at)
	if err != nil {
		return nil, err
	}
	sched, err := rcron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, fmt.Errorf("building schedule for %s: %w", at, err)
	}
	return &Scheduler{
		at:       at,
		schedule: sched,
		groups:   groups,
		pass:     pass,
		now:      time.Now,
		wait:     waitCtx,
	}, nil
}

func parseAt(at string) (int, int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(at), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid schedule time %q: want HH:MM", at)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid schedule hour in %q", at)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid schedule minute in %q", at)
	}
	return hour, minute, nil
}

// NextFire returns the first firing time strictly after now. If today's
// time has passed, that is tomorrow's.
func (s *Scheduler) NextFire(now time.Time) time.Time {
	return s.schedule.Next(now)
}

// RunDaily loops until ctx is cancelled, running every group's pass at
// each firing. A failing group is logged and does not stop the others.
func (s *Scheduler) RunDaily(ctx context.Context) error {
	log.Printf("[scheduler] Daily summaries at %s", s.at)
	for {
		now := s.now()
		next := s.NextFire(now)
		log.Printf("[scheduler] Next summary pass at %s", next.Format("2006-01-02 15:04"))

		if err := s.wait(ctx, next.Sub(now)); err != nil {
			log.Printf("[scheduler] Stopped: %v", err)
			return err
		}
		s.runAll(ctx, next)
	}
}

func (s *Scheduler) runAll(ctx context.Context, fired time.Time) {
	groups, err := s.groups()
	if err != nil {
		log.Printf("[scheduler] Listing groups failed: %v", err)
		return
	}
	since := fired.Add(-24 * time.Hour)
	for _, g := range groups {
		if ctx.Err() != nil {
			return
		}
		if err := s.pass(ctx, g, since); err != nil {
			log.Printf("[scheduler] Summary pass for %s failed: %v", g, err)
			continue
		}
		log.Printf("[scheduler] Summary pass for %s complete", g)
	}
}

func waitCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package refresh periodically re-aggregates every stored profile so the
// upstream cache stays warm and subscription feeds stay fast.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "unical/internal/log"
	"unical/internal/model"
	"unical/internal/profile"
	"unical/internal/timetable"
)

// Aggregator is the part of timetable.Aggregator the refresher needs.
type Aggregator interface {
	Fetch(ctx context.Context, timetables []model.Timetable) []model.Event
}

// Report summarizes one refresh pass for a single profile.
type Report struct {
	ProfileID string
	Events    int
	Selected  int
	Conflicts int
}

// Refresher runs refresh passes over the profile store.
type Refresher struct {
	store profile.Store
	agg   Aggregator

	// running guards against overlapping passes when a pass outlasts the
	// schedule interval.
	running sync.Mutex
}

func New(store profile.Store, agg Aggregator) *Refresher {
	return &Refresher{store: store, agg: agg}
}

// RunOnce refreshes every stored profile and returns one report per profile.
// A pass already in progress makes it return immediately with no reports.
func (r *Refresher) RunOnce(ctx context.Context) ([]Report, error) {
	if !r.running.TryLock() {
		appLog.Warn("refresh: previous pass still running; skipping")
		return nil, nil
	}
	defer r.running.Unlock()

	profiles, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	started := time.Now()
	reports := make([]Report, 0, len(profiles))
	for _, p := range profiles {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		if len(p.Timetables) == 0 {
			continue
		}
		events := r.agg.Fetch(ctx, p.Timetables)
		selected := timetable.SelectForExport(events, p.Filters, timetable.NewCourseKeySet(p.CourseKeys))
		rep := Report{
			ProfileID: p.ID,
			Events:    len(events),
			Selected:  len(selected),
			Conflicts: len(timetable.FindConflicts(selected)),
		}
		reports = append(reports, rep)
		appLog.Info("refresh: profile refreshed",
			"profile", rep.ProfileID,
			"events", rep.Events,
			"selected", rep.Selected,
			"conflicts", rep.Conflicts,
		)
	}
	appLog.Info("refresh: pass completed", "profiles", len(reports), "elapsed", time.Since(started).Round(time.Millisecond))
	return reports, nil
}

// Scheduler triggers RunOnce on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
}

// Start schedules r on spec (standard 5-field cron syntax) and starts the
// scheduler. Passes use ctx, so canceling it aborts an in-flight pass.
func Start(ctx context.Context, spec string, r *Refresher) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			appLog.Error("refresh: pass failed", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	c.Start()
	appLog.Info("refresh scheduler started", "schedule", spec)
	return &Scheduler{cron: c}, nil
}

// Stop stops scheduling and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

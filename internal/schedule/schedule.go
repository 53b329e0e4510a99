package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"schoollights/internal/config"
	appLog "schoollights/internal/log"
	"schoollights/internal/model"
	"schoollights/internal/termdates"
)

// Resolver re-resolves the term dates.
type Resolver interface {
	Resolve(ctx context.Context) (*termdates.Resolution, error)
}

// Days answers school-day questions.
type Days interface {
	Status(d model.Date) termdates.DayStatus
}

// Runner plays the morning light sequence.
type Runner interface {
	Run(ctx context.Context) error
}

// cronLogger sends robfig/cron's own logging to appLog. Its Info lines are
// per-tick noise, so they go to DEBUG.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

// Scheduler owns the two recurring jobs: the monthly re-resolve and the
// school-morning lights.
type Scheduler struct {
	cron     *cron.Cron
	resolver Resolver
	days     Days
	lights   Runner
	loc      *time.Location
	biweekly bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the jobs from cfg but does not start them.
func New(cfg config.ScheduleConfig, loc *time.Location, resolver Resolver, days Days, lights Runner) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		resolver: resolver,
		days:     days,
		lights:   lights,
		loc:      loc,
		biweekly: cfg.Biweekly,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(cfg.Refresh, func() { s.Refresh(s.ctx) }); err != nil {
		return nil, fmt.Errorf("schedule refresh %q: %w", cfg.Refresh, err)
	}
	if _, err := s.cron.AddFunc(cfg.Lights, func() { s.Morning(s.ctx, model.Today(s.loc)) }); err != nil {
		return nil, fmt.Errorf("schedule lights %q: %w", cfg.Lights, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	for _, e := range s.cron.Entries() {
		appLog.Info("job scheduled", "id", e.ID, "next", e.Schedule.Next(time.Now().In(s.loc)).Format(time.RFC3339))
	}
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Refresh re-resolves the term dates. A failure keeps the previous ranges.
func (s *Scheduler) Refresh(ctx context.Context) {
	if _, err := s.resolver.Resolve(ctx); err != nil {
		appLog.Error("scheduled term refresh failed; previous ranges kept", err)
	}
}

// Morning runs the light sequence if date qualifies. It reports whether the
// sequence was started.
func (s *Scheduler) Morning(ctx context.Context, date model.Date) bool {
	st := s.days.Status(date)
	if !st.Resolved {
		appLog.Warn("no term data yet; skipping lights", "date", date)
		return false
	}

	run := st.SchoolDay
	if s.biweekly {
		run = st.BiweeklySchoolDay
	}
	if !run {
		appLog.Info("not a school morning; lights stay off", "date", date, "school_day", st.SchoolDay, "biweekly", s.biweekly)
		return false
	}

	appLog.Info("school morning; starting lights", "date", date)
	if err := s.lights.Run(ctx); err != nil {
		appLog.Error("light sequence failed", err, "date", date)
	}
	return true
}

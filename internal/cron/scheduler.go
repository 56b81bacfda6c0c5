package cron

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/in-nis/school-portal/internal/auth"
	"github.com/in-nis/school-portal/internal/calendar"
	"github.com/in-nis/school-portal/internal/config"
)

// Purger drops expired persisted sessions.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

type PurgerFunc func(ctx context.Context, now time.Time) (int64, error)

func (f PurgerFunc) Purge(ctx context.Context, now time.Time) (int64, error) {
	return f(ctx, now)
}

type Jobs struct {
	Calendar calendar.Repository
	Registry *auth.Registry
	// Purger is optional; Redis expires keys on its own.
	Purger Purger
}

// StartJobs schedules calendar reloads, idle resolver sweeps and session
// purges. The caller stops the returned scheduler on shutdown.
func StartJobs(cfg *config.Config, jobs Jobs) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(cfg.CalendarCron, func() { ReloadCalendar(cfg, jobs.Calendar) }); err != nil {
		return nil, err
	}

	if jobs.Registry != nil {
		if _, err := c.AddFunc("@every 1m", func() {
			if n := jobs.Registry.Sweep(cfg.ResolverIdleTTL); n > 0 {
				log.Printf("🧹 Dropped %d idle login sessions", n)
			}
		}); err != nil {
			return nil, err
		}
	}

	if jobs.Purger != nil {
		if _, err := c.AddFunc("@hourly", func() {
			n, err := jobs.Purger.Purge(context.Background(), time.Now())
			if err != nil {
				log.Println("❌ Failed to purge expired sessions:", err)
				return
			}
			log.Printf("🧹 Purged %d expired sessions", n)
		}); err != nil {
			return nil, err
		}
	}

	c.Start()
	return c, nil
}

// ReloadCalendar imports the configured workbook into repo.
func ReloadCalendar(cfg *config.Config, repo calendar.Repository) {
	log.Println("Running calendar import job...")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := calendar.Reload(ctx, repo, cfg.CalendarPath, cfg.Location()); err != nil {
		log.Println("❌ Failed to import calendar:", err)
	}
}

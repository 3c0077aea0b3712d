// Package schedule repeats a job on a standard 5-field cron expression
// (minute hour day-of-month month day-of-week), for example "0 9 * * 1-5".
package schedule

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Job func(ctx context.Context) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Run waits for each activation and runs job synchronously, so runs never
// overlap; an activation missed while a job was running is skipped. Job errors
// are logged and the loop continues. Run returns when ctx is done.
func Run(ctx context.Context, expr string, loc *time.Location, job Job) error {
	sched, err := Parse(expr)
	if err != nil {
		return err
	}
	if loc == nil {
		loc = time.Local
	}
	log.Printf("schedule started (cron: %s, tz: %s)", expr, loc)
	return loop(ctx, sched, loc, job, time.Now, time.After)
}

func loop(ctx context.Context, sched cron.Schedule, loc *time.Location, job Job, now func() time.Time, after func(time.Duration) <-chan time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		current := now().In(loc)
		next := sched.Next(current)
		wait := next.Sub(current)
		log.Printf("schedule next run at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Second))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-after(wait):
		}

		if err := job(ctx); err != nil {
			log.Printf("schedule run error: %v", err)
		}
	}
}

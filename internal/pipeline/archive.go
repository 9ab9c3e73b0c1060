package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// RetentionRunner moves aged audit rows to cold storage on a schedule.
type RetentionRunner struct {
	archiver      domain.Archiver
	retentionDays int
	logger        *slog.Logger
}

// NewRetentionRunner creates a RetentionRunner.
func NewRetentionRunner(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *RetentionRunner {
	return &RetentionRunner{
		archiver:      archiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "retention")),
	}
}

// Run executes a single retention pass, archiving every event row older than
// the retention cutoff.
func (r *RetentionRunner) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	r.logger.Info("starting retention pass",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", r.retentionDays),
	)

	archived, err := r.archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving events before %v: %w", cutoff, err)
	}

	r.logger.Info("retention pass complete", slog.Int64("events_archived", archived))
	return nil
}

// RunCron runs retention passes on a 5-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is cancelled.
func (r *RetentionRunner) RunCron(ctx context.Context, cronExpr string) error {
	r.logger.Info("retention cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
		}

		r.logger.Info("retention waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", time.Until(next)),
		)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("retention cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := r.Run(ctx); err != nil {
				r.logger.Error("retention pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField is one parsed cron field: a wildcard or an explicit value list.
type cronField struct {
	wildcard bool
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var (
		parsed parsedCron
		err    error
	)
	dests := []*cronField{&parsed.minute, &parsed.hour, &parsed.dayOfMonth, &parsed.month, &parsed.dayOfWeek}
	names := []string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	for i, f := range fields {
		if *dests[i], err = parseCronField(f); err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
	}
	return parsed, nil
}

// nextCronTime finds the first minute after 'after' matching the expression,
// searching minute-by-minute up to one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}

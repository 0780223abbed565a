// Package retention purges old messages and interaction logs on a cron
// schedule. Policy lives in the settings table so operators can change it
// without a restart.
package retention

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/adhocore/gronx"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

// Settings keys read on every sweep.
const (
	settingRetentionDays = "retention_days"
	settingSweepSchedule = "retention_schedule"
)

const (
	defaultRetentionDays = 90
	defaultSchedule      = "0 3 * * *" // daily at 03:00
	tickInterval         = time.Minute
)

// Sweeper deletes messages and logs older than the retention window.
type Sweeper struct {
	messages store.MessageStore
	logs     store.LogStore
	settings store.SettingStore
	gron     *gronx.Gronx
	now      func() time.Time
}

func NewSweeper(messages store.MessageStore, logs store.LogStore, settings store.SettingStore) *Sweeper {
	return &Sweeper{
		messages: messages,
		logs:     logs,
		settings: settings,
		gron:     gronx.New(),
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, checking the schedule once per minute.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	slog.Info("retention sweeper started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			schedule := s.schedule(ctx)
			due, err := s.gron.IsDue(schedule, s.now())
			if err != nil {
				slog.Error("invalid retention schedule", "schedule", schedule, "error", err)
				continue
			}
			if due {
				s.Sweep(ctx)
			}
		}
	}
}

func (s *Sweeper) schedule(ctx context.Context) string {
	v, err := s.settings.Get(ctx, settingSweepSchedule)
	if err != nil || v == "" {
		return defaultSchedule
	}
	if !s.gron.IsValid(v) {
		slog.Warn("retention schedule setting is not valid cron, using default", "value", v)
		return defaultSchedule
	}
	return v
}

func (s *Sweeper) retentionDays(ctx context.Context) int {
	v, err := s.settings.Get(ctx, settingRetentionDays)
	if err != nil || v == "" {
		return defaultRetentionDays
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultRetentionDays
	}
	return n
}

// Sweep purges rows older than the retention window once. Exposed for the
// doctor command and tests.
func (s *Sweeper) Sweep(ctx context.Context) {
	days := s.retentionDays(ctx)
	cutoff := s.now().AddDate(0, 0, -days)

	msgs, err := s.messages.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("purge messages", "error", err)
	}
	logs, err := s.logs.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("purge logs", "error", err)
	}

	slog.Info("retention sweep complete", "cutoff", cutoff.Format(time.RFC3339), "messages_deleted", msgs, "logs_deleted", logs)
}

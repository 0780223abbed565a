package retention

import (
	"context"
	"testing"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/store"
	"github.com/zapdeskhq/zapdesk/internal/store/sqlite"
)

func sweeperFixture(t *testing.T) (*Sweeper, *store.Stores) {
	t.Helper()
	db, err := sqlite.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	stores := sqlite.StoresFromDB(db)
	return NewSweeper(stores.Messages, stores.Logs, stores.Settings), stores
}

func TestSweep_PurgesOldRows(t *testing.T) {
	sweeper, stores := sweeperFixture(t)
	ctx := context.Background()

	conv, err := stores.Conversations.EnsureByPhone(ctx, "+5511999999999", "")
	if err != nil {
		t.Fatal(err)
	}

	old := time.Now().UTC().AddDate(0, 0, -120)
	stores.Messages.Insert(ctx, &store.Message{ConversationID: conv.ID, Direction: store.DirectionInbound, Content: "velha", CreatedAt: old})
	stores.Messages.Insert(ctx, &store.Message{ConversationID: conv.ID, Direction: store.DirectionInbound, Content: "nova"})
	stores.Logs.Insert(ctx, &store.InteractionLog{ConversationID: conv.ID, AgentID: store.GenNewID(), Input: "velha", CreatedAt: old})
	stores.Logs.Insert(ctx, &store.InteractionLog{ConversationID: conv.ID, AgentID: store.GenNewID(), Input: "nova"})

	sweeper.Sweep(ctx)

	msgs, _ := stores.Messages.Recent(ctx, conv.ID, 10)
	if len(msgs) != 1 || msgs[0].Content != "nova" {
		t.Errorf("messages after sweep = %+v", msgs)
	}
	logs, _ := stores.Logs.ListByConversation(ctx, conv.ID, 10)
	if len(logs) != 1 || logs[0].Input != "nova" {
		t.Errorf("logs after sweep = %+v", logs)
	}
}

func TestSweep_RetentionFromSettings(t *testing.T) {
	sweeper, stores := sweeperFixture(t)
	ctx := context.Background()

	if err := stores.Settings.Set(ctx, "retention_days", "7"); err != nil {
		t.Fatal(err)
	}

	conv, _ := stores.Conversations.EnsureByPhone(ctx, "+5511999999999", "")
	tenDaysOld := time.Now().UTC().AddDate(0, 0, -10)
	stores.Messages.Insert(ctx, &store.Message{ConversationID: conv.ID, Direction: store.DirectionInbound, Content: "dez dias", CreatedAt: tenDaysOld})

	sweeper.Sweep(ctx)

	msgs, _ := stores.Messages.Recent(ctx, conv.ID, 10)
	if len(msgs) != 0 {
		t.Errorf("10-day-old message survived a 7-day policy: %+v", msgs)
	}
}

func TestRetentionDays_IgnoresGarbage(t *testing.T) {
	sweeper, stores := sweeperFixture(t)
	ctx := context.Background()

	for _, bad := range []string{"zero", "-5", "0", ""} {
		stores.Settings.Set(ctx, "retention_days", bad)
		if got := sweeper.retentionDays(ctx); got != defaultRetentionDays {
			t.Errorf("retentionDays with %q = %d, want default %d", bad, got, defaultRetentionDays)
		}
	}
}

func TestSchedule_InvalidCronFallsBack(t *testing.T) {
	sweeper, stores := sweeperFixture(t)
	ctx := context.Background()

	stores.Settings.Set(ctx, "retention_schedule", "not a cron")
	if got := sweeper.schedule(ctx); got != defaultSchedule {
		t.Errorf("schedule = %q, want the default", got)
	}

	stores.Settings.Set(ctx, "retention_schedule", "*/10 * * * *")
	if got := sweeper.schedule(ctx); got != "*/10 * * * *" {
		t.Errorf("schedule = %q, want the configured cron", got)
	}
}

package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bill-relay-go/internal/config"
	"bill-relay-go/internal/metrics"
	"bill-relay-go/internal/model"
	"bill-relay-go/internal/pipeline"
	"bill-relay-go/internal/repository"
)

// Prometheus metrics register once per process.
var testMetrics = metrics.NewMetrics()

func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()

	dsn := fmt.Sprintf("file:scheduler_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.MailAccount{},
		&model.ForwardRule{},
		&model.ForwardingActivity{},
		&model.PendingChatMessage{},
		&model.Bill{},
		&model.DebugLog{},
	))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	providerFunc := func(ctx context.Context, account *model.MailAccount) (pipeline.Provider, error) {
		return nil, fmt.Errorf("no provider in tests")
	}
	cfg := &config.Config{Backfill: config.BackfillConfig{MaxDays: 30, MaxMessages: 500}}
	return pipeline.New(repository.New(db), providerFunc, nil, nil, testMetrics, cfg)
}

func TestSchedulerRestart(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 59}
	sched := NewScheduler(cfg, testPipeline(t))

	if err := sched.Start(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Fatalf("scheduler should be running after Start")
	}
	if err := sched.Start(); err == nil {
		t.Fatalf("second Start while running should fail")
	}
	if err := sched.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if sched.IsRunning() {
		t.Fatalf("scheduler should not be running after Stop")
	}
	if err := sched.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Fatalf("scheduler should be running after restart")
	}
	// context should be active again after the restart
	if sched.ctx == nil || sched.ctx.Err() != nil {
		t.Fatalf("scheduler context should be active after restart")
	}
	sched.Stop()
}

func TestRunOnceWithEmptyDatabase(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 59}
	sched := NewScheduler(cfg, testPipeline(t))

	// No accounts, no rules: a manual run completes with zero work done.
	result := sched.RunOnce(context.Background())
	if result.AccountsChecked != 0 || result.EmailsProcessed != 0 {
		t.Fatalf("expected empty sweep result, got %+v", result)
	}
}

func TestStartAcceptsHourPlusIntervals(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 90}
	sched := NewScheduler(cfg, testPipeline(t))

	if err := sched.Start(); err != nil {
		t.Fatalf("start with 90-minute interval failed: %v", err)
	}
	defer sched.Stop()

	next := sched.GetNextRun()
	if next.IsZero() {
		t.Fatalf("next run should be scheduled")
	}
	if until := time.Until(next); until < 89*time.Minute || until > 91*time.Minute {
		t.Fatalf("next run should be about 90 minutes out, got %v", until)
	}
}

func TestNextRunAfterStart(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 59}
	sched := NewScheduler(cfg, testPipeline(t))

	if !sched.GetNextRun().IsZero() {
		t.Fatalf("next run should be zero before Start")
	}
	require.NoError(t, sched.Start())
	defer sched.Stop()

	if sched.GetNextRun().IsZero() {
		t.Fatalf("next run should be scheduled after Start")
	}
}

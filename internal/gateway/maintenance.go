package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// maintenanceJobTimeout bounds a single flush or eviction run.
const maintenanceJobTimeout = time.Minute

// maintenance runs the periodic housekeeping jobs on a cron schedule.
type maintenance struct {
	cfg    Config
	cron   *cron.Cron
	logger *slog.Logger
	jobs   []string
}

func newMaintenance(cfg Config, logger *slog.Logger) (*maintenance, error) {
	cl := cronLogger{logger: logger.With("component", "maintenance")}
	m := &maintenance{
		cfg:    cfg,
		logger: cl.logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
	}

	type job struct {
		name     string
		schedule string
		enabled  bool
		run      func()
	}
	jobs := []job{
		{"lane_cleanup", cfg.Maintenance.LaneCleanupSchedule, cfg.Lanes != nil, m.cleanupLanes},
		{"session_flush", cfg.Sessions.FlushSchedule, cfg.Sessions.WriteBehind, m.flushSessions},
		{"session_evict", cfg.Maintenance.SessionEvictSchedule, cfg.Sessions.CacheIdleTTL > 0, m.evictSessions},
		{"memory_rotate", cfg.Maintenance.MemoryRotateSchedule, cfg.MemoryLog != nil && cfg.MemoryRetentionDays > 0, m.rotateMemory},
	}
	for _, j := range jobs {
		if !j.enabled || j.schedule == "" {
			continue
		}
		if _, err := m.cron.AddFunc(j.schedule, j.run); err != nil {
			return nil, fmt.Errorf("maintenance %s schedule %q: %w", j.name, j.schedule, err)
		}
		m.jobs = append(m.jobs, j.name)
	}
	return m, nil
}

func (m *maintenance) start() {
	if len(m.jobs) == 0 {
		return
	}
	m.cron.Start()
	m.logger.Info("maintenance scheduled", "jobs", m.jobs)
}

// stop halts the schedule and waits for running jobs until ctx ends.
func (m *maintenance) stop(ctx context.Context) error {
	done := m.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("maintenance jobs still running: %w", ctx.Err())
	}
}

func (m *maintenance) cleanupLanes() {
	if removed := m.cfg.Lanes.CleanupIdleLanes(); removed > 0 {
		m.logger.Debug("idle lanes removed", "count", removed)
	}
}

func (m *maintenance) flushSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceJobTimeout)
	defer cancel()
	saved, err := m.cfg.Runtime.FlushSessions(ctx)
	if err != nil {
		m.logger.Warn("session flush incomplete", "saved", saved, "error", err)
		return
	}
	if saved > 0 {
		m.logger.Debug("sessions flushed", "count", saved)
	}
}

func (m *maintenance) evictSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceJobTimeout)
	defer cancel()
	if evicted := m.cfg.Runtime.EvictIdleSessions(ctx, m.cfg.Sessions.CacheIdleTTL); evicted > 0 {
		m.logger.Debug("idle sessions evicted", "count", evicted)
	}
}

func (m *maintenance) rotateMemory() {
	removed, err := m.cfg.MemoryLog.Rotate(m.cfg.MemoryRetentionDays)
	if err != nil {
		m.logger.Warn("memory log rotation failed", "error", err)
		return
	}
	if removed > 0 {
		m.logger.Info("old memory logs removed", "count", removed)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Package retention purges expired audit rows: provider health logs and
// conversation logs. Conversation logs can be archived to gzipped JSONL
// files first; when archiving fails nothing is deleted.
package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/internal/config"
	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// MinInterval is the shortest allowed sweep interval.
const MinInterval = time.Minute

// LogStore is the part of the store the janitor needs.
type LogStore interface {
	ListConversationLogs(ctx context.Context, filter store.LogFilter) ([]models.ConversationLog, error)
	PurgeConversationLogs(ctx context.Context, before time.Time) (int64, error)
	PurgeHealthLogs(ctx context.Context, before time.Time) (int64, error)
}

// Archiver stores conversation logs before they are purged and returns
// where they went.
type Archiver interface {
	ArchiveConversationLogs(ctx context.Context, rows []models.ConversationLog) (string, error)
}

// CycleStats reports one sweep.
type CycleStats struct {
	HealthLogsPurged       int64
	ConversationLogsPurged int64
	Archived               int
	ArchivePath            string
}

// Janitor periodically deletes expired rows.
type Janitor struct {
	store    LogStore
	archiver Archiver
	cfg      config.RetentionConfig
	now      func() time.Time
}

// NewJanitor creates a janitor. A nil archiver purges without archiving.
func NewJanitor(s LogStore, cfg config.RetentionConfig, archiver Archiver) *Janitor {
	if cfg.Interval < MinInterval {
		cfg.Interval = time.Hour
	}
	return &Janitor{store: s, archiver: archiver, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source used to compute cutoffs.
func (j *Janitor) WithClock(now func() time.Time) *Janitor {
	j.now = now
	return j
}

// Start sweeps once, then on every interval until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.cfg.Interval).
		Int("health_log_days", j.cfg.HealthLogDays).
		Int("conversation_log_days", j.cfg.ConversationLogDays).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("Retention cycle failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep. Both kinds are attempted; the errors are
// joined.
func (j *Janitor) RunOnce(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	var errs []error
	now := j.now().UTC()

	if j.cfg.HealthLogDays > 0 {
		n, err := j.store.PurgeHealthLogs(ctx, now.AddDate(0, 0, -j.cfg.HealthLogDays))
		if err != nil {
			errs = append(errs, fmt.Errorf("purge health logs: %w", err))
		}
		stats.HealthLogsPurged = n
	}

	if j.cfg.ConversationLogDays > 0 {
		if err := j.sweepConversationLogs(ctx, now.AddDate(0, 0, -j.cfg.ConversationLogDays), &stats); err != nil {
			errs = append(errs, err)
		}
	}

	if stats.HealthLogsPurged > 0 || stats.ConversationLogsPurged > 0 {
		log.Info().
			Int64("health_logs", stats.HealthLogsPurged).
			Int64("conversation_logs", stats.ConversationLogsPurged).
			Int("archived", stats.Archived).
			Str("archive", stats.ArchivePath).
			Msg("Retention cycle complete")
	}
	return stats, errors.Join(errs...)
}

func (j *Janitor) sweepConversationLogs(ctx context.Context, cutoff time.Time, stats *CycleStats) error {
	if j.archiver != nil {
		// LogFilter.Until is inclusive; purge is strictly before the cutoff.
		until := cutoff.Add(-time.Nanosecond)
		rows, err := j.store.ListConversationLogs(ctx, store.LogFilter{Until: &until})
		if err != nil {
			return fmt.Errorf("list expired conversation logs: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		path, err := j.archiver.ArchiveConversationLogs(ctx, rows)
		if err != nil {
			return fmt.Errorf("archive conversation logs, nothing purged: %w", err)
		}
		stats.Archived = len(rows)
		stats.ArchivePath = path
	}

	n, err := j.store.PurgeConversationLogs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge conversation logs: %w", err)
	}
	stats.ConversationLogsPurged = n
	return nil
}

// ── Local file archiver ─────────────────────────────────────

// FileArchiver writes conversation logs as gzipped JSONL:
//
//	{dir}/conversation_logs/2026-03-15T10-00-00Z.jsonl.gz
type FileArchiver struct {
	dir string
	now func() time.Time
}

func NewFileArchiver(dir string) *FileArchiver {
	return &FileArchiver{dir: dir, now: time.Now}
}

func (a *FileArchiver) ArchiveConversationLogs(_ context.Context, rows []models.ConversationLog) (_ string, err error) {
	dir := filepath.Join(a.dir, "conversation_logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(dir, a.now().UTC().Format("2006-01-02T15-04-05Z")+".jsonl.gz")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	gw := gzip.NewWriter(f)
	enc := json.NewEncoder(gw)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return "", fmt.Errorf("encode conversation log %d: %w", r.ID, err)
		}
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("flush archive: %w", err)
	}

	log.Debug().Str("path", path).Int("count", len(rows)).Msg("Archived conversation logs")
	return path, nil
}

package audit

import (
	"context"
	"fmt"
	"time"
)

// sweepBatchSize is how many events are fetched per page while
// collecting the archive batch.
const sweepBatchSize = 1000

// Sweeper enforces the audit retention policy: events older than the
// retention window are optionally archived to object storage and then
// purged from the database. A sweep never purges events it failed to
// archive.
type Sweeper struct {
	logger   *DBLogger
	archiver Archiver
	policy   RetentionPolicy
}

// SweepResult summarizes a single retention sweep
type SweepResult struct {
	Cutoff     time.Time `json:"cutoff"`
	Archived   int       `json:"archived"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	Purged     int64     `json:"purged"`
}

// NewSweeper creates a retention sweeper. The archiver may be nil when
// the policy has archiving disabled.
func NewSweeper(logger *DBLogger, archiver Archiver, policy RetentionPolicy) (*Sweeper, error) {
	if logger == nil {
		return nil, fmt.Errorf("db logger is required")
	}
	if policy.RetentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", policy.RetentionDays)
	}
	if policy.ArchiveEnabled && archiver == nil {
		return nil, fmt.Errorf("archiving is enabled but no archiver was provided")
	}

	return &Sweeper{
		logger:   logger,
		archiver: archiver,
		policy:   policy,
	}, nil
}

// Sweep archives and purges events older than the retention window,
// then records the sweep itself in the audit trail.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	cutoff := time.Now().AddDate(0, 0, -s.policy.RetentionDays)
	result := &SweepResult{Cutoff: cutoff}

	if s.policy.ArchiveEnabled {
		events, err := s.collectExpired(ctx, cutoff)
		if err != nil {
			return nil, fmt.Errorf("failed to collect expired events: %w", err)
		}

		if len(events) > 0 {
			key, err := s.archiver.Archive(ctx, events, cutoff)
			if err != nil {
				// Leave the rows in place; the next sweep retries them
				return nil, fmt.Errorf("failed to archive expired events: %w", err)
			}
			result.Archived = len(events)
			result.ArchiveKey = key
		}
	}

	purged, err := s.logger.Purge(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge expired events: %w", err)
	}
	result.Purged = purged

	s.recordSweep(ctx, result)

	return result, nil
}

// collectExpired pages through all events older than the cutoff
func (s *Sweeper) collectExpired(ctx context.Context, cutoff time.Time) ([]*Event, error) {
	var all []*Event
	offset := 0

	for {
		batch, err := s.logger.Search(ctx, SearchFilter{
			EndTime:   &cutoff,
			SortBy:    "timestamp",
			SortOrder: "asc",
			Limit:     sweepBatchSize,
			Offset:    offset,
		})
		if err != nil {
			return nil, err
		}

		all = append(all, batch...)
		if len(batch) < sweepBatchSize {
			break
		}
		offset += sweepBatchSize
	}

	return all, nil
}

// recordSweep writes the sweep outcome to the audit trail. Failures are
// ignored; the sweep already succeeded.
func (s *Sweeper) recordSweep(ctx context.Context, result *SweepResult) {
	event := NewOperatorEvent(ctx, EventTypeRetentionPurge, nil, ResultSuccess,
		fmt.Sprintf("purged %d events older than %s", result.Purged, result.Cutoff.Format(time.RFC3339)))
	event.Details = map[string]interface{}{
		"cutoff":   result.Cutoff.Format(time.RFC3339),
		"archived": result.Archived,
		"purged":   result.Purged,
	}
	if result.ArchiveKey != "" {
		event.Details["archive_key"] = result.ArchiveKey
	}

	_ = s.logger.Log(ctx, event)
}

package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/metrics"
	"admission-control/internal/storage"

	"golang.org/x/sync/errgroup"
)

// RetentionWindow é a idade a partir da qual timestamps e registros são removidos
const RetentionWindow = domain.MaxRateWindow

const defaultSweepConcurrency = 8

// RetentionSweeper remove entradas expiradas de todos os caminhos do core.
// Usa o mesmo predicado exclusivo do limitador (mantém ts > cutoff), então
// pode rodar em paralelo com verificações ao vivo.
type RetentionSweeper struct {
	store       domain.KeyValueStore
	logger      domain.Logger
	metrics     *metrics.Metrics
	now         domain.Clock
	concurrency int
}

// NewRetentionSweeper cria uma nova instância do sweeper
func NewRetentionSweeper(store domain.KeyValueStore, logger domain.Logger, m *metrics.Metrics, clock domain.Clock) *RetentionSweeper {
	return &RetentionSweeper{
		store:       store,
		logger:      logger,
		metrics:     m,
		now:         systemClock(clock),
		concurrency: defaultSweepConcurrency,
	}
}

// Sweep executa uma passada completa sobre janelas, atividades e marcadores
func (s *RetentionSweeper) Sweep(ctx context.Context) (*domain.SweepReport, error) {
	now := s.now()
	cutoff := now.Add(-RetentionWindow).UnixMilli()
	report := &domain.SweepReport{}
	var mu sync.Mutex

	rateEntries, err := s.store.Scan(ctx, storage.RateLimitsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rate windows: %w", err)
	}
	activities, err := s.store.Scan(ctx, storage.SuspiciousPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan suspicious activity: %w", err)
	}
	markers, err := s.store.Scan(ctx, storage.MonitoringPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan monitoring markers: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	report.RateEntriesScanned = len(rateEntries)
	for path := range rateEntries {
		path := path
		g.Go(func() error {
			removed, deleted, err := s.pruneWindow(gctx, path, cutoff)
			if err != nil {
				return err
			}
			mu.Lock()
			report.TimestampsRemoved += removed
			if deleted {
				report.RateEntriesDeleted++
			}
			mu.Unlock()
			return nil
		})
	}

	for path, raw := range activities {
		record, err := decodeValue[domain.SuspiciousActivityRecord](path, raw)
		if err != nil || record.Timestamp > cutoff {
			continue
		}
		path := path
		g.Go(func() error {
			if err := s.store.Delete(gctx, path); err != nil {
				return fmt.Errorf("failed to delete %s: %w", path, err)
			}
			mu.Lock()
			report.ActivitiesRemoved++
			mu.Unlock()
			return nil
		})
	}

	for path := range markers {
		path := path
		g.Go(func() error {
			removed, err := s.expireMarker(gctx, path, now)
			if err != nil {
				return err
			}
			if removed {
				mu.Lock()
				report.MonitoringRemoved++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.metrics.ObserveStoreError("sweeper")
		return report, fmt.Errorf("retention sweep failed: %w", err)
	}

	s.metrics.ObserveSweepRemoved("rate_timestamps", report.TimestampsRemoved)
	s.metrics.ObserveSweepRemoved("rate_entries", report.RateEntriesDeleted)
	s.metrics.ObserveSweepRemoved("activities", report.ActivitiesRemoved)
	s.metrics.ObserveSweepRemoved("monitoring", report.MonitoringRemoved)

	s.logger.Info("Retention sweep completed", map[string]interface{}{
		"rate_entries_scanned": report.RateEntriesScanned,
		"timestamps_removed":   report.TimestampsRemoved,
		"rate_entries_deleted": report.RateEntriesDeleted,
		"activities_removed":   report.ActivitiesRemoved,
		"monitoring_removed":   report.MonitoringRemoved,
	})
	return report, nil
}

// SweepQuotaBuckets remove buckets cujo período terminou há mais de retention.
// retention <= 0 desativa a remoção.
func (s *RetentionSweeper) SweepQuotaBuckets(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}

	buckets, err := s.store.Scan(ctx, storage.TokenUsagePrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to scan quota buckets: %w", err)
	}

	horizon := s.now().Add(-retention)
	removed := 0
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for path := range buckets {
		period, start, ok := storage.ParseQuotaBucketPath(path)
		if !ok {
			continue
		}
		var end time.Time
		switch period {
		case domain.PeriodHourly:
			end = start.Add(time.Hour)
		case domain.PeriodDaily:
			end = start.AddDate(0, 0, 1)
		default:
			continue
		}
		if !end.Before(horizon) {
			continue
		}
		path := path
		g.Go(func() error {
			if err := s.store.Delete(gctx, path); err != nil {
				return fmt.Errorf("failed to delete %s: %w", path, err)
			}
			mu.Lock()
			removed++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.metrics.ObserveStoreError("sweeper")
		return removed, fmt.Errorf("quota bucket sweep failed: %w", err)
	}

	s.metrics.ObserveSweepRemoved("quota_buckets", removed)
	if removed > 0 {
		s.logger.Info("Quota buckets removed", map[string]interface{}{
			"removed":   removed,
			"retention": retention.String(),
		})
	}
	return removed, nil
}

// Run executa Sweep (e SweepQuotaBuckets) a cada interval até ctx ser cancelado
func (s *RetentionSweeper) Run(ctx context.Context, interval, quotaRetention time.Duration) {
	if interval <= 0 {
		s.logger.Info("Retention sweeper disabled", nil)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Retention sweep failed", err, nil)
			}
			if _, err := s.SweepQuotaBuckets(ctx, quotaRetention); err != nil {
				s.logger.Error("Quota bucket sweep failed", err, nil)
			}
		}
	}
}

// pruneWindow remove timestamps expirados de uma janela; janela vazia é apagada
func (s *RetentionSweeper) pruneWindow(ctx context.Context, path string, cutoff int64) (int, bool, error) {
	removed, deleted := 0, false
	_, err := s.store.Update(ctx, path, func(current []byte) ([]byte, error) {
		removed, deleted = 0, false
		if current == nil {
			return nil, nil
		}
		entry, err := decodeValue[domain.RateWindowEntry](path, current)
		if err != nil {
			return nil, err
		}
		kept := keepNewer(entry.Timestamps, cutoff)
		removed = len(entry.Timestamps) - len(kept)
		if len(kept) == 0 {
			deleted = true
			return nil, nil
		}
		if removed == 0 {
			return current, nil
		}
		return encodeValue(path, domain.RateWindowEntry{Timestamps: kept})
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to prune %s: %w", path, err)
	}
	return removed, deleted, nil
}

// expireMarker apaga o marcador se ainda estiver expirado sob o lock do caminho
func (s *RetentionSweeper) expireMarker(ctx context.Context, path string, now time.Time) (bool, error) {
	// Marcadores ficam em um único segmento abaixo do prefixo
	if strings.Contains(strings.TrimPrefix(path, storage.MonitoringPrefix), "/") {
		return false, nil
	}

	removed := false
	_, err := s.store.Update(ctx, path, func(current []byte) ([]byte, error) {
		removed = false
		if current == nil {
			return nil, nil
		}
		entry, err := decodeValue[domain.MonitoringEntry](path, current)
		if err != nil {
			return nil, err
		}
		if entry.Active(now) {
			return current, nil
		}
		removed = true
		return nil, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to expire %s: %w", path, err)
	}
	return removed, nil
}
